package config

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// BufferChanged is set when editor.buffer_seconds changed. Open editors
	// recompute their output times with NewBuffer.
	BufferChanged bool
	NewBuffer     float64

	// TakesChanged is set when the classifier or its tuning changed. Newly
	// opened projects pick up the new classifier.
	TakesChanged bool

	// CollabChanged is set when the per-peer rate limit changed.
	CollabChanged bool
}

// Empty reports whether d carries no changes.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.BufferChanged && !d.TakesChanged && !d.CollabChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Editor.BufferSeconds != new.Editor.BufferSeconds {
		d.BufferChanged = true
		d.NewBuffer = new.Editor.BufferSeconds
	}

	if old.Takes != new.Takes {
		d.TakesChanged = true
	}

	if old.Collab != new.Collab {
		d.CollabChanged = true
	}

	return d
}
