package config_test

import (
	"testing"

	"github.com/MrWong99/wordcut/internal/config"
)

func baseConfig() *config.Config {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	return cfg
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	if d := config.Diff(baseConfig(), baseConfig()); !d.Empty() {
		t.Errorf("diff of equal configs = %+v", d)
	}
}

func TestDiff_Fields(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(config.ConfigDiff) bool
	}{
		{
			name:   "log level",
			mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug },
			check:  func(d config.ConfigDiff) bool { return d.LogLevelChanged && d.NewLogLevel == config.LogDebug },
		},
		{
			name:   "buffer",
			mutate: func(c *config.Config) { c.Editor.BufferSeconds = 0.1 },
			check:  func(d config.ConfigDiff) bool { return d.BufferChanged && d.NewBuffer == 0.1 },
		},
		{
			name:   "takes",
			mutate: func(c *config.Config) { c.Takes.Threshold = 0.5 },
			check:  func(d config.ConfigDiff) bool { return d.TakesChanged && !d.BufferChanged },
		},
		{
			name:   "collab",
			mutate: func(c *config.Config) { c.Collab.Burst = 1 },
			check:  func(d config.ConfigDiff) bool { return d.CollabChanged },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			updated := baseConfig()
			tt.mutate(updated)
			d := config.Diff(baseConfig(), updated)
			if !tt.check(d) || d.Empty() {
				t.Errorf("diff = %+v", d)
			}
		})
	}
}

func TestDiff_IgnoresRestartOnlyFields(t *testing.T) {
	t.Parallel()
	updated := baseConfig()
	updated.Server.ListenAddr = ":1"
	updated.Store.PostgresDSN = "postgres://elsewhere"
	if d := config.Diff(baseConfig(), updated); !d.Empty() {
		t.Errorf("restart-only change produced diff %+v", d)
	}
}
