package workspace

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultAutosaveInterval is used when no interval is configured.
const defaultAutosaveInterval = 30 * time.Second

// Autosaver periodically writes dirty sessions of a [Manager] to the store,
// so a crash loses at most one interval of edits.
type Autosaver struct {
	m        *Manager
	interval time.Duration

	done     chan struct{}
	stopOnce sync.Once
}

// NewAutosaver creates an Autosaver for m. A non-positive interval selects
// the default of 30 seconds.
func NewAutosaver(m *Manager, interval time.Duration) *Autosaver {
	if interval <= 0 {
		interval = defaultAutosaveInterval
	}
	return &Autosaver{m: m, interval: interval, done: make(chan struct{})}
}

// Run saves dirty sessions every interval until ctx is cancelled or Stop is
// called. It blocks; start it on its own goroutine.
func (a *Autosaver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-a.done:
			return nil
		case <-ticker.C:
			if err := a.m.SaveDirty(ctx); err != nil {
				slog.Warn("workspace: periodic save incomplete", "err", err)
			}
		}
	}
}

// Stop halts the loop. Safe to call multiple times.
func (a *Autosaver) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
}
