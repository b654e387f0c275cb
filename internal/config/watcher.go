package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollEvery = 5 * time.Second

// revision is one validated read of the config file.
type revision struct {
	cfg *Config
	mod time.Time
	sum [sha256.Size]byte
}

// loadRevision reads, hashes and validates the file at path.
func loadRevision(path string) (revision, error) {
	info, err := os.Stat(path)
	if err != nil {
		return revision{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return revision{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return revision{}, err
	}
	return revision{cfg: cfg, mod: info.ModTime(), sum: sha256.Sum256(data)}, nil
}

// Watcher keeps the latest valid revision of a config file. A file that fails
// to load or validate leaves the last good revision in place.
type Watcher struct {
	path   string
	every  time.Duration
	notify func(old, new *Config)

	mu   sync.Mutex
	rev  revision
	quit chan struct{}
	once sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is polled. Non-positive values keep
// the default of 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.every = d
		}
	}
}

// NewWatcher requires path to hold a valid config, then polls it until Stop.
// notify runs on the polling goroutine with the replaced and the new config;
// it may be nil.
func NewWatcher(path string, notify func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{path: path, every: defaultPollEvery, notify: notify, quit: make(chan struct{})}
	for _, opt := range opts {
		opt(w)
	}
	rev, err := loadRevision(path)
	if err != nil {
		return nil, fmt.Errorf("config: load %s: %w", path, err)
	}
	w.rev = rev
	go w.poll()
	return w, nil
}

// Current returns the config of the latest valid revision.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rev.cfg
}

// Stop ends polling. Repeated calls are no-ops.
func (w *Watcher) Stop() {
	w.once.Do(func() { close(w.quit) })
}

func (w *Watcher) poll() {
	tick := time.NewTicker(w.every)
	defer tick.Stop()
	for {
		select {
		case <-w.quit:
			return
		case <-tick.C:
			if old, cfg, ok := w.refresh(); ok && w.notify != nil {
				w.notify(old, cfg)
			}
		}
	}
}

// refresh reloads the file when its mtime moved. ok is set only when the
// content hash differs from the current revision.
func (w *Watcher) refresh() (old, cfg *Config, ok bool) {
	info, err := os.Stat(w.path)
	if err != nil {
		slog.Warn("config: stat failed", "path", w.path, "err", err)
		return nil, nil, false
	}
	w.mu.Lock()
	seen := w.rev.mod
	w.mu.Unlock()
	if info.ModTime().Equal(seen) {
		return nil, nil, false
	}

	next, err := loadRevision(w.path)
	if err != nil {
		slog.Warn("config: reload rejected", "path", w.path, "err", err)
		return nil, nil, false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if next.sum == w.rev.sum {
		w.rev.mod = next.mod
		return nil, nil, false
	}
	old = w.rev.cfg
	w.rev = next
	slog.Info("config: reloaded", "path", w.path)
	return old, next.cfg, true
}
