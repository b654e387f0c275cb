// Package workspace keeps the set of projects that are open for editing.
//
// A [Manager] loads projects from a [store.Store] into [editor.Editor]
// instances, hands the same [Session] to every surface (HTTP, collaboration,
// MCP) that asks for a project, and writes sessions back to the store on
// Save, Close and autosave.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/wordcut/internal/clipboard"
	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/ingest"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/internal/store"
	"github.com/MrWong99/wordcut/internal/takes"
)

// ErrNotOpen is returned when an operation needs an open session that does
// not exist.
var ErrNotOpen = errors.New("workspace: project is not open")

// Session is one open project.
type Session struct {
	ID          string
	Name        string
	MediaSource string
	CreatedAt   time.Time

	Editor *editor.Editor
	Board  *clipboard.Board

	mu           sync.Mutex
	savedVersion uint64
}

// Dirty reports whether the editor has commits that were not saved yet.
func (s *Session) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Editor.Snapshot().Version != s.savedVersion
}

// project captures the session as a storable project.
func (s *Session) project() *store.Project {
	snap, classification := s.Editor.State()
	return &store.Project{
		ID:             s.ID,
		Name:           s.Name,
		MediaSource:    s.MediaSource,
		Transcription:  snap.Transcription,
		Classification: classification,
		ActiveTakes:    snap.Takes.ActiveTakes(),
		Version:        snap.Version,
		CreatedAt:      s.CreatedAt,
	}
}

// CreateRequest describes a new project built from raw recogniser output.
type CreateRequest struct {
	Name          string
	MediaSource   string
	Raw           ingest.Raw
	TotalDuration float64
}

// Config holds the dependencies of a [Manager].
type Config struct {
	// Store persists projects. Required.
	Store store.Store

	// Classifier detects take groups. Nil disables detection.
	Classifier takes.Classifier

	// ClassifyOnOpen runs Classifier on every newly created project.
	ClassifyOnOpen bool

	// Buffer and HistoryLimit are passed to every editor.
	Buffer       float64
	HistoryLimit int

	// Clipboard configures the per-session clipboard.
	Clipboard []clipboard.Option

	Metrics *observe.Metrics
}

// Manager owns the open sessions. All exported methods are safe for
// concurrent use.
type Manager struct {
	store        store.Store
	historyLimit int
	clipOpts     []clipboard.Option
	metrics      *observe.Metrics

	mu             sync.Mutex
	sessions       map[string]*Session
	buffer         float64
	classifier     takes.Classifier
	classifyOnOpen bool
}

// New creates a Manager with the given dependencies.
func New(cfg Config) *Manager {
	m := &Manager{
		store:          cfg.Store,
		historyLimit:   cfg.HistoryLimit,
		clipOpts:       cfg.Clipboard,
		metrics:        cfg.Metrics,
		sessions:       make(map[string]*Session),
		buffer:         cfg.Buffer,
		classifier:     cfg.Classifier,
		classifyOnOpen: cfg.ClassifyOnOpen,
	}
	if m.metrics == nil {
		m.metrics = observe.DefaultMetrics()
	}
	return m
}

// Create ingests req, persists the result as a new project and opens it.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	t, err := ingest.Transcript(req.Raw, req.TotalDuration)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	buffer, classifier, onOpen := m.buffer, m.classifier, m.classifyOnOpen
	m.mu.Unlock()

	ed, err := editor.New(t, m.editorOptions(buffer)...)
	if err != nil {
		return nil, fmt.Errorf("workspace: create: %w", err)
	}
	if onOpen && classifier != nil {
		if _, err := ed.Classify(ctx, classifier); err != nil {
			slog.Warn("workspace: take classification failed", "name", req.Name, "err", err)
		}
	}

	s := &Session{
		ID:          uuid.NewString(),
		Name:        req.Name,
		MediaSource: req.MediaSource,
		Editor:      ed,
		Board:       clipboard.New(m.clipOpts...),
	}
	p := s.project()
	if err := m.store.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("workspace: create: %w", err)
	}
	s.CreatedAt = p.CreatedAt
	s.savedVersion = p.Version

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()
	m.metrics.OpenEditors.Add(ctx, 1)

	slog.Info("workspace: project created", "project_id", s.ID, "name", s.Name, "words", len(t.Words))
	return s, nil
}

// Open returns the open session for id, loading it from the store if needed.
func (m *Manager) Open(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	if s, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return s, nil
	}
	buffer := m.buffer
	m.mu.Unlock()

	p, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	opts := append(m.editorOptions(buffer),
		editor.WithClassification(p.Classification),
		editor.WithActiveTakes(p.ActiveTakes),
		editor.WithVersion(p.Version),
	)
	ed, err := editor.New(p.Transcription, opts...)
	if err != nil {
		return nil, fmt.Errorf("workspace: open %q: %w", id, err)
	}
	s := &Session{
		ID:           p.ID,
		Name:         p.Name,
		MediaSource:  p.MediaSource,
		CreatedAt:    p.CreatedAt,
		Editor:       ed,
		Board:        clipboard.New(m.clipOpts...),
		savedVersion: ed.Snapshot().Version,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// Another caller may have opened it while we were loading.
	if existing, ok := m.sessions[id]; ok {
		return existing, nil
	}
	m.sessions[id] = s
	m.metrics.OpenEditors.Add(ctx, 1)
	slog.Info("workspace: project opened", "project_id", id)
	return s, nil
}

func (m *Manager) editorOptions(buffer float64) []editor.Option {
	return []editor.Option{
		editor.WithBuffer(buffer),
		editor.WithHistoryLimit(m.historyLimit),
		editor.WithMetrics(m.metrics),
	}
}

// Lookup returns an already open session.
func (m *Manager) Lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Save writes the open session id to the store.
func (m *Manager) Save(ctx context.Context, id string) error {
	s, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotOpen, id)
	}
	return m.save(ctx, s)
}

func (m *Manager) save(ctx context.Context, s *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.project()
	if err := m.store.Save(ctx, p); err != nil {
		return fmt.Errorf("workspace: save %q: %w", s.ID, err)
	}
	s.savedVersion = p.Version
	return nil
}

// SaveDirty saves every open session with unsaved changes. Failures are
// logged and joined; remaining sessions are still saved.
func (m *Manager) SaveDirty(ctx context.Context) error {
	var errs []error
	for _, s := range m.Sessions() {
		if !s.Dirty() {
			continue
		}
		if err := m.save(ctx, s); err != nil {
			slog.Warn("workspace: autosave failed", "project_id", s.ID, "err", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close saves the session id and drops it from the workspace.
func (m *Manager) Close(ctx context.Context, id string) error {
	s, ok := m.Lookup(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrNotOpen, id)
	}
	if err := m.save(ctx, s); err != nil {
		return err
	}
	m.forget(ctx, id)
	slog.Info("workspace: project closed", "project_id", id)
	return nil
}

// Delete removes the project from the store and closes it without saving.
func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.Delete(ctx, id); err != nil {
		return err
	}
	m.forget(ctx, id)
	slog.Info("workspace: project deleted", "project_id", id)
	return nil
}

func (m *Manager) forget(ctx context.Context, id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		m.metrics.OpenEditors.Add(ctx, -1)
	}
}

// List returns summaries of every stored project.
func (m *Manager) List(ctx context.Context) ([]store.Summary, error) {
	return m.store.List(ctx)
}

// Sessions returns the open sessions in no particular order.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Classifier returns the current take classifier, which may be nil.
func (m *Manager) Classifier() takes.Classifier {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.classifier
}

// SetClassifier replaces the take classifier used for new projects and
// explicit reclassification.
func (m *Manager) SetClassifier(c takes.Classifier, onOpen bool) {
	m.mu.Lock()
	m.classifier, m.classifyOnOpen = c, onOpen
	m.mu.Unlock()
}

// SetBuffer changes the output-time buffer for new and open editors.
func (m *Manager) SetBuffer(ctx context.Context, seconds float64) {
	m.mu.Lock()
	m.buffer = seconds
	m.mu.Unlock()
	for _, s := range m.Sessions() {
		s.Editor.SetBuffer(ctx, seconds)
	}
}

// Shutdown saves and closes every open session. It keeps going after a
// failure and returns all errors joined.
func (m *Manager) Shutdown(ctx context.Context) error {
	var errs []error
	for _, s := range m.Sessions() {
		if err := m.save(ctx, s); err != nil {
			errs = append(errs, err)
			continue
		}
		m.forget(ctx, s.ID)
	}
	return errors.Join(errs...)
}
