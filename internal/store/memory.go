package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemStore is an in-process [Store]. Projects are lost on restart.
type MemStore struct {
	mu       sync.RWMutex
	projects map[string]*Project
	now      func() time.Time
}

var _ Store = (*MemStore)(nil)

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{projects: make(map[string]*Project), now: time.Now}
}

// Create implements [Store].
func (s *MemStore) Create(_ context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[p.ID]; ok {
		return fmt.Errorf("%w: %q", ErrExists, p.ID)
	}
	now := s.now()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = p.Clone()
	return nil
}

// Get implements [Store].
func (s *MemStore) Get(_ context.Context, id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return p.Clone(), nil
}

// Save implements [Store].
func (s *MemStore) Save(_ context.Context, p *Project) error {
	if err := p.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if prev, ok := s.projects[p.ID]; ok {
		p.CreatedAt = prev.CreatedAt
	} else {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.projects[p.ID] = p.Clone()
	return nil
}

// Delete implements [Store].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.projects[id]; !ok {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	delete(s.projects, id)
	return nil
}

// List implements [Store].
func (s *MemStore) List(_ context.Context) ([]Summary, error) {
	s.mu.RLock()
	out := make([]Summary, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, Summary{
			ID:        p.ID,
			Name:      p.Name,
			WordCount: len(p.Transcription.Words),
			Version:   p.Version,
			UpdatedAt: p.UpdatedAt,
		})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Ping always succeeds; the store lives in process memory.
func (s *MemStore) Ping(context.Context) error { return nil }
