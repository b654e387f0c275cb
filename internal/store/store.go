// Package store persists editing projects.
//
// A [Project] holds the committed transcript together with the take
// classification and the active take of every group, so an editor can be
// reopened exactly as it was left. Take tags on words are derived data and
// are never stored.
package store

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

var (
	// ErrNotFound is returned when no project has the requested ID.
	ErrNotFound = errors.New("store: project not found")

	// ErrExists is returned by Create when the ID is already taken.
	ErrExists = errors.New("store: project already exists")

	// ErrInvalidProject is returned when a project fails validation.
	ErrInvalidProject = errors.New("store: invalid project")
)

// Project is a persisted editing session.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	// MediaSource names the recording the transcript belongs to. It is
	// written into exported EDLs.
	MediaSource string `json:"mediaSource,omitempty"`

	Transcription  transcript.Transcription `json:"transcription"`
	Classification []takes.Anchored         `json:"classification,omitempty"`
	ActiveTakes    map[int]int              `json:"activeTakes,omitempty"`

	// Version is the editor version the project was saved at.
	Version uint64 `json:"version"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Validate checks the project before it is persisted.
func (p *Project) Validate() error {
	var errs []error
	if p.ID == "" {
		errs = append(errs, errors.New("id must not be empty"))
	}
	if p.Name == "" {
		errs = append(errs, errors.New("name must not be empty"))
	}
	if err := p.Transcription.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidProject, err)
	}
	return nil
}

// Clone returns a deep copy of p with take tags stripped from its words.
func (p *Project) Clone() *Project {
	c := *p
	c.Transcription = p.Transcription.StripDerived()
	c.Classification = make([]takes.Anchored, len(p.Classification))
	for i, a := range p.Classification {
		c.Classification[i] = takes.Anchored{Takes: slices.Clone(a.Takes)}
	}
	c.ActiveTakes = maps.Clone(p.ActiveTakes)
	return &c
}

// Summary is the listing view of a project.
type Summary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	WordCount int       `json:"wordCount"`
	Version   uint64    `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store provides CRUD operations for projects.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts a new project. Returns [ErrExists] if the ID is taken.
	Create(ctx context.Context, p *Project) error

	// Get retrieves a project by ID. Returns [ErrNotFound] if it does not exist.
	Get(ctx context.Context, id string) (*Project, error)

	// Save creates or replaces a project.
	Save(ctx context.Context, p *Project) error

	// Delete removes a project. Returns [ErrNotFound] if it does not exist.
	Delete(ctx context.Context, id string) error

	// List returns summaries of all projects, most recently updated first.
	List(ctx context.Context) ([]Summary, error)
}
