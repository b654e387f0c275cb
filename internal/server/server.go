// Package server is the HTTP surface of wordcut.
//
// Routes are grouped per project under /projects/{id}. Every editing route
// goes through the project's [editor.Editor], so HTTP clients, collaboration
// peers and MCP tools all see the same committed snapshots. The collaboration
// socket, the MCP endpoint, health checks and Prometheus metrics are mounted
// on the same mux.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MrWong99/wordcut/internal/clipboard"
	"github.com/MrWong99/wordcut/internal/collab"
	"github.com/MrWong99/wordcut/internal/correct"
	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/export"
	"github.com/MrWong99/wordcut/internal/health"
	"github.com/MrWong99/wordcut/internal/ingest"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/internal/resilience"
	"github.com/MrWong99/wordcut/internal/store"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/internal/workspace"
)

// DefaultMaxBodyBytes bounds request bodies. Transcripts of long recordings
// are the largest payloads.
const DefaultMaxBodyBytes = 32 << 20

var (
	// errConflict is returned when a request was made against an older
	// version.
	errConflict = errors.New("server: project changed since base version")

	// errNoClassifier is returned by /classify when take detection is off.
	errNoClassifier = errors.New("server: no take classifier configured")
)

// Config wires the server to the rest of the application. Workspace is
// required; a nil Hub, Suggester, MCP or Health disables the matching routes.
type Config struct {
	Workspace *workspace.Manager
	Hub       *collab.Hub
	Suggester *correct.Suggester
	MCP       http.Handler
	Health    *health.Handler
	Metrics   *observe.Metrics

	// MetricsHandler serves /metrics. Defaults to the default Prometheus
	// registry.
	MetricsHandler http.Handler

	// FPS is the default EDL frame rate.
	FPS float64

	// MaxBodyBytes bounds request bodies. Defaults to [DefaultMaxBodyBytes].
	MaxBodyBytes int64
}

// Server serves the HTTP API.
type Server struct {
	cfg      Config
	validate *validator.Validate
}

// New returns a Server for cfg.
func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = promhttp.Handler()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.FPS <= 0 {
		cfg.FPS = 25
	}
	return &Server{cfg: cfg, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Handler returns the routed handler wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /projects", s.listProjects)
	mux.HandleFunc("POST /projects", s.createProject)
	mux.HandleFunc("GET /projects/{id}", s.project(s.getProject))
	mux.HandleFunc("DELETE /projects/{id}", s.deleteProject)
	mux.HandleFunc("POST /projects/{id}/save", s.saveProject)
	mux.HandleFunc("POST /projects/{id}/close", s.closeProject)

	mux.HandleFunc("POST /projects/{id}/ops", s.project(s.applyOp))
	mux.HandleFunc("POST /projects/{id}/undo", s.project(s.undo))
	mux.HandleFunc("POST /projects/{id}/redo", s.project(s.redo))
	mux.HandleFunc("GET /projects/{id}/chunks", s.project(s.chunks))
	mux.HandleFunc("POST /projects/{id}/takes/{group}", s.project(s.setActiveTake))
	mux.HandleFunc("POST /projects/{id}/classify", s.project(s.classify))
	mux.HandleFunc("POST /projects/{id}/copy", s.project(s.copyWords))
	mux.HandleFunc("POST /projects/{id}/paste", s.project(s.paste))
	mux.HandleFunc("GET /projects/{id}/edl", s.project(s.edl))

	if s.cfg.Suggester != nil {
		mux.HandleFunc("GET /projects/{id}/suggestions", s.project(s.suggestions))
		mux.HandleFunc("POST /projects/{id}/suggestions/apply", s.project(s.applySuggestion))
	}
	if s.cfg.Hub != nil {
		mux.HandleFunc("GET /projects/{id}/collab", s.project(s.collab))
	}
	if s.cfg.MCP != nil {
		mux.Handle("/mcp", s.cfg.MCP)
	}
	if s.cfg.Health != nil {
		s.cfg.Health.Register(mux)
	}
	mux.Handle("GET /metrics", s.cfg.MetricsHandler)

	return observe.Middleware(s.cfg.Metrics)(mux)
}

// sessionHandler handles a request for one open project.
type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *workspace.Session)

// project resolves {id} to an open session, tags edits as HTTP edits and
// scopes logs and spans to the project.
func (s *Server) project(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := s.cfg.Workspace.Open(r.Context(), r.PathValue("id"))
		if err != nil {
			s.fail(w, r, err)
			return
		}
		r = r.WithContext(observe.WithProject(editor.WithSource(r.Context(), "http"), sess.ID))
		h(w, r, sess)
	}
}

// badRequest marks errors caused by a malformed request.
type badRequest struct{ err error }

func (e badRequest) Error() string { return e.err.Error() }
func (e badRequest) Unwrap() error { return e.err }

// decode reads a JSON body into v and validates its struct tags.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return badRequest{fmt.Errorf("decode body: %w", err)}
	}
	if err := s.validate.Struct(v); err != nil {
		return badRequest{err}
	}
	return nil
}

// statusOf maps an error to the HTTP status reported for it.
func statusOf(err error) int {
	var (
		bad    badRequest
		tooBig *http.MaxBytesError
	)
	switch {
	case errors.As(err, &tooBig):
		return http.StatusRequestEntityTooLarge
	case errors.As(err, &bad),
		errors.Is(err, ingest.ErrInvalidTranscript):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, store.ErrExists),
		errors.Is(err, errConflict),
		errors.Is(err, workspace.ErrNotOpen),
		errors.Is(err, errNoClassifier),
		errors.Is(err, correct.ErrStale),
		errors.Is(err, clipboard.ErrEmpty),
		errors.Is(err, export.ErrNoSource):
		return http.StatusConflict
	case errors.Is(err, edit.ErrInvalidRange),
		errors.Is(err, edit.ErrInvalidIndex),
		errors.Is(err, edit.ErrEmptyClipboard),
		errors.Is(err, edit.ErrNothingToMerge),
		errors.Is(err, edit.ErrNothingToSplit),
		errors.Is(err, edit.ErrEmptyText),
		errors.Is(err, edit.ErrInvalidAction),
		errors.Is(err, takes.ErrUnknownGroup),
		errors.Is(err, takes.ErrInvalidTake):
		return http.StatusUnprocessableEntity
	case errors.Is(err, resilience.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	case errors.Is(err, correct.ErrMalformedReply):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

type errorBody struct {
	Error string `json:"error"`
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	} else {
		observe.Logger(r.Context()).Debug("request rejected", "path", r.URL.Path, "status", code, "err", err)
	}
	writeJSON(w, code, errorBody{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("server: write response", "err", err)
	}
}
