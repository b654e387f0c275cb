package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/wordcut/internal/clipboard"
	"github.com/MrWong99/wordcut/internal/correct"
	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/export"
	"github.com/MrWong99/wordcut/internal/ingest"
	"github.com/MrWong99/wordcut/internal/store"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/internal/workspace"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

type createRequest struct {
	Name          string     `json:"name" validate:"required,max=256"`
	MediaSource   string     `json:"mediaSource" validate:"omitempty,max=4096"`
	TotalDuration float64    `json:"totalDuration" validate:"gte=0"`
	Transcript    ingest.Raw `json:"transcript"`
}

type projectView struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	MediaSource string          `json:"mediaSource,omitempty"`
	CreatedAt   time.Time       `json:"createdAt"`
	Dirty       bool            `json:"dirty"`
	Snapshot    editor.Snapshot `json:"snapshot"`
}

func viewOf(sess *workspace.Session) projectView {
	return projectView{
		ID:          sess.ID,
		Name:        sess.Name,
		MediaSource: sess.MediaSource,
		CreatedAt:   sess.CreatedAt,
		Dirty:       sess.Dirty(),
		Snapshot:    sess.Editor.Snapshot(),
	}
}

// opRequest names an edit. The op itself is always built against the
// current words with the edit constructors.
type opRequest struct {
	Kind        string                  `json:"kind" validate:"required,oneof=delete restore merge split move correct edit"`
	Ranges      []transcript.IndexRange `json:"ranges" validate:"required_if=Kind delete,required_if=Kind restore,required_if=Kind move"`
	Range       *transcript.IndexRange  `json:"range" validate:"required_if=Kind merge"`
	Index       int                     `json:"index" validate:"gte=0"`
	Text        string                  `json:"text" validate:"required_if=Kind correct"`
	Destination int                     `json:"destination" validate:"gte=0"`

	// BaseVersion, when set, rejects the edit if the project has moved on.
	BaseVersion *uint64 `json:"baseVersion"`
}

type editResponse struct {
	Changed  bool            `json:"changed"`
	Snapshot editor.Snapshot `json:"snapshot"`
}

type activeTakeRequest struct {
	Take *int `json:"take" validate:"required,gte=0"`
}

type copyRequest struct {
	Ranges []transcript.IndexRange `json:"ranges" validate:"required,min=1"`
}

type copyResponse struct {
	Copied int    `json:"copied"`
	Text   string `json:"text"`
}

type pasteRequest struct {
	// After is the index the clipboard is pasted behind; -1 pastes at the
	// front.
	After int `json:"after" validate:"gte=-1"`
}

// chunkJSON tags a takes.Chunk with its kind.
type chunkJSON struct {
	Kind  string                `json:"kind"`
	Word  *takes.WordChunk      `json:"word,omitempty"`
	Group *takes.TakeGroupChunk `json:"group,omitempty"`
}

type chunksResponse struct {
	Version uint64      `json:"version"`
	Chunks  []chunkJSON `json:"chunks"`
}

type suggestionsResponse struct {
	Version     uint64               `json:"version"`
	Suggestions []correct.Suggestion `json:"suggestions"`
}

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	list, err := s.cfg.Workspace.List(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []store.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"projects": list})
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	sess, err := s.cfg.Workspace.Create(editor.WithSource(r.Context(), "http"), workspace.CreateRequest{
		Name:          req.Name,
		MediaSource:   req.MediaSource,
		Raw:           req.Transcript,
		TotalDuration: req.TotalDuration,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Location", "/projects/"+sess.ID)
	writeJSON(w, http.StatusCreated, viewOf(sess))
}

func (s *Server) getProject(w http.ResponseWriter, _ *http.Request, sess *workspace.Session) {
	writeJSON(w, http.StatusOK, viewOf(sess))
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Workspace.Delete(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) saveProject(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Workspace.Save(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) closeProject(w http.ResponseWriter, r *http.Request) {
	if err := s.cfg.Workspace.Close(r.Context(), r.PathValue("id")); err != nil {
		s.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) applyOp(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var req opRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.commit(w, r, sess, func(snap editor.Snapshot) (edit.Op, error) {
		if req.BaseVersion != nil && *req.BaseVersion != snap.Version {
			return edit.Op{}, fmt.Errorf("%w: base %d, current %d", errConflict, *req.BaseVersion, snap.Version)
		}
		return buildOp(snap.Transcription.Words, req)
	})
}

func buildOp(words []transcript.Word, req opRequest) (edit.Op, error) {
	switch req.Kind {
	case "delete":
		return edit.MakeDeleteSelection(words, req.Ranges)
	case "restore":
		return edit.MakeRestoreSelection(words, req.Ranges)
	case "merge":
		return edit.MakeMergeWords(words, *req.Range)
	case "split":
		return edit.MakeSplitWord(words, req.Index)
	case "move":
		return edit.MakeMoveWords(words, req.Ranges, req.Destination)
	case "correct":
		return edit.MakeCorrectWord(words, req.Index, req.Text)
	case "edit":
		return edit.MakeWordEdit(words, req.Index, req.Text)
	}
	return edit.Op{}, badRequest{fmt.Errorf("unknown op kind %q", req.Kind)}
}

// commit builds and applies an op in one editor critical section.
// ErrNoChange answers with the unchanged snapshot.
func (s *Server) commit(w http.ResponseWriter, r *http.Request, sess *workspace.Session, build editor.Builder) {
	next, err := sess.Editor.Edit(r.Context(), build)
	if errors.Is(err, edit.ErrNoChange) {
		writeJSON(w, http.StatusOK, editResponse{Snapshot: next})
		return
	}
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Changed: true, Snapshot: next})
}

func (s *Server) undo(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	s.step(w, r, sess.Editor.Undo)
}

func (s *Server) redo(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	s.step(w, r, sess.Editor.Redo)
}

func (s *Server) step(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context) (editor.Snapshot, bool, error)) {
	snap, ok, err := fn(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Changed: ok, Snapshot: snap})
}

func (s *Server) chunks(w http.ResponseWriter, _ *http.Request, sess *workspace.Session) {
	snap := sess.Editor.Snapshot()
	chunks := snap.Chunks()
	resp := chunksResponse{Version: snap.Version, Chunks: make([]chunkJSON, 0, len(chunks))}
	for _, c := range chunks {
		switch c := c.(type) {
		case takes.WordChunk:
			resp.Chunks = append(resp.Chunks, chunkJSON{Kind: "word", Word: &c})
		case takes.TakeGroupChunk:
			resp.Chunks = append(resp.Chunks, chunkJSON{Kind: "takeGroup", Group: &c})
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) setActiveTake(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	group, err := strconv.Atoi(r.PathValue("group"))
	if err != nil {
		s.fail(w, r, badRequest{fmt.Errorf("take group %q: %w", r.PathValue("group"), err)})
		return
	}
	var req activeTakeRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	snap, err := sess.Editor.SetActiveTake(r.Context(), group, *req.Take)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Changed: true, Snapshot: snap})
}

func (s *Server) classify(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	c := s.cfg.Workspace.Classifier()
	if c == nil {
		s.fail(w, r, errNoClassifier)
		return
	}
	snap, err := sess.Editor.Classify(r.Context(), c)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, editResponse{Changed: true, Snapshot: snap})
}

func (s *Server) copyWords(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var req copyRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	n := sess.Board.Copy(sess.Editor.Snapshot().Transcription.Words, req.Ranges)
	writeJSON(w, http.StatusOK, copyResponse{Copied: n, Text: clipboard.Text(sess.Board.Words())})
}

func (s *Server) paste(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var req pasteRequest
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.commit(w, r, sess, func(snap editor.Snapshot) (edit.Op, error) {
		return sess.Board.PasteOp(snap.Transcription.Words, req.After)
	})
}

func (s *Server) edl(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	fps := s.cfg.FPS
	if v := r.URL.Query().Get("fps"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f <= 0 {
			s.fail(w, r, badRequest{fmt.Errorf("fps %q must be a positive number", v)})
			return
		}
		fps = f
	}

	snap := sess.Editor.Snapshot()
	cuts := export.Cuts(snap.Transcription.Words, snap.Silenced)
	var buf bytes.Buffer
	if err := export.WriteEDL(&buf, sess.Name, sess.MediaSource, fps, cuts); err != nil {
		s.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", sess.Name+".edl"))
	w.WriteHeader(http.StatusOK)
	_, _ = buf.WriteTo(w)
}

func (s *Server) suggestions(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	snap := sess.Editor.Snapshot()
	list, err := s.cfg.Suggester.Suggest(r.Context(), snap.Transcription.Words)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if list == nil {
		list = []correct.Suggestion{}
	}
	writeJSON(w, http.StatusOK, suggestionsResponse{Version: snap.Version, Suggestions: list})
}

func (s *Server) applySuggestion(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	var req correct.Suggestion
	if err := s.decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	s.commit(w, r, sess, func(snap editor.Snapshot) (edit.Op, error) {
		return req.Op(snap.Transcription.Words)
	})
}

func (s *Server) collab(w http.ResponseWriter, r *http.Request, sess *workspace.Session) {
	s.cfg.Hub.Serve(w, r, sess.ID, sess.Editor)
}
