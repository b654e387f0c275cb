package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

// projectArgs is the input of tools that only need a project.
type projectArgs struct {
	ProjectID string `json:"project_id" jsonschema:"id of the project to work on"`
}

func (a projectArgs) project() string    { return a.ProjectID }
func (a listWordsArgs) project() string  { return a.ProjectID }
func (a rangeArgs) project() string      { return a.ProjectID }
func (a activeTakeArgs) project() string { return a.ProjectID }

// listWordsArgs is the input of the "list_words" tool.
type listWordsArgs struct {
	ProjectID string `json:"project_id" jsonschema:"id of the project to work on"`
	From      int    `json:"from,omitempty" jsonschema:"first word index to list, default 0"`
	To        int    `json:"to,omitempty" jsonschema:"index after the last word to list, default end of transcript"`
}

// rangeArgs is the input of "delete_words" and "restore_words".
type rangeArgs struct {
	ProjectID string `json:"project_id" jsonschema:"id of the project to work on"`
	Start     int    `json:"start" jsonschema:"index of the first word"`
	End       int    `json:"end" jsonschema:"index after the last word"`
}

// activeTakeArgs is the input of "set_active_take".
type activeTakeArgs struct {
	ProjectID string `json:"project_id" jsonschema:"id of the project to work on"`
	Group     int    `json:"group" jsonschema:"take group id"`
	Take      int    `json:"take" jsonschema:"zero-based index of the take to play"`
}

// wordView is one word as reported to tool callers.
type wordView struct {
	Index       int     `json:"index"`
	Text        string  `json:"text"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`
	OutputStart float64 `json:"output_start"`
	Confidence  float64 `json:"confidence"`
	Deleted     bool    `json:"deleted"`
	Silenced    bool    `json:"silenced"`
}

type listWordsResult struct {
	Version uint64     `json:"version"`
	Total   int        `json:"total"`
	Words   []wordView `json:"words"`
}

// editResult reports the state after an editing tool.
type editResult struct {
	Version        uint64  `json:"version"`
	Changed        bool    `json:"changed"`
	OutputDuration float64 `json:"output_duration"`
	CanUndo        bool    `json:"can_undo"`
	CanRedo        bool    `json:"can_redo"`
}

// takeView is one alternate of a take group.
type takeView struct {
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
	Active bool   `json:"active"`
}

// chunkView flattens a takes.Chunk. Kind is "word" or "take_group".
type chunkView struct {
	Kind    string     `json:"kind"`
	Index   int        `json:"index"`
	Text    string     `json:"text"`
	Deleted bool       `json:"deleted"`
	GroupID int        `json:"group_id"`
	Takes   []takeView `json:"takes"`
}

type renderChunksResult struct {
	Version uint64      `json:"version"`
	Chunks  []chunkView `json:"chunks"`
}

func (s *Server) registerTools() {
	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "list_words",
		Description: "List the words of a project with their index, times, confidence and whether they are cut.",
	}, instrument(s, "list_words", s.listWords))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "delete_words",
		Description: "Cut the words in [start, end) from the output. Cut words stay in the transcript and can be restored.",
	}, instrument(s, "delete_words", s.rangeEdit(edit.MakeDeleteSelection)))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "restore_words",
		Description: "Bring cut words in [start, end) back into the output.",
	}, instrument(s, "restore_words", s.rangeEdit(edit.MakeRestoreSelection)))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "undo",
		Description: "Undo the most recent edit of a project.",
	}, instrument(s, "undo", s.history((*editor.Editor).Undo)))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "redo",
		Description: "Redo the most recently undone edit of a project.",
	}, instrument(s, "redo", s.history((*editor.Editor).Redo)))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "render_chunks",
		Description: "Show the transcript as chunks: single words, and take groups listing every alternate recording of a passage.",
	}, instrument(s, "render_chunks", s.renderChunks))

	mcpsdk.AddTool(s.srv, &mcpsdk.Tool{
		Name:        "set_active_take",
		Description: "Choose which take of a take group plays. The other takes are silenced.",
	}, instrument(s, "set_active_take", s.setActiveTake))
}

func (s *Server) listWords(ctx context.Context, _ *mcpsdk.CallToolRequest, in listWordsArgs) (*mcpsdk.CallToolResult, listWordsResult, error) {
	sess, err := s.session(ctx, in.ProjectID)
	if err != nil {
		return nil, listWordsResult{}, err
	}
	snap := sess.Editor.Snapshot()
	words := snap.Transcription.Words

	r := transcript.IndexRange{StartIndex: in.From, EndIndex: in.To}
	if in.To == 0 {
		r.EndIndex = len(words)
	}
	if !r.Valid(len(words)) {
		return nil, listWordsResult{}, fmt.Errorf("%w: %v in %d words", edit.ErrInvalidRange, r, len(words))
	}

	out := listWordsResult{Version: snap.Version, Total: len(words), Words: make([]wordView, 0, r.Len())}
	for i := r.StartIndex; i < r.EndIndex; i++ {
		w := words[i]
		out.Words = append(out.Words, wordView{
			Index:       i,
			Text:        w.Text,
			Start:       w.InputStartTime,
			Duration:    w.Duration,
			OutputStart: w.OutputStartTime,
			Confidence:  w.Confidence,
			Deleted:     w.Deleted,
			Silenced:    snap.Silenced(w),
		})
	}
	return nil, out, nil
}

func (s *Server) rangeEdit(build func([]transcript.Word, []transcript.IndexRange) (edit.Op, error)) mcpsdk.ToolHandlerFor[rangeArgs, editResult] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in rangeArgs) (*mcpsdk.CallToolResult, editResult, error) {
		sess, err := s.session(ctx, in.ProjectID)
		if err != nil {
			return nil, editResult{}, err
		}
		sel := []transcript.IndexRange{{StartIndex: in.Start, EndIndex: in.End}}
		snap, err := sess.Editor.Edit(ctx, func(cur editor.Snapshot) (edit.Op, error) {
			return build(cur.Transcription.Words, sel)
		})
		if errors.Is(err, edit.ErrNoChange) {
			return nil, resultOf(snap, false), nil
		}
		if err != nil {
			return nil, editResult{}, err
		}
		return nil, resultOf(snap, true), nil
	}
}

func (s *Server) history(step func(*editor.Editor, context.Context) (editor.Snapshot, bool, error)) mcpsdk.ToolHandlerFor[projectArgs, editResult] {
	return func(ctx context.Context, _ *mcpsdk.CallToolRequest, in projectArgs) (*mcpsdk.CallToolResult, editResult, error) {
		sess, err := s.session(ctx, in.ProjectID)
		if err != nil {
			return nil, editResult{}, err
		}
		snap, ok, err := step(sess.Editor, ctx)
		if err != nil {
			return nil, editResult{}, err
		}
		return nil, resultOf(snap, ok), nil
	}
}

func (s *Server) renderChunks(ctx context.Context, _ *mcpsdk.CallToolRequest, in projectArgs) (*mcpsdk.CallToolResult, renderChunksResult, error) {
	sess, err := s.session(ctx, in.ProjectID)
	if err != nil {
		return nil, renderChunksResult{}, err
	}
	snap := sess.Editor.Snapshot()
	chunks := snap.Chunks()
	out := renderChunksResult{Version: snap.Version, Chunks: make([]chunkView, 0, len(chunks))}
	for _, c := range chunks {
		out.Chunks = append(out.Chunks, viewChunk(c))
	}
	return nil, out, nil
}

func (s *Server) setActiveTake(ctx context.Context, _ *mcpsdk.CallToolRequest, in activeTakeArgs) (*mcpsdk.CallToolResult, editResult, error) {
	sess, err := s.session(ctx, in.ProjectID)
	if err != nil {
		return nil, editResult{}, err
	}
	before := sess.Editor.Snapshot().Version
	snap, err := sess.Editor.SetActiveTake(ctx, in.Group, in.Take)
	if err != nil {
		return nil, editResult{}, err
	}
	return nil, resultOf(snap, snap.Version != before), nil
}

func resultOf(snap editor.Snapshot, changed bool) editResult {
	return editResult{
		Version:        snap.Version,
		Changed:        changed,
		OutputDuration: snap.OutputDuration,
		CanUndo:        snap.CanUndo,
		CanRedo:        snap.CanRedo,
	}
}

func viewChunk(c takes.Chunk) chunkView {
	switch c := c.(type) {
	case takes.WordChunk:
		return chunkView{
			Kind:    "word",
			Index:   c.Index,
			Text:    c.Word.Text,
			Deleted: c.Word.Deleted,
			Takes:   []takeView{},
		}
	case takes.TakeGroupChunk:
		v := chunkView{
			Kind:    "take_group",
			GroupID: c.Group.ID,
			Index:   c.Group.Span().StartIndex,
			Takes:   make([]takeView, 0, len(c.Takes)),
		}
		for i, t := range c.Takes {
			tv := takeView{
				Start:  t.Range.StartIndex,
				End:    t.Range.EndIndex,
				Text:   joinText(t.Words),
				Active: i == c.Group.ActiveTakeIndex,
			}
			if tv.Active {
				v.Text = tv.Text
			}
			v.Takes = append(v.Takes, tv)
		}
		return v
	}
	return chunkView{Kind: "unknown", Takes: []takeView{}}
}

func joinText(words []transcript.Word) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if !w.Deleted {
			parts = append(parts, w.Text)
		}
	}
	return strings.Join(parts, " ")
}
