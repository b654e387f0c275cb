// Package editor owns the committed state of one transcript.
//
// An [Editor] is the single writer for its transcript. Every mutation runs the
// same commit pipeline under one lock: apply the op through the undo/redo
// history, re-tag take groups, recompute output times, then publish a new
// immutable [Snapshot]. Readers only ever see published snapshots, so they
// never observe stale output times or take chunks.
package editor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/history"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/internal/timing"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

// Snapshot is one committed state. Snapshots are immutable: callers must not
// modify the slices they contain.
type Snapshot struct {
	// Version increases by one with every commit, including take selection.
	Version uint64 `json:"version"`

	// Transcription holds the words with take tags and output times applied.
	Transcription transcript.Transcription `json:"transcription"`

	// Takes is the take-group layout derived for Transcription.
	Takes takes.State `json:"takes"`

	// OutputDuration is the length of the edited output in seconds.
	OutputDuration float64 `json:"outputDuration"`

	CanUndo bool `json:"canUndo"`
	CanRedo bool `json:"canRedo"`
}

// Chunks returns the presentation projection of the snapshot.
func (s Snapshot) Chunks() []takes.Chunk {
	return takes.Chunks(s.Transcription.Words, s.Takes)
}

// Silenced reports whether w is excluded from playback by take selection.
func (s Snapshot) Silenced(w transcript.Word) bool {
	return s.Takes.Silenced(w)
}

// ChangeKind names what produced a [Change].
type ChangeKind string

const (
	ChangeDispatch       ChangeKind = "dispatch"
	ChangeUndo           ChangeKind = "undo"
	ChangeRedo           ChangeKind = "redo"
	ChangeActiveTake     ChangeKind = "active_take"
	ChangeClassification ChangeKind = "classification"
	ChangeTiming         ChangeKind = "timing"
)

// Change describes one commit to listeners.
type Change struct {
	Kind     ChangeKind
	Snapshot Snapshot

	// Op is the edit that was applied. For undo it is the inverse of the
	// undone op. It is nil for changes outside the edit history.
	Op *edit.Op

	// Anchor is the key of the word at Op's primary index before the op was
	// applied, and AnchorIndex that index. Anchor is empty when the op has no
	// anchor word.
	Anchor      string
	AnchorIndex int

	// Origin identifies the collaboration peer the op came from. It is empty
	// for local edits.
	Origin string
}

// Listener receives committed changes in commit order. Listeners run on the
// goroutine of some committing call; a listener that mutates the editor has
// its own change queued and delivered after the current one.
type Listener func(Change)

// ErrAnchorNotFound is returned by [Editor.ApplyRemote] when the anchor word
// of a remote op does not exist locally.
var ErrAnchorNotFound = errors.New("editor: anchor word not found")

// Option configures an [Editor].
type Option func(*Editor)

// WithBuffer sets the fixed output time added after every playing word.
func WithBuffer(seconds float64) Option {
	return func(e *Editor) { e.buffer = seconds }
}

// WithHistoryLimit caps the undo depth. Zero means unbounded.
func WithHistoryLimit(n int) Option {
	return func(e *Editor) { e.historyLimit = n }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Editor) { e.metrics = m }
}

// WithClassification restores a key-anchored take classification.
func WithClassification(c []takes.Anchored) Option {
	return func(e *Editor) { e.classification = c }
}

// WithActiveTakes restores the active take per group id.
func WithActiveTakes(active map[int]int) Option {
	return func(e *Editor) { e.restoreActive = active }
}

// WithVersion starts the version counter at v, so a reopened project keeps
// counting from where it was saved.
func WithVersion(v uint64) Option {
	return func(e *Editor) { e.startVersion = v }
}

// Editor is the state container for one transcript. It is safe for
// concurrent use.
type Editor struct {
	buffer         float64
	historyLimit   int
	metrics        *observe.Metrics
	classification []takes.Anchored
	restoreActive  map[int]int
	startVersion   uint64

	mu   sync.Mutex
	hist *history.Stack[transcript.Transcription]
	snap Snapshot

	// pending holds committed changes not yet delivered to listeners. Only
	// the goroutine that set delivering drains it, which keeps delivery in
	// commit order. Both are guarded by mu.
	pending    []Change
	delivering bool

	lmu       sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// New returns an Editor holding t. t must satisfy the transcript invariants.
func New(t transcript.Transcription, opts ...Option) (*Editor, error) {
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("editor: %w", err)
	}
	e := &Editor{listeners: make(map[int]Listener)}
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	e.hist = history.New[transcript.Transcription](edit.ApplyAll, history.WithLimit(e.historyLimit))

	var prev takes.State
	if len(e.restoreActive) > 0 {
		// Seed the detector with the restored selection; Detect keeps the
		// entries that still fit.
		for id, take := range e.restoreActive {
			prev.Groups = append(prev.Groups, transcript.TakeGroup{ID: id, ActiveTakeIndex: take})
		}
	}
	e.snap = e.derive(t.StripDerived(), prev, e.startVersion)
	return e, nil
}

// derive runs take detection and output-time recomputation for words.
// Callers hold mu.
func (e *Editor) derive(t transcript.Transcription, prev takes.State, version uint64) Snapshot {
	descs := takes.Resolve(t.Words, e.classification)
	tagged, st := takes.Detect(t.Words, descs, prev)
	timed, total := timing.Recompute(tagged, e.buffer, st.Silenced)
	return Snapshot{
		Version:        version,
		Transcription:  transcript.Transcription{Confidence: t.Confidence, Words: timed},
		Takes:          st,
		OutputDuration: total,
		CanUndo:        e.hist.CanUndo(),
		CanRedo:        e.hist.CanRedo(),
	}
}

// Snapshot returns the current committed state.
func (e *Editor) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap
}

// State returns the current snapshot together with the key-anchored take
// classification it was derived from, read under one lock.
func (e *Editor) State() (Snapshot, []takes.Anchored) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snap, append([]takes.Anchored(nil), e.classification...)
}

// Subscribe registers l and returns a function that removes it.
func (e *Editor) Subscribe(l Listener) (unsubscribe func()) {
	e.lmu.Lock()
	id := e.nextID
	e.nextID++
	e.listeners[id] = l
	e.lmu.Unlock()
	return func() {
		e.lmu.Lock()
		delete(e.listeners, id)
		e.lmu.Unlock()
	}
}

// publish installs the change's snapshot, releases mu and delivers pending
// changes to listeners. The caller must hold mu; publish always releases it.
func (e *Editor) publish(c Change) {
	e.snap = c.Snapshot
	e.pending = append(e.pending, c)
	if e.delivering {
		e.mu.Unlock()
		return
	}
	e.delivering = true
	e.mu.Unlock()

	for {
		e.mu.Lock()
		batch := e.pending
		e.pending = nil
		if len(batch) == 0 {
			e.delivering = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		e.lmu.Lock()
		ls := make([]Listener, 0, len(e.listeners))
		for _, l := range e.listeners {
			ls = append(ls, l)
		}
		e.lmu.Unlock()
		for _, c := range batch {
			for _, l := range ls {
				l(c)
			}
		}
	}
}

type sourceKey struct{}

// WithSource tags ctx with the surface a mutation came from ("http", "mcp",
// ...). It only affects metrics.
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey{}, source)
}

func sourceOf(ctx context.Context) string {
	if s, ok := ctx.Value(sourceKey{}).(string); ok && s != "" {
		return s
	}
	return "local"
}

func anchorOf(words []transcript.Word, op edit.Op) (string, int) {
	i, ok := op.PrimaryIndex()
	if !ok || i < 0 || i >= len(words) {
		return "", i
	}
	return words[i].Key(), i
}

// Builder produces an op from the committed state it will be applied to.
// [Editor.Edit] calls it while holding the editor lock, so it must not call
// back into the editor.
type Builder func(Snapshot) (edit.Op, error)

// Edit builds an op against the current snapshot and commits it in one
// critical section, so no other commit can land between reading the words
// and applying the op. Errors from build are returned as they are, together
// with the unchanged snapshot; [edit.ErrNoChange] records nothing.
func (e *Editor) Edit(ctx context.Context, build Builder) (Snapshot, error) {
	return e.commit(ctx, build, "")
}

// Dispatch applies a prebuilt op and records it in the undo history. The op
// is rebuilt from its forward action against the current words first, so
// the recorded inverse always belongs to the state it was applied to.
// Callers that derive an op from the words should use [Editor.Edit].
func (e *Editor) Dispatch(ctx context.Context, op edit.Op) (Snapshot, error) {
	return e.commit(ctx, func(s Snapshot) (edit.Op, error) {
		remade, err := edit.Remake(s.Transcription.Words, op)
		if errors.Is(err, edit.ErrUnknownAction) {
			// Composite and inverse-only ops cannot be rebuilt.
			return op, nil
		}
		return remade, err
	}, "")
}

// SubmitWordEdit applies a text edit made in place on one word. Clearing the
// text deletes the word; submitting the current text changes nothing and
// records no history.
func (e *Editor) SubmitWordEdit(ctx context.Context, index int, text string) (Snapshot, error) {
	snap, err := e.Edit(ctx, func(s Snapshot) (edit.Op, error) {
		return edit.MakeWordEdit(s.Transcription.Words, index, text)
	})
	if errors.Is(err, edit.ErrNoChange) {
		return snap, nil
	}
	if err != nil {
		return snap, fmt.Errorf("editor: %w", err)
	}
	return snap, nil
}

func (e *Editor) commit(ctx context.Context, build Builder, origin string) (Snapshot, error) {
	ctx, span := observe.StartSpan(ctx, "editor.dispatch")
	defer span.End()
	start := time.Now()

	e.mu.Lock()
	prev := e.snap
	op, err := build(prev)
	if err != nil {
		e.mu.Unlock()
		return prev, err
	}
	anchor, anchorIdx := anchorOf(prev.Transcription.Words, op)
	next, err := e.hist.Dispatch(prev.Transcription, op)
	if err != nil {
		e.mu.Unlock()
		e.metrics.RecordRejectedOp(ctx, op.Kind())
		return prev, fmt.Errorf("editor: %w", err)
	}
	snap := e.derive(next, prev.Takes, prev.Version+1)
	e.recordCommit(ctx, op.Kind(), start)
	e.publish(Change{
		Kind:        ChangeDispatch,
		Snapshot:    snap,
		Op:          &op,
		Anchor:      anchor,
		AnchorIndex: anchorIdx,
		Origin:      origin,
	})

	source := sourceOf(ctx)
	if origin != "" {
		source = "remote"
	}
	e.metrics.RecordOp(ctx, op.Kind(), source)
	observe.Logger(ctx).Debug("op committed",
		"kind", op.Kind(), "version", snap.Version, "source", source)
	return snap, nil
}

func (e *Editor) recordCommit(ctx context.Context, kind string, start time.Time) {
	e.metrics.CommitDuration.Record(ctx, time.Since(start).Seconds(),
		metric.WithAttributes(attribute.String("kind", kind)))
}

// Undo reverts the most recent op. When there is nothing to undo the current
// snapshot is returned unchanged and ok is false.
func (e *Editor) Undo(ctx context.Context) (snap Snapshot, ok bool, err error) {
	return e.step(ctx, ChangeUndo)
}

// Redo re-applies the most recently undone op. When there is nothing to redo
// the current snapshot is returned unchanged and ok is false.
func (e *Editor) Redo(ctx context.Context) (snap Snapshot, ok bool, err error) {
	return e.step(ctx, ChangeRedo)
}

func (e *Editor) step(ctx context.Context, kind ChangeKind) (Snapshot, bool, error) {
	ctx, span := observe.StartSpan(ctx, "editor."+string(kind))
	defer span.End()
	start := time.Now()

	e.mu.Lock()
	prev := e.snap

	// Peek the op first so listeners can be told what was applied.
	var (
		op   edit.Op
		have bool
		next transcript.Transcription
		ok   bool
		err  error
	)
	if kind == ChangeUndo {
		op, have = e.peekUndo()
		next, ok, err = e.hist.Undo(prev.Transcription)
	} else {
		op, have = e.hist.PeekRedo()
		next, ok, err = e.hist.Redo(prev.Transcription)
	}
	if err != nil || !ok {
		e.mu.Unlock()
		if err != nil {
			return prev, false, fmt.Errorf("editor: %w", err)
		}
		return prev, false, nil
	}

	snap := e.derive(next, prev.Takes, prev.Version+1)
	e.recordCommit(ctx, string(kind), start)
	c := Change{Kind: kind, Snapshot: snap}
	if have {
		c.Op = &op
		c.Anchor, c.AnchorIndex = anchorOf(prev.Transcription.Words, op)
	}
	e.publish(c)
	e.metrics.RecordHistoryMove(ctx, string(kind))
	return snap, true, nil
}

// peekUndo returns the inverse of the op Undo would revert. Callers hold mu.
func (e *Editor) peekUndo() (edit.Op, bool) {
	op, ok := e.hist.PeekUndo()
	if !ok {
		return edit.Op{}, false
	}
	return edit.Op{Do: op.Undo, Undo: op.Do}, true
}

// ApplyRemote applies an op made by a collaboration peer. The op is moved by
// the distance its anchor word has travelled locally and then rebuilt
// against the local words, so its inverse is correct here. Inverse-only ops
// (a peer's undo) cannot be rebuilt and are applied as received. Anchor
// lookup, rebuild and commit happen under one lock.
func (e *Editor) ApplyRemote(ctx context.Context, origin string, op edit.Op, anchor string, anchorIndex int) (Snapshot, error) {
	snap, err := e.commit(ctx, func(s Snapshot) (edit.Op, error) {
		words := s.Transcription.Words
		shifted := op
		if anchor != "" {
			local := slices.IndexFunc(words, func(w transcript.Word) bool { return w.Key() == anchor })
			if local < 0 {
				return edit.Op{}, fmt.Errorf("%w: %s", ErrAnchorNotFound, anchor)
			}
			shifted = op.Shifted(local - anchorIndex)
		}
		remade, err := edit.Remake(words, shifted)
		if errors.Is(err, edit.ErrUnknownAction) {
			return shifted, nil
		}
		return remade, err
	}, origin)

	switch {
	case err == nil:
		e.metrics.RecordRemoteOp(ctx, "ok")
		return snap, nil
	case errors.Is(err, edit.ErrNoChange):
		e.metrics.RecordRemoteOp(ctx, "noop")
		return snap, nil
	case errors.Is(err, ErrAnchorNotFound):
		e.metrics.RecordRemoteOp(ctx, "anchor_missing")
		return snap, err
	}
	e.metrics.RecordRemoteOp(ctx, "rejected")
	return snap, fmt.Errorf("remote op: %w", err)
}

// SetActiveTake selects which take of a group plays. It recomputes output
// times but is not an edit and is not recorded in history.
func (e *Editor) SetActiveTake(ctx context.Context, groupID, take int) (Snapshot, error) {
	e.mu.Lock()
	prev := e.snap
	st, err := prev.Takes.WithActiveTake(groupID, take)
	if err != nil {
		e.mu.Unlock()
		return prev, fmt.Errorf("editor: %w", err)
	}
	timed, total := timing.Recompute(prev.Transcription.Words, e.buffer, st.Silenced)
	snap := prev
	snap.Version++
	snap.Takes = st
	snap.Transcription = transcript.Transcription{Confidence: prev.Transcription.Confidence, Words: timed}
	snap.OutputDuration = total
	e.publish(Change{Kind: ChangeActiveTake, Snapshot: snap})

	observe.Logger(ctx).Debug("active take changed", "group", groupID, "take", take)
	return snap, nil
}

// SetClassification replaces the take classification. Descriptors are
// index-based against the current words and are stored anchored to word
// keys so later edits carry them along.
func (e *Editor) SetClassification(ctx context.Context, descriptors []takes.Descriptor) (Snapshot, error) {
	e.mu.Lock()
	prev := e.snap
	return e.reclassify(ctx, takes.Anchor(prev.Transcription.Words, descriptors)), nil
}

// reclassify installs anchored and commits. Callers hold mu; it is released.
func (e *Editor) reclassify(ctx context.Context, anchored []takes.Anchored) Snapshot {
	prev := e.snap
	e.classification = anchored
	snap := e.derive(prev.Transcription, prev.Takes, prev.Version+1)
	e.publish(Change{Kind: ChangeClassification, Snapshot: snap})
	observe.Logger(ctx).Debug("take classification updated", "groups", len(snap.Takes.Groups))
	return snap
}

// Classify runs c on the current words outside the lock and installs the
// result. Edits made while c runs are fine: the result is anchored to the
// words c saw, by key.
func (e *Editor) Classify(ctx context.Context, c takes.Classifier) (Snapshot, error) {
	start := time.Now()
	words := e.Snapshot().Transcription.Words
	descs, err := c.Classify(ctx, words)
	e.metrics.ClassifyDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		slog.Warn("take classification failed", "err", err)
		return e.Snapshot(), fmt.Errorf("editor: classify: %w", err)
	}
	anchored := takes.Anchor(words, descs)
	e.mu.Lock()
	return e.reclassify(ctx, anchored), nil
}

// SetBuffer changes the inter-word output buffer and recomputes output
// times. Used by configuration hot reload.
func (e *Editor) SetBuffer(ctx context.Context, seconds float64) Snapshot {
	e.mu.Lock()
	if e.buffer == seconds {
		defer e.mu.Unlock()
		return e.snap
	}
	e.buffer = seconds
	prev := e.snap
	snap := e.derive(prev.Transcription, prev.Takes, prev.Version+1)
	e.publish(Change{Kind: ChangeTiming, Snapshot: snap})
	observe.Logger(ctx).Debug("output buffer changed", "seconds", seconds)
	return snap
}
