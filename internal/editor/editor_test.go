package editor_test

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"

	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/editor"
	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

func base(texts ...string) transcript.Transcription {
	words := make([]transcript.Word, len(texts))
	for i, s := range texts {
		words[i] = transcript.Word{Text: s, InputStartTime: float64(i), Duration: 1, Confidence: 1, OriginalIndex: i}
	}
	return transcript.Transcription{Confidence: 1, Words: words}
}

func newEditor(t *testing.T, tr transcript.Transcription, opts ...editor.Option) *editor.Editor {
	t.Helper()
	e, err := editor.New(tr, opts...)
	if err != nil {
		t.Fatalf("editor.New: %v", err)
	}
	return e
}

func starts(s editor.Snapshot) []float64 {
	out := make([]float64, len(s.Transcription.Words))
	for i, w := range s.Transcription.Words {
		out[i] = w.OutputStartTime
	}
	return out
}

func TestDeleteUndoScenario(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("a", "b", "c"))
	if got := starts(e.Snapshot()); !reflect.DeepEqual(got, []float64{0, 1, 2}) {
		t.Fatalf("initial starts = %v, want [0 1 2]", got)
	}

	op, err := edit.MakeDeleteSelection(e.Snapshot().Transcription.Words, []transcript.IndexRange{transcript.RangeLengthOne(1)})
	if err != nil {
		t.Fatalf("MakeDeleteSelection: %v", err)
	}
	snap, err := e.Dispatch(ctx, op)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if got := snap.Transcription.Words[2].OutputStartTime; got != 1 {
		t.Errorf("word 2 start after delete = %v, want 1", got)
	}
	if snap.OutputDuration != 2 || !snap.CanUndo || snap.CanRedo {
		t.Errorf("snapshot = duration %v undo %v redo %v", snap.OutputDuration, snap.CanUndo, snap.CanRedo)
	}

	snap, ok, err := e.Undo(ctx)
	if err != nil || !ok {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	if got := starts(snap); !reflect.DeepEqual(got, []float64{0, 1, 2}) {
		t.Errorf("starts after undo = %v, want [0 1 2]", got)
	}
	if !snap.CanRedo {
		t.Error("redo not available after undo")
	}

	if _, ok, err := e.Undo(ctx); ok || err != nil {
		t.Errorf("second Undo = %v, %v; want no-op", ok, err)
	}
}

func TestDispatchFailureKeepsSnapshot(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		op   edit.Op
		want error
	}{
		{
			name: "rebuilt op out of range",
			op:   edit.Op{Do: []edit.Action{edit.MergeWords{Range: transcript.IndexRange{StartIndex: 0, EndIndex: 5}}}},
			want: edit.ErrInvalidRange,
		},
		{
			name: "composite op applied as is",
			op: edit.Op{Do: []edit.Action{
				edit.CorrectWord{Index: 0, Text: "x"},
				edit.MergeWords{Range: transcript.IndexRange{StartIndex: 0, EndIndex: 5}},
			}},
			want: edit.ErrInvalidAction,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEditor(t, base("a", "b"))
			before := e.Snapshot()
			if _, err := e.Dispatch(context.Background(), tt.op); !errors.Is(err, tt.want) {
				t.Fatalf("Dispatch: expected %v, got %v", tt.want, err)
			}
			after := e.Snapshot()
			if after.Version != before.Version || after.Transcription.Words[0].Text != "a" {
				t.Errorf("state moved on failure: %+v", after)
			}
		})
	}
}

func texts(s editor.Snapshot) []string {
	out := make([]string, len(s.Transcription.Words))
	for i, w := range s.Transcription.Words {
		out[i] = w.Text
	}
	return out
}

func keys(s editor.Snapshot) []string {
	out := make([]string, len(s.Transcription.Words))
	for i, w := range s.Transcription.Words {
		out[i] = w.Key()
	}
	return out
}

func pasteFront(text string) editor.Builder {
	return func(s editor.Snapshot) (edit.Op, error) {
		return edit.MakePasteWords(s.Transcription.Words, -1, []transcript.Word{{Text: text, Duration: 1, Confidence: 1}})
	}
}

func TestDispatchRebuildsStaleOp(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("a", "b", "c", "d"))

	// A merge built from [a b c d], committed after a paste moved the words.
	merge, err := edit.MakeMergeWords(e.Snapshot().Transcription.Words, transcript.IndexRange{StartIndex: 0, EndIndex: 2})
	if err != nil {
		t.Fatalf("MakeMergeWords: %v", err)
	}
	pasted, err := e.Edit(ctx, pasteFront("d"))
	if err != nil {
		t.Fatalf("Edit paste: %v", err)
	}
	if _, err := e.Dispatch(ctx, merge); err != nil {
		t.Fatalf("Dispatch merge: %v", err)
	}

	// The inverse was captured from the state the merge hit, so undo
	// restores exactly that state.
	snap, ok, err := e.Undo(ctx)
	if err != nil || !ok {
		t.Fatalf("Undo = %v, %v", ok, err)
	}
	if got, want := texts(snap), texts(pasted); !reflect.DeepEqual(got, want) {
		t.Errorf("words after undo = %v, want %v", got, want)
	}
	if got, want := keys(snap), keys(pasted); !reflect.DeepEqual(got, want) {
		t.Errorf("keys after undo = %v, want %v", got, want)
	}
}

func TestEdit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("a", "b", "c"))
	v0 := e.Snapshot().Version

	t.Run("builder sees committed state", func(t *testing.T) {
		var seen uint64
		snap, err := e.Edit(ctx, func(s editor.Snapshot) (edit.Op, error) {
			seen = s.Version
			return edit.MakeCorrectWord(s.Transcription.Words, 0, "A")
		})
		if err != nil {
			t.Fatalf("Edit: %v", err)
		}
		if seen != v0 || snap.Version != v0+1 {
			t.Errorf("builder saw version %d, commit made %d; start %d", seen, snap.Version, v0)
		}
	})

	t.Run("builder error leaves state", func(t *testing.T) {
		conflict := errors.New("moved on")
		before := e.Snapshot()
		snap, err := e.Edit(ctx, func(s editor.Snapshot) (edit.Op, error) {
			if s.Version != v0 {
				return edit.Op{}, conflict
			}
			return edit.MakeCorrectWord(s.Transcription.Words, 1, "B")
		})
		if !errors.Is(err, conflict) {
			t.Fatalf("Edit err = %v, want conflict", err)
		}
		if snap.Version != before.Version || e.Snapshot().Version != before.Version {
			t.Errorf("version moved to %d", e.Snapshot().Version)
		}
	})

	t.Run("no change records nothing", func(t *testing.T) {
		before := e.Snapshot()
		_, err := e.Edit(ctx, func(s editor.Snapshot) (edit.Op, error) {
			return edit.MakeCorrectWord(s.Transcription.Words, 0, "A")
		})
		if !errors.Is(err, edit.ErrNoChange) {
			t.Fatalf("Edit err = %v, want ErrNoChange", err)
		}
		if e.Snapshot().Version != before.Version {
			t.Error("ErrNoChange committed a version")
		}
	})
}

func TestConcurrentEditsUndoToStart(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	const n = 16
	// Enough words that every merge finds two, whatever the interleaving.
	words := make([]string, n+2)
	for i := range words {
		words[i] = string(rune('a' + i))
	}
	e := newEditor(t, base(words...))
	start := e.Snapshot()

	var wg sync.WaitGroup
	for i := range n {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := e.Edit(ctx, pasteFront("p")); err != nil {
				t.Errorf("paste %d: %v", i, err)
			}
		}()
		go func() {
			defer wg.Done()
			_, err := e.Edit(ctx, func(s editor.Snapshot) (edit.Op, error) {
				return edit.MakeMergeWords(s.Transcription.Words, transcript.IndexRange{StartIndex: 0, EndIndex: 2})
			})
			if err != nil {
				t.Errorf("merge %d: %v", i, err)
			}
		}()
	}
	wg.Wait()

	for undone := 0; ; undone++ {
		_, ok, err := e.Undo(ctx)
		if err != nil {
			t.Fatalf("Undo %d: %v", undone, err)
		}
		if !ok {
			if undone != 2*n {
				t.Errorf("undid %d ops, want %d", undone, 2*n)
			}
			break
		}
	}
	end := e.Snapshot()
	if !reflect.DeepEqual(texts(end), texts(start)) || !reflect.DeepEqual(keys(end), keys(start)) {
		t.Errorf("after undoing everything: %v %v, want %v %v", texts(end), keys(end), texts(start), keys(start))
	}
}

func TestSubmitWordEdit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("a", "b", "c"))

	v0 := e.Snapshot().Version
	snap, err := e.SubmitWordEdit(ctx, 1, "b")
	if err != nil {
		t.Fatalf("SubmitWordEdit same text: %v", err)
	}
	if snap.Version != v0 || snap.CanUndo {
		t.Error("unchanged text recorded history")
	}

	snap, err = e.SubmitWordEdit(ctx, 1, "bee")
	if err != nil {
		t.Fatalf("SubmitWordEdit: %v", err)
	}
	if snap.Transcription.Words[1].Text != "bee" {
		t.Errorf("text = %q, want bee", snap.Transcription.Words[1].Text)
	}

	snap, err = e.SubmitWordEdit(ctx, 2, "")
	if err != nil {
		t.Fatalf("SubmitWordEdit empty: %v", err)
	}
	if !snap.Transcription.Words[2].Deleted || snap.Transcription.Words[2].Text != "c" {
		t.Errorf("empty edit = %+v, want deleted word keeping its text", snap.Transcription.Words[2])
	}
}

func TestActiveTakeNotInHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("x", "a", "b", "a", "b", "y"))
	snap, err := e.SetClassification(ctx, []takes.Descriptor{{Takes: []transcript.IndexRange{
		{StartIndex: 1, EndIndex: 3},
		{StartIndex: 3, EndIndex: 5},
	}}})
	if err != nil {
		t.Fatalf("SetClassification: %v", err)
	}
	// Take 1 is silenced: x a b y plays.
	if snap.OutputDuration != 4 {
		t.Fatalf("duration = %v, want 4", snap.OutputDuration)
	}
	if got := snap.Transcription.Words[5].OutputStartTime; got != 3 {
		t.Errorf("y start = %v, want 3", got)
	}

	snap, err = e.SetActiveTake(ctx, 0, 1)
	if err != nil {
		t.Fatalf("SetActiveTake: %v", err)
	}
	if snap.CanUndo {
		t.Error("switching takes was recorded in history")
	}
	if got := snap.Transcription.Words[3].OutputStartTime; got != 1 {
		t.Errorf("take 1 start = %v, want 1", got)
	}
	if len(snap.Chunks()) != 3 {
		t.Errorf("chunks = %d, want 3", len(snap.Chunks()))
	}

	if _, err := e.SetActiveTake(ctx, 0, 2); !errors.Is(err, takes.ErrInvalidTake) {
		t.Errorf("expected ErrInvalidTake, got %v", err)
	}
}

func TestClassificationFollowsEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("x", "a", "a"))
	if _, err := e.SetClassification(ctx, []takes.Descriptor{{Takes: []transcript.IndexRange{
		transcript.RangeLengthOne(1), transcript.RangeLengthOne(2),
	}}}); err != nil {
		t.Fatalf("SetClassification: %v", err)
	}

	words := e.Snapshot().Transcription.Words
	op, err := edit.MakePasteWords(words, -1, words[:1])
	if err != nil {
		t.Fatalf("MakePasteWords: %v", err)
	}
	snap, err := e.Dispatch(ctx, op)
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	g, ok := snap.Takes.Group(0)
	if !ok {
		t.Fatal("group lost after paste")
	}
	if g.Takes[0].StartIndex != 2 || g.Takes[1].StartIndex != 3 {
		t.Errorf("takes = %v, want shifted by one", g.Takes)
	}
	if snap.Transcription.Words[0].TakeInfo != nil {
		t.Error("pasted word tagged as take member")
	}
}

func TestApplyRemote(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	origin := newEditor(t, base("a", "b", "c", "d"))
	local := newEditor(t, base("a", "b", "c", "d"))

	// The local side has pasted a word at the front meanwhile.
	lw := local.Snapshot().Transcription.Words
	paste, err := edit.MakePasteWords(lw, -1, []transcript.Word{{Text: "p", Duration: 1, Confidence: 1}})
	if err != nil {
		t.Fatalf("MakePasteWords: %v", err)
	}
	if _, err := local.Dispatch(ctx, paste); err != nil {
		t.Fatalf("Dispatch paste: %v", err)
	}

	var changes []editor.Change
	unsubscribe := origin.Subscribe(func(c editor.Change) { changes = append(changes, c) })
	defer unsubscribe()

	ow := origin.Snapshot().Transcription.Words
	del, err := edit.MakeDeleteSelection(ow, []transcript.IndexRange{transcript.RangeLengthOne(2)})
	if err != nil {
		t.Fatalf("MakeDeleteSelection: %v", err)
	}
	if _, err := origin.Dispatch(ctx, del); err != nil {
		t.Fatalf("Dispatch delete: %v", err)
	}
	if len(changes) != 1 || changes[0].Anchor != ow[2].Key() {
		t.Fatalf("changes = %+v", changes)
	}

	c := changes[0]
	snap, err := local.ApplyRemote(ctx, "peer-1", *c.Op, c.Anchor, c.AnchorIndex)
	if err != nil {
		t.Fatalf("ApplyRemote: %v", err)
	}
	got := snap.Transcription.Words
	if !got[3].Deleted || got[3].Text != "c" {
		t.Errorf("remote delete hit %+v, want word c", got[3])
	}
	if got[2].Deleted {
		t.Error("remote delete hit the shifted neighbour")
	}

	// Undo on the receiving side reverts exactly the remote op.
	snap, ok, err := local.Undo(ctx)
	if err != nil || !ok {
		t.Fatalf("Undo: %v %v", ok, err)
	}
	if snap.Transcription.Words[3].Deleted {
		t.Error("undo of remote op left word deleted")
	}

	missing := edit.Op{Do: []edit.Action{edit.DeleteSelection{Ranges: []transcript.IndexRange{transcript.RangeLengthOne(0)}}}}
	if _, err := local.ApplyRemote(ctx, "peer-1", missing, "99:0", 0); !errors.Is(err, editor.ErrAnchorNotFound) {
		t.Errorf("expected ErrAnchorNotFound, got %v", err)
	}
}

func TestListenersSeeCommitOrder(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("a", "b", "c", "d", "e", "f", "g", "h"))

	var (
		mu       sync.Mutex
		versions []uint64
	)
	e.Subscribe(func(c editor.Change) {
		mu.Lock()
		versions = append(versions, c.Snapshot.Version)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = e.SubmitWordEdit(ctx, i, "x")
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	if len(versions) != 8 {
		t.Fatalf("got %d changes, want 8", len(versions))
	}
	for i, v := range versions {
		if v != uint64(i+1) {
			t.Fatalf("versions = %v, want 1..8 in order", versions)
		}
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()

	bad := base("a", "")
	if _, err := editor.New(bad); !errors.Is(err, transcript.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestStateIsConsistent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("x", "a", "a", "y"))
	group := []takes.Descriptor{{Takes: []transcript.IndexRange{
		transcript.RangeLengthOne(1), transcript.RangeLengthOne(2),
	}}}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 200 {
			var descs []takes.Descriptor
			if i%2 == 0 {
				descs = group
			}
			if _, err := e.SetClassification(ctx, descs); err != nil {
				t.Errorf("SetClassification: %v", err)
				return
			}
		}
	}()

	for {
		select {
		case <-done:
			return
		default:
		}
		snap, classification := e.State()
		if len(snap.Takes.Groups) != len(classification) {
			t.Fatalf("version %d: %d groups from %d classified", snap.Version, len(snap.Takes.Groups), len(classification))
		}
	}
}

func TestActiveTakeSurvivesLostTake(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	e := newEditor(t, base("x", "a", "b", "a", "b", "a", "b", "y"))
	if _, err := e.SetClassification(ctx, []takes.Descriptor{{Takes: []transcript.IndexRange{
		{StartIndex: 1, EndIndex: 3},
		{StartIndex: 3, EndIndex: 5},
		{StartIndex: 5, EndIndex: 7},
	}}}); err != nil {
		t.Fatalf("SetClassification: %v", err)
	}
	if _, err := e.SetActiveTake(ctx, 0, 2); err != nil {
		t.Fatalf("SetActiveTake: %v", err)
	}

	// Merging "x a" removes the first word of take 0, so that take is lost.
	snap, err := e.Edit(ctx, func(s editor.Snapshot) (edit.Op, error) {
		return edit.MakeMergeWords(s.Transcription.Words, transcript.IndexRange{StartIndex: 0, EndIndex: 2})
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	g, ok := snap.Takes.Group(0)
	if !ok || g.TakeCount != 2 {
		t.Fatalf("group after merge = %+v, %v", g, ok)
	}
	if g.ActiveTakeIndex != 1 {
		t.Errorf("active take = %d, want 1 (the take that was playing)", g.ActiveTakeIndex)
	}
	// Words: "x a" b a b a b y; the last "a b" still plays.
	for i, w := range snap.Transcription.Words {
		if silenced := snap.Silenced(w); silenced != (i == 2 || i == 3) {
			t.Errorf("word %d (%s) silenced = %v", i, w.Text, silenced)
		}
	}
}
