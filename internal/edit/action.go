// Package edit defines the closed set of structural edits on a transcript.
//
// Every edit is an [Op]: a forward list of actions and an inverse list. Ops
// are built only through the Make* constructors, which validate against the
// current words and capture whatever the inverse needs. [Apply] is the pure
// reducer that interprets one action.
package edit

import "github.com/MrWong99/wordcut/pkg/transcript"

// Action is one self-describing step of an [Op]. The set of implementations
// is closed; [Apply] switches over all of them.
type Action interface {
	// Kind is the stable wire name of the action.
	Kind() string
	action()
}

// DeleteSelection marks every word in Ranges deleted.
type DeleteSelection struct {
	Ranges []transcript.IndexRange `json:"ranges"`
}

// UndoDeleteSelection clears the deleted flag of every word in Ranges.
type UndoDeleteSelection struct {
	Ranges []transcript.IndexRange `json:"ranges"`
}

// PasteWords inserts Clipboard immediately after StartIndex. A StartIndex of
// -1 inserts at the front. Each inserted word receives a fresh paste key.
type PasteWords struct {
	StartIndex int               `json:"startIndex"`
	Clipboard  []transcript.Word `json:"clipboard"`
}

// UndoPasteWords removes the ClipboardLength words after StartIndex.
type UndoPasteWords struct {
	StartIndex      int `json:"startIndex"`
	ClipboardLength int `json:"clipboardLength"`
}

// MergeWords replaces the words in Range with one word.
type MergeWords struct {
	Range transcript.IndexRange `json:"range"`
}

// UndoMergeWords replaces the word at Index with OriginalWords.
type UndoMergeWords struct {
	Index         int               `json:"index"`
	OriginalWords []transcript.Word `json:"originalWords"`
}

// SplitWord splits the word at Index into two words at rune offset At.
type SplitWord struct {
	Index int `json:"index"`
	At    int `json:"at"`
}

// UndoSplitWord replaces the two words in Range with Original.
type UndoSplitWord struct {
	Range    transcript.IndexRange `json:"range"`
	Original transcript.Word       `json:"original"`
}

// MoveWords removes the words in Ranges and reinserts them, in their existing
// order, before DestinationBeforeIndex of the sequence that remains after
// removal.
type MoveWords struct {
	Ranges                 []transcript.IndexRange `json:"ranges"`
	DestinationBeforeIndex int                     `json:"destinationBeforeIndex"`
}

// UndoMoveWords takes the block of len(Indices) words starting at Start and
// puts each back at the matching position in Indices.
type UndoMoveWords struct {
	Start   int   `json:"start"`
	Indices []int `json:"indices"`
}

// CorrectWord replaces the text of the word at Index. It is its own inverse.
type CorrectWord struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

func (DeleteSelection) Kind() string     { return "deleteSelection" }
func (UndoDeleteSelection) Kind() string { return "undoDeleteSelection" }
func (PasteWords) Kind() string          { return "pasteWords" }
func (UndoPasteWords) Kind() string      { return "undoPasteWords" }
func (MergeWords) Kind() string          { return "mergeWords" }
func (UndoMergeWords) Kind() string      { return "undoMergeWords" }
func (SplitWord) Kind() string           { return "splitWord" }
func (UndoSplitWord) Kind() string       { return "undoSplitWord" }
func (MoveWords) Kind() string           { return "moveWords" }
func (UndoMoveWords) Kind() string       { return "undoMoveWords" }
func (CorrectWord) Kind() string         { return "correctWord" }

func (DeleteSelection) action()     {}
func (UndoDeleteSelection) action() {}
func (PasteWords) action()          {}
func (UndoPasteWords) action()      {}
func (MergeWords) action()          {}
func (UndoMergeWords) action()      {}
func (SplitWord) action()           {}
func (UndoSplitWord) action()       {}
func (MoveWords) action()           {}
func (UndoMoveWords) action()       {}
func (CorrectWord) action()         {}

// Op is a reversible edit: applying Do then Undo restores the input exactly.
type Op struct {
	Do   []Action
	Undo []Action
}

// Kind returns the kind of the first forward action, which names the op.
func (o Op) Kind() string {
	if len(o.Do) == 0 {
		return ""
	}
	return o.Do[0].Kind()
}

// PrimaryIndex returns the position in the pre-edit sequence that anchors the
// op. Collaboration uses it to re-locate an op against a shifted sequence.
// ok is false when the op has no anchor word, such as a paste at the front.
func (o Op) PrimaryIndex() (int, bool) {
	if len(o.Do) == 0 {
		return 0, false
	}
	switch a := o.Do[0].(type) {
	case DeleteSelection:
		return firstStart(a.Ranges)
	case UndoDeleteSelection:
		return firstStart(a.Ranges)
	case PasteWords:
		return a.StartIndex, a.StartIndex >= 0
	case UndoPasteWords:
		return a.StartIndex, a.StartIndex >= 0
	case MergeWords:
		return a.Range.StartIndex, true
	case UndoMergeWords:
		return a.Index, true
	case SplitWord:
		return a.Index, true
	case UndoSplitWord:
		return a.Range.StartIndex, true
	case MoveWords:
		return firstStart(a.Ranges)
	case UndoMoveWords:
		return a.Start, true
	case CorrectWord:
		return a.Index, true
	}
	return 0, false
}

func firstStart(ranges []transcript.IndexRange) (int, bool) {
	if len(ranges) == 0 {
		return 0, false
	}
	n := transcript.Normalize(ranges)
	if len(n) == 0 {
		return 0, false
	}
	return n[0].StartIndex, true
}

// Shifted returns a copy of o with every word position moved by delta.
func (o Op) Shifted(delta int) Op {
	if delta == 0 {
		return o
	}
	return Op{Do: shiftAll(o.Do, delta), Undo: shiftAll(o.Undo, delta)}
}

func shiftAll(actions []Action, delta int) []Action {
	out := make([]Action, len(actions))
	for i, a := range actions {
		out[i] = shift(a, delta)
	}
	return out
}

func shiftRanges(ranges []transcript.IndexRange, delta int) []transcript.IndexRange {
	out := make([]transcript.IndexRange, len(ranges))
	for i, r := range ranges {
		out[i] = transcript.IndexRange{StartIndex: r.StartIndex + delta, EndIndex: r.EndIndex + delta}
	}
	return out
}

func shift(a Action, delta int) Action {
	switch a := a.(type) {
	case DeleteSelection:
		return DeleteSelection{Ranges: shiftRanges(a.Ranges, delta)}
	case UndoDeleteSelection:
		return UndoDeleteSelection{Ranges: shiftRanges(a.Ranges, delta)}
	case PasteWords:
		a.StartIndex += delta
		return a
	case UndoPasteWords:
		a.StartIndex += delta
		return a
	case MergeWords:
		a.Range = shiftRanges([]transcript.IndexRange{a.Range}, delta)[0]
		return a
	case UndoMergeWords:
		a.Index += delta
		return a
	case SplitWord:
		a.Index += delta
		return a
	case UndoSplitWord:
		a.Range = shiftRanges([]transcript.IndexRange{a.Range}, delta)[0]
		return a
	case MoveWords:
		return MoveWords{Ranges: shiftRanges(a.Ranges, delta), DestinationBeforeIndex: a.DestinationBeforeIndex + delta}
	case UndoMoveWords:
		idx := make([]int, len(a.Indices))
		for i, v := range a.Indices {
			idx[i] = v + delta
		}
		return UndoMoveWords{Start: a.Start + delta, Indices: idx}
	case CorrectWord:
		a.Index += delta
		return a
	}
	return a
}
