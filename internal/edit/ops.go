package edit

import (
	"errors"
	"fmt"
	"slices"
	"unicode"

	"github.com/MrWong99/wordcut/pkg/transcript"
)

var (
	// ErrInvalidRange is returned when a selection does not fit the words.
	ErrInvalidRange = errors.New("edit: invalid range")

	// ErrInvalidIndex is returned when a word index does not fit the words.
	ErrInvalidIndex = errors.New("edit: invalid index")

	// ErrEmptyClipboard is returned when pasting nothing.
	ErrEmptyClipboard = errors.New("edit: empty clipboard")

	// ErrNothingToMerge is returned for a merge of fewer than two words.
	ErrNothingToMerge = errors.New("edit: merge needs at least two words")

	// ErrNothingToSplit is returned for a word that cannot be cut in two.
	ErrNothingToSplit = errors.New("edit: word cannot be split")

	// ErrEmptyText is returned when correcting a word to empty text. Callers
	// turn an emptied word into a deletion instead.
	ErrEmptyText = errors.New("edit: empty word text")

	// ErrNoChange is returned when the requested edit would leave the words
	// as they are. Callers treat it as "do not record history".
	ErrNoChange = errors.New("edit: no change")
)

func validateRanges(ranges []transcript.IndexRange, n int) error {
	if len(ranges) == 0 {
		return fmt.Errorf("%w: empty selection", ErrInvalidRange)
	}
	for _, r := range ranges {
		if !r.Valid(n) || r.Empty() {
			return fmt.Errorf("%w: %v in %d words", ErrInvalidRange, r, n)
		}
	}
	return nil
}

// MakeDeleteSelection builds an op that deletes the selected words. Words in
// the selection that are already deleted are left out of the op so that undo
// restores exactly the prior state.
func MakeDeleteSelection(words []transcript.Word, ranges []transcript.IndexRange) (Op, error) {
	if err := validateRanges(ranges, len(words)); err != nil {
		return Op{}, err
	}
	var live []transcript.IndexRange
	for _, r := range transcript.Normalize(ranges) {
		for i := r.StartIndex; i < r.EndIndex; i++ {
			if words[i].Deleted {
				continue
			}
			if n := len(live); n > 0 && live[n-1].EndIndex == i {
				live[n-1].EndIndex++
				continue
			}
			live = append(live, transcript.RangeLengthOne(i))
		}
	}
	if len(live) == 0 {
		return Op{}, ErrNoChange
	}
	return Op{
		Do:   []Action{DeleteSelection{Ranges: live}},
		Undo: []Action{UndoDeleteSelection{Ranges: slices.Clone(live)}},
	}, nil
}

// MakeRestoreSelection builds an op that undeletes the selected words. It is
// the user-facing "restore" and, like delete, only covers words whose flag
// actually changes.
func MakeRestoreSelection(words []transcript.Word, ranges []transcript.IndexRange) (Op, error) {
	if err := validateRanges(ranges, len(words)); err != nil {
		return Op{}, err
	}
	var dead []transcript.IndexRange
	for _, r := range transcript.Normalize(ranges) {
		for i := r.StartIndex; i < r.EndIndex; i++ {
			if !words[i].Deleted {
				continue
			}
			if n := len(dead); n > 0 && dead[n-1].EndIndex == i {
				dead[n-1].EndIndex++
				continue
			}
			dead = append(dead, transcript.RangeLengthOne(i))
		}
	}
	if len(dead) == 0 {
		return Op{}, ErrNoChange
	}
	return Op{
		Do:   []Action{UndoDeleteSelection{Ranges: dead}},
		Undo: []Action{DeleteSelection{Ranges: slices.Clone(dead)}},
	}, nil
}

// MakePasteWords builds an op that inserts clipboard after startIndex. A
// startIndex of -1 pastes at the front.
func MakePasteWords(words []transcript.Word, startIndex int, clipboard []transcript.Word) (Op, error) {
	if len(clipboard) == 0 {
		return Op{}, ErrEmptyClipboard
	}
	if startIndex < -1 || startIndex >= len(words) {
		return Op{}, fmt.Errorf("%w: paste after %d in %d words", ErrInvalidIndex, startIndex, len(words))
	}
	return Op{
		Do:   []Action{PasteWords{StartIndex: startIndex, Clipboard: transcript.StripTakeInfo(clipboard)}},
		Undo: []Action{UndoPasteWords{StartIndex: startIndex, ClipboardLength: len(clipboard)}},
	}, nil
}

// MakeMergeWords builds an op that merges the words in r into one.
func MakeMergeWords(words []transcript.Word, r transcript.IndexRange) (Op, error) {
	if !r.Valid(len(words)) {
		return Op{}, fmt.Errorf("%w: %v in %d words", ErrInvalidRange, r, len(words))
	}
	if r.Len() < 2 {
		return Op{}, ErrNothingToMerge
	}
	original := transcript.StripTakeInfo(words[r.StartIndex:r.EndIndex])
	return Op{
		Do:   []Action{MergeWords{Range: r}},
		Undo: []Action{UndoMergeWords{Index: r.StartIndex, OriginalWords: original}},
	}, nil
}

// MakeSplitWord builds an op that cuts the word at index in two. The cut
// goes at the whitespace closest to the middle of the text, or at the middle
// rune when the text has no inner whitespace.
func MakeSplitWord(words []transcript.Word, index int) (Op, error) {
	if index < 0 || index >= len(words) {
		return Op{}, fmt.Errorf("%w: split %d in %d words", ErrInvalidIndex, index, len(words))
	}
	w := words[index]
	at, ok := SplitPoint(w.Text)
	if !ok {
		return Op{}, fmt.Errorf("%w: %q", ErrNothingToSplit, w.Text)
	}
	w.TakeInfo = nil
	return Op{
		Do:   []Action{SplitWord{Index: index, At: at}},
		Undo: []Action{UndoSplitWord{Range: transcript.IndexRange{StartIndex: index, EndIndex: index + 2}, Original: w}},
	}, nil
}

// SplitPoint returns the rune offset at which text is cut by a split.
func SplitPoint(text string) (int, bool) {
	runes := []rune(text)
	mid := len(runes) / 2
	best := -1
	for i, r := range runes {
		if i == 0 || i == len(runes)-1 || !unicode.IsSpace(r) {
			continue
		}
		if best < 0 || abs(i-mid) < abs(best-mid) {
			best = i
		}
	}
	if best > 0 {
		return best, true
	}
	if len(runes) < 2 {
		return 0, false
	}
	for _, r := range runes {
		if unicode.IsSpace(r) {
			// Only leading or trailing whitespace; nothing meaningful to cut.
			return 0, false
		}
	}
	return mid, true
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// MakeMoveWords builds an op that moves the selected words before
// destinationBeforeIndex, counted in the sequence that remains once the
// selection is removed.
func MakeMoveWords(words []transcript.Word, ranges []transcript.IndexRange, destinationBeforeIndex int) (Op, error) {
	n := len(words)
	if err := validateRanges(ranges, n); err != nil {
		return Op{}, err
	}
	norm := transcript.Normalize(ranges)
	var indices []int
	for _, r := range norm {
		for i := r.StartIndex; i < r.EndIndex; i++ {
			indices = append(indices, i)
		}
	}
	remaining := n - len(indices)
	if destinationBeforeIndex < 0 || destinationBeforeIndex > remaining {
		return Op{}, fmt.Errorf("%w: destination %d outside %d remaining words", ErrInvalidIndex, destinationBeforeIndex, remaining)
	}
	// The block lands at destinationBeforeIndex. When that is where it already
	// sits contiguously the move changes nothing.
	if len(norm) == 1 && norm[0].StartIndex == destinationBeforeIndex {
		return Op{}, ErrNoChange
	}
	return Op{
		Do:   []Action{MoveWords{Ranges: norm, DestinationBeforeIndex: destinationBeforeIndex}},
		Undo: []Action{UndoMoveWords{Start: destinationBeforeIndex, Indices: indices}},
	}, nil
}

// MakeCorrectWord builds an op that replaces the text of the word at index.
func MakeCorrectWord(words []transcript.Word, index int, text string) (Op, error) {
	if index < 0 || index >= len(words) {
		return Op{}, fmt.Errorf("%w: correct %d in %d words", ErrInvalidIndex, index, len(words))
	}
	if text == "" {
		return Op{}, ErrEmptyText
	}
	prev := words[index].Text
	if prev == text {
		return Op{}, ErrNoChange
	}
	return Op{
		Do:   []Action{CorrectWord{Index: index, Text: text}},
		Undo: []Action{CorrectWord{Index: index, Text: prev}},
	}, nil
}

// MakeWordEdit builds the op for text typed over the word at index. Empty
// text deletes the word; the word's current text yields [ErrNoChange].
func MakeWordEdit(words []transcript.Word, index int, text string) (Op, error) {
	if text == "" {
		if index < 0 || index >= len(words) {
			return Op{}, fmt.Errorf("%w: edit %d in %d words", ErrInvalidIndex, index, len(words))
		}
		return MakeDeleteSelection(words, []transcript.IndexRange{transcript.RangeLengthOne(index)})
	}
	return MakeCorrectWord(words, index, text)
}

// Remake rebuilds op against words from its forward action alone, so the
// inverse reflects words rather than the state op was first built for. It is
// used for ops that arrive from another participant.
func Remake(words []transcript.Word, op Op) (Op, error) {
	if len(op.Do) != 1 {
		return Op{}, fmt.Errorf("%w: remake needs exactly one forward action, got %d", ErrUnknownAction, len(op.Do))
	}
	switch a := op.Do[0].(type) {
	case DeleteSelection:
		return MakeDeleteSelection(words, a.Ranges)
	case UndoDeleteSelection:
		return MakeRestoreSelection(words, a.Ranges)
	case PasteWords:
		return MakePasteWords(words, a.StartIndex, a.Clipboard)
	case MergeWords:
		return MakeMergeWords(words, a.Range)
	case SplitWord:
		return MakeSplitWord(words, a.Index)
	case MoveWords:
		return MakeMoveWords(words, a.Ranges, a.DestinationBeforeIndex)
	case CorrectWord:
		return MakeCorrectWord(words, a.Index, a.Text)
	}
	return Op{}, fmt.Errorf("%w: cannot remake %s", ErrUnknownAction, op.Kind())
}
