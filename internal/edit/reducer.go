package edit

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/wordcut/pkg/transcript"
)

var (
	// ErrInvalidAction is returned by [Apply] when an action does not fit the
	// transcription it is applied to.
	ErrInvalidAction = errors.New("edit: action does not apply")

	// ErrPasteKeyCollision reports a broken paste-key invariant. It can only
	// happen when a transcription was built outside this package.
	ErrPasteKeyCollision = errors.New("edit: paste key collision")

	// ErrUnknownAction is returned for an Action implementation Apply does
	// not know.
	ErrUnknownAction = errors.New("edit: unknown action")
)

// Apply returns the result of applying a to t. t is never modified. On error
// the returned transcription is the zero value and t remains authoritative.
func Apply(t transcript.Transcription, a Action) (transcript.Transcription, error) {
	words, err := applyWords(t.Words, a)
	if err != nil {
		return transcript.Transcription{}, err
	}
	return transcript.Transcription{Confidence: t.Confidence, Words: words}, nil
}

// ApplyAll applies actions in order. Either every action applies or t is
// returned unchanged alongside the first error.
func ApplyAll(t transcript.Transcription, actions []Action) (transcript.Transcription, error) {
	cur := t
	for i, a := range actions {
		next, err := Apply(cur, a)
		if err != nil {
			return t, fmt.Errorf("edit: action %d (%s): %w", i, a.Kind(), err)
		}
		cur = next
	}
	return cur, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidAction, fmt.Sprintf(format, args...))
}

func applyWords(words []transcript.Word, a Action) ([]transcript.Word, error) {
	n := len(words)
	switch a := a.(type) {
	case DeleteSelection:
		if err := checkRanges(a.Ranges, n); err != nil {
			return nil, err
		}
		return transcript.MapInRanges(words, setDeleted(true), a.Ranges), nil

	case UndoDeleteSelection:
		if err := checkRanges(a.Ranges, n); err != nil {
			return nil, err
		}
		return transcript.MapInRanges(words, setDeleted(false), a.Ranges), nil

	case PasteWords:
		return paste(words, a)

	case UndoPasteWords:
		from := a.StartIndex + 1
		to := from + a.ClipboardLength
		if a.StartIndex < -1 || a.ClipboardLength < 1 || to > n {
			return nil, invalid("unpaste %d words after %d in %d", a.ClipboardLength, a.StartIndex, n)
		}
		return slices.Concat(words[:from], words[to:]), nil

	case MergeWords:
		r := a.Range
		if !r.Valid(n) || r.Len() < 2 {
			return nil, invalid("merge range %v in %d words", r, n)
		}
		merged := mergeWords(words[r.StartIndex:r.EndIndex])
		return slices.Concat(words[:r.StartIndex], []transcript.Word{merged}, words[r.EndIndex:]), nil

	case UndoMergeWords:
		if a.Index < 0 || a.Index >= n || len(a.OriginalWords) == 0 {
			return nil, invalid("unmerge at %d in %d words", a.Index, n)
		}
		return slices.Concat(words[:a.Index], transcript.CloneWords(a.OriginalWords), words[a.Index+1:]), nil

	case SplitWord:
		if a.Index < 0 || a.Index >= n {
			return nil, invalid("split index %d in %d words", a.Index, n)
		}
		first, second, err := splitWord(words[a.Index], a.At, transcript.MaxPasteKey(words)+1)
		if err != nil {
			return nil, err
		}
		return slices.Concat(words[:a.Index], []transcript.Word{first, second}, words[a.Index+1:]), nil

	case UndoSplitWord:
		r := a.Range
		if !r.Valid(n) || r.Len() != 2 {
			return nil, invalid("unsplit range %v in %d words", r, n)
		}
		return slices.Concat(words[:r.StartIndex], []transcript.Word{a.Original}, words[r.EndIndex:]), nil

	case MoveWords:
		return move(words, a)

	case UndoMoveWords:
		return unmove(words, a)

	case CorrectWord:
		if a.Index < 0 || a.Index >= n {
			return nil, invalid("correct index %d in %d words", a.Index, n)
		}
		if a.Text == "" {
			return nil, invalid("correct word %d to empty text", a.Index)
		}
		out := slices.Clone(words)
		out[a.Index].Text = a.Text
		return out, nil
	}
	return nil, fmt.Errorf("%w: %T", ErrUnknownAction, a)
}

func setDeleted(v bool) func(transcript.Word) transcript.Word {
	return func(w transcript.Word) transcript.Word {
		w.Deleted = v
		return w
	}
}

func checkRanges(ranges []transcript.IndexRange, n int) error {
	if len(ranges) == 0 {
		return invalid("no ranges")
	}
	for _, r := range ranges {
		if !r.Valid(n) {
			return invalid("range %v outside %d words", r, n)
		}
	}
	return nil
}

func paste(words []transcript.Word, a PasteWords) ([]transcript.Word, error) {
	n := len(words)
	if a.StartIndex < -1 || a.StartIndex >= n {
		return nil, invalid("paste after %d in %d words", a.StartIndex, n)
	}
	if len(a.Clipboard) == 0 {
		return nil, invalid("paste of empty clipboard")
	}
	base := transcript.MaxPasteKey(words)
	used := make(map[int]struct{}, n)
	for _, w := range words {
		if w.PasteKey > 0 {
			used[w.PasteKey] = struct{}{}
		}
	}
	inserted := make([]transcript.Word, len(a.Clipboard))
	for i, w := range a.Clipboard {
		w.PasteKey = base + i + 1
		if _, dup := used[w.PasteKey]; dup {
			return nil, fmt.Errorf("%w: key %d", ErrPasteKeyCollision, w.PasteKey)
		}
		w.Deleted = false
		w.TakeInfo = nil
		inserted[i] = w
	}
	at := a.StartIndex + 1
	return slices.Concat(words[:at], inserted, words[at:]), nil
}

// mergeWords joins the texts of ws with single spaces. Everything else,
// timing and confidence included, comes from the first word.
func mergeWords(ws []transcript.Word) transcript.Word {
	merged := ws[0]
	merged.TakeInfo = nil
	texts := make([]string, len(ws))
	for i, w := range ws {
		texts[i] = w.Text
	}
	merged.Text = strings.Join(texts, " ")
	return merged
}

// splitWord cuts w at rune offset at. The first half keeps w's identity; the
// second half is a new word with the given paste key. Time is divided in
// proportion to the rune length of each half.
func splitWord(w transcript.Word, at, pasteKey int) (transcript.Word, transcript.Word, error) {
	runes := []rune(w.Text)
	if at <= 0 || at >= len(runes) {
		return w, w, invalid("split %q at %d", w.Text, at)
	}
	left := strings.TrimSpace(string(runes[:at]))
	right := strings.TrimSpace(string(runes[at:]))
	if left == "" || right == "" {
		return w, w, invalid("split %q at %d leaves an empty half", w.Text, at)
	}
	lw, rw := utf8.RuneCountInString(left), utf8.RuneCountInString(right)
	leftDur := w.Duration * float64(lw) / float64(lw+rw)

	first := w
	first.Text = left
	first.Duration = leftDur
	first.TakeInfo = nil

	second := w
	second.Text = right
	second.InputStartTime = w.InputStartTime + leftDur
	second.Duration = w.Duration - leftDur
	second.PasteKey = pasteKey
	second.TakeInfo = nil
	return first, second, nil
}

func move(words []transcript.Word, a MoveWords) ([]transcript.Word, error) {
	n := len(words)
	if err := checkRanges(a.Ranges, n); err != nil {
		return nil, err
	}
	ranges := transcript.Normalize(a.Ranges)
	block, rest := partition(words, ranges)
	if len(block) == 0 {
		return nil, invalid("move of empty selection")
	}
	if a.DestinationBeforeIndex < 0 || a.DestinationBeforeIndex > len(rest) {
		return nil, invalid("move destination %d outside %d remaining words", a.DestinationBeforeIndex, len(rest))
	}
	d := a.DestinationBeforeIndex
	return slices.Concat(rest[:d], block, rest[d:]), nil
}

func unmove(words []transcript.Word, a UndoMoveWords) ([]transcript.Word, error) {
	n := len(words)
	k := len(a.Indices)
	if k == 0 || a.Start < 0 || a.Start+k > n {
		return nil, invalid("unmove %d words at %d in %d", k, a.Start, n)
	}
	if !slices.IsSorted(a.Indices) || a.Indices[0] < 0 || a.Indices[k-1] >= n {
		return nil, invalid("unmove indices %v", a.Indices)
	}
	block := words[a.Start : a.Start+k]
	rest := slices.Concat(words[:a.Start], words[a.Start+k:])
	out := make([]transcript.Word, 0, n)
	bi, ri := 0, 0
	for i := range n {
		if bi < k && a.Indices[bi] == i {
			out = append(out, block[bi])
			bi++
			continue
		}
		if ri >= len(rest) {
			return nil, invalid("unmove indices %v do not fit %d words", a.Indices, n)
		}
		out = append(out, rest[ri])
		ri++
	}
	if bi != k {
		return nil, invalid("unmove indices %v not distinct", a.Indices)
	}
	return out, nil
}

// partition splits words into those inside ranges and the remainder, both
// in sequence order. ranges must be normalized.
func partition(words []transcript.Word, ranges []transcript.IndexRange) (in, rest []transcript.Word) {
	ri := 0
	for i, w := range words {
		for ri < len(ranges) && ranges[ri].EndIndex <= i {
			ri++
		}
		if ri < len(ranges) && ranges[ri].Contains(i) {
			in = append(in, w)
		} else {
			rest = append(rest, w)
		}
	}
	return in, rest
}
