// Package transcript defines the word-level transcript model shared by every
// wordcut package.
//
// A [Transcription] is an ordered sequence of [Word] values. Sequence order is
// output order: the position of a word in the slice is where it plays in the
// edited result, while InputStartTime and Duration locate it in the source
// media. Edits never mutate a Transcription in place; every package that
// changes one returns a fresh value and leaves the input untouched.
package transcript

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalid is wrapped by every error returned from [Transcription.Validate].
var ErrInvalid = errors.New("transcript: invalid transcription")

// Word is a single timed unit of the transcript.
type Word struct {
	// Text is the spoken content. Never empty in a committed transcription.
	Text string `json:"word"`

	// InputStartTime is the start of the word in the source timeline, in seconds.
	InputStartTime float64 `json:"inputStartTime"`

	// Duration is the span of the word in the source timeline, in seconds.
	Duration float64 `json:"duration"`

	// OutputStartTime is the start of the word in the edited output timeline.
	// It is derived; only output-time recomputation writes it.
	OutputStartTime float64 `json:"outputStartTime"`

	// Confidence is the recogniser confidence in [0, 1].
	Confidence float64 `json:"confidence"`

	// Deleted marks a soft-deleted word. Deleted words stay in the sequence
	// and occupy zero output time.
	Deleted bool `json:"deleted"`

	// OriginalIndex is the position the word had at ingestion. Copies made by
	// paste keep the OriginalIndex of their source word.
	OriginalIndex int `json:"originalIndex"`

	// PasteKey is 0 for ingested words and unique across the transcription for
	// every manufactured word.
	PasteKey int `json:"pasteKey"`

	// TakeInfo is set by take detection only. It is never persisted and never
	// recorded in edit history.
	TakeInfo *TakeInfo `json:"takeInfo,omitempty"`
}

// Key returns the stable identity of the word. The pair (OriginalIndex,
// PasteKey) is unique within a valid transcription.
func (w Word) Key() string {
	return fmt.Sprintf("%d:%d", w.OriginalIndex, w.PasteKey)
}

// End returns the end of the word in the source timeline.
func (w Word) End() float64 {
	return w.InputStartTime + w.Duration
}

// Transcription is the whole editable transcript.
type Transcription struct {
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Clone returns a deep copy. TakeInfo pointers are copied by value so the
// clone shares no mutable state with t.
func (t Transcription) Clone() Transcription {
	return Transcription{Confidence: t.Confidence, Words: CloneWords(t.Words)}
}

// CloneWords returns a deep copy of words.
func CloneWords(words []Word) []Word {
	if words == nil {
		return nil
	}
	out := make([]Word, len(words))
	for i, w := range words {
		if w.TakeInfo != nil {
			ti := *w.TakeInfo
			w.TakeInfo = &ti
		}
		out[i] = w
	}
	return out
}

// StripDerived returns a copy with take tags removed. Persisted and
// clipboard copies of words must not carry take membership.
func (t Transcription) StripDerived() Transcription {
	return Transcription{Confidence: t.Confidence, Words: StripTakeInfo(t.Words)}
}

// StripTakeInfo returns a copy of words with TakeInfo cleared.
func StripTakeInfo(words []Word) []Word {
	if words == nil {
		return nil
	}
	out := make([]Word, len(words))
	for i, w := range words {
		w.TakeInfo = nil
		out[i] = w
	}
	return out
}

// MaxPasteKey returns the largest paste key in words, or 0.
func MaxPasteKey(words []Word) int {
	m := 0
	for _, w := range words {
		if w.PasteKey > m {
			m = w.PasteKey
		}
	}
	return m
}

// Text joins the text of every non-deleted word with single spaces.
func (t Transcription) Text() string {
	var sb strings.Builder
	for _, w := range t.Words {
		if w.Deleted {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(w.Text)
	}
	return sb.String()
}

// Validate checks the structural invariants of a committed transcription.
// All violations are reported together.
func (t Transcription) Validate() error {
	var errs []error
	keys := make(map[int]int, len(t.Words))
	for i, w := range t.Words {
		if w.Text == "" {
			errs = append(errs, fmt.Errorf("%w: word %d has empty text", ErrInvalid, i))
		}
		if w.Duration < 0 {
			errs = append(errs, fmt.Errorf("%w: word %d has negative duration %v", ErrInvalid, i, w.Duration))
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			errs = append(errs, fmt.Errorf("%w: word %d confidence %v outside [0,1]", ErrInvalid, i, w.Confidence))
		}
		if w.PasteKey < 0 {
			errs = append(errs, fmt.Errorf("%w: word %d has negative paste key", ErrInvalid, i))
		}
		if w.PasteKey > 0 {
			if prev, dup := keys[w.PasteKey]; dup {
				errs = append(errs, fmt.Errorf("%w: paste key %d used by words %d and %d", ErrInvalid, w.PasteKey, prev, i))
			}
			keys[w.PasteKey] = i
		}
	}
	return errors.Join(errs...)
}
