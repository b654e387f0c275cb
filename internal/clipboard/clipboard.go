// Package clipboard holds copied words for paste operations.
//
// A [Board] keeps the words themselves, since pasting needs their timing and
// identity. The plain text can additionally be mirrored to the operating
// system clipboard so it can be pasted into other applications.
package clipboard

import (
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/atotto/clipboard"

	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

// ErrEmpty is returned when pasting from an empty board.
var ErrEmpty = errors.New("clipboard: nothing copied")

// System writes text to an external clipboard.
type System interface {
	WriteAll(text string) error
}

// OS is the operating system clipboard.
type OS struct{}

// WriteAll implements [System].
func (OS) WriteAll(text string) error {
	if clipboard.Unsupported {
		return errors.New("clipboard: no system clipboard available")
	}
	return clipboard.WriteAll(text)
}

// Option configures a [Board].
type Option func(*Board)

// WithSystem mirrors copied text to sys.
func WithSystem(sys System) Option {
	return func(b *Board) { b.system = sys }
}

// Board is a word clipboard. It is safe for concurrent use.
type Board struct {
	system System

	mu    sync.Mutex
	words []transcript.Word
}

// New returns an empty Board.
func New(opts ...Option) *Board {
	b := &Board{}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Copy replaces the board contents with the non-deleted words of the
// selection, in sequence order. Take tags are dropped. It returns the number
// of words copied.
func (b *Board) Copy(words []transcript.Word, ranges []transcript.IndexRange) int {
	var picked []transcript.Word
	for _, r := range transcript.Normalize(ranges) {
		r = r.Clamp(len(words))
		for i := r.StartIndex; i < r.EndIndex; i++ {
			if !words[i].Deleted {
				picked = append(picked, words[i])
			}
		}
	}
	picked = transcript.StripTakeInfo(picked)

	b.mu.Lock()
	b.words = picked
	b.mu.Unlock()

	if b.system != nil && len(picked) > 0 {
		if err := b.system.WriteAll(Text(picked)); err != nil {
			slog.Warn("clipboard: system mirror failed", "err", err)
		}
	}
	return len(picked)
}

// Words returns a copy of the board contents.
func (b *Board) Words() []transcript.Word {
	b.mu.Lock()
	defer b.mu.Unlock()
	return transcript.CloneWords(b.words)
}

// PasteOp builds an op that pastes the board contents after startIndex.
func (b *Board) PasteOp(words []transcript.Word, startIndex int) (edit.Op, error) {
	clip := b.Words()
	if len(clip) == 0 {
		return edit.Op{}, ErrEmpty
	}
	return edit.MakePasteWords(words, startIndex, clip)
}

// Text joins the text of words with single spaces.
func Text(words []transcript.Word) string {
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	return strings.Join(texts, " ")
}
