// Package phonetic implements a [takes.Classifier] that finds re-recorded
// passages by sound rather than exact text.
//
// A speaker who fumbles a sentence usually repeats it straight away, and the
// recogniser rarely produces identical text twice. The classifier therefore
// looks for back-to-back windows of words whose Double Metaphone codes mostly
// agree and whose Jaro-Winkler similarity clears a threshold. Each maximal
// run of such windows becomes one take group.
package phonetic

import (
	"context"
	"strings"

	"github.com/antzucaro/matchr"

	"github.com/MrWong99/wordcut/internal/takes"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

const (
	defaultThreshold = 0.88
	defaultMinWords  = 2
	defaultMaxWords  = 12
)

// Option configures a [Classifier].
type Option func(*Classifier)

// WithThreshold sets the minimum Jaro-Winkler similarity between two windows
// for them to count as takes of one passage. Default: 0.88.
func WithThreshold(v float64) Option {
	return func(c *Classifier) { c.threshold = v }
}

// WithWindow bounds the length in words of a take. Defaults: 2 and 12.
func WithWindow(minWords, maxWords int) Option {
	return func(c *Classifier) {
		c.minWords = minWords
		c.maxWords = maxWords
	}
}

// Classifier detects adjacent repeated passages. It is read-only after
// construction and safe for concurrent use.
type Classifier struct {
	threshold float64
	minWords  int
	maxWords  int
}

var _ takes.Classifier = (*Classifier)(nil)

// New returns a Classifier configured by opts.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		threshold: defaultThreshold,
		minWords:  defaultMinWords,
		maxWords:  defaultMaxWords,
	}
	for _, o := range opts {
		o(c)
	}
	if c.minWords < 1 {
		c.minWords = 1
	}
	if c.maxWords < c.minWords {
		c.maxWords = c.minWords
	}
	return c
}

// Classify implements [takes.Classifier]. Deleted words never take part in a
// take. Longer windows are preferred, and groups never overlap.
func (c *Classifier) Classify(ctx context.Context, words []transcript.Word) ([]takes.Descriptor, error) {
	tokens := make([]string, len(words))
	codes := make([]string, len(words))
	for i, w := range words {
		tokens[i] = normalise(w.Text)
		p, _ := matchr.DoubleMetaphone(tokens[i])
		codes[i] = p
	}

	claimed := make([]bool, len(words))
	var out []takes.Descriptor
	for size := c.maxWords; size >= c.minWords; size-- {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for start := 0; start+2*size <= len(words); start++ {
			if !c.free(words, claimed, start, size) {
				continue
			}
			ranges := []transcript.IndexRange{{StartIndex: start, EndIndex: start + size}}
			next := start + size
			for next+size <= len(words) && c.free(words, claimed, next, size) &&
				c.similar(tokens, codes, start, next, size) {
				ranges = append(ranges, transcript.IndexRange{StartIndex: next, EndIndex: next + size})
				next += size
			}
			if len(ranges) < 2 {
				continue
			}
			for i := start; i < next; i++ {
				claimed[i] = true
			}
			out = append(out, takes.Descriptor{Takes: ranges})
			start = next - 1
		}
	}
	return out, nil
}

func (c *Classifier) free(words []transcript.Word, claimed []bool, start, size int) bool {
	for i := start; i < start+size; i++ {
		if claimed[i] || words[i].Deleted || normalise(words[i].Text) == "" {
			return false
		}
	}
	return true
}

// similar compares the windows at a and b. Both must open on the same sound,
// at least half of the aligned word pairs must share a primary phonetic code,
// and the joined texts must clear the similarity threshold.
func (c *Classifier) similar(tokens, codes []string, a, b, size int) bool {
	if codes[a] == "" || codes[a] != codes[b] {
		return false
	}
	agree := 0
	for i := range size {
		if codes[a+i] != "" && codes[a+i] == codes[b+i] {
			agree++
		}
	}
	if agree*2 < size {
		return false
	}
	left := strings.Join(tokens[a:a+size], " ")
	right := strings.Join(tokens[b:b+size], " ")
	return matchr.JaroWinkler(left, right, false) >= c.threshold
}

func normalise(s string) string {
	return strings.ToLower(strings.TrimFunc(s, func(r rune) bool {
		return strings.ContainsRune(".,;:!?\"'()[]-", r)
	}))
}
