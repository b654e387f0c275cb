// Package correct proposes fixes for words the recogniser was unsure about.
//
// A [Suggester] collects low-confidence words, asks an [llm.Provider] for
// corrections in a fixed JSON shape, and returns the answers that survive
// validation. It never edits a transcript itself; callers turn accepted
// suggestions into correctWord ops with [Suggestion.Op].
package correct

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/MrWong99/wordcut/internal/edit"
	"github.com/MrWong99/wordcut/internal/observe"
	"github.com/MrWong99/wordcut/pkg/provider/llm"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

var (
	// ErrMalformedReply is returned when the model's answer is not the JSON
	// array it was asked for.
	ErrMalformedReply = errors.New("correct: malformed model reply")

	// ErrStale is returned when a suggestion no longer matches the word it
	// was made for.
	ErrStale = errors.New("correct: word changed since the suggestion was made")
)

const systemPrompt = `You correct speech recognition errors in a transcript.
You receive numbered words the recogniser was unsure about, each with the words around it.
Reply with a JSON array only, one object per word you would change:
[{"index": <number>, "corrected": "<replacement word>", "confidence": <0..1>}]
Leave out words that are already correct. Never merge or split words.`

// contextWords is how many neighbours are shown on each side of a candidate.
const contextWords = 6

// Suggestion is one proposed correction.
type Suggestion struct {
	Index      int     `json:"index"`
	Original   string  `json:"original"`
	Corrected  string  `json:"corrected"`
	Confidence float64 `json:"confidence"`
}

// Op builds the correctWord op for s against words. It fails when the word
// at s.Index no longer reads s.Original.
func (s Suggestion) Op(words []transcript.Word) (edit.Op, error) {
	if s.Index < 0 || s.Index >= len(words) {
		return edit.Op{}, fmt.Errorf("%w: suggestion index %d", edit.ErrInvalidIndex, s.Index)
	}
	if words[s.Index].Text != s.Original {
		return edit.Op{}, fmt.Errorf("%w: word %d reads %q", ErrStale, s.Index, words[s.Index].Text)
	}
	return edit.MakeCorrectWord(words, s.Index, s.Corrected)
}

// Option configures a [Suggester].
type Option func(*Suggester)

// WithMinConfidence selects words whose confidence is below v.
func WithMinConfidence(v float64) Option {
	return func(s *Suggester) { s.minConfidence = v }
}

// WithMaxWords caps how many words are sent in one request.
func WithMaxWords(n int) Option {
	return func(s *Suggester) { s.maxWords = n }
}

// WithMetrics sets the metrics recorder. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Suggester) { s.metrics = m }
}

// Suggester asks a model for corrections. It is safe for concurrent use.
type Suggester struct {
	llm           llm.Provider
	minConfidence float64
	maxWords      int
	metrics       *observe.Metrics
}

// NewSuggester returns a Suggester backed by provider. Wrap the provider in a
// resilience.LLMFallback to guard it with circuit breakers.
func NewSuggester(provider llm.Provider, opts ...Option) *Suggester {
	s := &Suggester{llm: provider, minConfidence: 0.6, maxWords: 50}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Candidates returns the indices of non-deleted words below the confidence
// threshold, least confident first, capped at the configured maximum and
// then put back in sequence order.
func (s *Suggester) Candidates(words []transcript.Word) []int {
	var idx []int
	for i, w := range words {
		if !w.Deleted && w.Confidence < s.minConfidence {
			idx = append(idx, i)
		}
	}
	if s.maxWords > 0 && len(idx) > s.maxWords {
		slices.SortStableFunc(idx, func(a, b int) int {
			return cmp.Compare(words[a].Confidence, words[b].Confidence)
		})
		idx = idx[:s.maxWords]
		slices.Sort(idx)
	}
	return idx
}

// Suggest returns corrections for the low-confidence words of words, in
// sequence order. No candidates means no model call and no suggestions.
func (s *Suggester) Suggest(ctx context.Context, words []transcript.Word) ([]Suggestion, error) {
	ctx, span := observe.StartSpan(ctx, "correct.suggest")
	defer span.End()

	cands := s.Candidates(words)
	if len(cands) == 0 {
		return nil, nil
	}

	start := time.Now()
	resp, err := s.llm.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: prompt(words, cands)}},
		Temperature:  0.2,
	})
	s.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderRequest(ctx, "llm", "correct", "error")
		return nil, fmt.Errorf("correct: complete: %w", err)
	}
	s.metrics.RecordProviderRequest(ctx, "llm", "correct", "ok")
	if resp == nil {
		return nil, fmt.Errorf("%w: empty response", ErrMalformedReply)
	}

	out, err := parse(resp.Content, words, cands)
	if err != nil {
		return nil, err
	}
	observe.Logger(ctx).Debug("correction suggestions", "candidates", len(cands), "suggestions", len(out))
	return out, nil
}

func prompt(words []transcript.Word, cands []int) string {
	var sb strings.Builder
	for _, i := range cands {
		lo, hi := max(0, i-contextWords), min(len(words), i+contextWords+1)
		var around []string
		for j := lo; j < hi; j++ {
			if words[j].Deleted {
				continue
			}
			if j == i {
				around = append(around, "["+words[j].Text+"]")
				continue
			}
			around = append(around, words[j].Text)
		}
		fmt.Fprintf(&sb, "#%d %q (confidence %.2f): %s\n",
			i, words[i].Text, words[i].Confidence, strings.Join(around, " "))
	}
	return sb.String()
}

type reply struct {
	Index      int      `json:"index"`
	Corrected  string   `json:"corrected"`
	Confidence *float64 `json:"confidence"`
}

// parse extracts the JSON array from content and keeps entries that name a
// candidate and change its text.
func parse(content string, words []transcript.Word, cands []int) ([]Suggestion, error) {
	lo, hi := strings.Index(content, "["), strings.LastIndex(content, "]")
	if lo < 0 || hi < lo {
		return nil, fmt.Errorf("%w: no JSON array", ErrMalformedReply)
	}
	var replies []reply
	if err := json.Unmarshal([]byte(content[lo:hi+1]), &replies); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedReply, err)
	}

	seen := make(map[int]bool, len(replies))
	var out []Suggestion
	for _, r := range replies {
		text := strings.TrimSpace(r.Corrected)
		if _, ok := slices.BinarySearch(cands, r.Index); !ok || seen[r.Index] {
			continue
		}
		if text == "" || strings.ContainsAny(text, " \t\n") || text == words[r.Index].Text {
			continue
		}
		conf := 0.5
		if r.Confidence != nil {
			conf = min(1, max(0, *r.Confidence))
		}
		seen[r.Index] = true
		out = append(out, Suggestion{
			Index:      r.Index,
			Original:   words[r.Index].Text,
			Corrected:  text,
			Confidence: conf,
		})
	}
	slices.SortFunc(out, func(a, b Suggestion) int { return cmp.Compare(a.Index, b.Index) })
	return out, nil
}
