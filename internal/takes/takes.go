// Package takes maintains take groups: clusters of alternate recordings of
// the same passage from which the user picks one to keep.
//
// Which ranges are alternates is decided by a [Classifier] outside the commit
// path. This package only consumes that classification: [Detect] tags the
// member words, [Chunks] projects the sequence for presentation, and
// [State.WithActiveTake] switches the playing take without a structural edit.
package takes

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/MrWong99/wordcut/pkg/transcript"
)

var (
	// ErrUnknownGroup is returned when selecting a take in a group that does
	// not exist.
	ErrUnknownGroup = errors.New("takes: unknown take group")

	// ErrInvalidTake is returned when the take index is outside the group.
	ErrInvalidTake = errors.New("takes: take index out of range")
)

// Descriptor is one classified take group: two or more ranges believed to be
// re-recordings of the same utterance.
type Descriptor struct {
	Takes []transcript.IndexRange `json:"takes"`
}

// Classifier decides which ranges of a word sequence are alternate takes.
type Classifier interface {
	Classify(ctx context.Context, words []transcript.Word) ([]Descriptor, error)
}

// ClassifierFunc adapts a function to [Classifier].
type ClassifierFunc func(ctx context.Context, words []transcript.Word) ([]Descriptor, error)

// Classify implements [Classifier].
func (f ClassifierFunc) Classify(ctx context.Context, words []transcript.Word) ([]Descriptor, error) {
	return f(ctx, words)
}

// State is the derived take-group layout of one committed word sequence.
// The zero value has no groups. State is immutable; methods return copies.
type State struct {
	Groups []transcript.TakeGroup `json:"groups"`

	// firsts holds the key of each take's first word per group id. The
	// active take follows its words through [Detect] by this key.
	firsts map[int][]string
}

// activeKey returns the first-word key of the active take of group id.
func (s State) activeKey(id int) (string, bool) {
	g, ok := s.Group(id)
	if !ok {
		return "", false
	}
	keys := s.firsts[id]
	if g.ActiveTakeIndex >= len(keys) {
		return "", false
	}
	return keys[g.ActiveTakeIndex], true
}

// Group returns the group with the given id.
func (s State) Group(id int) (transcript.TakeGroup, bool) {
	for _, g := range s.Groups {
		if g.ID == id {
			return g, true
		}
	}
	return transcript.TakeGroup{}, false
}

// ActiveTakes returns the active take index per group id.
func (s State) ActiveTakes() map[int]int {
	out := make(map[int]int, len(s.Groups))
	for _, g := range s.Groups {
		out[g.ID] = g.ActiveTakeIndex
	}
	return out
}

// WithActiveTake returns a copy of s in which group id plays take. Nothing
// else changes; the word sequence is untouched.
func (s State) WithActiveTake(id, take int) (State, error) {
	out := State{Groups: slices.Clone(s.Groups), firsts: s.firsts}
	for i, g := range out.Groups {
		if g.ID != id {
			continue
		}
		if take < 0 || take >= g.TakeCount {
			return s, fmt.Errorf("%w: group %d has %d takes, got %d", ErrInvalidTake, id, g.TakeCount, take)
		}
		out.Groups[i].ActiveTakeIndex = take
		return out, nil
	}
	return s, fmt.Errorf("%w: %d", ErrUnknownGroup, id)
}

// Silenced reports whether w belongs to a take that is not the active take
// of its group. It has the shape of timing.Silencer.
func (s State) Silenced(w transcript.Word) bool {
	if w.TakeInfo == nil {
		return false
	}
	for _, g := range s.Groups {
		if g.ID == w.TakeInfo.TakeGroupID {
			return g.ActiveTakeIndex != w.TakeInfo.TakeIndex
		}
	}
	return false
}

// Detect tags words with their take membership and builds the group layout.
// Group ids are descriptor positions, so a group keeps its id while the
// classification stays the same. Descriptor ranges are clamped to the words;
// a descriptor that ends up with fewer than two non-empty takes, or whose
// takes overlap each other or an earlier group, is ignored.
//
// The active take of a group in prev carries over by identity: the take
// starting at the same word stays active even when takes before it were
// dropped or reordered. When that take is gone the group falls back to take
// 0. A prev without word keys (a restored selection) carries over by
// position. words is not modified.
func Detect(words []transcript.Word, descriptors []Descriptor, prev State) ([]transcript.Word, State) {
	n := len(words)
	active := prev.ActiveTakes()
	claimed := make([]bool, n)

	st := State{firsts: make(map[int][]string)}
	for id, d := range descriptors {
		var ranges []transcript.IndexRange
		for _, r := range d.Takes {
			if r = r.Clamp(n); !r.Empty() {
				ranges = append(ranges, r)
			}
		}
		if len(ranges) < 2 {
			continue
		}
		slices.SortFunc(ranges, func(a, b transcript.IndexRange) int { return a.StartIndex - b.StartIndex })
		if !disjoint(ranges, claimed) {
			continue
		}
		for _, r := range ranges {
			for i := r.StartIndex; i < r.EndIndex; i++ {
				claimed[i] = true
			}
		}
		firsts := make([]string, len(ranges))
		for i, r := range ranges {
			firsts[i] = words[r.StartIndex].Key()
		}
		g := transcript.TakeGroup{ID: id, TakeCount: len(ranges), Takes: ranges}
		if key, ok := prev.activeKey(id); ok {
			g.ActiveTakeIndex = max(slices.Index(firsts, key), 0)
		} else if a, ok := active[id]; ok && a < g.TakeCount {
			g.ActiveTakeIndex = a
		}
		st.Groups = append(st.Groups, g)
		st.firsts[id] = firsts
	}

	tagged := make([]transcript.Word, n)
	copy(tagged, words)
	for i := range tagged {
		tagged[i].TakeInfo = nil
	}
	for _, g := range st.Groups {
		for ti, r := range g.Takes {
			for i := r.StartIndex; i < r.EndIndex; i++ {
				tagged[i].TakeInfo = &transcript.TakeInfo{TakeGroupID: g.ID, TakeIndex: ti}
			}
		}
	}
	return tagged, st
}

// disjoint reports whether sorted ranges neither overlap each other nor touch
// an already claimed index.
func disjoint(sorted []transcript.IndexRange, claimed []bool) bool {
	for i, r := range sorted {
		if i > 0 && sorted[i-1].Overlaps(r) {
			return false
		}
		for j := r.StartIndex; j < r.EndIndex; j++ {
			if claimed[j] {
				return false
			}
		}
	}
	return true
}
