package transcript

import (
	"fmt"
	"slices"
)

// IndexRange is a half-open interval [StartIndex, EndIndex) over word
// positions.
type IndexRange struct {
	StartIndex int `json:"startIndex"`
	EndIndex   int `json:"endIndex"`
}

// RangeLengthOne returns the range covering exactly index i.
func RangeLengthOne(i int) IndexRange {
	return IndexRange{StartIndex: i, EndIndex: i + 1}
}

// Contains reports whether i lies in the range.
func (r IndexRange) Contains(i int) bool {
	return r.StartIndex <= i && i < r.EndIndex
}

// IsIndexInRange is the free-function form of [IndexRange.Contains].
func IsIndexInRange(r IndexRange, i int) bool {
	return r.Contains(i)
}

// Len returns the number of indices covered, or 0 for an inverted range.
func (r IndexRange) Len() int {
	if r.EndIndex < r.StartIndex {
		return 0
	}
	return r.EndIndex - r.StartIndex
}

// Empty reports whether the range covers no index.
func (r IndexRange) Empty() bool { return r.Len() == 0 }

// Valid reports whether r is a well-formed range inside a sequence of length n.
func (r IndexRange) Valid(n int) bool {
	return r.StartIndex >= 0 && r.StartIndex <= r.EndIndex && r.EndIndex <= n
}

// Clamp intersects r with [0, n).
func (r IndexRange) Clamp(n int) IndexRange {
	s := min(max(r.StartIndex, 0), n)
	e := min(max(r.EndIndex, s), n)
	return IndexRange{StartIndex: s, EndIndex: e}
}

// Overlaps reports whether r and o share at least one index.
func (r IndexRange) Overlaps(o IndexRange) bool {
	return r.StartIndex < o.EndIndex && o.StartIndex < r.EndIndex
}

func (r IndexRange) String() string {
	return fmt.Sprintf("[%d,%d)", r.StartIndex, r.EndIndex)
}

// Normalize returns the ranges sorted by start with overlapping and adjacent
// ranges merged. Empty ranges are dropped.
func Normalize(ranges []IndexRange) []IndexRange {
	out := make([]IndexRange, 0, len(ranges))
	for _, r := range ranges {
		if !r.Empty() {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b IndexRange) int { return a.StartIndex - b.StartIndex })
	merged := out[:0]
	for _, r := range out {
		if n := len(merged); n > 0 && r.StartIndex <= merged[n-1].EndIndex {
			merged[n-1].EndIndex = max(merged[n-1].EndIndex, r.EndIndex)
			continue
		}
		merged = append(merged, r)
	}
	return merged
}

// MapInRanges returns a copy of items where every element whose index lies in
// the union of ranges is replaced by fn(element). fn runs at most once per
// index even when ranges overlap; ranges are clamped to the slice.
func MapInRanges[T any](items []T, fn func(T) T, ranges []IndexRange) []T {
	out := make([]T, len(items))
	copy(out, items)
	for _, r := range Normalize(ranges) {
		r = r.Clamp(len(items))
		for i := r.StartIndex; i < r.EndIndex; i++ {
			out[i] = fn(items[i])
		}
	}
	return out
}
