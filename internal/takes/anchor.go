package takes

import "github.com/MrWong99/wordcut/pkg/transcript"

// KeySpan identifies a take by the keys of its first and last word, so it
// stays attached to the same words when edits shift positions.
type KeySpan struct {
	First string `json:"first"`
	Last  string `json:"last"`
}

// Anchored is a [Descriptor] expressed in word keys.
type Anchored struct {
	Takes []KeySpan `json:"takes"`
}

// Anchor converts index-based descriptors into key-based ones against words.
// Takes that do not fit words are dropped.
func Anchor(words []transcript.Word, descriptors []Descriptor) []Anchored {
	out := make([]Anchored, 0, len(descriptors))
	for _, d := range descriptors {
		var a Anchored
		for _, r := range d.Takes {
			if !r.Valid(len(words)) || r.Empty() {
				continue
			}
			a.Takes = append(a.Takes, KeySpan{
				First: words[r.StartIndex].Key(),
				Last:  words[r.EndIndex-1].Key(),
			})
		}
		out = append(out, a)
	}
	return out
}

// Resolve converts anchored descriptors back to index ranges against words.
// A take whose boundary words are gone, or whose last word now precedes its
// first, resolves to an empty range and is ignored by [Detect]. The result
// has one descriptor per input so group ids stay stable.
func Resolve(words []transcript.Word, anchored []Anchored) []Descriptor {
	pos := make(map[string]int, len(words))
	for i, w := range words {
		pos[w.Key()] = i
	}
	out := make([]Descriptor, len(anchored))
	for gi, a := range anchored {
		d := Descriptor{Takes: make([]transcript.IndexRange, 0, len(a.Takes))}
		for _, span := range a.Takes {
			first, okF := pos[span.First]
			last, okL := pos[span.Last]
			if !okF || !okL || last < first {
				d.Takes = append(d.Takes, transcript.IndexRange{})
				continue
			}
			d.Takes = append(d.Takes, transcript.IndexRange{StartIndex: first, EndIndex: last + 1})
		}
		out[gi] = d
	}
	return out
}
