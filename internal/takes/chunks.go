package takes

import "github.com/MrWong99/wordcut/pkg/transcript"

// Chunk is one element of the presentation projection. It is either a
// [WordChunk] or a [TakeGroupChunk].
type Chunk interface {
	chunk()
}

// WordChunk is a word that belongs to no take group.
type WordChunk struct {
	Index int             `json:"index"`
	Word  transcript.Word `json:"word"`
}

// Take is one alternate of a group, with its words.
type Take struct {
	Range transcript.IndexRange `json:"range"`
	Words []transcript.Word     `json:"words"`
}

// TakeGroupChunk collapses all takes of a group into one element.
type TakeGroupChunk struct {
	Group transcript.TakeGroup `json:"group"`
	Takes []Take               `json:"takes"`
}

func (WordChunk) chunk()      {}
func (TakeGroupChunk) chunk() {}

// Chunks projects words into chunks. Words outside any group pass through one
// by one; a group appears once, at the position of its first take. words and
// st must come from the same [Detect] call.
func Chunks(words []transcript.Word, st State) []Chunk {
	owner := make(map[int]int, len(words))
	for gi, g := range st.Groups {
		for _, r := range g.Takes {
			for i := r.StartIndex; i < r.EndIndex && i < len(words); i++ {
				owner[i] = gi
			}
		}
	}

	out := make([]Chunk, 0, len(words))
	emitted := make([]bool, len(st.Groups))
	for i, w := range words {
		gi, inGroup := owner[i]
		if !inGroup {
			out = append(out, WordChunk{Index: i, Word: w})
			continue
		}
		if emitted[gi] {
			continue
		}
		emitted[gi] = true
		g := st.Groups[gi]
		c := TakeGroupChunk{Group: g, Takes: make([]Take, len(g.Takes))}
		for ti, r := range g.Takes {
			r = r.Clamp(len(words))
			c.Takes[ti] = Take{Range: r, Words: words[r.StartIndex:r.EndIndex]}
		}
		out = append(out, c)
	}
	return out
}
