// Package timing derives the output timeline of a transcript.
//
// Output time is a pure function of word order, durations, the deleted flags
// and take selection: every playing word starts where the previous playing
// word ended (plus a fixed buffer), while deleted and silenced words take no
// output time at all.
package timing

import "github.com/MrWong99/wordcut/pkg/transcript"

// SeekEpsilon is added to a word's output start when seeking to it so
// playback lands inside the word rather than on its boundary.
const SeekEpsilon = 0.01

// Silencer reports whether a word is excluded from playback for a reason
// other than deletion, such as belonging to an inactive take.
type Silencer func(transcript.Word) bool

// Plays reports whether w contributes output time.
func Plays(w transcript.Word, silenced Silencer) bool {
	if w.Deleted {
		return false
	}
	return silenced == nil || !silenced(w)
}

// BufferedDuration returns the output length of a playing word.
func BufferedDuration(w transcript.Word, buffer float64) float64 {
	return w.Duration + buffer
}

// Recompute returns a copy of words with OutputStartTime rewritten, plus the
// total output duration. Non-playing words receive the current cursor as
// their start and add nothing to it. The input slice is not modified.
func Recompute(words []transcript.Word, buffer float64, silenced Silencer) ([]transcript.Word, float64) {
	out := make([]transcript.Word, len(words))
	cursor := 0.0
	for i, w := range words {
		w.OutputStartTime = cursor
		if Plays(w, silenced) {
			cursor += BufferedDuration(w, buffer)
		}
		out[i] = w
	}
	return out, cursor
}

// WordAt returns the index of the playing word whose buffered output window
// contains t, or -1 when t falls outside every playing word.
func WordAt(words []transcript.Word, t, buffer float64, silenced Silencer) int {
	for i, w := range words {
		if !Plays(w, silenced) {
			continue
		}
		if t >= w.OutputStartTime && t < w.OutputStartTime+BufferedDuration(w, buffer) {
			return i
		}
	}
	return -1
}

// SeekTime returns the output time playback should seek to for word i.
func SeekTime(words []transcript.Word, i int) (float64, bool) {
	if i < 0 || i >= len(words) {
		return 0, false
	}
	return words[i].OutputStartTime + SeekEpsilon, true
}
