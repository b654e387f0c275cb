// Package export turns a committed transcript into an edit decision list.
//
// Playing words that follow each other in the source media are merged into
// one cut, so an unedited stretch of speech becomes a single EDL event.
package export

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/MrWong99/wordcut/internal/timing"
	"github.com/MrWong99/wordcut/pkg/transcript"
)

// contiguityEpsilon is the largest gap in seconds between two words that
// still counts as continuous source.
const contiguityEpsilon = 0.001

// ErrNoSource is returned when the EDL has no media to reference.
var ErrNoSource = errors.New("export: no media source")

// Cut is one continuous stretch of source media.
type Cut struct {
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
}

// End returns where the cut ends in the source.
func (c Cut) End() float64 { return c.StartTime + c.Duration }

// Cuts returns the source stretches that make up the output, in output
// order. Deleted and silenced words are skipped.
func Cuts(words []transcript.Word, silenced timing.Silencer) []Cut {
	var cuts []Cut
	for _, w := range words {
		if !timing.Plays(w, silenced) || w.Duration <= 0 {
			continue
		}
		if n := len(cuts); n > 0 && math.Abs(cuts[n-1].End()-w.InputStartTime) <= contiguityEpsilon {
			cuts[n-1].Duration = w.End() - cuts[n-1].StartTime
			continue
		}
		cuts = append(cuts, Cut{StartTime: w.InputStartTime, Duration: w.Duration})
	}
	return cuts
}

// Timestamp formats seconds as HH:MM:SS:FF at fps frames per second.
func Timestamp(seconds, fps float64) string {
	if seconds < 0 {
		seconds = 0
	}
	base := math.Round(fps)
	if base < 1 {
		base = 1
	}
	totalFrames := int64(math.Floor(seconds*fps + 1e-6))
	frames := totalFrames % int64(base)
	totalSeconds := totalFrames / int64(base)
	return fmt.Sprintf("%02d:%02d:%02d:%02d",
		totalSeconds/3600, (totalSeconds/60)%60, totalSeconds%60, frames)
}

// WriteEDL writes a CMX 3600 style EDL of cuts to w.
func WriteEDL(w io.Writer, title, source string, fps float64, cuts []Cut) error {
	if source == "" {
		return ErrNoSource
	}
	if fps <= 0 {
		return fmt.Errorf("export: invalid frame rate %v", fps)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "TITLE: %s\nFCM: NON-DROP FRAME\n\n", title)

	width := max(len(fmt.Sprint(len(cuts))), 3)
	var recStart float64
	for i, c := range cuts {
		recEnd := recStart + c.Duration
		fmt.Fprintf(&sb, "%0*d  AX       AA/V  C        %s %s %s %s\n* FROM CLIP NAME: %s\n\n",
			width, i+1,
			Timestamp(c.StartTime, fps), Timestamp(c.End(), fps),
			Timestamp(recStart, fps), Timestamp(recEnd, fps),
			source)
		recStart = recEnd
	}

	if _, err := io.WriteString(w, sb.String()); err != nil {
		return fmt.Errorf("export: write edl: %w", err)
	}
	return nil
}
