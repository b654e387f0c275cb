// Package ingest normalises raw speech-recogniser output into a
// [transcript.Transcription].
//
// Recognisers disagree on field names (start_time, startTime, start; conf,
// confidence; end instead of duration). [Parse] accepts all of them, and
// [Transcript] validates the result, stretches every word to the start of the
// next one so the edited output has no holes, and stamps each word with its
// permanent identity. Ingestion happens once per transcript; any failure
// yields no transcript at all.
package ingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/MrWong99/wordcut/pkg/transcript"
)

// ErrInvalidTranscript is wrapped by every ingestion failure.
var ErrInvalidTranscript = errors.New("ingest: invalid transcript")

var validate = validator.New(validator.WithRequiredStructEnabled())

// RawWord is one recogniser word before normalisation.
type RawWord struct {
	Text       string   `json:"word" validate:"required"`
	StartTime  *float64 `json:"start_time" validate:"required,gte=0"`
	Duration   *float64 `json:"duration,omitempty" validate:"omitempty,gte=0"`
	End        *float64 `json:"end,omitempty" validate:"omitempty,gte=0"`
	Confidence *float64 `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
}

// rawWordJSON lists every accepted spelling of the RawWord fields.
type rawWordJSON struct {
	Word           *string  `json:"word"`
	Text           *string  `json:"text"`
	StartTimeSnake *float64 `json:"start_time"`
	StartTimeCamel *float64 `json:"startTime"`
	Start          *float64 `json:"start"`
	Duration       *float64 `json:"duration"`
	End            *float64 `json:"end"`
	Confidence     *float64 `json:"confidence"`
	Conf           *float64 `json:"conf"`
}

// UnmarshalJSON implements json.Unmarshaler.
func (w *RawWord) UnmarshalJSON(data []byte) error {
	var j rawWordJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	*w = RawWord{
		Text:       deref(firstOf(j.Word, j.Text)),
		StartTime:  firstOf(j.StartTimeSnake, j.StartTimeCamel, j.Start),
		Duration:   j.Duration,
		End:        j.End,
		Confidence: firstOf(j.Confidence, j.Conf),
	}
	return nil
}

func firstOf[T any](vs ...*T) *T {
	for _, v := range vs {
		if v != nil {
			return v
		}
	}
	return nil
}

func deref[T any](v *T) T {
	var zero T
	if v == nil {
		return zero
	}
	return *v
}

// Raw is a whole recogniser result.
type Raw struct {
	Confidence *float64  `json:"confidence,omitempty" validate:"omitempty,gte=0,lte=1"`
	Words      []RawWord `json:"words" validate:"dive"`
}

// UnmarshalJSON implements json.Unmarshaler. Word lists under "result" are
// accepted as well as under "words".
func (r *Raw) UnmarshalJSON(data []byte) error {
	var j struct {
		Confidence *float64  `json:"confidence"`
		Words      []RawWord `json:"words"`
		Result     []RawWord `json:"result"`
	}
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	r.Confidence = j.Confidence
	r.Words = j.Words
	if r.Words == nil {
		r.Words = j.Result
	}
	return nil
}

// Parse decodes a raw recogniser result from rd.
func Parse(rd io.Reader) (Raw, error) {
	var raw Raw
	if err := json.NewDecoder(rd).Decode(&raw); err != nil {
		return Raw{}, fmt.Errorf("%w: decode: %w", ErrInvalidTranscript, err)
	}
	return raw, nil
}

// end returns where the recogniser says w ends, if it says so.
func (w RawWord) end() (float64, bool) {
	switch {
	case w.Duration != nil:
		return *w.StartTime + *w.Duration, true
	case w.End != nil:
		return *w.End, true
	}
	return 0, false
}

// Transcript normalises raw into a committed-ready transcription. Each word's
// duration is stretched to the next word's start; the last word runs to
// totalDuration. A non-positive totalDuration falls back to the last word's
// own end. Output start times are left at zero for the caller to recompute.
func Transcript(raw Raw, totalDuration float64) (transcript.Transcription, error) {
	if err := validate.Struct(raw); err != nil {
		return transcript.Transcription{}, fmt.Errorf("%w: %w", ErrInvalidTranscript, err)
	}
	n := len(raw.Words)
	for i := 1; i < n; i++ {
		if *raw.Words[i].StartTime < *raw.Words[i-1].StartTime {
			return transcript.Transcription{}, fmt.Errorf("%w: word %d starts at %v before word %d at %v",
				ErrInvalidTranscript, i, *raw.Words[i].StartTime, i-1, *raw.Words[i-1].StartTime)
		}
	}

	if n > 0 {
		last := raw.Words[n-1]
		if totalDuration <= 0 {
			if end, ok := last.end(); ok {
				totalDuration = end
			} else {
				totalDuration = *last.StartTime
			}
		}
		if totalDuration < *last.StartTime {
			return transcript.Transcription{}, fmt.Errorf("%w: media duration %v ends before last word at %v",
				ErrInvalidTranscript, totalDuration, *last.StartTime)
		}
	}

	words := make([]transcript.Word, n)
	sum := 0.0
	for i, rw := range raw.Words {
		next := totalDuration
		if i+1 < n {
			next = *raw.Words[i+1].StartTime
		}
		conf := 1.0
		if rw.Confidence != nil {
			conf = *rw.Confidence
		}
		sum += conf
		words[i] = transcript.Word{
			Text:           rw.Text,
			InputStartTime: *rw.StartTime,
			Duration:       roundMillis(next - *rw.StartTime),
			Confidence:     conf,
			OriginalIndex:  i,
		}
	}

	conf := 1.0
	switch {
	case raw.Confidence != nil:
		conf = *raw.Confidence
	case n > 0:
		conf = sum / float64(n)
	}
	return transcript.Transcription{Confidence: conf, Words: words}, nil
}

func roundMillis(v float64) float64 {
	return math.Round(v*1000) / 1000
}
