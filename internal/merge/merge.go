// Package merge joins a global-time transcript with speaker turns into the
// final speaker-attributed result.
package merge

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// FallbackSpeaker labels every segment when no diarization is available.
const FallbackSpeaker = "Speaker 1"

// DefaultMaxGap is the largest silence bridged when coalescing.
const DefaultMaxGap = 1.0

// ErrInconsistentInput means the transcript or diarization carried times
// that cannot be merged (NaN, infinite, negative, or reversed).
var ErrInconsistentInput = errors.New("inconsistent merge input")

// Segment is one speaker-attributed stretch of text.
type Segment struct {
	Start    float64 `json:"start"`
	End      float64 `json:"end"`
	Text     string  `json:"text"`
	Speaker  string  `json:"speaker"`
	Duration float64 `json:"duration"`
}

// Result is the completed transcription as delivered to clients.
type Result struct {
	Segments    []Segment         `json:"segments"`
	Speakers    map[string]string `json:"speakers"`
	NumSpeakers int               `json:"num_speakers"`
	Language    string            `json:"language"`
	Duration    float64           `json:"duration"`
	FullText    string            `json:"full_text"`
}

// Input is everything Build needs. Turns is nil in transcript-only mode or
// when diarization was unavailable.
type Input struct {
	Segments []transcribe.Segment
	Turns    []diarize.Segment
	Language string
	Duration float64
	MaxGap   float64
}

// Build validates in, assigns speakers, coalesces and assembles the result.
func Build(in Input) (*Result, error) {
	if err := Validate(in); err != nil {
		return nil, err
	}

	res := &Result{
		Segments: []Segment{},
		Speakers: map[string]string{},
		Language: in.Language,
		Duration: in.Duration,
	}
	if len(in.Segments) == 0 {
		return res, nil
	}

	segs := Coalesce(AssignSpeakers(in.Segments, in.Turns, FallbackSpeaker), in.MaxGap)

	texts := make([]string, 0, len(segs))
	for _, s := range segs {
		res.Speakers[s.Speaker] = s.Speaker
		texts = append(texts, s.Text)
	}
	res.Segments = segs
	res.NumSpeakers = len(res.Speakers)
	res.FullText = strings.Join(texts, " ")
	return res, nil
}

// Validate rejects times that would silently corrupt the merge.
func Validate(in Input) error {
	if bad(in.Duration) || in.Duration < 0 {
		return fmt.Errorf("%w: duration %v", ErrInconsistentInput, in.Duration)
	}
	if in.MaxGap < 0 || math.IsNaN(in.MaxGap) {
		return fmt.Errorf("%w: max gap %v", ErrInconsistentInput, in.MaxGap)
	}
	for i, s := range in.Segments {
		if err := checkSpan(s.Start, s.End); err != nil {
			return fmt.Errorf("%w: transcript segment %d: %v", ErrInconsistentInput, i, err)
		}
	}
	for i, t := range in.Turns {
		if err := checkSpan(t.Start, t.End); err != nil {
			return fmt.Errorf("%w: speaker turn %d: %v", ErrInconsistentInput, i, err)
		}
	}
	return nil
}

func checkSpan(start, end float64) error {
	switch {
	case bad(start) || bad(end):
		return fmt.Errorf("non-finite time [%v, %v]", start, end)
	case start < 0:
		return fmt.Errorf("negative start %v", start)
	case end < start:
		return fmt.Errorf("end %v before start %v", end, start)
	}
	return nil
}

func bad(f float64) bool { return math.IsNaN(f) || math.IsInf(f, 0) }

// AssignSpeakers gives each transcript segment the speaker whose turn
// overlaps it the most. Ties go to the earliest-starting turn. Segments with
// no overlap, or no turns at all, get fallback.
func AssignSpeakers(segs []transcribe.Segment, turns []diarize.Segment, fallback string) []Segment {
	sorted := make([]diarize.Segment, len(turns))
	copy(sorted, turns)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Start < sorted[j].Start })

	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		speaker := fallback
		best := 0.0
		for _, t := range sorted {
			if t.Start >= s.End {
				break
			}
			if ov := math.Min(s.End, t.End) - math.Max(s.Start, t.Start); ov > best {
				best = ov
				speaker = t.Speaker
			}
		}
		out = append(out, Segment{
			Start:    s.Start,
			End:      s.End,
			Text:     strings.TrimSpace(s.Text),
			Speaker:  speaker,
			Duration: s.End - s.Start,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// Coalesce joins maximal runs of same-speaker segments separated by at most
// maxGap seconds. The input must be sorted by start.
func Coalesce(segs []Segment, maxGap float64) []Segment {
	if len(segs) == 0 {
		return []Segment{}
	}
	out := make([]Segment, 0, len(segs))
	cur := segs[0]
	for _, s := range segs[1:] {
		if s.Speaker == cur.Speaker && s.Start-cur.End <= maxGap {
			cur.Text += " " + s.Text
			if s.End > cur.End {
				cur.End = s.End
			}
			cur.Duration = cur.End - cur.Start
			continue
		}
		out = append(out, cur)
		cur = s
	}
	return append(out, cur)
}
