// Package diarize answers "who spoke when" for a canonical audio buffer. Every
// backend failure collapses into ErrUnavailable so the pipeline can degrade
// to a single speaker without caring why.
package diarize

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/metrics"
)

// ErrUnavailable is the only error callers see from Run.
var ErrUnavailable = errors.New("diarization unavailable")

// Segment is one speaker turn in global time.
type Segment struct {
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
	Speaker string  `json:"speaker"`
}

// Result is a normalized diarization: segments sorted by start, speakers
// labelled "Speaker 1".."Speaker N".
type Result struct {
	Segments    []Segment
	NumSpeakers int
	Speakers    map[string]string // raw backend id -> label
}

// Options are forwarded to the backend as hints.
type Options struct {
	MinSpeakers int
	MaxSpeakers int
}

// Backend is a diarization model invoked as an opaque service.
type Backend interface {
	Name() string
	Available(ctx context.Context) error
	// Diarize returns raw speaker turns; speaker ids are backend-specific.
	Diarize(ctx context.Context, a *audio.Canonical, opts Options) ([]Segment, error)
}

// Run probes b, diarizes a within timeout and normalizes the result. Any
// failure, an empty answer included, is returned wrapped in ErrUnavailable.
func Run(ctx context.Context, b Backend, a *audio.Canonical, opts Options, timeout time.Duration) (*Result, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: no backend configured", ErrUnavailable)
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := run(ctx, b, a, opts)
	if err != nil {
		metrics.DiarizationsTotal.WithLabelValues(b.Name(), "unavailable").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, b.Name(), err)
	}
	metrics.DiarizationsTotal.WithLabelValues(b.Name(), "ok").Inc()
	return res, nil
}

func run(ctx context.Context, b Backend, a *audio.Canonical, opts Options) (*Result, error) {
	if err := b.Available(ctx); err != nil {
		return nil, fmt.Errorf("health check: %w", err)
	}
	segs, err := b.Diarize(ctx, a, opts)
	if err != nil {
		return nil, err
	}
	res := Normalize(segs)
	if len(res.Segments) == 0 {
		return nil, errors.New("no speaker segments returned")
	}
	return res, nil
}

// Normalize drops empty turns, sorts by start and relabels raw speaker ids
// in sorted order as "Speaker 1".."Speaker N".
func Normalize(segs []Segment) *Result {
	kept := make([]Segment, 0, len(segs))
	ids := make(map[string]bool)
	for _, s := range segs {
		if !(s.Start < s.End) || s.Start < 0 {
			continue
		}
		kept = append(kept, s)
		ids[s.Speaker] = true
	}

	raw := make([]string, 0, len(ids))
	for id := range ids {
		raw = append(raw, id)
	}
	sort.Strings(raw)
	labels := make(map[string]string, len(raw))
	for i, id := range raw {
		labels[id] = fmt.Sprintf("Speaker %d", i+1)
	}

	for i := range kept {
		kept[i].Speaker = labels[kept[i].Speaker]
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })

	return &Result{Segments: kept, NumSpeakers: len(raw), Speakers: labels}
}
