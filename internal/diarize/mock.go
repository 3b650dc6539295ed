package diarize

import (
	"context"

	"github.com/snarg/scribe-engine/internal/audio"
)

// MockFixture lines up with the mock transcription fixture: three speakers,
// one per sentence.
var MockFixture = []Segment{
	{Start: 0.0, End: 4.5, Speaker: "SPEAKER_00"},
	{Start: 5.0, End: 10.0, Speaker: "SPEAKER_01"},
	{Start: 11.0, End: 18.0, Speaker: "SPEAKER_02"},
}

// MockDiarizer returns MockFixture cut to the audio length.
type MockDiarizer struct {
	Err error
}

func (m *MockDiarizer) Name() string { return "mock" }

func (m *MockDiarizer) Available(ctx context.Context) error { return nil }

func (m *MockDiarizer) Diarize(ctx context.Context, a *audio.Canonical, opts Options) ([]Segment, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	var out []Segment
	for _, s := range MockFixture {
		if s.Start >= a.Duration {
			break
		}
		if s.End > a.Duration {
			s.End = a.Duration
		}
		out = append(out, s)
	}
	return out, nil
}
