package transcribe

import (
	"context"
	"strings"
	"time"
)

// MockFixture is the canned transcript returned by the mock backend.
var MockFixture = []Segment{
	{Start: 0.0, End: 3.5, Text: "Det var en gång en liten gubbe som bodde i en stubbe."},
	{Start: 5.5, End: 9.8, Text: "Sen pratar jag med en annan röst som är helt annorlunda."},
	{Start: 11.2, End: 17.5, Text: "Och så här jag ju den tredje rösten med en annan dialekt liksom då."},
}

// MockBackend returns MockFixture, cut to the clip length, for development
// without any model installed.
type MockBackend struct {
	Delay time.Duration
}

func (m *MockBackend) Name() string               { return "mock" }
func (m *MockBackend) Model() string              { return "mock-whisper" }
func (m *MockBackend) Capabilities() Capabilities { return Capabilities{} }

func (m *MockBackend) Available(ctx context.Context) error { return nil }

func (m *MockBackend) Transcribe(ctx context.Context, clip Clip) (*Result, error) {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var segs []Segment
	var texts []string
	for _, s := range MockFixture {
		if s.Start >= clip.Duration {
			break
		}
		if s.End > clip.Duration {
			s.End = clip.Duration
		}
		segs = append(segs, s)
		texts = append(texts, s.Text)
	}
	return &Result{
		Text:     strings.Join(texts, " "),
		Language: "sv",
		Duration: clip.Duration,
		Segments: segs,
	}, nil
}
