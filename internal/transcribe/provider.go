package transcribe

import (
	"context"

	"github.com/snarg/scribe-engine/internal/audio"
)

// Backend is the interface for speech-to-text backends. The set of kinds is
// closed and built by NewBackends; one instance per process is shared by all
// requests.
type Backend interface {
	Name() string  // "remote", "local", "openai", "deepinfra", "elevenlabs", "mock"
	Model() string // model identifier for logs and the backends endpoint
	Capabilities() Capabilities
	// Available returns nil when the backend can accept work right now.
	Available(ctx context.Context) error
	// Transcribe returns segments relative to the start of the clip.
	Transcribe(ctx context.Context, clip Clip) (*Result, error)
}

// Capabilities describes the per-call limits of a backend. Zero means unlimited.
type Capabilities struct {
	MaxDuration   float64 `json:"max_duration_seconds,omitempty"`
	MaxSizeBytes  int64   `json:"max_size_bytes,omitempty"`
	NeedsChunking bool    `json:"needs_chunking"` // cannot segment long audio on its own
}

// Clip is the audio handed to one backend call.
type Clip struct {
	Chunk      int // logical chunk index
	Samples    []int16
	SampleRate int
	Duration   float64
	Language   string // "" = let the backend detect
}

// WAV encodes the clip as a WAV file.
func (c Clip) WAV() []byte {
	return audio.EncodeWAV(c.Samples, c.SampleRate)
}

// Segment is a timestamped piece of transcript text. Backends return
// clip-relative times; the Orchestrator rewrites them to global time.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the common transcription result from any backend call.
type Result struct {
	Text     string
	Language string
	Duration float64
	Segments []Segment
}
