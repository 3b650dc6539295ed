package audio

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sync"

	"github.com/gopxl/beep/wav"
)

// SampleRate is the canonical sample rate every backend receives.
const SampleRate = 16000

// ErrDecode is returned when input audio cannot be turned into canonical PCM.
var ErrDecode = errors.New("audio decode failed")

// Canonical is decoded 16-bit mono PCM owned by a single request.
// The sample buffer is read-only once built and may be shared between the
// transcription and diarization passes without locking.
type Canonical struct {
	Samples    []int16
	SampleRate int
	Duration   float64 // seconds

	releaseOnce sync.Once
	cleanup     func()
}

// NewCanonical wraps already-decoded mono samples.
func NewCanonical(samples []int16, sampleRate int) *Canonical {
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return &Canonical{
		Samples:    samples,
		SampleRate: sampleRate,
		Duration:   float64(len(samples)) / float64(sampleRate),
	}
}

// Load decodes a WAV file from disk.
func Load(path string) (*Canonical, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return Decode(f)
}

// Decode reads a WAV stream and downmixes it to mono int16 PCM. The reader is
// closed if it implements io.Closer.
func Decode(r io.Reader) (*Canonical, error) {
	stream, format, err := wav.Decode(r)
	if err != nil {
		if c, ok := r.(io.Closer); ok {
			c.Close()
		}
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	defer stream.Close()

	// beep fills only channel 0 for mono files.
	mono := format.NumChannels == 1
	samples := make([]int16, 0, max(stream.Len(), 0))
	buf := make([][2]float64, 4096)
	for {
		n, ok := stream.Stream(buf)
		for i := 0; i < n; i++ {
			v := buf[i][0]
			if !mono {
				v = (buf[i][0] + buf[i][1]) / 2
			}
			samples = append(samples, toInt16(v))
		}
		if !ok {
			break
		}
	}
	if err := stream.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	return NewCanonical(samples, int(format.SampleRate)), nil
}

func toInt16(v float64) int16 {
	s := math.Round(v * 32768)
	if s > math.MaxInt16 {
		return math.MaxInt16
	}
	if s < math.MinInt16 {
		return math.MinInt16
	}
	return int16(s)
}

// Index converts a time offset to a sample index, clamped to the buffer.
func (c *Canonical) Index(sec float64) int {
	i := int(math.Round(sec * float64(c.SampleRate)))
	if i < 0 {
		return 0
	}
	if i > len(c.Samples) {
		return len(c.Samples)
	}
	return i
}

// Slice returns a non-owning view of the samples between two time offsets.
func (c *Canonical) Slice(start, end float64) []int16 {
	lo, hi := c.Index(start), c.Index(end)
	if hi < lo {
		hi = lo
	}
	return c.Samples[lo:hi:hi]
}

// WAV encodes the whole buffer as a WAV file.
func (c *Canonical) WAV() []byte {
	return EncodeWAV(c.Samples, c.SampleRate)
}

// OnRelease registers a function run exactly once by Release, typically the
// removal of a temporary file the buffer was decoded from.
func (c *Canonical) OnRelease(fn func()) {
	c.cleanup = fn
}

// Release drops the sample buffer and runs the registered cleanup. Safe to
// call more than once.
func (c *Canonical) Release() {
	c.releaseOnce.Do(func() {
		c.Samples = nil
		if c.cleanup != nil {
			c.cleanup()
		}
	})
}
