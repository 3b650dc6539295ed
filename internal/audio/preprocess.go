package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Preprocessor normalizes arbitrary input (any container ffmpeg reads, video
// included) into canonical 16 kHz mono 16-bit PCM.
type Preprocessor struct {
	ffmpeg string
	tmpDir string
	log    zerolog.Logger

	checkOnce sync.Once
	available bool
}

// NewPreprocessor creates a preprocessor that shells out to ffmpegPath.
func NewPreprocessor(ffmpegPath, tmpDir string, log zerolog.Logger) *Preprocessor {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &Preprocessor{ffmpeg: ffmpegPath, tmpDir: tmpDir, log: log}
}

// Available reports whether ffmpeg is in PATH (checked once).
func (p *Preprocessor) Available() bool {
	p.checkOnce.Do(func() {
		_, err := exec.LookPath(p.ffmpeg)
		p.available = err == nil
		if !p.available {
			p.log.Warn().Str("ffmpeg", p.ffmpeg).Msg("ffmpeg not found; only 16kHz WAV input will be accepted")
		}
	})
	return p.available
}

// Prepare converts inputPath to canonical audio. The returned buffer owns any
// temporary file it was decoded from; callers must Release it.
func (p *Preprocessor) Prepare(ctx context.Context, inputPath string) (*Canonical, error) {
	if !p.Available() {
		c, err := Load(inputPath)
		if err != nil {
			return nil, err
		}
		if c.SampleRate != SampleRate {
			return nil, fmt.Errorf("%w: sample rate %d needs ffmpeg resampling", ErrDecode, c.SampleRate)
		}
		return c, nil
	}

	tmp, err := os.CreateTemp(p.tmpDir, "scribe-canonical-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	outPath := tmp.Name()
	tmp.Close()

	// -vn drops any video stream; pcm_s16le mono 16k is what every backend expects.
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, p.ffmpeg,
		"-y", "-loglevel", "error",
		"-i", inputPath,
		"-vn",
		"-acodec", "pcm_s16le",
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", SampleRate),
		"-f", "wav",
		outPath,
	)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		os.Remove(outPath)
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrDecode, err, strings.TrimSpace(stderr.String()))
	}

	c, err := Load(outPath)
	if err != nil {
		os.Remove(outPath)
		return nil, err
	}
	c.OnRelease(func() { os.Remove(outPath) })

	p.log.Debug().
		Str("input", inputPath).
		Float64("duration", c.Duration).
		Int("samples", len(c.Samples)).
		Msg("audio normalized")
	return c, nil
}
