package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// LocalWhisper runs an on-host transcription command (a whisper.cpp or
// faster-whisper wrapper) once per chunk:
//
//	<command> --audio chunk.wav --model <model> --device <device> [--language xx]
//
// The command prints {"language", "duration", "segments": [{start, end, text}]}
// on stdout. Local inference cannot segment long audio, so it is always
// chunked.
type LocalWhisper struct {
	command string
	model   string
	device  string
	tmpDir  string
}

type localOutput struct {
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []whisperSegment `json:"segments"`
}

// NewLocalWhisper creates a subprocess backend.
func NewLocalWhisper(command, model, device, tmpDir string) *LocalWhisper {
	if device == "" {
		device = "auto"
	}
	return &LocalWhisper{command: command, model: model, device: device, tmpDir: tmpDir}
}

func (lw *LocalWhisper) Name() string  { return "local" }
func (lw *LocalWhisper) Model() string { return lw.model }

func (lw *LocalWhisper) Capabilities() Capabilities {
	return Capabilities{NeedsChunking: true}
}

func (lw *LocalWhisper) Available(ctx context.Context) error {
	if lw.command == "" {
		return fmt.Errorf("no command configured")
	}
	if _, err := exec.LookPath(lw.command); err != nil {
		return fmt.Errorf("command %q: %w", lw.command, err)
	}
	return nil
}

func (lw *LocalWhisper) Transcribe(ctx context.Context, clip Clip) (*Result, error) {
	tmp, err := os.CreateTemp(lw.tmpDir, "scribe-chunk-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(clip.WAV()); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close chunk: %w", err)
	}

	args := []string{"--audio", path, "--device", lw.device}
	if lw.model != "" {
		args = append(args, "--model", lw.model)
	}
	if clip.Language != "" {
		args = append(args, "--language", clip.Language)
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, lw.command, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			return nil, fmt.Errorf("%s failed: %s", lw.command, truncate(strings.TrimSpace(stderr.String()), 512))
		}
		return nil, fmt.Errorf("run %s: %w", lw.command, err)
	}

	var parsed localOutput
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s output: %w", lw.command, err)
	}

	segments := make([]Segment, 0, len(parsed.Segments))
	for _, s := range parsed.Segments {
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(segments) == 0 {
		segments = wholeClip(strings.TrimSpace(parsed.Text), clip)
	}

	return &Result{
		Text:     strings.TrimSpace(parsed.Text),
		Language: parsed.Language,
		Duration: parsed.Duration,
		Segments: segments,
	}, nil
}
