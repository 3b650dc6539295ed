package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/snarg/scribe-engine/internal/audio"
)

// LocalDiarizer runs an on-host diarization command:
//
//	<command> --audio file.wav [--min-speakers n] [--max-speakers n]
//
// which prints {"segments": [{start, end, speaker}]} on stdout.
type LocalDiarizer struct {
	command string
	tmpDir  string
}

func NewLocalDiarizer(command, tmpDir string) *LocalDiarizer {
	return &LocalDiarizer{command: command, tmpDir: tmpDir}
}

func (l *LocalDiarizer) Name() string { return "local" }

func (l *LocalDiarizer) Available(ctx context.Context) error {
	if l.command == "" {
		return fmt.Errorf("no command configured")
	}
	if _, err := exec.LookPath(l.command); err != nil {
		return fmt.Errorf("command %q: %w", l.command, err)
	}
	return nil
}

func (l *LocalDiarizer) Diarize(ctx context.Context, a *audio.Canonical, opts Options) ([]Segment, error) {
	tmp, err := os.CreateTemp(l.tmpDir, "scribe-diarize-*.wav")
	if err != nil {
		return nil, fmt.Errorf("create temp: %w", err)
	}
	path := tmp.Name()
	defer os.Remove(path)

	if _, err := tmp.Write(a.WAV()); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write audio: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close audio: %w", err)
	}

	args := []string{"--audio", path}
	if opts.MinSpeakers > 0 {
		args = append(args, "--min-speakers", strconv.Itoa(opts.MinSpeakers))
	}
	if opts.MaxSpeakers > 0 {
		args = append(args, "--max-speakers", strconv.Itoa(opts.MaxSpeakers))
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.command, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		var ee *exec.ExitError
		if errors.As(err, &ee) {
			msg := strings.TrimSpace(stderr.String())
			if len(msg) > 512 {
				msg = msg[:512]
			}
			return nil, fmt.Errorf("%s failed: %s", l.command, msg)
		}
		return nil, fmt.Errorf("run %s: %w", l.command, err)
	}

	var parsed struct {
		Segments []Segment `json:"segments"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s output: %w", l.command, err)
	}
	return parsed.Segments, nil
}
