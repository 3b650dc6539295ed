package diarize

import (
	"fmt"

	"github.com/snarg/scribe-engine/internal/config"
)

// New builds the configured diarization backend. "none" disables
// diarization; the pipeline then labels every segment with one speaker.
func New(cfg *config.Config) (Backend, error) {
	switch cfg.DiarizeBackend {
	case "pyannote", "remote":
		return NewPyannoteClient(cfg.PyannoteURL), nil
	case "local":
		return NewLocalDiarizer(cfg.LocalDiarizeCommand, ""), nil
	case "mock":
		return &MockDiarizer{}, nil
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown diarization backend %q", cfg.DiarizeBackend)
	}
}

// OptionsFrom returns the speaker hints from configuration.
func OptionsFrom(cfg *config.Config) Options {
	return Options{MinSpeakers: cfg.MinSpeakers, MaxSpeakers: cfg.MaxSpeakers}
}
