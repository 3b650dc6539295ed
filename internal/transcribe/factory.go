package transcribe

import (
	"fmt"

	"github.com/snarg/scribe-engine/internal/config"
)

// NewBackends builds the configured backends in priority order. Unknown or
// duplicate names are configuration errors.
func NewBackends(cfg *config.Config) ([]Backend, error) {
	seen := make(map[string]bool)
	backends := make([]Backend, 0, len(cfg.TranscribeBackends))
	for _, name := range cfg.TranscribeBackends {
		if seen[name] {
			return nil, fmt.Errorf("transcription backend %q listed twice", name)
		}
		seen[name] = true

		b, err := newBackend(name, cfg)
		if err != nil {
			return nil, err
		}
		backends = append(backends, b)
	}
	return backends, nil
}

func newBackend(name string, cfg *config.Config) (Backend, error) {
	timeout := cfg.TranscribeTimeout
	switch name {
	case "remote":
		return NewRemoteClient(cfg.Remote.URL, cfg.Remote.MaxDuration, timeout), nil
	case "local":
		return NewLocalWhisper(cfg.Local.Command, cfg.Local.Model, cfg.Local.Device, ""), nil
	case "openai", "vllm":
		o := cfg.OpenAI
		maxBytes := int64(o.MaxSizeMB * 1024 * 1024)
		return NewWhisperClient(o.URL, o.APIKey, o.Model, o.HealthURL, maxBytes,
			TranscribeOpts{Temperature: o.Temperature, Prompt: o.Prompt}, timeout), nil
	case "deepinfra":
		return NewDeepInfraClient(cfg.DeepInfra.APIKey, cfg.DeepInfra.Model, timeout), nil
	case "elevenlabs":
		e := cfg.ElevenLabs
		return NewElevenLabsClient(e.APIKey, e.Model, e.Keyterms, timeout), nil
	case "mock":
		return &MockBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown transcription backend %q", name)
	}
}
