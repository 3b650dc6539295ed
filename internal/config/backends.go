package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// BackendsFile is the optional YAML description of the backend priority list
// and per-backend settings. Only fields present in the file are applied.
//
//	transcription:
//	  priority: [remote, local, openai]
//	  chunk_seconds: 30
//	  remote:
//	    url: http://gpu-box:8002
//	  openai:
//	    url: http://vllm:8000/v1/audio/transcriptions
//	    model: openai/whisper-large-v3
//	    max_size_mb: 25
//	diarization:
//	  backend: pyannote
//	  url: http://gpu-box:8001
//	  max_speakers: 4
type BackendsFile struct {
	Transcription struct {
		Priority     []string `yaml:"priority"`
		ChunkSeconds float64  `yaml:"chunk_seconds"`
		Language     string   `yaml:"language"`
		Remote       struct {
			URL         string  `yaml:"url"`
			MaxDuration float64 `yaml:"max_duration"`
		} `yaml:"remote"`
		Local struct {
			Command string `yaml:"command"`
			Model   string `yaml:"model"`
			Device  string `yaml:"device"`
		} `yaml:"local"`
		OpenAI struct {
			URL       string  `yaml:"url"`
			Model     string  `yaml:"model"`
			MaxSizeMB float64 `yaml:"max_size_mb"`
			HealthURL string  `yaml:"health_url"`
		} `yaml:"openai"`
	} `yaml:"transcription"`

	Diarization struct {
		Backend     string `yaml:"backend"`
		URL         string `yaml:"url"`
		Command     string `yaml:"command"`
		MinSpeakers int    `yaml:"min_speakers"`
		MaxSpeakers int    `yaml:"max_speakers"`
	} `yaml:"diarization"`
}

// LoadBackendsFile parses a backends YAML file.
func LoadBackendsFile(path string) (*BackendsFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read backends file: %w", err)
	}
	var bf BackendsFile
	if err := yaml.Unmarshal(data, &bf); err != nil {
		return nil, fmt.Errorf("parse backends file %s: %w", path, err)
	}
	return &bf, nil
}

func (bf *BackendsFile) apply(cfg *Config) {
	t := bf.Transcription
	if len(t.Priority) > 0 {
		cfg.TranscribeBackends = t.Priority
	}
	if t.ChunkSeconds > 0 {
		cfg.ChunkSeconds = t.ChunkSeconds
	}
	if t.Language != "" {
		cfg.Language = t.Language
	}
	setString(&cfg.Remote.URL, t.Remote.URL)
	if t.Remote.MaxDuration > 0 {
		cfg.Remote.MaxDuration = t.Remote.MaxDuration
	}
	setString(&cfg.Local.Command, t.Local.Command)
	setString(&cfg.Local.Model, t.Local.Model)
	setString(&cfg.Local.Device, t.Local.Device)
	setString(&cfg.OpenAI.URL, t.OpenAI.URL)
	setString(&cfg.OpenAI.Model, t.OpenAI.Model)
	setString(&cfg.OpenAI.HealthURL, t.OpenAI.HealthURL)
	if t.OpenAI.MaxSizeMB > 0 {
		cfg.OpenAI.MaxSizeMB = t.OpenAI.MaxSizeMB
	}

	d := bf.Diarization
	setString(&cfg.DiarizeBackend, d.Backend)
	setString(&cfg.PyannoteURL, d.URL)
	setString(&cfg.LocalDiarizeCommand, d.Command)
	if d.MinSpeakers > 0 {
		cfg.MinSpeakers = d.MinSpeakers
	}
	if d.MaxSpeakers > 0 {
		cfg.MaxSpeakers = d.MaxSpeakers
	}
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
