package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8000"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"0s"` // 0 = no limit, SSE streams run for minutes
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken      string   `env:"AUTH_TOKEN"`
	LogLevel       string   `env:"LOG_LEVEL" envDefault:"info"`
	CORSOrigins    []string `env:"CORS_ORIGINS" envSeparator:","` // empty = allow all
	RateLimitRPS   float64  `env:"RATE_LIMIT_RPS" envDefault:"0"` // per client IP on uploads, 0 = off
	RateLimitBurst int      `env:"RATE_LIMIT_BURST" envDefault:"10"`

	AudioDir              string        `env:"AUDIO_DIR" envDefault:"./uploads"`
	MaxUploadMB           int64         `env:"MAX_UPLOAD_MB" envDefault:"100"`
	DeleteAfterProcessing bool          `env:"DELETE_AFTER_PROCESSING" envDefault:"true"`
	UploadRetention       time.Duration `env:"UPLOAD_RETENTION" envDefault:"24h"` // 0 = keep unprocessed uploads
	FFmpegPath            string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	S3                    S3Config

	// Transcription
	TranscribeBackends []string      `env:"TRANSCRIBE_BACKENDS" envSeparator:"," envDefault:"remote,local,openai"`
	BackendsFile       string        `env:"BACKENDS_FILE"`
	Language           string        `env:"WHISPER_LANGUAGE"`
	ChunkSeconds       float64       `env:"CHUNK_SECONDS" envDefault:"30"`
	TranscribeTimeout  time.Duration `env:"TRANSCRIBE_TIMEOUT" envDefault:"10m"`
	ProbeTimeout       time.Duration `env:"PROBE_TIMEOUT" envDefault:"5s"`

	Remote     RemoteWhisperConfig `envPrefix:"REMOTE_WHISPER_"`
	Local      LocalWhisperConfig  `envPrefix:"LOCAL_WHISPER_"`
	OpenAI     OpenAIConfig        `envPrefix:"OPENAI_"`
	DeepInfra  DeepInfraConfig     `envPrefix:"DEEPINFRA_"`
	ElevenLabs ElevenLabsConfig    `envPrefix:"ELEVENLABS_"`

	// Diarization
	DiarizeBackend      string        `env:"DIARIZE_BACKEND" envDefault:"pyannote"`
	PyannoteURL         string        `env:"PYANNOTE_URL" envDefault:"http://localhost:8001"`
	LocalDiarizeCommand string        `env:"LOCAL_DIARIZE_COMMAND" envDefault:"pyannote-diarize"`
	MinSpeakers         int           `env:"MIN_SPEAKERS" envDefault:"1"`
	MaxSpeakers         int           `env:"MAX_SPEAKERS" envDefault:"10"`
	DiarizeTimeout      time.Duration `env:"DIARIZE_TIMEOUT" envDefault:"10m"`

	MergeMaxGap float64 `env:"MERGE_MAX_GAP" envDefault:"1.0"`
	SSEBuffer   int     `env:"SSE_BUFFER" envDefault:"64"`

	// MQTT mirror (optional)
	MQTTBrokerURL   string `env:"MQTT_BROKER_URL"`
	MQTTClientID    string `env:"MQTT_CLIENT_ID" envDefault:"scribe-engine"`
	MQTTUsername    string `env:"MQTT_USERNAME"`
	MQTTPassword    string `env:"MQTT_PASSWORD"`
	MQTTTopicPrefix string `env:"MQTT_TOPIC_PREFIX" envDefault:"scribe"`
	MQTTRequests    bool   `env:"MQTT_REQUESTS" envDefault:"false"` // accept jobs on <prefix>/requests

	// Inbox watcher (optional)
	WatchDir               string `env:"WATCH_DIR"`
	WatchWorkers           int    `env:"WATCH_WORKERS" envDefault:"1"`
	WatchQueueSize         int    `env:"WATCH_QUEUE_SIZE" envDefault:"16"`
	WatchTranscriptionOnly bool   `env:"WATCH_TRANSCRIPTION_ONLY" envDefault:"false"`
}

// S3Config configures the optional S3-compatible audio store.
type S3Config struct {
	Bucket    string `env:"S3_BUCKET"`
	Endpoint  string `env:"S3_ENDPOINT"`
	Region    string `env:"S3_REGION" envDefault:"us-east-1"`
	AccessKey string `env:"S3_ACCESS_KEY"`
	SecretKey string `env:"S3_SECRET_KEY"`
	Prefix    string `env:"S3_PREFIX"`
}

// Enabled reports whether S3 storage is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// RemoteWhisperConfig points at a whisper-server sidecar (GET /health, POST /transcribe).
type RemoteWhisperConfig struct {
	URL         string  `env:"URL" envDefault:"http://localhost:8002"`
	MaxDuration float64 `env:"MAX_DURATION" envDefault:"0"` // 0 = server chunks internally
}

// LocalWhisperConfig runs an on-host transcription command per chunk.
type LocalWhisperConfig struct {
	Command string `env:"COMMAND" envDefault:"whisper-transcribe"`
	Model   string `env:"MODEL" envDefault:"KBLab/kb-whisper-large"`
	Device  string `env:"DEVICE" envDefault:"auto"`
}

// OpenAIConfig covers OpenAI itself and compatible servers (vLLM, speaches).
type OpenAIConfig struct {
	URL         string  `env:"URL" envDefault:"https://api.openai.com/v1/audio/transcriptions"`
	APIKey      string  `env:"API_KEY"`
	Model       string  `env:"MODEL" envDefault:"whisper-1"`
	MaxSizeMB   float64 `env:"MAX_SIZE_MB" envDefault:"25"`
	HealthURL   string  `env:"HEALTH_URL"`
	Temperature float64 `env:"TEMPERATURE" envDefault:"0"`
	Prompt      string  `env:"PROMPT"`
}

type DeepInfraConfig struct {
	APIKey string `env:"API_KEY"`
	Model  string `env:"MODEL" envDefault:"openai/whisper-large-v3-turbo"`
}

type ElevenLabsConfig struct {
	APIKey   string `env:"API_KEY"`
	Model    string `env:"MODEL" envDefault:"scribe_v1"`
	Keyterms string `env:"KEYTERMS"`
}

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile            string
	HTTPAddr           string
	LogLevel           string
	AudioDir           string
	TranscribeBackends string
	WatchDir           string
}

// Load reads configuration from .env file, environment variables, an optional
// backends file, and CLI overrides.
// Priority: CLI flags > backends file > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	// Parse environment variables into config struct
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	if cfg.BackendsFile != "" {
		bf, err := LoadBackendsFile(cfg.BackendsFile)
		if err != nil {
			return nil, err
		}
		bf.apply(cfg)
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.AudioDir != "" {
		cfg.AudioDir = overrides.AudioDir
	}
	if overrides.TranscribeBackends != "" {
		cfg.TranscribeBackends = splitList(overrides.TranscribeBackends)
	}
	if overrides.WatchDir != "" {
		cfg.WatchDir = overrides.WatchDir
	}

	cfg.TranscribeBackends = normalizeList(cfg.TranscribeBackends)
	cfg.DiarizeBackend = strings.ToLower(strings.TrimSpace(cfg.DiarizeBackend))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if len(c.TranscribeBackends) == 0 {
		return fmt.Errorf("TRANSCRIBE_BACKENDS must name at least one backend")
	}
	if c.ChunkSeconds <= 0 {
		return fmt.Errorf("CHUNK_SECONDS must be > 0, got %v", c.ChunkSeconds)
	}
	if c.MergeMaxGap < 0 {
		return fmt.Errorf("MERGE_MAX_GAP must be >= 0, got %v", c.MergeMaxGap)
	}
	if c.MinSpeakers > 0 && c.MaxSpeakers > 0 && c.MinSpeakers > c.MaxSpeakers {
		return fmt.Errorf("MIN_SPEAKERS (%d) exceeds MAX_SPEAKERS (%d)", c.MinSpeakers, c.MaxSpeakers)
	}
	return nil
}

func splitList(raw string) []string {
	return normalizeList(strings.Split(raw, ","))
}

func normalizeList(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.ToLower(strings.TrimSpace(s))
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
