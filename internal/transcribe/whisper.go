package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const openAIHost = "api.openai.com"

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint:
// OpenAI itself, vLLM, or speaches. Hosted endpoints cap the upload size, so
// the orchestrator sub-splits chunks that would exceed it.
type WhisperClient struct {
	url       string
	apiKey    string
	model     string
	healthURL string
	maxSize   int64
	opts      TranscribeOpts
	client    *http.Client
}

// TranscribeOpts are per-process decoding options for the Whisper API.
// Zero-value fields are omitted from the request, so servers that ignore
// unknown form fields keep working.
type TranscribeOpts struct {
	Temperature float64
	Prompt      string // initial_prompt / domain vocabulary
}

// whisperResponse is the parsed verbose_json response.
type whisperResponse struct {
	Text     string           `json:"text"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []whisperSegment `json:"segments"`
}

type whisperSegment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// NewWhisperClient creates a new OpenAI-compatible client. maxSizeBytes of 0
// means the server has no upload limit.
func NewWhisperClient(url, apiKey, model, healthURL string, maxSizeBytes int64, opts TranscribeOpts, timeout time.Duration) *WhisperClient {
	return &WhisperClient{
		url:       url,
		apiKey:    apiKey,
		model:     model,
		healthURL: healthURL,
		maxSize:   maxSizeBytes,
		opts:      opts,
		client:    &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (wc *WhisperClient) Name() string { return "openai" }

// Model returns the configured model identifier.
func (wc *WhisperClient) Model() string { return wc.model }

func (wc *WhisperClient) Capabilities() Capabilities {
	return Capabilities{MaxSizeBytes: wc.maxSize}
}

// Available checks configuration and, when a health URL is set, that the
// server answers it with 200.
func (wc *WhisperClient) Available(ctx context.Context) error {
	if wc.url == "" {
		return fmt.Errorf("no url configured")
	}
	if wc.apiKey == "" && strings.Contains(wc.url, openAIHost) {
		return fmt.Errorf("OPENAI_API_KEY not set")
	}
	if wc.healthURL == "" {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wc.healthURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := wc.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// Transcribe sends a clip to the Whisper API and returns segment timestamps.
// Only non-default parameters are sent.
func (wc *WhisperClient) Transcribe(ctx context.Context, clip Clip) (*Result, error) {
	var temperature string
	if wc.opts.Temperature > 0 {
		temperature = fmt.Sprintf("%.2f", wc.opts.Temperature)
	}

	body, contentType, err := audioForm("file", clip,
		formField{"model", wc.model},
		formField{"language", clip.Language},
		formField{"temperature", temperature},
		formField{"prompt", wc.opts.Prompt},
		formField{"response_format", "verbose_json"},
		formField{"timestamp_granularities[]", "segment"},
	)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wc.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if wc.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+wc.apiKey)
	}

	data, err := doRequest(wc.client, req, "whisper")
	if err != nil {
		return nil, err
	}

	var result whisperResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	segments := make([]Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(segments) == 0 {
		segments = wholeClip(strings.TrimSpace(result.Text), clip)
	}

	return &Result{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Duration: result.Duration,
		Segments: segments,
	}, nil
}
