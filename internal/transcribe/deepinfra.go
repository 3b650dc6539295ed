package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const deepInfraBaseURL = "https://api.deepinfra.com/v1/inference/"

// DeepInfraClient calls DeepInfra's native inference API for Whisper models.
type DeepInfraClient struct {
	apiKey  string
	model   string // e.g. "openai/whisper-large-v3-turbo"
	baseURL string
	client  *http.Client
}

// deepInfraResponse is the JSON response from the DeepInfra inference API.
type deepInfraResponse struct {
	Text     string             `json:"text"`
	Language string             `json:"language"`
	Duration float64            `json:"duration"`
	Words    []deepInfraWord    `json:"words"`
	Segments []deepInfraSegment `json:"segments"`
}

// deepInfraWord is a word with timestamps from DeepInfra.
// Note: DeepInfra uses "text" for the word field, not "word" like OpenAI.
type deepInfraWord struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

type deepInfraSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewDeepInfraClient creates a new DeepInfra inference client.
func NewDeepInfraClient(apiKey, model string, timeout time.Duration) *DeepInfraClient {
	return &DeepInfraClient{
		apiKey:  apiKey,
		model:   model,
		baseURL: deepInfraBaseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (di *DeepInfraClient) Name() string { return "deepinfra" }

// Model returns the configured model identifier.
func (di *DeepInfraClient) Model() string { return di.model }

func (di *DeepInfraClient) Capabilities() Capabilities { return Capabilities{} }

func (di *DeepInfraClient) Available(ctx context.Context) error {
	if di.apiKey == "" {
		return fmt.Errorf("DEEPINFRA_API_KEY not set")
	}
	return nil
}

// Transcribe sends a clip to DeepInfra's inference API.
// Uses multipart/form-data with field name "audio" (DeepInfra's convention).
func (di *DeepInfraClient) Transcribe(ctx context.Context, clip Clip) (*Result, error) {
	body, contentType, err := audioForm("audio", clip, formField{"language", clip.Language})
	if err != nil {
		return nil, err
	}

	// Endpoint: https://api.deepinfra.com/v1/inference/{model}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, di.baseURL+di.model, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+di.apiKey)

	data, err := doRequest(di.client, req, "deepinfra")
	if err != nil {
		return nil, err
	}

	var result deepInfraResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	var segments []Segment
	switch {
	case len(result.Segments) > 0:
		for _, s := range result.Segments {
			segments = append(segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
		}
	case len(result.Words) > 0:
		// Fallback: rebuild phrases from word timings.
		words := make([]timedWord, len(result.Words))
		for i, w := range result.Words {
			words[i] = timedWord{Text: w.Text, Start: w.Start, End: w.End}
		}
		segments = segmentsFromWords(words, phraseGap)
	default:
		segments = wholeClip(strings.TrimSpace(result.Text), clip)
	}

	return &Result{
		Text:     strings.TrimSpace(result.Text),
		Language: result.Language,
		Duration: result.Duration,
		Segments: segments,
	}, nil
}
