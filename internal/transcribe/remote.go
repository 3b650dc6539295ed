package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// RemoteClient talks to a whisper-server sidecar: GET /health reports
// {"available": bool}, POST /transcribe takes a multipart "file" and answers
// {"success": true, "result": {...}}. The server chunks long audio itself.
type RemoteClient struct {
	baseURL     string
	maxDuration float64
	client      *http.Client
	probe       *http.Client
}

type remoteHealth struct {
	Status    string `json:"status"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

type remoteResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
	Result  struct {
		Text      string           `json:"text"`
		Language  string           `json:"language"`
		Duration  float64          `json:"duration"`
		ModelType string           `json:"model_type"`
		Segments  []whisperSegment `json:"segments"`
	} `json:"result"`
}

// NewRemoteClient creates a whisper-server client. maxDuration of 0 lets the
// server take whole files.
func NewRemoteClient(baseURL string, maxDuration float64, timeout time.Duration) *RemoteClient {
	return &RemoteClient{
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxDuration: maxDuration,
		client:      &http.Client{Timeout: timeout},
		probe:       &http.Client{},
	}
}

func (rc *RemoteClient) Name() string  { return "remote" }
func (rc *RemoteClient) Model() string { return rc.baseURL }

func (rc *RemoteClient) Capabilities() Capabilities {
	return Capabilities{MaxDuration: rc.maxDuration}
}

func (rc *RemoteClient) Available(ctx context.Context) error {
	if rc.baseURL == "" {
		return fmt.Errorf("no url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	data, err := doRequest(rc.probe, req, "whisper-server")
	if err != nil {
		return err
	}
	var h remoteHealth
	if err := json.Unmarshal(data, &h); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if !h.Available {
		return fmt.Errorf("whisper-server not ready: %s", h.Message)
	}
	return nil
}

func (rc *RemoteClient) Transcribe(ctx context.Context, clip Clip) (*Result, error) {
	body, contentType, err := audioForm("file", clip, formField{"language", clip.Language})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.baseURL+"/transcribe", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)

	data, err := doRequest(rc.client, req, "whisper-server")
	if err != nil {
		return nil, err
	}

	var resp remoteResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !resp.Success {
		return nil, fmt.Errorf("whisper-server: %s", resp.Detail)
	}

	segments := make([]Segment, 0, len(resp.Result.Segments))
	for _, s := range resp.Result.Segments {
		segments = append(segments, Segment{Start: s.Start, End: s.End, Text: s.Text})
	}
	if len(segments) == 0 {
		segments = wholeClip(strings.TrimSpace(resp.Result.Text), clip)
	}

	lang := resp.Result.Language
	if lang == "auto-detected" {
		lang = ""
	}

	return &Result{
		Text:     strings.TrimSpace(resp.Result.Text),
		Language: lang,
		Duration: resp.Result.Duration,
		Segments: segments,
	}, nil
}
