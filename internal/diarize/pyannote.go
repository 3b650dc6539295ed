package diarize

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/snarg/scribe-engine/internal/audio"
)

// PyannoteClient talks to a pyannote sidecar: GET /health reports
// {"available": bool}, POST /diarize takes a multipart "file".
type PyannoteClient struct {
	baseURL string
	client  *http.Client
}

type pyannoteHealth struct {
	Status    string `json:"status"`
	Available bool   `json:"available"`
	Message   string `json:"message"`
}

type pyannoteResponse struct {
	Success bool   `json:"success"`
	Detail  string `json:"detail"`
	Result  struct {
		NumSpeakers int `json:"num_speakers"`
		Segments    []struct {
			Start   float64 `json:"start"`
			End     float64 `json:"end"`
			Speaker string  `json:"speaker"`
		} `json:"segments"`
	} `json:"result"`
}

// NewPyannoteClient creates a sidecar client. The request timeout is applied
// by Run through the context.
func NewPyannoteClient(baseURL string) *PyannoteClient {
	return &PyannoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Minute},
	}
}

func (p *PyannoteClient) Name() string { return "pyannote" }

// Available checks that the sidecar is reachable and has its pipeline loaded.
func (p *PyannoteClient) Available(ctx context.Context) error {
	if p.baseURL == "" {
		return fmt.Errorf("no url configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("pyannote request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pyannote health returned status %d", resp.StatusCode)
	}

	var h pyannoteHealth
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return fmt.Errorf("decode health: %w", err)
	}
	if !h.Available {
		return fmt.Errorf("pyannote not ready: %s", h.Message)
	}
	return nil
}

// Diarize uploads the canonical audio as WAV with the speaker count hints.
func (p *PyannoteClient) Diarize(ctx context.Context, a *audio.Canonical, opts Options) ([]Segment, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "audio.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(a.WAV()); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	if opts.MinSpeakers > 0 {
		_ = writer.WriteField("min_speakers", strconv.Itoa(opts.MinSpeakers))
	}
	if opts.MaxSpeakers > 0 {
		_ = writer.WriteField("max_speakers", strconv.Itoa(opts.MaxSpeakers))
	}
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/diarize", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("diarization request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("diarization error (status %d): %s", resp.StatusCode, string(body))
	}

	var result pyannoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode diarization response: %w", err)
	}
	if !result.Success {
		return nil, fmt.Errorf("diarization error: %s", result.Detail)
	}

	segs := make([]Segment, 0, len(result.Result.Segments))
	for _, s := range result.Result.Segments {
		segs = append(segs, Segment{Start: s.Start, End: s.End, Speaker: s.Speaker})
	}
	return segs, nil
}
