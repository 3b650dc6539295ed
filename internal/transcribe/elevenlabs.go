package transcribe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const elevenLabsSTTEndpoint = "https://api.elevenlabs.io/v1/speech-to-text"

// phraseGap is the silence between words that starts a new segment when a
// backend only returns word timings.
const phraseGap = 0.8

// ElevenLabsClient calls the ElevenLabs Speech-to-Text API.
type ElevenLabsClient struct {
	apiKey   string
	model    string // "scribe_v1" or "scribe_v2"
	keyterms string // comma-separated boost terms
	endpoint string
	client   *http.Client
}

// elevenlabsResponse is the JSON response from the ElevenLabs STT API.
type elevenlabsResponse struct {
	LanguageCode        string           `json:"language_code"`
	LanguageProbability float64          `json:"language_probability"`
	Text                string           `json:"text"`
	Words               []elevenlabsWord `json:"words"`
}

// elevenlabsWord is a word or spacing entry from ElevenLabs.
type elevenlabsWord struct {
	Text  string  `json:"text"`
	Type  string  `json:"type"` // "word", "spacing" or "audio_event"
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// NewElevenLabsClient creates a new ElevenLabs STT client.
func NewElevenLabsClient(apiKey, model, keyterms string, timeout time.Duration) *ElevenLabsClient {
	return &ElevenLabsClient{
		apiKey:   apiKey,
		model:    model,
		keyterms: keyterms,
		endpoint: elevenLabsSTTEndpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

// Name returns the backend name.
func (el *ElevenLabsClient) Name() string { return "elevenlabs" }

// Model returns the configured model identifier.
func (el *ElevenLabsClient) Model() string { return el.model }

func (el *ElevenLabsClient) Capabilities() Capabilities { return Capabilities{} }

func (el *ElevenLabsClient) Available(ctx context.Context) error {
	if el.apiKey == "" {
		return fmt.Errorf("ELEVENLABS_API_KEY not set")
	}
	return nil
}

// Transcribe sends a clip to the ElevenLabs STT API and groups the returned
// words into phrase segments.
func (el *ElevenLabsClient) Transcribe(ctx context.Context, clip Clip) (*Result, error) {
	body, contentType, err := audioForm("file", clip,
		formField{"model_id", el.model},
		formField{"language_code", clip.Language},
		formField{"timestamps_granularity", "word"},
		formField{"keyterms", el.buildKeyterms()},
	)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, el.endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("xi-api-key", el.apiKey)

	data, err := doRequest(el.client, req, "elevenlabs")
	if err != nil {
		return nil, err
	}

	var result elevenlabsResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Spacing and audio events carry no speech.
	var words []timedWord
	for _, ew := range result.Words {
		if ew.Type != "word" {
			continue
		}
		words = append(words, timedWord{Text: ew.Text, Start: ew.Start, End: ew.End})
	}

	segments := segmentsFromWords(words, phraseGap)
	if len(segments) == 0 {
		segments = wholeClip(strings.TrimSpace(result.Text), clip)
	}

	return &Result{
		Text:     strings.TrimSpace(result.Text),
		Language: result.LanguageCode,
		Segments: segments,
	}, nil
}

// buildKeyterms turns the comma-separated config string into a JSON array
// for the ElevenLabs API.
func (el *ElevenLabsClient) buildKeyterms() string {
	var terms []string
	for _, t := range strings.Split(el.keyterms, ",") {
		t = strings.TrimSpace(t)
		if t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 {
		return ""
	}
	b, _ := json.Marshal(terms)
	return string(b)
}

type timedWord struct {
	Text  string
	Start float64
	End   float64
}

// segmentsFromWords groups consecutive words into segments, breaking at
// sentence-final punctuation or when the pause between words exceeds gap.
func segmentsFromWords(words []timedWord, gap float64) []Segment {
	var out []Segment
	var cur *Segment
	for _, w := range words {
		text := strings.TrimSpace(w.Text)
		if text == "" {
			continue
		}
		if cur != nil && w.Start-cur.End > gap {
			out = append(out, *cur)
			cur = nil
		}
		if cur == nil {
			cur = &Segment{Start: w.Start, End: w.End, Text: text}
		} else {
			cur.Text += " " + text
			cur.End = w.End
		}
		if strings.ContainsAny(text[len(text)-1:], ".?!") {
			out = append(out, *cur)
			cur = nil
		}
	}
	if cur != nil {
		out = append(out, *cur)
	}
	return out
}
