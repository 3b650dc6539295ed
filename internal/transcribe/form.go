package transcribe

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

// formField is an ordered multipart text field; zero values are skipped.
type formField struct {
	name  string
	value string
}

// audioForm builds a multipart/form-data body with the clip encoded as WAV
// under fileField, followed by the non-empty text fields.
func audioForm(fileField string, clip Clip, fields ...formField) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile(fileField, fmt.Sprintf("chunk-%03d.wav", clip.Chunk))
	if err != nil {
		return nil, "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(clip.WAV()); err != nil {
		return nil, "", fmt.Errorf("copy audio data: %w", err)
	}

	for _, f := range fields {
		if f.value == "" {
			continue
		}
		if err := w.WriteField(f.name, f.value); err != nil {
			return nil, "", fmt.Errorf("write field %s: %w", f.name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}

// doRequest executes req and returns the body of a 200 response. Any other
// status becomes an error naming the backend.
func doRequest(client *http.Client, req *http.Request, name string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request: %w", name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s API error (status %d): %s", name, resp.StatusCode, truncate(string(body), 512))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// wholeClip turns a text-only response into a single clip-spanning segment.
func wholeClip(text string, clip Clip) []Segment {
	if text == "" {
		return nil
	}
	return []Segment{{Start: 0, End: clip.Duration, Text: text}}
}
