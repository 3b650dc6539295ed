package transcribe

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/scribe-engine/internal/config"
)

func testClip(seconds float64) Clip {
	n := int(seconds * 16000)
	return Clip{Chunk: 2, Samples: make([]int16, n), SampleRate: 16000, Duration: seconds}
}

// readAudioPart parses the multipart request and returns the named file's
// size plus the text fields.
func readAudioPart(t *testing.T, r *http.Request, field string) (int, map[string]string) {
	t.Helper()
	require.NoError(t, r.ParseMultipartForm(32<<20))
	f, hdr, err := r.FormFile(field)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "chunk-002.wav", hdr.Filename)

	fields := make(map[string]string)
	for k, v := range r.MultipartForm.Value {
		fields[k] = v[0]
	}
	return len(data), fields
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func TestWhisperClient(t *testing.T) {
	var fields map[string]string
	var size int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/v1/audio/transcriptions":
			assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
			size, fields = readAudioPart(t, r, "file")
			writeJSON(w, map[string]any{
				"text":     " hello world ",
				"language": "english",
				"duration": 2.0,
				"segments": []map[string]any{
					{"start": 0.0, "end": 1.0, "text": " hello"},
					{"start": 1.0, "end": 2.0, "text": " world"},
				},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL+"/v1/audio/transcriptions", "sk-test", "whisper-1", srv.URL+"/health",
		25<<20, TranscribeOpts{Temperature: 0.2, Prompt: "Stockholm"}, 5*time.Second)
	require.NoError(t, wc.Available(context.Background()))
	assert.Equal(t, int64(25<<20), wc.Capabilities().MaxSizeBytes)

	clip := testClip(2)
	clip.Language = "en"
	res, err := wc.Transcribe(context.Background(), clip)
	require.NoError(t, err)

	assert.Equal(t, 44+2*32000, size)
	assert.Equal(t, "whisper-1", fields["model"])
	assert.Equal(t, "en", fields["language"])
	assert.Equal(t, "0.20", fields["temperature"])
	assert.Equal(t, "Stockholm", fields["prompt"])
	assert.Equal(t, "verbose_json", fields["response_format"])

	assert.Equal(t, "hello world", res.Text)
	assert.Equal(t, "english", res.Language)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, Segment{Start: 1, End: 2, Text: " world"}, res.Segments[1])
}

func TestWhisperClient_Available(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()

	tests := []struct {
		name   string
		client *WhisperClient
		ok     bool
	}{
		{"no_url", NewWhisperClient("", "", "m", "", 0, TranscribeOpts{}, time.Second), false},
		{"openai_without_key", NewWhisperClient("https://api.openai.com/v1/audio/transcriptions", "", "m", "", 0, TranscribeOpts{}, time.Second), false},
		{"self_hosted_without_key", NewWhisperClient("http://vllm:8000/v1/audio/transcriptions", "", "m", "", 0, TranscribeOpts{}, time.Second), true},
		{"health_not_ok", NewWhisperClient("http://vllm:8000/v1/audio/transcriptions", "", "m", down.URL, 0, TranscribeOpts{}, time.Second), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.client.Available(context.Background())
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestWhisperClient_TextOnlyResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"text": "just text"})
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "m", "", 0, TranscribeOpts{}, time.Second)
	res, err := wc.Transcribe(context.Background(), testClip(3))
	require.NoError(t, err)
	assert.Equal(t, []Segment{{Start: 0, End: 3, Text: "just text"}}, res.Segments)
}

func TestWhisperClient_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	wc := NewWhisperClient(srv.URL, "", "m", "", 0, TranscribeOpts{}, time.Second)
	_, err := wc.Transcribe(context.Background(), testClip(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestRemoteClient(t *testing.T) {
	var ready atomic.Bool
	ready.Store(true)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			writeJSON(w, map[string]any{"status": "ok", "available": ready.Load(), "message": "loading model"})
		case "/transcribe":
			_, fields := readAudioPart(t, r, "file")
			assert.Empty(t, fields["language"])
			writeJSON(w, map[string]any{
				"success": true,
				"result": map[string]any{
					"text":     "hej",
					"language": "auto-detected",
					"duration": 1.5,
					"segments": []map[string]any{{"start": 0.2, "end": 1.1, "text": "hej"}},
				},
			})
		}
	}))
	defer srv.Close()

	rc := NewRemoteClient(srv.URL+"/", 0, time.Second)
	require.NoError(t, rc.Available(context.Background()))

	ready.Store(false)
	err := rc.Available(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading model")

	res, err := rc.Transcribe(context.Background(), testClip(1.5))
	require.NoError(t, err)
	assert.Empty(t, res.Language, "auto-detected is not a language")
	assert.Equal(t, []Segment{{Start: 0.2, End: 1.1, Text: "hej"}}, res.Segments)
}

func TestRemoteClient_Unsuccessful(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"success": false, "detail": "model crashed"})
	}))
	defer srv.Close()

	rc := NewRemoteClient(srv.URL, 600, time.Second)
	assert.Equal(t, 600.0, rc.Capabilities().MaxDuration)
	_, err := rc.Transcribe(context.Background(), testClip(1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model crashed")
}

func TestDeepInfraClient(t *testing.T) {
	tests := []struct {
		name string
		body map[string]any
		want []Segment
	}{
		{
			name: "segments",
			body: map[string]any{
				"text":     "one two",
				"segments": []map[string]any{{"start": 0.0, "end": 1.0, "text": "one two"}},
			},
			want: []Segment{{Start: 0, End: 1, Text: "one two"}},
		},
		{
			name: "words_only",
			body: map[string]any{
				"text": "one two. three",
				"words": []map[string]any{
					{"text": "one", "start": 0.0, "end": 0.4},
					{"text": "two.", "start": 0.5, "end": 0.9},
					{"text": "three", "start": 1.0, "end": 1.4},
				},
			},
			want: []Segment{{Start: 0, End: 0.9, Text: "one two."}, {Start: 1.0, End: 1.4, Text: "three"}},
		},
		{
			name: "text_only",
			body: map[string]any{"text": "whole thing"},
			want: []Segment{{Start: 0, End: 2, Text: "whole thing"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/openai/whisper-large-v3", r.URL.Path)
				assert.Equal(t, "Bearer di-key", r.Header.Get("Authorization"))
				readAudioPart(t, r, "audio")
				writeJSON(w, tt.body)
			}))
			defer srv.Close()

			di := NewDeepInfraClient("di-key", "openai/whisper-large-v3", time.Second)
			di.baseURL = srv.URL + "/"
			res, err := di.Transcribe(context.Background(), testClip(2))
			require.NoError(t, err)
			assert.Equal(t, tt.want, res.Segments)
		})
	}
}

func TestElevenLabsClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "xi-key", r.Header.Get("xi-api-key"))
		_, fields := readAudioPart(t, r, "file")
		assert.Equal(t, "scribe_v1", fields["model_id"])
		assert.Equal(t, `["Kalmar","Öland"]`, fields["keyterms"])
		writeJSON(w, map[string]any{
			"language_code": "swe",
			"text":          "Hej där. Vad gör du",
			"words": []map[string]any{
				{"text": "Hej", "type": "word", "start": 0.0, "end": 0.3},
				{"text": " ", "type": "spacing", "start": 0.3, "end": 0.35},
				{"text": "där.", "type": "word", "start": 0.35, "end": 0.7},
				{"text": "(laughs)", "type": "audio_event", "start": 0.8, "end": 1.2},
				{"text": "Vad", "type": "word", "start": 2.5, "end": 2.7},
				{"text": "gör", "type": "word", "start": 2.75, "end": 2.9},
				{"text": "du", "type": "word", "start": 2.95, "end": 3.1},
			},
		})
	}))
	defer srv.Close()

	el := NewElevenLabsClient("xi-key", "scribe_v1", " Kalmar, Öland ,", time.Second)
	el.endpoint = srv.URL
	res, err := el.Transcribe(context.Background(), testClip(4))
	require.NoError(t, err)
	assert.Equal(t, "swe", res.Language)
	assert.Equal(t, []Segment{
		{Start: 0, End: 0.7, Text: "Hej där."},
		{Start: 2.5, End: 3.1, Text: "Vad gör du"},
	}, res.Segments)
}

func TestSegmentsFromWords(t *testing.T) {
	words := []timedWord{
		{Text: "a", Start: 0, End: 0.2},
		{Text: "b", Start: 0.3, End: 0.5},
		{Text: "", Start: 0.6, End: 0.7},
		{Text: "c", Start: 2.0, End: 2.2},
		{Text: "d?", Start: 2.3, End: 2.5},
		{Text: "e", Start: 2.6, End: 2.8},
	}
	got := segmentsFromWords(words, 0.8)
	assert.Equal(t, []Segment{
		{Start: 0, End: 0.5, Text: "a b"},
		{Start: 2.0, End: 2.5, Text: "c d?"},
		{Start: 2.6, End: 2.8, Text: "e"},
	}, got)
	assert.Empty(t, segmentsFromWords(nil, 0.8))
}

func TestMockBackend(t *testing.T) {
	m := &MockBackend{}
	res, err := m.Transcribe(context.Background(), testClip(10))
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 9.8, res.Segments[1].End)

	res, err = m.Transcribe(context.Background(), testClip(7))
	require.NoError(t, err)
	require.Len(t, res.Segments, 2)
	assert.Equal(t, 7.0, res.Segments[1].End, "clipped to the clip length")
}

func TestNewBackends(t *testing.T) {
	cfg := &config.Config{TranscribeBackends: []string{"remote", "vllm", "mock"}}
	bs, err := NewBackends(cfg)
	require.NoError(t, err)
	require.Len(t, bs, 3)
	assert.Equal(t, "remote", bs[0].Name())
	assert.Equal(t, "openai", bs[1].Name())
	assert.Equal(t, "mock", bs[2].Name())

	_, err = NewBackends(&config.Config{TranscribeBackends: []string{"mock", "mock"}})
	assert.Error(t, err)

	_, err = NewBackends(&config.Config{TranscribeBackends: []string{"nope"}})
	assert.Error(t, err)
}
