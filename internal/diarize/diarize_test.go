package diarize

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/config"
)

func silence(seconds float64) *audio.Canonical {
	return audio.NewCanonical(make([]int16, int(seconds*audio.SampleRate)), audio.SampleRate)
}

type stubBackend struct {
	availErr error
	segs     []Segment
	err      error
	wait     bool
}

func (s *stubBackend) Name() string                        { return "stub" }
func (s *stubBackend) Available(ctx context.Context) error { return s.availErr }
func (s *stubBackend) Diarize(ctx context.Context, a *audio.Canonical, opts Options) ([]Segment, error) {
	if s.wait {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.segs, s.err
}

func TestNormalize(t *testing.T) {
	res := Normalize([]Segment{
		{Start: 5, End: 7, Speaker: "SPEAKER_01"},
		{Start: 0, End: 3, Speaker: "SPEAKER_00"},
		{Start: 3, End: 3, Speaker: "SPEAKER_02"},
		{Start: 8, End: 9, Speaker: "SPEAKER_00"},
	})

	assert.Equal(t, 2, res.NumSpeakers)
	assert.Equal(t, map[string]string{"SPEAKER_00": "Speaker 1", "SPEAKER_01": "Speaker 2"}, res.Speakers)
	assert.Equal(t, []Segment{
		{Start: 0, End: 3, Speaker: "Speaker 1"},
		{Start: 5, End: 7, Speaker: "Speaker 2"},
		{Start: 8, End: 9, Speaker: "Speaker 1"},
	}, res.Segments)
}

func TestRun(t *testing.T) {
	ok := []Segment{{Start: 0, End: 1, Speaker: "A"}}
	tests := []struct {
		name    string
		backend Backend
		wantErr bool
	}{
		{"ok", &stubBackend{segs: ok}, false},
		{"nil_backend", nil, true},
		{"health_check_fails", &stubBackend{availErr: errors.New("connection refused"), segs: ok}, true},
		{"call_fails", &stubBackend{err: errors.New("cuda oom")}, true},
		{"empty_answer", &stubBackend{}, true},
		{"only_degenerate_turns", &stubBackend{segs: []Segment{{Start: 2, End: 1, Speaker: "A"}}}, true},
		{"timeout", &stubBackend{wait: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Run(context.Background(), tt.backend, silence(2), Options{}, 20*time.Millisecond)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnavailable)
				assert.Nil(t, res)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "Speaker 1", res.Segments[0].Speaker)
		})
	}
}

func TestPyannoteClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			json.NewEncoder(w).Encode(map[string]any{"status": "healthy", "available": true})
		case "/diarize":
			require.NoError(t, r.ParseMultipartForm(32<<20))
			_, _, err := r.FormFile("file")
			assert.NoError(t, err)
			assert.Equal(t, "2", r.FormValue("min_speakers"))
			assert.Equal(t, "4", r.FormValue("max_speakers"))
			json.NewEncoder(w).Encode(map[string]any{
				"success": true,
				"result": map[string]any{
					"num_speakers": 2,
					"segments": []map[string]any{
						{"start": 0.5, "end": 2.0, "speaker": "SPEAKER_01", "speaker_label": "Speaker 2"},
						{"start": 0.0, "end": 0.5, "speaker": "SPEAKER_00", "speaker_label": "Speaker 1"},
					},
				},
			})
		}
	}))
	defer srv.Close()

	p := NewPyannoteClient(srv.URL + "/")
	res, err := Run(context.Background(), p, silence(2), Options{MinSpeakers: 2, MaxSpeakers: 4}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumSpeakers)
	assert.Equal(t, []Segment{
		{Start: 0, End: 0.5, Speaker: "Speaker 1"},
		{Start: 0.5, End: 2.0, Speaker: "Speaker 2"},
	}, res.Segments)
}

func TestPyannoteClient_Unavailable(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{"not_ready", func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{"available": false, "message": "Pipeline not loaded"})
		}},
		{"server_error", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				json.NewEncoder(w).Encode(map[string]any{"available": true})
				return
			}
			http.Error(w, `{"detail":"Diarization failed"}`, http.StatusInternalServerError)
		}},
		{"service_down", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			_, err := Run(context.Background(), NewPyannoteClient(srv.URL), silence(1), Options{}, time.Second)
			assert.ErrorIs(t, err, ErrUnavailable)
		})
	}

	t.Run("connection_refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()
		_, err := Run(context.Background(), NewPyannoteClient(url), silence(1), Options{}, time.Second)
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}

func TestMockDiarizer(t *testing.T) {
	res, err := Run(context.Background(), &MockDiarizer{}, silence(20), Options{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3, res.NumSpeakers)
	assert.Equal(t, "Speaker 3", res.Segments[2].Speaker)

	res, err = Run(context.Background(), &MockDiarizer{}, silence(8), Options{}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, 2, res.NumSpeakers)
	assert.Equal(t, 8.0, res.Segments[1].End)
}

func TestNew(t *testing.T) {
	b, err := New(&config.Config{DiarizeBackend: "pyannote", PyannoteURL: "http://x"})
	require.NoError(t, err)
	assert.Equal(t, "pyannote", b.Name())

	b, err = New(&config.Config{DiarizeBackend: "none"})
	require.NoError(t, err)
	assert.Nil(t, b)

	_, err = New(&config.Config{DiarizeBackend: "bogus"})
	assert.Error(t, err)
}
