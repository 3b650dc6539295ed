package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/storage"
)

func buildMultipartForm(t *testing.T, fileField string, fileData []byte, fileName, contentType string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if fileData != nil && fileField != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+fileField+`"; filename="`+fileName+`"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		if err != nil {
			t.Fatal(err)
		}
		part.Write(fileData)
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func newTestUploadHandler(t *testing.T, maxBytes int64) (*UploadHandler, *storage.LocalStore) {
	t.Helper()
	store := storage.NewLocalStore(t.TempDir())
	return NewUploadHandler(store, maxBytes, zerolog.Nop()), store
}

func TestUpload(t *testing.T) {
	t.Run("stores_audio", func(t *testing.T) {
		h, store := newTestUploadHandler(t, 0)
		body, ct := buildMultipartForm(t, "file", []byte("RIFF....WAVE"), "standup.wav", "audio/wav")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()

		h.Upload(rec, req)

		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
		}
		var resp UploadResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("JSON decode: %v", err)
		}
		if !resp.Success || resp.Filename != "standup.wav" || resp.Size != 12 {
			t.Errorf("response = %+v", resp)
		}
		if !store.Exists(context.Background(), resp.FileID) {
			t.Error("uploaded file not found in store")
		}
		if _, err := os.Stat(filepath.Join(store.Dir(), resp.FileID+".wav")); err != nil {
			t.Errorf("stored name should keep the extension: %v", err)
		}
	})

	t.Run("accepts_video_container", func(t *testing.T) {
		h, _ := newTestUploadHandler(t, 0)
		body, ct := buildMultipartForm(t, "file", []byte("ftyp"), "call.mp4", "video/mp4")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.Upload(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("rejects_non_audio", func(t *testing.T) {
		h, _ := newTestUploadHandler(t, 0)
		body, ct := buildMultipartForm(t, "file", []byte("hello"), "notes.txt", "text/plain")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.Upload(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
		var resp ErrorResponse
		json.Unmarshal(rec.Body.Bytes(), &resp)
		if resp.Code != ErrUnsupportedMedia {
			t.Errorf("code = %q, want %q", resp.Code, ErrUnsupportedMedia)
		}
	})

	t.Run("missing_file_part", func(t *testing.T) {
		h, _ := newTestUploadHandler(t, 0)
		body, ct := buildMultipartForm(t, "", nil, "", "")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.Upload(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("not_multipart", func(t *testing.T) {
		h, _ := newTestUploadHandler(t, 0)
		req := httptest.NewRequest("POST", "/upload", bytes.NewReader([]byte(`{}`)))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		h.Upload(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want 400", rec.Code)
		}
	})

	t.Run("over_size_limit", func(t *testing.T) {
		h, store := newTestUploadHandler(t, 1024)
		body, ct := buildMultipartForm(t, "file", make([]byte, 4096), "big.wav", "audio/wav")
		req := httptest.NewRequest("POST", "/upload", body)
		req.Header.Set("Content-Type", ct)
		rec := httptest.NewRecorder()
		h.Upload(rec, req)
		if rec.Code < 400 {
			t.Errorf("status = %d, want a rejection", rec.Code)
		}
		entries, _ := os.ReadDir(store.Dir())
		if len(entries) != 0 {
			t.Errorf("nothing should be stored, found %d files", len(entries))
		}
	})
}

func TestSaveRecording(t *testing.T) {
	h, store := newTestUploadHandler(t, 0)
	body, ct := buildMultipartForm(t, "audio", []byte("\x1aE\xdf\xa3webm"), "blob", "application/octet-stream")
	req := httptest.NewRequest("POST", "/recordings", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()

	h.SaveRecording(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	var resp UploadResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("JSON decode: %v", err)
	}
	if _, err := os.Stat(filepath.Join(store.Dir(), resp.FileID+".webm")); err != nil {
		t.Errorf("recording should be stored as webm: %v", err)
	}
}

func TestIsMediaType(t *testing.T) {
	tests := []struct {
		ct   string
		want bool
	}{
		{"audio/wav", true},
		{"audio/mpeg", true},
		{"video/webm", true},
		{"text/plain", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := isMediaType(tt.ct); got != tt.want {
			t.Errorf("isMediaType(%q) = %v, want %v", tt.ct, got, tt.want)
		}
	}
}
