package api

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/storage"
)

// UploadHandler stores audio for a later transcription request.
type UploadHandler struct {
	store    storage.AudioStore
	maxBytes int64
	log      zerolog.Logger
}

// NewUploadHandler creates a new upload handler. maxBytes <= 0 means no limit.
func NewUploadHandler(store storage.AudioStore, maxBytes int64, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		store:    store,
		maxBytes: maxBytes,
		log:      log.With().Str("handler", "upload").Logger(),
	}
}

// Routes registers the upload endpoints.
func (h *UploadHandler) Routes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Post("/recordings", h.SaveRecording)
}

// UploadResponse is returned for a stored file.
type UploadResponse struct {
	Success  bool   `json:"success"`
	FileID   string `json:"file_id"`
	Filename string `json:"filename,omitempty"`
	Size     int    `json:"size"`
	Message  string `json:"message"`
}

// Upload handles POST /api/v1/upload. The multipart "file" part must be audio
// or a video container; it is stored as <file_id><ext>.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	data, filename, contentType, ok := h.readPart(w, r, "file")
	if !ok {
		return
	}
	if !isMediaType(contentType) {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrUnsupportedMedia, "file must be an audio file")
		return
	}

	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		ext = ".wav"
	}
	h.save(w, r, data, filename, ext, "File uploaded successfully")
}

// SaveRecording handles POST /api/v1/recordings: a browser recording in the
// multipart "audio" part, always stored as WebM.
func (h *UploadHandler) SaveRecording(w http.ResponseWriter, r *http.Request) {
	data, _, _, ok := h.readPart(w, r, "audio")
	if !ok {
		return
	}
	h.save(w, r, data, "", ".webm", "Recording saved successfully")
}

func (h *UploadHandler) readPart(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, string, bool) {
	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorWithCode(w, http.StatusRequestEntityTooLarge, ErrTooLarge, "upload exceeds the size limit")
			return nil, "", "", false
		}
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidBody, "invalid multipart form: "+err.Error())
		return nil, "", "", false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(field)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "missing "+field+" part")
		return nil, "", "", false
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "failed to read uploaded file")
		return nil, "", "", false
	}
	if len(data) == 0 {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrBadRequest, "uploaded file is empty")
		return nil, "", "", false
	}
	return data, header.Filename, header.Header.Get("Content-Type"), true
}

func (h *UploadHandler) save(w http.ResponseWriter, r *http.Request, data []byte, filename, ext, msg string) {
	id := uuid.NewString()
	if err := h.store.Save(r.Context(), id+ext, data, storage.ContentTypeFromExt(ext)); err != nil {
		h.log.Error().Err(err).Str("file_id", id).Msg("failed to store upload")
		WriteErrorDetail(w, http.StatusInternalServerError, "upload failed", err.Error())
		return
	}
	h.log.Info().Str("file_id", id).Str("filename", filename).Int("bytes", len(data)).Msg("audio stored")

	WriteJSON(w, http.StatusOK, UploadResponse{
		Success:  true,
		FileID:   id,
		Filename: filename,
		Size:     len(data),
		Message:  msg,
	})
}

func isMediaType(contentType string) bool {
	return strings.HasPrefix(contentType, "audio/") || strings.HasPrefix(contentType, "video/")
}
