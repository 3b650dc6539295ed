package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/progress"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// TranscribeHandler serves the streaming and blocking transcription
// endpoints. Both run the same pipeline; they differ only in how the progress
// stream is drained.
type TranscribeHandler struct {
	runner *pipeline.Runner
	mirror func(session string) func(progress.Event)
	buffer int
	log    zerolog.Logger
}

func NewTranscribeHandler(runner *pipeline.Runner, mirror func(string) func(progress.Event), buffer int, log zerolog.Logger) *TranscribeHandler {
	if buffer <= 0 {
		buffer = 64
	}
	return &TranscribeHandler{
		runner: runner,
		mirror: mirror,
		buffer: buffer,
		log:    log.With().Str("handler", "transcribe").Logger(),
	}
}

// Routes registers the transcription endpoints.
func (h *TranscribeHandler) Routes(r chi.Router) {
	r.Get("/transcribe-stream/{file_id}", h.Stream)
	r.Post("/transcribe/{file_id}", h.Transcribe)
}

// TranscribeResponse is the body of a successful blocking request.
type TranscribeResponse struct {
	Success bool          `json:"success"`
	Session string        `json:"session"`
	Result  *merge.Result `json:"result"`
	Message string        `json:"message"`
}

func parseRequest(r *http.Request) (pipeline.Request, error) {
	req := pipeline.Request{FileID: chi.URLParam(r, "file_id")}
	if err := storage.ValidateID(req.FileID); err != nil {
		return req, err
	}
	if v, ok := QueryBool(r, "transcription_only"); ok {
		req.TranscriptionOnly = v
	}
	if v, ok := QueryString(r, "language"); ok {
		req.Language = v
	}
	return req, nil
}

func (h *TranscribeHandler) newStream(session string, buffer int) *progress.Stream {
	opts := progress.Options{Session: session, Buffer: buffer, Log: h.log}
	if h.mirror != nil {
		opts.Mirror = h.mirror(session)
	}
	return progress.New(opts)
}

// Transcribe handles POST /api/v1/transcribe/{file_id}. It blocks until the
// request reaches a terminal event and returns the merged result.
func (h *TranscribeHandler) Transcribe(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	session := uuid.NewString()
	s := h.newStream(session, 0)
	res, err := h.runner.Run(r.Context(), req, s)
	if err != nil {
		if errors.Is(err, transcribe.ErrCancelled) {
			hlog.FromRequest(r).Info().Str("session", session).Msg("client went away before the result")
			return
		}
		term, _ := s.Terminal()
		status, code := errorForReason(term.Reason)
		WriteErrorWithCode(w, status, code, term.Error)
		return
	}

	WriteJSON(w, http.StatusOK, TranscribeResponse{
		Success: true,
		Session: session,
		Result:  res,
		Message: "Transcription completed successfully",
	})
}

// errorForReason maps a failure reason to the HTTP status and error code of
// the blocking endpoint. Unmapped reasons pass through as the code.
func errorForReason(reason string) (int, string) {
	switch reason {
	case pipeline.ReasonNotFound:
		return http.StatusNotFound, ErrNotFound
	case pipeline.ReasonDecode:
		return http.StatusUnprocessableEntity, ErrUndecodable
	case pipeline.ReasonBackendUnavailable:
		return http.StatusServiceUnavailable, ErrUnavailable
	default:
		return http.StatusInternalServerError, reason
	}
}
