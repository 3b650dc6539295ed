package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/scribe-engine/internal/progress"
)

const keepaliveInterval = 15 * time.Second

// Stream handles GET /api/v1/transcribe-stream/{file_id}. It runs the
// pipeline and relays each progress event as an SSE frame until the terminal
// event. A client that disconnects detaches the stream; the pipeline stops
// dispatching chunks and no terminal event is written.
func (h *TranscribeHandler) Stream(w http.ResponseWriter, r *http.Request) {
	req, err := parseRequest(r)
	if err != nil {
		WriteErrorWithCode(w, http.StatusBadRequest, ErrInvalidParameter, err.Error())
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	session := uuid.NewString()
	s := h.newStream(session, h.buffer)

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	go h.runner.Run(ctx, req, s)

	keepalive := time.NewTicker(keepaliveInterval)
	defer keepalive.Stop()

	log := hlog.FromRequest(r).With().Str("session", session).Str("file_id", req.FileID).Logger()
	log.Info().Msg("SSE client connected")

	for {
		select {
		case <-ctx.Done():
			s.Detach()
			log.Info().Msg("SSE client disconnected")
			return
		case ev := <-s.Events():
			writeEvent(w, ev)
			flusher.Flush()
		case <-s.Done():
			// Informational events queued before the terminal one go first.
			for drained := false; !drained; {
				select {
				case ev := <-s.Events():
					writeEvent(w, ev)
				default:
					drained = true
				}
			}
			if term, ok := s.Terminal(); ok {
				writeEvent(w, term)
			}
			flusher.Flush()
			if n := s.Dropped(); n > 0 {
				log.Warn().Int("dropped", n).Msg("slow SSE client missed progress events")
			}
			return
		case <-keepalive.C:
			fmt.Fprint(w, ": keepalive\n\n")
			flusher.Flush()
		}
	}
}

func writeEvent(w io.Writer, ev progress.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		data = []byte(`{"status":"error","error":"event encoding failed"}`)
	}
	fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Status, data)
}
