package ingest

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
)

// RequestMessage is the payload of a headless request published on
// <prefix>/requests. The file must already be in the AudioStore.
type RequestMessage struct {
	FileID            string `json:"file_id"`
	Session           string `json:"session,omitempty"`
	Language          string `json:"language,omitempty"`
	TranscriptionOnly bool   `json:"transcription_only,omitempty"`
}

// ParseRequest decodes and validates a request message.
func ParseRequest(payload []byte) (RequestMessage, error) {
	var m RequestMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		return m, fmt.Errorf("decode request: %w", err)
	}
	if err := storage.ValidateID(m.FileID); err != nil {
		return m, err
	}
	return m, nil
}

// RequestHandler returns an MQTT message handler that queues each valid
// request. Results are reported on the session's progress and result topics,
// so a caller that wants to correlate should supply its own session id.
func RequestHandler(q Enqueuer, log zerolog.Logger) func(topic string, payload []byte) {
	log = log.With().Str("component", "mqtt").Logger()
	return func(topic string, payload []byte) {
		m, err := ParseRequest(payload)
		if err != nil {
			metrics.InboxFilesTotal.WithLabelValues("rejected").Inc()
			log.Warn().Err(err).Str("topic", topic).Msg("invalid request message")
			return
		}
		job := pipeline.Job{
			Request: pipeline.Request{
				FileID:            m.FileID,
				Language:          m.Language,
				TranscriptionOnly: m.TranscriptionOnly,
			},
			Session: m.Session,
			Source:  "mqtt",
		}
		if !q.Enqueue(job) {
			metrics.InboxFilesTotal.WithLabelValues("rejected").Inc()
			log.Warn().Str("file_id", m.FileID).Msg("job queue full, request dropped")
			return
		}
		metrics.InboxFilesTotal.WithLabelValues("queued").Inc()
		log.Info().Str("file_id", m.FileID).Str("session", m.Session).Msg("request queued")
	}
}
