package api

import (
	"context"
	"net/http"
	"time"

	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

type HealthResponse struct {
	Status        string            `json:"status"`
	Version       string            `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Checks        map[string]string `json:"checks"`
}

type HealthHandler struct {
	runner        *pipeline.Runner
	mqttConnected func() bool
	watcherStatus func() string
	version       string
	startTime     time.Time
}

func NewHealthHandler(runner *pipeline.Runner, mqttConnected func() bool, watcherStatus func() string, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{
		runner:        runner,
		mqttConnected: mqttConnected,
		watcherStatus: watcherStatus,
		version:       version,
		startTime:     startTime,
	}
}

// ServeHTTP reports "unhealthy" (503) when no transcription backend can take
// work and "degraded" when an optional dependency is down.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checks := make(map[string]string)
	status := "healthy"
	httpStatus := http.StatusOK

	degrade := func() {
		if status == "healthy" {
			status = "degraded"
		}
	}

	// Transcription check
	if err := h.runner.Orchestrator().Ready(r.Context()); err != nil {
		checks["transcription"] = "unavailable"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	} else {
		checks["transcription"] = "ok"
	}

	// Diarization check
	if d := h.runner.Diarizer(); d == nil {
		checks["diarization"] = "not_configured"
	} else if err := probe(r.Context(), d.Available); err != nil {
		checks["diarization"] = "unavailable"
		degrade()
	} else {
		checks["diarization"] = "ok"
	}

	// MQTT check
	if h.mqttConnected != nil {
		if h.mqttConnected() {
			checks["mqtt"] = "ok"
		} else {
			checks["mqtt"] = "disconnected"
			degrade()
		}
	} else {
		checks["mqtt"] = "not_configured"
	}

	// Inbox watcher check
	if h.watcherStatus != nil {
		checks["watcher"] = h.watcherStatus()
	} else {
		checks["watcher"] = "not_configured"
	}

	WriteJSON(w, httpStatus, HealthResponse{
		Status:        status,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Checks:        checks,
	})
}

// DiarizerStatus is the diarization half of the backends report.
type DiarizerStatus struct {
	Name      string `json:"name"`
	Available bool   `json:"available"`
	Error     string `json:"error,omitempty"`
}

type BackendsResponse struct {
	Transcription []transcribe.BackendStatus `json:"transcription"`
	Diarization   *DiarizerStatus            `json:"diarization"`
}

// Backends handles GET /api/v1/backends. Every configured backend is probed;
// the list is in selection priority order.
func (h *HealthHandler) Backends(w http.ResponseWriter, r *http.Request) {
	resp := BackendsResponse{
		Transcription: h.runner.Orchestrator().Status(r.Context()),
	}
	if d := h.runner.Diarizer(); d != nil {
		st := &DiarizerStatus{Name: d.Name()}
		if err := probe(r.Context(), d.Available); err != nil {
			st.Error = err.Error()
		} else {
			st.Available = true
		}
		resp.Diarization = st
	}
	WriteJSON(w, http.StatusOK, resp)
}

func probe(ctx context.Context, available func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return available(ctx)
}
