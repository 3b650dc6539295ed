package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/progress"
	"github.com/snarg/scribe-engine/internal/storage"
)

// ServerOptions wires the HTTP server. The func-typed fields are optional;
// nil means the feature is not configured.
type ServerOptions struct {
	Config *config.Config
	Runner *pipeline.Runner
	Store  storage.AudioStore

	Mirror        func(session string) func(progress.Event)
	MQTTConnected func() bool
	WatcherStatus func() string

	Version   string
	StartTime time.Time
	Log       zerolog.Logger
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(opts ServerOptions) *Server {
	cfg := opts.Config
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(opts),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: opts.Log,
	}
}

// NewRouter builds the route tree. Split from NewServer for tests.
func NewRouter(opts ServerOptions) http.Handler {
	cfg := opts.Config
	log := opts.Log.With().Str("component", "http").Logger()

	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(metrics.InstrumentHandler)
	r.Use(CORSWithOrigins(cfg.CORSOrigins))

	health := NewHealthHandler(opts.Runner, opts.MQTTConnected, opts.WatcherStatus, opts.Version, opts.StartTime)
	tr := NewTranscribeHandler(opts.Runner, opts.Mirror, cfg.SSEBuffer, log)
	up := NewUploadHandler(opts.Store, cfg.MaxUploadMB<<20, log)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Health endpoint, no auth
		r.Get("/health", health.ServeHTTP)

		// Authenticated routes
		r.Group(func(r chi.Router) {
			r.Use(BearerAuth(cfg.AuthToken))
			r.Get("/backends", health.Backends)
			tr.Routes(r)
			r.Group(func(r chi.Router) {
				r.Use(RateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst))
				up.Routes(r)
			})
		})
	})

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
