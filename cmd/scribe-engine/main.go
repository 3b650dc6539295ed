package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/api"
	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/config"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/ingest"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/mqttclient"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/progress"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (overrides LOG_LEVEL)")
	flag.StringVar(&overrides.AudioDir, "audio-dir", "", "upload directory (overrides AUDIO_DIR)")
	flag.StringVar(&overrides.TranscribeBackends, "backends", "", "comma-separated backend priority (overrides TRANSCRIBE_BACKENDS)")
	flag.StringVar(&overrides.WatchDir, "watch-dir", "", "inbox directory (overrides WATCH_DIR)")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Strs("backends", cfg.TranscribeBackends).Msg("scribe-engine starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Storage
	storeLog := log.With().Str("component", "storage").Logger()
	store, err := storage.New(cfg.S3, cfg.AudioDir, storeLog)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audio store")
	}
	var pruner *storage.UploadPruner
	if store.Type() == "local" {
		pruner = storage.NewUploadPruner(cfg.AudioDir, cfg.UploadRetention, storeLog)
		pruner.Start()
	}

	// Backends
	backends, err := transcribe.NewBackends(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid transcription backend configuration")
	}
	diarizer, err := diarize.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid diarization backend configuration")
	}
	if diarizer == nil {
		log.Info().Msg("diarization disabled, every segment gets one speaker")
	}

	pipeLog := log.With().Str("component", "pipeline").Logger()
	preparer := audio.NewPreprocessor(cfg.FFmpegPath, "", pipeLog)
	preparer.Available()
	runner := pipeline.NewRunner(pipeline.Options{
		Store:    store,
		Preparer: preparer,
		Orchestrator: transcribe.NewOrchestrator(transcribe.OrchestratorOptions{
			Backends:     backends,
			ChunkSeconds: cfg.ChunkSeconds,
			CallTimeout:  cfg.TranscribeTimeout,
			ProbeTimeout: cfg.ProbeTimeout,
			Log:          pipeLog,
		}),
		Diarizer:       diarizer,
		DiarizeOptions: diarize.OptionsFrom(cfg),
		DiarizeTimeout: cfg.DiarizeTimeout,
		MaxGap:         cfg.MergeMaxGap,
		Language:       cfg.Language,
		DeleteAfter:    cfg.DeleteAfterProcessing,
		Log:            pipeLog,
	})

	// Headless job pool, used by the inbox watcher and MQTT requests
	var mqtt *mqttclient.Client
	var pool *pipeline.WorkerPool
	if cfg.WatchDir != "" || (cfg.MQTTBrokerURL != "" && cfg.MQTTRequests) {
		pool = pipeline.NewWorkerPool(pipeline.WorkerPoolOptions{
			Runner:    runner,
			Workers:   cfg.WatchWorkers,
			QueueSize: cfg.WatchQueueSize,
			PublishEvent: func(job pipeline.Job, ev progress.Event) {
				if mqtt != nil {
					mqtt.Mirror(job.Session)(ev)
				}
			},
			Log: pipeLog,
		})
	}

	// MQTT
	if cfg.MQTTBrokerURL != "" {
		mqttLog := log.With().Str("component", "mqtt").Logger()
		opts := mqttclient.Options{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Log:         mqttLog,
		}
		if cfg.MQTTRequests {
			opts.OnRequest = ingest.RequestHandler(pool, log)
		}
		mqtt, err = mqttclient.Connect(opts)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
	}

	if pool != nil {
		pool.Start()
		defer pool.Stop()
	}

	// Inbox watcher
	var watcher *ingest.FileWatcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewFileWatcher(ingest.WatcherOptions{
			Dir:               cfg.WatchDir,
			Store:             store,
			Queue:             pool,
			TranscriptionOnly: cfg.WatchTranscriptionOnly,
			Log:               log,
		})
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Str("dir", cfg.WatchDir).Msg("failed to start inbox watcher")
		}
	}

	// Metrics
	prometheus.MustRegister(metrics.NewCollector(runtimeStats{runner: runner, pool: pool, mqtt: mqtt}))

	// HTTP Server
	srvOpts := api.ServerOptions{
		Config:    cfg,
		Runner:    runner,
		Store:     store,
		Version:   version,
		StartTime: startTime,
		Log:       log,
	}
	if mqtt != nil {
		srvOpts.Mirror = mqtt.Mirror
		srvOpts.MQTTConnected = mqtt.IsConnected
	}
	if watcher != nil {
		srvOpts.WatcherStatus = func() string { return watcher.Status().Status }
	}
	srv := api.NewServer(srvOpts)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// Graceful shutdown with 10s timeout. Open SSE streams are cut; their
	// requests stop dispatching and keep their audio.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}
	if watcher != nil {
		watcher.Stop()
	}
	if pruner != nil {
		pruner.Stop()
	}

	log.Info().Msg("scribe-engine stopped")
}

// runtimeStats feeds the scrape-time gauges.
type runtimeStats struct {
	runner *pipeline.Runner
	pool   *pipeline.WorkerPool
	mqtt   *mqttclient.Client
}

func (s runtimeStats) ActiveSessions() int { return s.runner.Active() }

func (s runtimeStats) InboxPending() int {
	if s.pool == nil {
		return 0
	}
	return s.pool.Pending()
}

func (s runtimeStats) MQTTConnected() bool {
	return s.mqtt != nil && s.mqtt.IsConnected()
}
