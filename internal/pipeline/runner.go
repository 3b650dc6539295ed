// Package pipeline runs one transcription request end to end: fetch, normalize,
// transcribe and diarize concurrently, merge, and report through a progress
// stream.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/progress"
	"github.com/snarg/scribe-engine/internal/storage"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// Failure reasons carried on the terminal error event.
const (
	ReasonNotFound           = "not_found"
	ReasonStorage            = "storage"
	ReasonDecode             = "decode"
	ReasonBackendUnavailable = "backend_unavailable"
	ReasonInconsistentInput  = "inconsistent_input"
)

// Preparer turns a stored file into canonical audio.
type Preparer interface {
	Prepare(ctx context.Context, path string) (*audio.Canonical, error)
}

// Request is one transcription job.
type Request struct {
	FileID            string
	Language          string // "" = configured default, then auto-detect
	TranscriptionOnly bool
}

// Options wires a Runner.
type Options struct {
	Store          storage.AudioStore
	Preparer       Preparer
	Orchestrator   *transcribe.Orchestrator
	Diarizer       diarize.Backend // nil: every request gets one speaker
	DiarizeOptions diarize.Options
	DiarizeTimeout time.Duration
	MaxGap         float64
	Language       string
	DeleteAfter    bool
	Log            zerolog.Logger
}

// Runner executes requests. It holds no per-request state and is shared by
// all transports.
type Runner struct {
	opts   Options
	log    zerolog.Logger
	active atomic.Int64
}

// NewRunner creates a runner.
func NewRunner(opts Options) *Runner {
	if opts.DiarizeTimeout <= 0 {
		opts.DiarizeTimeout = 10 * time.Minute
	}
	if opts.MaxGap < 0 {
		opts.MaxGap = merge.DefaultMaxGap
	}
	return &Runner{opts: opts, log: opts.Log}
}

// Active returns the number of requests currently running.
func (r *Runner) Active() int { return int(r.active.Load()) }

// Orchestrator exposes the transcription orchestrator for status reporting.
func (r *Runner) Orchestrator() *transcribe.Orchestrator { return r.opts.Orchestrator }

// Diarizer returns the configured diarization backend, possibly nil.
func (r *Runner) Diarizer() diarize.Backend { return r.opts.Diarizer }

// Run drives req to a terminal event on s and returns the merged result or
// the error the terminal event reports. When ctx is cancelled before the
// result is ready no terminal event is emitted and the error wraps
// transcribe.ErrCancelled.
func (r *Runner) Run(ctx context.Context, req Request, s *progress.Stream) (*merge.Result, error) {
	r.active.Add(1)
	defer r.active.Add(-1)

	start := time.Now()
	log := r.log.With().Str("session", s.Session()).Str("file_id", req.FileID).Logger()
	log.Info().Bool("transcription_only", req.TranscriptionOnly).Msg("request started")

	res, reason, err := r.run(ctx, req, s, log)

	outcome := "completed"
	switch {
	case err == nil:
		logEmit(log, s.Complete(res))
		log.Info().
			Int("segments", len(res.Segments)).
			Int("speakers", res.NumSpeakers).
			Dur("elapsed", time.Since(start)).
			Msg("request completed")
	case errors.Is(err, transcribe.ErrCancelled) || ctx.Err() != nil:
		outcome = "cancelled"
		if !errors.Is(err, transcribe.ErrCancelled) {
			err = fmt.Errorf("%w: %v", transcribe.ErrCancelled, err)
		}
		log.Info().Err(err).Msg("request abandoned by caller")
	default:
		outcome = "failed"
		logEmit(log, s.Fail(reason, err))
		log.Warn().Err(err).Str("reason", reason).Msg("request failed")
	}
	metrics.PipelineRunsTotal.WithLabelValues(outcome).Inc()
	metrics.PipelineDuration.Observe(time.Since(start).Seconds())

	if outcome != "cancelled" && r.opts.DeleteAfter && reason != ReasonNotFound {
		r.deleteAudio(ctx, req.FileID, log)
	}
	return res, err
}

func (r *Runner) run(ctx context.Context, req Request, s *progress.Stream, log zerolog.Logger) (*merge.Result, string, error) {
	logEmit(log, s.Starting())

	path, cleanup, err := r.opts.Store.Fetch(ctx, req.FileID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) || errors.Is(err, storage.ErrInvalidID) {
			return nil, ReasonNotFound, err
		}
		return nil, ReasonStorage, fmt.Errorf("fetch audio: %w", err)
	}
	defer cleanup()

	a, err := r.opts.Preparer.Prepare(ctx, path)
	if err != nil {
		return nil, ReasonDecode, err
	}
	defer a.Release()

	backend, err := r.opts.Orchestrator.Select(ctx)
	if err != nil {
		return nil, ReasonBackendUnavailable, err
	}

	language := req.Language
	if language == "" {
		language = r.opts.Language
	}
	wantSpeakers := !req.TranscriptionOnly

	var (
		g          errgroup.Group
		transcript *transcribe.Transcript
		speakers   *diarize.Result
		diarizeErr error
	)
	g.Go(func() error {
		t, err := r.opts.Orchestrator.Transcribe(ctx, backend, a, language, s)
		if err != nil {
			return err
		}
		transcript = t
		if wantSpeakers {
			logEmit(log, s.Diarizing())
		}
		return nil
	})
	if wantSpeakers {
		g.Go(func() error {
			// Like a chunk call, diarization is not abandoned on disconnect.
			speakers, diarizeErr = diarize.Run(context.WithoutCancel(ctx), r.opts.Diarizer, a, r.opts.DiarizeOptions, r.opts.DiarizeTimeout)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", err
	}
	if err := ctx.Err(); err != nil {
		return nil, "", fmt.Errorf("%w after transcription: %v", transcribe.ErrCancelled, err)
	}

	if diarizeErr != nil {
		log.Warn().Err(diarizeErr).Msg("diarization unavailable, using a single speaker")
	}

	logEmit(log, s.Merging(speakers != nil))
	in := merge.Input{
		Segments: transcript.Segments,
		Language: transcript.Language,
		Duration: a.Duration,
		MaxGap:   r.opts.MaxGap,
	}
	if speakers != nil {
		in.Turns = speakers.Segments
	}
	res, err := merge.Build(in)
	if err != nil {
		return nil, ReasonInconsistentInput, err
	}
	return res, "", nil
}

func (r *Runner) deleteAudio(ctx context.Context, fileID string, log zerolog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := r.opts.Store.Delete(ctx, fileID); err != nil {
		log.Warn().Err(err).Msg("failed to delete processed audio")
		return
	}
	log.Debug().Msg("processed audio deleted")
}

func logEmit(log zerolog.Logger, err error) {
	if err != nil {
		log.Error().Err(err).Msg("progress event rejected")
	}
}
