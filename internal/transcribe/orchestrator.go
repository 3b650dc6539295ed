package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/audio"
	"github.com/snarg/scribe-engine/internal/metrics"
)

// Observer receives chunk-level progress from the Orchestrator. Calls are made
// from the goroutine running Transcribe, in chunk order.
type Observer interface {
	Planned(chunks []Chunk, duration float64)
	ChunkStarted(c Chunk, total int)
	ChunkFailed(c Chunk, total int, err error)
}

// Transcript is the global-time output of one request's transcription pass.
type Transcript struct {
	Segments     []Segment
	Language     string
	Backend      string
	Chunks       int
	FailedChunks []int
}

// Text joins all segment texts with single spaces.
func (t *Transcript) Text() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, " ")
}

// OrchestratorOptions configures the transcription orchestrator.
type OrchestratorOptions struct {
	Backends     []Backend // priority order
	ChunkSeconds float64
	CallTimeout  time.Duration
	ProbeTimeout time.Duration
	Log          zerolog.Logger
}

// Orchestrator selects a backend by priority and drives it chunk by chunk.
type Orchestrator struct {
	backends     []Backend
	chunkSeconds float64
	callTimeout  time.Duration
	probeTimeout time.Duration
	log          zerolog.Logger
}

// NewOrchestrator creates an orchestrator over a fixed backend priority list.
func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.ChunkSeconds <= 0 {
		opts.ChunkSeconds = 30
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = 10 * time.Minute
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	return &Orchestrator{
		backends:     opts.Backends,
		chunkSeconds: opts.ChunkSeconds,
		callTimeout:  opts.CallTimeout,
		probeTimeout: opts.ProbeTimeout,
		log:          opts.Log,
	}
}

// Select probes backends in priority order and returns the first available
// one. It runs once per request, before any chunk is dispatched; a probe
// timeout counts as unavailable.
func (o *Orchestrator) Select(ctx context.Context) (Backend, error) {
	b, err := o.first(ctx)
	if err != nil {
		metrics.BackendUnavailableTotal.Inc()
		return nil, err
	}
	metrics.BackendSelectionsTotal.WithLabelValues(b.Name()).Inc()
	o.log.Debug().Str("backend", b.Name()).Str("model", b.Model()).Msg("transcription backend selected")
	return b, nil
}

// Ready reports whether some backend would be selected right now, without
// counting a selection.
func (o *Orchestrator) Ready(ctx context.Context) error {
	_, err := o.first(ctx)
	return err
}

func (o *Orchestrator) first(ctx context.Context) (Backend, error) {
	var reasons []string
	for _, b := range o.backends {
		err := o.probe(ctx, b)
		if err == nil {
			return b, nil
		}
		o.log.Debug().Err(err).Str("backend", b.Name()).Msg("backend unavailable, trying next")
		reasons = append(reasons, fmt.Sprintf("%s: %v", b.Name(), err))
	}
	if len(reasons) == 0 {
		return nil, fmt.Errorf("%w (none configured)", ErrBackendUnavailable)
	}
	return nil, fmt.Errorf("%w (%s)", ErrBackendUnavailable, strings.Join(reasons, "; "))
}

func (o *Orchestrator) probe(ctx context.Context, b Backend) error {
	ctx, cancel := context.WithTimeout(ctx, o.probeTimeout)
	defer cancel()
	return b.Available(ctx)
}

// BackendStatus is a point-in-time view of one configured backend.
type BackendStatus struct {
	Name         string       `json:"name"`
	Model        string       `json:"model,omitempty"`
	Priority     int          `json:"priority"`
	Available    bool         `json:"available"`
	Error        string       `json:"error,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// Status probes every backend and reports its availability.
func (o *Orchestrator) Status(ctx context.Context) []BackendStatus {
	out := make([]BackendStatus, 0, len(o.backends))
	for i, b := range o.backends {
		st := BackendStatus{
			Name:         b.Name(),
			Model:        b.Model(),
			Priority:     i + 1,
			Capabilities: b.Capabilities(),
		}
		if err := o.probe(ctx, b); err != nil {
			st.Error = err.Error()
		} else {
			st.Available = true
		}
		out = append(out, st)
	}
	return out
}

// Transcribe runs b over the canonical audio, chunk by chunk, strictly
// sequentially. A failed chunk leaves its span empty and is reported to obs;
// it never fails the request. Once ctx is cancelled no further chunk is
// dispatched and ErrCancelled is returned; a call already in flight runs to
// completion under its own timeout.
func (o *Orchestrator) Transcribe(ctx context.Context, b Backend, a *audio.Canonical, language string, obs Observer) (*Transcript, error) {
	chunks := Plan(a.Duration, o.chunkSeconds, b.Capabilities(), a.SampleRate)
	obs.Planned(chunks, a.Duration)

	log := o.log.With().Str("backend", b.Name()).Logger()
	log.Info().
		Float64("duration", a.Duration).
		Int("chunks", len(chunks)).
		Msg("transcription started")

	tr := &Transcript{Backend: b.Name(), Chunks: len(chunks)}
	for _, c := range chunks {
		if ctx.Err() != nil {
			log.Info().Int("chunk", c.Index).Int("total", len(chunks)).Msg("caller gone, stopping chunk dispatch")
			return nil, fmt.Errorf("%w before chunk %d of %d", ErrCancelled, c.Index+1, len(chunks))
		}
		obs.ChunkStarted(c, len(chunks))

		segs, lang, err := o.transcribeChunk(ctx, b, a, c, language)
		if err != nil {
			cerr := &ChunkError{Chunk: c, Err: err}
			metrics.ChunksTotal.WithLabelValues(b.Name(), "failed").Inc()
			log.Warn().Err(err).
				Int("chunk", c.Index).
				Float64("start", c.Start).
				Float64("end", c.End).
				Msg("chunk transcription failed, continuing")
			tr.FailedChunks = append(tr.FailedChunks, c.Index)
			obs.ChunkFailed(c, len(chunks), cerr)
			continue
		}
		metrics.ChunksTotal.WithLabelValues(b.Name(), "ok").Inc()

		if tr.Language == "" && lang != "" {
			tr.Language = lang
		}
		tr.Segments = append(tr.Segments, segs...)
	}

	if tr.Language == "" {
		tr.Language = language
	}
	if tr.Language == "" {
		tr.Language = "unknown"
	}

	log.Info().
		Int("segments", len(tr.Segments)).
		Int("failed_chunks", len(tr.FailedChunks)).
		Str("language", tr.Language).
		Msg("transcription finished")
	return tr, nil
}

// transcribeChunk sends one logical chunk, sub-split by encoded size when
// the backend has a byte limit, and returns its segments in global time.
func (o *Orchestrator) transcribeChunk(ctx context.Context, b Backend, a *audio.Canonical, c Chunk, language string) ([]Segment, string, error) {
	lo, hi := a.Index(c.Start), a.Index(c.End)
	if hi <= lo {
		return nil, "", nil
	}
	pieces := splitBySize(lo, hi, b.Capabilities().MaxSizeBytes, a.SampleRate)

	// Re-merge pieces into one chunk-local result first.
	var local []Segment
	var lang string
	for _, p := range pieces {
		clip := Clip{
			Chunk:      c.Index,
			Samples:    a.Samples[p.lo:p.hi:p.hi],
			SampleRate: a.SampleRate,
			Duration:   float64(p.hi-p.lo) / float64(a.SampleRate),
			Language:   language,
		}
		res, err := o.call(ctx, b, clip)
		if err != nil {
			if len(pieces) > 1 {
				return nil, "", fmt.Errorf("piece at %.1fs: %w", float64(p.lo)/float64(a.SampleRate), err)
			}
			return nil, "", err
		}
		if lang == "" {
			lang = res.Language
		}
		shift := float64(p.lo-lo) / float64(a.SampleRate)
		local = append(local, offsetSegments(res.Segments, shift, shift, shift+clip.Duration)...)
	}

	return offsetSegments(local, c.Start, c.Start, c.End), lang, nil
}

func (o *Orchestrator) call(ctx context.Context, b Backend, clip Clip) (*Result, error) {
	// The in-flight call outlives a caller disconnect; only its timeout stops it.
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.callTimeout)
	defer cancel()

	start := time.Now()
	res, err := b.Transcribe(callCtx, clip)
	metrics.ChunkCallDuration.WithLabelValues(b.Name()).Observe(time.Since(start).Seconds())
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out after %s: %w", o.callTimeout, err)
		}
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("%s returned no result", b.Name())
	}
	return res, nil
}

// offsetSegments shifts segments by offset and clamps them to [lo, hi].
// Segments that end up empty (no text or no length) are dropped.
func offsetSegments(segs []Segment, offset, lo, hi float64) []Segment {
	out := make([]Segment, 0, len(segs))
	for _, s := range segs {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		start := s.Start + offset
		end := s.End + offset
		if start < lo {
			start = lo
		}
		if end > hi {
			end = hi
		}
		if !(start < end) {
			continue
		}
		out = append(out, Segment{Start: start, End: end, Text: text})
	}
	return out
}
