// Package progress tracks one transcription request through its stages and
// feeds the resulting events to a transport without ever blocking the
// producer.
package progress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/merge"
	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

// ErrInvalidTransition is returned when an event does not follow the
// request lifecycle. Nothing is emitted in that case.
var ErrInvalidTransition = errors.New("invalid progress transition")

// Status is the wire name of an event.
type Status string

const (
	StatusStarting     Status = "starting"
	StatusTranscribing Status = "transcribing"
	StatusChunk        Status = "processing_chunk"
	StatusDiarizing    Status = "diarizing"
	StatusMerging      Status = "merging"
	StatusCompleted    Status = "completed"
	StatusError        Status = "error"
)

// State is a lifecycle position.
type State int

const (
	Idle State = iota
	Starting
	Transcribing
	ChunkProcessing
	Diarizing
	Merging
	Completed
	Failed
)

var stateNames = [...]string{"idle", "starting", "transcribing", "chunk_processing", "diarizing", "merging", "completed", "failed"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no event may follow s.
func (s State) Terminal() bool { return s == Completed || s == Failed }

var statusOf = map[State]Status{
	Starting:        StatusStarting,
	Transcribing:    StatusTranscribing,
	ChunkProcessing: StatusChunk,
	Diarizing:       StatusDiarizing,
	Merging:         StatusMerging,
	Completed:       StatusCompleted,
	Failed:          StatusError,
}

// allowed lists the legal successors of each state. Failed is legal from
// every non-terminal state and is not listed.
var allowed = map[State][]State{
	Idle:            {Starting},
	Starting:        {Transcribing},
	Transcribing:    {ChunkProcessing, Diarizing, Merging},
	ChunkProcessing: {ChunkProcessing, Diarizing, Merging},
	Diarizing:       {Merging},
	Merging:         {Completed},
}

func canMove(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Event is one progress notification.
type Event struct {
	ID          string        `json:"id"`
	Status      Status        `json:"status"`
	Message     string        `json:"message"`
	ChunkIndex  *int          `json:"chunk_index,omitempty"`
	ChunkStart  *float64      `json:"chunk_start,omitempty"`
	ChunkEnd    *float64      `json:"chunk_end,omitempty"`
	TotalChunks int           `json:"total_chunks,omitempty"`
	Duration    float64       `json:"duration,omitempty"`
	Error       string        `json:"error,omitempty"`
	Reason      string        `json:"reason,omitempty"`
	Result      *merge.Result `json:"result,omitempty"`
}

// Options configures a Stream.
type Options struct {
	Session string
	// Buffer is the capacity of the informational event channel. Zero means
	// no channel: events only reach Mirror and the terminal event.
	Buffer int
	// Mirror, if set, sees every emitted event in order, the terminal one
	// included. It runs on the producer goroutine, outside the stream lock,
	// and should return quickly.
	Mirror func(Event)
	Log    zerolog.Logger
}

// Stream is the progress feed of a single request. One producer goroutine
// at a time emits; one consumer reads Events until Done is closed and then
// takes Terminal.
type Stream struct {
	session string
	ch      chan Event
	mirror  func(Event)
	log     zerolog.Logger
	done    chan struct{}

	mu       sync.Mutex
	state    State
	seq      uint64
	detached bool
	terminal *Event
	dropped  int
}

// New creates a stream in the Idle state.
func New(opts Options) *Stream {
	s := &Stream{
		session: opts.Session,
		mirror:  opts.Mirror,
		log:     opts.Log,
		done:    make(chan struct{}),
	}
	if opts.Buffer > 0 {
		s.ch = make(chan Event, opts.Buffer)
	}
	return s
}

// Session returns the request's session id.
func (s *Stream) Session() string { return s.session }

// Events returns the informational feed; nil for a zero-buffer stream.
func (s *Stream) Events() <-chan Event { return s.ch }

// Done is closed once the terminal event is stored.
func (s *Stream) Done() <-chan struct{} { return s.done }

// Terminal returns the completed or error event once Done is closed.
func (s *Stream) Terminal() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.terminal == nil {
		return Event{}, false
	}
	return *s.terminal, true
}

// State returns the current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dropped returns how many informational events were discarded because the
// consumer was not keeping up.
func (s *Stream) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// Detach marks the consumer as gone. Later emits are no-ops.
func (s *Stream) Detach() {
	s.mu.Lock()
	s.detached = true
	s.mu.Unlock()
}

func (s *Stream) emit(next State, ev Event) error {
	s.mu.Lock()
	if s.detached {
		s.mu.Unlock()
		return nil
	}
	if !canMove(s.state, next) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.state, next)
	}

	s.seq++
	ev.ID = fmt.Sprintf("%s-%d", s.session, s.seq)
	ev.Status = statusOf[next]
	s.state = next

	if next.Terminal() {
		s.terminal = &ev
	} else if s.ch != nil {
		select {
		case s.ch <- ev:
		default:
			s.dropped++
			metrics.ProgressEventsDroppedTotal.Inc()
			s.log.Warn().Str("session", s.session).Str("event_id", ev.ID).Msg("progress consumer is slow, event dropped")
		}
	}
	s.mu.Unlock()

	// Only one producer emits, so mirror order follows seq.
	if s.mirror != nil {
		s.mirror(ev)
	}
	if next.Terminal() {
		close(s.done)
	}
	return nil
}

// Starting opens the request.
func (s *Stream) Starting() error {
	return s.emit(Starting, Event{Message: "Preparing audio file..."})
}

// Transcribing announces the chunk plan.
func (s *Stream) Transcribing(duration float64, totalChunks int) error {
	return s.emit(Transcribing, Event{
		Message:     fmt.Sprintf("Starting transcription of %.1fs audio in %d chunks...", duration, totalChunks),
		TotalChunks: totalChunks,
		Duration:    duration,
	})
}

// Chunk reports that chunk index (zero-based) of total is being sent.
func (s *Stream) Chunk(index, total int, start, end float64) error {
	return s.emit(ChunkProcessing, Event{
		Message:     fmt.Sprintf("Processing chunk %d/%d (%.1fs - %.1fs)", index+1, total, start, end),
		ChunkIndex:  &index,
		ChunkStart:  &start,
		ChunkEnd:    &end,
		TotalChunks: total,
	})
}

// ChunkError reports a chunk whose span will be left empty.
func (s *Stream) ChunkError(index, total int, start, end float64, err error) error {
	return s.emit(ChunkProcessing, Event{
		Message:     fmt.Sprintf("Chunk %d/%d failed, continuing", index+1, total),
		ChunkIndex:  &index,
		ChunkStart:  &start,
		ChunkEnd:    &end,
		TotalChunks: total,
		Error:       err.Error(),
	})
}

// Diarizing reports that the pipeline is waiting on speaker analysis.
func (s *Stream) Diarizing() error {
	return s.emit(Diarizing, Event{Message: "Analyzing speakers..."})
}

// Merging reports the final formatting step.
func (s *Stream) Merging(withSpeakers bool) error {
	msg := "Formatting transcription results..."
	if withSpeakers {
		msg = "Merging transcription and speaker data..."
	}
	return s.emit(Merging, Event{Message: msg})
}

// Complete stores the result as the terminal event.
func (s *Stream) Complete(res *merge.Result) error {
	return s.emit(Completed, Event{Message: "Transcription completed successfully", Result: res})
}

// Fail stores an error as the terminal event. reason is a short machine
// readable cause, e.g. "backend_unavailable".
func (s *Stream) Fail(reason string, err error) error {
	return s.emit(Failed, Event{
		Message: fmt.Sprintf("Transcription failed: %s", err),
		Error:   err.Error(),
		Reason:  reason,
	})
}

// Planned, ChunkStarted and ChunkFailed let a Stream observe the
// transcription orchestrator directly.

func (s *Stream) Planned(chunks []transcribe.Chunk, duration float64) {
	s.logInvalid(s.Transcribing(duration, len(chunks)))
}

func (s *Stream) ChunkStarted(c transcribe.Chunk, total int) {
	s.logInvalid(s.Chunk(c.Index, total, c.Start, c.End))
}

func (s *Stream) ChunkFailed(c transcribe.Chunk, total int, err error) {
	s.logInvalid(s.ChunkError(c.Index, total, c.Start, c.End, err))
}

func (s *Stream) logInvalid(err error) {
	if err != nil {
		s.log.Error().Err(err).Str("session", s.session).Msg("progress event rejected")
	}
}
