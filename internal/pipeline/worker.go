package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/progress"
)

// Job is a headless request queued by the inbox watcher.
type Job struct {
	Request
	Session  string // assigned by Enqueue when empty
	Source   string // original file name, for logs and results
	Enqueued time.Time
}

// QueueStats reports the current state of the job queue.
type QueueStats struct {
	Pending   int   `json:"pending"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

// EventPublishFunc receives every progress event of a job, terminal included.
type EventPublishFunc func(job Job, ev progress.Event)

// WorkerPoolOptions configures the job worker pool.
type WorkerPoolOptions struct {
	Runner       *Runner
	Workers      int
	QueueSize    int
	PublishEvent EventPublishFunc
	Log          zerolog.Logger
}

// WorkerPool runs queued jobs through the Runner with mirror-only progress
// streams.
type WorkerPool struct {
	jobs   chan Job
	opts   WorkerPoolOptions
	log    zerolog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewWorkerPool creates a new job worker pool.
func NewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	if opts.QueueSize < 0 {
		opts.QueueSize = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerPool{
		jobs:   make(chan Job, opts.QueueSize),
		opts:   opts,
		log:    opts.Log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches the worker goroutines.
func (wp *WorkerPool) Start() {
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
	wp.log.Info().Int("workers", wp.opts.Workers).Int("queue_size", wp.opts.QueueSize).Msg("job worker pool started")
}

// Stop cancels running jobs, drops queued ones and waits for the workers.
// Jobs cut short leave their audio in the store.
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	wp.cancel()
	close(wp.jobs)
	wp.mu.Unlock()

	wp.wg.Wait()
	wp.log.Info().
		Int64("completed", wp.completed.Load()).
		Int64("failed", wp.failed.Load()).
		Msg("job worker pool stopped")
}

// Enqueue adds a job to the queue. Returns false if the queue is full or the
// pool is stopped.
func (wp *WorkerPool) Enqueue(j Job) bool {
	if j.Session == "" {
		j.Session = uuid.NewString()
	}
	if j.Enqueued.IsZero() {
		j.Enqueued = time.Now()
	}

	wp.mu.RLock()
	defer wp.mu.RUnlock()
	if wp.stopped {
		return false
	}
	select {
	case wp.jobs <- j:
		return true
	default:
		return false
	}
}

// Stats returns current queue statistics.
func (wp *WorkerPool) Stats() QueueStats {
	return QueueStats{
		Pending:   len(wp.jobs),
		Completed: wp.completed.Load(),
		Failed:    wp.failed.Load(),
	}
}

// Pending returns the number of queued jobs.
func (wp *WorkerPool) Pending() int { return len(wp.jobs) }

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()
	log := wp.log.With().Int("worker", id).Logger()

	for job := range wp.jobs {
		if wp.ctx.Err() != nil {
			log.Info().Str("file_id", job.FileID).Msg("pool stopping, job skipped")
			continue
		}
		if err := wp.processJob(job); err != nil {
			wp.failed.Add(1)
			log.Warn().Err(err).
				Str("file_id", job.FileID).
				Str("source", job.Source).
				Msg("job failed")
		} else {
			wp.completed.Add(1)
		}
	}
}

func (wp *WorkerPool) processJob(job Job) error {
	var mirror func(progress.Event)
	if wp.opts.PublishEvent != nil {
		mirror = func(ev progress.Event) { wp.opts.PublishEvent(job, ev) }
	}
	s := progress.New(progress.Options{
		Session: job.Session,
		Mirror:  mirror,
		Log:     wp.log,
	})
	_, err := wp.opts.Runner.Run(wp.ctx, job.Request, s)
	return err
}
