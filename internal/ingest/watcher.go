// Package ingest feeds headless transcription jobs into the worker pool, from
// a watched inbox directory or from MQTT request messages.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/metrics"
	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
)

// Enqueuer accepts jobs. *pipeline.WorkerPool satisfies it.
type Enqueuer interface {
	Enqueue(job pipeline.Job) bool
}

// audioExts are the inbox file types picked up. Anything else is ignored.
var audioExts = map[string]bool{
	".wav": true, ".mp3": true, ".m4a": true, ".ogg": true, ".opus": true,
	".flac": true, ".webm": true, ".mp4": true,
}

// WatcherStatus is reported on the health endpoint.
type WatcherStatus struct {
	Status   string `json:"status"`
	WatchDir string `json:"watch_dir"`
	Queued   int64  `json:"files_queued"`
	Rejected int64  `json:"files_rejected"`
}

type WatcherOptions struct {
	Dir               string
	Store             storage.AudioStore
	Queue             Enqueuer
	TranscriptionOnly bool
	Debounce          time.Duration // default 500ms
	Log               zerolog.Logger
}

// FileWatcher monitors an inbox directory for audio files. Each file is moved
// into the AudioStore under a fresh id and queued as a job; the inbox copy is
// removed once the job is accepted.
type FileWatcher struct {
	opts WatcherOptions
	log  zerolog.Logger

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	done    chan struct{}

	// Debounce: coalesce rapid Create+Write events on the same file.
	debounceMu     sync.Mutex
	debounceTimers map[string]*time.Timer

	// inflight guards against the backfill and a late fsnotify event picking
	// up the same file.
	inflight sync.Map

	queued   atomic.Int64
	rejected atomic.Int64
	status   atomic.Value // string: "starting", "backfilling", "watching", "stopped"
}

func NewFileWatcher(opts WatcherOptions) *FileWatcher {
	if opts.Debounce <= 0 {
		opts.Debounce = 500 * time.Millisecond
	}
	fw := &FileWatcher{
		opts:           opts,
		log:            opts.Log.With().Str("component", "watcher").Logger(),
		debounceTimers: make(map[string]*time.Timer),
		done:           make(chan struct{}),
	}
	fw.status.Store("starting")
	return fw
}

// Start begins watching the inbox and queues files already present in it,
// oldest first.
func (fw *FileWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(fw.opts.Dir, 0o755); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(fw.opts.Dir); err != nil {
		w.Close()
		return err
	}
	fw.watcher = w

	ctx, fw.cancel = context.WithCancel(ctx)
	fw.log.Info().Str("watch_dir", fw.opts.Dir).Msg("inbox watcher initialized")

	go fw.watchLoop(ctx)
	go fw.backfill(ctx)
	return nil
}

// Stop closes the fsnotify watcher. Pending debounced files are left in the
// inbox for the next start.
func (fw *FileWatcher) Stop() {
	if fw.cancel != nil {
		fw.cancel()
	}
	if fw.watcher != nil {
		fw.watcher.Close()
		<-fw.done
	}
	fw.status.Store("stopped")

	fw.debounceMu.Lock()
	for path, t := range fw.debounceTimers {
		t.Stop()
		delete(fw.debounceTimers, path)
	}
	fw.debounceMu.Unlock()

	fw.log.Info().
		Int64("files_queued", fw.queued.Load()).
		Int64("files_rejected", fw.rejected.Load()).
		Msg("inbox watcher stopped")
}

func (fw *FileWatcher) Status() WatcherStatus {
	s, _ := fw.status.Load().(string)
	return WatcherStatus{
		Status:   s,
		WatchDir: fw.opts.Dir,
		Queued:   fw.queued.Load(),
		Rejected: fw.rejected.Load(),
	}
}

func (fw *FileWatcher) watchLoop(ctx context.Context) {
	defer close(fw.done)
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isInboxAudio(event.Name) {
				continue
			}
			fw.scheduleProcess(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.log.Error().Err(err).Msg("fsnotify error")
		}
	}
}

// scheduleProcess waits for writes to a file to settle before picking it up.
func (fw *FileWatcher) scheduleProcess(ctx context.Context, path string) {
	fw.debounceMu.Lock()
	defer fw.debounceMu.Unlock()

	if t, ok := fw.debounceTimers[path]; ok {
		t.Reset(fw.opts.Debounce)
		return
	}

	fw.debounceTimers[path] = time.AfterFunc(fw.opts.Debounce, func() {
		fw.debounceMu.Lock()
		delete(fw.debounceTimers, path)
		fw.debounceMu.Unlock()

		if ctx.Err() != nil {
			return
		}
		fw.processFile(ctx, path)
	})
}

// processFile stores one inbox file and queues it. Returns true if the job
// was accepted.
func (fw *FileWatcher) processFile(ctx context.Context, path string) bool {
	if _, busy := fw.inflight.LoadOrStore(path, struct{}{}); busy {
		return false
	}
	defer fw.inflight.Delete(path)
	log := fw.log.With().Str("path", path).Logger()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Msg("failed to read inbox file")
		}
		return false
	}
	if len(data) == 0 {
		return false
	}

	source := filepath.Base(path)
	ext := strings.ToLower(filepath.Ext(source))
	id := uuid.NewString()
	if err := fw.opts.Store.Save(ctx, id+ext, data, storage.ContentTypeFromExt(source)); err != nil {
		fw.reject(log, err, "failed to store inbox file")
		return false
	}

	job := pipeline.Job{
		Request: pipeline.Request{FileID: id, TranscriptionOnly: fw.opts.TranscriptionOnly},
		Source:  source,
	}
	if !fw.opts.Queue.Enqueue(job) {
		// Leave the inbox file for the next start; drop the stored copy.
		if err := fw.opts.Store.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Msg("failed to remove stored copy of rejected file")
		}
		fw.reject(log, nil, "job queue full, file left in inbox")
		return false
	}

	if err := os.Remove(path); err != nil {
		log.Warn().Err(err).Msg("failed to remove queued inbox file")
	}
	fw.queued.Add(1)
	metrics.InboxFilesTotal.WithLabelValues("queued").Inc()
	log.Info().Str("file_id", id).Int("bytes", len(data)).Msg("inbox file queued")
	return true
}

func (fw *FileWatcher) reject(log zerolog.Logger, err error, msg string) {
	fw.rejected.Add(1)
	metrics.InboxFilesTotal.WithLabelValues("rejected").Inc()
	log.Warn().Err(err).Msg(msg)
}

// backfill queues files that were already in the inbox at startup.
func (fw *FileWatcher) backfill(ctx context.Context) {
	fw.status.Store("backfilling")

	entries, err := os.ReadDir(fw.opts.Dir)
	if err != nil {
		fw.log.Warn().Err(err).Msg("failed to list inbox")
	}

	type fileEntry struct {
		path string
		mod  time.Time
	}
	var files []fileEntry
	for _, e := range entries {
		if e.IsDir() || !isInboxAudio(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		files = append(files, fileEntry{filepath.Join(fw.opts.Dir, e.Name()), info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].mod.Before(files[j].mod) })

	queued := 0
	for _, f := range files {
		if ctx.Err() != nil {
			return
		}
		if fw.processFile(ctx, f.path) {
			queued++
		}
	}
	if len(files) > 0 {
		fw.log.Info().Int("files", len(files)).Int("queued", queued).Msg("inbox backfill complete")
	}
	if ctx.Err() == nil {
		fw.status.Store("watching")
	}
}

func isInboxAudio(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") {
		return false
	}
	return audioExts[strings.ToLower(filepath.Ext(name))]
}
