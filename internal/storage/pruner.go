package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// UploadPruner removes uploads that were never transcribed. Processed files
// are deleted by the pipeline; this catches the ones nobody asked for.
type UploadPruner struct {
	dir       string
	retention time.Duration
	interval  time.Duration
	log       zerolog.Logger
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewUploadPruner creates a pruner for dir. A zero retention disables it.
func NewUploadPruner(dir string, retention time.Duration, log zerolog.Logger) *UploadPruner {
	interval := time.Hour
	if retention > 0 && retention/4 < interval {
		interval = retention / 4
	}
	return &UploadPruner{
		dir:       dir,
		retention: retention,
		interval:  interval,
		log:       log.With().Str("component", "upload-pruner").Logger(),
		stop:      make(chan struct{}),
	}
}

func (p *UploadPruner) Start() {
	if p.retention <= 0 {
		return
	}
	p.wg.Add(1)
	go p.loop()
}

func (p *UploadPruner) Stop() {
	p.stopOnce.Do(func() { close(p.stop) })
	p.wg.Wait()
}

func (p *UploadPruner) loop() {
	defer p.wg.Done()

	// Run once on startup to clear any backlog from downtime
	p.Prune(time.Now())

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			p.Prune(now)
		case <-p.stop:
			return
		}
	}
}

// Prune deletes regular files in the upload directory last modified before
// now minus the retention. It returns how many files were removed.
func (p *UploadPruner) Prune(now time.Time) int {
	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if !os.IsNotExist(err) {
			p.log.Warn().Err(err).Msg("read upload dir")
		}
		return 0
	}

	cutoff := now.Add(-p.retention)
	var pruned int
	var freed int64
	for _, e := range entries {
		// Leave in-progress atomic writes alone.
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(p.dir, e.Name())); err == nil {
			pruned++
			freed += info.Size()
		}
	}

	if pruned > 0 {
		p.log.Info().
			Int("pruned", pruned).
			Str("freed", humanizeBytes(freed)).
			Msg("stale uploads removed")
	}
	return pruned
}

func humanizeBytes(b int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)
	switch {
	case b >= GB:
		return fmt.Sprintf("%.1f GB", float64(b)/float64(GB))
	case b >= MB:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(MB))
	case b >= KB:
		return fmt.Sprintf("%.1f KB", float64(b)/float64(KB))
	default:
		return fmt.Sprintf("%d B", b)
	}
}
