package ingest

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/scribe-engine/internal/pipeline"
	"github.com/snarg/scribe-engine/internal/storage"
)

type fakeQueue struct {
	mu     sync.Mutex
	jobs   []pipeline.Job
	refuse bool
}

func (q *fakeQueue) Enqueue(j pipeline.Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.refuse {
		return false
	}
	q.jobs = append(q.jobs, j)
	return true
}

func (q *fakeQueue) snapshot() []pipeline.Job {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]pipeline.Job(nil), q.jobs...)
}

func newTestWatcher(t *testing.T, q Enqueuer) (*FileWatcher, string, *storage.LocalStore) {
	t.Helper()
	inbox := t.TempDir()
	store := storage.NewLocalStore(t.TempDir())
	fw := NewFileWatcher(WatcherOptions{
		Dir:               inbox,
		Store:             store,
		Queue:             q,
		TranscriptionOnly: true,
		Debounce:          20 * time.Millisecond,
		Log:               zerolog.Nop(),
	})
	return fw, inbox, store
}

func writeFile(t *testing.T, path string, data string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for condition")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestIsInboxAudio(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{"/in/meeting.wav", true},
		{"/in/Meeting.MP3", true},
		{"/in/voice.m4a", true},
		{"/in/notes.txt", false},
		{"/in/.partial.wav", false},
		{"/in/noext", false},
	}
	for _, tt := range tests {
		if got := isInboxAudio(tt.name); got != tt.want {
			t.Errorf("isInboxAudio(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestFileWatcher_ProcessFile(t *testing.T) {
	q := &fakeQueue{}
	fw, inbox, store := newTestWatcher(t, q)
	path := filepath.Join(inbox, "standup.wav")
	writeFile(t, path, "RIFFdata")

	if !fw.processFile(context.Background(), path) {
		t.Fatal("processFile returned false")
	}

	jobs := q.snapshot()
	if len(jobs) != 1 {
		t.Fatalf("queued %d jobs, want 1", len(jobs))
	}
	job := jobs[0]
	if job.Source != "standup.wav" || !job.TranscriptionOnly {
		t.Errorf("job = %+v", job)
	}
	if !store.Exists(context.Background(), job.FileID) {
		t.Error("audio should be in the store under the job's file id")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("inbox file should be removed once queued")
	}
	if st := fw.Status(); st.Queued != 1 || st.Rejected != 0 {
		t.Errorf("status = %+v", st)
	}
}

func TestFileWatcher_QueueFullLeavesFile(t *testing.T) {
	q := &fakeQueue{refuse: true}
	fw, inbox, store := newTestWatcher(t, q)
	path := filepath.Join(inbox, "a.mp3")
	writeFile(t, path, "ID3")

	if fw.processFile(context.Background(), path) {
		t.Fatal("processFile should fail when the queue refuses")
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("inbox file should stay: %v", err)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 0 {
		t.Errorf("store should hold no copy, has %d files", len(entries))
	}
	if fw.Status().Rejected != 1 {
		t.Errorf("rejected = %d, want 1", fw.Status().Rejected)
	}
}

func TestFileWatcher_SkipsEmptyAndMissing(t *testing.T) {
	q := &fakeQueue{}
	fw, inbox, _ := newTestWatcher(t, q)
	empty := filepath.Join(inbox, "empty.wav")
	writeFile(t, empty, "")

	if fw.processFile(context.Background(), empty) {
		t.Error("empty file should be skipped")
	}
	if fw.processFile(context.Background(), filepath.Join(inbox, "gone.wav")) {
		t.Error("missing file should be skipped")
	}
	if len(q.snapshot()) != 0 {
		t.Error("nothing should be queued")
	}
}

func TestFileWatcher_BackfillAndWatch(t *testing.T) {
	q := &fakeQueue{}
	fw, inbox, _ := newTestWatcher(t, q)

	old := filepath.Join(inbox, "old.wav")
	writeFile(t, old, "RIFF1")
	writeFile(t, filepath.Join(inbox, "readme.txt"), "ignored")

	if err := fw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer fw.Stop()

	waitFor(t, func() bool { return len(q.snapshot()) == 1 })
	waitFor(t, func() bool { return fw.Status().Status == "watching" })

	writeFile(t, filepath.Join(inbox, "new.ogg"), "OggS")
	waitFor(t, func() bool { return len(q.snapshot()) == 2 })

	jobs := q.snapshot()
	if jobs[0].Source != "old.wav" || jobs[1].Source != "new.ogg" {
		t.Errorf("sources = %q, %q", jobs[0].Source, jobs[1].Source)
	}
	if _, err := os.Stat(filepath.Join(inbox, "readme.txt")); err != nil {
		t.Error("non-audio file should be left alone")
	}
}

func TestFileWatcher_Stop(t *testing.T) {
	fw, _, _ := newTestWatcher(t, &fakeQueue{})
	if err := fw.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	fw.Stop()
	if got := fw.Status().Status; got != "stopped" {
		t.Errorf("status = %q, want stopped", got)
	}
}
