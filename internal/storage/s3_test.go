package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/scribe-engine/internal/config"
)

// fakeS3 serves the handful of path-style object calls S3Store makes.
type fakeS3 struct {
	bucket string

	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rest, ok := strings.CutPrefix(r.URL.Path, "/"+f.bucket)
	if !ok {
		http.Error(w, "no such bucket", http.StatusNotFound)
		return
	}
	key := strings.TrimPrefix(rest, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case key == "" && r.Method == http.MethodGet:
		f.list(w, r.URL.Query().Get("prefix"))
	case key == "" && r.Method == http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		f.objects[key] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodHead:
		data, ok := f.objects[key]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(data)))
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet:
		data, ok := f.objects[key]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, `<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>`)
			return
		}
		w.Write(data)
	case r.Method == http.MethodDelete:
		delete(f.objects, key)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (f *fakeS3) list(w http.ResponseWriter, prefix string) {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) > 1 {
		keys = keys[:1]
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>`)
	b.WriteString(`<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">`)
	fmt.Fprintf(&b, "<Name>%s</Name><Prefix>%s</Prefix><KeyCount>%d</KeyCount><MaxKeys>1</MaxKeys><IsTruncated>false</IsTruncated>", f.bucket, prefix, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size></Contents>", k, len(f.objects[k]))
	}
	b.WriteString(`</ListBucketResult>`)
	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(b.String()))
}

func newTestS3Store(t *testing.T, prefix string) (*S3Store, *fakeS3) {
	t.Helper()
	fake := &fakeS3{bucket: "audio", objects: make(map[string][]byte)}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	store, err := NewS3Store(config.S3Config{
		Bucket:    "audio",
		Endpoint:  srv.URL,
		Region:    "us-east-1",
		AccessKey: "test",
		SecretKey: "test",
		Prefix:    prefix,
	}, t.TempDir(), zerolog.Nop())
	require.NoError(t, err)
	return store, fake
}

func TestS3Store(t *testing.T) {
	ctx := context.Background()

	t.Run("save_fetch_delete", func(t *testing.T) {
		store, fake := newTestS3Store(t, "")
		data := []byte("RIFFdata")
		require.NoError(t, store.Save(ctx, "abc.wav", data, "audio/wav"))
		assert.Contains(t, fake.objects, "uploads/abc.wav")

		assert.True(t, store.Exists(ctx, "abc"), "id without extension resolves by prefix")
		assert.True(t, store.Exists(ctx, "abc.wav"))

		path, cleanup, err := store.Fetch(ctx, "abc")
		require.NoError(t, err)
		got, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		assert.True(t, strings.HasSuffix(path, ".wav"))
		cleanup()
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err), "cleanup removes the local copy")

		require.NoError(t, store.Delete(ctx, "abc"))
		assert.False(t, store.Exists(ctx, "abc"))
	})

	t.Run("prefix", func(t *testing.T) {
		store, fake := newTestS3Store(t, "team-a")
		require.NoError(t, store.Save(ctx, "xyz.webm", []byte("webm"), "audio/webm"))
		assert.Contains(t, fake.objects, "team-a/uploads/xyz.webm")
	})

	t.Run("missing", func(t *testing.T) {
		store, _ := newTestS3Store(t, "")
		_, _, err := store.Fetch(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, store.Delete(ctx, "nope"), "deleting a missing file is not an error")
	})

	t.Run("invalid_id", func(t *testing.T) {
		store, _ := newTestS3Store(t, "")
		assert.ErrorIs(t, store.Save(ctx, "../x.wav", []byte("x"), "audio/wav"), ErrInvalidID)
		_, _, err := store.Fetch(ctx, "a/b")
		assert.ErrorIs(t, err, ErrInvalidID)
	})

	t.Run("head_bucket", func(t *testing.T) {
		store, _ := newTestS3Store(t, "")
		assert.NoError(t, store.HeadBucket(ctx))
	})
}
