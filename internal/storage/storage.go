package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/snarg/scribe-engine/internal/config"
)

var (
	// ErrNotFound means no stored audio matches the file id.
	ErrNotFound = errors.New("audio file not found")
	// ErrInvalidID rejects ids that could escape the store.
	ErrInvalidID = errors.New("invalid file id")
)

// AudioStore abstracts where uploaded audio lives. Files are addressed by
// file id: either the exact stored key ("<uuid>.mp3") or the bare id, which
// matches the single stored key "<id>.<ext>".
type AudioStore interface {
	// Save stores audio data under key.
	Save(ctx context.Context, key string, data []byte, contentType string) error

	// Fetch makes the file available on local disk. The returned cleanup
	// removes any temporary copy and must always be called.
	Fetch(ctx context.Context, fileID string) (path string, cleanup func(), err error)

	// Delete removes the stored file. Deleting a missing file is not an error.
	Delete(ctx context.Context, fileID string) error

	// Exists checks whether the file id resolves.
	Exists(ctx context.Context, fileID string) bool

	// Type returns "local" or "s3".
	Type() string
}

// New creates an AudioStore based on config. Returns an error if S3 is
// configured but unreachable.
func New(cfg config.S3Config, audioDir string, log zerolog.Logger) (AudioStore, error) {
	if !cfg.Enabled() {
		return NewLocalStore(audioDir), nil
	}

	s3store, err := NewS3Store(cfg, "", log)
	if err != nil {
		return nil, fmt.Errorf("S3 init failed: %w", err)
	}

	// Startup validation: verify credentials and bucket access
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s3store.HeadBucket(ctx); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.Bucket, cfg.Endpoint, err)
	}
	log.Info().Str("bucket", cfg.Bucket).Str("endpoint", cfg.Endpoint).Msg("S3 connection verified")
	return s3store, nil
}

// ValidateID rejects empty ids and anything that is not a single path
// element.
func ValidateID(fileID string) error {
	switch {
	case fileID == "",
		strings.ContainsAny(fileID, `/\`),
		strings.Contains(fileID, ".."),
		strings.HasPrefix(fileID, "."):
		return fmt.Errorf("%w: %q", ErrInvalidID, fileID)
	}
	return nil
}

// ContentTypeFromExt returns the MIME type for an audio or video extension.
func ContentTypeFromExt(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".m4a":
		return "audio/mp4"
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".ogg", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "video/webm"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}
