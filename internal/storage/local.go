package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// LocalStore stores audio files flat in one directory.
type LocalStore struct {
	audioDir string
}

// NewLocalStore creates a local filesystem audio store.
func NewLocalStore(audioDir string) *LocalStore {
	return &LocalStore{audioDir: audioDir}
}

func (s *LocalStore) Save(ctx context.Context, key string, data []byte, contentType string) error {
	if err := ValidateID(key); err != nil {
		return err
	}
	if err := os.MkdirAll(s.audioDir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", s.audioDir, err)
	}
	path := filepath.Join(s.audioDir, key)

	// Atomic write: temp file + rename
	tmp, err := os.CreateTemp(s.audioDir, ".audio-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// resolve maps a file id to the stored path: the exact name first, then the
// single "<id>.*" match.
func (s *LocalStore) resolve(fileID string) (string, error) {
	if err := ValidateID(fileID); err != nil {
		return "", err
	}
	exact := filepath.Join(s.audioDir, fileID)
	if info, err := os.Stat(exact); err == nil && info.Mode().IsRegular() {
		return exact, nil
	}

	matches, err := filepath.Glob(filepath.Join(s.audioDir, globEscape(fileID)+".*"))
	if err != nil {
		return "", fmt.Errorf("glob: %w", err)
	}
	for _, m := range matches {
		if info, err := os.Stat(m); err == nil && info.Mode().IsRegular() {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, fileID)
}

func (s *LocalStore) Fetch(ctx context.Context, fileID string) (string, func(), error) {
	path, err := s.resolve(fileID)
	if err != nil {
		return "", nil, err
	}
	return path, func() {}, nil
}

func (s *LocalStore) Delete(ctx context.Context, fileID string) error {
	path, err := s.resolve(fileID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func (s *LocalStore) Exists(ctx context.Context, fileID string) bool {
	_, err := s.resolve(fileID)
	return err == nil
}

func (s *LocalStore) Type() string { return "local" }

// Dir returns the audio directory path.
func (s *LocalStore) Dir() string { return s.audioDir }

// globEscape quotes the pattern metacharacters filepath.Match understands.
func globEscape(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']':
			out = append(out, '\\')
		}
		out = append(out, r)
	}
	return string(out)
}
