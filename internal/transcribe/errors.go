package transcribe

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnavailable means no configured backend passed its
	// availability probe. Fatal for the request; no chunk was dispatched.
	ErrBackendUnavailable = errors.New("no transcription backend available")

	// ErrChunkFailed marks a single chunk whose backend call failed or timed
	// out. The chunk's span is left empty and the request continues.
	ErrChunkFailed = errors.New("chunk transcription failed")

	// ErrCancelled is returned when the caller went away before all chunks
	// were dispatched.
	ErrCancelled = errors.New("transcription cancelled")
)

// ChunkError carries the span of a failed chunk.
type ChunkError struct {
	Chunk Chunk
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d (%.1fs-%.1fs): %v", e.Chunk.Index, e.Chunk.Start, e.Chunk.End, e.Err)
}

func (e *ChunkError) Unwrap() []error {
	return []error{ErrChunkFailed, e.Err}
}
