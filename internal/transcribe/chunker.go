package transcribe

import "github.com/snarg/scribe-engine/internal/audio"

// minTail is the shortest trailing chunk worth its own backend call; shorter
// remainders are folded into the previous chunk unless that would take it
// past the backend's MaxDuration.
const minTail = 0.05

// Chunk is a contiguous time span of the canonical audio, in seconds.
type Chunk struct {
	Index int     `json:"index"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// Duration returns the chunk length in seconds.
func (c Chunk) Duration() float64 { return c.End - c.Start }

// Plan divides [0, duration) into contiguous, non-overlapping chunks. The
// whole file is one chunk unless the backend's capabilities require
// splitting, in which case chunks are nominal seconds long (capped by the
// backend's MaxDuration) and the last one may be shorter.
func Plan(duration, nominal float64, caps Capabilities, sampleRate int) []Chunk {
	if duration <= 0 {
		return nil
	}
	if !needsSplit(duration, caps, sampleRate) {
		return []Chunk{{Index: 0, Start: 0, End: duration}}
	}

	length := nominal
	if caps.MaxDuration > 0 && caps.MaxDuration < length {
		length = caps.MaxDuration
	}
	if length <= 0 {
		length = duration
	}

	var chunks []Chunk
	for i := 0; ; i++ {
		start := float64(i) * length
		if start >= duration {
			break
		}
		if duration-start < minTail && len(chunks) > 0 {
			last := &chunks[len(chunks)-1]
			if caps.MaxDuration <= 0 || duration-last.Start <= caps.MaxDuration {
				last.End = duration
				break
			}
		}
		end := float64(i+1) * length
		if end > duration {
			end = duration
		}
		chunks = append(chunks, Chunk{Index: i, Start: start, End: end})
	}
	return chunks
}

func needsSplit(duration float64, caps Capabilities, sampleRate int) bool {
	if caps.NeedsChunking {
		return true
	}
	if caps.MaxDuration > 0 && duration > caps.MaxDuration {
		return true
	}
	if caps.MaxSizeBytes > 0 {
		samples := int(duration * float64(sampleRate))
		return audio.WAVSize(samples) > caps.MaxSizeBytes
	}
	return false
}

// piece is a half-open sample range [lo, hi).
type piece struct{ lo, hi int }

// splitBySize halves a sample range until every piece encodes within
// maxBytes. Pieces never go below minSamples; a backend that cannot take
// even that much will fail the chunk.
func splitBySize(lo, hi int, maxBytes int64, minSamples int) []piece {
	if maxBytes <= 0 || audio.WAVSize(hi-lo) <= maxBytes || hi-lo <= minSamples {
		return []piece{{lo, hi}}
	}
	mid := lo + (hi-lo)/2
	return append(splitBySize(lo, mid, maxBytes, minSamples), splitBySize(mid, hi, maxBytes, minSamples)...)
}
