package merge

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snarg/scribe-engine/internal/diarize"
	"github.com/snarg/scribe-engine/internal/transcribe"
)

func TestAssignSpeakers(t *testing.T) {
	turns := []diarize.Segment{
		{Start: 5, End: 10, Speaker: "Speaker 2"},
		{Start: 0, End: 5, Speaker: "Speaker 1"},
		{Start: 10, End: 12, Speaker: "Speaker 3"},
	}

	tests := []struct {
		name string
		seg  transcribe.Segment
		want string
	}{
		{"inside_one_turn", transcribe.Segment{Start: 1, End: 2, Text: "a"}, "Speaker 1"},
		{"majority_overlap", transcribe.Segment{Start: 4, End: 8, Text: "a"}, "Speaker 2"},
		{"tie_goes_to_earliest_turn", transcribe.Segment{Start: 4, End: 6, Text: "a"}, "Speaker 1"},
		{"no_overlap_falls_back", transcribe.Segment{Start: 13, End: 14, Text: "a"}, "Speaker 1"},
		{"touching_is_not_overlap", transcribe.Segment{Start: 12, End: 13, Text: "a"}, "Speaker 1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AssignSpeakers([]transcribe.Segment{tt.seg}, turns, FallbackSpeaker)
			require.Len(t, got, 1)
			assert.Equal(t, tt.want, got[0].Speaker)
		})
	}
}

func TestAssignSpeakers_NoTurns(t *testing.T) {
	got := AssignSpeakers([]transcribe.Segment{
		{Start: 0, End: 1, Text: " a "},
		{Start: 5, End: 6, Text: "b"},
	}, nil, "Speaker 1")
	for _, s := range got {
		assert.Equal(t, "Speaker 1", s.Speaker)
	}
	assert.Equal(t, "a", got[0].Text)
	assert.Equal(t, 1.0, got[1].Duration)
}

func TestCoalesce(t *testing.T) {
	t.Run("same_speaker_within_gap", func(t *testing.T) {
		got := Coalesce([]Segment{
			{Start: 0, End: 1, Text: "hi", Speaker: "Speaker 1", Duration: 1},
			{Start: 1.5, End: 2.5, Text: "there", Speaker: "Speaker 1", Duration: 1},
		}, 1.0)
		assert.Equal(t, []Segment{{Start: 0, End: 2.5, Text: "hi there", Speaker: "Speaker 1", Duration: 2.5}}, got)
	})

	t.Run("gap_exactly_max_is_joined", func(t *testing.T) {
		got := Coalesce([]Segment{
			{Start: 0, End: 1, Text: "a", Speaker: "S"},
			{Start: 2, End: 3, Text: "b", Speaker: "S"},
		}, 1.0)
		assert.Len(t, got, 1)
	})

	t.Run("gap_too_large", func(t *testing.T) {
		got := Coalesce([]Segment{
			{Start: 0, End: 1, Text: "a", Speaker: "S"},
			{Start: 2.5, End: 3, Text: "b", Speaker: "S"},
		}, 1.0)
		assert.Len(t, got, 2)
	})

	t.Run("different_speakers_never_joined", func(t *testing.T) {
		got := Coalesce([]Segment{
			{Start: 0, End: 1, Text: "a", Speaker: "Speaker 1"},
			{Start: 1, End: 2, Text: "b", Speaker: "Speaker 2"},
			{Start: 2, End: 3, Text: "c", Speaker: "Speaker 1"},
		}, 1.0)
		assert.Len(t, got, 3)
	})

	t.Run("idempotent", func(t *testing.T) {
		in := []Segment{
			{Start: 0, End: 1, Text: "a", Speaker: "S1"},
			{Start: 1.2, End: 2, Text: "b", Speaker: "S1"},
			{Start: 2.1, End: 3, Text: "c", Speaker: "S2"},
			{Start: 5, End: 6, Text: "d", Speaker: "S2"},
			{Start: 6.5, End: 7, Text: "e", Speaker: "S2"},
		}
		once := Coalesce(in, 1.0)
		assert.Equal(t, once, Coalesce(once, 1.0))
		assert.Len(t, once, 3)
	})

	t.Run("empty", func(t *testing.T) {
		assert.Empty(t, Coalesce(nil, 1.0))
	})
}

func TestBuild(t *testing.T) {
	in := Input{
		Segments: []transcribe.Segment{
			{Start: 0, End: 3.5, Text: "first"},
			{Start: 4.0, End: 4.4, Text: "still first"},
			{Start: 5.5, End: 9.8, Text: "second"},
			{Start: 11.2, End: 17.5, Text: "third"},
		},
		Turns: []diarize.Segment{
			{Start: 0, End: 4.5, Speaker: "Speaker 1"},
			{Start: 5, End: 10, Speaker: "Speaker 2"},
			{Start: 11, End: 18, Speaker: "Speaker 3"},
		},
		Language: "sv",
		Duration: 18,
		MaxGap:   DefaultMaxGap,
	}

	res, err := Build(in)
	require.NoError(t, err)
	require.Len(t, res.Segments, 3)
	assert.Equal(t, "first still first", res.Segments[0].Text)
	assert.Equal(t, 4.4, res.Segments[0].End)
	assert.Equal(t, 3, res.NumSpeakers)
	assert.Equal(t, map[string]string{"Speaker 1": "Speaker 1", "Speaker 2": "Speaker 2", "Speaker 3": "Speaker 3"}, res.Speakers)
	assert.Equal(t, "first still first second third", res.FullText)
	assert.Equal(t, "sv", res.Language)
	assert.Equal(t, 18.0, res.Duration)

	for i := 1; i < len(res.Segments); i++ {
		assert.LessOrEqual(t, res.Segments[i-1].Start, res.Segments[i].Start)
	}
}

func TestBuild_TranscriptOnly(t *testing.T) {
	res, err := Build(Input{
		Segments: []transcribe.Segment{
			{Start: 0, End: 1, Text: "a"},
			{Start: 10, End: 11, Text: "b"},
		},
		Language: "en",
		Duration: 11,
		MaxGap:   1,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.NumSpeakers)
	assert.Equal(t, map[string]string{"Speaker 1": "Speaker 1"}, res.Speakers)
	assert.Len(t, res.Segments, 2)
}

func TestBuild_EmptyTranscript(t *testing.T) {
	res, err := Build(Input{Language: "unknown", Duration: 4, MaxGap: 1})
	require.NoError(t, err)
	assert.NotNil(t, res.Segments)
	assert.Empty(t, res.Segments)
	assert.Equal(t, 0, res.NumSpeakers)
	assert.Empty(t, res.FullText)
}

func TestBuild_InconsistentInput(t *testing.T) {
	tests := []struct {
		name string
		in   Input
	}{
		{"negative_duration", Input{Duration: -1}},
		{"nan_duration", Input{Duration: math.NaN()}},
		{"negative_gap", Input{MaxGap: -1}},
		{"negative_start", Input{Segments: []transcribe.Segment{{Start: -1, End: 1, Text: "a"}}}},
		{"reversed_segment", Input{Segments: []transcribe.Segment{{Start: 2, End: 1, Text: "a"}}}},
		{"infinite_turn", Input{Turns: []diarize.Segment{{Start: 0, End: math.Inf(1)}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.in)
			assert.ErrorIs(t, err, ErrInconsistentInput)
		})
	}
}
