package match

import (
	"testing"

	"tuneprint/pkg/model"
)

func offsetsAt(delta float64, n int) []model.MatchOffset {
	out := make([]model.MatchOffset, n)
	for i := range out {
		// Vary query_offset per pair so db_offset differs too, keeping
		// the delta (db - query) constant.
		out[i] = model.MatchOffset{DBOffset: delta + float64(i), QueryOffset: float64(i)}
	}
	return out
}

func TestMatchPicksTallestBin(t *testing.T) {
	offsets := map[string][]model.MatchOffset{
		"song-a": offsetsAt(10.0, 8),
	}
	result := Match(offsets, 0)
	if !result.Matched || result.SongID != "song-a" {
		t.Fatalf("expected song-a to match, got %+v", result)
	}
	if result.Score != 8 {
		t.Errorf("Score = %d, want 8", result.Score)
	}
}

func TestMatchBreaksTiesByMatchCountThenSongID(t *testing.T) {
	offsets := map[string][]model.MatchOffset{
		"song-b": offsetsAt(5.0, 6),
		"song-a": offsetsAt(5.0, 6),
	}
	result := Match(offsets, 0)
	if result.SongID != "song-a" {
		t.Errorf("expected lexicographically smaller song-a to win a tie, got %s", result.SongID)
	}
}

func TestMatchNoPositiveScoreReportsNoMatch(t *testing.T) {
	result := Match(map[string][]model.MatchOffset{}, 0)
	if result.Matched {
		t.Error("expected no match for empty offsets")
	}
}

func TestMatchTopNCandidatesSortedByScore(t *testing.T) {
	offsets := map[string][]model.MatchOffset{
		"low":    offsetsAt(1.0, 2),
		"high":   offsetsAt(2.0, 10),
		"medium": offsetsAt(3.0, 5),
	}
	result := Match(offsets, 2)
	if len(result.Candidates) != 2 {
		t.Fatalf("expected top-2 candidates, got %d", len(result.Candidates))
	}
	if result.Candidates[0].SongID != "high" || result.Candidates[1].SongID != "medium" {
		t.Errorf("candidates not sorted by descending score: %+v", result.Candidates)
	}
}

func TestMatchBinningGroupsNearbyDeltas(t *testing.T) {
	// Deltas 10.0, 10.1, 10.2 all fall in the same 0.5s bin.
	offsets := map[string][]model.MatchOffset{
		"song-a": {
			{DBOffset: 10.0, QueryOffset: 0},
			{DBOffset: 10.1, QueryOffset: 0},
			{DBOffset: 10.2, QueryOffset: 0},
		},
	}
	result := Match(offsets, 0)
	if result.Score != 3 {
		t.Errorf("expected all three close deltas in one bin, got score %d", result.Score)
	}
}
