// Package match implements the Matcher (spec §4.6): a delta-histogram
// scorer over lookup results, picking the best-supported song_id and
// exposing the top-N candidates as a diagnostic by-product.
package match

import (
	"math"
	"sort"

	"tuneprint/pkg/model"
)

// DefaultTopN is the number of diagnostic candidates retained.
const DefaultTopN = 10

const binWidthSec = 0.5

// Result is the Matcher's decision plus its supporting diagnostics.
type Result struct {
	Matched       bool
	SongID        string
	Score         int
	MatchCount    int
	OffsetSeconds float64
	Candidates    []model.Candidate
}

// Match scores every candidate song in offsets by the size of its
// tallest 0.5s delta bin, picks the winner (ties: larger match count,
// then lexicographically smaller song_id), and returns the top-N
// candidates by score for diagnostics.
func Match(offsets map[string][]model.MatchOffset, topN int) Result {
	if topN <= 0 {
		topN = DefaultTopN
	}

	type scored struct {
		songID        string
		score         int
		matchCount    int
		offsetSeconds float64
	}

	var all []scored
	for songID, pairs := range offsets {
		bins := make(map[int]int)
		binOffset := make(map[int]float64)
		for _, p := range pairs {
			delta := p.DBOffset - p.QueryOffset
			bin := int(math.Floor(delta / binWidthSec))
			bins[bin]++
			if _, ok := binOffset[bin]; !ok {
				binOffset[bin] = delta
			}
		}

		var bestBin, bestCount int
		first := true
		for bin, count := range bins {
			if first || count > bestCount || (count == bestCount && bin < bestBin) {
				bestBin, bestCount = bin, count
				first = false
			}
		}

		all = append(all, scored{
			songID:        songID,
			score:         bestCount,
			matchCount:    len(pairs),
			offsetSeconds: binOffset[bestBin],
		})
	}

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		if all[i].matchCount != all[j].matchCount {
			return all[i].matchCount > all[j].matchCount
		}
		return all[i].songID < all[j].songID
	})

	candidates := make([]model.Candidate, 0, topN)
	for i, s := range all {
		if i >= topN {
			break
		}
		candidates = append(candidates, model.Candidate{SongID: s.songID, Score: s.score, MatchCount: s.matchCount})
	}

	if len(all) == 0 || all[0].score <= 0 {
		return Result{Matched: false, Candidates: candidates}
	}

	winner := all[0]
	return Result{
		Matched:       true,
		SongID:        winner.songID,
		Score:         winner.score,
		MatchCount:    winner.matchCount,
		OffsetSeconds: winner.offsetSeconds,
		Candidates:    candidates,
	}
}
