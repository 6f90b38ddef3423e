// Package fingerprint implements the Landmark Hasher (spec §4.4):
// target-zone pairing of peaks into anchor/target landmarks, and a
// deterministic 40-bit combinatorial hash of each pair.
package fingerprint

import (
	"math"
	"sort"

	"tuneprint/pkg/model"
)

const (
	// Target-zone bounds, in seconds, relative to the anchor's time.
	targetMinDeltaSec = 0.02
	targetMaxDeltaSec = 0.52

	// Target-zone frequency bound, in Hz, relative to the anchor's
	// frequency (symmetric, plus or minus).
	targetFreqSpreadHz = 250.0

	// maxPairsPerAnchor is the fan-out cap: at most this many targets
	// are paired with each anchor, chosen by amplitude.
	maxPairsPerAnchor = 5

	freqBits  = 14
	deltaBits = 12
	freqMask  = (1 << freqBits) - 1
	deltaMask = (1 << deltaBits) - 1
	hashMask  = (1 << (2*freqBits + deltaBits)) - 1
)

// Hash packs (anchor_freq, target_freq, delta_t) into a 40-bit integer:
//
//	f1 = floor(anchor.freq * 10) & 0x3FFF   (14 bits)
//	f2 = floor(target.freq * 10) & 0x3FFF   (14 bits)
//	dt = floor(delta_t * 10000) & 0xFFF     (12 bits)
//	hash = (f1<<26 | f2<<12 | dt) & 0xFFFFFFFFFF
//
// Each float input is scaled and floored once; everything after that is
// integer masking and shifting, so the same peaks always give the same
// hash.
func Hash(anchor, target model.Peak) uint64 {
	f1 := uint64(math.Floor(anchor.FreqHz*10)) & freqMask
	f2 := uint64(math.Floor(target.FreqHz*10)) & freqMask
	dt := uint64(math.Floor((target.TimeSec-anchor.TimeSec)*10000)) & deltaMask
	return ((f1 << (freqBits + deltaBits)) | (f2 << deltaBits) | dt) & hashMask
}

// inTargetZone reports whether target lies in anchor's target zone:
// time in [anchor.time+0.02, anchor.time+0.52], freq within ±250Hz.
func inTargetZone(anchor, target model.Peak) bool {
	dt := target.TimeSec - anchor.TimeSec
	if dt < targetMinDeltaSec || dt > targetMaxDeltaSec {
		return false
	}
	df := target.FreqHz - anchor.FreqHz
	if df < -targetFreqSpreadHz || df > targetFreqSpreadHz {
		return false
	}
	return true
}

// Generate pairs each peak as an anchor with up to 5 targets drawn from
// its target zone (picked by amplitude, ties broken by earlier time
// then lower frequency), hashes each pair, and deduplicates by hash —
// keeping the earliest anchor_time for any hash collision within the
// same song.
func Generate(peaks []model.Peak, songID string) []model.Fingerprint {
	sorted := make([]model.Peak, len(peaks))
	copy(sorted, peaks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].TimeSec < sorted[j].TimeSec })

	byHash := make(map[uint64]model.Fingerprint)

	for i, anchor := range sorted {
		var zone []model.Peak
		for j := i + 1; j < len(sorted); j++ {
			target := sorted[j]
			if target.TimeSec-anchor.TimeSec > targetMaxDeltaSec {
				break
			}
			if inTargetZone(anchor, target) {
				zone = append(zone, target)
			}
		}
		if len(zone) == 0 {
			continue
		}

		sort.SliceStable(zone, func(a, b int) bool {
			if zone[a].Amplitude != zone[b].Amplitude {
				return zone[a].Amplitude > zone[b].Amplitude
			}
			if zone[a].TimeSec != zone[b].TimeSec {
				return zone[a].TimeSec < zone[b].TimeSec
			}
			return zone[a].FreqHz < zone[b].FreqHz
		})
		if len(zone) > maxPairsPerAnchor {
			zone = zone[:maxPairsPerAnchor]
		}

		for _, target := range zone {
			h := Hash(anchor, target)
			fp := model.Fingerprint{Hash: h, AnchorTime: anchor.TimeSec, SongID: songID}
			existing, ok := byHash[h]
			if !ok || fp.AnchorTime < existing.AnchorTime {
				byHash[h] = fp
			}
		}
	}

	out := make([]model.Fingerprint, 0, len(byHash))
	for _, fp := range byHash {
		out = append(out, fp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AnchorTime != out[j].AnchorTime {
			return out[i].AnchorTime < out[j].AnchorTime
		}
		return out[i].Hash < out[j].Hash
	})
	return out
}
