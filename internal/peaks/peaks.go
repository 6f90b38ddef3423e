// Package peaks implements the Peak Finder (spec §4.3): adaptive
// thresholding, local-maximum detection in a B×B neighborhood, temporal
// thinning, and a global cap — plus the legacy policy kept for
// backward-compatible catalogs.
package peaks

import (
	"sort"

	"tuneprint/pkg/model"
)

const (
	// BoxSize is B, the neighborhood size for local maximum detection.
	// The neighborhood reaches B/2 bins to each side of the center, so
	// it spans (B+1)x(B+1) cells; the global cap divides by B*B.
	BoxSize = 20

	bandLowHz  = 300.0
	bandHighHz = 8000.0

	// thinningWindowSec is the 1/15s temporal-thinning bucket width.
	thinningWindowSec = 1.0 / 15.0
	thinningKeep       = 15

	optimizedThresholdMul = 3.0
	legacyThresholdMul    = 2.0

	minPeakStrength = 4.0

	optimizedCapFraction = 0.3
	legacyCapFraction    = 0.8
)

// candidate is a peak still carrying its original scan index, needed to
// break amplitude ties by earlier time then lower frequency.
type candidate struct {
	model.Peak
	order int
}

// Extract runs the optimized peak-detection policy (§4.3 steps 1-4).
func Extract(spec *model.Spectrogram) []model.Peak {
	return extract(spec, true)
}

// ExtractLegacy runs the legacy policy: threshold = 2*mean, no band
// filter, no strength gate, no temporal thinning, cap fraction 0.8.
func ExtractLegacy(spec *model.Spectrogram) []model.Peak {
	return extract(spec, false)
}

func extract(spec *model.Spectrogram, optimized bool) []model.Peak {
	nFreq := len(spec.Freqs)
	nTime := len(spec.Times)
	if nFreq == 0 || nTime == 0 {
		return nil
	}

	threshMul := legacyThresholdMul
	if optimized {
		threshMul = optimizedThresholdMul
	}
	threshold := threshMul * bandMean(spec, optimized)
	half := BoxSize / 2

	var candidates []candidate
	order := 0
	// Scan time-major so "earlier time" ties are naturally encountered
	// first; frequency ties within the same time are broken by the
	// ascending i loop below. Only interior bins carry a full BxB
	// neighborhood, so boundary indices are never candidates.
	for j := half; j < nTime-half; j++ {
		for i := half; i < nFreq-half; i++ {
			if optimized && !inBand(spec.Freqs[i]) {
				continue
			}
			val := spec.Power[i][j]
			if val <= threshold {
				continue
			}

			isMax, neighborSum, neighborCount := localMaxStats(spec, i, j)
			if !isMax {
				continue
			}

			if optimized && neighborCount > 0 {
				mean := neighborSum / float64(neighborCount)
				if mean <= 0 || val/mean < minPeakStrength {
					continue
				}
			}

			candidates = append(candidates, candidate{
				Peak: model.Peak{
					FreqIdx:   i,
					TimeIdx:   j,
					FreqHz:    spec.Freqs[i],
					TimeSec:   spec.Times[j],
					Amplitude: val,
				},
				order: order,
			})
			order++
		}
	}

	if optimized {
		candidates = temporalThin(candidates)
	}

	sortByAmplitudeDesc(candidates)

	capFraction := legacyCapFraction
	if optimized {
		capFraction = optimizedCapFraction
	}
	cap := int(float64(nFreq*nTime) / float64(BoxSize*BoxSize) * capFraction)
	if cap < 0 {
		cap = 0
	}
	if len(candidates) > cap {
		candidates = candidates[:cap]
	}

	out := make([]model.Peak, len(candidates))
	for i, c := range candidates {
		out[i] = c.Peak
	}
	return out
}

func inBand(freqHz float64) bool {
	return freqHz >= bandLowHz && freqHz <= bandHighHz
}

// bandMean computes the mean power over bins whose center frequency
// lies in [300, 8000] Hz (optimized), or the whole matrix (legacy).
func bandMean(spec *model.Spectrogram, restrictBand bool) float64 {
	var sum float64
	var count int
	for i, f := range spec.Freqs {
		if restrictBand && !inBand(f) {
			continue
		}
		for j := range spec.Times {
			sum += spec.Power[i][j]
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}

// localMaxStats reports whether power[i][j] is the strict-or-equal
// maximum in its neighborhood (every cell within BoxSize/2 bins in both
// directions, (B+1)x(B+1) cells), plus the sum/count of the other
// neighborhood cells (for peak_strength). Callers only ever pass
// interior (i, j) — half <= i < nFreq-half, half <= j < nTime-half —
// so every neighborhood cell is always in bounds.
func localMaxStats(spec *model.Spectrogram, i, j int) (isMax bool, neighborSum float64, neighborCount int) {
	center := spec.Power[i][j]
	half := BoxSize / 2

	isMax = true
	for di := -half; di <= half; di++ {
		fi := i + di
		for dj := -half; dj <= half; dj++ {
			tj := j + dj
			if di == 0 && dj == 0 {
				continue
			}
			v := spec.Power[fi][tj]
			if v > center {
				isMax = false
			}
			neighborSum += v
			neighborCount++
		}
	}
	return isMax, neighborSum, neighborCount
}

// temporalThin partitions candidates into non-overlapping 1/15s windows
// (by time_s) and keeps the top 15 by amplitude in each window (ties:
// earlier time, then lower frequency — both captured by scan order
// since the scan is time-major with ascending frequency).
func temporalThin(candidates []candidate) []candidate {
	if len(candidates) == 0 {
		return candidates
	}

	byTime := make([]candidate, len(candidates))
	copy(byTime, candidates)
	sort.SliceStable(byTime, func(a, b int) bool {
		return byTime[a].TimeSec < byTime[b].TimeSec
	})

	var out []candidate
	start := 0
	for start < len(byTime) {
		windowStart := byTime[start].TimeSec
		end := start
		for end < len(byTime) && byTime[end].TimeSec < windowStart+thinningWindowSec {
			end++
		}

		window := byTime[start:end]
		sort.SliceStable(window, func(a, b int) bool {
			if window[a].Amplitude != window[b].Amplitude {
				return window[a].Amplitude > window[b].Amplitude
			}
			return window[a].order < window[b].order
		})

		keep := thinningKeep
		if keep > len(window) {
			keep = len(window)
		}
		out = append(out, window[:keep]...)

		start = end
	}

	return out
}

// sortByAmplitudeDesc sorts by amplitude descending, ties broken by
// earlier time then lower frequency (both encoded in scan order).
func sortByAmplitudeDesc(candidates []candidate) {
	sort.SliceStable(candidates, func(a, b int) bool {
		if candidates[a].Amplitude != candidates[b].Amplitude {
			return candidates[a].Amplitude > candidates[b].Amplitude
		}
		return candidates[a].order < candidates[b].order
	})
}
