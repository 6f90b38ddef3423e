// Package audio implements the Resampler/Mixer (spec §4.1) and the
// out-of-scope container-decoding collaborator's concrete default
// implementation, kept in separate files so the in-scope DSP stays a
// pure function with no I/O.
package audio

import (
	"tuneprint/pkg/model"
)

// CanonicalRate is Fs, the single internal representation sample rate
// for all audio past the decode boundary.
const CanonicalRate = 22050

// DownMix averages interleaved stereo samples into mono:
// out[i] = 0.5 * (in[2i] + in[2i+1]).
func DownMix(in []float64) []float64 {
	n := len(in) / 2
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		out[i] = 0.5 * (in[2*i] + in[2*i+1])
	}
	return out
}

// Resample performs linear interpolation from fsIn to fsOut.
// Let r = fsIn/fsOut; output length floor(len(in)/r); out[i] =
// in[floor(s)]*(1-f) + in[ceil(s)]*f where s = i*r, f = s - floor(s).
// When floor(s) is the last valid index, the ceil sample is unavailable
// and in[floor(s)] is used alone.
func Resample(in []float64, fsIn, fsOut int) []float64 {
	if fsIn == fsOut {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}

	r := float64(fsIn) / float64(fsOut)
	outLen := int(float64(len(in)) / r)
	out := make([]float64, outLen)

	last := len(in) - 1
	for i := 0; i < outLen; i++ {
		s := float64(i) * r
		lo := int(s)
		f := s - float64(lo)

		if lo >= last {
			out[i] = in[last]
			continue
		}
		out[i] = in[lo]*(1-f) + in[lo+1]*f
	}
	return out
}

// ToCanonical mixes a possibly-interleaved multi-channel buffer at
// fsIn down to mono and resamples it to CanonicalRate. channels must be
// 1 or 2 per the contract; stereo is down-mixed by channel averaging
// before resampling.
func ToCanonical(in []float64, fsIn, channels int) (*model.Signal, error) {
	if len(in) == 0 {
		return nil, model.ErrInvalidAudio
	}

	mono := in
	if channels == 2 {
		mono = DownMix(in)
	}

	samples := Resample(mono, fsIn, CanonicalRate)
	return &model.Signal{Samples: samples, SampleRate: CanonicalRate}, nil
}
