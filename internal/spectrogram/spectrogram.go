// Package spectrogram implements the windowed STFT (spec §4.2): a
// Hamming-windowed, 50%-overlap short-time Fourier transform producing
// the (freqs, times, power) triple consumed by the peak finder.
package spectrogram

import (
	"math"
	"math/cmplx"

	"github.com/mjibson/go-dsp/fft"

	"tuneprint/pkg/model"
)

// WindowSize is N, the fixed STFT window length: 1015 samples, about
// 46 ms at the canonical 22,050 Hz rate.
const WindowSize = 1015

// HopSize is the 50%-overlap hop between consecutive segments. Spec §3
// defines segment i as starting at sample i*(N - N/2); for odd N (as
// here) that is one sample more than N/2 itself, so the two are kept
// as distinct constants rather than assuming N is even.
const HopSize = WindowSize - WindowSize/2

// Hamming returns the length-n Hamming window:
// w[i] = 0.54 - 0.46*cos(2*pi*i/(n-1)).
func Hamming(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// Processor computes spectrograms for one goroutine's worth of audio.
// The underlying go-dsp/fft plan is not safe to share across
// goroutines (§9), so the Orchestrator constructs one Processor per
// chunk worker rather than sharing a single instance.
type Processor struct {
	window []float64
}

func NewProcessor() *Processor {
	return &Processor{window: Hamming(WindowSize)}
}

// Compute runs the STFT over a canonical-rate signal, returning the
// (freqs, times, power) triple. Segment i starts at sample
// i*(N - N/2) and times[i] is its center, (start + N/2)/Fs; the last
// partial segment is zero-padded.
func (p *Processor) Compute(signal *model.Signal) *model.Spectrogram {
	samples := signal.Samples
	fs := signal.SampleRate

	nBins := WindowSize/2 + 1
	freqs := make([]float64, nBins)
	for k := 0; k < nBins; k++ {
		freqs[k] = float64(k) * float64(fs) / float64(WindowSize)
	}

	// Number of segments = floor((|samples| - N/2) / hop), per §4.2.
	nSegments := 0
	if len(samples) >= WindowSize/2 {
		nSegments = (len(samples) - WindowSize/2) / HopSize
	}

	times := make([]float64, nSegments)
	power := make([][]float64, nBins)
	for k := range power {
		power[k] = make([]float64, nSegments)
	}

	frame := make([]float64, WindowSize)
	for i := 0; i < nSegments; i++ {
		start := i * HopSize
		for n := 0; n < WindowSize; n++ {
			var s float64
			if start+n < len(samples) {
				s = samples[start+n]
			}
			frame[n] = s * p.window[n]
		}

		spectrum := fft.FFTReal(frame)
		for k := 0; k < nBins; k++ {
			mag := cmplx.Abs(spectrum[k])
			power[k][i] = mag * mag
		}
		times[i] = float64(start+WindowSize/2) / float64(fs)
	}

	return &model.Spectrogram{Freqs: freqs, Times: times, Power: power}
}
