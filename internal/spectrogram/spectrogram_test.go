package spectrogram

import (
	"math"
	"testing"

	"tuneprint/pkg/model"
)

func TestHammingEndpoints(t *testing.T) {
	w := Hamming(WindowSize)
	if len(w) != WindowSize {
		t.Fatalf("expected %d samples, got %d", WindowSize, len(w))
	}
	if math.Abs(w[0]-0.08) > 1e-9 {
		t.Errorf("w[0] = %v, want ~0.08", w[0])
	}
	last := w[len(w)-1]
	if math.Abs(last-0.08) > 1e-6 {
		t.Errorf("w[n-1] = %v, want ~0.08", last)
	}
}

func TestFreqAxis(t *testing.T) {
	p := NewProcessor()
	signal := &model.Signal{Samples: make([]float64, WindowSize*4), SampleRate: 22050}
	spec := p.Compute(signal)

	wantBins := WindowSize/2 + 1
	if len(spec.Freqs) != wantBins {
		t.Fatalf("expected %d freq bins, got %d", wantBins, len(spec.Freqs))
	}
	for i := 1; i < len(spec.Freqs); i++ {
		if spec.Freqs[i] <= spec.Freqs[i-1] {
			t.Fatalf("freqs not strictly increasing at %d", i)
		}
	}
	wantStep := 22050.0 / float64(WindowSize)
	if math.Abs(spec.Freqs[1]-wantStep) > 1e-9 {
		t.Errorf("freq bin step = %v, want %v", spec.Freqs[1], wantStep)
	}
}

func TestConstantSignalConcentratesAtDC(t *testing.T) {
	// S5: spectrogram of a constant signal has its power at bin 0. The
	// Hamming window's main lobe also puts about 0.18 of bin 0's power
	// into bin 1; every bin from 2 up stays below 1e-6 of bin 0.
	p := NewProcessor()
	samples := make([]float64, 22050)
	for i := range samples {
		samples[i] = 1.0
	}
	spec := p.Compute(&model.Signal{Samples: samples, SampleRate: 22050})

	for tIdx := 0; tIdx < len(spec.Times); tIdx++ {
		if spec.Power[1][tIdx] > spec.Power[0][tIdx]*0.2 {
			t.Fatalf("expected bin 1 below 0.2 of bin 0 at time %d: %v vs %v",
				tIdx, spec.Power[1][tIdx], spec.Power[0][tIdx])
		}
		for k := 2; k < len(spec.Freqs); k++ {
			if spec.Power[k][tIdx] > spec.Power[0][tIdx]*1e-6 {
				t.Fatalf("expected power concentrated at bin 0, found leak at bin %d, time %d: %v vs %v",
					k, tIdx, spec.Power[k][tIdx], spec.Power[0][tIdx])
			}
		}
	}
}

func TestTimesMatchSegmentCenters(t *testing.T) {
	p := NewProcessor()
	signal := &model.Signal{Samples: make([]float64, WindowSize*3), SampleRate: 22050}
	spec := p.Compute(signal)

	for i, tm := range spec.Times {
		want := float64(i*HopSize+WindowSize/2) / 22050.0
		if math.Abs(tm-want) > 1e-9 {
			t.Errorf("times[%d] = %v, want %v", i, tm, want)
		}
	}
}
