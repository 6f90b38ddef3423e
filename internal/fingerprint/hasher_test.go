package fingerprint

import (
	"testing"

	"tuneprint/pkg/model"
)

func TestHashIsDeterministic(t *testing.T) {
	anchor := model.Peak{FreqHz: 440.3, TimeSec: 1.000}
	target := model.Peak{FreqHz: 880.1, TimeSec: 1.250}

	h1 := Hash(anchor, target)
	h2 := Hash(anchor, target)
	if h1 != h2 {
		t.Fatalf("hash not deterministic: %d vs %d", h1, h2)
	}
	if h1 > hashMask {
		t.Errorf("hash %d exceeds 40-bit mask", h1)
	}
}

func TestHashDiffersOnAnyComponent(t *testing.T) {
	base := Hash(model.Peak{FreqHz: 440, TimeSec: 1.0}, model.Peak{FreqHz: 880, TimeSec: 1.2})
	variants := []uint64{
		Hash(model.Peak{FreqHz: 441, TimeSec: 1.0}, model.Peak{FreqHz: 880, TimeSec: 1.2}),
		Hash(model.Peak{FreqHz: 440, TimeSec: 1.0}, model.Peak{FreqHz: 881, TimeSec: 1.2}),
		Hash(model.Peak{FreqHz: 440, TimeSec: 1.0}, model.Peak{FreqHz: 880, TimeSec: 1.3}),
	}
	for i, v := range variants {
		if v == base {
			t.Errorf("variant %d collided with base hash", i)
		}
	}
}

func TestInTargetZoneBounds(t *testing.T) {
	anchor := model.Peak{FreqHz: 1000, TimeSec: 0.0}

	cases := []struct {
		name string
		t    model.Peak
		want bool
	}{
		{"too soon", model.Peak{FreqHz: 1000, TimeSec: 0.01}, false},
		{"lower bound", model.Peak{FreqHz: 1000, TimeSec: 0.02}, true},
		{"upper bound", model.Peak{FreqHz: 1000, TimeSec: 0.52}, true},
		{"too late", model.Peak{FreqHz: 1000, TimeSec: 0.53}, false},
		{"freq too high", model.Peak{FreqHz: 1300, TimeSec: 0.1}, false},
		{"freq within spread", model.Peak{FreqHz: 1200, TimeSec: 0.1}, true},
	}
	for _, c := range cases {
		if got := inTargetZone(anchor, c.t); got != c.want {
			t.Errorf("%s: inTargetZone() = %v, want %v", c.name, got, c.want)
		}
	}
}

func TestGenerateCapsFanOutPerAnchor(t *testing.T) {
	peaks := []model.Peak{{FreqHz: 1000, TimeSec: 0.0, Amplitude: 1}}
	for i := 0; i < 10; i++ {
		peaks = append(peaks, model.Peak{
			FreqHz:    1000 + float64(i),
			TimeSec:   0.1 + 0.01*float64(i),
			Amplitude: float64(10 - i),
		})
	}

	// The ten targets also pair with each other as anchors, so only the
	// fingerprints anchored at t=0 measure the first anchor's fan-out.
	fps := Generate(peaks, "song-a")
	fromFirstAnchor := 0
	for _, fp := range fps {
		if fp.AnchorTime == 0.0 {
			fromFirstAnchor++
		}
	}
	if fromFirstAnchor > maxPairsPerAnchor {
		t.Errorf("expected at most %d fingerprints from one anchor's zone, got %d", maxPairsPerAnchor, fromFirstAnchor)
	}
}

func TestGenerateDedupesByHashKeepingEarliestAnchor(t *testing.T) {
	// Two anchors whose target-zone pairings collide onto the same
	// hash (identical freq/time-delta combination reproduced twice);
	// the earlier anchor_time must win.
	peaks := []model.Peak{
		{FreqHz: 500, TimeSec: 0.0, Amplitude: 5},
		{FreqHz: 700, TimeSec: 0.1, Amplitude: 5},
		{FreqHz: 500, TimeSec: 2.0, Amplitude: 5},
		{FreqHz: 700, TimeSec: 2.1, Amplitude: 5},
	}

	fps := Generate(peaks, "song-a")
	h := Hash(peaks[0], peaks[1])
	found := false
	for _, fp := range fps {
		if fp.Hash == h {
			found = true
			if fp.AnchorTime != 0.0 {
				t.Errorf("expected earliest anchor_time 0.0 to win dedup, got %v", fp.AnchorTime)
			}
		}
	}
	if !found {
		t.Fatalf("expected hash %d to be present", h)
	}
}

func TestGenerateAssignsSongID(t *testing.T) {
	peaks := []model.Peak{
		{FreqHz: 500, TimeSec: 0.0, Amplitude: 5},
		{FreqHz: 700, TimeSec: 0.1, Amplitude: 5},
	}
	fps := Generate(peaks, "abc123")
	if len(fps) == 0 {
		t.Fatal("expected at least one fingerprint")
	}
	for _, fp := range fps {
		if fp.SongID != "abc123" {
			t.Errorf("SongID = %q, want %q", fp.SongID, "abc123")
		}
	}
}
