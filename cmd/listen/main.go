// Command listen captures a clip from the default microphone and
// recognizes it against a catalog, grounded on the target-agnostic
// portaudio recording pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/gordonklaus/portaudio"

	"tuneprint/internal/audio"
	"tuneprint/internal/engine"
	"tuneprint/internal/index"
	"tuneprint/pkg/config"
	"tuneprint/pkg/logger"
)

const (
	captureSampleRate = 44100
	captureChannels   = 1
	bufferFrames      = 4096
)

func main() {
	durationSec := flag.Float64("duration", 10, "seconds to capture before recognizing")
	dbPath := flag.String("db", config.Default().DBPath, "path to the index database")
	flag.Parse()

	log := logger.Named("listen")

	samples, err := record(*durationSec)
	if err != nil {
		log.Fatal("recording failed: %v", err)
	}

	signal, err := audio.ToCanonical(samples, captureSampleRate, captureChannels)
	if err != nil {
		log.Fatal("canonicalizing capture: %v", err)
	}

	tmp, err := os.CreateTemp("", "tuneprint-listen-*.wav")
	if err != nil {
		log.Fatal("creating scratch file: %v", err)
	}
	defer os.Remove(tmp.Name())
	tmp.Close()

	if err := audio.WriteWAV(tmp.Name(), signal); err != nil {
		log.Fatal("writing capture: %v", err)
	}

	cfg := config.Build(config.WithDBPath(*dbPath))
	store, err := index.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatal("opening index: %v", err)
	}
	defer store.Close()

	rec := engine.New(store, cfg)
	result, err := rec.Recognize(context.Background(), tmp.Name())
	if err != nil {
		log.Fatal("recognize: %v", err)
	}

	if !result.Matched {
		fmt.Println("no match")
		return
	}
	fmt.Printf("match: %q by %s (score %d)\n", result.Song.Title, result.Song.Artist, result.Score)
}

// record captures durationSec seconds of mono audio from the default
// input device at captureSampleRate.
func record(durationSec float64) ([]float64, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("initializing portaudio: %w", err)
	}
	defer portaudio.Terminate()

	buffer := make([]float32, bufferFrames)
	stream, err := portaudio.OpenDefaultStream(captureChannels, 0, float64(captureSampleRate), bufferFrames, buffer)
	if err != nil {
		return nil, fmt.Errorf("opening input stream: %w", err)
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("starting stream: %w", err)
	}
	defer stream.Stop()

	total := int(float64(captureSampleRate) * durationSec)
	samples := make([]float64, 0, total)
	for len(samples) < total {
		if err := stream.Read(); err != nil {
			return nil, fmt.Errorf("reading stream: %w", err)
		}
		remaining := total - len(samples)
		n := len(buffer)
		if n > remaining {
			n = remaining
		}
		for i := 0; i < n; i++ {
			samples = append(samples, float64(buffer[i]))
		}
	}
	return samples, nil
}
