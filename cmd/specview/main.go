// Command specview renders a PNG spectrogram of a WAV file, a
// diagnostic tool for inspecting what the peak finder sees.
package main

import (
	"flag"
	"fmt"
	"image"
	"image/draw"
	"os"

	"github.com/eligwz/spectrogram"
	"github.com/go-audio/wav"

	"tuneprint/pkg/logger"
)

func main() {
	outPath := flag.String("out", "", "output PNG path (default: <input>.png)")
	width := flag.Int("width", 2048, "image width in pixels")
	height := flag.Int("height", 512, "image height in pixels (frequency bins)")
	flag.Parse()

	log := logger.Named("specview")
	args := flag.Args()
	if len(args) != 1 {
		fmt.Println("usage: specview [-out path] [-width N] [-height N] <file.wav>")
		os.Exit(1)
	}
	inPath := args[0]
	if *outPath == "" {
		*outPath = inPath + ".png"
	}

	if err := render(inPath, *outPath, *width, *height); err != nil {
		log.Fatal("rendering spectrogram: %v", err)
	}
	fmt.Printf("saved spectrogram to %s\n", *outPath)
}

func render(inPath, outPath string, width, height int) error {
	f, err := os.Open(inPath)
	if err != nil {
		return err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return fmt.Errorf("invalid WAV file: %s", inPath)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return err
	}

	samples := make([]float64, len(buf.Data))
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxVal := float64(int(1) << uint(bitDepth-1))
	for i, v := range buf.Data {
		samples[i] = float64(v) / maxVal
	}

	img := spectrogram.NewImage128(image.Rect(0, 0, width, height))
	black := spectrogram.ParseColor("000000")
	draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

	spectrogram.Drawfft(
		img,
		samples,
		uint32(decoder.SampleRate),
		uint32(height),
		false, // RECTANGLE: use Hamming window
		false, // DFT: use FFT
		true,  // MAG: magnitude
		false, // LOG10: linear scale
	)

	return spectrogram.SavePng(img, outPath)
}
