package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"tuneprint/pkg/model"
)

// SupportedExtensions is the container allowlist (spec §6, §7
// UnsupportedFormat).
var SupportedExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".flac": true,
	".m4a":  true,
}

// DecodeFile produces the canonical mono signal for an audio file. WAV
// files are parsed in-process via go-audio/wav; any other supported
// container is shelled out to ffmpeg first (the out-of-scope container
// decoder's concrete default — everything downstream only ever sees the
// canonical Signal contract).
func DecodeFile(ctx context.Context, path string) (*model.Signal, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !SupportedExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", model.ErrUnsupportedFormat, ext)
	}

	if ext == ".wav" {
		return decodeWAV(path)
	}
	return decodeViaFFmpeg(ctx, path)
}

// decodeWAV reads a RIFF/WAVE file with go-audio/wav, converts PCM
// samples to float64 in [-1, 1], and hands them to ToCanonical.
func decodeWAV(path string) (*model.Signal, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecodeFailed, err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("%w: not a valid WAV file", model.ErrDecodeFailed)
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecodeFailed, err)
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, fmt.Errorf("%w: empty decode buffer", model.ErrDecodeFailed)
	}

	floats := pcmToFloat64(buf)
	if len(floats) == 0 {
		return nil, fmt.Errorf("%w: no samples", model.ErrDecodeFailed)
	}

	return ToCanonical(floats, int(decoder.SampleRate), int(decoder.NumChans))
}

func pcmToFloat64(buf *goaudio.IntBuffer) []float64 {
	bitDepth := buf.SourceBitDepth
	if bitDepth == 0 {
		bitDepth = 16
	}
	maxVal := float64(int(1) << uint(bitDepth-1))

	out := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		out[i] = float64(v) / maxVal
	}
	return out
}

// decodeViaFFmpeg shells out to ffmpeg to transcode any supported
// container into a mono PCM WAV at the canonical rate, then re-enters
// the native WAV path. This is the external-collaborator boundary:
// tuneprint never implements MP3/FLAC/AAC bitstream parsing itself.
func decodeViaFFmpeg(ctx context.Context, path string) (*model.Signal, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	tmp, err := os.CreateTemp("", "tuneprint-decode-*.wav")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDecodeFailed, err)
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	cmd := exec.CommandContext(ctx,
		"ffmpeg", "-y", "-v", "quiet",
		"-i", path,
		"-ac", "1",
		"-ar", fmt.Sprintf("%d", CanonicalRate),
		"-c:a", "pcm_s16le",
		tmpPath,
	)

	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: %v", model.ErrDecodeFailed, ctx.Err())
		}
		return nil, fmt.Errorf("%w: ffmpeg: %v (%s)", model.ErrDecodeFailed, err, out)
	}

	return decodeWAV(tmpPath)
}
