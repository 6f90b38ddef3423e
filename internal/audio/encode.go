package audio

import (
	"fmt"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"tuneprint/pkg/model"
)

// WriteWAV encodes a canonical-rate mono signal as 16-bit PCM WAV,
// used by the mic-capture tool (cmd/listen) to hand raw samples back
// into the file-based decode path.
func WriteWAV(path string, signal *model.Signal) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("%w: %v", model.ErrDecodeFailed, err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, signal.SampleRate, 16, 1, 1)
	data := make([]int, len(signal.Samples))
	for i, s := range signal.Samples {
		v := s * 32767
		if v > 32767 {
			v = 32767
		}
		if v < -32768 {
			v = -32768
		}
		data[i] = int(v)
	}

	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: signal.SampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("%w: %v", model.ErrDecodeFailed, err)
	}
	return enc.Close()
}
