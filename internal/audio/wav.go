package audio

import (
	"fmt"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/spf13/afero"
)

const (
	wavBitDepth    = 16
	wavPCMFormat   = 1
	wavChannels    = 1
	int16FullScale = 32767
)

// WriteWAV encodes the waveform as 16-bit PCM mono WAV at path.
func WriteWAV(fs afero.Fs, path string, w Waveform) error {
	if fs == nil {
		fs = afero.NewOsFs()
	}

	f, err := fs.Create(path)
	if err != nil {
		return fmt.Errorf("create wav: %w", err)
	}

	rate := w.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}

	encoder := wav.NewEncoder(f, rate, wavBitDepth, wavChannels, wavPCMFormat)
	buf := &goaudio.IntBuffer{
		Data:           toInt16Range(w.Samples),
		Format:         &goaudio.Format{SampleRate: rate, NumChannels: wavChannels},
		SourceBitDepth: wavBitDepth,
	}

	if err := encoder.Write(buf); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode wav: %w", err)
	}
	if err := encoder.Close(); err != nil {
		_ = f.Close()
		return fmt.Errorf("finish wav: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close wav: %w", err)
	}
	return nil
}

func toInt16Range(samples []float32) []int {
	out := make([]int, len(samples))
	for i, sample := range samples {
		value := float64(sample)
		switch {
		case math.IsNaN(value):
			value = 0
		case value > 1:
			value = 1
		case value < -1:
			value = -1
		}
		out[i] = int(math.Round(value * int16FullScale))
	}
	return out
}
