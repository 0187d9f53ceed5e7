package audio

import (
	"bytes"
	"encoding/binary"
	"time"
)

// SampleRate is the canonical rate every decoded waveform is resampled to.
const SampleRate = 16000

// Waveform is mono float32 PCM at a fixed sample rate.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

func (w Waveform) Len() int {
	return len(w.Samples)
}

func (w Waveform) Empty() bool {
	return len(w.Samples) == 0
}

func (w Waveform) Duration() time.Duration {
	rate := w.SampleRate
	if rate <= 0 {
		rate = SampleRate
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(rate)
}

// FromF32LE interprets raw as little-endian float32 samples. A trailing
// partial sample is dropped.
func FromF32LE(raw []byte, sampleRate int) Waveform {
	n := len(raw) / 4
	samples := make([]float32, n)
	if n > 0 {
		// bytes.Reader never fails short of n*4 bytes here.
		_ = binary.Read(bytes.NewReader(raw[:n*4]), binary.LittleEndian, samples)
	}
	if sampleRate <= 0 {
		sampleRate = SampleRate
	}
	return Waveform{Samples: samples, SampleRate: sampleRate}
}
