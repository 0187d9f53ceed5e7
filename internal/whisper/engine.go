package whisper

import (
	"context"
	"strings"
	"time"

	"github.com/fmueller/voxrelay/internal/audio"
)

const (
	DefaultLanguage   = "en"
	DefaultMinSilence = 200 * time.Millisecond
)

type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Options is the decoding configuration passed with every call. It is fixed
// per deployment rather than negotiated per request.
type Options struct {
	Language     string
	BeamSize     int
	BestOf       int
	VAD          bool
	VADModelPath string
	MinSilence   time.Duration
	Threads      int
}

// DefaultOptions is greedy decoding with voice activity filtering.
func DefaultOptions() Options {
	return Options{
		Language:   DefaultLanguage,
		BeamSize:   1,
		BestOf:     1,
		VAD:        true,
		MinSilence: DefaultMinSilence,
	}
}

type Engine interface {
	Transcribe(ctx context.Context, waveform audio.Waveform, opts Options) ([]Segment, error)
}

// JoinSegments concatenates segment texts in order with single spaces and
// trims the result.
func JoinSegments(segments []Segment) string {
	texts := make([]string, 0, len(segments))
	for _, segment := range segments {
		texts = append(texts, segment.Text)
	}
	return strings.TrimSpace(strings.Join(texts, " "))
}
