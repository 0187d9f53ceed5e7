package whisper

import (
	"context"
	"fmt"

	"github.com/fmueller/voxrelay/internal/audio"
	"golang.org/x/sync/semaphore"
)

// Limited bounds how many Transcribe calls reach the wrapped engine at once.
// Callers beyond the limit wait for a slot or give up when their context ends.
type Limited struct {
	engine Engine
	sem    *semaphore.Weighted
}

func NewLimited(engine Engine, maxConcurrent int) *Limited {
	if maxConcurrent <= 0 {
		maxConcurrent = 1
	}
	return &Limited{engine: engine, sem: semaphore.NewWeighted(int64(maxConcurrent))}
}

func (l *Limited) Transcribe(ctx context.Context, waveform audio.Waveform, opts Options) ([]Segment, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("wait for inference slot: %w", err)
	}
	defer l.sem.Release(1)

	return l.engine.Transcribe(ctx, waveform, opts)
}
