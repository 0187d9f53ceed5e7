package session

import (
	"context"
	"time"

	"github.com/fmueller/voxrelay/internal/audio"
	"github.com/fmueller/voxrelay/internal/media"
	"github.com/fmueller/voxrelay/internal/whisper"
	"go.uber.org/zap"
)

const DefaultSilenceThresholdDBFS = -65

// Pipeline turns an uploaded blob into transcript text. It holds no
// per-call state and is shared by every session.
type Pipeline struct {
	Decoder              media.Decoder
	Engine               whisper.Engine
	Options              whisper.Options
	SilenceGate          bool
	SilenceThresholdDBFS float64
	Logger               *zap.Logger
}

func (p *Pipeline) Decode(ctx context.Context, blob []byte) (audio.Waveform, error) {
	if len(blob) == 0 {
		return audio.Waveform{}, classifyDecodeError(media.ErrEmptyInput)
	}

	waveform, err := p.Decoder.Decode(ctx, blob)
	if err != nil {
		return audio.Waveform{}, classifyDecodeError(err)
	}
	if waveform.Empty() {
		return audio.Waveform{}, classifyDecodeError(media.ErrEmptyOutput)
	}
	return waveform, nil
}

// Transcribe runs inference on waveform. Near-silent audio short-circuits to
// an empty transcript when the silence gate is on.
func (p *Pipeline) Transcribe(ctx context.Context, waveform audio.Waveform) (string, error) {
	if p.SilenceGate {
		if silent, metrics := audio.IsSilent(waveform, p.SilenceThresholdDBFS); silent {
			p.log().Info(
				"audio considered silent; skipping transcription",
				zap.Duration("audio", waveform.Duration()),
				zap.Float64("rms_dbfs", metrics.RMSdBFS),
				zap.Float64("peak_dbfs", metrics.PeakdBFS),
				zap.Float64("threshold_dbfs", p.SilenceThresholdDBFS),
			)
			return "", nil
		}
	}

	started := time.Now()
	segments, err := p.Engine.Transcribe(ctx, waveform, p.Options)
	if err != nil {
		p.log().Warn("transcription failed", zap.Duration("elapsed", time.Since(started)), zap.Error(err))
		return "", classifyInferenceError(err)
	}

	p.log().Debug("transcription finished", zap.Duration("elapsed", time.Since(started)), zap.Int("segments", len(segments)))
	return whisper.JoinSegments(segments), nil
}

func (p *Pipeline) Run(ctx context.Context, blob []byte) (string, error) {
	waveform, err := p.Decode(ctx, blob)
	if err != nil {
		return "", err
	}
	return p.Transcribe(ctx, waveform)
}

func (p *Pipeline) log() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}
