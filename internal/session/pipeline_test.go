package session

import (
	"context"
	"errors"
	"testing"

	"github.com/fmueller/voxrelay/internal/audio"
	"github.com/fmueller/voxrelay/internal/media"
	"github.com/fmueller/voxrelay/internal/whisper"
	"github.com/stretchr/testify/require"
)

func TestPipelineRunJoinsSegments(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{segments: []whisper.Segment{{Text: "  one"}, {Text: "two  "}}}
	p := &Pipeline{Decoder: &fakeDecoder{}, Engine: engine, Options: whisper.DefaultOptions()}

	text, err := p.Run(context.Background(), []byte("blob"))
	require.NoError(t, err)
	require.Equal(t, "one two", text)
}

func TestPipelineSilenceGateDisabledStillRunsEngine(t *testing.T) {
	t.Parallel()

	decoder := &fakeDecoder{decode: func(context.Context, []byte) (audio.Waveform, error) {
		return audio.Waveform{Samples: make([]float32, 100), SampleRate: audio.SampleRate}, nil
	}}
	engine := &fakeEngine{segments: []whisper.Segment{{Text: "[BLANK_AUDIO]"}}}
	p := &Pipeline{Decoder: decoder, Engine: engine}

	text, err := p.Run(context.Background(), []byte("blob"))
	require.NoError(t, err)
	require.Equal(t, "[BLANK_AUDIO]", text)
	require.Equal(t, 1, engine.callCount())
}

func TestPipelineClassifiesErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		decode  error
		infer   error
		kind    error
		message string
	}{
		{name: "decoder diagnostics", decode: &media.DecodeError{Stderr: "bad"}, kind: ErrDecode, message: "FFmpeg error:\nbad"},
		{name: "empty output", decode: media.ErrEmptyOutput, kind: ErrEmptyInput, message: "FFmpeg produced empty audio output"},
		{name: "cancelled decode", decode: context.Canceled, kind: ErrTransport, message: context.Canceled.Error()},
		{name: "engine failure", infer: errors.New("engine crashed"), kind: ErrInference, message: "engine crashed"},
		{name: "cancelled inference", infer: context.Canceled, kind: ErrTransport, message: context.Canceled.Error()},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			decoder := &fakeDecoder{}
			if tt.decode != nil {
				decoder.decode = func(context.Context, []byte) (audio.Waveform, error) {
					return audio.Waveform{}, tt.decode
				}
			}
			p := &Pipeline{Decoder: decoder, Engine: &fakeEngine{err: tt.infer}}

			_, err := p.Run(context.Background(), []byte("blob"))
			require.ErrorIs(t, err, tt.kind)
			require.EqualError(t, err, tt.message)
		})
	}
}
