package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/fmueller/voxrelay/internal/audio"
	"github.com/fmueller/voxrelay/internal/config"
	"github.com/fmueller/voxrelay/internal/session"
	"github.com/fmueller/voxrelay/internal/whisper"
	"github.com/stretchr/testify/require"
)

func runCommand(t *testing.T, args []string) (stdout string, stderr string, err error) {
	t.Helper()
	return runAppCommand(t, &appState{cfg: config.Default()}, args)
}

func runAppCommand(t *testing.T, app *appState, args []string) (stdout string, stderr string, err error) {
	t.Helper()

	cmd := newRootCmd(app)
	outBuf := new(bytes.Buffer)
	errBuf := new(bytes.Buffer)

	cmd.SetOut(outBuf)
	cmd.SetErr(errBuf)
	cmd.SetContext(context.Background())
	cmd.SetArgs(args)

	err = cmd.Execute()
	return outBuf.String(), errBuf.String(), err
}

func writeMediaFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.webm")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

type constantDecoder struct {
	amplitude float32
}

func (d constantDecoder) Decode(_ context.Context, blob []byte) (audio.Waveform, error) {
	samples := make([]float32, len(blob)*100)
	for i := range samples {
		samples[i] = d.amplitude
	}
	return audio.Waveform{Samples: samples, SampleRate: audio.SampleRate}, nil
}

type constantEngine struct {
	text string
}

func (e constantEngine) Transcribe(context.Context, audio.Waveform, whisper.Options) ([]whisper.Segment, error) {
	return []whisper.Segment{{Text: e.text}}, nil
}

func stubPipeline(amplitude float32, text string) func(context.Context) (*session.Pipeline, error) {
	return func(context.Context) (*session.Pipeline, error) {
		return &session.Pipeline{
			Decoder:              constantDecoder{amplitude: amplitude},
			Engine:               constantEngine{text: text},
			Options:              whisper.DefaultOptions(),
			SilenceGate:          true,
			SilenceThresholdDBFS: session.DefaultSilenceThresholdDBFS,
		}, nil
	}
}

// testContext returns a context canceled when the test finishes
// (stand-in for testing.T.Context, which needs Go 1.24).
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
