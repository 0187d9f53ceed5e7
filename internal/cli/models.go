package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/fmueller/voxrelay/internal/download"
	"github.com/fmueller/voxrelay/internal/media"
	"github.com/fmueller/voxrelay/internal/platform"
	"github.com/fmueller/voxrelay/internal/session"
	"github.com/fmueller/voxrelay/internal/whisper"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

func (a *appState) modelStorageDir() (string, error) {
	dir, err := platform.ResolveModelDir(a.cfg.Whisper.ModelDir)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create model directory %s: %w", dir, err)
	}
	return dir, nil
}

// ensureModels resolves the whisper model and, when VAD is on, the VAD
// model, downloading missing named models if allowed.
func (a *appState) ensureModels(ctx context.Context) (model whisper.ResolvedModel, vad whisper.ResolvedModel, err error) {
	modelDir, err := a.modelStorageDir()
	if err != nil {
		return model, vad, err
	}

	model, err = whisper.ResolveModel(a.cfg.Whisper.Model, modelDir)
	if err != nil {
		return model, vad, err
	}
	if model, err = a.ensureDownloaded(ctx, model, "--model"); err != nil {
		return model, vad, err
	}

	if !a.cfg.Whisper.VAD {
		return model, vad, nil
	}

	vad, err = whisper.ResolveVADModel(a.cfg.Whisper.VADModel, modelDir)
	if err != nil {
		return model, vad, err
	}
	vad, err = a.ensureDownloaded(ctx, vad, "--vad-model")
	return model, vad, err
}

func (a *appState) ensureDownloaded(ctx context.Context, resolved whisper.ResolvedModel, flag string) (whisper.ResolvedModel, error) {
	if !resolved.NeedsDownload {
		return resolved, nil
	}

	if !a.cfg.Whisper.AutoDownload {
		return resolved, fmt.Errorf("model %q is missing at %s; run `voxrelay setup %s %s` or use --auto-download=true", resolved.Name, resolved.Path, flag, resolved.Name)
	}

	a.log().Info("model not found, downloading", zap.String("model", resolved.Name), zap.String("destination", resolved.Path))
	if err := download.DownloadFile(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: resolved.SHA256,
		ChecksumURL:    resolved.SHA256URL,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return resolved, fmt.Errorf("download model %q: %w", resolved.Name, err)
	}

	resolved.NeedsDownload = false
	return resolved, nil
}

func (a *appState) newEngine(modelPath string) (whisper.Engine, error) {
	var engine *whisper.BundledEngine
	if path := a.cfg.Whisper.EnginePath; path != "" {
		engine = &whisper.BundledEngine{Executable: path, ModelPath: modelPath, Logger: a.log(), FS: afero.NewOsFs()}
	} else {
		var err error
		engine, err = whisper.NewBundledEngine(modelPath, a.log())
		if err != nil {
			return nil, err
		}
	}
	return whisper.NewLimited(engine, a.cfg.Whisper.MaxConcurrent), nil
}

// buildPipeline wires decoder, engine and models from the current config.
func (a *appState) buildPipeline(ctx context.Context) (*session.Pipeline, error) {
	if a.pipelineFn != nil {
		return a.pipelineFn(ctx)
	}

	decoder := media.NewFFmpegDecoder(a.cfg.Decoder.FFmpegPath, a.log())
	if !decoder.Available() {
		return nil, fmt.Errorf("ffmpeg executable %q not found on PATH", decoder.Executable)
	}

	model, vad, err := a.ensureModels(ctx)
	if err != nil {
		return nil, err
	}

	engine, err := a.newEngine(model.Path)
	if err != nil {
		return nil, err
	}

	w := a.cfg.Whisper
	return &session.Pipeline{
		Decoder: decoder,
		Engine:  engine,
		Options: whisper.Options{
			Language:     w.Language,
			BeamSize:     w.BeamSize,
			BestOf:       w.BestOf,
			VAD:          w.VAD,
			VADModelPath: vad.Path,
			MinSilence:   w.MinSilence,
			Threads:      w.Threads,
		},
		SilenceGate:          w.SilenceGate,
		SilenceThresholdDBFS: w.SilenceThresholdDBFS,
		Logger:               a.log(),
	}, nil
}
