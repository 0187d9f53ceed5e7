package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/fmueller/voxrelay/internal/clipboard"
	"github.com/fmueller/voxrelay/internal/config"
	"github.com/fmueller/voxrelay/internal/logging"
	"github.com/fmueller/voxrelay/internal/progress"
	"github.com/fmueller/voxrelay/internal/session"
	"github.com/fmueller/voxrelay/internal/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type appState struct {
	verbose    bool
	jsonLogs   bool
	logLevel   string
	noProgress bool
	copyEmpty  bool
	configPath string

	cfg config.Config

	logger *zap.Logger

	// Seams for tests. nil means the real implementation.
	pipelineFn func(ctx context.Context) (*session.Pipeline, error)
	serveFn    func(ctx context.Context, pipeline *session.Pipeline) error
	copyFn     func(ctx context.Context, value string) error
}

func NewRootCmd() *cobra.Command {
	return newRootCmd(&appState{cfg: config.Default()})
}

func newRootCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "voxrelay",
		Short:         "Transcribe uploaded audio over WebSocket with a local whisper engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.Resolve(),
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			logger, err := logging.New(logging.Options{Verbose: app.verbose, JSON: app.jsonLogs, Level: app.logLevel})
			if err != nil {
				return fmt.Errorf("initialize logger: %w", err)
			}
			app.logger = logger
			return nil
		},
	}

	cmd.SetVersionTemplate("{{.Name}} v{{.Version}}\n")

	cmd.PersistentFlags().BoolVar(&app.verbose, "verbose", app.verbose, "Enable verbose logs")
	cmd.PersistentFlags().BoolVar(&app.jsonLogs, "json", app.jsonLogs, "Enable JSON logging")
	cmd.PersistentFlags().StringVar(&app.logLevel, "log-level", "info", "Minimum log level (debug, info, warn, error)")

	cmd.AddCommand(newServeCmd(app))
	cmd.AddCommand(newTranscribeCmd(app))
	cmd.AddCommand(newSendCmd(app))
	cmd.AddCommand(newSetupCmd(app))
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func bindProgressFlag(cmd *cobra.Command, app *appState) {
	cmd.Flags().BoolVar(&app.noProgress, "no-progress", app.noProgress, "Disable progress indicators")
}

func bindModelFlags(cmd *cobra.Command, app *appState) {
	w := &app.cfg.Whisper
	cmd.Flags().StringVar(&w.Model, "model", w.Model, "Model name or model file path")
	cmd.Flags().StringVar(&w.ModelDir, "model-dir", w.ModelDir, "Directory where models are stored")
	cmd.Flags().StringVar(&w.VADModel, "vad-model", w.VADModel, "VAD model name or model file path")
	cmd.Flags().BoolVar(&w.AutoDownload, "auto-download", w.AutoDownload, "Automatically download missing models")
}

func bindDecodingFlags(cmd *cobra.Command, app *appState) {
	w := &app.cfg.Whisper
	cmd.Flags().StringVar(&app.cfg.Decoder.FFmpegPath, "ffmpeg", app.cfg.Decoder.FFmpegPath, "ffmpeg executable used to decode uploads")
	cmd.Flags().StringVar(&w.EnginePath, "whisper-path", w.EnginePath, "whisper-cli executable; defaults to the bundled engine")
	cmd.Flags().StringVar(&w.Language, "language", w.Language, "Language code passed to the engine")
	cmd.Flags().IntVar(&w.BeamSize, "beam-size", w.BeamSize, "Beam search width")
	cmd.Flags().IntVar(&w.BestOf, "best-of", w.BestOf, "Number of sampling candidates")
	cmd.Flags().IntVar(&w.Threads, "threads", w.Threads, "Inference threads; 0 lets the engine decide")
	cmd.Flags().BoolVar(&w.VAD, "vad", w.VAD, "Filter non-speech with voice activity detection")
	cmd.Flags().DurationVar(&w.MinSilence, "vad-min-silence", w.MinSilence, "Minimum silence that splits speech segments")
	cmd.Flags().BoolVar(&w.SilenceGate, "silence-gate", w.SilenceGate, "Answer near-silent audio with an empty transcript without running the engine")
	cmd.Flags().Float64Var(&w.SilenceThresholdDBFS, "silence-threshold-dbfs", w.SilenceThresholdDBFS, "Silence gate threshold in dBFS")
}

func bindCopyFlags(cmd *cobra.Command, app *appState, copyToClipboard *bool) {
	cmd.Flags().BoolVar(copyToClipboard, "copy", false, "Copy transcript to clipboard")
	cmd.Flags().BoolVar(&app.copyEmpty, "copy-empty", app.copyEmpty, "Copy blank transcripts to clipboard")
}

func (a *appState) log() *zap.Logger {
	if a.logger == nil {
		return zap.NewNop()
	}
	return a.logger
}

func (a *appState) progressEnabled() bool {
	if a.noProgress {
		return false
	}
	return progress.Terminal()
}

// emitTranscript prints transcript and optionally copies it. Clipboard
// failures are warnings; the transcript is already on stdout.
func (a *appState) emitTranscript(ctx context.Context, out io.Writer, transcript string, copyToClipboard bool) {
	fmt.Fprintln(out, transcript)

	blank := isBlankTranscript(transcript)
	if blank {
		a.log().Warn(noSpeechMessage)
	}
	if !copyToClipboard || (blank && !a.copyEmpty) {
		return
	}

	copyFn := a.copyFn
	if copyFn == nil {
		copyFn = clipboard.CopyText
	}
	if err := copyFn(ctx, transcript); err != nil {
		a.log().Warn("failed to copy transcript to clipboard; transcript left on stdout", zap.Error(err))
		return
	}
	a.log().Info("transcript copied to clipboard")
}
