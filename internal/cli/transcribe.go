package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fmueller/voxrelay/internal/progress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newTranscribeCmd(app *appState) *cobra.Command {
	var copyToClipboard bool

	cmd := &cobra.Command{
		Use:   "transcribe <media-file>",
		Short: "Transcribe a local audio or video file",
		Long:  "Decode a local file with ffmpeg and transcribe it with the same pipeline the server uses.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaPath := filepath.Clean(args[0])
			blob, err := os.ReadFile(mediaPath)
			if err != nil {
				return fmt.Errorf("media file not found: %w", err)
			}
			if err := app.cfg.Validate(); err != nil {
				return err
			}

			pipeline, err := app.buildPipeline(cmd.Context())
			if err != nil {
				return err
			}

			app.log().Info("transcribing...", zap.String("media", mediaPath), zap.Int("bytes", len(blob)), zap.String("language", app.cfg.Whisper.Language))
			spinner := progress.Spinner(app.progressEnabled(), "Transcribing")
			started := time.Now()
			transcript, err := pipeline.Run(cmd.Context(), blob)
			spinner.Stop()
			if err != nil {
				return err
			}
			app.log().Info("transcription finished", zap.Duration("elapsed", time.Since(started)))

			app.emitTranscript(cmd.Context(), cmd.OutOrStdout(), transcript, copyToClipboard)
			return nil
		},
	}

	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindDecodingFlags(cmd, app)
	bindCopyFlags(cmd, app, &copyToClipboard)
	return cmd
}
