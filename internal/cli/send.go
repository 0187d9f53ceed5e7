package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fmueller/voxrelay/internal/client"
	"github.com/fmueller/voxrelay/internal/progress"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const defaultServerURL = "ws://127.0.0.1:8000/transcribe"

func newSendCmd(app *appState) *cobra.Command {
	var (
		serverURL       string
		chunkSize       int
		timeout         time.Duration
		copyToClipboard bool
	)

	cmd := &cobra.Command{
		Use:   "send <media-file>",
		Short: "Upload a file to a voxrelay server and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mediaPath := filepath.Clean(args[0])
			f, err := os.Open(mediaPath)
			if err != nil {
				return fmt.Errorf("media file not found: %w", err)
			}
			defer f.Close()

			info, err := f.Stat()
			if err != nil {
				return fmt.Errorf("stat media file: %w", err)
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			bar := progress.Bytes(app.progressEnabled(), "Uploading", info.Size())
			c := client.New(app.log())
			c.ChunkSize = chunkSize
			c.Progress = bar

			app.log().Info("uploading", zap.String("media", mediaPath), zap.Int64("bytes", info.Size()), zap.String("url", serverURL))
			started := time.Now()
			text, err := c.Upload(ctx, serverURL, f)
			bar.Stop()
			if err != nil {
				return err
			}
			app.log().Info("transcript received", zap.Duration("elapsed", time.Since(started)))

			app.emitTranscript(ctx, cmd.OutOrStdout(), text, copyToClipboard)
			return nil
		},
	}

	cmd.Flags().StringVar(&serverURL, "url", defaultServerURL, "WebSocket URL of the transcription endpoint")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", client.DefaultChunkSize, "Bytes per binary frame")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Give up after this long; 0 waits indefinitely")
	bindProgressFlag(cmd, app)
	bindCopyFlags(cmd, app, &copyToClipboard)
	return cmd
}
