package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/fmueller/voxrelay/internal/download"
	"github.com/fmueller/voxrelay/internal/whisper"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newSetupCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Download and verify speech and VAD model assets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			modelDir, err := app.modelStorageDir()
			if err != nil {
				return err
			}

			model, err := whisper.ResolveModel(app.cfg.Whisper.Model, modelDir)
			if err != nil {
				return err
			}
			if model.IsCustomPath {
				return fmt.Errorf("setup expects a named model; got custom path %s", model.Path)
			}
			if err := app.installModel(cmd.Context(), cmd.OutOrStdout(), model); err != nil {
				return err
			}

			if !app.cfg.Whisper.VAD {
				return nil
			}

			vad, err := whisper.ResolveVADModel(app.cfg.Whisper.VADModel, modelDir)
			if err != nil {
				return err
			}
			if vad.IsCustomPath {
				fmt.Fprintf(cmd.OutOrStdout(), "Using custom VAD model at %s\n", vad.Path)
				return nil
			}
			return app.installModel(cmd.Context(), cmd.OutOrStdout(), vad)
		},
	}

	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	cmd.Flags().BoolVar(&app.cfg.Whisper.VAD, "vad", app.cfg.Whisper.VAD, "Also install the VAD model")

	return cmd
}

// installModel makes sure resolved is present and matches its checksum,
// replacing a corrupt copy.
func (a *appState) installModel(ctx context.Context, out io.Writer, resolved whisper.ResolvedModel) error {
	expectedChecksum := resolved.SHA256
	if expectedChecksum == "" && resolved.SHA256URL != "" {
		checksum, err := download.ResolveExpectedChecksum(ctx, resolved.SHA256URL, filepath.Base(resolved.Path), nil)
		if err != nil {
			return fmt.Errorf("resolve checksum for model %s: %w", resolved.Name, err)
		}
		expectedChecksum = checksum
	}

	if !resolved.NeedsDownload && expectedChecksum != "" {
		if err := download.VerifyFileChecksum(afero.NewOsFs(), resolved.Path, expectedChecksum); err != nil {
			a.log().Warn("model checksum verification failed; downloading fresh copy", zap.String("model", resolved.Name), zap.Error(err))
			resolved.NeedsDownload = true
		}
	}

	if !resolved.NeedsDownload {
		a.log().Info("model already present", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
		fmt.Fprintf(out, "Model %s already present at %s\n", resolved.Name, resolved.Path)
		return nil
	}

	a.log().Info("downloading model", zap.String("model", resolved.Name), zap.String("path", resolved.Path))
	if err := download.DownloadFile(ctx, download.Options{
		URL:            resolved.URL,
		Destination:    resolved.Path,
		ExpectedSHA256: expectedChecksum,
		NoProgress:     a.noProgress,
		Logger:         a.log(),
	}); err != nil {
		return fmt.Errorf("download model %s: %w", resolved.Name, err)
	}

	fmt.Fprintf(out, "Model %s installed at %s\n", resolved.Name, resolved.Path)
	return nil
}
