package cli

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fmueller/voxrelay/internal/config"
	"github.com/fmueller/voxrelay/internal/server"
	"github.com/fmueller/voxrelay/internal/session"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(app *appState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the WebSocket transcription endpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.configPath != "" {
				if err := config.ApplyFile(app.configPath, &app.cfg, cmd.Flags()); err != nil {
					return err
				}
			}
			if err := app.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pipeline, err := app.buildPipeline(ctx)
			if err != nil {
				return err
			}

			serveFn := app.serveFn
			if serveFn == nil {
				serveFn = app.serve
			}
			return serveFn(ctx, pipeline)
		},
	}

	s := &app.cfg.Server
	cmd.Flags().StringVar(&app.configPath, "config", "", "YAML config file; explicitly set flags take precedence")
	cmd.Flags().StringVar(&s.Host, "host", s.Host, "Interface to listen on")
	cmd.Flags().IntVar(&s.Port, "port", s.Port, "Port to listen on")
	cmd.Flags().StringVar(&s.Path, "path", s.Path, "WebSocket endpoint path")
	cmd.Flags().Int64Var(&s.MaxUploadBytes, "max-upload-bytes", s.MaxUploadBytes, "Largest accepted upload in bytes")
	cmd.Flags().DurationVar(&s.PingInterval, "ping-interval", s.PingInterval, "Keep-alive ping interval")
	cmd.Flags().DurationVar(&s.PongTimeout, "pong-timeout", s.PongTimeout, "Time allowed for a keep-alive pong")
	cmd.Flags().DurationVar(&s.ShutdownTimeout, "shutdown-timeout", s.ShutdownTimeout, "Grace period for open sessions on shutdown")
	cmd.Flags().IntVar(&app.cfg.Whisper.MaxConcurrent, "max-concurrent", app.cfg.Whisper.MaxConcurrent, "Inference calls allowed to run at once")
	bindProgressFlag(cmd, app)
	bindModelFlags(cmd, app)
	bindDecodingFlags(cmd, app)

	return cmd
}

func (a *appState) serve(ctx context.Context, pipeline *session.Pipeline) error {
	srv := server.New(serverConfig(a.cfg), pipeline, a.log())

	a.log().Info(
		"starting transcription server",
		zap.String("addr", a.cfg.Server.Addr()),
		zap.String("model", a.cfg.Whisper.Model),
		zap.Bool("vad", a.cfg.Whisper.VAD),
		zap.Int("max_concurrent", a.cfg.Whisper.MaxConcurrent),
	)
	if err := srv.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("transcription server: %w", err)
	}
	a.log().Info("server stopped")
	return nil
}

func serverConfig(cfg config.Config) server.Config {
	return server.Config{
		Addr:            cfg.Server.Addr(),
		Path:            cfg.Server.Path,
		PingInterval:    cfg.Server.PingInterval,
		PongTimeout:     cfg.Server.PongTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		AllowedOrigins:  cfg.Server.AllowedOrigins,
		Session: session.Config{
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			CloseGrace:     cfg.Server.CloseGrace,
			WriteTimeout:   session.DefaultWriteTimeout,
		},
	}
}
