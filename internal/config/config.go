package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// Config is the deployment configuration of the transcription service.
// Defaults match the production constants; a YAML file may override them.
type Config struct {
	Server  Server  `yaml:"server"`
	Decoder Decoder `yaml:"decoder"`
	Whisper Whisper `yaml:"whisper"`
}

type Server struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Path            string        `yaml:"path"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	PingInterval    time.Duration `yaml:"ping_interval"`
	PongTimeout     time.Duration `yaml:"pong_timeout"`
	CloseGrace      time.Duration `yaml:"close_grace"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type Decoder struct {
	FFmpegPath string `yaml:"ffmpeg_path"`
}

type Whisper struct {
	Model                string        `yaml:"model"`
	ModelDir             string        `yaml:"model_dir"`
	EnginePath           string        `yaml:"engine_path"`
	AutoDownload         bool          `yaml:"auto_download"`
	Language             string        `yaml:"language"`
	BeamSize             int           `yaml:"beam_size"`
	BestOf               int           `yaml:"best_of"`
	Threads              int           `yaml:"threads"`
	VAD                  bool          `yaml:"vad"`
	VADModel             string        `yaml:"vad_model"`
	MinSilence           time.Duration `yaml:"min_silence"`
	SilenceGate          bool          `yaml:"silence_gate"`
	SilenceThresholdDBFS float64       `yaml:"silence_threshold_dbfs"`
	MaxConcurrent        int           `yaml:"max_concurrent"`
}

func Default() Config {
	return Config{
		Server: Server{
			Host:            "0.0.0.0",
			Port:            8000,
			Path:            "/transcribe",
			MaxUploadBytes:  50 << 20,
			PingInterval:    20 * time.Second,
			PongTimeout:     20 * time.Second,
			CloseGrace:      time.Second,
			ShutdownTimeout: 30 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Decoder: Decoder{
			FFmpegPath: "ffmpeg",
		},
		Whisper: Whisper{
			Model:                "large-v3",
			AutoDownload:         true,
			Language:             "en",
			BeamSize:             1,
			BestOf:               1,
			VAD:                  true,
			VADModel:             "silero-v5.1.2",
			MinSilence:           200 * time.Millisecond,
			SilenceGate:          true,
			SilenceThresholdDBFS: -65,
			MaxConcurrent:        1,
		},
	}
}

func (s Server) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Load reads path on top of the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := LoadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadInto decodes the YAML file at path over cfg. Keys missing from the file
// keep their current values; unknown keys are an error.
func LoadInto(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// ApplyFile loads path into cfg while keeping the values of flags the user
// set explicitly. flags must be bound to fields of cfg.
func ApplyFile(path string, cfg *Config, flags *pflag.FlagSet) error {
	explicit := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		explicit[f.Name] = f.Value.String()
	})

	if err := LoadInto(path, cfg); err != nil {
		return err
	}

	for name, value := range explicit {
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("reapply --%s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}
	if err := c.Decoder.Validate(); err != nil {
		return fmt.Errorf("decoder config: %w", err)
	}
	if err := c.Whisper.Validate(); err != nil {
		return fmt.Errorf("whisper config: %w", err)
	}
	return nil
}

func (s *Server) Validate() error {
	if s.Host == "" {
		return errors.New("host cannot be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", s.Port)
	}
	if !strings.HasPrefix(s.Path, "/") {
		return fmt.Errorf("path must start with /, got %q", s.Path)
	}
	if s.MaxUploadBytes < 1 {
		return fmt.Errorf("max_upload_bytes must be positive, got %d", s.MaxUploadBytes)
	}
	if s.PingInterval <= 0 || s.PongTimeout <= 0 {
		return errors.New("ping_interval and pong_timeout must be positive")
	}
	if s.CloseGrace < 0 || s.ShutdownTimeout < 0 {
		return errors.New("close_grace and shutdown_timeout cannot be negative")
	}
	return nil
}

func (d *Decoder) Validate() error {
	if d.FFmpegPath == "" {
		return errors.New("ffmpeg_path cannot be empty")
	}
	return nil
}

func (w *Whisper) Validate() error {
	if w.Model == "" {
		return errors.New("model cannot be empty")
	}
	if w.Language == "" {
		return errors.New("language cannot be empty")
	}
	if w.BeamSize < 1 {
		return fmt.Errorf("beam_size must be at least 1, got %d", w.BeamSize)
	}
	if w.BestOf < 1 {
		return fmt.Errorf("best_of must be at least 1, got %d", w.BestOf)
	}
	if w.Threads < 0 {
		return fmt.Errorf("threads cannot be negative, got %d", w.Threads)
	}
	if w.VAD && w.VADModel == "" {
		return errors.New("vad_model is required when vad is enabled")
	}
	if w.MinSilence < 0 {
		return fmt.Errorf("min_silence cannot be negative, got %s", w.MinSilence)
	}
	if w.SilenceThresholdDBFS >= 0 {
		return fmt.Errorf("silence_threshold_dbfs must be below 0, got %g", w.SilenceThresholdDBFS)
	}
	if w.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", w.MaxConcurrent)
	}
	return nil
}
