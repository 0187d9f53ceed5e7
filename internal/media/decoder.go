package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/fmueller/voxrelay/internal/audio"
	"go.uber.org/zap"
)

const (
	DefaultExecutable = "ffmpeg"
	waitDelay         = 2 * time.Second
)

var (
	ErrEmptyInput  = errors.New("no audio received")
	ErrEmptyOutput = errors.New("FFmpeg produced empty audio output")
)

// DecodeError carries the decoder's diagnostic output after a failed run.
type DecodeError struct {
	Stderr string
	Err    error
}

func (e *DecodeError) Error() string {
	return "FFmpeg error:\n" + e.Stderr
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

type Decoder interface {
	Decode(ctx context.Context, blob []byte) (audio.Waveform, error)
}

type FFmpegDecoder struct {
	Executable string
	SampleRate int
	Logger     *zap.Logger
}

func NewFFmpegDecoder(executable string, logger *zap.Logger) *FFmpegDecoder {
	if strings.TrimSpace(executable) == "" {
		executable = DefaultExecutable
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FFmpegDecoder{Executable: executable, SampleRate: audio.SampleRate, Logger: logger}
}

func (d *FFmpegDecoder) Available() bool {
	_, err := exec.LookPath(d.executable())
	return err == nil
}

// Decode pipes blob through ffmpeg and returns mono float32 PCM. The process
// is killed when ctx is cancelled and its pipes are drained before returning.
func (d *FFmpegDecoder) Decode(ctx context.Context, blob []byte) (audio.Waveform, error) {
	if len(blob) == 0 {
		return audio.Waveform{}, ErrEmptyInput
	}

	rate := d.SampleRate
	if rate <= 0 {
		rate = audio.SampleRate
	}

	args := decodeArgs(rate)
	cmd := exec.CommandContext(ctx, d.executable(), args...)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdin = bytes.NewReader(blob)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	d.log().Debug("running ffmpeg", zap.String("ffmpeg", d.executable()), zap.Strings("args", args), zap.Int("input_bytes", len(blob)))
	started := time.Now()

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return audio.Waveform{}, fmt.Errorf("decode cancelled: %w", ctxErr)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return audio.Waveform{}, &DecodeError{Stderr: strings.TrimSpace(stderr.String()), Err: err}
		}
		return audio.Waveform{}, fmt.Errorf("run ffmpeg: %w", err)
	}

	waveform := audio.FromF32LE(stdout.Bytes(), rate)
	if waveform.Empty() {
		return audio.Waveform{}, ErrEmptyOutput
	}

	d.log().Debug("ffmpeg finished",
		zap.Duration("elapsed", time.Since(started)),
		zap.Int("samples", waveform.Len()),
		zap.Duration("audio", waveform.Duration()),
	)
	return waveform, nil
}

func decodeArgs(sampleRate int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-i", "pipe:0",
		"-vn",
		"-ac", "1",
		"-ar", strconv.Itoa(sampleRate),
		"-f", "f32le",
		"pipe:1",
	}
}

func (d *FFmpegDecoder) executable() string {
	if strings.TrimSpace(d.Executable) == "" {
		return DefaultExecutable
	}
	return d.Executable
}

func (d *FFmpegDecoder) log() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}
