package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/fmueller/voxrelay/internal/audio"
	"github.com/fmueller/voxrelay/internal/platform"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const EnginePathEnv = "VOXRELAY_WHISPER_PATH"

type BundledEngine struct {
	Executable string
	ModelPath  string
	Logger     *zap.Logger

	// FS hosts the per-call working directory. whisper-cli reads and writes
	// real files, so anything but an OS-backed filesystem only works with
	// stub executables.
	FS afero.Fs
}

func NewBundledEngine(modelPath string, logger *zap.Logger) (*BundledEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	if override := strings.TrimSpace(os.Getenv(EnginePathEnv)); override != "" {
		if err := ensureExecutable(override); err != nil {
			return nil, fmt.Errorf("%s is not executable: %w", EnginePathEnv, err)
		}
		return &BundledEngine{Executable: override, ModelPath: modelPath, Logger: logger, FS: afero.NewOsFs()}, nil
	}

	self, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("resolve voxrelay executable path: %w", err)
	}

	whisperExe, err := ResolveBundledEnginePath(self)
	if err != nil {
		return nil, err
	}

	return &BundledEngine{Executable: whisperExe, ModelPath: modelPath, Logger: logger, FS: afero.NewOsFs()}, nil
}

func ResolveBundledEnginePath(selfExecutable string) (string, error) {
	for _, candidate := range EnginePathCandidates(selfExecutable) {
		if err := ensureExecutable(candidate); err == nil {
			return candidate, nil
		}
	}

	if found, err := exec.LookPath(engineBinaryName()); err == nil {
		return found, nil
	}

	return "", fmt.Errorf("whisper engine not found near %s or on PATH; set %s or install %s at ../libexec/whisper/%s", selfExecutable, EnginePathEnv, engineBinaryName(), engineBinaryName())
}

func EnginePathCandidates(selfExecutable string) []string {
	binDir := filepath.Dir(selfExecutable)
	engineName := engineBinaryName()
	hostTarget := platform.HostTarget()

	return []string{
		filepath.Join(binDir, "..", "libexec", "whisper", engineName),
		filepath.Join(binDir, "libexec", "whisper", engineName),
		filepath.Join(binDir, "packaging", "whisper", hostTarget, engineName),
		filepath.Join(binDir, engineName),
	}
}

func (b *BundledEngine) Transcribe(ctx context.Context, waveform audio.Waveform, opts Options) ([]Segment, error) {
	if waveform.Empty() {
		return nil, errors.New("waveform is empty")
	}
	if strings.TrimSpace(b.ModelPath) == "" {
		return nil, errors.New("model path is required")
	}
	if opts.VAD && strings.TrimSpace(opts.VADModelPath) == "" {
		return nil, errors.New("vad model path is required when vad is enabled")
	}
	if err := ensureExecutable(b.Executable); err != nil {
		return nil, fmt.Errorf("whisper engine missing or not executable: %w", err)
	}

	fs := b.fs()
	workDir, err := afero.TempDir(fs, "", "voxrelay-")
	if err != nil {
		return nil, fmt.Errorf("create whisper work dir: %w", err)
	}
	defer func() {
		if err := fs.RemoveAll(workDir); err != nil {
			b.log().Warn("failed to remove whisper work dir", zap.String("dir", workDir), zap.Error(err))
		}
	}()

	wavPath := filepath.Join(workDir, "input.wav")
	outBase := filepath.Join(workDir, "output")
	if err := audio.WriteWAV(fs, wavPath, waveform); err != nil {
		return nil, err
	}

	args := buildArgs(b.ModelPath, wavPath, outBase, opts)
	cmd := exec.CommandContext(ctx, b.Executable, args...)
	cmd.WaitDelay = 2 * time.Second

	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	b.log().Debug("running whisper engine", zap.String("engine", b.Executable), zap.Strings("args", args))
	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("whisper transcribe cancelled: %w", ctxErr)
		}
		errText := strings.TrimSpace(stderr.String())
		if isMissingSharedLibraryError(errText) {
			return nil, fmt.Errorf("whisper engine at %s is missing required shared libraries (%s); rebuild whisper-cli with BUILD_SHARED_LIBS=OFF or install its libraries", b.Executable, errText)
		}
		if isIllegalInstructionError(errText) || isIllegalInstructionError(err.Error()) {
			return nil, fmt.Errorf("whisper engine crashed with an illegal CPU instruction; " +
				"your CPU may lack required instruction set extensions; " +
				"set " + EnginePathEnv + " to a whisper-cli binary built for your CPU")
		}
		return nil, fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
	}

	content, err := afero.ReadFile(fs, outBase+".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}

	return parseOutput(content)
}

func buildArgs(modelPath, wavPath, outBase string, opts Options) []string {
	args := []string{"-m", modelPath, "-f", wavPath, "-np", "-oj", "-of", outBase}

	lang := strings.TrimSpace(opts.Language)
	if lang == "" {
		lang = DefaultLanguage
	}
	args = append(args, "-l", lang)

	if opts.BeamSize > 0 {
		args = append(args, "-bs", strconv.Itoa(opts.BeamSize))
	}
	if opts.BestOf > 0 {
		args = append(args, "-bo", strconv.Itoa(opts.BestOf))
	}
	if opts.Threads > 0 {
		args = append(args, "-t", strconv.Itoa(opts.Threads))
	}
	if opts.VAD {
		args = append(args, "--vad", "-vm", opts.VADModelPath)
		if opts.MinSilence > 0 {
			args = append(args, "-vsd", strconv.FormatInt(opts.MinSilence.Milliseconds(), 10))
		}
	}

	return args
}

type cliOutput struct {
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseOutput(content []byte) ([]Segment, error) {
	var out cliOutput
	if err := json.Unmarshal(content, &out); err != nil {
		return nil, fmt.Errorf("parse whisper output: %w", err)
	}

	segments := make([]Segment, 0, len(out.Transcription))
	for _, item := range out.Transcription {
		segments = append(segments, Segment{
			Start: time.Duration(item.Offsets.From) * time.Millisecond,
			End:   time.Duration(item.Offsets.To) * time.Millisecond,
			Text:  item.Text,
		})
	}
	return segments, nil
}

func (b *BundledEngine) fs() afero.Fs {
	if b.FS == nil {
		return afero.NewOsFs()
	}
	return b.FS
}

func (b *BundledEngine) log() *zap.Logger {
	if b.Logger == nil {
		return zap.NewNop()
	}
	return b.Logger
}

func engineBinaryName() string {
	if runtime.GOOS == "windows" {
		return "whisper-cli.exe"
	}
	return "whisper-cli"
}

func ensureExecutable(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", path)
	}
	if runtime.GOOS != "windows" && info.Mode()&0o111 == 0 {
		return fmt.Errorf("%s is not executable", path)
	}
	return nil
}

func isMissingSharedLibraryError(stderr string) bool {
	value := strings.ToLower(strings.TrimSpace(stderr))
	if value == "" {
		return false
	}

	patterns := []string{
		"error while loading shared libraries",
		"cannot open shared object file",
		"dyld: library not loaded",
		"image not found",
	}

	for _, pattern := range patterns {
		if strings.Contains(value, pattern) {
			return true
		}
	}

	return false
}

func isIllegalInstructionError(stderr string) bool {
	return strings.Contains(strings.ToLower(stderr), "illegal instruction")
}
