package whisper

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fmueller/voxrelay/internal/audio"
	"github.com/fmueller/voxrelay/internal/platform"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const stubWhisperOutput = `{
  "result": {"language": "en"},
  "transcription": [
    {"timestamps": {"from": "00:00:00,000", "to": "00:00:01,200"}, "offsets": {"from": 0, "to": 1200}, "text": " Hello there."},
    {"timestamps": {"from": "00:00:01,200", "to": "00:00:02,000"}, "offsets": {"from": 1200, "to": 2000}, "text": " General Kenobi. "}
  ]
}`

func writeWhisperStub(t *testing.T, argsFile string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "whisper-cli")
	script := `#!/bin/sh
echo "$@" > "` + argsFile + `"
out=""
wav=""
while [ $# -gt 0 ]; do
  case "$1" in
    -of) out="$2"; shift ;;
    -f) wav="$2"; shift ;;
  esac
  shift
done
[ -s "$wav" ] || { echo "missing input wav" >&2; exit 3; }
cat > "$out.json" <<'EOF'
` + stubWhisperOutput + `
EOF
`
	require.NoError(t, os.WriteFile(path, []byte(script), 0o755))
	return path
}

func testWaveform() audio.Waveform {
	return audio.Waveform{Samples: make([]float32, 1600), SampleRate: audio.SampleRate}
}

func TestBundledEngineParsesSegments(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	engine := &BundledEngine{
		Executable: writeWhisperStub(t, argsFile),
		ModelPath:  "/models/ggml-large-v3.bin",
		FS:         afero.NewOsFs(),
	}

	opts := DefaultOptions()
	opts.VADModelPath = "/models/ggml-silero-v5.1.2.bin"

	segments, err := engine.Transcribe(context.Background(), testWaveform(), opts)
	require.NoError(t, err)
	require.Equal(t, []Segment{
		{Start: 0, End: 1200 * time.Millisecond, Text: " Hello there."},
		{Start: 1200 * time.Millisecond, End: 2 * time.Second, Text: " General Kenobi. "},
	}, segments)
	require.Equal(t, "Hello there.  General Kenobi.", JoinSegments(segments))

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	recorded := strings.TrimSpace(string(args))
	require.Contains(t, recorded, "-m /models/ggml-large-v3.bin")
	require.Contains(t, recorded, "-l en -bs 1 -bo 1 --vad -vm /models/ggml-silero-v5.1.2.bin -vsd 200")
}

func TestBundledEngineRemovesWorkDir(t *testing.T) {
	t.Parallel()

	argsFile := filepath.Join(t.TempDir(), "args.txt")
	engine := &BundledEngine{
		Executable: writeWhisperStub(t, argsFile),
		ModelPath:  "/models/ggml-tiny.bin",
	}

	opts := DefaultOptions()
	opts.VAD = false

	_, err := engine.Transcribe(context.Background(), testWaveform(), opts)
	require.NoError(t, err)

	args, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	fields := strings.Fields(string(args))

	var wavPath string
	for i, field := range fields {
		if field == "-f" && i+1 < len(fields) {
			wavPath = fields[i+1]
		}
	}
	require.NotEmpty(t, wavPath)
	require.NotContains(t, string(args), "--vad")

	exists, err := afero.DirExists(afero.NewOsFs(), filepath.Dir(wavPath))
	require.NoError(t, err)
	require.False(t, exists, "work dir should be removed after transcription")
}

func TestBundledEngineReportsFailure(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho 'failed to load model' >&2\nexit 1\n"), 0o755))

	engine := &BundledEngine{Executable: path, ModelPath: "/models/ggml-tiny.bin"}
	opts := DefaultOptions()
	opts.VAD = false

	_, err := engine.Transcribe(context.Background(), testWaveform(), opts)
	require.Error(t, err)
	require.Contains(t, err.Error(), "whisper transcribe failed")
	require.Contains(t, err.Error(), "failed to load model")
}

func TestBundledEngineValidatesInput(t *testing.T) {
	t.Parallel()

	engine := &BundledEngine{Executable: "/no/such/whisper-cli", ModelPath: "/models/ggml-tiny.bin"}

	_, err := engine.Transcribe(context.Background(), audio.Waveform{}, DefaultOptions())
	require.ErrorContains(t, err, "waveform is empty")

	_, err = engine.Transcribe(context.Background(), testWaveform(), DefaultOptions())
	require.ErrorContains(t, err, "vad model path is required")

	opts := DefaultOptions()
	opts.VAD = false
	_, err = engine.Transcribe(context.Background(), testWaveform(), opts)
	require.ErrorContains(t, err, "whisper engine missing or not executable")

	engine.ModelPath = ""
	_, err = engine.Transcribe(context.Background(), testWaveform(), opts)
	require.ErrorContains(t, err, "model path is required")
}

func TestBuildArgsOmitsUnsetTuning(t *testing.T) {
	t.Parallel()

	args := buildArgs("/m.bin", "/in.wav", "/out", Options{})
	require.Equal(t, []string{"-m", "/m.bin", "-f", "/in.wav", "-np", "-oj", "-of", "/out", "-l", "en"}, args)

	args = buildArgs("/m.bin", "/in.wav", "/out", Options{Language: "de", Threads: 4, VAD: true, VADModelPath: "/vad.bin"})
	require.Equal(t, []string{"-m", "/m.bin", "-f", "/in.wav", "-np", "-oj", "-of", "/out", "-l", "de", "-t", "4", "--vad", "-vm", "/vad.bin"}, args)
}

func TestParseOutputEmptyTranscription(t *testing.T) {
	t.Parallel()

	segments, err := parseOutput([]byte(`{"transcription": []}`))
	require.NoError(t, err)
	require.Empty(t, segments)
	require.Equal(t, "", JoinSegments(segments))

	_, err = parseOutput([]byte("not json"))
	require.ErrorContains(t, err, "parse whisper output")
}

func TestResolveBundledEnginePathFindsLibexecSibling(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	binDir := filepath.Join(root, "bin")
	engineDir := filepath.Join(root, "libexec", "whisper")
	require.NoError(t, os.MkdirAll(binDir, 0o755))
	require.NoError(t, os.MkdirAll(engineDir, 0o755))

	self := filepath.Join(binDir, "voxrelay")
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	enginePath := filepath.Join(engineDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveBundledEnginePathFindsPackagingPathForLocalDev(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	self := filepath.Join(root, "voxrelay")
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	targetDir := filepath.Join(root, "packaging", "whisper", platform.HostTarget())
	require.NoError(t, os.MkdirAll(targetDir, 0o755))
	enginePath := filepath.Join(targetDir, engineBinaryName())
	require.NoError(t, os.WriteFile(enginePath, []byte(""), 0o755))

	resolved, err := ResolveBundledEnginePath(self)
	require.NoError(t, err)
	require.Equal(t, enginePath, resolved)
}

func TestResolveBundledEnginePathMissing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	self := filepath.Join(t.TempDir(), "bin", "voxrelay")
	require.NoError(t, os.MkdirAll(filepath.Dir(self), 0o755))
	require.NoError(t, os.WriteFile(self, []byte(""), 0o755))

	_, err := ResolveBundledEnginePath(self)
	require.Error(t, err)
	require.Contains(t, err.Error(), "whisper engine not found")
}

func TestNewBundledEngineHonoursOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "whisper-cli")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv(EnginePathEnv, path)

	engine, err := NewBundledEngine("/models/ggml-tiny.bin", nil)
	require.NoError(t, err)
	require.Equal(t, path, engine.Executable)
	require.Equal(t, "/models/ggml-tiny.bin", engine.ModelPath)
}

func TestIsMissingSharedLibraryError(t *testing.T) {
	t.Parallel()

	require.True(t, isMissingSharedLibraryError("error while loading shared libraries: libwhisper.so.1: cannot open shared object file"))
	require.True(t, isMissingSharedLibraryError("dyld: Library not loaded: @rpath/libwhisper.dylib"))
	require.False(t, isMissingSharedLibraryError("some other runtime error"))
}

func TestIsIllegalInstructionError(t *testing.T) {
	t.Parallel()

	require.True(t, isIllegalInstructionError("signal: illegal instruction (core dumped)"))
	require.False(t, isIllegalInstructionError("some other runtime error"))
	require.False(t, isIllegalInstructionError(""))
}
