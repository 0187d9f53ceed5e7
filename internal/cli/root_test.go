package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRootCommandRegistersCoreSubcommands(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, sub := range cmd.Commands() {
		names[sub.Name()] = true
	}
	for _, name := range []string{"serve", "transcribe", "send", "setup", "version"} {
		require.True(t, names[name], "missing subcommand %s", name)
	}
	require.NotNil(t, cmd.PersistentFlags().Lookup("verbose"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("json"))
}

func TestServeFlagDefaults(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	serve, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	defaults := map[string]string{
		"host":             "0.0.0.0",
		"port":             "8000",
		"path":             "/transcribe",
		"max-upload-bytes": "52428800",
		"ping-interval":    "20s",
		"pong-timeout":     "20s",
		"model":            "large-v3",
		"language":         "en",
		"beam-size":        "1",
		"best-of":          "1",
		"vad":              "true",
		"vad-min-silence":  "200ms",
		"silence-gate":     "true",
		"max-concurrent":   "1",
	}
	for name, want := range defaults {
		flag := serve.Flags().Lookup(name)
		require.NotNil(t, flag, name)
		require.Equal(t, want, flag.DefValue, name)
	}
}

func TestRootHelpParsesSuccessfully(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())
	for _, name := range []string{"serve", "transcribe", "send", "setup"} {
		require.Contains(t, out.String(), name)
	}
}

func TestSubcommandHelpParsesSuccessfully(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		args     []string
		contains string
	}{
		{name: "serve", args: []string{"serve", "--help"}, contains: "Serve the WebSocket transcription endpoint"},
		{name: "transcribe", args: []string{"transcribe", "--help"}, contains: "Decode a local file with ffmpeg"},
		{name: "send", args: []string{"send", "--help"}, contains: "Upload a file to a voxrelay server"},
		{name: "setup", args: []string{"setup", "--help"}, contains: "Download and verify speech and VAD model assets"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			stdout, _, err := runCommand(t, tt.args)
			require.NoError(t, err)
			require.Contains(t, stdout, tt.contains)
		})
	}
}
