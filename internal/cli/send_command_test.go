package cli

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fmueller/voxrelay/internal/client"
	"github.com/fmueller/voxrelay/internal/config"
	"github.com/fmueller/voxrelay/internal/server"
	"github.com/stretchr/testify/require"
)

func startStubServer(t *testing.T, amplitude float32, text string) string {
	t.Helper()

	pipeline, err := stubPipeline(amplitude, text)(testContext(t))
	require.NoError(t, err)

	cfg := server.DefaultConfig()
	cfg.Session.CloseGrace = 50 * time.Millisecond
	ts := httptest.NewServer(server.New(cfg, pipeline, nil).Handler())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + server.DefaultPath
}

func TestSendCommandPrintsTranscript(t *testing.T) {
	t.Parallel()

	url := startStubServer(t, 0.3, "remote transcript")

	stdout, _, err := runCommand(t, []string{"send", "--no-progress", "--url", url, "--chunk-size", "2", writeMediaFile(t, "media-bytes")})
	require.NoError(t, err)
	require.Equal(t, "remote transcript\n", stdout)
}

func TestSendCommandSurfacesServerError(t *testing.T) {
	t.Parallel()

	url := startStubServer(t, 0.3, "unused")

	_, _, err := runAppCommand(t, &appState{cfg: config.Default()}, []string{"send", "--no-progress", "--url", url, writeMediaFile(t, "")})

	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	require.Equal(t, "no audio received", serverErr.Message)
}
