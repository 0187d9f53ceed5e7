package platform

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

const (
	appName = "voxrelay"

	// ModelDirEnv points the model directory somewhere else, e.g. a volume
	// mounted into a container.
	ModelDirEnv = "VOXRELAY_MODEL_DIR"
)

func NormalizeArch(arch string) string {
	switch arch {
	case "x86_64":
		return "amd64"
	case "aarch64":
		return "arm64"
	default:
		return arch
	}
}

// HostTarget names the current platform the way release artifacts do,
// e.g. linux_amd64.
func HostTarget() string {
	return runtime.GOOS + "_" + NormalizeArch(runtime.GOARCH)
}

func DefaultModelDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	dataDir, err := defaultDataDirFor(goos, homeDir, xdgDataHome)
	if err != nil {
		return "", err
	}
	return filepath.Join(dataDir, "models"), nil
}

// ResolveModelDir picks the model directory: the explicit override, then
// $VOXRELAY_MODEL_DIR, then the per-user data directory.
func ResolveModelDir(override string) (string, error) {
	if override = strings.TrimSpace(override); override != "" {
		return filepath.Clean(override), nil
	}
	if fromEnv := strings.TrimSpace(os.Getenv(ModelDirEnv)); fromEnv != "" {
		return filepath.Clean(fromEnv), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	return DefaultModelDirFor(runtime.GOOS, homeDir, os.Getenv("XDG_DATA_HOME"))
}

func defaultDataDirFor(goos, homeDir, xdgDataHome string) (string, error) {
	if homeDir == "" {
		return "", errors.New("home directory is empty")
	}

	switch goos {
	case "linux", "freebsd":
		if xdgDataHome != "" {
			return filepath.Join(xdgDataHome, appName), nil
		}
		return filepath.Join(homeDir, ".local", "share", appName), nil
	case "darwin":
		return filepath.Join(homeDir, "Library", "Application Support", appName), nil
	default:
		return "", fmt.Errorf("unsupported OS: %s", goos)
	}
}
