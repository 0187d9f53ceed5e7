package clipboard

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"
)

var ErrUnavailable = errors.New("no clipboard command available")

const defaultTimeout = 4 * time.Second

// tool is a clipboard command line. Detached tools such as xclip keep
// running to serve the selection, so they are started and released instead
// of waited on.
type tool struct {
	name     string
	args     []string
	detached bool
}

var tools = map[string][]tool{
	"darwin": {
		{name: "pbcopy"},
	},
	"linux": {
		{name: "wl-copy"},
		{name: "xclip", args: []string{"-selection", "clipboard", "-in", "-silent"}, detached: true},
		{name: "xsel", args: []string{"--clipboard", "--input"}},
	},
}

// Copier copies text with the first clipboard tool found on PATH.
type Copier struct {
	GOOS     string
	LookPath func(file string) (string, error)
	Timeout  time.Duration
}

func CopyText(ctx context.Context, value string) error {
	return (&Copier{}).Copy(ctx, value)
}

func (c *Copier) Copy(ctx context.Context, value string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	t, path, err := c.find()
	if err != nil {
		return err
	}
	if t.detached {
		return startDetached(path, t.args, value)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	copyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(copyCtx, path, t.args...)
	cmd.Stdin = strings.NewReader(value)
	if err := cmd.Run(); err != nil {
		if errors.Is(copyCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out: %w", t.name, copyCtx.Err())
		}
		return fmt.Errorf("copy with %s: %w", t.name, err)
	}
	return nil
}

func (c *Copier) find() (tool, string, error) {
	goos := c.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}

	for _, t := range tools[goos] {
		if path, err := lookPath(t.name); err == nil {
			return t, path, nil
		}
	}
	return tool{}, "", ErrUnavailable
}

func startDetached(path string, args []string, value string) error {
	cmd := exec.Command(path, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("open clipboard stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		_ = stdin.Close()
		return fmt.Errorf("start clipboard command: %w", err)
	}

	if _, err := io.WriteString(stdin, value); err != nil {
		_ = stdin.Close()
		_ = cmd.Process.Kill()
		return fmt.Errorf("write clipboard data: %w", err)
	}
	if err := stdin.Close(); err != nil {
		_ = cmd.Process.Kill()
		return fmt.Errorf("close clipboard stdin: %w", err)
	}
	return cmd.Process.Release()
}
