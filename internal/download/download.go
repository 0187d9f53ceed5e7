package download

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"time"

	"github.com/fmueller/voxrelay/internal/progress"
	"github.com/fmueller/voxrelay/internal/version"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const (
	defaultRetries      = 3
	defaultRetryBackoff = 300 * time.Millisecond
)

type Options struct {
	URL            string
	Destination    string
	ExpectedSHA256 string
	ChecksumURL    string
	Retries        int
	RetryBackoff   time.Duration
	NoProgress     bool
	Description    string
	HTTPClient     *http.Client
	FS             afero.Fs
	Logger         *zap.Logger
}

// StatusError is a non-200 answer from the download server.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d from %s", e.Code, e.URL)
}

// Temporary reports whether asking again may succeed.
func (e *StatusError) Temporary() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// DownloadFile fetches URL into Destination through a ".part" file. The
// destination only appears once the body is complete and its SHA256 matches.
func DownloadFile(ctx context.Context, opts Options) error {
	if opts.URL == "" {
		return errors.New("download URL is required")
	}
	if opts.Destination == "" {
		return errors.New("destination path is required")
	}
	opts = withDefaults(opts)

	expected := normalizeChecksum(opts.ExpectedSHA256)
	if expected == "" && opts.ChecksumURL != "" {
		resolved, err := ResolveExpectedChecksum(ctx, opts.ChecksumURL, filepath.Base(opts.Destination), opts.HTTPClient)
		if err != nil {
			return fmt.Errorf("fetch checksum: %w", err)
		}
		expected = resolved
	}

	if err := opts.FS.MkdirAll(filepath.Dir(opts.Destination), 0o755); err != nil {
		return fmt.Errorf("create destination directory: %w", err)
	}

	var err error
	for attempt := 1; ; attempt++ {
		err = fetch(ctx, opts, expected)
		if err == nil || attempt == opts.Retries || !retryable(ctx, err) {
			return err
		}

		opts.Logger.Warn("download failed, retrying",
			zap.String("url", opts.URL),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", opts.Retries),
			zap.Error(err),
		)
		timer := time.NewTimer(time.Duration(attempt) * opts.RetryBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("download cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func withDefaults(opts Options) Options {
	if opts.Retries <= 0 {
		opts.Retries = defaultRetries
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Minute}
	}
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Description == "" {
		opts.Description = "downloading " + filepath.Base(opts.Destination)
	}
	return opts
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Temporary()
	}
	return true
}

func get(ctx context.Context, client *http.Client, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "voxrelay/"+version.Version)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", url, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}
	return resp, nil
}

func fetch(ctx context.Context, opts Options, expectedChecksum string) (err error) {
	partPath := opts.Destination + ".part"
	_ = opts.FS.Remove(partPath)

	part, err := opts.FS.Create(partPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = part.Close()
		if err != nil {
			_ = opts.FS.Remove(partPath)
		}
	}()

	resp, err := get(ctx, opts.HTTPClient, opts.URL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	bar := progress.Bytes(!opts.NoProgress && progress.Terminal(), opts.Description, resp.ContentLength)
	hash := sha256.New()
	written, err := io.Copy(io.MultiWriter(part, hash, bar), resp.Body)
	bar.Stop()
	if err != nil {
		return fmt.Errorf("download body: %w", err)
	}
	if resp.ContentLength > 0 && written != resp.ContentLength {
		return fmt.Errorf("short download: got %d of %d bytes", written, resp.ContentLength)
	}
	if err := compareChecksum(expectedChecksum, hash.Sum(nil)); err != nil {
		return err
	}

	if err := part.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := part.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := opts.FS.Rename(partPath, opts.Destination); err != nil {
		return fmt.Errorf("move temp file into destination: %w", err)
	}

	opts.Logger.Debug("download complete", zap.String("path", opts.Destination), zap.Int64("bytes", written))
	return nil
}
