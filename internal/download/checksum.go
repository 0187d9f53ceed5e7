package download

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
)

var checksumPattern = regexp.MustCompile(`(?i)\b([a-f0-9]{64})\b`)

// ResolveExpectedChecksum fetches a checksum listing and picks the entry for
// fileName.
func ResolveExpectedChecksum(ctx context.Context, checksumURL, fileName string, client *http.Client) (string, error) {
	if strings.TrimSpace(checksumURL) == "" {
		return "", errors.New("checksum URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	resp, err := get(ctx, client, checksumURL)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	content, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read checksum listing: %w", err)
	}
	return ParseChecksum(content, fileName)
}

// ParseChecksum finds a SHA256 in a checksum listing. A line naming fileName
// wins over the first checksum in the listing.
func ParseChecksum(content []byte, fileName string) (string, error) {
	var first string
	for _, line := range strings.Split(string(content), "\n") {
		match := checksumPattern.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		sum := strings.ToLower(match[1])
		if fileName != "" && strings.Contains(line, fileName) {
			return sum, nil
		}
		if first == "" {
			first = sum
		}
	}
	if first == "" {
		return "", errors.New("sha256 checksum not found")
	}
	return first, nil
}

func VerifyFileChecksum(fs afero.Fs, path, expectedSHA256 string) error {
	expected := normalizeChecksum(expectedSHA256)
	if expected == "" {
		return nil
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}

	f, err := fs.Open(path)
	if err != nil {
		return fmt.Errorf("open file for checksum: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return fmt.Errorf("hash file: %w", err)
	}
	return compareChecksum(expected, h.Sum(nil))
}

func normalizeChecksum(sum string) string {
	return strings.ToLower(strings.TrimSpace(sum))
}

func compareChecksum(expected string, digest []byte) error {
	if expected == "" {
		return nil
	}
	if actual := hex.EncodeToString(digest); actual != expected {
		return &ChecksumError{Expected: expected, Actual: actual}
	}
	return nil
}

type ChecksumError struct {
	Expected string
	Actual   string
}

func (e *ChecksumError) Error() string {
	return fmt.Sprintf("checksum mismatch: expected %s, got %s", e.Expected, e.Actual)
}
