package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// DefaultReleaseURL serves the latest extractor release assets.
const DefaultReleaseURL = "https://github.com/yt-dlp/yt-dlp/releases/latest/download/"

// ReleaseAsset returns the release asset name for the given GOOS.
func ReleaseAsset(goos string) string {
	switch goos {
	case "windows":
		return "yt-dlp.exe"
	case "darwin":
		return "yt-dlp_macos"
	default:
		return "yt-dlp"
	}
}

// InstallResult describes what Install did.
type InstallResult struct {
	Path    string
	Bytes   int64
	Skipped bool
}

// Installer fetches the extractor binary into the base directory.
type Installer struct {
	Client     *http.Client
	ReleaseURL string
	GOOS       string
}

// Install downloads the platform release asset to the path Locate expects.
// An existing binary is left untouched. The file is written to a temporary
// name in the same directory and renamed into place, so a failed download
// never leaves a partial binary behind.
func (in *Installer) Install(ctx context.Context, baseDir, binary string) (*InstallResult, error) {
	if binary == "" {
		binary = BinaryName(in.GOOS)
	}
	dest := binary
	if !filepath.IsAbs(dest) {
		base, err := filepath.Abs(baseDir)
		if err != nil {
			return nil, fmt.Errorf("resolve base dir: %w", err)
		}
		dest = filepath.Join(base, dest)
	}

	if _, err := os.Stat(dest); err == nil {
		return &InstallResult{Path: dest, Skipped: true}, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("stat extractor binary: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return nil, fmt.Errorf("create base dir: %w", err)
	}

	url := strings.TrimSuffix(in.ReleaseURL, "/") + "/" + ReleaseAsset(in.GOOS)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	client := in.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".extractor-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	n, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && n == 0 {
		err = errors.New("empty release asset")
	}
	if err == nil {
		err = os.Chmod(tmp.Name(), 0755)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), dest)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("install extractor: %w", err)
	}
	return &InstallResult{Path: dest, Bytes: n}, nil
}
