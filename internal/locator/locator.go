// Package locator resolves the extractor binary and its optional cookie file.
package locator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/iconidentify/mediagrab/internal/config"
)

// ErrBinaryNotFound is returned when the extractor binary is missing.
var ErrBinaryNotFound = errors.New("extractor binary not found")

// Paths holds the resolved extractor locations.
type Paths struct {
	Binary  string
	Cookies string
}

// BinaryName returns the extractor file name for the given GOOS.
func BinaryName(goos string) string {
	if goos == "windows" {
		return "yt-dlp.exe"
	}
	return "yt-dlp"
}

// Locate resolves the extractor binary under the configured base directory.
// A missing binary is an error; callers must not start without it.
func Locate(cfg config.ExtractorConfig) (*Paths, error) {
	base, err := filepath.Abs(cfg.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base dir: %w", err)
	}

	name := cfg.Binary
	if name == "" {
		name = BinaryName(runtime.GOOS)
	}
	binary := name
	if !filepath.IsAbs(binary) {
		binary = filepath.Join(base, binary)
	}

	info, err := os.Stat(binary)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w at %s", ErrBinaryNotFound, binary)
		}
		return nil, fmt.Errorf("stat extractor binary: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrBinaryNotFound, binary)
	}

	p := &Paths{Binary: binary}
	if cfg.CookiesFile != "" {
		p.Cookies = cfg.CookiesFile
		if !filepath.IsAbs(p.Cookies) {
			p.Cookies = filepath.Join(base, p.Cookies)
		}
	}
	return p, nil
}

// CookieFile reports the cookie file path if it exists right now.
// The file is stat'ed on every call so operators can add or remove it live.
func (p *Paths) CookieFile() (string, bool) {
	if p == nil || p.Cookies == "" {
		return "", false
	}
	info, err := os.Stat(p.Cookies)
	if err != nil || info.IsDir() {
		return "", false
	}
	return p.Cookies, true
}

// BinaryPresent reports whether the extractor binary is still on disk.
func (p *Paths) BinaryPresent() bool {
	info, err := os.Stat(p.Binary)
	return err == nil && !info.IsDir()
}

// EnsureStorage creates the download directory if necessary.
func EnsureStorage(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create storage directory: %w", err)
	}
	return nil
}
