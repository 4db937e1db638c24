// Command fetch-extractor downloads the extractor binary into the configured
// base directory when it is missing, so the server can start.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/mediagrab/internal/config"
	"github.com/iconidentify/mediagrab/internal/locator"
)

func main() {
	configPath := flag.String("config", "", "Path to config file")
	releaseURL := flag.String("release-url", locator.DefaultReleaseURL, "Base URL of the release assets")
	timeout := flag.Duration("timeout", 5*time.Minute, "Download timeout")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	in := &locator.Installer{
		Client:     &http.Client{},
		ReleaseURL: *releaseURL,
		GOOS:       runtime.GOOS,
	}
	res, err := in.Install(ctx, cfg.Extractor.BaseDir, cfg.Extractor.Binary)
	if err != nil {
		logger.Error("failed to fetch extractor", "error", err)
		os.Exit(1)
	}
	if res.Skipped {
		logger.Info("extractor binary already present, skipping download", "path", res.Path)
		return
	}
	logger.Info("extractor binary installed",
		"path", res.Path,
		"size", humanize.Bytes(uint64(res.Bytes)),
	)
}
