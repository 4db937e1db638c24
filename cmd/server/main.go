package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iconidentify/mediagrab/internal/api"
	"github.com/iconidentify/mediagrab/internal/api/handler"
	"github.com/iconidentify/mediagrab/internal/config"
	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/extractor"
	"github.com/iconidentify/mediagrab/internal/locator"
	"github.com/iconidentify/mediagrab/internal/repository"
	"github.com/iconidentify/mediagrab/internal/service"
	"github.com/iconidentify/mediagrab/internal/worker"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("mediagrab %s (built %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// Setup logger; the level is adjusted once config is loaded.
	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: &level,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	lvl, _ := cfg.Log.SlogLevel()
	level.Set(lvl)

	logger.Info("starting mediagrab",
		"version", Version,
		"build_time", BuildTime,
	)

	// No extractor, no service.
	paths, err := locator.Locate(cfg.Extractor)
	if err != nil {
		logger.Error("extractor binary not found", "error", err)
		os.Exit(1)
	}
	logger.Info("extractor binary ready", "path", paths.Binary, "cookies", paths.Cookies)

	if err := locator.EnsureStorage(cfg.Storage.DownloadPath); err != nil {
		logger.Error("failed to create storage directory", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies
	exec := extractor.New(paths.Binary, logger)
	downloads := repository.NewFilesystemDownloadRepository(cfg.Storage.DownloadPath)
	pool := worker.NewPool(worker.Config{
		MaxProcesses:   cfg.Worker.MaxProcesses,
		AcquireTimeout: cfg.Worker.AcquireTimeout,
	}, logger)

	events, err := service.NewEventService(service.EventServiceConfig{
		RingBufferSize: cfg.Events.BufferSize,
		SQLitePath:     cfg.Events.SQLitePath,
		Retention:      cfg.Events.Retention,
	}, logger)
	if err != nil {
		logger.Error("failed to start event log", "error", err)
		os.Exit(1)
	}

	// Initialize services
	mediaSvc := service.NewMediaService(
		exec,
		paths,
		pool,
		downloads,
		events,
		service.MediaServiceConfig{
			DefaultFormat:      cfg.Download.DefaultFormat,
			MergeFormat:        cfg.Download.MergeFormat,
			KeepOnDisconnect:   cfg.Download.KeepOnDisconnect(),
			ResolveTimeout:     cfg.Extractor.ResolveTimeout,
			MinFreeBytes:       cfg.Storage.MinFreeBytes,
			ClientWriteTimeout: cfg.Download.ClientWriteTimeout,
		},
		logger,
	)

	// Setup router
	router := api.NewRouter(api.Handlers{
		Media:  handler.NewMediaHandler(mediaSvc, logger),
		Files:  handler.NewFileHandler(downloads, logger),
		Health: handler.NewHealthHandler(paths, pool, events, cfg.Storage.DownloadPath),
		Events: handler.NewEventHandler(events, logger),
	}, api.RouterConfig{
		APIKey:      cfg.Server.APIKey,
		CORSOrigins: cfg.Server.CORSOrigins,
		Logger:      logger,
	})

	// Setup HTTP server. Downloads clear their own write deadline.
	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting HTTP server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	events.EmitInfo(domain.EventCategorySystem, "main", "server started", domain.EventMetadata{
		"version": Version,
		"addr":    srv.Addr,
	})

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Stop accepting new requests
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	// Downloads under the finish policy may outlive their request.
	if err := pool.Stop(25 * time.Second); err != nil {
		logger.Error("worker pool shutdown error", "error", err)
	}

	if err := events.Close(); err != nil {
		logger.Error("event log close error", "error", err)
	}

	logger.Info("shutdown complete")
}
