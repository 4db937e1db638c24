package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/extractor"
	"github.com/iconidentify/mediagrab/internal/media"
	"github.com/iconidentify/mediagrab/internal/metrics"
	"github.com/iconidentify/mediagrab/internal/repository"
	"github.com/iconidentify/mediagrab/internal/stream"
)

// Extractor runs the external extractor.
type Extractor interface {
	Run(ctx context.Context, args []string) (*extractor.Result, error)
	Stream(ctx context.Context, args []string) (*extractor.Process, error)
}

// CookieLocator reports the cookie file, if one is present right now.
type CookieLocator interface {
	CookieFile() (string, bool)
}

// Admitter hands out extractor process slots.
type Admitter interface {
	Acquire(ctx context.Context) (func(), error)
}

// MediaServiceConfig holds media service settings.
type MediaServiceConfig struct {
	DefaultFormat      string
	MergeFormat        string
	KeepOnDisconnect   bool
	ResolveTimeout     time.Duration
	MinFreeBytes       int64
	ClientWriteTimeout time.Duration
}

// MediaService resolves media metadata and streams downloads.
type MediaService struct {
	extractor Extractor
	cookies   CookieLocator
	pool      Admitter
	repo      repository.DownloadRepository
	events    domain.EventEmitter
	cfg       MediaServiceConfig
	logger    *slog.Logger
}

// NewMediaService creates a new media service.
func NewMediaService(
	ex Extractor,
	cookies CookieLocator,
	pool Admitter,
	repo repository.DownloadRepository,
	events domain.EventEmitter,
	cfg MediaServiceConfig,
	logger *slog.Logger,
) *MediaService {
	if cfg.DefaultFormat == "" {
		cfg.DefaultFormat = "best"
	}
	if cfg.MergeFormat == "" {
		cfg.MergeFormat = "mp4"
	}
	return &MediaService{
		extractor: ex,
		cookies:   cookies,
		pool:      pool,
		repo:      repo,
		events:    events,
		cfg:       cfg,
		logger:    logger.With("component", "media"),
	}
}

// ClientWriteTimeout returns the per-write deadline for download responses.
func (s *MediaService) ClientWriteTimeout() time.Duration {
	return s.cfg.ClientWriteTimeout
}

func (s *MediaService) cookieFile() string {
	if s.cookies == nil {
		return ""
	}
	path, ok := s.cookies.CookieFile()
	if !ok {
		return ""
	}
	return path
}

// checkMediaURL accepts only absolute http(s) URLs. Anything else would
// reach the extractor as a local path, an option or an exotic scheme.
func checkMediaURL(raw string) error {
	if raw == "" {
		return domain.ErrMissingURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return &domain.InputError{Field: "url", Reason: "not a valid URL"}
	}
	if scheme := strings.ToLower(u.Scheme); scheme != "http" && scheme != "https" {
		return &domain.InputError{Field: "url", Reason: "only http and https URLs are supported"}
	}
	if u.Host == "" {
		return &domain.InputError{Field: "url", Reason: "URL has no host"}
	}
	return nil
}

// Resolve runs the extractor in JSON dump mode and normalizes its output.
func (s *MediaService) Resolve(ctx context.Context, url string) (*domain.MediaMetadata, error) {
	if err := checkMediaURL(url); err != nil {
		metrics.ResolvesTotal.WithLabelValues("invalid").Inc()
		return nil, err
	}

	release, err := s.pool.Acquire(ctx)
	if err != nil {
		metrics.ResolvesTotal.WithLabelValues("busy").Inc()
		return nil, err
	}
	defer release()

	if s.cfg.ResolveTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ResolveTimeout)
		defer cancel()
	}

	logger := s.logger.With("url", url)
	res, err := s.extractor.Run(ctx, extractor.ResolveArgs(url, s.cookieFile()))
	if err != nil {
		if errors.Is(err, domain.ErrLaunch) {
			s.resolveFailed(url, "launch_failed", err)
			return nil, err
		}
		s.resolveFailed(url, "canceled", err)
		return nil, fmt.Errorf("run extractor: %w", err)
	}

	stderr := string(bytes.TrimSpace(res.Stderr))
	if res.ExitCode != 0 {
		err := &domain.ExtractionError{ExitCode: res.ExitCode, Stderr: stderr}
		s.resolveFailed(url, "failed", err)
		return nil, err
	}
	if len(bytes.TrimSpace(res.Stdout)) == 0 {
		err := &domain.EmptyOutputError{Stderr: stderr}
		s.resolveFailed(url, "empty", err)
		return nil, err
	}

	meta, err := media.Normalize(res.Stdout)
	if err != nil {
		s.resolveFailed(url, "malformed", err)
		return nil, err
	}

	metrics.ResolvesTotal.WithLabelValues("ok").Inc()
	logger.Info("media resolved",
		"title", meta.Title,
		"options", len(meta.Options),
		"duration", res.Duration,
	)
	s.events.EmitInfo(domain.EventCategoryResolve, "media", "metadata resolved", domain.EventMetadata{
		"url":     url,
		"title":   meta.Title,
		"options": len(meta.Options),
	})
	return meta, nil
}

func (s *MediaService) resolveFailed(url, outcome string, err error) {
	metrics.ResolvesTotal.WithLabelValues(outcome).Inc()
	s.logger.Warn("resolve failed", "url", url, "outcome", outcome, "error", err)
	s.events.EmitError(domain.EventCategoryResolve, "media", "resolve failed", domain.EventMetadata{
		"url":   url,
		"error": err.Error(),
	})
}

// DownloadRequest identifies the media and format to stream.
type DownloadRequest struct {
	URL      string
	FormatID string
}

// Download streams the requested format to resp and to a new storage file.
//
// A returned error means nothing was sent and resp is still NotStarted; the
// caller decides the error status. Once headers are committed failures only
// show up in the result, with Outcome aborted and Err wrapping
// domain.ErrStreamInterrupted.
func (s *MediaService) Download(ctx context.Context, req DownloadRequest, resp *stream.Response) (*domain.DownloadResult, error) {
	if err := checkMediaURL(req.URL); err != nil {
		metrics.DownloadsTotal.WithLabelValues(string(domain.DownloadRejected)).Inc()
		return nil, err
	}
	format := req.FormatID
	if format == "" {
		format = s.cfg.DefaultFormat
	}
	logger := s.logger.With("url", req.URL, "format", format)

	if s.cfg.MinFreeBytes > 0 {
		if free := s.repo.FreeSpace(); free >= 0 && free < s.cfg.MinFreeBytes {
			metrics.DownloadsTotal.WithLabelValues(string(domain.DownloadRejected)).Inc()
			logger.Warn("storage below free space floor",
				"free", humanize.Bytes(uint64(free)),
				"min_free", humanize.Bytes(uint64(s.cfg.MinFreeBytes)),
			)
			s.events.EmitWarning(domain.EventCategorySystem, "storage", "download rejected: low disk space", domain.EventMetadata{
				"free_bytes": free,
			})
			return nil, domain.ErrInsufficientStorage
		}
	}

	release, err := s.pool.Acquire(ctx)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(string(domain.DownloadRejected)).Inc()
		return nil, err
	}
	defer release()

	// Under the finish policy the extractor outlives the client.
	procParent := ctx
	if s.cfg.KeepOnDisconnect {
		procParent = context.WithoutCancel(ctx)
	}
	procCtx, cancel := context.WithCancel(procParent)
	defer cancel()

	file, name, err := s.repo.Create(s.cfg.MergeFormat)
	if err != nil {
		metrics.DownloadsTotal.WithLabelValues(string(domain.DownloadRejected)).Inc()
		logger.Error("failed to create download file", "error", err)
		return nil, fmt.Errorf("create download file: %w", err)
	}
	logger = logger.With("file", name)

	args := extractor.DownloadArgs(req.URL, format, s.cfg.MergeFormat, s.cookieFile())
	proc, err := s.extractor.Stream(procCtx, args)
	if err != nil {
		file.Close()
		if rmErr := s.repo.Remove(name); rmErr != nil {
			logger.Warn("failed to remove unused download file", "error", rmErr)
		}
		metrics.DownloadsTotal.WithLabelValues(string(domain.DownloadRejected)).Inc()
		s.events.EmitError(domain.EventCategoryDownload, "media", "extractor failed to start", domain.EventMetadata{
			"url":   req.URL,
			"error": err.Error(),
		})
		return nil, err
	}
	logger = logger.With("pid", proc.Pid())

	start := time.Now()
	err = resp.Commit(func(h http.Header) {
		h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
		h.Set("Content-Type", "video/mp4")
		h.Set("X-Content-Type-Options", "nosniff")
	})
	if err != nil {
		proc.Kill()
		proc.Wait()
		file.Close()
		s.repo.Remove(name)
		return nil, fmt.Errorf("commit response: %w", err)
	}

	logger.Info("download started")
	s.events.EmitInfo(domain.EventCategoryDownload, "media", "download started", domain.EventMetadata{
		"url":    req.URL,
		"format": format,
		"file":   name,
	})

	client := stream.NewSink("client", resp)
	disk := stream.NewSink("disk", file)
	tee := stream.NewTee(client, disk)
	tee.OnSinkError = func(sink *stream.Sink, err error) {
		metrics.SinkFailuresTotal.WithLabelValues(sink.Name).Inc()
		logger.Warn("download sink failed", "sink", sink.Name, "written", sink.Written(), "error", err)
		if sink == client && !s.cfg.KeepOnDisconnect {
			cancel()
		}
	}

	read, copyErr := tee.Copy(proc)
	if copyErr != nil {
		// Stop the child so Wait does not block on a pipe nobody reads.
		proc.Kill()
	}
	exitCode, waitErr := proc.Wait()

	if err := file.Close(); err != nil && !disk.Failed() {
		metrics.SinkFailuresTotal.WithLabelValues(disk.Name).Inc()
		logger.Warn("download sink failed", "sink", disk.Name, "error", err)
	}

	result := &domain.DownloadResult{
		FileName:     name,
		BytesRead:    read,
		ClientBytes:  client.Written(),
		DiskBytes:    disk.Written(),
		ExitCode:     exitCode,
		ClientFailed: client.Failed(),
		DiskFailed:   disk.Failed(),
		Duration:     time.Since(start),
	}

	var cause error
	switch {
	case copyErr != nil:
		cause = copyErr
	case waitErr != nil:
		cause = waitErr
	case exitCode != 0:
		cause = &domain.ExtractionError{ExitCode: exitCode, Stderr: proc.Diagnostics()}
	case client.Failed():
		cause = client.Err()
	}

	state := resp.Finish(cause == nil)
	if state == stream.Completed {
		result.Outcome = domain.DownloadCompleted
	} else {
		result.Outcome = domain.DownloadAborted
		result.Err = fmt.Errorf("%w: %w", domain.ErrStreamInterrupted, cause)
	}

	metrics.DownloadsTotal.WithLabelValues(string(result.Outcome)).Inc()
	metrics.StreamedBytesTotal.WithLabelValues(client.Name).Add(float64(result.ClientBytes))
	metrics.StreamedBytesTotal.WithLabelValues(disk.Name).Add(float64(result.DiskBytes))

	attrs := []any{
		"outcome", result.Outcome,
		"exit_code", exitCode,
		"read", humanize.Bytes(uint64(read)),
		"client", humanize.Bytes(uint64(result.ClientBytes)),
		"disk", humanize.Bytes(uint64(result.DiskBytes)),
		"duration", result.Duration,
	}
	meta := domain.EventMetadata{
		"url":          req.URL,
		"format":       format,
		"file":         name,
		"exit_code":    exitCode,
		"bytes":        read,
		"client_bytes": result.ClientBytes,
		"disk_bytes":   result.DiskBytes,
	}
	if result.Outcome == domain.DownloadCompleted {
		logger.Info("download finished", attrs...)
		s.events.EmitSuccess(domain.EventCategoryDownload, "media", "download complete", meta)
	} else {
		logger.Warn("download aborted", append(attrs, "error", result.Err, "stderr", proc.Diagnostics())...)
		meta["error"] = result.Err.Error()
		s.events.EmitWarning(domain.EventCategoryDownload, "media", "download aborted", meta)
	}

	return result, nil
}
