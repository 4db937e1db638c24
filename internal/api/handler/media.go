package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/service"
	"github.com/iconidentify/mediagrab/internal/stream"
	"github.com/iconidentify/mediagrab/internal/worker"
)

// MediaService is the part of service.MediaService the handler needs.
type MediaService interface {
	Resolve(ctx context.Context, url string) (*domain.MediaMetadata, error)
	Download(ctx context.Context, req service.DownloadRequest, resp *stream.Response) (*domain.DownloadResult, error)
	ClientWriteTimeout() time.Duration
}

// MediaHandler serves metadata resolution and streaming downloads.
type MediaHandler struct {
	media  MediaService
	logger *slog.Logger
}

// NewMediaHandler creates a new media handler.
func NewMediaHandler(media MediaService, logger *slog.Logger) *MediaHandler {
	return &MediaHandler{
		media:  media,
		logger: logger,
	}
}

// Resolve handles GET /api/resolve?url=
func (h *MediaHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	rep := newReply(w, h.logger)

	url := r.URL.Query().Get("url")
	if url == "" {
		rep.error(http.StatusBadRequest, ErrorResponse{Error: "missing url"})
		return
	}

	meta, err := h.media.Resolve(r.Context(), url)
	if err != nil {
		status, body := errorResponse(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("resolve failed", "url", url, "status", status, "error", err)
		}
		rep.error(status, body)
		return
	}

	rep.json(http.StatusOK, meta)
}

// Download handles GET /api/download?url=&format_id=
//
// Headers are committed as soon as the extractor starts, so a failure after
// that point can only end the body early. Such a response is cut off by
// aborting the connection; a clean chunked terminator would make the partial
// body look complete.
func (h *MediaHandler) Download(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := service.DownloadRequest{
		URL:      q.Get("url"),
		FormatID: q.Get("format_id"),
	}

	resp := stream.NewResponse(w, h.media.ClientWriteTimeout())
	if req.URL == "" {
		resp.Fail(http.StatusBadRequest, func(w http.ResponseWriter, status int) {
			writeError(w, status, "missing url", "")
		})
		return
	}

	res, err := h.media.Download(r.Context(), req, resp)
	if err != nil {
		status, body := errorResponse(err)
		if !resp.Fail(status, func(w http.ResponseWriter, status int) {
			writeJSON(w, status, body)
		}) {
			h.logger.Error("download failed after headers were sent", "url", req.URL, "error", err)
			abortTruncated(resp)
			return
		}
		if status >= http.StatusInternalServerError {
			h.logger.Error("download failed", "url", req.URL, "status", status, "error", err)
		}
		return
	}

	if res.Outcome != domain.DownloadCompleted {
		h.logger.Warn("download ended early",
			"url", req.URL,
			"file", res.FileName,
			"state", resp.State().String(),
			"bytes", res.ClientBytes,
			"error", res.Err,
		)
	}
	abortTruncated(resp)
}

// abortTruncated resets the connection when a committed body ended early.
func abortTruncated(resp *stream.Response) {
	if resp.Truncated() {
		panic(http.ErrAbortHandler)
	}
}

// errorResponse maps a service error onto a status code and body.
func errorResponse(err error) (int, ErrorResponse) {
	var (
		inputErr     *domain.InputError
		launchErr    *domain.LaunchError
		extractErr   *domain.ExtractionError
		emptyErr     *domain.EmptyOutputError
		malformedErr *domain.MalformedOutputError
	)

	switch {
	case errors.Is(err, domain.ErrMissingURL):
		return http.StatusBadRequest, ErrorResponse{Error: "missing url"}
	case errors.As(err, &inputErr):
		return http.StatusBadRequest, ErrorResponse{Error: "invalid " + inputErr.Field, Details: inputErr.Reason}
	case errors.Is(err, domain.ErrBusy), errors.Is(err, worker.ErrStopped):
		return http.StatusServiceUnavailable, ErrorResponse{Error: "extractor busy", Details: "too many downloads in progress, retry later"}
	case errors.Is(err, domain.ErrInsufficientStorage):
		return http.StatusInsufficientStorage, ErrorResponse{Error: "insufficient storage space"}
	case errors.As(err, &launchErr):
		return http.StatusInternalServerError, ErrorResponse{Error: "failed to run extractor", Details: launchErr.Err.Error()}
	case errors.As(err, &extractErr):
		return http.StatusInternalServerError, ErrorResponse{Error: "extractor failed", Details: extractErr.Details()}
	case errors.As(err, &emptyErr):
		return http.StatusInternalServerError, ErrorResponse{Error: "extractor returned no data", Details: emptyErr.Stderr}
	case errors.As(err, &malformedErr):
		return http.StatusInternalServerError, ErrorResponse{Error: "invalid extractor JSON", Details: malformedErr.Excerpt}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, ErrorResponse{Error: "extractor timed out"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error"}
	}
}
