package handler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/service"
	"github.com/iconidentify/mediagrab/internal/stream"
	"github.com/iconidentify/mediagrab/internal/worker"
)

// testLogger returns a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeMediaService is a test implementation of MediaService.
type fakeMediaService struct {
	mu sync.Mutex

	meta       *domain.MediaMetadata
	resolveErr error
	download   func(ctx context.Context, req service.DownloadRequest, resp *stream.Response) (*domain.DownloadResult, error)

	resolveCalls  int
	downloadCalls int
	lastURL       string
	lastRequest   service.DownloadRequest
}

func (f *fakeMediaService) Resolve(ctx context.Context, url string) (*domain.MediaMetadata, error) {
	f.mu.Lock()
	f.resolveCalls++
	f.lastURL = url
	f.mu.Unlock()
	if f.resolveErr != nil {
		return nil, f.resolveErr
	}
	return f.meta, nil
}

func (f *fakeMediaService) Download(ctx context.Context, req service.DownloadRequest, resp *stream.Response) (*domain.DownloadResult, error) {
	f.mu.Lock()
	f.downloadCalls++
	f.lastRequest = req
	f.mu.Unlock()
	return f.download(ctx, req, resp)
}

func (f *fakeMediaService) ClientWriteTimeout() time.Duration {
	return 0
}

type fakeBinary struct {
	present bool
}

func (b fakeBinary) BinaryPresent() bool { return b.present }

type fakePool struct {
	stats worker.Stats
}

func (p fakePool) Stats() worker.Stats { return p.stats }
