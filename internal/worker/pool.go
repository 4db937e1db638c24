package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/metrics"
)

// ErrShutdownTimeout is returned when in-flight work doesn't finish within timeout.
var ErrShutdownTimeout = errors.New("worker pool shutdown timed out")

// ErrStopped is returned by Acquire after Stop has been called.
var ErrStopped = errors.New("worker pool stopped")

// Pool bounds the number of extractor processes running at once.
// Every request that spawns the extractor holds one slot for the life of
// the process.
type Pool struct {
	slots          *semaphore.Weighted
	size           int
	acquireTimeout time.Duration
	logger         *slog.Logger

	active   atomic.Int64
	waiting  atomic.Int64
	rejected atomic.Int64
	served   atomic.Int64

	wg      sync.WaitGroup
	mu      sync.RWMutex
	stopped bool
}

// Config holds worker pool configuration.
type Config struct {
	MaxProcesses   int
	AcquireTimeout time.Duration
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Capacity int   `json:"capacity"`
	Active   int64 `json:"active"`
	Waiting  int64 `json:"waiting"`
	Rejected int64 `json:"rejected"`
	Served   int64 `json:"served"`
}

// NewPool creates a new process pool.
func NewPool(cfg Config, logger *slog.Logger) *Pool {
	if cfg.MaxProcesses <= 0 {
		cfg.MaxProcesses = 4
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}

	return &Pool{
		slots:          semaphore.NewWeighted(int64(cfg.MaxProcesses)),
		size:           cfg.MaxProcesses,
		acquireTimeout: cfg.AcquireTimeout,
		logger:         logger.With("component", "worker_pool"),
	}
}

// Acquire blocks until a slot is free, the acquire timeout passes or ctx ends.
// On success the returned func must be called exactly once to free the slot.
func (p *Pool) Acquire(ctx context.Context) (func(), error) {
	p.mu.RLock()
	if p.stopped {
		p.mu.RUnlock()
		return nil, ErrStopped
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.acquireTimeout)
	defer cancel()

	p.waiting.Add(1)
	err := p.slots.Acquire(waitCtx, 1)
	p.waiting.Add(-1)
	if err != nil {
		p.wg.Done()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		p.rejected.Add(1)
		metrics.AdmissionRejectedTotal.Inc()
		p.logger.Warn("no extractor slot available",
			"capacity", p.size,
			"wait", p.acquireTimeout,
		)
		return nil, domain.ErrBusy
	}

	p.active.Add(1)
	p.served.Add(1)

	var once sync.Once
	return func() {
		once.Do(func() {
			p.active.Add(-1)
			p.slots.Release(1)
			p.wg.Done()
		})
	}, nil
}

// Stats returns current pool counters.
func (p *Pool) Stats() Stats {
	return Stats{
		Capacity: p.size,
		Active:   p.active.Load(),
		Waiting:  p.waiting.Load(),
		Rejected: p.rejected.Load(),
		Served:   p.served.Load(),
	}
}

// Stop rejects new work and waits for in-flight processes to release their slots.
func (p *Pool) Stop(timeout time.Duration) error {
	p.logger.Info("stopping worker pool", "active", p.active.Load())

	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
		return nil
	case <-time.After(timeout):
		return ErrShutdownTimeout
	}
}
