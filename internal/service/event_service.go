package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/iconidentify/mediagrab/internal/domain"
)

// EventServiceConfig configures the activity log.
type EventServiceConfig struct {
	// RingBufferSize is the number of events kept in memory. Default: 500
	RingBufferSize int

	// SQLitePath enables persistence when non-empty.
	SQLitePath string

	// Retention drops persisted events older than this when the log is
	// opened. Zero keeps everything.
	Retention time.Duration
}

// EventService keeps recent resolve and download activity in a ring buffer,
// optionally mirrored to SQLite.
type EventService struct {
	cfg    EventServiceConfig
	logger *slog.Logger

	mu    sync.RWMutex
	ring  []domain.Event
	next  int
	count int

	seq     atomic.Uint64
	store   *eventStore
	pending sync.WaitGroup
	closed  bool // guarded by mu
}

// NewEventService opens the activity log.
func NewEventService(cfg EventServiceConfig, logger *slog.Logger) (*EventService, error) {
	if cfg.RingBufferSize <= 0 {
		cfg.RingBufferSize = 500
	}

	svc := &EventService{
		cfg:    cfg,
		logger: logger.With("component", "events"),
		ring:   make([]domain.Event, cfg.RingBufferSize),
	}
	if cfg.SQLitePath == "" {
		return svc, nil
	}

	store, err := openEventStore(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("init sqlite: %w", err)
	}
	svc.store = store
	svc.logger.Info("event persistence enabled", "path", cfg.SQLitePath)

	if cfg.Retention > 0 {
		removed, err := store.prune(context.Background(), time.Now().UTC().Add(-cfg.Retention))
		if err != nil {
			svc.logger.Warn("failed to prune old events", "error", err)
		} else if removed > 0 {
			svc.logger.Info("pruned old events", "removed", removed, "retention", cfg.Retention)
		}
	}
	return svc, nil
}

// Close waits for pending writes and closes the database. Events emitted
// afterwards stay in memory only.
func (s *EventService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.pending.Wait()
	if s.store != nil {
		return s.store.close()
	}
	return nil
}

// Emit records an event, filling in the id and timestamp when unset.
func (s *EventService) Emit(event domain.Event) {
	if event.ID == "" {
		event.ID = domain.EventID(fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), s.seq.Add(1)))
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	s.ring[s.next] = event
	s.next = (s.next + 1) % len(s.ring)
	s.count = min(s.count+1, len(s.ring))
	persist := s.store != nil && !s.closed
	if persist {
		// Added under mu so Close cannot start waiting in between.
		s.pending.Add(1)
	}
	s.mu.Unlock()

	if persist {
		go func() {
			defer s.pending.Done()
			if err := s.store.insert(context.Background(), event); err != nil {
				s.logger.Warn("failed to persist event", "event_id", event.ID, "error", err)
			}
		}()
	}

	level := slog.LevelDebug
	switch event.Severity {
	case domain.EventSeverityWarning:
		level = slog.LevelWarn
	case domain.EventSeverityError:
		level = slog.LevelError
	}
	s.logger.Log(context.Background(), level, "event emitted",
		"event_id", event.ID,
		"category", event.Category,
		"severity", event.Severity,
		"message", event.Message,
	)
}

func (s *EventService) EmitInfo(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.emit(domain.EventSeverityInfo, category, source, message, metadata)
}

func (s *EventService) EmitWarning(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.emit(domain.EventSeverityWarning, category, source, message, metadata)
}

func (s *EventService) EmitError(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.emit(domain.EventSeverityError, category, source, message, metadata)
}

func (s *EventService) EmitSuccess(category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.emit(domain.EventSeveritySuccess, category, source, message, metadata)
}

func (s *EventService) emit(sev domain.EventSeverity, category domain.EventCategory, source, message string, metadata domain.EventMetadata) {
	s.Emit(domain.Event{
		Severity: sev,
		Category: category,
		Source:   source,
		Message:  message,
		Metadata: metadata.JSON(),
	})
}

// Query pages through buffered events matching the filter, newest first.
func (s *EventService) Query(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	query = query.Normalized()

	s.mu.RLock()
	matched := make([]domain.Event, 0, s.count)
	for i := 1; i <= s.count; i++ {
		ev := s.ring[(s.next-i+len(s.ring))%len(s.ring)]
		if query.Filter.Matches(ev) {
			matched = append(matched, ev)
		}
	}
	s.mu.RUnlock()

	total := len(matched)
	start := min(query.Offset, total)
	end := min(start+query.Limit, total)
	return &domain.EventQueryResult{
		Events:  matched[start:end],
		Total:   total,
		HasMore: end < total,
	}, nil
}

// QueryHistorical pages through persisted events. Without SQLite the result
// is empty.
func (s *EventService) QueryHistorical(ctx context.Context, query domain.EventQuery) (*domain.EventQueryResult, error) {
	if s.store == nil {
		return &domain.EventQueryResult{Events: []domain.Event{}}, nil
	}
	return s.store.query(ctx, query.Normalized())
}

// GetRecent returns the most recent n events, newest first.
func (s *EventService) GetRecent(n int) []domain.Event {
	res, _ := s.Query(context.Background(), domain.EventQuery{Limit: n})
	return res.Events
}

// EventStats describes the activity log.
type EventStats struct {
	BufferSize    int  `json:"buffer_size"`
	BufferUsed    int  `json:"buffer_used"`
	SQLiteEnabled bool `json:"sqlite_enabled"`
}

// Stats reports buffer usage and whether persistence is on.
func (s *EventService) Stats() EventStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return EventStats{
		BufferSize:    len(s.ring),
		BufferUsed:    s.count,
		SQLiteEnabled: s.store != nil,
	}
}
