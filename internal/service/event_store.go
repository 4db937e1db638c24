package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/iconidentify/mediagrab/internal/domain"
)

const eventSchema = `
CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	timestamp DATETIME NOT NULL,
	severity TEXT NOT NULL,
	category TEXT NOT NULL,
	message TEXT NOT NULL,
	source TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);
CREATE INDEX IF NOT EXISTS idx_events_category ON events(category);
`

// eventStore is the SQLite side of the activity log.
type eventStore struct {
	db *sql.DB
}

func openEventStore(path string) (*eventStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// Concurrent inserts from emit goroutines would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(eventSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &eventStore{db: db}, nil
}

func (st *eventStore) close() error {
	return st.db.Close()
}

func (st *eventStore) insert(ctx context.Context, ev domain.Event) error {
	var metadata sql.NullString
	if len(ev.Metadata) > 0 {
		metadata = sql.NullString{String: string(ev.Metadata), Valid: true}
	}
	_, err := st.db.ExecContext(ctx,
		`INSERT INTO events (id, timestamp, severity, category, message, source, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		string(ev.ID), ev.Timestamp, string(ev.Severity), string(ev.Category), ev.Message, ev.Source, metadata)
	return err
}

// prune deletes events recorded before cutoff and returns how many went.
func (st *eventStore) prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := st.db.ExecContext(ctx, `DELETE FROM events WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// whereClause renders f as SQL; unset fields add no condition.
func whereClause(f domain.EventFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if f.Severity != nil {
		conds = append(conds, "severity = ?")
		args = append(args, string(*f.Severity))
	}
	if f.Category != nil {
		conds = append(conds, "category = ?")
		args = append(args, string(*f.Category))
	}
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (st *eventStore) query(ctx context.Context, q domain.EventQuery) (*domain.EventQueryResult, error) {
	where, args := whereClause(q.Filter)

	var total int
	if err := st.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM events"+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}

	rows, err := st.db.QueryContext(ctx,
		"SELECT id, timestamp, severity, category, message, source, metadata FROM events"+where+
			" ORDER BY timestamp DESC LIMIT ? OFFSET ?",
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := make([]domain.Event, 0, q.Limit)
	for rows.Next() {
		var (
			ev               domain.Event
			source, metadata sql.NullString
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &ev.Severity, &ev.Category, &ev.Message, &source, &metadata); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Source = source.String
		if metadata.String != "" {
			ev.Metadata = json.RawMessage(metadata.String)
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	return &domain.EventQueryResult{
		Events:  events,
		Total:   total,
		HasMore: q.Offset+len(events) < total,
	}, nil
}
