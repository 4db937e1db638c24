package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventID identifies one activity log entry.
type EventID string

// EventSeverity ranks an activity log entry.
type EventSeverity string

const (
	EventSeverityInfo    EventSeverity = "info"
	EventSeverityWarning EventSeverity = "warning"
	EventSeverityError   EventSeverity = "error"
	EventSeveritySuccess EventSeverity = "success"
)

// Valid reports whether s is a known severity.
func (s EventSeverity) Valid() bool {
	switch s {
	case EventSeverityInfo, EventSeverityWarning, EventSeverityError, EventSeveritySuccess:
		return true
	}
	return false
}

// EventCategory names the operation an entry belongs to.
type EventCategory string

const (
	EventCategoryResolve  EventCategory = "resolve"
	EventCategoryDownload EventCategory = "download"
	EventCategorySystem   EventCategory = "system"
)

// Valid reports whether c is a known category.
func (c EventCategory) Valid() bool {
	switch c {
	case EventCategoryResolve, EventCategoryDownload, EventCategorySystem:
		return true
	}
	return false
}

// Event is one entry in the activity log: a resolve, a download outcome or a
// lifecycle change of the server.
type Event struct {
	ID        EventID         `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Severity  EventSeverity   `json:"severity"`
	Category  EventCategory   `json:"category"`
	Message   string          `json:"message"`
	Source    string          `json:"source,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// EventMetadata carries the structured details of an event (url, file, byte
// counts, exit code).
type EventMetadata map[string]any

// JSON encodes the metadata, or returns nil when empty or unencodable.
func (m EventMetadata) JSON() json.RawMessage {
	if len(m) == 0 {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	return data
}

// EventEmitter records activity log entries.
type EventEmitter interface {
	EmitInfo(category EventCategory, source, message string, metadata EventMetadata)
	EmitWarning(category EventCategory, source, message string, metadata EventMetadata)
	EmitError(category EventCategory, source, message string, metadata EventMetadata)
	EmitSuccess(category EventCategory, source, message string, metadata EventMetadata)
}

// EventFilter narrows a query. Zero fields match everything.
type EventFilter struct {
	Severity *EventSeverity `json:"severity,omitempty"`
	Category *EventCategory `json:"category,omitempty"`
	Source   string         `json:"source,omitempty"`
}

// Validate rejects unknown severities and categories.
func (f EventFilter) Validate() error {
	if f.Severity != nil && !f.Severity.Valid() {
		return fmt.Errorf("unknown severity %q", *f.Severity)
	}
	if f.Category != nil && !f.Category.Valid() {
		return fmt.Errorf("unknown category %q", *f.Category)
	}
	return nil
}

// Matches reports whether ev passes the filter. Unset slots never match.
func (f EventFilter) Matches(ev Event) bool {
	if ev.ID == "" {
		return false
	}
	if f.Severity != nil && ev.Severity != *f.Severity {
		return false
	}
	if f.Category != nil && ev.Category != *f.Category {
		return false
	}
	return f.Source == "" || ev.Source == f.Source
}

// Event query page bounds.
const (
	DefaultEventLimit = 50
	MaxEventLimit     = 200
)

// EventQuery is a filtered page of the activity log.
type EventQuery struct {
	Filter EventFilter `json:"filter"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

// Normalized returns q with the limit defaulted and clamped and a
// non-negative offset.
func (q EventQuery) Normalized() EventQuery {
	if q.Limit <= 0 {
		q.Limit = DefaultEventLimit
	}
	if q.Limit > MaxEventLimit {
		q.Limit = MaxEventLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// EventQueryResult is one page of events, newest first.
type EventQueryResult struct {
	Events  []Event `json:"events"`
	Total   int     `json:"total"`
	HasMore bool    `json:"has_more"`
}
