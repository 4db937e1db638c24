package domain

import "time"

// DefaultTitle is used when the extractor reports no title.
const DefaultTitle = "Untitled"

// MediaMetadata is the normalized description of a media URL.
type MediaMetadata struct {
	Title   string         `json:"title"`
	Thumb   *string        `json:"thumb"`
	Options []FormatOption `json:"options"`
}

// FormatOption is one selectable quality/codec variant.
type FormatOption struct {
	FormatID string   `json:"format_id"`
	Label    string   `json:"label"`
	Ext      string   `json:"ext"`
	FPS      *float64 `json:"fps,omitempty"`
	Filesize *int64   `json:"filesize"`
}

// DownloadFile describes a file persisted by a streaming download.
type DownloadFile struct {
	Name     string    `json:"name"`
	Size     int64     `json:"size"`
	MimeType string    `json:"mime_type"`
	ModTime  time.Time `json:"modified_at"`
}

// DownloadOutcome is the terminal state of a streaming download.
type DownloadOutcome string

const (
	DownloadCompleted DownloadOutcome = "completed"
	DownloadAborted   DownloadOutcome = "aborted"
	DownloadRejected  DownloadOutcome = "rejected"
)

// DownloadResult summarizes a finished streaming download.
type DownloadResult struct {
	FileName     string
	Outcome      DownloadOutcome
	BytesRead    int64
	ClientBytes  int64
	DiskBytes    int64
	ExitCode     int
	ClientFailed bool
	DiskFailed   bool
	Duration     time.Duration
	Err          error
}
