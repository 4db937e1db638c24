package repository

import (
	"context"
	"os"

	"github.com/iconidentify/mediagrab/internal/domain"
)

// DownloadRepository manages files written by streaming downloads.
type DownloadRepository interface {
	// Create opens a new, uniquely named file for writing.
	Create(ext string) (*os.File, string, error)

	// Remove deletes a stored file.
	Remove(name string) error

	// Open opens a stored file for reading.
	Open(name string) (*os.File, error)

	// List returns stored files, newest first.
	List(ctx context.Context, limit, offset int) ([]domain.DownloadFile, int, error)

	// FreeSpace returns free bytes on the storage volume, or -1 if unknown.
	FreeSpace() int64

	// Dir returns the storage directory.
	Dir() string
}
