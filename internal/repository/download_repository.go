package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/iconidentify/mediagrab/internal/domain"
)

// FilesystemDownloadRepository stores download copies as flat files in one directory.
// There is no index; the directory listing is the source of truth.
type FilesystemDownloadRepository struct {
	dir string
	now func() time.Time
}

// NewFilesystemDownloadRepository creates a repository rooted at dir.
func NewFilesystemDownloadRepository(dir string) *FilesystemDownloadRepository {
	return &FilesystemDownloadRepository{
		dir: dir,
		now: time.Now,
	}
}

// Dir returns the storage directory.
func (r *FilesystemDownloadRepository) Dir() string {
	return r.dir
}

// Create opens a new file named video-<unixmilli>-<uuid>.<ext>. O_EXCL makes a
// name collision an error instead of an overwrite.
func (r *FilesystemDownloadRepository) Create(ext string) (*os.File, string, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	name := fmt.Sprintf("video-%d-%s.%s", r.now().UnixMilli(), uuid.NewString(), ext)

	f, err := os.OpenFile(filepath.Join(r.dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, "", fmt.Errorf("create download file: %w", err)
	}
	return f, name, nil
}

// Remove deletes a stored file.
func (r *FilesystemDownloadRepository) Remove(name string) error {
	path, err := r.path(name)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.ErrFileNotFound
		}
		return fmt.Errorf("remove download file: %w", err)
	}
	return nil
}

// Open opens a stored file for reading.
func (r *FilesystemDownloadRepository) Open(name string) (*os.File, error) {
	path, err := r.path(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, domain.ErrFileNotFound
		}
		return nil, fmt.Errorf("open download file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat download file: %w", err)
	}
	if !info.Mode().IsRegular() {
		f.Close()
		return nil, domain.ErrFileNotFound
	}
	return f, nil
}

// List returns stored files sorted newest first, with the total count.
func (r *FilesystemDownloadRepository) List(ctx context.Context, limit, offset int) ([]domain.DownloadFile, int, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("read storage directory: %w", err)
	}

	files := make([]domain.DownloadFile, 0, len(entries))
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Removed between ReadDir and Info.
			continue
		}
		files = append(files, domain.DownloadFile{
			Name:    e.Name(),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		return files[i].ModTime.After(files[j].ModTime)
	})

	total := len(files)
	if offset >= total {
		return []domain.DownloadFile{}, total, nil
	}
	files = files[offset:]
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	// Sniff only the page being returned.
	for i := range files {
		files[i].MimeType = detectMime(filepath.Join(r.dir, files[i].Name))
	}

	return files, total, nil
}

// FreeSpace returns free bytes on the storage volume, or -1 if unknown.
func (r *FilesystemDownloadRepository) FreeSpace() int64 {
	return getFreeDiskSpace(r.dir)
}

func (r *FilesystemDownloadRepository) path(name string) (string, error) {
	if name == "" || name == "." || name == ".." ||
		name != filepath.Base(name) || strings.ContainsAny(name, `/\`) ||
		strings.HasPrefix(name, ".") {
		return "", domain.ErrInvalidFileName
	}
	return filepath.Join(r.dir, name), nil
}

func detectMime(path string) string {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return mt.String()
}
