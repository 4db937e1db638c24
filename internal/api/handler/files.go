package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/iconidentify/mediagrab/internal/domain"
	"github.com/iconidentify/mediagrab/internal/repository"
)

// FileHandler exposes the download directory read-only.
type FileHandler struct {
	repo   repository.DownloadRepository
	logger *slog.Logger
}

// NewFileHandler creates a new file handler.
func NewFileHandler(repo repository.DownloadRepository, logger *slog.Logger) *FileHandler {
	return &FileHandler{
		repo:   repo,
		logger: logger,
	}
}

// FileResponse describes one stored download.
type FileResponse struct {
	domain.DownloadFile
	SizeHuman string `json:"size_human"`
	URL       string `json:"url"`
}

// FileListResponse is a page of stored downloads.
type FileListResponse struct {
	Files   []FileResponse `json:"files"`
	Total   int            `json:"total"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
	HasMore bool           `json:"has_more"`
}

// List handles GET /api/downloads
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}
	if o := r.URL.Query().Get("offset"); o != "" {
		if parsed, err := strconv.Atoi(o); err == nil && parsed >= 0 {
			offset = parsed
		}
	}

	files, total, err := h.repo.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("failed to list downloads", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list downloads", "")
		return
	}

	resp := FileListResponse{
		Files:   make([]FileResponse, 0, len(files)),
		Total:   total,
		Limit:   limit,
		Offset:  offset,
		HasMore: offset+len(files) < total,
	}
	for _, f := range files {
		resp.Files = append(resp.Files, FileResponse{
			DownloadFile: f,
			SizeHuman:    humanize.Bytes(uint64(f.Size)),
			URL:          "/downloads/" + f.Name,
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// Serve handles GET /downloads/{name}
func (h *FileHandler) Serve(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	f, err := h.repo.Open(name)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidFileName), errors.Is(err, domain.ErrFileNotFound):
			writeError(w, http.StatusNotFound, "file not found", "")
		default:
			h.logger.Error("failed to open download", "name", name, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to open file", "")
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to open file", "")
		return
	}

	w.Header().Set("X-Content-Type-Options", "nosniff")
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}
