package handler

import (
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/iconidentify/mediagrab/internal/repository"
	"github.com/iconidentify/mediagrab/internal/service"
	"github.com/iconidentify/mediagrab/internal/worker"
)

var startTime = time.Now()

// BinaryChecker reports whether the extractor binary is still installed.
type BinaryChecker interface {
	BinaryPresent() bool
}

// PoolStatter exposes extractor pool counters.
type PoolStatter interface {
	Stats() worker.Stats
}

// EventStatter exposes event log counters.
type EventStatter interface {
	Stats() service.EventStats
}

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	binary      BinaryChecker
	pool        PoolStatter
	events      EventStatter
	storagePath string
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(binary BinaryChecker, pool PoolStatter, events EventStatter, storagePath string) *HealthHandler {
	return &HealthHandler{
		binary:      binary,
		pool:        pool,
		events:      events,
		storagePath: storagePath,
	}
}

// HealthResponse is the JSON response for health checks.
type HealthResponse struct {
	Status    string       `json:"status"`
	Timestamp string       `json:"timestamp"`
	Reason    string       `json:"reason,omitempty"`
	Pool      *worker.Stats `json:"pool,omitempty"`
}

// Live handles GET /health (liveness).
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready handles GET /ready (readiness).
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339)

	if h.binary != nil && !h.binary.BinaryPresent() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: now,
			Reason:    "extractor binary missing",
		})
		return
	}
	if info, err := os.Stat(h.storagePath); err != nil || !info.IsDir() {
		writeJSON(w, http.StatusServiceUnavailable, HealthResponse{
			Status:    "error",
			Timestamp: now,
			Reason:    "storage directory unavailable",
		})
		return
	}

	resp := HealthResponse{Status: "ok", Timestamp: now}
	if h.pool != nil {
		stats := h.pool.Stats()
		resp.Pool = &stats
	}
	writeJSON(w, http.StatusOK, resp)
}

// cpuSample is one CPU reading; zero where the platform has no rusage.
type cpuSample struct {
	ServerPercent    float64
	ExtractorSeconds float64
}

// SystemStats contains system resource statistics.
type SystemStats struct {
	Uptime         int64   `json:"uptime_seconds"`
	UptimeHuman    string  `json:"uptime_human"`
	MemAllocMB     int64   `json:"mem_alloc_mb"`
	MemSysMB       int64   `json:"mem_sys_mb"`
	MemHeapMB      int64   `json:"mem_heap_mb"`
	NumGoroutines  int     `json:"num_goroutines"`
	NumCPU         int     `json:"num_cpu"`
	CPUPercent     float64 `json:"cpu_percent"`
	ExtractorCPU   float64 `json:"extractor_cpu_seconds"`
	DiskUsedBytes  int64   `json:"disk_used_bytes"`
	DiskFreeBytes  int64   `json:"disk_free_bytes"`
	DiskTotalBytes int64   `json:"disk_total_bytes"`
	DiskUsedPct    float64 `json:"disk_used_pct"`
	DiskFreeHuman  string  `json:"disk_free_human"`
	StoragePath    string  `json:"storage_path"`

	Downloads      int    `json:"downloads"`
	DownloadsBytes int64  `json:"downloads_bytes"`
	DownloadsHuman string `json:"downloads_human"`

	Pool   *worker.Stats       `json:"pool,omitempty"`
	Events *service.EventStats `json:"events,omitempty"`
}

// Stats handles GET /api/stats - system statistics.
func (h *HealthHandler) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	uptime := time.Since(startTime)

	stats := SystemStats{
		Uptime:        int64(uptime.Seconds()),
		UptimeHuman:   formatUptime(uptime),
		MemAllocMB:    int64(m.Alloc / 1024 / 1024),
		MemSysMB:      int64(m.Sys / 1024 / 1024),
		MemHeapMB:     int64(m.HeapAlloc / 1024 / 1024),
		NumGoroutines: runtime.NumGoroutine(),
		NumCPU:        runtime.NumCPU(),
		StoragePath:   h.storagePath,
	}
	cpu := sampleCPU()
	stats.CPUPercent, stats.ExtractorCPU = cpu.ServerPercent, cpu.ExtractorSeconds

	if disk, err := repository.DiskUsage(h.storagePath); err == nil {
		stats.DiskTotalBytes, stats.DiskFreeBytes, stats.DiskUsedBytes = disk.Total, disk.Free, disk.Used
		stats.DiskUsedPct = disk.UsedPercent()
	}
	stats.DiskFreeHuman = humanize.Bytes(uint64(stats.DiskFreeBytes))

	stats.Downloads, stats.DownloadsBytes = getDownloadStats(h.storagePath)
	stats.DownloadsHuman = humanize.Bytes(uint64(stats.DownloadsBytes))

	if h.pool != nil {
		ps := h.pool.Stats()
		stats.Pool = &ps
	}
	if h.events != nil {
		es := h.events.Stats()
		stats.Events = &es
	}

	writeJSON(w, http.StatusOK, stats)
}

// getDownloadStats counts stored downloads and their total size.
func getDownloadStats(dir string) (count int, bytes int64) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0
	}
	for _, e := range entries {
		if !e.Type().IsRegular() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		count++
		bytes += info.Size()
	}
	return count, bytes
}

func formatUptime(d time.Duration) string {
	days := int(d.Hours() / 24)
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, mins)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
