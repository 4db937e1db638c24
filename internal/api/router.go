package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iconidentify/mediagrab/internal/api/handler"
	mw "github.com/iconidentify/mediagrab/internal/api/middleware"
)

// Handlers groups the HTTP handlers mounted by the router.
type Handlers struct {
	Media  *handler.MediaHandler
	Files  *handler.FileHandler
	Health *handler.HealthHandler
	Events *handler.EventHandler
}

// RouterConfig holds router options.
type RouterConfig struct {
	// APIKey guards /api/* when non-empty.
	APIKey      string
	CORSOrigins []string
	// Logger receives request logs; slog.Default() when nil.
	Logger *slog.Logger
}

// Banner is the plain-text body served at the root path.
const Banner = "mediagrab: media metadata and download service\n"

// NewRouter creates the HTTP router with all routes configured.
func NewRouter(h Handlers, cfg RouterConfig) *chi.Mux {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CleanPath) // Normalize paths (e.g., //ready -> /ready)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mw.Logger(cfg.Logger))
	r.Use(mw.Recovery)
	r.Use(mw.CORS(cfg.CORSOrigins))

	// Health endpoints (no auth)
	r.Get("/health", h.Health.Live)
	r.Get("/ready", h.Health.Ready)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(Banner))
	})

	// Read-only mirror of the download directory.
	r.Get("/downloads/{name}", h.Files.Serve)

	r.Route("/api", func(r chi.Router) {
		r.Use(mw.APIKeyAuth(cfg.APIKey))

		// Downloads stream for as long as the extractor runs, so only the
		// short request/response routes get a deadline.
		r.Get("/download", h.Media.Download)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(5 * time.Minute))

			r.Get("/resolve", h.Media.Resolve)
			r.Get("/downloads", h.Files.List)
			r.Get("/events", h.Events.List)
			r.Get("/stats", h.Health.Stats)
		})
	})

	return r
}
