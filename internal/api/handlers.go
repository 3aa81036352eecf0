package api

import (
	"log/slog"
	"net/http"

	"github.com/billybjork/billybjork.com/internal/analytics"
	"github.com/billybjork/billybjork.com/internal/content"
	"github.com/billybjork/billybjork.com/internal/media"
	"github.com/billybjork/billybjork.com/internal/storage"
)

// Handler carries the dependencies the admin API needs. Media, Registry and
// Analytics may be nil; the affected endpoints then answer 503.
type Handler struct {
	Store     *content.Store
	Media     *media.Service
	Registry  *storage.AssetRegistry
	Objects   storage.Client
	Analytics *analytics.Recorder
	Logger    *slog.Logger
}

// Config bundles the handler dependencies.
type Config struct {
	Store     *content.Store
	Media     *media.Service
	Registry  *storage.AssetRegistry
	Objects   storage.Client
	Analytics *analytics.Recorder
	Logger    *slog.Logger
}

func NewHandler(cfg Config) *Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	objects := cfg.Objects
	if objects == nil {
		objects = storage.NewClient(storage.ObjectStorageConfig{})
	}
	return &Handler{
		Store:     cfg.Store,
		Media:     cfg.Media,
		Registry:  cfg.Registry,
		Objects:   objects,
		Analytics: cfg.Analytics,
		Logger:    logger,
	}
}

// Health reports liveness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
