package api

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/billybjork/billybjork.com/internal/analytics"
)

type recordViewRequest struct {
	Slug     string `json:"slug"`
	Path     string `json:"path,omitempty"`
	Referrer string `json:"referrer,omitempty"`
}

// Views records a page view.
func (h *Handler) Views(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.Analytics == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("analytics is not configured"))
		return
	}
	var req recordViewRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.TrimSpace(req.Slug) == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("slug is required"))
		return
	}
	event := analytics.ViewEvent{
		Slug:      strings.TrimSpace(req.Slug),
		Path:      req.Path,
		Referrer:  req.Referrer,
		UserAgent: r.UserAgent(),
	}
	if err := h.Analytics.Record(r.Context(), event); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// ViewsBySlug reads the recorded count for one slug.
func (h *Handler) ViewsBySlug(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if h.Analytics == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("analytics is not configured"))
		return
	}
	slug := strings.TrimPrefix(r.URL.Path, "/api/views/")
	if slug == "" || strings.Contains(slug, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("unknown slug"))
		return
	}
	count, err := h.Analytics.ViewCount(r.Context(), slug)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"slug": slug, "views": count})
}
