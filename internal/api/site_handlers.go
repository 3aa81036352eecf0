package api

import (
	"net/http"

	"github.com/billybjork/billybjork.com/internal/models"
)

type saveAboutRequest struct {
	Markdown string `json:"markdown_content"`
}

// About serves and saves the singleton about page.
func (h *Handler) About(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		page, err := h.Store.LoadAbout()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	case http.MethodPut:
		var req saveAboutRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Store.SaveAbout(r.Context(), req.Markdown); err != nil {
			writeDomainError(w, err)
			return
		}
		page, err := h.Store.LoadAbout()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, page)
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}

// Settings serves and saves the singleton site settings.
func (h *Handler) Settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		settings, err := h.Store.LoadSettings()
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var settings models.Settings
		if err := decodeJSON(r, &settings); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := h.Store.SaveSettings(r.Context(), settings); err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPut)
	}
}
