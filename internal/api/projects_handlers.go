package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/billybjork/billybjork.com/internal/content"
	"github.com/billybjork/billybjork.com/internal/media"
	"github.com/billybjork/billybjork.com/internal/models"
)

type videoPayload struct {
	HLSURL         string  `json:"hls_url,omitempty"`
	ThumbnailURL   string  `json:"thumbnail_url,omitempty"`
	SpriteSheetURL string  `json:"sprite_sheet_url,omitempty"`
	SpriteFrames   int     `json:"sprite_frames,omitempty"`
	SpriteColumns  int     `json:"sprite_columns,omitempty"`
	SpriteRows     int     `json:"sprite_rows,omitempty"`
	FrameWidth     int     `json:"frame_width,omitempty"`
	FrameHeight    int     `json:"frame_height,omitempty"`
	SpriteFPS      float64 `json:"sprite_fps,omitempty"`
	VideoWidth     int     `json:"video_width,omitempty"`
	VideoHeight    int     `json:"video_height,omitempty"`
}

func (v videoPayload) applyTo(p *models.Project) {
	p.HLSURL = v.HLSURL
	p.ThumbnailURL = v.ThumbnailURL
	p.SpriteSheetURL = v.SpriteSheetURL
	p.SpriteFrames = v.SpriteFrames
	p.SpriteColumns = v.SpriteColumns
	p.SpriteRows = v.SpriteRows
	p.FrameWidth = v.FrameWidth
	p.FrameHeight = v.FrameHeight
	p.SpriteFPS = v.SpriteFPS
	p.VideoWidth = v.VideoWidth
	p.VideoHeight = v.VideoHeight
}

type createProjectRequest struct {
	Name     string `json:"name"`
	Slug     string `json:"slug,omitempty"`
	Markdown string `json:"markdown_content,omitempty"`
	Date     string `json:"date,omitempty"`
	Draft    bool   `json:"draft,omitempty"`
}

type saveProjectRequest struct {
	Name         *string       `json:"name,omitempty"`
	Markdown     *string       `json:"markdown_content,omitempty"`
	BaseRevision string        `json:"base_revision,omitempty"`
	Force        bool          `json:"force,omitempty"`
	NewSlug      string        `json:"new_slug,omitempty"`
	Date         *string       `json:"date,omitempty"`
	Pinned       *bool         `json:"pinned,omitempty"`
	Draft        *bool         `json:"draft,omitempty"`
	YouTube      *string       `json:"youtube,omitempty"`
	Video        *videoPayload `json:"video,omitempty"`
}

// Projects handles the project collection: list and create.
func (h *Handler) Projects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		includeDrafts, _ := strconv.ParseBool(r.URL.Query().Get("include_drafts"))
		projects, err := h.Store.LoadAllProjects(includeDrafts)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, projects)
	case http.MethodPost:
		h.createProject(w, r)
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) createProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("name is required"))
		return
	}
	slug := strings.TrimSpace(req.Slug)
	if slug == "" {
		slug = content.Slugify(name)
	}
	if !content.ValidSlug(slug) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("cannot derive a valid slug from %q", name))
		return
	}
	if _, err := h.Store.CurrentRevision(slug); err == nil {
		writeError(w, http.StatusConflict, fmt.Errorf("project %q already exists", slug))
		return
	} else if !errors.Is(err, content.ErrNotFound) {
		writeDomainError(w, err)
		return
	}

	fm := content.Frontmatter{Name: name, Slug: slug, Date: req.Date, Draft: req.Draft}
	if _, err := h.Store.SaveProject(r.Context(), slug, content.SaveParams{
		Frontmatter: fm,
		Markdown:    req.Markdown,
		Force:       true,
	}); err != nil {
		writeDomainError(w, err)
		return
	}
	project, err := h.Store.LoadProject(slug)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, project)
}

// ProjectBySlug handles a single project: read, save and delete.
func (h *Handler) ProjectBySlug(w http.ResponseWriter, r *http.Request) {
	slug := strings.TrimPrefix(r.URL.Path, "/api/projects/")
	if slug == "" || strings.Contains(slug, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("project not found"))
		return
	}
	switch r.Method {
	case http.MethodGet:
		project, err := h.Store.LoadProject(slug)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, project)
	case http.MethodPut:
		h.saveProject(w, r, slug)
	case http.MethodDelete:
		var candidates []string
		if h.Registry != nil {
			if project, err := h.Store.LoadProject(slug); err == nil {
				candidates = h.Registry.ExtractKeys(project.Markdown)
			}
		}
		if err := h.Store.DeleteProject(r.Context(), slug); err != nil {
			writeDomainError(w, err)
			return
		}
		if h.Registry != nil && len(candidates) > 0 {
			if removed, err := h.Registry.CleanupOrphans(r.Context(), candidates); err != nil {
				h.Logger.Warn("orphaned asset cleanup failed", "slug", slug, "error", err)
			} else if len(removed) > 0 {
				h.Logger.Info("removed orphaned assets", "slug", slug, "assets", len(removed))
			}
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		WriteMethodNotAllowed(w, r, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (h *Handler) saveProject(w http.ResponseWriter, r *http.Request, slug string) {
	var req saveProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	project, err := h.Store.LoadProject(slug)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	previousHLS := project.HLSURL

	if req.Name != nil {
		project.Name = strings.TrimSpace(*req.Name)
	}
	if req.Markdown != nil {
		project.Markdown = *req.Markdown
	}
	if req.Date != nil {
		project.Date = *req.Date
	}
	if req.Pinned != nil {
		project.Pinned = *req.Pinned
	}
	if req.Draft != nil {
		project.Draft = *req.Draft
	}
	if req.YouTube != nil {
		project.YouTube = *req.YouTube
	}
	if req.Video != nil {
		req.Video.applyTo(&project)
	}

	targetSlug := slug
	if renamed := strings.TrimSpace(req.NewSlug); renamed != "" && renamed != slug {
		if !content.ValidSlug(renamed) {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid slug %q", renamed))
			return
		}
		if _, err := h.Store.CurrentRevision(renamed); err == nil {
			writeError(w, http.StatusConflict, fmt.Errorf("project %q already exists", renamed))
			return
		} else if !errors.Is(err, content.ErrNotFound) {
			writeDomainError(w, err)
			return
		}
		targetSlug = renamed
	}
	project.Slug = targetSlug

	fm := content.FrontmatterFromProject(project)
	params := content.SaveParams{
		Frontmatter:  fm,
		Markdown:     project.Markdown,
		BaseRevision: req.BaseRevision,
		Force:        req.Force || targetSlug != slug,
	}
	if _, err := h.Store.SaveProject(r.Context(), targetSlug, params); err != nil {
		var conflict *content.ConflictError
		if errors.As(err, &conflict) {
			writeJSON(w, http.StatusConflict, map[string]interface{}{
				"conflict":        true,
				"server_revision": conflict.ServerRevision,
				"server_markdown": conflict.ServerMarkdown,
				"your_markdown":   project.Markdown,
				"message":         "the project changed on the server since you loaded it",
			})
			return
		}
		writeDomainError(w, err)
		return
	}
	if targetSlug != slug {
		if err := h.Store.DeleteProject(r.Context(), slug); err != nil {
			h.Logger.Error("failed to remove renamed project", "slug", slug, "error", err)
		}
	}

	if previousHLS != "" && project.HLSURL != previousHLS && h.Objects != nil && h.Objects.Enabled() {
		if removed, err := media.CleanupOldVersions(r.Context(), h.Objects, targetSlug, project.HLSURL); err != nil {
			h.Logger.Warn("old video cleanup failed", "slug", targetSlug, "error", err)
		} else if len(removed) > 0 {
			h.Logger.Info("removed stale video versions", "slug", targetSlug, "objects", len(removed))
		}
	}

	saved, err := h.Store.LoadProject(targetSlug)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}
