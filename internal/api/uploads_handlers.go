package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/billybjork/billybjork.com/internal/storage"
)

// maxUploadBytes bounds a single multipart image upload.
const maxUploadBytes = 50 << 20

// UploadMedia ingests an image over multipart form data, deduplicates it
// against the asset registry and stores it under a kind-specific prefix.
func (h *Handler) UploadMedia(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if h.Registry == nil || !h.Objects.Enabled() {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("object storage is not configured"))
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	var (
		data     []byte
		filename string
		kind     string
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		name := part.FormName()
		switch name {
		case "file":
			if data != nil {
				_ = part.Close()
				continue
			}
			payload, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("read upload: %w", readErr))
				return
			}
			data = payload
			filename = part.FileName()
		case "kind":
			payload, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
				return
			}
			kind = strings.TrimSpace(string(payload))
		default:
			_ = part.Close()
		}
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}

	hash := storage.ComputeHash(data)
	if existing, ok := h.Registry.FindByHash(hash); ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"url":          h.Objects.PublicURL(existing),
			"key":          existing,
			"deduplicated": true,
		})
		return
	}

	key := uploadKey(kind, hash, filename)
	ref, err := h.Objects.Upload(r.Context(), key, uploadContentType(filename), "public, max-age=31536000, immutable", data)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("upload image: %w", err))
		return
	}
	if err := h.Registry.Register(key, hash, int64(len(data))); err != nil {
		h.Logger.Warn("failed to register uploaded asset", "key", key, "error", err)
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"url":          ref.URL,
		"key":          key,
		"deduplicated": false,
	})
}

// uploadKey builds a content-addressed key so identical uploads with
// different names still collide in the registry, not in the bucket.
func uploadKey(kind, hash, filename string) string {
	prefix := "images/misc/"
	if kind == "project-content" {
		prefix = "images/project-content/"
	}
	fragment := strings.TrimPrefix(hash, "sha256:")
	if len(fragment) > 12 {
		fragment = fragment[:12]
	}
	base := sanitizeFilename(filename)
	if base == "" {
		base = "upload"
	}
	return prefix + fragment + "_" + base
}

func sanitizeFilename(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteByte('-')
		}
	}
	return strings.Trim(b.String(), ".-_")
}

func uploadContentType(filename string) string {
	if ct := mime.TypeByExtension(path.Ext(filename)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
