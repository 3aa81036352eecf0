package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/billybjork/billybjork.com/internal/media"
)

// maxVideoUploadBytes bounds a single source-video upload.
const maxVideoUploadBytes = 4 << 30

func (h *Handler) requireMedia(w http.ResponseWriter) bool {
	if h.Media == nil {
		writeError(w, http.StatusServiceUnavailable, fmt.Errorf("video processing is not configured"))
		return false
	}
	return true
}

// VideoThumbnails accepts a hero-video source (multipart upload or an
// existing CDN URL), extracts the initial preview frames synchronously and,
// when a project slug accompanies the upload, starts the HLS encode in the
// same request.
func (h *Handler) VideoThumbnails(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireMedia(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}

	var (
		source      string
		remote      bool
		projectSlug string
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
		switch part.FormName() {
		case "file":
			if source != "" {
				_ = part.Close()
				continue
			}
			saved, saveErr := h.Media.SaveUpload(part, part.FileName())
			_ = part.Close()
			if saveErr != nil {
				writeError(w, http.StatusBadRequest, saveErr)
				return
			}
			source = saved
		case "existing":
			payload, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
				return
			}
			if url := strings.TrimSpace(string(payload)); url != "" && source == "" {
				source = url
				remote = true
			}
		case "project_slug":
			payload, readErr := io.ReadAll(part)
			_ = part.Close()
			if readErr != nil {
				writeError(w, http.StatusBadRequest, fmt.Errorf("read form field: %w", readErr))
				return
			}
			projectSlug = strings.TrimSpace(string(payload))
		default:
			_ = part.Close()
		}
	}
	if source == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("either a file or an existing video url is required"))
		return
	}

	temp, err := h.Media.StartFrameExtraction(r.Context(), source, remote)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	response := map[string]interface{}{
		"temp_id": temp.ID,
		"frames":  temp.Frames,
		"width":   temp.Width,
		"height":  temp.Height,
	}
	if projectSlug != "" {
		session, err := h.Media.StartHLS(temp.ID, projectSlug)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		response["hls_session_id"] = session.ID
	}
	writeJSON(w, http.StatusOK, response)
}

// VideoThumbnailsMore returns the frames extracted after the initial batch.
func (h *Handler) VideoThumbnailsMore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !h.requireMedia(w) {
		return
	}
	tempID := strings.TrimPrefix(r.URL.Path, "/api/video-thumbnails/more/")
	if tempID == "" || strings.Contains(tempID, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("temp video not found"))
		return
	}
	temp, ok := h.Media.TempVideos().Get(tempID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("temp video not found"))
		return
	}
	if temp.Error != "" {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("frame extraction failed: %s", temp.Error))
		return
	}
	remaining := temp.Frames
	if len(remaining) > media.InitialFrameCount {
		remaining = remaining[media.InitialFrameCount:]
	} else {
		remaining = nil
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"frames":          remaining,
		"frames_complete": temp.FramesComplete,
	})
}

// HLSProgress reports the live status of a transcode session.
func (h *Handler) HLSProgress(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w, r, http.MethodGet)
		return
	}
	if !h.requireMedia(w) {
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/hls-progress/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	session, ok := h.Media.Sessions().Get(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Errorf("session not found"))
		return
	}
	response := map[string]interface{}{
		"status":   session.Status,
		"stage":    session.Stage,
		"progress": session.Progress,
	}
	if session.HLSURL != "" {
		response["hls_url"] = session.HLSURL
	}
	if session.Error != "" {
		response["error"] = session.Error
	}
	writeJSON(w, http.StatusOK, response)
}

type generateSpriteRequest struct {
	TempID    string  `json:"temp_id"`
	Slug      string  `json:"project_slug"`
	Start     float64 `json:"start_time"`
	End       float64 `json:"end_time"`
	FPS       float64 `json:"fps,omitempty"`
	SessionID string  `json:"hls_session_id,omitempty"`
}

// GenerateSpriteSheet renders the scrubber sprite sheet and poster for the
// selected window and finalizes the pending upload.
func (h *Handler) GenerateSpriteSheet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireMedia(w) {
		return
	}
	var req generateSpriteRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	result, err := h.Media.GenerateSpriteAndThumbnail(r.Context(), media.SpriteParams{
		TempID:    req.TempID,
		Slug:      req.Slug,
		Start:     req.Start,
		End:       req.End,
		FPS:       req.FPS,
		SessionID: req.SessionID,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sprite_sheet_url": result.SpriteSheetURL,
		"thumbnail_url":    result.ThumbnailURL,
		"hls_url":          result.HLSURL,
		"sprite_meta":      result.Meta,
		"video_width":      result.VideoWidth,
		"video_height":     result.VideoHeight,
	})
}

// ProcessContentVideo compresses an inline content video and uploads it.
func (h *Handler) ProcessContentVideo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireMedia(w) {
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxVideoUploadBytes)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid multipart payload"))
		return
	}
	var source, filename string
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("read multipart data: %w", err))
			return
		}
		if part.FormName() != "file" || source != "" {
			_ = part.Close()
			continue
		}
		saved, saveErr := h.Media.SaveUpload(part, part.FileName())
		filename = part.FileName()
		_ = part.Close()
		if saveErr != nil {
			writeError(w, http.StatusBadRequest, saveErr)
			return
		}
		source = saved
	}
	if source == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("file field is required"))
		return
	}
	url, err := h.Media.ProcessContentVideo(r.Context(), source, filename)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": url})
}

type contentVideoPosterRequest struct {
	VideoURL  string  `json:"video_url"`
	Timestamp float64 `json:"timestamp"`
}

// ContentVideoPoster extracts a poster frame from an already-uploaded
// content video.
func (h *Handler) ContentVideoPoster(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w, r, http.MethodPost)
		return
	}
	if !h.requireMedia(w) {
		return
	}
	var req contentVideoPosterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	url, err := h.Media.PosterFromVideoURL(r.Context(), req.VideoURL, req.Timestamp)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"poster_url": url})
}
