package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Preview frames are tiny on purpose; they only feed the editor's timeline
// strip, never playback.
const (
	previewFrameWidth  = 96
	previewFrameHeight = 54
	// InitialFrameCount frames are extracted synchronously so the upload
	// response can show a timeline immediately.
	InitialFrameCount = 6
	// TotalFrameCount is the full strip, finished in the background.
	TotalFrameCount = 20
)

// extractFrames samples count frames evenly across the source in a single
// ffmpeg pass and returns them as base64 JPEG data URIs.
func extractFrames(ctx context.Context, runner Runner, ffmpeg, source string, duration float64, count int) ([]string, error) {
	if count <= 0 {
		return nil, nil
	}
	dir, err := os.MkdirTemp("", "frames-*")
	if err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(dir)
	}()

	fps := 1.0
	if duration > 0 {
		fps = float64(count) / duration
	}
	args := []string{
		"-y",
		"-i", source,
		"-vf", fmt.Sprintf("fps=%f,scale=%d:%d", fps, previewFrameWidth, previewFrameHeight),
		"-frames:v", fmt.Sprintf("%d", count),
		"-q:v", "5",
		filepath.Join(dir, "frame_%03d.jpg"),
	}
	if err := runner.Run(ctx, ffmpeg, args, nil); err != nil {
		return nil, fmt.Errorf("extract frames: %w", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".jpg") {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	frames := make([]string, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return nil, fmt.Errorf("read frame %s: %w", name, err)
		}
		frames = append(frames, "data:image/jpeg;base64,"+base64.StdEncoding.EncodeToString(data))
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("extract frames: ffmpeg produced no output")
	}
	return frames, nil
}

// Poster thumbnails are webp capped at 1280x720.
const (
	posterMaxWidth  = 1280
	posterMaxHeight = 720
	posterQuality   = "80"
)

// generatePoster writes a single webp poster frame taken at the timestamp.
func generatePoster(ctx context.Context, runner Runner, ffmpeg, source string, timestamp float64, outPath string) error {
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%f", timestamp),
		"-i", source,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d:force_original_aspect_ratio=decrease", posterMaxWidth, posterMaxHeight),
		"-c:v", "libwebp",
		"-quality", posterQuality,
		outPath,
	}
	if err := runner.Run(ctx, ffmpeg, args, nil); err != nil {
		return fmt.Errorf("generate poster: %w", err)
	}
	return nil
}
