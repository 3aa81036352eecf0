package media

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/billybjork/billybjork.com/internal/storage"
)

// Remote layout. Every HLS run uploads under a fresh version prefix so a
// re-encode never clobbers segments a player is still fetching; stale
// versions are swept once the project points at the new master playlist.
const (
	videosPrefix       = "videos/"
	contentVideoPrefix = "videos_mp4/"
	spriteSheetPrefix  = "images/sprite-sheets/"
	thumbnailPrefix    = "images/thumbnails/"
)

// NewVersion stamps an encode run.
func NewVersion(now time.Time) string {
	return strconv.FormatInt(now.Unix(), 10)
}

// VideoPrefix is the bucket prefix holding every version of a video.
func VideoPrefix(slug string) string {
	return videosPrefix + slug + "/"
}

// HLSPrefix is where one encode run's playlists and segments live.
func HLSPrefix(slug, version string) string {
	return VideoPrefix(slug) + version + "/"
}

// MasterPlaylistKey is the entry point players load.
func MasterPlaylistKey(slug, version string) string {
	return HLSPrefix(slug, version) + "master.m3u8"
}

func SpriteSheetKey(slug, version string) string {
	return fmt.Sprintf("%s%s_sprite_sheet_%s.jpg", spriteSheetPrefix, slug, version)
}

func ThumbnailKey(slug, version string) string {
	return fmt.Sprintf("%s%s_%s.webp", thumbnailPrefix, slug, version)
}

func ContentVideoKey(filename string) string {
	return contentVideoPrefix + path.Base(filename)
}

// VersionFromHLSURL extracts the version segment from a saved playlist URL
// like https://cdn.example.com/videos/reel/1726000000/master.m3u8. Empty when
// the URL does not follow the versioned layout.
func VersionFromHLSURL(hlsURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(hlsURL))
	if err != nil {
		return ""
	}
	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for idx, part := range parts {
		if part == "videos" && idx+2 < len(parts) {
			return parts[idx+2]
		}
	}
	return ""
}

// CleanupOldVersions deletes every version prefix of a video except the one
// the saved playlist URL references. Returns the deleted keys.
func CleanupOldVersions(ctx context.Context, client storage.Client, slug, currentHLSURL string) ([]string, error) {
	if client == nil || !client.Enabled() {
		return nil, nil
	}
	keep := VersionFromHLSURL(currentHLSURL)
	objects, err := client.List(ctx, VideoPrefix(slug))
	if err != nil {
		return nil, fmt.Errorf("list versions for %s: %w", slug, err)
	}

	stale := make(map[string]struct{})
	for _, object := range objects {
		rest := strings.TrimPrefix(object.Key, VideoPrefix(slug))
		version, _, found := strings.Cut(rest, "/")
		if !found || version == "" || version == keep {
			continue
		}
		stale[version] = struct{}{}
	}

	var deleted []string
	for version := range stale {
		keys, err := storage.DeletePrefix(ctx, client, HLSPrefix(slug, version))
		deleted = append(deleted, keys...)
		if err != nil {
			return deleted, err
		}
	}
	return deleted, nil
}
