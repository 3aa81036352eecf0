package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	// ContentPrefix is where content files live in the bucket.
	ContentPrefix = "content/"
	// ArchivePrefix receives timestamped copies of deleted content files.
	ArchivePrefix = "content-archive/"
	// CanonicalMarkerKey marks the bucket as the runtime source of truth.
	CanonicalMarkerKey = ContentPrefix + ".s3-canonical.json"
)

// ContentMirror replicates content-store writes into the bucket so edits
// survive ephemeral container redeploys. Every method is best-effort from the
// store's point of view; errors are returned for logging only.
type ContentMirror struct {
	client Client
	logger *slog.Logger
	now    func() time.Time
}

func NewContentMirror(client Client, logger *slog.Logger) *ContentMirror {
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentMirror{client: client, logger: logger, now: time.Now}
}

// MirrorFile uploads a content file under the content prefix. Disabled
// storage is a silent no-op.
func (m *ContentMirror) MirrorFile(ctx context.Context, name string, data []byte) error {
	if !m.client.Enabled() {
		return nil
	}
	key := ContentPrefix + path.Clean(filepath.ToSlash(name))
	_, err := m.client.Upload(ctx, key, contentTypeFor(name), "", data)
	return err
}

// ArchiveFile stores a timestamped copy of a file about to be deleted, a
// safety net against accidental deletion.
func (m *ContentMirror) ArchiveFile(ctx context.Context, name string, data []byte) error {
	if !m.client.Enabled() {
		return nil
	}
	base := path.Base(filepath.ToSlash(name))
	ext := path.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	stamp := m.now().Format("20060102_150405")
	key := fmt.Sprintf("%s%s_%s%s", ArchivePrefix, stem, stamp, ext)
	_, err := m.client.Upload(ctx, key, contentTypeFor(name), "", data)
	return err
}

// RemoveFile deletes a file's mirrored copy.
func (m *ContentMirror) RemoveFile(ctx context.Context, name string) error {
	if !m.client.Enabled() {
		return nil
	}
	return m.client.Delete(ctx, ContentPrefix+path.Clean(filepath.ToSlash(name)))
}

type canonicalMarker struct {
	Canonical     string `json:"canonical"`
	ContentPrefix string `json:"content_prefix"`
	Source        string `json:"source"`
	UpdatedAt     string `json:"updated_at"`
}

// HasCanonicalMarker reports whether the bucket has been seeded as the
// runtime source of truth.
func HasCanonicalMarker(ctx context.Context, client Client) bool {
	if !client.Enabled() {
		return false
	}
	_, err := client.Get(ctx, CanonicalMarkerKey)
	return err == nil
}

// WriteCanonicalMarker records that the bucket content is canonical.
func WriteCanonicalMarker(ctx context.Context, client Client, source string) error {
	marker := canonicalMarker{
		Canonical:     "s3",
		ContentPrefix: ContentPrefix,
		Source:        source,
		UpdatedAt:     time.Now().UTC().Format(time.RFC3339),
	}
	data, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		return fmt.Errorf("encode canonical marker: %w", err)
	}
	_, err = client.Upload(ctx, CanonicalMarkerKey, "application/json; charset=utf-8", "", data)
	return err
}

// SyncConfig controls a startup or CLI content sync.
type SyncConfig struct {
	Client Client
	Dir    string
	Logger *slog.Logger
	// RequireMarker skips the sync entirely when the canonical marker is
	// absent, so a fresh bucket never clobbers local content.
	RequireMarker bool
}

// SyncFromRemote downloads every content file from the bucket to the local
// content directory. It is called at startup so a redeployed container picks
// up the latest edits. Returns the number of files written.
func SyncFromRemote(ctx context.Context, cfg SyncConfig) (int, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.Client.Enabled() {
		return 0, nil
	}
	if cfg.RequireMarker && !HasCanonicalMarker(ctx, cfg.Client) {
		logger.Warn("skipping startup content sync: canonical marker missing",
			"marker", CanonicalMarkerKey)
		return 0, nil
	}

	objects, err := cfg.Client.List(ctx, ContentPrefix)
	if err != nil {
		return 0, fmt.Errorf("list content prefix: %w", err)
	}

	synced := 0
	for _, object := range objects {
		if object.Key == CanonicalMarkerKey {
			continue
		}
		relative := strings.TrimPrefix(object.Key, ContentPrefix)
		localPath, ok := safeLocalContentPath(cfg.Dir, relative)
		if !ok {
			logger.Warn("skipping unsafe content key", "key", object.Key)
			continue
		}
		data, err := cfg.Client.Get(ctx, object.Key)
		if err != nil {
			return synced, fmt.Errorf("download %s: %w", object.Key, err)
		}
		if err := os.MkdirAll(filepath.Dir(localPath), 0o755); err != nil {
			return synced, fmt.Errorf("create dir for %s: %w", object.Key, err)
		}
		if err := os.WriteFile(localPath, data, 0o644); err != nil {
			return synced, fmt.Errorf("write %s: %w", localPath, err)
		}
		synced++
	}
	if synced > 0 {
		logger.Info("synced content from object storage", "files", synced, "dir", cfg.Dir)
	}
	return synced, nil
}

// SeedFromLocal uploads every local content file to the bucket and writes the
// canonical marker. When deleteExtra is set, bucket keys with no local
// counterpart are removed. Returns (uploaded, deleted).
func SeedFromLocal(ctx context.Context, cfg SyncConfig, deleteExtra bool) (int, int, error) {
	if !cfg.Client.Enabled() {
		return 0, 0, errors.New("object storage is not configured")
	}
	files, err := listLocalContentFiles(cfg.Dir)
	if err != nil {
		return 0, 0, err
	}

	uploaded := 0
	localKeys := map[string]struct{}{CanonicalMarkerKey: {}}
	for _, relative := range files {
		data, err := os.ReadFile(filepath.Join(cfg.Dir, filepath.FromSlash(relative)))
		if err != nil {
			return uploaded, 0, fmt.Errorf("read %s: %w", relative, err)
		}
		key := ContentPrefix + relative
		if _, err := cfg.Client.Upload(ctx, key, contentTypeFor(relative), "", data); err != nil {
			return uploaded, 0, fmt.Errorf("upload %s: %w", key, err)
		}
		localKeys[key] = struct{}{}
		uploaded++
	}

	if err := WriteCanonicalMarker(ctx, cfg.Client, "seed"); err != nil {
		return uploaded, 0, err
	}

	deleted := 0
	if deleteExtra {
		objects, err := cfg.Client.List(ctx, ContentPrefix)
		if err != nil {
			return uploaded, deleted, fmt.Errorf("list content prefix: %w", err)
		}
		for _, object := range objects {
			if strings.HasSuffix(object.Key, "/") {
				continue
			}
			if _, ok := localKeys[object.Key]; ok {
				continue
			}
			if err := cfg.Client.Delete(ctx, object.Key); err != nil {
				return uploaded, deleted, fmt.Errorf("delete %s: %w", object.Key, err)
			}
			deleted++
		}
	}
	return uploaded, deleted, nil
}

// SyncStatus summarizes local and remote content state for the CLI.
type SyncStatus struct {
	LocalFiles  int
	RemoteFiles int
	HasMarker   bool
}

// Status compares the local content directory with the bucket.
func Status(ctx context.Context, cfg SyncConfig) (SyncStatus, error) {
	files, err := listLocalContentFiles(cfg.Dir)
	if err != nil {
		return SyncStatus{}, err
	}
	status := SyncStatus{LocalFiles: len(files)}
	if !cfg.Client.Enabled() {
		return status, nil
	}
	objects, err := cfg.Client.List(ctx, ContentPrefix)
	if err != nil {
		return status, fmt.Errorf("list content prefix: %w", err)
	}
	for _, object := range objects {
		if object.Key != CanonicalMarkerKey && !strings.HasSuffix(object.Key, "/") {
			status.RemoteFiles++
		}
	}
	status.HasMarker = HasCanonicalMarker(ctx, cfg.Client)
	return status, nil
}

// safeLocalContentPath maps a bucket key suffix onto a path inside dir,
// rejecting traversal and absolute components.
func safeLocalContentPath(dir, relative string) (string, bool) {
	if relative == "" || strings.HasSuffix(relative, "/") {
		return "", false
	}
	if path.IsAbs(relative) {
		return "", false
	}
	for _, part := range strings.Split(relative, "/") {
		if part == "" || part == "." || part == ".." {
			return "", false
		}
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return "", false
	}
	local := filepath.Join(root, filepath.FromSlash(relative))
	if local != root && !strings.HasPrefix(local, root+string(filepath.Separator)) {
		return "", false
	}
	return local, true
}

// listLocalContentFiles returns slash-separated paths of syncable files under
// dir, skipping dotfiles.
func listLocalContentFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == dir {
				return filepath.SkipAll
			}
			return err
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") && p != dir {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		relative, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(relative))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk content dir: %w", err)
	}
	sort.Strings(files)
	return files, nil
}

func contentTypeFor(name string) string {
	switch strings.ToLower(path.Ext(filepath.ToSlash(name))) {
	case ".md":
		return "text/markdown; charset=utf-8"
	case ".json":
		return "application/json; charset=utf-8"
	default:
		return "application/octet-stream"
	}
}
