package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
)

// ComputeHash returns the full content hash used by the asset registry.
func ComputeHash(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

type assetEntry struct {
	Hash string `json:"hash"`
	Size int64  `json:"size"`
}

type registryFile struct {
	Version int                   `json:"version"`
	Assets  map[string]assetEntry `json:"assets"`
}

// AssetRegistry is a JSON map from bucket key to content hash, used to
// deduplicate uploaded images: identical bytes resolve to the already-stored
// key instead of a second upload.
type AssetRegistry struct {
	mu        sync.Mutex
	path      string
	cdnDomain string
	client    Client
	logger    *slog.Logger
	urlRegex  *regexp.Regexp
}

// AssetRegistryConfig configures an AssetRegistry.
type AssetRegistryConfig struct {
	// ContentDir is the content root; the registry lives at assets.json
	// inside it and orphan scans read the markdown files beside it.
	ContentDir string
	CDNDomain  string
	Client     Client
	Logger     *slog.Logger
}

func NewAssetRegistry(cfg AssetRegistryConfig) *AssetRegistry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	domain := strings.TrimSpace(cfg.CDNDomain)
	var urlRegex *regexp.Regexp
	if domain != "" {
		urlRegex = regexp.MustCompile(`https?://` + regexp.QuoteMeta(domain) + `/([^\s"'<>\)]+)`)
	}
	return &AssetRegistry{
		path:      filepath.Join(cfg.ContentDir, "assets.json"),
		cdnDomain: domain,
		client:    cfg.Client,
		logger:    logger,
		urlRegex:  urlRegex,
	}
}

func (r *AssetRegistry) load() (registryFile, error) {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return registryFile{Version: 1, Assets: map[string]assetEntry{}}, nil
		}
		return registryFile{}, fmt.Errorf("read asset registry: %w", err)
	}
	var reg registryFile
	if err := json.Unmarshal(raw, &reg); err != nil {
		return registryFile{}, fmt.Errorf("parse asset registry: %w", err)
	}
	if reg.Assets == nil {
		reg.Assets = map[string]assetEntry{}
	}
	if reg.Version == 0 {
		reg.Version = 1
	}
	return reg, nil
}

func (r *AssetRegistry) save(reg registryFile) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode asset registry: %w", err)
	}
	if err := os.WriteFile(r.path, data, 0o644); err != nil {
		return fmt.Errorf("write asset registry: %w", err)
	}
	return nil
}

// FindByHash returns the key of an already-stored asset with the given hash.
func (r *AssetRegistry) FindByHash(contentHash string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.load()
	if err != nil {
		r.logger.Warn("asset registry unreadable", "error", err)
		return "", false
	}
	for key, entry := range reg.Assets {
		if entry.Hash == contentHash {
			return key, true
		}
	}
	return "", false
}

// Register records a stored asset.
func (r *AssetRegistry) Register(key, contentHash string, size int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.load()
	if err != nil {
		return err
	}
	reg.Assets[key] = assetEntry{Hash: contentHash, Size: size}
	return r.save(reg)
}

// Unregister removes an asset entry, reporting whether it existed.
func (r *AssetRegistry) Unregister(key string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, err := r.load()
	if err != nil {
		return false, err
	}
	if _, ok := reg.Assets[key]; !ok {
		return false, nil
	}
	delete(reg.Assets, key)
	return true, r.save(reg)
}

// ExtractKey maps a CDN URL back to its bucket key.
func (r *AssetRegistry) ExtractKey(cdnURL string) (string, bool) {
	if r.urlRegex == nil {
		return "", false
	}
	match := r.urlRegex.FindStringSubmatch(cdnURL)
	if match == nil {
		return "", false
	}
	return match[1], true
}

// ExtractKeys finds every CDN-hosted key referenced in a blob of text.
func (r *AssetRegistry) ExtractKeys(text string) []string {
	if r.urlRegex == nil {
		return nil
	}
	matches := r.urlRegex.FindAllStringSubmatch(text, -1)
	seen := make(map[string]struct{}, len(matches))
	keys := make([]string, 0, len(matches))
	for _, match := range matches {
		if _, dup := seen[match[1]]; dup {
			continue
		}
		seen[match[1]] = struct{}{}
		keys = append(keys, match[1])
	}
	return keys
}

// scanReferences collects every bucket key referenced by project files, the
// about page and the settings document.
func (r *AssetRegistry) scanReferences() (map[string]struct{}, error) {
	referenced := make(map[string]struct{})
	contentDir := filepath.Dir(r.path)

	addFrom := func(path string) error {
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		for _, key := range r.ExtractKeys(string(raw)) {
			referenced[key] = struct{}{}
		}
		return nil
	}

	projectsDir := filepath.Join(contentDir, "projects")
	entries, err := os.ReadDir(projectsDir)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("scan projects: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		if err := addFrom(filepath.Join(projectsDir, entry.Name())); err != nil {
			return nil, err
		}
	}
	if err := addFrom(filepath.Join(contentDir, "about.md")); err != nil {
		return nil, err
	}
	if err := addFrom(filepath.Join(contentDir, "settings.json")); err != nil {
		return nil, err
	}
	return referenced, nil
}

// CleanupOrphans deletes the candidate keys that are no longer referenced by
// any content file, removing them from the bucket and the registry. Returns
// the keys actually deleted.
func (r *AssetRegistry) CleanupOrphans(ctx context.Context, candidates []string) ([]string, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	referenced, err := r.scanReferences()
	if err != nil {
		return nil, err
	}

	var deleted []string
	for _, key := range candidates {
		if _, inUse := referenced[key]; inUse {
			continue
		}
		if r.client != nil && r.client.Enabled() {
			if err := r.client.Delete(ctx, key); err != nil {
				r.logger.Warn("failed to delete orphaned asset", "key", key, "error", err)
				continue
			}
		}
		if _, err := r.Unregister(key); err != nil {
			r.logger.Warn("failed to unregister orphaned asset", "key", key, "error", err)
		}
		deleted = append(deleted, key)
		r.logger.Info("deleted orphaned asset", "key", key)
	}
	return deleted, nil
}

// DeletePrefix removes every object under prefix, paginating so prefixes with
// more than one page of keys are fully cleared. Returns the deleted keys.
func DeletePrefix(ctx context.Context, client Client, prefix string) ([]string, error) {
	if client == nil || !client.Enabled() {
		return nil, nil
	}
	objects, err := client.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list prefix %s: %w", prefix, err)
	}
	var deleted []string
	for _, object := range objects {
		if err := client.Delete(ctx, object.Key); err != nil {
			return deleted, fmt.Errorf("delete %s: %w", object.Key, err)
		}
		deleted = append(deleted, object.Key)
	}
	return deleted, nil
}
