package storage

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClient is an in-memory Client used across the package tests.
type fakeClient struct {
	mu      sync.Mutex
	enabled bool
	objects map[string][]byte
	deleted []string
	baseURL string
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		enabled: true,
		objects: make(map[string][]byte),
		baseURL: "https://cdn.example.com",
	}
}

func (f *fakeClient) Enabled() bool { return f.enabled }

func (f *fakeClient) Upload(_ context.Context, key, _, _ string, body []byte) (ObjectRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = append([]byte(nil), body...)
	return ObjectRef{Key: key, URL: f.baseURL + "/" + key}, nil
}

func (f *fakeClient) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeClient) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	if !ok {
		return nil, ErrObjectNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeClient) List(_ context.Context, prefix string) ([]ObjectInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var infos []ObjectInfo
	for key, data := range f.objects {
		if strings.HasPrefix(key, prefix) {
			infos = append(infos, ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (f *fakeClient) PublicURL(key string) string { return f.baseURL + "/" + key }

func (f *fakeClient) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for key := range f.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func TestContentMirrorMirrorFile(t *testing.T) {
	client := newFakeClient()
	mirror := NewContentMirror(client, nil)

	if err := mirror.MirrorFile(context.Background(), filepath.Join("projects", "reel.md"), []byte("data")); err != nil {
		t.Fatalf("MirrorFile: %v", err)
	}
	if _, err := client.Get(context.Background(), "content/projects/reel.md"); err != nil {
		t.Fatalf("expected mirrored key, have %v", client.keys())
	}
}

func TestContentMirrorArchiveFileUsesTimestampedName(t *testing.T) {
	client := newFakeClient()
	mirror := NewContentMirror(client, nil)
	mirror.now = func() time.Time { return time.Date(2025, 8, 30, 14, 5, 9, 0, time.UTC) }

	if err := mirror.ArchiveFile(context.Background(), "projects/reel.md", []byte("data")); err != nil {
		t.Fatalf("ArchiveFile: %v", err)
	}
	want := "content-archive/reel_20250830_140509.md"
	if _, err := client.Get(context.Background(), want); err != nil {
		t.Fatalf("expected archive key %s, have %v", want, client.keys())
	}
}

func TestContentMirrorDisabledIsNoop(t *testing.T) {
	client := newFakeClient()
	client.enabled = false
	mirror := NewContentMirror(client, nil)

	if err := mirror.MirrorFile(context.Background(), "about.md", []byte("x")); err != nil {
		t.Fatalf("disabled mirror should be a no-op, got %v", err)
	}
	if len(client.keys()) != 0 {
		t.Fatalf("no uploads expected, have %v", client.keys())
	}
}

func TestSyncFromRemoteDownloadsContent(t *testing.T) {
	client := newFakeClient()
	client.objects["content/projects/reel.md"] = []byte("reel body")
	client.objects["content/settings.json"] = []byte("{}")
	client.objects[CanonicalMarkerKey] = []byte("{}")

	dir := t.TempDir()
	synced, err := SyncFromRemote(context.Background(), SyncConfig{Client: client, Dir: dir})
	if err != nil {
		t.Fatalf("SyncFromRemote: %v", err)
	}
	if synced != 2 {
		t.Fatalf("expected 2 files synced, got %d", synced)
	}
	data, err := os.ReadFile(filepath.Join(dir, "projects", "reel.md"))
	if err != nil || string(data) != "reel body" {
		t.Fatalf("synced file wrong: %q %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".s3-canonical.json")); !os.IsNotExist(err) {
		t.Fatalf("marker must not be written locally")
	}
}

func TestSyncFromRemoteRejectsTraversalKeys(t *testing.T) {
	client := newFakeClient()
	client.objects["content/../escape.md"] = []byte("evil")
	client.objects["content//etc/passwd"] = []byte("evil")
	client.objects["content/ok.md"] = []byte("fine")

	dir := t.TempDir()
	synced, err := SyncFromRemote(context.Background(), SyncConfig{Client: client, Dir: dir})
	if err != nil {
		t.Fatalf("SyncFromRemote: %v", err)
	}
	if synced != 1 {
		t.Fatalf("only the safe key should sync, got %d", synced)
	}
	if _, err := os.Stat(filepath.Join(filepath.Dir(dir), "escape.md")); !os.IsNotExist(err) {
		t.Fatalf("traversal key escaped the content dir")
	}
}

func TestSyncFromRemoteRequiresMarkerWhenAsked(t *testing.T) {
	client := newFakeClient()
	client.objects["content/projects/reel.md"] = []byte("x")

	dir := t.TempDir()
	synced, err := SyncFromRemote(context.Background(), SyncConfig{Client: client, Dir: dir, RequireMarker: true})
	if err != nil {
		t.Fatalf("SyncFromRemote: %v", err)
	}
	if synced != 0 {
		t.Fatalf("sync should be skipped without marker, got %d", synced)
	}
}

func TestSeedFromLocal(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "projects"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "projects", "reel.md"), []byte("body"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "settings.json"), []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".hidden"), []byte("skip"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	client := newFakeClient()
	client.objects["content/stale.md"] = []byte("old")

	uploaded, deleted, err := SeedFromLocal(context.Background(), SyncConfig{Client: client, Dir: dir}, true)
	if err != nil {
		t.Fatalf("SeedFromLocal: %v", err)
	}
	if uploaded != 2 {
		t.Fatalf("expected 2 uploads, got %d", uploaded)
	}
	if deleted != 1 {
		t.Fatalf("expected the stale key deleted, got %d", deleted)
	}
	if !HasCanonicalMarker(context.Background(), client) {
		t.Fatalf("seed must write the canonical marker")
	}
}

func TestStatus(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "about.md"), []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	client := newFakeClient()
	client.objects["content/about.md"] = []byte("x")
	client.objects[CanonicalMarkerKey] = []byte("{}")

	status, err := Status(context.Background(), SyncConfig{Client: client, Dir: dir})
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.LocalFiles != 1 || status.RemoteFiles != 1 || !status.HasMarker {
		t.Fatalf("unexpected status: %+v", status)
	}
}
