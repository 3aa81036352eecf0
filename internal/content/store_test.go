package content

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/billybjork/billybjork.com/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return store
}

func mustSave(t *testing.T, store *Store, slug string, fm Frontmatter, markdown string) string {
	t.Helper()
	revision, err := store.SaveProject(context.Background(), slug, SaveParams{
		Frontmatter: fm,
		Markdown:    markdown,
		Force:       true,
	})
	if err != nil {
		t.Fatalf("SaveProject(%s): %v", slug, err)
	}
	return revision
}

func TestSaveAndLoadProjectRoundTrip(t *testing.T) {
	store := newTestStore(t)
	fm := Frontmatter{
		Name:    "Spring Reel",
		Slug:    "spring-reel",
		Date:    "2024-03-01",
		Pinned:  true,
		YouTube: "https://youtu.be/abc",
		Video: &VideoMeta{
			HLS:         "https://cdn.example.com/videos/spring-reel/17000/master.m3u8",
			Frames:      120,
			Columns:     5,
			Rows:        24,
			FrameWidth:  320,
			FrameHeight: 180,
			FPS:         20,
			VideoWidth:  1920,
			VideoHeight: 1080,
		},
	}
	markdown := "# Spring Reel\n\nSome **bold** text."
	revision := mustSave(t, store, "spring-reel", fm, markdown)
	if revision == "" {
		t.Fatalf("expected a revision from save")
	}

	project, err := store.LoadProject("spring-reel")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if project.Markdown != markdown {
		t.Fatalf("markdown round trip failed: %q", project.Markdown)
	}
	if project.Name != "Spring Reel" || project.Date != "2024-03-01" || !project.Pinned {
		t.Fatalf("frontmatter fields did not round trip: %+v", project)
	}
	if project.HLSURL != fm.Video.HLS || project.SpriteColumns != 5 || project.SpriteFPS != 20 {
		t.Fatalf("video fields were not hoisted: %+v", project)
	}
	if project.Revision != revision {
		t.Fatalf("expected revision %s, got %s", revision, project.Revision)
	}
}

func TestRevisionIsPureFunctionOfBytes(t *testing.T) {
	data := []byte("---\nname: X\n---\n\nbody")
	first := Revision(data)
	second := Revision(data)
	if first != second {
		t.Fatalf("revision not stable: %s vs %s", first, second)
	}
	if len(first) != len("sha256:")+16 {
		t.Fatalf("unexpected revision shape: %s", first)
	}
	mutated := append([]byte(nil), data...)
	mutated[len(mutated)-1] ^= 0x01
	if Revision(mutated) == first {
		t.Fatalf("revision unchanged after byte flip")
	}
}

func TestInvalidSlugsRejectedBeforeFilesystem(t *testing.T) {
	store := newTestStore(t)
	invalid := []string{"", "Foo", "-abc", "../etc/passwd", "has space", "café"}
	for _, slug := range invalid {
		if _, err := store.LoadProject(slug); !errors.Is(err, ErrNotFound) {
			t.Fatalf("LoadProject(%q): expected ErrNotFound, got %v", slug, err)
		}
		if _, err := store.SaveProject(context.Background(), slug, SaveParams{Force: true}); !errors.Is(err, ErrInvalidSlug) {
			t.Fatalf("SaveProject(%q): expected ErrInvalidSlug, got %v", slug, err)
		}
		if err := store.DeleteProject(context.Background(), slug); !errors.Is(err, ErrInvalidSlug) {
			t.Fatalf("DeleteProject(%q): expected ErrInvalidSlug, got %v", slug, err)
		}
	}
	if _, err := os.Stat(store.projectsDir()); !os.IsNotExist(err) {
		t.Fatalf("invalid slugs should not have touched the filesystem")
	}
}

func TestLoadProjectMissingReturnsNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.LoadProject("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRenderingIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	mustSave(t, store, "demo", Frontmatter{Name: "Demo"}, "Some *markdown* here.\n\n- one\n- two")

	first, err := store.LoadProject("demo")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	second, err := store.LoadProject("demo")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if first.HTML != second.HTML {
		t.Fatalf("repeated loads rendered different HTML")
	}

	// Touch the mtime without changing bytes. A re-render is permitted but
	// the output must not change.
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(store.projectPath("demo"), future, future); err != nil {
		t.Fatalf("Chtimes: %v", err)
	}
	third, err := store.LoadProject("demo")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if third.HTML != first.HTML {
		t.Fatalf("rendering depended on mtime, not content")
	}
}

func TestLoadAllProjectsSortsPinnedFirstThenNewest(t *testing.T) {
	store := newTestStore(t)
	mustSave(t, store, "a", Frontmatter{Name: "A", Pinned: true, Date: "2024-01-01"}, "a")
	mustSave(t, store, "b", Frontmatter{Name: "B", Date: "2025-01-01"}, "b")
	mustSave(t, store, "c", Frontmatter{Name: "C", Pinned: true, Date: "2023-01-01"}, "c")

	projects, err := store.LoadAllProjects(false)
	if err != nil {
		t.Fatalf("LoadAllProjects: %v", err)
	}
	got := make([]string, 0, len(projects))
	for _, p := range projects {
		got = append(got, p.Slug)
	}
	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestLoadAllProjectsUnparseableDateSortsOldest(t *testing.T) {
	store := newTestStore(t)
	mustSave(t, store, "dated", Frontmatter{Date: "2020-01-01"}, "x")
	mustSave(t, store, "weird", Frontmatter{Date: "sometime in march"}, "y")

	projects, err := store.LoadAllProjects(false)
	if err != nil {
		t.Fatalf("LoadAllProjects: %v", err)
	}
	if len(projects) != 2 || projects[len(projects)-1].Slug != "weird" {
		t.Fatalf("unparseable date should sort last, got %+v", projects)
	}
}

func TestLoadAllProjectsFiltersDrafts(t *testing.T) {
	store := newTestStore(t)
	mustSave(t, store, "live", Frontmatter{}, "x")
	mustSave(t, store, "wip", Frontmatter{Draft: true}, "y")

	visible, err := store.LoadAllProjects(false)
	if err != nil {
		t.Fatalf("LoadAllProjects: %v", err)
	}
	if len(visible) != 1 || visible[0].Slug != "live" {
		t.Fatalf("drafts leaked into public listing: %+v", visible)
	}

	all, err := store.LoadAllProjects(true)
	if err != nil {
		t.Fatalf("LoadAllProjects: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected drafts when requested, got %+v", all)
	}
}

func TestSaveProjectConflictProtocol(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r1, err := store.SaveProject(ctx, "post", SaveParams{Markdown: "v1"})
	if err != nil {
		t.Fatalf("initial save: %v", err)
	}

	r2, err := store.SaveProject(ctx, "post", SaveParams{Markdown: "v2", BaseRevision: r1})
	if err != nil {
		t.Fatalf("save with fresh base revision: %v", err)
	}
	if r2 == r1 {
		t.Fatalf("expected a new revision after content change")
	}

	_, err = store.SaveProject(ctx, "post", SaveParams{Markdown: "v3", BaseRevision: r1})
	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if conflict.ServerRevision != r2 {
		t.Fatalf("conflict should report live revision %s, got %s", r2, conflict.ServerRevision)
	}
	if conflict.ServerMarkdown != "v2" {
		t.Fatalf("conflict should carry live markdown, got %q", conflict.ServerMarkdown)
	}

	if _, err := store.SaveProject(ctx, "post", SaveParams{Markdown: "v3", BaseRevision: r1, Force: true}); err != nil {
		t.Fatalf("forced save should overwrite unconditionally: %v", err)
	}
	project, err := store.LoadProject("post")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if project.Markdown != "v3" {
		t.Fatalf("forced save did not win: %q", project.Markdown)
	}
}

func TestMalformedFrontmatterLoadsAsEmpty(t *testing.T) {
	store := newTestStore(t)
	if err := os.MkdirAll(store.projectsDir(), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	raw := "---\nname: [unterminated\n---\n\nbody text"
	if err := os.WriteFile(store.projectPath("broken"), []byte(raw), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	project, err := store.LoadProject("broken")
	if err != nil {
		t.Fatalf("LoadProject: %v", err)
	}
	if project.Name != "broken" {
		t.Fatalf("expected slug fallback name, got %q", project.Name)
	}
	if project.Markdown != "body text" {
		t.Fatalf("expected body to survive malformed header, got %q", project.Markdown)
	}
}

func TestDeleteProject(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	mustSave(t, store, "gone", Frontmatter{}, "x")

	if err := store.DeleteProject(ctx, "gone"); err != nil {
		t.Fatalf("DeleteProject: %v", err)
	}
	if _, err := store.LoadProject("gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := store.DeleteProject(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double delete should report ErrNotFound, got %v", err)
	}
}

type recordingMirror struct {
	mirrored []string
	archived []string
	removed  []string
	fail     bool
}

func (m *recordingMirror) MirrorFile(_ context.Context, name string, _ []byte) error {
	m.mirrored = append(m.mirrored, name)
	if m.fail {
		return fmt.Errorf("mirror unavailable")
	}
	return nil
}

func (m *recordingMirror) ArchiveFile(_ context.Context, name string, _ []byte) error {
	m.archived = append(m.archived, name)
	if m.fail {
		return fmt.Errorf("mirror unavailable")
	}
	return nil
}

func (m *recordingMirror) RemoveFile(_ context.Context, name string) error {
	m.removed = append(m.removed, name)
	if m.fail {
		return fmt.Errorf("mirror unavailable")
	}
	return nil
}

func TestMirrorIsBestEffort(t *testing.T) {
	mirror := &recordingMirror{fail: true}
	store, err := NewStore(Config{Dir: t.TempDir(), Mirror: mirror})
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	ctx := context.Background()

	if _, err := store.SaveProject(ctx, "post", SaveParams{Markdown: "x", Force: true}); err != nil {
		t.Fatalf("save must succeed despite mirror failure: %v", err)
	}
	if err := store.DeleteProject(ctx, "post"); err != nil {
		t.Fatalf("delete must succeed despite mirror failure: %v", err)
	}

	if len(mirror.mirrored) != 1 || mirror.mirrored[0] != filepath.Join("projects", "post.md") {
		t.Fatalf("unexpected mirror calls: %v", mirror.mirrored)
	}
	if len(mirror.archived) != 1 || len(mirror.removed) != 1 {
		t.Fatalf("delete should archive before removing: archived=%v removed=%v", mirror.archived, mirror.removed)
	}
}

func TestAboutPageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.LoadAbout(); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first save, got %v", err)
	}

	if err := store.SaveAbout(ctx, "I make videos."); err != nil {
		t.Fatalf("SaveAbout: %v", err)
	}
	page, err := store.LoadAbout()
	if err != nil {
		t.Fatalf("LoadAbout: %v", err)
	}
	if page.Markdown != "I make videos." || page.Title != "About" {
		t.Fatalf("about page did not round trip: %+v", page)
	}
	if page.Revision == "" || page.HTML == "" {
		t.Fatalf("about page should carry revision and HTML: %+v", page)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	empty, err := store.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings on empty dir: %v", err)
	}
	if empty != (models.Settings{}) {
		t.Fatalf("expected zero settings, got %+v", empty)
	}

	want := models.Settings{
		SocialLinks: models.SocialLinks{YouTube: "https://youtube.com/@me", GitHub: "https://github.com/me"},
		About:       models.AboutPhoto{URL: "https://cdn.example.com/images/misc/me.jpg"},
	}
	if err := store.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings: %v", err)
	}
	got, err := store.LoadSettings()
	if err != nil {
		t.Fatalf("LoadSettings: %v", err)
	}
	if got != want {
		t.Fatalf("settings round trip failed: %+v", got)
	}
}
