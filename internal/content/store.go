package content

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/billybjork/billybjork.com/internal/models"
)

// ErrNotFound is returned when a project, or the about page, has no backing
// file. Callers treat it as ordinary control flow.
var ErrNotFound = errors.New("content: not found")

// ErrInvalidSlug is returned by write operations before any filesystem access
// when the slug fails validation.
var ErrInvalidSlug = errors.New("content: invalid slug")

// ConflictError reports an optimistic-concurrency failure on save. It carries
// the live file's revision and markdown so a client can offer a merge UI.
type ConflictError struct {
	ServerRevision string
	ServerMarkdown string
}

func (e *ConflictError) Error() string {
	return "content: revision conflict, server is at " + e.ServerRevision
}

// Revision computes the optimistic-concurrency token for raw file bytes: a
// truncated SHA-256 digest. It depends only on the bytes, never on mtime.
func Revision(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])[:16]
}

// Mirror receives best-effort copies of content writes for durability across
// redeploys. Implementations must tolerate being called concurrently.
type Mirror interface {
	MirrorFile(ctx context.Context, name string, data []byte) error
	ArchiveFile(ctx context.Context, name string, data []byte) error
	RemoveFile(ctx context.Context, name string) error
}

const (
	projectsDirName  = "projects"
	aboutFileName    = "about.md"
	settingsFileName = "settings.json"
)

// Config controls a Store.
type Config struct {
	// Dir is the content root holding projects/, about.md and settings.json.
	Dir             string
	Logger          *slog.Logger
	Mirror          Mirror
	CacheTTL        time.Duration
	CacheMaxEntries int
}

// Store is the single source of truth for project and about-page content.
// Local filesystem state is authoritative; the mirror is a best-effort backup
// whose failures are logged and never surfaced to callers.
type Store struct {
	dir      string
	logger   *slog.Logger
	mirror   Mirror
	renderer *Renderer

	parseCache *fileCache
	htmlCache  *fileCache
	renders    singleflight.Group

	aboutMu    sync.Mutex
	aboutEntry *aboutCacheEntry

	now func() time.Time
}

type parsedEntry struct {
	frontmatter Frontmatter
	markdown    string
	revision    string
}

type aboutCacheEntry struct {
	key      fileKey
	cachedAt time.Time
	page     models.AboutPage
}

// NewStore creates a Store rooted at cfg.Dir. The directory is created lazily
// on first write, matching a fresh container starting from an empty volume.
func NewStore(cfg Config) (*Store, error) {
	dir := strings.TrimSpace(cfg.Dir)
	if dir == "" {
		return nil, fmt.Errorf("content dir is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		dir:        dir,
		logger:     logger,
		mirror:     cfg.Mirror,
		renderer:   NewRenderer(),
		parseCache: newFileCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		htmlCache:  newFileCache(cfg.CacheTTL, cfg.CacheMaxEntries),
		now:        time.Now,
	}, nil
}

// Dir returns the content root directory.
func (s *Store) Dir() string { return s.dir }

func (s *Store) projectsDir() string {
	return filepath.Join(s.dir, projectsDirName)
}

func (s *Store) projectPath(slug string) string {
	return filepath.Join(s.projectsDir(), slug+".md")
}

func (s *Store) aboutPath() string {
	return filepath.Join(s.dir, aboutFileName)
}

func (s *Store) settingsPath() string {
	return filepath.Join(s.dir, settingsFileName)
}

// LoadProject loads a single project by slug. Invalid slugs and absent files
// both return ErrNotFound; read paths never distinguish the two.
func (s *Store) LoadProject(slug string) (models.Project, error) {
	if !ValidSlug(slug) {
		return models.Project{}, ErrNotFound
	}
	path := s.projectPath(slug)
	info, err := os.Stat(path)
	if err != nil {
		s.invalidate(slug)
		if os.IsNotExist(err) {
			return models.Project{}, ErrNotFound
		}
		return models.Project{}, fmt.Errorf("stat project %s: %w", slug, err)
	}
	key := fileKey{MtimeNanos: info.ModTime().UnixNano(), Size: info.Size()}

	parsed, err := s.parsedProject(slug, path, key)
	if err != nil {
		return models.Project{}, err
	}

	html, err := s.renderedHTML(slug, key, parsed.markdown)
	if err != nil {
		return models.Project{}, err
	}

	project := models.Project{
		Slug:     slug,
		Markdown: parsed.markdown,
		HTML:     html,
		Revision: parsed.revision,
	}
	parsed.frontmatter.applyTo(&project)
	if project.Name == "" {
		project.Name = slug
	}
	return project, nil
}

func (s *Store) parsedProject(slug, path string, key fileKey) (parsedEntry, error) {
	if cached, ok := s.parseCache.Get(slug, key); ok {
		return cached.(parsedEntry), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return parsedEntry{}, ErrNotFound
		}
		return parsedEntry{}, fmt.Errorf("read project %s: %w", slug, err)
	}
	fm, markdown := splitDocument(raw)
	entry := parsedEntry{frontmatter: fm, markdown: markdown, revision: Revision(raw)}
	s.parseCache.Put(slug, key, entry)
	return entry, nil
}

func (s *Store) renderedHTML(slug string, key fileKey, markdown string) (string, error) {
	if cached, ok := s.htmlCache.Get(slug, key); ok {
		return cached.(string), nil
	}
	// Rendering is the expensive step. Collapse concurrent renders of the
	// same file state into one.
	flightKey := fmt.Sprintf("%s@%d:%d", slug, key.MtimeNanos, key.Size)
	html, err, _ := s.renders.Do(flightKey, func() (any, error) {
		if cached, ok := s.htmlCache.Get(slug, key); ok {
			return cached.(string), nil
		}
		rendered, err := s.renderer.Render(markdown)
		if err != nil {
			return "", err
		}
		s.htmlCache.Put(slug, key, rendered)
		return rendered, nil
	})
	if err != nil {
		return "", fmt.Errorf("render project %s: %w", slug, err)
	}
	return html.(string), nil
}

// LoadAllProjects enumerates every project file, optionally including drafts,
// sorted pinned-first then newest-first. Unreadable entries are skipped, and
// unparseable dates sort as the oldest possible date.
func (s *Store) LoadAllProjects(includeDrafts bool) ([]models.Project, error) {
	entries, err := os.ReadDir(s.projectsDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list projects: %w", err)
	}

	projects := make([]models.Project, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		slug := strings.TrimSuffix(entry.Name(), ".md")
		project, err := s.LoadProject(slug)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				s.logger.Warn("skipping unreadable project", "slug", slug, "error", err)
			}
			continue
		}
		if project.Draft && !includeDrafts {
			continue
		}
		projects = append(projects, project)
	}

	sort.SliceStable(projects, func(i, j int) bool {
		if projects[i].Pinned != projects[j].Pinned {
			return projects[i].Pinned
		}
		return parseDate(projects[i].Date).After(parseDate(projects[j].Date))
	})
	return projects, nil
}

// SaveParams carries a save request's payload and its optimistic-concurrency
// token. A zero BaseRevision on an existing file is treated as stale.
type SaveParams struct {
	Frontmatter  Frontmatter
	Markdown     string
	BaseRevision string
	Force        bool
}

// SaveProject writes a project file and returns the new revision. When the
// live file's revision differs from params.BaseRevision and Force is unset,
// it returns a ConflictError carrying the server side of the conflict.
// The local write is the commit point; mirroring to remote storage is
// best-effort and observable only through logs.
func (s *Store) SaveProject(ctx context.Context, slug string, params SaveParams) (string, error) {
	if !ValidSlug(slug) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}

	path := s.projectPath(slug)
	if !params.Force {
		if current, markdown, err := s.currentState(path); err != nil {
			return "", err
		} else if current != "" && current != params.BaseRevision {
			return "", &ConflictError{ServerRevision: current, ServerMarkdown: markdown}
		}
	}

	data, err := encodeDocument(params.Frontmatter, params.Markdown)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(s.projectsDir(), 0o755); err != nil {
		return "", fmt.Errorf("create projects dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write project %s: %w", slug, err)
	}
	s.invalidate(slug)
	s.mirrorFile(ctx, filepath.Join(projectsDirName, slug+".md"), data)
	return Revision(data), nil
}

// currentState returns the revision and markdown body of the file at path, or
// empty values when it does not exist.
func (s *Store) currentState(path string) (revision, markdown string, err error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", "", nil
		}
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	_, body := splitDocument(raw)
	return Revision(raw), body, nil
}

// CurrentRevision returns the live revision for slug, or ErrNotFound.
func (s *Store) CurrentRevision(slug string) (string, error) {
	if !ValidSlug(slug) {
		return "", ErrNotFound
	}
	raw, err := os.ReadFile(s.projectPath(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("read project %s: %w", slug, err)
	}
	return Revision(raw), nil
}

// DeleteProject archives a timestamped copy to the mirror's archive prefix,
// then removes the local file and the mirrored copy. Archive and mirror
// removal are best-effort; the local unlink is the operation's contract.
func (s *Store) DeleteProject(ctx context.Context, slug string) error {
	if !ValidSlug(slug) {
		return fmt.Errorf("%w: %q", ErrInvalidSlug, slug)
	}
	path := s.projectPath(slug)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read project %s: %w", slug, err)
	}

	name := filepath.Join(projectsDirName, slug+".md")
	s.archiveFile(ctx, name, raw)

	if err := os.Remove(path); err != nil {
		return fmt.Errorf("delete project %s: %w", slug, err)
	}
	s.invalidate(slug)
	s.removeMirrored(ctx, name)
	return nil
}

// LoadAbout loads the singleton about page through its own one-entry cache.
func (s *Store) LoadAbout() (models.AboutPage, error) {
	path := s.aboutPath()
	info, err := os.Stat(path)
	if err != nil {
		s.aboutMu.Lock()
		s.aboutEntry = nil
		s.aboutMu.Unlock()
		if os.IsNotExist(err) {
			return models.AboutPage{}, ErrNotFound
		}
		return models.AboutPage{}, fmt.Errorf("stat about page: %w", err)
	}
	key := fileKey{MtimeNanos: info.ModTime().UnixNano(), Size: info.Size()}

	s.aboutMu.Lock()
	if entry := s.aboutEntry; entry != nil && entry.key == key && s.now().Sub(entry.cachedAt) <= s.parseCache.ttl {
		page := entry.page
		s.aboutMu.Unlock()
		return page, nil
	}
	s.aboutMu.Unlock()

	raw, err := os.ReadFile(path)
	if err != nil {
		return models.AboutPage{}, fmt.Errorf("read about page: %w", err)
	}
	_, markdown := splitDocument(raw)
	html, err := s.renderer.Render(markdown)
	if err != nil {
		return models.AboutPage{}, fmt.Errorf("render about page: %w", err)
	}
	page := models.AboutPage{
		Title:    "About",
		Markdown: markdown,
		HTML:     html,
		Revision: Revision(raw),
	}

	s.aboutMu.Lock()
	s.aboutEntry = &aboutCacheEntry{key: key, cachedAt: s.now(), page: page}
	s.aboutMu.Unlock()
	return page, nil
}

// SaveAbout writes the about page under its fixed one-line frontmatter.
func (s *Store) SaveAbout(ctx context.Context, markdown string) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}
	data := []byte("---\ntitle: About\n---\n\n" + markdown)
	if err := os.WriteFile(s.aboutPath(), data, 0o644); err != nil {
		return fmt.Errorf("write about page: %w", err)
	}
	s.aboutMu.Lock()
	s.aboutEntry = nil
	s.aboutMu.Unlock()
	s.mirrorFile(ctx, aboutFileName, data)
	return nil
}

// LoadSettings reads settings.json, returning zero settings when absent.
func (s *Store) LoadSettings() (models.Settings, error) {
	raw, err := os.ReadFile(s.settingsPath())
	if err != nil {
		if os.IsNotExist(err) {
			return models.Settings{}, nil
		}
		return models.Settings{}, fmt.Errorf("read settings: %w", err)
	}
	var settings models.Settings
	if err := json.Unmarshal(raw, &settings); err != nil {
		return models.Settings{}, fmt.Errorf("parse settings: %w", err)
	}
	return settings, nil
}

// SaveSettings writes settings.json and mirrors it.
func (s *Store) SaveSettings(ctx context.Context, settings models.Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create content dir: %w", err)
	}
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := os.WriteFile(s.settingsPath(), data, 0o644); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	s.mirrorFile(ctx, settingsFileName, data)
	return nil
}

func (s *Store) invalidate(slug string) {
	s.parseCache.Invalidate(slug)
	s.htmlCache.Invalidate(slug)
}

func (s *Store) mirrorFile(ctx context.Context, name string, data []byte) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.MirrorFile(ctx, name, data); err != nil {
		s.logger.Error("best-effort content mirror failed", "file", name, "error", err)
	}
}

func (s *Store) archiveFile(ctx context.Context, name string, data []byte) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.ArchiveFile(ctx, name, data); err != nil {
		s.logger.Error("best-effort content archive failed", "file", name, "error", err)
	}
}

func (s *Store) removeMirrored(ctx context.Context, name string) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.RemoveFile(ctx, name); err != nil {
		s.logger.Error("best-effort content mirror delete failed", "file", name, "error", err)
	}
}
