package api

import (
	"net/http"
	"testing"

	"github.com/billybjork/billybjork.com/internal/models"
)

func TestCreateAndFetchProject(t *testing.T) {
	handler, _ := newTestHandler(t)

	rec := doJSON(t, handler.Projects, http.MethodPost, "/api/projects",
		`{"name":"My First Reel","markdown_content":"# Hello"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d body %s", rec.Code, rec.Body.String())
	}
	var created models.Project
	decodeBody(t, rec, &created)
	if created.Slug != "my-first-reel" {
		t.Fatalf("slug = %q", created.Slug)
	}
	if created.Revision == "" {
		t.Fatal("expected a revision")
	}

	rec = doJSON(t, handler.ProjectBySlug, http.MethodGet, "/api/projects/my-first-reel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	var fetched models.Project
	decodeBody(t, rec, &fetched)
	if fetched.Name != "My First Reel" || fetched.Markdown != "# Hello" {
		t.Fatalf("unexpected project %+v", fetched)
	}
}

func TestCreateProjectDuplicateSlug(t *testing.T) {
	handler, _ := newTestHandler(t)

	first := doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Reel"}`)
	if first.Code != http.StatusCreated {
		t.Fatalf("first create = %d", first.Code)
	}
	second := doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Reel"}`)
	if second.Code != http.StatusConflict {
		t.Fatalf("duplicate create = %d", second.Code)
	}
}

func TestCreateProjectRejectsUnusableName(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"!!!"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListProjectsHidesDrafts(t *testing.T) {
	handler, _ := newTestHandler(t)
	doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Public"}`)
	doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Hidden","draft":true}`)

	rec := doJSON(t, handler.Projects, http.MethodGet, "/api/projects", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var visible []models.Project
	decodeBody(t, rec, &visible)
	if len(visible) != 1 || visible[0].Slug != "public" {
		t.Fatalf("unexpected list %+v", visible)
	}

	rec = doJSON(t, handler.Projects, http.MethodGet, "/api/projects?include_drafts=true", "")
	var all []models.Project
	decodeBody(t, rec, &all)
	if len(all) != 2 {
		t.Fatalf("expected drafts included, got %+v", all)
	}
}

func TestSaveProjectConflictPayload(t *testing.T) {
	handler, _ := newTestHandler(t)
	create := doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Reel","markdown_content":"v1"}`)
	var created models.Project
	decodeBody(t, create, &created)

	// First writer advances the revision.
	first := doJSON(t, handler.ProjectBySlug, http.MethodPut, "/api/projects/reel",
		`{"markdown_content":"v2","base_revision":"`+created.Revision+`"}`)
	if first.Code != http.StatusOK {
		t.Fatalf("first save = %d body %s", first.Code, first.Body.String())
	}

	// Second writer still holds the original revision.
	second := doJSON(t, handler.ProjectBySlug, http.MethodPut, "/api/projects/reel",
		`{"markdown_content":"v3","base_revision":"`+created.Revision+`"}`)
	if second.Code != http.StatusConflict {
		t.Fatalf("stale save = %d", second.Code)
	}
	var conflict struct {
		Conflict       bool   `json:"conflict"`
		ServerRevision string `json:"server_revision"`
		ServerMarkdown string `json:"server_markdown"`
		YourMarkdown   string `json:"your_markdown"`
		Message        string `json:"message"`
	}
	decodeBody(t, second, &conflict)
	if !conflict.Conflict {
		t.Fatal("conflict flag missing")
	}
	if conflict.ServerMarkdown != "v2" || conflict.YourMarkdown != "v3" {
		t.Fatalf("unexpected conflict payload %+v", conflict)
	}
	if conflict.ServerRevision == "" || conflict.ServerRevision == created.Revision {
		t.Fatalf("server revision not advanced: %q", conflict.ServerRevision)
	}

	// Force wins regardless of the stale revision.
	forced := doJSON(t, handler.ProjectBySlug, http.MethodPut, "/api/projects/reel",
		`{"markdown_content":"v3","base_revision":"`+created.Revision+`","force":true}`)
	if forced.Code != http.StatusOK {
		t.Fatalf("forced save = %d", forced.Code)
	}
	var saved models.Project
	decodeBody(t, forced, &saved)
	if saved.Markdown != "v3" {
		t.Fatalf("forced markdown = %q", saved.Markdown)
	}
}

func TestSaveProjectRename(t *testing.T) {
	handler, _ := newTestHandler(t)
	create := doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Old Name","markdown_content":"body"}`)
	var created models.Project
	decodeBody(t, create, &created)

	rec := doJSON(t, handler.ProjectBySlug, http.MethodPut, "/api/projects/old-name",
		`{"new_slug":"new-name","base_revision":"`+created.Revision+`"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("rename status = %d body %s", rec.Code, rec.Body.String())
	}
	var renamed models.Project
	decodeBody(t, rec, &renamed)
	if renamed.Slug != "new-name" || renamed.Markdown != "body" {
		t.Fatalf("unexpected renamed project %+v", renamed)
	}

	old := doJSON(t, handler.ProjectBySlug, http.MethodGet, "/api/projects/old-name", "")
	if old.Code != http.StatusNotFound {
		t.Fatalf("old slug still present, status %d", old.Code)
	}
}

func TestSaveProjectVideoMetadata(t *testing.T) {
	handler, _ := newTestHandler(t)
	create := doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Reel"}`)
	var created models.Project
	decodeBody(t, create, &created)

	rec := doJSON(t, handler.ProjectBySlug, http.MethodPut, "/api/projects/reel",
		`{"base_revision":"`+created.Revision+`","video":{"hls_url":"https://cdn.example.com/videos/reel/1/master.m3u8","thumbnail_url":"https://cdn.example.com/images/thumbnails/reel_1.webp","sprite_frames":50,"sprite_columns":5,"sprite_rows":10,"sprite_fps":20,"video_width":1920,"video_height":1080}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("save status = %d body %s", rec.Code, rec.Body.String())
	}
	var saved models.Project
	decodeBody(t, rec, &saved)
	if !saved.HasVideo() || saved.SpriteFrames != 50 || saved.VideoHeight != 1080 {
		t.Fatalf("video fields not persisted: %+v", saved)
	}
}

func TestDeleteProject(t *testing.T) {
	handler, _ := newTestHandler(t)
	doJSON(t, handler.Projects, http.MethodPost, "/api/projects", `{"name":"Reel"}`)

	rec := doJSON(t, handler.ProjectBySlug, http.MethodDelete, "/api/projects/reel", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
	rec = doJSON(t, handler.ProjectBySlug, http.MethodGet, "/api/projects/reel", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("deleted project still served, status %d", rec.Code)
	}
}

func TestProjectUnknownSlugIs404(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler.ProjectBySlug, http.MethodGet, "/api/projects/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestProjectsMethodNotAllowed(t *testing.T) {
	handler, _ := newTestHandler(t)
	rec := doJSON(t, handler.Projects, http.MethodDelete, "/api/projects", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d", rec.Code)
	}
}
