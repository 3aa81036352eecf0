package content

import (
	"encoding/base64"
	"strings"
	"testing"
)

func render(t *testing.T, markdown string) string {
	t.Helper()
	html, err := NewRenderer().Render(markdown)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	return html
}

func TestRenderWrapsBlocks(t *testing.T) {
	html := render(t, "first paragraph\n\n<!-- block -->\n\nsecond paragraph")
	if strings.Count(html, `<div class="content-block">`) != 2 {
		t.Fatalf("expected two block wrappers, got:\n%s", html)
	}
	if !strings.Contains(html, "first paragraph") || !strings.Contains(html, "second paragraph") {
		t.Fatalf("block content missing:\n%s", html)
	}
}

func TestRenderRowBlockProducesTwoColumns(t *testing.T) {
	markdown := "<!-- row -->\nleft side\n<!-- col -->\nright side\n<!-- /row -->"
	html := render(t, markdown)
	if !strings.Contains(html, `content-block-row`) {
		t.Fatalf("expected row wrapper:\n%s", html)
	}
	if !strings.Contains(html, `<div class="content-col content-col-left">`) ||
		!strings.Contains(html, `<div class="content-col content-col-right">`) {
		t.Fatalf("expected left and right columns:\n%s", html)
	}
	if strings.Contains(html, "<!--") {
		t.Fatalf("layout markers leaked into output:\n%s", html)
	}
}

func TestRenderRowWithoutColumnFallsBack(t *testing.T) {
	html := render(t, "<!-- row -->\nno column marker here\n<!-- /row -->")
	if strings.Contains(html, "content-block-row") {
		t.Fatalf("row without col separator should render as a plain block:\n%s", html)
	}
	if !strings.Contains(html, "no column marker here") {
		t.Fatalf("content lost:\n%s", html)
	}
}

func TestRenderEncodesRawHTMLRegions(t *testing.T) {
	raw := `<div onclick="alert('x')">custom</div>`
	markdown := "before\n\n<!-- html style=\"height: 300px\" -->\n" + raw + "\n<!-- /html -->\n\nafter"
	html := render(t, markdown)

	encoded := base64.StdEncoding.EncodeToString([]byte(raw))
	if !strings.Contains(html, `class="html-block-sandbox"`) {
		t.Fatalf("expected sandbox placeholder:\n%s", html)
	}
	if !strings.Contains(html, `data-html-b64="`+encoded+`"`) {
		t.Fatalf("expected base64 payload %s in:\n%s", encoded, html)
	}
	if !strings.Contains(html, `style="height: 300px"`) {
		t.Fatalf("expected style passthrough:\n%s", html)
	}
	if strings.Contains(html, "onclick") {
		t.Fatalf("raw HTML leaked unencoded:\n%s", html)
	}
}

func TestRenderConvertsAlignmentComments(t *testing.T) {
	html := render(t, "<!-- align:center -->\n\ncentered text\n\n<!-- /align -->")
	if !strings.Contains(html, `<div style="text-align: center">`) {
		t.Fatalf("expected alignment wrapper:\n%s", html)
	}
	if !strings.Contains(html, "</div>") {
		t.Fatalf("expected closing wrapper:\n%s", html)
	}
}

func TestRenderLazyLoadsImages(t *testing.T) {
	html := render(t, `![alt](https://cdn.example.com/images/project-content/pic.jpg)`)
	if !strings.Contains(html, `loading="lazy"`) || !strings.Contains(html, `decoding="async"`) {
		t.Fatalf("expected lazy image attributes:\n%s", html)
	}
}

func TestRenderLazyLoadsIframes(t *testing.T) {
	html := render(t, `<iframe src="https://player.example.com/embed/1"></iframe>`)
	if !strings.Contains(html, `loading="lazy"`) {
		t.Fatalf("expected lazy iframe attribute:\n%s", html)
	}
}

func TestRenderDefersInlineVideos(t *testing.T) {
	html := render(t, `<video src="https://cdn.example.com/videos_mp4/clip.mp4" controls></video>`)
	if !strings.Contains(html, `data-src="https://cdn.example.com/videos_mp4/clip.mp4"`) {
		t.Fatalf("expected src moved to data-src:\n%s", html)
	}
	if strings.Contains(html, ` src="https://cdn.example.com/videos_mp4/clip.mp4"`) {
		t.Fatalf("src attribute should have been removed:\n%s", html)
	}
	if !strings.Contains(html, "lazy-inline-video") || !strings.Contains(html, `preload="none"`) {
		t.Fatalf("expected lazy video markers:\n%s", html)
	}
}

func TestRenderDefersVideoSourceTags(t *testing.T) {
	html := render(t, `<video controls><source src="https://cdn.example.com/videos_mp4/clip.mp4" type="video/mp4"></video>`)
	if !strings.Contains(html, `<source data-src="https://cdn.example.com/videos_mp4/clip.mp4"`) {
		t.Fatalf("expected source src deferred:\n%s", html)
	}
}

func TestRenderEmptyDocument(t *testing.T) {
	if html := render(t, ""); html != "" {
		t.Fatalf("empty markdown should render empty, got %q", html)
	}
}
