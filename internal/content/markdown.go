package content

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	goldmarkhtml "github.com/yuin/goldmark/renderer/html"
)

// Renderer converts the editor's markdown dialect into project-body HTML.
// On top of plain markdown it understands a small set of comment markers:
// block separators, two-column rows, raw-HTML sandboxes, and alignment
// wrappers. Media tags in the output are rewritten for lazy loading.
//
// A Renderer is safe for concurrent use.
type Renderer struct {
	md goldmark.Markdown
}

func NewRenderer() *Renderer {
	return &Renderer{
		md: goldmark.New(
			goldmark.WithExtensions(extension.GFM, extension.Typographer),
			goldmark.WithRendererOptions(
				goldmarkhtml.WithUnsafe(),
				goldmarkhtml.WithHardWraps(),
			),
		),
	}
}

var (
	blockSeparator = regexp.MustCompile(`\n+\s*<!--\s*block\s*-->\s*\n+`)
	rowOpen        = regexp.MustCompile(`^\s*<!--\s*row\s*-->\s*`)
	rowClose       = regexp.MustCompile(`\s*<!--\s*/row\s*-->\s*$`)
	colSeparator   = regexp.MustCompile(`\n*\s*<!--\s*col\s*-->\s*\n*`)
	layoutMarkers  = regexp.MustCompile(`<!--\s*/?(row|col)\s*-->`)
	htmlRegion     = regexp.MustCompile(`(?s)<!--\s*html(?:\s+style="([^"]*)")?\s*-->\s*\n?(.*?)\n?\s*<!--\s*/html\s*-->`)
	alignOpen      = regexp.MustCompile(`<!-- align:(center|right) -->`)
	alignClose     = regexp.MustCompile(`<!-- /align -->`)
)

// Render converts a full markdown document into HTML, one wrapper div per
// editor block.
func (r *Renderer) Render(markdown string) (string, error) {
	blocks := splitBlocks(markdown)
	if len(blocks) == 0 {
		blocks = []string{markdown}
	}

	rendered := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if left, right, ok := parseRowBlock(block); ok {
			leftHTML, err := r.renderBlock(left)
			if err != nil {
				return "", err
			}
			rightHTML, err := r.renderBlock(right)
			if err != nil {
				return "", err
			}
			rendered = append(rendered,
				`<div class="content-block content-block-row">`+
					`<div class="content-row">`+
					`<div class="content-col content-col-left">`+leftHTML+`</div>`+
					`<div class="content-col content-col-right">`+rightHTML+`</div>`+
					`</div></div>`)
			continue
		}
		blockHTML, err := r.renderBlock(block)
		if err != nil {
			return "", err
		}
		if blockHTML != "" {
			rendered = append(rendered, `<div class="content-block">`+blockHTML+`</div>`)
		}
	}
	return strings.Join(rendered, "\n"), nil
}

func (r *Renderer) renderBlock(markdown string) (string, error) {
	prepared := encodeHTMLRegions(markdown)
	prepared = layoutMarkers.ReplaceAllString(prepared, "")

	var buf bytes.Buffer
	if err := r.md.Convert([]byte(prepared), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	out := strings.TrimSpace(buf.String())
	out = convertAlignmentComments(out)
	out = strings.TrimSpace(out)
	return strings.TrimSpace(lazyLoadMedia(out)), nil
}

// splitBlocks splits a document on editor block-separator comments.
func splitBlocks(markdown string) []string {
	parts := blockSeparator.Split(markdown, -1)
	blocks := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			blocks = append(blocks, part)
		}
	}
	return blocks
}

// parseRowBlock recognizes a two-column row block delimited by row/col
// comments and returns the left and right markdown halves.
func parseRowBlock(block string) (left, right string, ok bool) {
	stripped := strings.TrimSpace(block)
	if stripped == "" {
		return "", "", false
	}
	if !rowOpen.MatchString(stripped) || !rowClose.MatchString(stripped) {
		return "", "", false
	}
	inner := rowOpen.ReplaceAllString(stripped, "")
	inner = rowClose.ReplaceAllString(inner, "")
	columns := colSeparator.Split(inner, 2)
	if len(columns) != 2 {
		return "", "", false
	}
	return strings.TrimSpace(columns[0]), strings.TrimSpace(columns[1]), true
}

// encodeHTMLRegions replaces raw-HTML regions with base64-carrying sandbox
// placeholders before markdown conversion, so hand-authored markup is never
// mangled by the markdown parser.
func encodeHTMLRegions(markdown string) string {
	return htmlRegion.ReplaceAllStringFunc(markdown, func(match string) string {
		groups := htmlRegion.FindStringSubmatch(match)
		style := strings.TrimSpace(strings.ReplaceAll(groups[1], "&quot;", `"`))
		encoded := base64.StdEncoding.EncodeToString([]byte(groups[2]))
		styleAttr := ""
		if style != "" {
			styleAttr = ` style="` + html.EscapeString(style) + `"`
		}
		return `<div class="html-block-sandbox" data-html-b64="` + encoded + `"` + styleAttr + `></div>`
	})
}

func convertAlignmentComments(htmlContent string) string {
	htmlContent = alignOpen.ReplaceAllString(htmlContent, `<div style="text-align: $1">`)
	return alignClose.ReplaceAllString(htmlContent, `</div>`)
}

var (
	imgTag    = regexp.MustCompile(`<img\b[^>]*>`)
	iframeTag = regexp.MustCompile(`<iframe\b[^>]*>`)
	videoTag  = regexp.MustCompile(`<video\b[^>]*>`)
	sourceTag = regexp.MustCompile(`<source\b[^>]*>`)
	srcAttr   = regexp.MustCompile(`\bsrc="([^"]*)"`)
	classAttr = regexp.MustCompile(`\bclass="([^"]*)"`)
)

// lazyLoadMedia rewrites media tags in rendered HTML for deferred loading:
// images and iframes gain lazy-loading attributes, inline videos swap their
// src to data-src so the client activates them near the viewport.
func lazyLoadMedia(htmlContent string) string {
	if !strings.Contains(htmlContent, "<img") &&
		!strings.Contains(htmlContent, "<iframe") &&
		!strings.Contains(htmlContent, "<video") {
		return htmlContent
	}

	htmlContent = imgTag.ReplaceAllStringFunc(htmlContent, func(tag string) string {
		tag = ensureAttr(tag, "loading", "lazy")
		return ensureAttr(tag, "decoding", "async")
	})
	htmlContent = iframeTag.ReplaceAllStringFunc(htmlContent, func(tag string) string {
		return ensureAttr(tag, "loading", "lazy")
	})
	htmlContent = videoTag.ReplaceAllStringFunc(htmlContent, func(tag string) string {
		tag = appendClass(tag, "lazy-inline-video")
		tag = setAttr(tag, "preload", "none")
		return deferSrc(tag)
	})
	return sourceTag.ReplaceAllStringFunc(htmlContent, deferSrc)
}

func ensureAttr(tag, name, value string) string {
	if strings.Contains(tag, name+`="`) {
		return tag
	}
	return insertAttrs(tag, ` `+name+`="`+value+`"`)
}

func setAttr(tag, name, value string) string {
	pattern := regexp.MustCompile(`\b` + name + `="[^"]*"`)
	if pattern.MatchString(tag) {
		return pattern.ReplaceAllString(tag, name+`="`+value+`"`)
	}
	return insertAttrs(tag, ` `+name+`="`+value+`"`)
}

func appendClass(tag, class string) string {
	if groups := classAttr.FindStringSubmatch(tag); groups != nil {
		existing := groups[1]
		for _, c := range strings.Fields(existing) {
			if c == class || c == "lazy-video" {
				return tag
			}
		}
		return classAttr.ReplaceAllString(tag, `class="`+strings.TrimSpace(existing+" "+class)+`"`)
	}
	return insertAttrs(tag, ` class="`+class+`"`)
}

func deferSrc(tag string) string {
	if strings.Contains(tag, `data-src="`) {
		return tag
	}
	return srcAttr.ReplaceAllString(tag, `data-src="$1"`)
}

func insertAttrs(tag, attrs string) string {
	if strings.HasSuffix(tag, "/>") {
		return tag[:len(tag)-2] + attrs + " />"
	}
	return tag[:len(tag)-1] + attrs + ">"
}
