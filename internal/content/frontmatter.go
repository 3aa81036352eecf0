package content

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/billybjork/billybjork.com/internal/models"
)

// VideoMeta mirrors the optional `video` frontmatter block describing a
// processed hero video and its scrubber sprite grid.
type VideoMeta struct {
	HLS         string  `yaml:"hls,omitempty"`
	Thumbnail   string  `yaml:"thumbnail,omitempty"`
	SpriteSheet string  `yaml:"spriteSheet,omitempty"`
	Frames      int     `yaml:"frames,omitempty"`
	Columns     int     `yaml:"columns,omitempty"`
	Rows        int     `yaml:"rows,omitempty"`
	FrameWidth  int     `yaml:"frame_width,omitempty"`
	FrameHeight int     `yaml:"frame_height,omitempty"`
	FPS         float64 `yaml:"fps,omitempty"`
	VideoWidth  int     `yaml:"video_width,omitempty"`
	VideoHeight int     `yaml:"video_height,omitempty"`
}

func (v VideoMeta) isZero() bool {
	return v == VideoMeta{}
}

// Frontmatter is the typed YAML header of a project file. A missing `video`
// block and an empty one are normalized to the same nil pointer.
type Frontmatter struct {
	Name    string     `yaml:"name,omitempty"`
	Slug    string     `yaml:"slug,omitempty"`
	Date    string     `yaml:"date,omitempty"`
	Pinned  bool       `yaml:"pinned,omitempty"`
	Draft   bool       `yaml:"draft,omitempty"`
	YouTube string     `yaml:"youtube,omitempty"`
	Video   *VideoMeta `yaml:"video,omitempty"`
}

func (f *Frontmatter) normalize() {
	if f.Video != nil && f.Video.isZero() {
		f.Video = nil
	}
}

// VideoOrZero returns the video block, or a zero value when absent.
func (f Frontmatter) VideoOrZero() VideoMeta {
	if f.Video == nil {
		return VideoMeta{}
	}
	return *f.Video
}

const frontmatterDelimiter = "---"

// splitDocument separates the raw file bytes into a frontmatter block and the
// markdown body. Malformed YAML yields an empty frontmatter, never an error:
// a corrupt header must not make a project unloadable.
func splitDocument(raw []byte) (Frontmatter, string) {
	text := string(raw)
	var fm Frontmatter
	if !strings.HasPrefix(text, frontmatterDelimiter+"\n") {
		return fm, text
	}
	rest := text[len(frontmatterDelimiter)+1:]
	var header, body string
	if idx := strings.Index(rest, "\n"+frontmatterDelimiter+"\n"); idx >= 0 {
		header = rest[:idx+1]
		body = rest[idx+1+len(frontmatterDelimiter)+1:]
		body = strings.TrimPrefix(body, "\n")
	} else if strings.HasSuffix(rest, "\n"+frontmatterDelimiter) {
		header = rest[:len(rest)-len(frontmatterDelimiter)]
	} else {
		return fm, text
	}

	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		fm = Frontmatter{}
	}
	fm.normalize()
	return fm, body
}

// encodeDocument renders the canonical on-disk envelope: a YAML frontmatter
// block followed by a blank line and the markdown body.
func encodeDocument(fm Frontmatter, markdown string) ([]byte, error) {
	fm.normalize()
	var header bytes.Buffer
	encoder := yaml.NewEncoder(&header)
	encoder.SetIndent(2)
	if err := encoder.Encode(fm); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(frontmatterDelimiter + "\n")
	out.Write(header.Bytes())
	out.WriteString(frontmatterDelimiter + "\n\n")
	out.WriteString(markdown)
	return out.Bytes(), nil
}

// FrontmatterFromProject rebuilds the typed header from a flattened record.
func FrontmatterFromProject(p models.Project) Frontmatter {
	fm := Frontmatter{
		Name:    p.Name,
		Slug:    p.Slug,
		Date:    p.Date,
		Pinned:  p.Pinned,
		Draft:   p.Draft,
		YouTube: p.YouTube,
	}
	video := VideoMeta{
		HLS:         p.HLSURL,
		Thumbnail:   p.ThumbnailURL,
		SpriteSheet: p.SpriteSheetURL,
		Frames:      p.SpriteFrames,
		Columns:     p.SpriteColumns,
		Rows:        p.SpriteRows,
		FrameWidth:  p.FrameWidth,
		FrameHeight: p.FrameHeight,
		FPS:         p.SpriteFPS,
		VideoWidth:  p.VideoWidth,
		VideoHeight: p.VideoHeight,
	}
	if !video.isZero() {
		fm.Video = &video
	}
	return fm
}

func (f Frontmatter) applyTo(p *models.Project) {
	p.Name = f.Name
	p.Date = f.Date
	p.Pinned = f.Pinned
	p.Draft = f.Draft
	p.YouTube = f.YouTube
	video := f.VideoOrZero()
	p.HLSURL = video.HLS
	p.ThumbnailURL = video.Thumbnail
	p.SpriteSheetURL = video.SpriteSheet
	p.SpriteFrames = video.Frames
	p.SpriteColumns = video.Columns
	p.SpriteRows = video.Rows
	p.FrameWidth = video.FrameWidth
	p.FrameHeight = video.FrameHeight
	p.SpriteFPS = video.FPS
	p.VideoWidth = video.VideoWidth
	p.VideoHeight = video.VideoHeight
}

const dateLayout = "2006-01-02"

// parseDate interprets a frontmatter date. Unparseable values sort as the
// oldest possible date rather than failing a listing.
func parseDate(value string) time.Time {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}
	}
	if len(trimmed) > len(dateLayout) {
		trimmed = trimmed[:len(dateLayout)]
	}
	parsed, err := time.Parse(dateLayout, trimmed)
	if err != nil {
		return time.Time{}
	}
	return parsed
}
