package models

// Project is the flattened record the content store hands to callers. The
// frontmatter video block, when present, is hoisted into the top-level hero
// fields so templates and API clients never need to distinguish a missing
// block from an empty one.
type Project struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Date     string `json:"date,omitempty"`
	Pinned   bool   `json:"pinned"`
	Draft    bool   `json:"draft"`
	YouTube  string `json:"youtube,omitempty"`
	Markdown string `json:"markdown_content"`
	HTML     string `json:"html_content"`
	Revision string `json:"revision"`

	HLSURL         string  `json:"hls_url,omitempty"`
	ThumbnailURL   string  `json:"thumbnail_url,omitempty"`
	SpriteSheetURL string  `json:"sprite_sheet_url,omitempty"`
	SpriteFrames   int     `json:"sprite_frames,omitempty"`
	SpriteColumns  int     `json:"sprite_columns,omitempty"`
	SpriteRows     int     `json:"sprite_rows,omitempty"`
	FrameWidth     int     `json:"frame_width,omitempty"`
	FrameHeight    int     `json:"frame_height,omitempty"`
	SpriteFPS      float64 `json:"sprite_fps,omitempty"`
	VideoWidth     int     `json:"video_width,omitempty"`
	VideoHeight    int     `json:"video_height,omitempty"`
}

// HasVideo reports whether the project carries a processed hero video.
func (p Project) HasVideo() bool {
	return p.HLSURL != ""
}

// AboutPage is the singleton markdown document behind the about view.
type AboutPage struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown_content"`
	HTML     string `json:"html_content"`
	Revision string `json:"revision"`
}

// SocialLinks holds the footer link targets from the settings document.
type SocialLinks struct {
	YouTube   string `json:"youtube,omitempty"`
	Vimeo     string `json:"vimeo,omitempty"`
	Instagram string `json:"instagram,omitempty"`
	LinkedIn  string `json:"linkedin,omitempty"`
	GitHub    string `json:"github,omitempty"`
}

// AboutPhoto describes the responsive portrait on the about page.
type AboutPhoto struct {
	URL    string `json:"photo_url,omitempty"`
	Srcset string `json:"photo_srcset,omitempty"`
	Sizes  string `json:"photo_sizes,omitempty"`
}

// Settings is the singleton site settings document. It is plain JSON on disk,
// carries no frontmatter, and is not revisioned.
type Settings struct {
	SocialLinks SocialLinks `json:"social_links"`
	About       AboutPhoto  `json:"about"`
}
