package media

import (
	"context"
	"fmt"
	"math"
)

// Sprite-sheet geometry. The scrubber shows 320x180 tiles laid out five per
// row; playback position maps onto a tile via the sheet's fps.
const (
	spriteFrameWidth  = 320
	spriteFrameHeight = 180
	spriteColumns     = 5
	// DefaultSpriteFPS is the sampling rate across the selected window.
	DefaultSpriteFPS = 20.0
)

// SpriteMeta describes the generated sheet so the player can index tiles.
type SpriteMeta struct {
	Columns     int     `json:"columns"`
	Rows        int     `json:"rows"`
	FrameCount  int     `json:"frames"`
	FrameWidth  int     `json:"frame_width"`
	FrameHeight int     `json:"frame_height"`
	FPS         float64 `json:"fps"`
}

// spriteLayout computes tile counts for a window of the given length.
func spriteLayout(windowSeconds, fps float64) (SpriteMeta, error) {
	if windowSeconds <= 0 {
		return SpriteMeta{}, fmt.Errorf("sprite window must be positive, got %fs", windowSeconds)
	}
	if fps <= 0 {
		fps = DefaultSpriteFPS
	}
	frames := int(math.Round(windowSeconds * fps))
	if frames < 1 {
		frames = 1
	}
	rows := (frames + spriteColumns - 1) / spriteColumns
	return SpriteMeta{
		Columns:     spriteColumns,
		Rows:        rows,
		FrameCount:  frames,
		FrameWidth:  spriteFrameWidth,
		FrameHeight: spriteFrameHeight,
		FPS:         fps,
	}, nil
}

// generateSpriteSheet renders the tiles for [start, end) into a single JPEG.
func generateSpriteSheet(ctx context.Context, runner Runner, ffmpeg, source string, start, end, fps float64, outPath string) (SpriteMeta, error) {
	meta, err := spriteLayout(end-start, fps)
	if err != nil {
		return SpriteMeta{}, err
	}
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%f", start),
		"-to", fmt.Sprintf("%f", end),
		"-i", source,
		"-vf", fmt.Sprintf("fps=%f,scale=%d:%d,tile=%dx%d",
			meta.FPS, meta.FrameWidth, meta.FrameHeight, meta.Columns, meta.Rows),
		"-frames:v", "1",
		"-q:v", "3",
		outPath,
	}
	if err := runner.Run(ctx, ffmpeg, args, nil); err != nil {
		return SpriteMeta{}, fmt.Errorf("generate sprite sheet: %w", err)
	}
	return meta, nil
}
