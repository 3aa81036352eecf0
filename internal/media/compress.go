package media

import (
	"context"
	"fmt"
)

// Inline content videos are single-file mp4s, capped at 720p and encoded for
// progressive playback.
const (
	contentVideoMaxHeight = 720
	contentVideoCRF       = "28"
)

// compressContentVideo transcodes a source into a web-ready mp4. Sources
// already at or below 720p keep their dimensions.
func compressContentVideo(ctx context.Context, runner Runner, ffmpeg, source, outPath string, sourceHeight int) error {
	args := []string{"-y", "-i", source}
	if sourceHeight > contentVideoMaxHeight {
		args = append(args, "-vf", fmt.Sprintf("scale=-2:%d", contentVideoMaxHeight))
	}
	args = append(args,
		"-c:v", "libx264",
		"-crf", contentVideoCRF,
		"-preset", "medium",
		"-c:a", "aac",
		"-b:a", "128k",
		"-movflags", "+faststart",
		outPath,
	)
	if err := runner.Run(ctx, ffmpeg, args, nil); err != nil {
		return fmt.Errorf("compress content video: %w", err)
	}
	return nil
}
