package media

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// VideoInfo is the subset of ffprobe output the pipeline needs.
type VideoInfo struct {
	Width     int
	Height    int
	Duration  float64
	FrameRate float64
}

// Prober reads stream metadata from a local file or URL via ffprobe.
type Prober struct {
	runner  Runner
	ffprobe string
}

func NewProber(runner Runner, ffprobePath string) *Prober {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &Prober{runner: runner, ffprobe: ffprobePath}
}

type probeOutput struct {
	Streams []struct {
		Width        int    `json:"width"`
		Height       int    `json:"height"`
		RFrameRate   string `json:"r_frame_rate"`
		AvgFrameRate string `json:"avg_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func (p *Prober) Probe(ctx context.Context, source string) (VideoInfo, error) {
	args := []string{
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,r_frame_rate,avg_frame_rate",
		"-show_entries", "format=duration",
		"-of", "json",
		source,
	}
	raw, err := p.runner.Output(ctx, p.ffprobe, args)
	if err != nil {
		return VideoInfo{}, fmt.Errorf("probe %s: %w", source, err)
	}
	var out probeOutput
	if err := json.Unmarshal(raw, &out); err != nil {
		return VideoInfo{}, fmt.Errorf("parse probe output: %w", err)
	}
	if len(out.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("probe %s: no video stream", source)
	}
	stream := out.Streams[0]
	if stream.Width <= 0 || stream.Height <= 0 {
		return VideoInfo{}, fmt.Errorf("probe %s: missing dimensions", source)
	}
	info := VideoInfo{Width: stream.Width, Height: stream.Height}
	if out.Format.Duration != "" {
		if duration, err := strconv.ParseFloat(strings.TrimSpace(out.Format.Duration), 64); err == nil {
			info.Duration = duration
		}
	}
	rate := stream.RFrameRate
	if rate == "" || rate == "0/0" {
		rate = stream.AvgFrameRate
	}
	info.FrameRate = parseFrameRate(rate)
	return info, nil
}

// parseFrameRate converts ffprobe's rational rate ("30000/1001") to a float.
// Zero when the rate is absent or malformed.
func parseFrameRate(rate string) float64 {
	rate = strings.TrimSpace(rate)
	if rate == "" {
		return 0
	}
	num, den, found := strings.Cut(rate, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
