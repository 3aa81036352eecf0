package media

import (
	"fmt"
	"math"
	"path/filepath"
	"strconv"
	"strings"
)

// LadderTier is one rendition of the adaptive ladder.
type LadderTier struct {
	Height  int
	Bitrate string
}

// ladderCandidates is ordered tallest first. Tiers above the source height
// are skipped so the encoder never upscales; 480 and below are always kept
// so even tiny sources get a ladder.
var ladderCandidates = []LadderTier{
	{Height: 2160, Bitrate: "12000k"},
	{Height: 1440, Bitrate: "8000k"},
	{Height: 1080, Bitrate: "5000k"},
	{Height: 720, Bitrate: "2500k"},
	{Height: 480, Bitrate: "1200k"},
	{Height: 360, Bitrate: "800k"},
	{Height: 240, Bitrate: "400k"},
}

// BuildLadder selects the renditions a source of the given height supports.
func BuildLadder(sourceHeight int) []LadderTier {
	var tiers []LadderTier
	for _, tier := range ladderCandidates {
		if tier.Height <= sourceHeight || tier.Height <= 480 {
			tiers = append(tiers, tier)
		}
	}
	return tiers
}

// dimensionSearchRadius bounds how far StableDimensions may drift from the
// requested height while looking for an even pair with minimal aspect error.
const dimensionSearchRadius = 12

// StableDimensions picks an even (width, height) pair near targetHeight that
// best preserves the source aspect ratio. Some players stutter on odd or
// badly rounded dimensions, hence the search instead of plain scaling.
func StableDimensions(sourceWidth, sourceHeight, targetHeight int) (int, int) {
	if sourceWidth <= 0 || sourceHeight <= 0 || targetHeight <= 0 {
		return 0, 0
	}
	aspect := float64(sourceWidth) / float64(sourceHeight)

	bestWidth, bestHeight := 0, 0
	bestError := math.Inf(1)
	for delta := -dimensionSearchRadius; delta <= dimensionSearchRadius; delta += 2 {
		height := targetHeight + delta
		if height < 2 {
			continue
		}
		if height%2 != 0 {
			height++
		}
		ideal := aspect * float64(height)
		for _, width := range []int{evenFloor(ideal), evenFloor(ideal) + 2} {
			if width < 2 {
				continue
			}
			drift := math.Abs(float64(width)/float64(height) - aspect)
			// Prefer the requested height on equal drift.
			drift += math.Abs(float64(height-targetHeight)) * 1e-9
			if drift < bestError {
				bestError = drift
				bestWidth, bestHeight = width, height
			}
		}
	}
	return bestWidth, bestHeight
}

func evenFloor(v float64) int {
	n := int(math.Floor(v))
	if n%2 != 0 {
		n--
	}
	return n
}

// HLSPlan is a prepared multi-rendition transcode.
type HLSPlan struct {
	Args      []string
	OutputDir string
	Tiers     []LadderTier
}

// BuildHLSPlan assembles the ffmpeg invocation for a VOD HLS encode: one
// libx264 variant per ladder tier, shared AAC audio, 6-second segments and a
// master playlist generated through var_stream_map.
func BuildHLSPlan(input, outputDir string, info VideoInfo) (*HLSPlan, error) {
	if strings.TrimSpace(input) == "" {
		return nil, fmt.Errorf("input source is required")
	}
	tiers := BuildLadder(info.Height)
	if len(tiers) == 0 {
		return nil, fmt.Errorf("no renditions for %dx%d source", info.Width, info.Height)
	}

	args := []string{"-y", "-i", input, "-progress", "pipe:1", "-nostats"}
	varStreamMap := make([]string, 0, len(tiers))
	for idx, tier := range tiers {
		width, height := StableDimensions(info.Width, info.Height, tier.Height)
		if width == 0 || height == 0 {
			return nil, fmt.Errorf("no stable dimensions for tier %d", tier.Height)
		}
		args = append(args,
			"-map", "0:v:0",
			"-map", "0:a:0?",
			fmt.Sprintf("-filter:v:%d", idx), fmt.Sprintf("scale=%d:%d", width, height),
			fmt.Sprintf("-maxrate:v:%d", idx), tier.Bitrate,
			fmt.Sprintf("-bufsize:v:%d", idx), doubledRate(tier.Bitrate),
		)
		varStreamMap = append(varStreamMap, fmt.Sprintf("v:%d,a:%d,name:%dp", idx, idx, tier.Height))
	}
	args = append(args,
		"-c:v", "libx264",
		"-preset", "slow",
		"-crf", "23",
		"-c:a", "aac",
		"-b:a", "128k",
		"-ac", "2",
		"-f", "hls",
		"-hls_time", "6",
		"-hls_playlist_type", "vod",
		"-hls_segment_filename", filepath.Join(outputDir, "seg_%v_%03d.ts"),
		"-master_pl_name", "master.m3u8",
		"-var_stream_map", strings.Join(varStreamMap, " "),
		filepath.Join(outputDir, "%v.m3u8"),
	)
	return &HLSPlan{Args: args, OutputDir: outputDir, Tiers: tiers}, nil
}

func doubledRate(bitrate string) string {
	trimmed := strings.TrimSuffix(bitrate, "k")
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return bitrate
	}
	return strconv.Itoa(value*2) + "k"
}

// progressParser turns ffmpeg -progress key=value lines into percentages.
type progressParser struct {
	durationUS float64
}

func newProgressParser(duration float64) *progressParser {
	return &progressParser{durationUS: duration * 1e6}
}

// Parse returns (percent, true) when the line advances progress.
func (p *progressParser) Parse(line string) (int, bool) {
	key, value, found := strings.Cut(strings.TrimSpace(line), "=")
	if !found || key != "out_time_us" || p.durationUS <= 0 {
		return 0, false
	}
	outTime, err := strconv.ParseFloat(value, 64)
	if err != nil || outTime < 0 {
		return 0, false
	}
	percent := int(outTime / p.durationUS * 100)
	if percent > 100 {
		percent = 100
	}
	return percent, true
}
