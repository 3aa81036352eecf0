package media

import (
	"strings"
	"testing"
)

func TestBuildLadder(t *testing.T) {
	tests := []struct {
		name         string
		sourceHeight int
		wantHeights  []int
	}{
		{name: "1080p source", sourceHeight: 1080, wantHeights: []int{1080, 720, 480, 360, 240}},
		{name: "4k source", sourceHeight: 2160, wantHeights: []int{2160, 1440, 1080, 720, 480, 360, 240}},
		{name: "720p source", sourceHeight: 720, wantHeights: []int{720, 480, 360, 240}},
		{name: "tiny source keeps low tiers", sourceHeight: 200, wantHeights: []int{480, 360, 240}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tiers := BuildLadder(tc.sourceHeight)
			if len(tiers) != len(tc.wantHeights) {
				t.Fatalf("got %d tiers, want %d", len(tiers), len(tc.wantHeights))
			}
			for i, tier := range tiers {
				if tier.Height != tc.wantHeights[i] {
					t.Fatalf("tier %d: got %d, want %d", i, tier.Height, tc.wantHeights[i])
				}
			}
		})
	}
}

func TestStableDimensionsAreEven(t *testing.T) {
	sources := [][2]int{{1920, 1080}, {3840, 2160}, {1280, 720}, {1080, 1920}, {640, 360}, {1366, 768}}
	targets := []int{2160, 1440, 1080, 720, 480, 360, 240}
	for _, src := range sources {
		for _, target := range targets {
			width, height := StableDimensions(src[0], src[1], target)
			if width <= 0 || height <= 0 {
				t.Fatalf("source %v target %d: no dimensions", src, target)
			}
			if width%2 != 0 || height%2 != 0 {
				t.Fatalf("source %v target %d: odd dimensions %dx%d", src, target, width, height)
			}
			if height < target-dimensionSearchRadius-1 || height > target+dimensionSearchRadius+1 {
				t.Fatalf("source %v target %d: height %d outside search radius", src, target, height)
			}
		}
	}
}

func TestStableDimensionsPreservesAspect(t *testing.T) {
	width, height := StableDimensions(1920, 1080, 720)
	if width != 1280 || height != 720 {
		t.Fatalf("16:9 at 720 should stay exact, got %dx%d", width, height)
	}
	width, height = StableDimensions(1920, 1080, 480)
	aspect := float64(width) / float64(height)
	if aspect < 1.70 || aspect > 1.85 {
		t.Fatalf("480 tier drifted too far from 16:9: %dx%d", width, height)
	}
}

func TestBuildHLSPlanArgs(t *testing.T) {
	plan, err := BuildHLSPlan("in.mp4", "/tmp/out", VideoInfo{Width: 1920, Height: 1080, Duration: 60})
	if err != nil {
		t.Fatalf("BuildHLSPlan: %v", err)
	}
	if len(plan.Tiers) != 5 {
		t.Fatalf("expected 5 tiers for 1080p, got %d", len(plan.Tiers))
	}
	joined := strings.Join(plan.Args, " ")
	for _, want := range []string{
		"-c:v libx264",
		"-preset slow",
		"-crf 23",
		"-hls_time 6",
		"seg_%v_%03d.ts",
		"-master_pl_name master.m3u8",
		"name:1080p",
		"name:240p",
	} {
		if !strings.Contains(joined, want) {
			t.Fatalf("args missing %q:\n%s", want, joined)
		}
	}
}

func TestBuildHLSPlanRequiresInput(t *testing.T) {
	if _, err := BuildHLSPlan("", "/tmp/out", VideoInfo{Width: 1920, Height: 1080}); err == nil {
		t.Fatalf("empty input must fail")
	}
}

func TestProgressParser(t *testing.T) {
	parser := newProgressParser(100)
	if _, ok := parser.Parse("frame=42"); ok {
		t.Fatalf("non-time lines should not advance progress")
	}
	percent, ok := parser.Parse("out_time_us=50000000")
	if !ok || percent != 50 {
		t.Fatalf("expected 50%%, got %d %v", percent, ok)
	}
	percent, ok = parser.Parse("out_time_us=200000000")
	if !ok || percent != 100 {
		t.Fatalf("progress must clamp at 100, got %d", percent)
	}
}
