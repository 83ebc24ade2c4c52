package model

import (
	"image/color"
	"testing"
)

func TestParseResolution(t *testing.T) {
	tests := []struct {
		input   string
		w, h    int
		wantErr bool
	}{
		{"1080x1080", 1080, 1080, false},
		{"640X480", 640, 480, false},
		{" 1920x1080 ", 1920, 1080, false},
		{"641x480", 0, 0, true},
		{"0x480", 0, 0, true},
		{"8192x480", 0, 0, true},
		{"640", 0, 0, true},
		{"axb", 0, 0, true},
		{"", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			w, h, err := ParseResolution(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResolution(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("ParseResolution(%q) = %dx%d, want %dx%d", tt.input, w, h, tt.w, tt.h)
			}
		})
	}
}

func TestClipDuration(t *testing.T) {
	tests := []struct {
		name     string
		seg      Segment
		expected float64
	}{
		{"image", Segment{Type: SegmentTypeImage, Duration: 3}, 3},
		{"video trimmed", Segment{Type: SegmentTypeVideo, TrimStart: 2, TrimEnd: 6.5}, 4.5},
		{"video by duration", Segment{Type: SegmentTypeVideo, TrimStart: 2, Duration: 3}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.seg.ClipDuration(); got != tt.expected {
				t.Errorf("ClipDuration() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := RenderConfig{Segments: []Segment{{Type: SegmentTypeImage, MediaURL: "a.png", Duration: 2}}}
	cfg.ApplyDefaults()

	if cfg.Resize != DefaultResize || cfg.FPS != DefaultFPS || cfg.MaxDuration != MaxDurationSeconds {
		t.Errorf("unexpected config defaults: %+v", cfg)
	}
	seg := cfg.Segments[0]
	if seg.TextPosition != TextPositionCenter || seg.FontSize != DefaultFontSize || seg.FontColor != DefaultFontColor || seg.Transition != TransitionNone {
		t.Errorf("unexpected segment defaults: %+v", seg)
	}
}

func TestJobCloneIsDeep(t *testing.T) {
	idx := 1
	job := &Job{
		ID:            "j1",
		Config:        RenderConfig{Segments: []Segment{{MediaURL: "a.png"}}},
		FailedSegment: &idx,
	}

	cp := job.Clone()
	cp.Config.Segments[0].MediaURL = "b.png"
	*cp.FailedSegment = 7

	if job.Config.Segments[0].MediaURL != "a.png" {
		t.Error("clone shares segment storage with the original")
	}
	if *job.FailedSegment != 1 {
		t.Error("clone shares failed segment pointer with the original")
	}
}

func TestParseColor(t *testing.T) {
	tests := []struct {
		input    string
		expected color.RGBA
		wantErr  bool
	}{
		{"#ffffff", color.RGBA{255, 255, 255, 255}, false},
		{"#f00", color.RGBA{255, 0, 0, 255}, false},
		{"#FFCC00", color.RGBA{255, 204, 0, 255}, false},
		{"yellow", color.RGBA{255, 255, 0, 255}, false},
		{"#ffff", color.RGBA{}, true},
		{"#gggggg", color.RGBA{}, true},
		{"notacolor", color.RGBA{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseColor(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseColor(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.expected {
				t.Errorf("ParseColor(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}
