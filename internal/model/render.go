package model

import (
	"fmt"
	"strconv"
	"strings"
)

// RenderRequest is the body of POST /jobs: either an explicit config or a
// template reference with variable values.
type RenderRequest struct {
	RenderConfig
	TemplateID string         `json:"template_id,omitempty"`
	Variables  map[string]any `json:"variables,omitempty"`
}

// RenderConfig describes the video to produce
type RenderConfig struct {
	Segments        []Segment `json:"segments" validate:"required,min=1,dive"`
	BackgroundAudio string    `json:"backgroundAudio,omitempty"`
	Resize          string    `json:"resize" validate:"required,resolution"`
	FPS             int       `json:"fps" validate:"required,oneof=24 25 30 50 60"`
	MaxDuration     float64   `json:"maxDuration,omitempty" validate:"omitempty,gt=0,max=90"`
}

// Segment is one image or video piece of the output
type Segment struct {
	ID           string       `json:"id,omitempty"`
	Type         SegmentType  `json:"type" validate:"required,oneof=image video"`
	MediaURL     string       `json:"mediaUrl" validate:"required"`
	Duration     float64      `json:"duration,omitempty" validate:"omitempty,gt=0"`
	TrimStart    float64      `json:"trimStart,omitempty" validate:"omitempty,gte=0"`
	TrimEnd      float64      `json:"trimEnd,omitempty" validate:"omitempty,gt=0"`
	Text         string       `json:"text,omitempty"`
	TextPosition TextPosition `json:"textPosition,omitempty" validate:"omitempty,oneof=center top bottom"`
	FontSize     int          `json:"fontSize,omitempty" validate:"omitempty,min=8,max=400"`
	FontColor    string       `json:"fontColor,omitempty" validate:"omitempty,fontcolor"`
	Transition   Transition   `json:"transition,omitempty" validate:"omitempty,oneof=none fadein fadeout crossfadein fade"`
}

// ClipDuration returns the length in seconds of the clip the segment
// produces. Videos with a trim end use trimEnd - trimStart.
func (s Segment) ClipDuration() float64 {
	if s.Type == SegmentTypeVideo && s.TrimEnd > 0 {
		return s.TrimEnd - s.TrimStart
	}
	return s.Duration
}

// TotalDuration sums the clip durations of all segments.
func (c RenderConfig) TotalDuration() float64 {
	var total float64
	for _, seg := range c.Segments {
		total += seg.ClipDuration()
	}
	return total
}

// Dimensions parses Resize.
func (c RenderConfig) Dimensions() (int, int, error) {
	return ParseResolution(c.Resize)
}

// Clone returns a deep copy.
func (c RenderConfig) Clone() RenderConfig {
	out := c
	if c.Segments != nil {
		out.Segments = make([]Segment, len(c.Segments))
		copy(out.Segments, c.Segments)
	}
	return out
}

// ApplyDefaults fills unset optional fields.
func (c *RenderConfig) ApplyDefaults() {
	if c.Resize == "" {
		c.Resize = DefaultResize
	}
	if c.FPS == 0 {
		c.FPS = DefaultFPS
	}
	if c.MaxDuration == 0 {
		c.MaxDuration = MaxDurationSeconds
	}
	for i := range c.Segments {
		seg := &c.Segments[i]
		if seg.TextPosition == "" {
			seg.TextPosition = TextPositionCenter
		}
		if seg.FontSize == 0 {
			seg.FontSize = DefaultFontSize
		}
		if seg.FontColor == "" {
			seg.FontColor = DefaultFontColor
		}
		if seg.Transition == "" {
			seg.Transition = TransitionNone
		}
	}
}

// ParseResolution parses "WxH" into positive even dimensions no larger
// than MaxDimension.
func ParseResolution(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q must be WIDTHxHEIGHT", s)
	}

	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: invalid width", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("resolution %q: invalid height", s)
	}

	for _, d := range []int{w, h} {
		if d <= 0 || d > MaxDimension {
			return 0, 0, fmt.Errorf("resolution %q: dimensions must be between 1 and %d", s, MaxDimension)
		}
		if d%2 != 0 {
			return 0, 0, fmt.Errorf("resolution %q: dimensions must be even", s)
		}
	}

	return w, h, nil
}
