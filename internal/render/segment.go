package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/clipcraft/api/internal/client"
	"github.com/clipcraft/api/internal/model"
)

const fadeSeconds = 0.5

// Target is the output format shared by every clip of a job.
type Target struct {
	Width  int
	Height int
	FPS    int
	// Audio is a local background track used by the concatenator.
	Audio string
}

// Encoding holds the H.264/AAC settings for all transcoder calls.
type Encoding struct {
	Preset       string
	CRF          int
	AudioBitrate string
}

func (e Encoding) videoOptions(fps int) []string {
	preset := e.Preset
	if preset == "" {
		preset = "veryfast"
	}
	crf := e.CRF
	if crf <= 0 {
		crf = 23
	}
	return []string{
		"-c:v", "libx264",
		"-preset", preset,
		"-crf", strconv.Itoa(crf),
		"-pix_fmt", "yuv420p",
		"-r", strconv.Itoa(fps),
	}
}

// SegmentRenderer turns one segment into a fixed-format clip.
type SegmentRenderer struct {
	transcoder client.Transcoder
	compositor *Compositor
	fetcher    Fetcher
	encoding   Encoding
}

func NewSegmentRenderer(t client.Transcoder, c *Compositor, f Fetcher, enc Encoding) *SegmentRenderer {
	return &SegmentRenderer{transcoder: t, compositor: c, fetcher: f, encoding: enc}
}

// Render writes clip_<index>.mp4 into outDir. Every failure is returned as
// a *SegmentRenderError.
func (r *SegmentRenderer) Render(ctx context.Context, seg model.Segment, target Target, outDir string, index int) (string, error) {
	clip, err := r.render(ctx, seg, target, outDir, index)
	if err != nil {
		return "", &SegmentRenderError{Index: index, Cause: err}
	}
	return clip, nil
}

func (r *SegmentRenderer) render(ctx context.Context, seg model.Segment, target Target, outDir string, index int) (string, error) {
	dur := seg.ClipDuration()
	if dur <= 0 {
		return "", fmt.Errorf("segment has no duration")
	}

	src, err := r.fetcher.Fetch(ctx, seg.MediaURL, outDir, fmt.Sprintf("media_%03d", index))
	if err != nil {
		return "", err
	}

	clip := filepath.Join(outDir, fmt.Sprintf("clip_%03d.mp4", index))
	inv := client.Invocation{
		VideoFilter:   clipFilter(target, seg.Transition, dur),
		OutputOptions: append(append([]string{"-an"}, r.encoding.videoOptions(target.FPS)...), "-t", seconds(dur)),
		Output:        clip,
	}

	switch seg.Type {
	case model.SegmentTypeImage:
		frame, err := r.composeFrame(seg, target, src, filepath.Join(outDir, fmt.Sprintf("frame_%03d.png", index)))
		if err != nil {
			return "", err
		}
		inv.Inputs = []client.Input{{
			Path:    frame,
			Options: []string{"-loop", "1", "-framerate", strconv.Itoa(target.FPS), "-t", seconds(dur)},
		}}
	case model.SegmentTypeVideo:
		inv.Inputs = []client.Input{{
			Path:    src,
			Options: []string{"-ss", seconds(seg.TrimStart), "-t", seconds(dur)},
		}}
		if strings.TrimSpace(seg.Text) == "" {
			break
		}
		overlay, err := r.compositor.RenderOverlay(FrameSpec{
			Width:   target.Width,
			Height:  target.Height,
			Text:    textBlock(seg),
			OutPath: filepath.Join(outDir, fmt.Sprintf("overlay_%03d.png", index)),
		})
		if err != nil {
			return "", err
		}
		inv.Inputs = append(inv.Inputs, client.Input{
			Path:    overlay,
			Options: []string{"-loop", "1", "-framerate", strconv.Itoa(target.FPS)},
		})
		inv.VideoFilter = ""
		inv.FilterComplex = overlayGraph(target, seg.Transition, dur)
		inv.OutputOptions = append([]string{"-map", "[v]"}, inv.OutputOptions...)
	default:
		return "", fmt.Errorf("unsupported segment type %q", seg.Type)
	}

	if err := r.transcoder.Run(ctx, inv); err != nil {
		return "", err
	}

	if st, err := os.Stat(clip); err != nil || st.Size() == 0 {
		return "", errors.New("transcoder produced no clip")
	}
	return clip, nil
}

func (r *SegmentRenderer) composeFrame(seg model.Segment, target Target, background, out string) (string, error) {
	spec := FrameSpec{
		Width:      target.Width,
		Height:     target.Height,
		Background: background,
		OutPath:    out,
	}
	if seg.Text != "" {
		spec.Text = textBlock(seg)
	}
	return r.compositor.Render(spec)
}

func textBlock(seg model.Segment) *TextBlock {
	fill, err := model.ParseColor(seg.FontColor)
	if err != nil {
		fill, _ = model.ParseColor(model.DefaultFontColor)
	}
	return &TextBlock{
		Text:     seg.Text,
		Position: seg.TextPosition,
		FontSize: seg.FontSize,
		Color:    fill,
	}
}

// clipFilter normalizes any source to the target geometry and frame rate,
// then applies the segment's fade.
func clipFilter(target Target, tr model.Transition, dur float64) string {
	return normalizeFilter(target) + fadeFilter(tr, dur)
}

func normalizeFilter(target Target) string {
	w, h := target.Width, target.Height
	return fmt.Sprintf(
		"scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2:black,setsar=1,fps=%d,format=yuv420p",
		w, h, w, h, target.FPS,
	)
}

// fadeFilter returns the fade chain for tr, with a leading comma, or "".
// Clips are joined with a hard cut, so a cross fade is rendered as the
// incoming clip fading in from black.
func fadeFilter(tr model.Transition, dur float64) string {
	fade := math.Min(fadeSeconds, dur/2)
	switch tr {
	case model.TransitionFadeIn, model.TransitionCrossFadeIn:
		return fmt.Sprintf(",fade=t=in:st=0:d=%s", seconds(fade))
	case model.TransitionFadeOut:
		return fmt.Sprintf(",fade=t=out:st=%s:d=%s", seconds(dur-fade), seconds(fade))
	case model.TransitionFade:
		return fmt.Sprintf(",fade=t=in:st=0:d=%s,fade=t=out:st=%s:d=%s", seconds(fade), seconds(dur-fade), seconds(fade))
	}
	return ""
}

// overlayGraph scales the footage, lays the full-frame text PNG from the
// second input over it, then fades both together.
func overlayGraph(target Target, tr model.Transition, dur float64) string {
	return fmt.Sprintf("[0:v]%s[base];[base][1:v]overlay=0:0:format=auto:shortest=1,format=yuv420p%s[v]",
		normalizeFilter(target), fadeFilter(tr, dur))
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
