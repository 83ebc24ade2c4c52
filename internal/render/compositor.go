package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"go.uber.org/zap"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"

	"github.com/clipcraft/api/internal/model"
	"github.com/clipcraft/api/pkg/logger"
)

const (
	marginRatio     = 0.08
	lineHeightRatio = 1.25
)

// ImageBackend loads, measures and writes rasters for the Compositor.
type ImageBackend interface {
	LoadImage(ref string) (image.Image, error)
	MeasureTextWidth(face font.Face, text string) float64
	WriteImage(img image.Image, path string) error
}

// FileBackend is the filesystem ImageBackend.
type FileBackend struct{}

func (FileBackend) LoadImage(ref string) (image.Image, error) {
	return imaging.Open(ref, imaging.AutoOrientation(true))
}

func (FileBackend) MeasureTextWidth(face font.Face, text string) float64 {
	return float64(font.MeasureString(face, text)) / 64
}

func (FileBackend) WriteImage(img image.Image, path string) error {
	return imaging.Save(img, path)
}

// TextBlock is an overlay drawn on a frame.
type TextBlock struct {
	Text     string
	Position model.TextPosition
	FontSize int
	Color    color.Color
}

// FrameSpec describes one still to render.
type FrameSpec struct {
	Width      int
	Height     int
	Background string
	Text       *TextBlock
	OutPath    string
}

// Compositor draws still frames with a text overlay.
type Compositor struct {
	backend ImageBackend
	font    *truetype.Font
	log     *zap.Logger
}

func NewCompositor(backend ImageBackend, log *zap.Logger) (*Compositor, error) {
	f, err := truetype.Parse(gobold.TTF)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	return &Compositor{
		backend: backend,
		font:    f,
		log:     logger.OrNop(log).Named("compositor"),
	}, nil
}

// Render writes a Width x Height PNG to spec.OutPath. A background that
// cannot be decoded is replaced by a black canvas.
func (c *Compositor) Render(spec FrameSpec) (string, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return "", fmt.Errorf("invalid frame size %dx%d", spec.Width, spec.Height)
	}

	dc := gg.NewContextForImage(c.background(spec))

	if spec.Text != nil && strings.TrimSpace(spec.Text.Text) != "" {
		c.drawText(dc, spec)
	}

	if err := c.backend.WriteImage(dc.Image(), spec.OutPath); err != nil {
		return "", fmt.Errorf("failed to write frame: %w", err)
	}
	return spec.OutPath, nil
}

// RenderOverlay writes a transparent Width x Height PNG holding only the
// text block, for compositing over moving footage.
func (c *Compositor) RenderOverlay(spec FrameSpec) (string, error) {
	if spec.Width <= 0 || spec.Height <= 0 {
		return "", fmt.Errorf("invalid frame size %dx%d", spec.Width, spec.Height)
	}
	if spec.Text == nil || strings.TrimSpace(spec.Text.Text) == "" {
		return "", fmt.Errorf("overlay has no text")
	}

	dc := gg.NewContextForImage(imaging.New(spec.Width, spec.Height, color.Transparent))
	c.drawText(dc, spec)

	if err := c.backend.WriteImage(dc.Image(), spec.OutPath); err != nil {
		return "", fmt.Errorf("failed to write overlay: %w", err)
	}
	return spec.OutPath, nil
}

func (c *Compositor) background(spec FrameSpec) image.Image {
	if spec.Background != "" {
		img, err := c.backend.LoadImage(spec.Background)
		if err == nil {
			return imaging.Fill(img, spec.Width, spec.Height, imaging.Center, imaging.Lanczos)
		}
		c.log.Warn("background could not be decoded, using solid canvas",
			zap.String("background", spec.Background), zap.Error(err))
	}
	return imaging.New(spec.Width, spec.Height, color.Black)
}

func (c *Compositor) drawText(dc *gg.Context, spec FrameSpec) {
	tb := spec.Text
	size := tb.FontSize
	if size <= 0 {
		size = model.DefaultFontSize
	}

	face := truetype.NewFace(c.font, &truetype.Options{Size: float64(size), DPI: 72})
	defer face.Close()
	dc.SetFontFace(face)

	w, h := float64(spec.Width), float64(spec.Height)
	maxWidth := w - 2*w*marginRatio
	lines := wrapText(func(s string) float64 { return c.backend.MeasureTextWidth(face, s) }, tb.Text, maxWidth)

	lineHeight := float64(size) * lineHeightRatio
	top := blockTop(tb.Position, h, lineHeight*float64(len(lines)), h*marginRatio)
	shadow := math.Max(2, float64(size)/24)

	fill := tb.Color
	if fill == nil {
		fill = color.White
	}

	for i, line := range lines {
		y := top + lineHeight*(float64(i)+0.5)
		dc.SetRGBA(0, 0, 0, 0.6)
		dc.DrawStringAnchored(line, w/2+shadow, y+shadow, 0.5, 0.5)
		dc.SetColor(fill)
		dc.DrawStringAnchored(line, w/2, y, 0.5, 0.5)
	}
}

// blockTop returns the y of the first line's box for a block of the given
// height.
func blockTop(pos model.TextPosition, canvasHeight, blockHeight, margin float64) float64 {
	switch pos {
	case model.TextPositionTop:
		return margin
	case model.TextPositionBottom:
		return canvasHeight - margin - blockHeight
	default:
		return (canvasHeight - blockHeight) / 2
	}
}

// wrapText splits text on newlines, then greedily packs words into lines
// whose measured width stays within maxWidth. A word wider than maxWidth
// gets a line of its own.
func wrapText(measure func(string) float64, text string, maxWidth float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			lines = append(lines, "")
			continue
		}

		line := words[0]
		for _, word := range words[1:] {
			candidate := line + " " + word
			if measure(candidate) <= maxWidth {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = word
		}
		lines = append(lines, line)
	}
	return lines
}
