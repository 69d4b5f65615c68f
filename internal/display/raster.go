package display

import (
	"fmt"
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"golang.org/x/image/font"

	"wisepi/internal/fonts"
	"wisepi/internal/model"
)

// FaceSource hands out sized faces per text role. *fonts.Loader satisfies it.
type FaceSource interface {
	Face(role model.Role, spec model.FontSpec) (font.Face, error)
}

// Rasterizer draws a frame's commands onto an RGBA canvas.
type Rasterizer struct {
	Faces      FaceSource
	Families   []string
	Foreground color.Color
	Background color.Color
}

// Rasterize paints the background and every command. Command Y is the top
// of the line box, so the face ascent is added to get the baseline.
func (r *Rasterizer) Rasterize(frame model.Frame, w, h int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	dc := gg.NewContextForRGBA(img)

	bg, fg := r.Background, r.Foreground
	if bg == nil {
		bg = color.White
	}
	if fg == nil {
		fg = color.Black
	}
	dc.SetColor(bg)
	dc.Clear()
	dc.SetColor(fg)

	for _, cmd := range frame.Commands {
		face, err := r.Faces.Face(cmd.Role, model.FontSpec{Families: r.Families, Size: cmd.Size})
		if err != nil {
			return nil, fmt.Errorf("display: face for %s: %w", cmd.Role, err)
		}
		dc.SetFontFace(face)
		// Same line box the layout measured with.
		ascent := fonts.FaceMetrics{Face: face}.Ascent()
		dc.DrawString(cmd.Text, float64(cmd.X), float64(cmd.Y+ascent))
	}
	return img, nil
}
