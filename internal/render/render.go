// Package render turns a quote and canvas geometry into draw commands. The
// two policies differ in vertical placement and in what they do when no font
// candidate fits.
package render

import (
	"errors"
	"fmt"

	"wisepi/internal/model"
	"wisepi/internal/textfit"
)

// ErrFitFailure is reported by policies that skip the frame when the text
// does not fit at any candidate size.
var ErrFitFailure = errors.New("render: fit failure")

// Policy lays out a quote for a canvas.
type Policy interface {
	Name() string
	Layout(q model.Quote, geo model.CanvasGeometry) (model.Frame, error)
}

// TopAnchored stacks lines from the top margin downward. Overflow below
// the bottom edge is accepted; the smallest candidate is used then.
type TopAnchored struct {
	Sizer      textfit.Sizer
	Candidates []model.FontCandidate
}

func (p *TopAnchored) Name() string { return "top-anchored" }

func (p *TopAnchored) Layout(q model.Quote, geo model.CanvasGeometry) (model.Frame, error) {
	res, idx, err := textfit.Fit(q, geo, p.Candidates, p.Sizer)
	overflow := errors.Is(err, textfit.ErrOverflow)
	if err != nil && !overflow {
		return model.Frame{}, err
	}
	frame := buildFrame(q, res, p.Candidates[idx], geo.MarginLeft, geo.MarginTop)
	frame.FontIndex = idx
	frame.Overflow = overflow
	return frame, nil
}

// Centered picks the largest candidate that fits and centers the block
// vertically. When nothing fits it returns ErrFitFailure and no commands.
type Centered struct {
	Sizer      textfit.Sizer
	Candidates []model.FontCandidate
}

func (p *Centered) Name() string { return "centered" }

func (p *Centered) Layout(q model.Quote, geo model.CanvasGeometry) (model.Frame, error) {
	res, idx, err := textfit.Fit(q, geo, p.Candidates, p.Sizer)
	if errors.Is(err, textfit.ErrOverflow) {
		return model.Frame{}, fmt.Errorf("%w: %d px needed, %d available", ErrFitFailure, res.TotalHeight, geo.ContentHeight())
	}
	if err != nil {
		return model.Frame{}, err
	}
	startY := geo.MarginTop + (geo.ContentHeight()-res.TotalHeight)/2
	frame := buildFrame(q, res, p.Candidates[idx], geo.MarginLeft, startY)
	frame.FontIndex = idx
	return frame, nil
}

func buildFrame(q model.Quote, res model.LayoutResult, c model.FontCandidate, x, y0 int) model.Frame {
	frame := model.Frame{Quote: q, Commands: make([]model.DrawCommand, 0, len(res.Lines))}
	for _, line := range res.Lines {
		if line.Role == model.RoleGap {
			continue
		}
		size := c.Quote.Size
		if line.Role == model.RoleAuthor {
			size = c.Author.Size
		}
		frame.Commands = append(frame.Commands, model.DrawCommand{
			Text: line.Text,
			X:    x,
			Y:    y0 + line.OffsetY,
			Role: line.Role,
			Size: size,
		})
	}
	return frame
}
