// Package display owns the physical output. Each backend acquires its
// device once, rasterizes draw commands into pixels and pushes them out.
package display

import (
	"errors"
	"image"

	"wisepi/internal/model"
)

var (
	// ErrAcquisition means no usable device could be opened. There is no
	// headless fallback; callers exit non-zero.
	ErrAcquisition = errors.New("display: acquisition failed")
	// ErrFatal marks a present failure after which the device cannot be
	// trusted anymore.
	ErrFatal = errors.New("display: fatal device error")
	// ErrTooSoon is returned by refresh-limited panels when a present comes
	// before the minimum interval has elapsed. The frame was not shown.
	ErrTooSoon = errors.New("display: refresh interval not elapsed")
)

// Backend is one output device.
type Backend interface {
	Name() string
	// Acquire opens the device and returns the canvas to lay out against.
	Acquire() (model.CanvasGeometry, error)
	// Present rasterizes and shows a full frame.
	Present(frame model.Frame) error
	// Release gives the device back. Safe to call more than once.
	Release() error
}

// Previewer is implemented by backends that keep the last presented image.
type Previewer interface {
	Preview() image.Image
}

// Margins are applied on top of the device size to build the canvas.
type Margins struct {
	Left        int
	Right       int
	Top         int
	LineSpacing int
}

func (m Margins) geometry(w, h int) model.CanvasGeometry {
	return model.CanvasGeometry{
		Width:       w,
		Height:      h,
		MarginLeft:  m.Left,
		MarginRight: m.Right,
		MarginTop:   m.Top,
		LineSpacing: m.LineSpacing,
	}
}
