package display

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"periph.io/x/conn/v3/spi"
	"periph.io/x/conn/v3/spi/spireg"
	"periph.io/x/devices/v3/waveshare2in13v4"
	"periph.io/x/host/v3"

	"wisepi/internal/convert"
	appLog "wisepi/internal/log"
	"wisepi/internal/model"
)

// Panel is the part of an e-paper driver the backend needs. Close releases
// the bus the panel sits on and leaves the image on the glass.
type Panel interface {
	Init() error
	Clear(c color.Color) error
	Draw(r image.Rectangle, src image.Image, sp image.Point) error
	Sleep() error
	Bounds() image.Rectangle
	Close() error
}

// hat ties the waveshare driver to the SPI port it was opened on.
type hat struct {
	*waveshare2in13v4.Dev
	port spi.PortCloser
}

func (h *hat) Close() error { return h.port.Close() }

// EPaper is a single-shot refresh panel. Each present pushes the whole
// buffer; there are no partial updates.
type EPaper struct {
	Margins Margins
	// Rotation in degrees counter-clockwise (0, 90, 180, 270) applied to the
	// canvas before it is pushed, to match the physical mounting.
	Rotation int
	// MinInterval rejects presents that come too quickly after the last
	// attempt that reached the panel, successful or not.
	MinInterval time.Duration
	Raster      *Rasterizer

	open func() (Panel, error)
	now  func() time.Time

	mu          sync.Mutex
	panel       Panel
	w, h        int
	asleep      bool
	lastPresent time.Time
	last        *image.RGBA
	release     sync.Once
}

func (e *EPaper) Name() string { return "epaper" }

// Acquire initializes the controller and clears it once.
func (e *EPaper) Acquire() (model.CanvasGeometry, error) {
	switch e.Rotation {
	case 0, 90, 180, 270:
	default:
		return model.CanvasGeometry{}, fmt.Errorf("%w: unsupported rotation %d", ErrAcquisition, e.Rotation)
	}
	open := e.open
	if open == nil {
		open = openWaveshare
	}

	panel, err := open()
	if err != nil {
		return model.CanvasGeometry{}, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}
	if err := panel.Init(); err != nil {
		_ = panel.Close()
		return model.CanvasGeometry{}, fmt.Errorf("%w: init: %w", ErrAcquisition, err)
	}
	if err := panel.Clear(color.White); err != nil {
		_ = panel.Close()
		return model.CanvasGeometry{}, fmt.Errorf("%w: clear: %w", ErrAcquisition, err)
	}

	b := panel.Bounds()
	w, h := b.Dx(), b.Dy()
	if e.Rotation == 90 || e.Rotation == 270 {
		w, h = h, w
	}

	e.mu.Lock()
	e.panel = panel
	e.w, e.h = w, h
	e.mu.Unlock()

	appLog.Event(appLog.TagBoot, "e-paper ready", "canvas", fmt.Sprintf("%dx%d", w, h), "rotation", e.Rotation)
	return e.Margins.geometry(w, h), nil
}

// Present rasterizes, rotates, thresholds to 1 bit and pushes the frame.
// The panel is put to sleep afterwards and woken again on the next call.
func (e *EPaper) Present(frame model.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.panel == nil {
		return errors.New("display: e-paper not acquired")
	}

	now := time.Now()
	if e.now != nil {
		now = e.now()
	}
	if !e.lastPresent.IsZero() && now.Sub(e.lastPresent) < e.MinInterval {
		return fmt.Errorf("%w: next refresh in %s", ErrTooSoon, e.MinInterval-now.Sub(e.lastPresent))
	}

	img, err := e.Raster.Rasterize(frame, e.w, e.h)
	if err != nil {
		return err
	}
	bounds := e.panel.Bounds()
	mono := convert.ToMono(rotate(img, e.Rotation), bounds)

	// 실패한 시도도 패널을 건드리므로 간격 계산에 포함한다.
	e.lastPresent = now
	if e.asleep {
		if err := e.panel.Init(); err != nil {
			return fmt.Errorf("display: e-paper wake: %w", err)
		}
		e.asleep = false
	}
	if err := e.panel.Draw(bounds, mono, image.Point{}); err != nil {
		return fmt.Errorf("display: e-paper draw: %w", err)
	}
	if err := e.panel.Sleep(); err != nil {
		appLog.EventError(appLog.TagDisp, "e-paper sleep failed", err)
	} else {
		e.asleep = true
	}

	e.last = img
	return nil
}

// Release closes the bus. The panel is not cleared: it holds the last
// image unpowered.
func (e *EPaper) Release() error {
	var err error
	e.release.Do(func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		if e.panel == nil {
			return
		}
		err = e.panel.Close()
		e.panel = nil
		appLog.Event(appLog.TagDisp, "e-paper released")
	})
	return err
}

// Preview implements Previewer. It returns the canvas before rotation.
func (e *EPaper) Preview() image.Image {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.last == nil {
		return nil
	}
	return e.last
}

func rotate(img image.Image, deg int) image.Image {
	switch deg {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	default:
		return img
	}
}

func openWaveshare() (Panel, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	port, err := spireg.Open("")
	if err != nil {
		return nil, fmt.Errorf("open spi: %w", err)
	}
	opts := waveshare2in13v4.EPD2in13v4
	dev, err := waveshare2in13v4.NewHat(port, &opts)
	if err != nil {
		_ = port.Close()
		return nil, fmt.Errorf("waveshare hat: %w", err)
	}
	return &hat{Dev: dev, port: port}, nil
}
