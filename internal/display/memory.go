package display

import (
	"fmt"
	"image"
	"sync"

	"github.com/disintegration/imaging"

	appLog "wisepi/internal/log"
	"wisepi/internal/model"
)

// Memory renders into an in-process image only. It backs --render-only
// and can dump each presented frame as PNG.
type Memory struct {
	Width    int
	Height   int
	Margins  Margins
	Raster   *Rasterizer
	DumpPath string

	mu       sync.Mutex
	last     *image.RGBA
	presents int
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) Acquire() (model.CanvasGeometry, error) {
	if m.Width <= 0 || m.Height <= 0 {
		return model.CanvasGeometry{}, fmt.Errorf("%w: invalid size %dx%d", ErrAcquisition, m.Width, m.Height)
	}
	appLog.Event(appLog.TagDisp, "memory canvas", "width", m.Width, "height", m.Height)
	return m.Margins.geometry(m.Width, m.Height), nil
}

func (m *Memory) Present(frame model.Frame) error {
	img, err := m.Raster.Rasterize(frame, m.Width, m.Height)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.last = img
	m.presents++
	m.mu.Unlock()

	if m.DumpPath != "" {
		if err := imaging.Save(img, m.DumpPath); err != nil {
			return fmt.Errorf("display: dump %s: %w", m.DumpPath, err)
		}
		appLog.Event(appLog.TagDisp, "frame written", "path", m.DumpPath)
	}
	return nil
}

func (m *Memory) Release() error { return nil }

// Preview implements Previewer.
func (m *Memory) Preview() image.Image {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return nil
	}
	return m.last
}

// Presents counts successful presents.
func (m *Memory) Presents() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.presents
}
