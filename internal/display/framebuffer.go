package display

import (
	"errors"
	"fmt"
	"image"
	"os"
	"strings"
	"sync"

	"wisepi/internal/convert"
	appLog "wisepi/internal/log"
	"wisepi/internal/model"
	"wisepi/internal/probe"
)

// Environment variables consulted while probing, kept compatible with the
// SDL names the console setups on these boards already export.
const (
	EnvVideoDriver = "SDL_VIDEODRIVER"
	EnvFBDev       = "SDL_FBDEV"
	EnvAudioDriver = "SDL_AUDIODRIVER"

	DefaultFBDevice = "/dev/fb0"
)

// DefaultDrivers is the probe order: mapped fbdev first, plain console
// writes second.
var DefaultDrivers = []string{"fbdev", "fbcon"}

// fbDevice is an opened linear framebuffer.
type fbDevice interface {
	Size() (w, h int)
	Format() convert.PixelFormat
	Stride() int
	// Write copies a full packed frame to the start of video memory.
	Write(buf []byte) error
	Close() error
}

type fbOpener func(driver, path string) (fbDevice, error)

// Framebuffer drives a continuous framebuffer surface. The canvas is a
// fixed Width x Height area in the top-left corner of the device.
type Framebuffer struct {
	Width   int
	Height  int
	Margins Margins
	Drivers []string
	Device  string
	Raster  *Rasterizer

	open fbOpener

	mu      sync.Mutex
	dev     fbDevice
	driver  string
	buf     []byte
	last    *image.RGBA
	release sync.Once
}

func (f *Framebuffer) Name() string { return "framebuffer" }

// Acquire walks the driver candidates. The environment selection is set for
// each attempt so helpers spawned later see the driver that was bound.
func (f *Framebuffer) Acquire() (model.CanvasGeometry, error) {
	if f.Width <= 0 || f.Height <= 0 {
		return model.CanvasGeometry{}, fmt.Errorf("%w: invalid size %dx%d", ErrAcquisition, f.Width, f.Height)
	}
	if os.Getenv(EnvAudioDriver) == "" {
		_ = os.Setenv(EnvAudioDriver, "dummy")
	}

	drivers := f.Drivers
	if len(drivers) == 0 {
		drivers = DefaultDrivers
	}
	drivers = preferDriver(drivers, os.Getenv(EnvVideoDriver))
	path := f.Device
	if env := os.Getenv(EnvFBDev); env != "" {
		path = env
	}
	if path == "" {
		path = DefaultFBDevice
	}
	open := f.open
	if open == nil {
		open = openFB
	}

	strategies := make([]probe.Strategy[fbDevice], 0, len(drivers))
	for _, name := range drivers {
		name := name
		var opened fbDevice
		strategies = append(strategies, probe.Strategy[fbDevice]{
			Name: name,
			Acquire: func() (fbDevice, error) {
				if err := os.Setenv(EnvVideoDriver, name); err != nil {
					return nil, err
				}
				dev, err := open(name, path)
				if err != nil {
					return nil, err
				}
				opened = dev
				if err := checkFB(dev, f.Width, f.Height); err != nil {
					return nil, err
				}
				return dev, nil
			},
			Release: func() {
				if opened != nil {
					_ = opened.Close()
					opened = nil
				}
			},
		})
	}

	res, err := probe.First(strategies, func(name string, err error) {
		appLog.EventError(appLog.TagBoot, "video driver failed", err, "driver", name, "device", path)
	})
	if err != nil {
		return model.CanvasGeometry{}, fmt.Errorf("%w: %w", ErrAcquisition, err)
	}

	f.mu.Lock()
	f.dev = res.Value
	f.driver = res.Name
	f.buf = make([]byte, (f.Height-1)*res.Value.Stride()+f.Width*res.Value.Format().BytesPerPixel())
	f.mu.Unlock()

	w, h := res.Value.Size()
	appLog.Event(appLog.TagBoot, "video driver", "driver", res.Name, "device", path,
		"mode", fmt.Sprintf("%dx%d", w, h), "bpp", res.Value.Format().BitsPerPixel)
	return f.Margins.geometry(f.Width, f.Height), nil
}

// preferDriver moves an inherited driver selection to the front of the
// candidates. The rest stay as fallbacks, since the environment may name a
// driver from another stack (e.g. KMSDRM) that cannot be opened here.
func preferDriver(drivers []string, env string) []string {
	env = strings.ToLower(strings.TrimSpace(env))
	if env == "" {
		return drivers
	}
	out := []string{env}
	for _, d := range drivers {
		if d != env {
			out = append(out, d)
		}
	}
	return out
}

func checkFB(dev fbDevice, w, h int) error {
	if err := dev.Format().Validate(); err != nil {
		return err
	}
	dw, dh := dev.Size()
	if dw < w || dh < h {
		return fmt.Errorf("mode %dx%d smaller than canvas %dx%d", dw, dh, w, h)
	}
	return nil
}

// Present rasterizes and writes the frame. A write failure means the device
// went away and is reported as ErrFatal.
func (f *Framebuffer) Present(frame model.Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dev == nil {
		return errors.New("display: framebuffer not acquired")
	}

	img, err := f.Raster.Rasterize(frame, f.Width, f.Height)
	if err != nil {
		return err
	}
	if err := convert.Pack(img, f.dev.Format(), f.dev.Stride(), f.buf); err != nil {
		return err
	}
	if err := f.dev.Write(f.buf); err != nil {
		return fmt.Errorf("%w: %s write: %w", ErrFatal, f.driver, err)
	}
	f.last = img
	return nil
}

func (f *Framebuffer) Release() error {
	var err error
	f.release.Do(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.dev == nil {
			return
		}
		err = f.dev.Close()
		f.dev = nil
		appLog.Event(appLog.TagDisp, "framebuffer released", "driver", f.driver)
	})
	return err
}

// Preview implements Previewer.
func (f *Framebuffer) Preview() image.Image {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.last == nil {
		return nil
	}
	return f.last
}
