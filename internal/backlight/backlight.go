// Package backlight controls panel brightness through whichever control
// surface the board exposes: a sysfs backlight class device, a PWM capable
// GPIO pin, or nothing at all.
package backlight

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	appLog "wisepi/internal/log"
	"wisepi/internal/model"
	"wisepi/internal/probe"
)

const (
	DefaultSysfsRoot = "/sys/class/backlight"
	DefaultPWMPin    = "GPIO19"
	DefaultPWMFreq   = physic.KiloHertz
)

// Pin is the part of gpio.PinIO the controller drives.
type Pin interface {
	PWM(duty gpio.Duty, f physic.Frequency) error
	Halt() error
}

// Options configures probing. Zero values pick the defaults above.
type Options struct {
	SysfsRoot string
	PWMPin    string
	PWMFreq   physic.Frequency
	// OpenPWM returns the named pin ready for PWM. Defaults to periph's
	// host registry.
	OpenPWM func(name string) (Pin, error)
	// Disabled skips probing entirely, e.g. in render-only mode.
	Disabled bool
}

// Controller is the backlight state machine. The mode is fixed after Probe.
type Controller struct {
	mode model.BacklightMode
	dir  string
	pin  Pin
	freq physic.Frequency

	mu    sync.Mutex
	level float64

	cleanupOnce sync.Once
	cleanupErr  error
}

type surface struct {
	mode model.BacklightMode
	dir  string
	pin  Pin
}

// Probe picks the first working control surface in priority order sysfs,
// PWM, none. It never fails; a board without either ends up in none mode.
func Probe(opts Options) *Controller {
	if opts.Disabled {
		appLog.Event(appLog.TagBL, "backlight control disabled")
		return &Controller{mode: model.BacklightNone, level: 1}
	}
	if opts.SysfsRoot == "" {
		opts.SysfsRoot = DefaultSysfsRoot
	}
	if opts.PWMPin == "" {
		opts.PWMPin = DefaultPWMPin
	}
	if opts.PWMFreq <= 0 {
		opts.PWMFreq = DefaultPWMFreq
	}
	if opts.OpenPWM == nil {
		opts.OpenPWM = openHostPin
	}

	strategies := []probe.Strategy[surface]{
		{
			Name: string(model.BacklightSysfs),
			Acquire: func() (surface, error) {
				dir, err := findSysfs(opts.SysfsRoot)
				return surface{mode: model.BacklightSysfs, dir: dir}, err
			},
		},
		{
			Name: string(model.BacklightPwm),
			Acquire: func() (surface, error) {
				pin, err := opts.OpenPWM(opts.PWMPin)
				if err != nil {
					return surface{}, err
				}
				// Start dark; the first Set brings it up.
				if err := pin.PWM(0, opts.PWMFreq); err != nil {
					_ = pin.Halt()
					return surface{}, fmt.Errorf("start pwm: %w", err)
				}
				return surface{mode: model.BacklightPwm, pin: pin}, nil
			},
		},
	}

	res, err := probe.First(strategies, func(name string, err error) {
		appLog.Debug("backlight surface unavailable", "mode", name, "err", err)
	})
	if err != nil {
		appLog.Event(appLog.TagBL, "no backlight control, brightness is fixed")
		return &Controller{mode: model.BacklightNone, level: 1}
	}

	c := &Controller{mode: res.Value.mode, dir: res.Value.dir, pin: res.Value.pin, freq: opts.PWMFreq}
	switch c.mode {
	case model.BacklightSysfs:
		appLog.Event(appLog.TagBL, "sysfs backlight", "path", c.dir)
	case model.BacklightPwm:
		appLog.Event(appLog.TagBL, "pwm backlight", "pin", opts.PWMPin, "freq", opts.PWMFreq)
	}
	return c
}

// Mode reports the surface chosen at probe time.
func (c *Controller) Mode() model.BacklightMode { return c.mode }

// Level is the last level that was applied successfully.
func (c *Controller) Level() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.level
}

// Set applies level, clamped to [0,1]. Failures are logged and returned but
// leave the recorded level untouched.
func (c *Controller) Set(level float64) error {
	level = clamp01(level)

	var err error
	switch c.mode {
	case model.BacklightSysfs:
		err = c.writeSysfs(level)
	case model.BacklightPwm:
		duty := gpio.Duty(int64(math.Round(level*100)) * int64(gpio.DutyMax) / 100)
		if perr := c.pin.PWM(duty, c.freq); perr != nil {
			err = fmt.Errorf("backlight: pwm duty %v: %w", duty, perr)
		}
	}
	if err != nil {
		appLog.EventError(appLog.TagBL, "set brightness failed", err, "level", level)
		return err
	}

	c.mu.Lock()
	changed := c.level != level
	c.level = level
	c.mu.Unlock()
	if changed && c.mode != model.BacklightNone {
		appLog.Event(appLog.TagBL, "brightness", "level", strconv.FormatFloat(level, 'f', 2, 64))
	}
	return nil
}

func (c *Controller) writeSysfs(level float64) error {
	raw, err := os.ReadFile(filepath.Join(c.dir, "max_brightness"))
	if err != nil {
		return fmt.Errorf("backlight: read max_brightness: %w", err)
	}
	maxV, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || maxV <= 0 {
		return fmt.Errorf("backlight: bad max_brightness %q", strings.TrimSpace(string(raw)))
	}
	return os.WriteFile(filepath.Join(c.dir, "brightness"), []byte(strconv.Itoa(SysfsValue(level, maxV))), 0o644)
}

// SysfsValue scales level to the device range. It never returns 0 so a dark
// panel cannot be confused with a missing control.
func SysfsValue(level float64, maxV int) int {
	v := int(math.Round(clamp01(level) * float64(maxV)))
	if v > maxV {
		v = maxV
	}
	if v < 1 {
		v = 1
	}
	return v
}

// Cleanup stops PWM output and releases the pin. Only the first call does
// anything.
func (c *Controller) Cleanup() error {
	c.cleanupOnce.Do(func() {
		if c.mode != model.BacklightPwm || c.pin == nil {
			return
		}
		if err := c.pin.Halt(); err != nil {
			c.cleanupErr = fmt.Errorf("backlight: halt pin: %w", err)
			return
		}
		appLog.Event(appLog.TagBL, "pwm released")
	})
	return c.cleanupErr
}

// DayNight returns night when hour falls in [nightStart, nightEnd), wrapping
// past midnight when nightStart > nightEnd. Equal bounds disable night.
//
// Only the wrapping case matches the plain "hour >= start || hour < end"
// rule. For start < end that rule would make nearly the whole day night
// (1..5 would dim at noon), so a same-day window is used instead.
func DayNight(hour, nightStart, nightEnd int, day, night float64) float64 {
	var isNight bool
	switch {
	case nightStart > nightEnd:
		isNight = hour >= nightStart || hour < nightEnd
	case nightStart < nightEnd:
		isNight = hour >= nightStart && hour < nightEnd
	}
	if isNight {
		return night
	}
	return day
}

func findSysfs(root string) (string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return "", err
	}
	for _, e := range entries {
		dir := filepath.Join(root, e.Name())
		if _, err := os.Stat(filepath.Join(dir, "brightness")); err != nil {
			continue
		}
		if _, err := os.Stat(filepath.Join(dir, "max_brightness")); err != nil {
			continue
		}
		return dir, nil
	}
	return "", errors.New("no backlight device")
}

func openHostPin(name string) (Pin, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("host init: %w", err)
	}
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("gpio %s not found", name)
	}
	return p, nil
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
