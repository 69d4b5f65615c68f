package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"wisepi/internal/model"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions.

// Display backends.
const (
	BackendFramebuffer = "framebuffer"
	BackendEPaper      = "epaper"
	BackendMemory      = "memory"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the Web UI/API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// DisplayConfig selects and sizes the output device.
type DisplayConfig struct {
	// Backend is one of "framebuffer", "epaper", "memory".
	Backend string `yaml:"backend" json:"backend"`

	// Width/Height is the canvas for framebuffer and memory backends.
	// The e-paper canvas comes from the panel itself.
	Width  int `yaml:"width" json:"width"`
	Height int `yaml:"height" json:"height"`

	MarginLeft  int `yaml:"margin_left" json:"margin_left"`
	MarginRight int `yaml:"margin_right" json:"margin_right"`
	MarginTop   int `yaml:"margin_top" json:"margin_top"`
	LineSpacing int `yaml:"line_spacing" json:"line_spacing"`

	// Rotation is degrees counter-clockwise applied before pushing to an
	// e-paper panel (0, 90, 180, 270).
	Rotation int `yaml:"rotation" json:"rotation"`

	// MinIntervalSeconds is the shortest gap between e-paper refreshes.
	MinIntervalSeconds int `yaml:"min_interval_seconds" json:"min_interval_seconds"`

	// Drivers is the framebuffer probe order. SDL_VIDEODRIVER, if set, is tried first.
	Drivers []string `yaml:"drivers" json:"drivers"`
	// Device is the framebuffer node. SDL_FBDEV overrides it.
	Device string `yaml:"device" json:"device"`

	// Foreground/Background are hex colors ("#rrggbb").
	Foreground string `yaml:"foreground" json:"foreground"`
	Background string `yaml:"background" json:"background"`
}

// FontSize is one quote/author size pair tried during fitting.
type FontSize struct {
	Quote  float64 `yaml:"quote_size" json:"quote_size"`
	Author float64 `yaml:"author_size" json:"author_size"`
}

// FontsConfig lists families in preference order and the size candidates,
// largest first.
type FontsConfig struct {
	Families   []string   `yaml:"families" json:"families"`
	Dirs       []string   `yaml:"dirs,omitempty" json:"dirs,omitempty"`
	Candidates []FontSize `yaml:"candidates" json:"candidates"`
}

// BacklightConfig points at the brightness control surfaces.
type BacklightConfig struct {
	SysfsRoot string `yaml:"sysfs_root" json:"sysfs_root"`
	PWMPin    string `yaml:"pwm_pin" json:"pwm_pin"`
	PWMHz     int    `yaml:"pwm_hz" json:"pwm_hz"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the Web UI and API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used for day/night evaluation.
	// Empty means the system zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshIntervalSeconds is how long a fetched quote stays current.
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds" json:"refresh_interval_seconds"`

	// RefreshCron optionally replaces the interval with a cron schedule
	// (e.g. "0 * * * *") for the content cadence.
	RefreshCron string `yaml:"refresh,omitempty" json:"refresh,omitempty"`

	// BrightnessIntervalSeconds is the day/night re-evaluation cadence.
	BrightnessIntervalSeconds int `yaml:"brightness_interval_seconds" json:"brightness_interval_seconds"`

	// RedrawIntervalSeconds re-presents the current quote; 0 disables it.
	RedrawIntervalSeconds int `yaml:"redraw_interval_seconds" json:"redraw_interval_seconds"`

	// PollMillis is the cancellation polling quantum.
	PollMillis int `yaml:"poll_millis" json:"poll_millis"`

	DayBrightness   float64 `yaml:"day_brightness" json:"day_brightness"`
	NightBrightness float64 `yaml:"night_brightness" json:"night_brightness"`
	NightStartHour  int     `yaml:"night_start_hour" json:"night_start_hour"`
	NightEndHour    int     `yaml:"night_end_hour" json:"night_end_hour"`

	QuoteURL            string        `yaml:"quote_url" json:"quote_url"`
	FetchTimeoutSeconds int           `yaml:"fetch_timeout_seconds" json:"fetch_timeout_seconds"`
	FallbackQuotes      []model.Quote `yaml:"fallback_quotes" json:"fallback_quotes"`

	// Theme is handed to the dashboard page as is.
	Theme map[string]string `yaml:"theme" json:"theme"`

	Display   DisplayConfig   `yaml:"display" json:"display"`
	Fonts     FontsConfig     `yaml:"fonts" json:"fonts"`
	Backlight BacklightConfig `yaml:"backlight" json:"backlight"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

func defaultFallbackQuotes() []model.Quote {
	return []model.Quote{
		{Text: "Stay curious.", Author: "Anon"},
		{Text: "The obstacle is the way.", Author: "Marcus Aurelius"},
		{Text: "Simplicity is the ultimate sophistication.", Author: "Leonardo da Vinci"},
		{Text: "Well begun is half done.", Author: "Aristotle"},
		{Text: "What we think, we become.", Author: "Buddha"},
	}
}

func defaultTheme() map[string]string {
	return map[string]string{
		"background": "#000000",
		"foreground": "#ffffff",
		"accent":     "#9aa0a6",
	}
}

// rotationUnset marks a display.rotation key that was absent from the file.
const rotationUnset = -1

// newConfig seeds the fields whose zero value is a real setting (a dark
// backlight, midnight, no rotation) so only keys missing from the file fall
// back to their defaults.
func newConfig() Config {
	return Config{
		DayBrightness:   0.85,
		NightBrightness: 0.18,
		NightStartHour:  21,
		NightEndHour:    7,
		Display:         DisplayConfig{Rotation: rotationUnset},
	}
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := newConfig()
	c.Normalize()
	return &c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Out-of-range values are
// clamped rather than rejected; Validate reports the ones that cannot be.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.RefreshIntervalSeconds <= 0 {
		c.RefreshIntervalSeconds = 15 * 60
	}
	if c.BrightnessIntervalSeconds <= 0 {
		c.BrightnessIntervalSeconds = 60
	}
	if c.RedrawIntervalSeconds < 0 {
		c.RedrawIntervalSeconds = 0
	}
	if c.PollMillis <= 0 {
		c.PollMillis = 250
	}

	// 밝기 기본값(주간 0.85, 야간 0.18, 21시 ~ 7시)은 newConfig 에서 채운다.
	// 명시적인 0 은 그대로 둔다.
	c.DayBrightness = clamp01(c.DayBrightness)
	c.NightBrightness = clamp01(c.NightBrightness)
	c.NightStartHour = clampHour(c.NightStartHour)
	c.NightEndHour = clampHour(c.NightEndHour)

	if c.FetchTimeoutSeconds <= 0 {
		c.FetchTimeoutSeconds = 8
	}
	if c.FallbackQuotes == nil {
		c.FallbackQuotes = defaultFallbackQuotes()
	}
	if c.Theme == nil {
		c.Theme = defaultTheme()
	}

	d := &c.Display
	switch d.Backend {
	case BackendFramebuffer, BackendEPaper, BackendMemory:
	default:
		// Unknown value; the framebuffer is what most of these boards have.
		d.Backend = BackendFramebuffer
	}
	if d.Width <= 0 {
		d.Width = 800
	}
	if d.Height <= 0 {
		d.Height = 480
	}
	if d.Backend == BackendEPaper {
		c.normalizeEPaper()
	} else {
		c.normalizeFramebuffer()
	}
	if d.MarginLeft < 0 {
		d.MarginLeft = 0
	}
	if d.MarginRight < 0 {
		d.MarginRight = 0
	}
	if d.MarginTop < 0 {
		d.MarginTop = 0
	}
	if d.LineSpacing < 0 {
		d.LineSpacing = 0
	}
	if d.Drivers == nil {
		d.Drivers = []string{"fbdev", "fbcon"}
	}
	if d.Device == "" {
		d.Device = "/dev/fb0"
	}

	if c.Fonts.Families == nil {
		c.Fonts.Families = []string{"DejaVuSans", "LiberationSans", "FreeSans"}
	}

	b := &c.Backlight
	if b.SysfsRoot == "" {
		b.SysfsRoot = "/sys/class/backlight"
	}
	if b.PWMPin == "" {
		b.PWMPin = "GPIO19"
	}
	if b.PWMHz <= 0 {
		b.PWMHz = 1000
	}
}

// normalizeEPaper applies the small-panel defaults: centered text, black
// on white, 180° mounting and a conservative refresh floor.
func (c *Config) normalizeEPaper() {
	d := &c.Display
	if d.MarginLeft == 0 && d.MarginRight == 0 && d.MarginTop == 0 {
		d.MarginLeft, d.MarginRight = 6, 6
	}
	if d.LineSpacing == 0 {
		d.LineSpacing = 2
	}
	if d.Rotation == rotationUnset {
		d.Rotation = 180
	}
	if d.MinIntervalSeconds <= 0 {
		d.MinIntervalSeconds = 180
	}
	if d.Foreground == "" {
		d.Foreground = "#000000"
	}
	if d.Background == "" {
		d.Background = "#ffffff"
	}
	if len(c.Fonts.Candidates) == 0 {
		c.Fonts.Candidates = []FontSize{{Quote: 18, Author: 16}, {Quote: 16, Author: 14}}
	}
}

func (c *Config) normalizeFramebuffer() {
	d := &c.Display
	if d.Rotation == rotationUnset {
		d.Rotation = 0
	}
	if d.MarginLeft == 0 && d.MarginRight == 0 && d.MarginTop == 0 {
		d.MarginLeft, d.MarginRight, d.MarginTop = 24, 24, 24
	}
	if d.LineSpacing == 0 {
		d.LineSpacing = 6
	}
	if d.Foreground == "" {
		d.Foreground = "#ffffff"
	}
	if d.Background == "" {
		d.Background = "#000000"
	}
	if len(c.Fonts.Candidates) == 0 {
		c.Fonts.Candidates = []FontSize{{Quote: 36, Author: 30}}
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	if c.RefreshCron != "" {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err)
		}
	}
	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
		}
	}
	switch c.Display.Rotation {
	case 0, 90, 180, 270:
	default:
		return fmt.Errorf("config: display.rotation must be 0, 90, 180 or 270, got %d", c.Display.Rotation)
	}
	for i, sz := range c.Fonts.Candidates {
		if sz.Quote <= 0 || sz.Author <= 0 {
			return fmt.Errorf("config: fonts.candidates[%d] has a non-positive size", i)
		}
	}
	return nil
}

// Location resolves Timezone, falling back to the local zone.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// FontCandidates expands the configured sizes into layout candidates.
func (c *Config) FontCandidates() []model.FontCandidate {
	out := make([]model.FontCandidate, 0, len(c.Fonts.Candidates))
	for _, sz := range c.Fonts.Candidates {
		out = append(out, model.FontCandidate{
			Quote:  model.FontSpec{Families: c.Fonts.Families, Size: sz.Quote},
			Author: model.FontSpec{Families: c.Fonts.Families, Size: sz.Author},
		})
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampHour(h int) int {
	if h < 0 {
		return 0
	}
	if h > 23 {
		return 23
	}
	return h
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults and validate
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	cfg := newConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".wisepi-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
