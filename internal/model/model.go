package model

import "time"

// Quote is a single quote/author pair as shown on the panel. Text may be
// empty when upstream returns a degenerate payload; layout treats that as
// zero quote lines.
type Quote struct {
	Text   string `json:"quote" yaml:"text"`
	Author string `json:"author" yaml:"author"`
}

// CanvasGeometry is the fixed pixel area of one frame. It is decided per
// backend at startup and never mutated during a render.
type CanvasGeometry struct {
	Width       int
	Height      int
	MarginLeft  int
	MarginRight int
	MarginTop   int
	LineSpacing int
}

// ContentWidth is the horizontal budget for a line of text.
func (g CanvasGeometry) ContentWidth() int {
	w := g.Width - g.MarginLeft - g.MarginRight
	if w < 1 {
		return 1
	}
	return w
}

// ContentHeight is the vertical budget for the whole text block.
func (g CanvasGeometry) ContentHeight() int {
	h := g.Height - g.MarginTop
	if h < 0 {
		return 0
	}
	return h
}

// Role tells the rasterizer which font a line is drawn with.
type Role int

const (
	RoleQuote Role = iota
	RoleGap
	RoleAuthor
)

func (r Role) String() string {
	switch r {
	case RoleQuote:
		return "quote"
	case RoleGap:
		return "gap"
	case RoleAuthor:
		return "author"
	default:
		return "unknown"
	}
}

// FontSpec is one size of one text role, with the family names to try in
// order.
type FontSpec struct {
	Families []string
	Size     float64
}

// FontCandidate pairs the quote and author sizes that are tried together
// during font-fit fallback. Callers order candidates largest first.
type FontCandidate struct {
	Quote  FontSpec
	Author FontSpec
}

// LayoutLine is one laid-out line. OffsetY is the top edge of the line
// relative to the top of the text block.
type LayoutLine struct {
	Text    string
	Role    Role
	OffsetY int
	Height  int
}

// LayoutResult is produced fresh per render.
type LayoutResult struct {
	Lines       []LayoutLine
	TotalHeight int
}

// DrawCommand is a backend-neutral text draw instruction. X/Y is the top
// left corner of the line box in canvas pixels.
type DrawCommand struct {
	Text string
	X    int
	Y    int
	Role Role
	Size float64
}

// Frame is everything a backend needs to rasterize one screen.
type Frame struct {
	Commands []DrawCommand
	Quote    Quote
	// FontIndex is the candidate that was selected by fitting.
	FontIndex int
	// Overflow is set when the top-anchored policy accepted clipping.
	Overflow bool
}

// BacklightMode is decided once at startup by probing.
type BacklightMode string

const (
	BacklightSysfs BacklightMode = "sysfs"
	BacklightPwm   BacklightMode = "pwm"
	BacklightNone  BacklightMode = "none"
)

// Status is the scheduler snapshot exposed to the dashboard.
type Status struct {
	State           string        `json:"state"`
	Quote           Quote         `json:"quote"`
	QuoteFallback   bool          `json:"quote_fallback"`
	LastFetch       time.Time     `json:"last_fetch"`
	LastRender      time.Time     `json:"last_render"`
	LastRenderError string        `json:"last_render_error,omitempty"`
	BacklightMode   BacklightMode `json:"backlight_mode"`
	BacklightLevel  float64       `json:"backlight_level"`
}
