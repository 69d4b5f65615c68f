// Package scheduler runs the device loop: it owns the display and the
// backlight, refreshes content on one cadence and brightness on another,
// and tears everything down exactly once when it stops.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"wisepi/internal/backlight"
	"wisepi/internal/display"
	appLog "wisepi/internal/log"
	"wisepi/internal/model"
	"wisepi/internal/quote"
	"wisepi/internal/render"
)

// State is the scheduler lifecycle.
type State int32

const (
	Initializing State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Exit codes returned by Run.
const (
	ExitOK      = 0
	ExitFailure = 1
)

// DefaultPoll is the cancellation polling quantum.
const DefaultPoll = 250 * time.Millisecond

// Quotes is the content source.
type Quotes interface {
	Get(ctx context.Context, now time.Time, ttl time.Duration) (quote.Result, error)
}

// Backlight is the brightness surface the loop drives.
type Backlight interface {
	Mode() model.BacklightMode
	Level() float64
	Set(level float64) error
	Cleanup() error
}

// Brightness holds the day/night policy inputs.
type Brightness struct {
	Day        float64
	Night      float64
	NightStart int
	NightEnd   int
}

// Options wires the loop. Display, Policy, Quotes and Backlight are
// required; Refresh and Dimming default to 15 and 1 minute cadences.
type Options struct {
	Display   display.Backend
	Policy    render.Policy
	Quotes    Quotes
	Backlight Backlight

	// Refresh is the content cadence; TTL is handed to the quote source.
	Refresh cron.Schedule
	TTL     time.Duration
	// Dimming is the brightness cadence.
	Dimming cron.Schedule
	// Redraw re-presents the current quote without fetching. Optional.
	Redraw cron.Schedule

	Brightness Brightness
	Location   *time.Location
	Poll       time.Duration
	// Once stops after the initial render.
	Once bool

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration)
}

// Scheduler is the device loop. Create with New and call Run once.
type Scheduler struct {
	opts Options

	state    atomic.Int32
	stopOnce sync.Once

	geo         model.CanvasGeometry
	current     *model.Quote
	dirty       bool
	nextContent time.Time
	nextDimming time.Time
	nextRedraw  time.Time

	mu     sync.Mutex
	status model.Status
}

// New applies defaults to opts.
func New(opts Options) *Scheduler {
	if opts.Refresh == nil {
		opts.Refresh = cron.Every(15 * time.Minute)
	}
	if opts.TTL <= 0 {
		opts.TTL = 15 * time.Minute
	}
	if opts.Dimming == nil {
		opts.Dimming = cron.Every(time.Minute)
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	s := &Scheduler{opts: opts}
	s.setState(Initializing)
	return s
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(st State) {
	s.state.Store(int32(st))
	s.mu.Lock()
	s.status.State = st.String()
	s.mu.Unlock()
}

// Snapshot returns the status shown on the dashboard.
func (s *Scheduler) Snapshot() model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.BacklightMode = s.opts.Backlight.Mode()
	st.BacklightLevel = s.opts.Backlight.Level()
	return st
}

// Run drives the loop until ctx is cancelled or the display fails fatally
// and returns the process exit code.
func (s *Scheduler) Run(ctx context.Context) int {
	defer s.stop()

	geo, err := s.opts.Display.Acquire()
	if err != nil {
		appLog.EventError(appLog.TagExit, "no usable display", err, "backend", s.opts.Display.Name())
		return ExitFailure
	}
	s.geo = geo
	appLog.Event(appLog.TagBoot, "display acquired",
		"backend", s.opts.Display.Name(), "policy", s.opts.Policy.Name(),
		"canvas", fmt.Sprintf("%dx%d", geo.Width, geo.Height))

	now := s.opts.Now()
	s.adjustBrightness(now)
	s.fetch(ctx, now)
	if err := s.render(now); errors.Is(err, display.ErrFatal) {
		return ExitFailure
	}
	if s.opts.Redraw != nil {
		s.nextRedraw = s.opts.Redraw.Next(now)
	}
	s.setState(Running)

	if s.opts.Once {
		appLog.Event(appLog.TagExit, "single render done")
		return ExitOK
	}

	for {
		if ctx.Err() != nil {
			appLog.Event(appLog.TagExit, "cancelled")
			return ExitOK
		}
		if err := s.tick(ctx, s.opts.Now()); err != nil {
			appLog.EventError(appLog.TagExit, "display failed", err)
			return ExitFailure
		}
		s.opts.Sleep(ctx, s.opts.Poll)
	}
}

// tick runs one pass of the cadences. Only a fatal display error is
// returned.
func (s *Scheduler) tick(ctx context.Context, now time.Time) error {
	// Until something is on screen every tick asks for content.
	if s.current == nil || due(s.nextContent, now) {
		s.fetch(ctx, now)
	}
	if s.opts.Redraw != nil && due(s.nextRedraw, now) {
		s.dirty = s.current != nil
		s.nextRedraw = s.opts.Redraw.Next(now)
	}
	if s.dirty {
		if err := s.render(now); errors.Is(err, display.ErrFatal) {
			return err
		}
	}
	if due(s.nextDimming, now) {
		s.adjustBrightness(now)
	}
	return nil
}

func due(next, now time.Time) bool {
	return next.IsZero() || !now.Before(next)
}

// fetch asks the source for content. An in-flight fetch is not aborted by
// cancellation; the fetcher's own timeout bounds it.
func (s *Scheduler) fetch(ctx context.Context, now time.Time) {
	s.nextContent = s.opts.Refresh.Next(now)

	res, err := s.opts.Quotes.Get(context.WithoutCancel(ctx), now, s.opts.TTL)
	if err != nil {
		appLog.EventError(appLog.TagErr, "no quote available", err)
		return
	}
	if res.Cached && s.current != nil {
		return
	}
	q := res.Quote
	s.current = &q
	s.dirty = true

	s.mu.Lock()
	s.status.Quote = q
	s.status.QuoteFallback = res.Fallback
	s.status.LastFetch = now
	s.mu.Unlock()
}

// render lays out and presents the current quote. A fit failure is not
// retried until the content changes. Any other non-fatal present failure
// keeps the frame dirty so the next tick tries again; backends rate limit
// themselves with ErrTooSoon.
func (s *Scheduler) render(now time.Time) error {
	if s.current == nil {
		return nil
	}

	frame, err := s.opts.Policy.Layout(*s.current, s.geo)
	if err != nil {
		s.dirty = false
		s.recordRender(now, err)
		appLog.EventError(appLog.TagErr, "layout skipped", err, "policy", s.opts.Policy.Name())
		return err
	}
	if frame.Overflow {
		appLog.Debug("text overflows canvas", "font_index", frame.FontIndex)
	}

	err = s.opts.Display.Present(frame)
	switch {
	case err == nil:
		s.dirty = false
		s.recordRender(now, nil)
		appLog.Event(appLog.TagDisp, "presented", "author", frame.Quote.Author, "font_index", frame.FontIndex)
	case errors.Is(err, display.ErrTooSoon):
		appLog.Debug("present deferred", "err", err)
	default:
		if s.recordRender(now, err) {
			appLog.EventError(appLog.TagErr, "present failed", err)
		} else {
			appLog.Debug("present still failing", "err", err)
		}
	}
	return err
}

// recordRender updates the status and reports whether the error differs
// from the one already recorded.
func (s *Scheduler) recordRender(now time.Time, err error) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err != nil {
		changed := s.status.LastRenderError != err.Error()
		s.status.LastRenderError = err.Error()
		return changed
	}
	s.status.LastRender = now
	s.status.LastRenderError = ""
	return true
}

func (s *Scheduler) adjustBrightness(now time.Time) {
	s.nextDimming = s.opts.Dimming.Next(now)
	b := s.opts.Brightness
	level := backlight.DayNight(now.In(s.opts.Location).Hour(), b.NightStart, b.NightEnd, b.Day, b.Night)
	// Set logs its own failures; the loop carries on regardless.
	_ = s.opts.Backlight.Set(level)
}

// stop releases power control first, then the display. Errors are logged
// and dropped.
func (s *Scheduler) stop() {
	s.stopOnce.Do(func() {
		s.setState(Stopping)
		if err := s.opts.Backlight.Cleanup(); err != nil {
			appLog.EventError(appLog.TagExit, "backlight cleanup failed", err)
		}
		if err := s.opts.Display.Release(); err != nil {
			appLog.EventError(appLog.TagExit, "display release failed", err)
		}
		s.setState(Stopped)
		appLog.Event(appLog.TagExit, "stopped")
	})
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
