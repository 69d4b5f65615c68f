package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"periph.io/x/conn/v3/physic"

	"wisepi/internal/backlight"
	"wisepi/internal/config"
	"wisepi/internal/display"
	"wisepi/internal/fonts"
	appLog "wisepi/internal/log"
	"wisepi/internal/model"
	"wisepi/internal/quote"
	"wisepi/internal/render"
	"wisepi/internal/scheduler"
	"wisepi/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       bool
	renderOnly bool
	dump       string
	debug      bool
}

func main() {
	os.Exit(run())
}

func run() int {
	flags := parseFlags()
	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}
	appLog.Event(appLog.TagBoot, "wisepi starting", "version", "0.3.0")

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.EventError(appLog.TagExit, "failed to load config", err, "config_path", flags.configPath)
		return scheduler.ExitFailure
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Event(appLog.TagBoot, "effective config",
		"listen", conf.Listen,
		"backend", conf.Display.Backend,
		"refresh_seconds", conf.RefreshIntervalSeconds,
		"refresh_cron", conf.RefreshCron,
		"timezone", conf.Location().String(),
		"fallback_count", len(conf.FallbackQuotes),
		"once", flags.once,
		"render_only", flags.renderOnly,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigCh:
			appLog.Event(appLog.TagExit, "signal received, shutting down", "signal", sig.String())
			cancel()
		case <-ctx.Done():
		}
	}()

	loader := fonts.NewLoader(conf.Fonts.Dirs)
	loader.Bind(model.RoleQuote, conf.Fonts.Families)
	loader.Bind(model.RoleAuthor, conf.Fonts.Families)

	backend, err := newBackend(conf, flags, loader)
	if err != nil {
		appLog.EventError(appLog.TagExit, "invalid display settings", err)
		return scheduler.ExitFailure
	}

	bl := backlight.Probe(backlight.Options{
		SysfsRoot: conf.Backlight.SysfsRoot,
		PWMPin:    conf.Backlight.PWMPin,
		PWMFreq:   physic.Frequency(conf.Backlight.PWMHz) * physic.Hertz,
		Disabled:  flags.renderOnly,
	})

	fetchTimeout := time.Duration(conf.FetchTimeoutSeconds) * time.Second
	refresh := time.Duration(conf.RefreshIntervalSeconds) * time.Second

	var content cron.Schedule = cron.Every(refresh)
	if conf.RefreshCron != "" {
		// Validated by config.Load.
		content, _ = cron.ParseStandard(conf.RefreshCron)
	}
	var redraw cron.Schedule
	if conf.RedrawIntervalSeconds > 0 {
		redraw = cron.Every(time.Duration(conf.RedrawIntervalSeconds) * time.Second)
	}

	sched := scheduler.New(scheduler.Options{
		Display:   backend,
		Policy:    newPolicy(conf, loader),
		Quotes:    quote.NewSource(quote.NewHTTPFetcher(conf.QuoteURL, fetchTimeout), conf.FallbackQuotes),
		Backlight: bl,
		Refresh:   content,
		TTL:       refresh,
		Dimming:   cron.Every(time.Duration(conf.BrightnessIntervalSeconds) * time.Second),
		Redraw:    redraw,
		Brightness: scheduler.Brightness{
			Day:        conf.DayBrightness,
			Night:      conf.NightBrightness,
			NightStart: conf.NightStartHour,
			NightEnd:   conf.NightEndHour,
		},
		Location: conf.Location(),
		Poll:     time.Duration(conf.PollMillis) * time.Millisecond,
		Once:     flags.once,
	})

	var wg sync.WaitGroup
	if !flags.once {
		opts := web.Options{
			Quotes: quote.NewSource(quote.NewHTTPFetcher(conf.QuoteURL, fetchTimeout), conf.FallbackQuotes),
			Status: sched.Snapshot,
		}
		if p, ok := backend.(display.Previewer); ok {
			opts.Preview = p.Preview
		}
		srv := web.NewServer(conf, opts)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Serve(ctx); err != nil {
				// The panel keeps working without the dashboard.
				appLog.EventError(appLog.TagWeb, "HTTP server failed", err)
			}
		}()
	}

	code := sched.Run(ctx)
	cancel()
	wg.Wait()
	appLog.Event(appLog.TagExit, "wisepi exiting", "code", code)
	return code
}

func newBackend(conf *config.Config, flags flagConfig, loader *fonts.Loader) (display.Backend, error) {
	d := conf.Display
	fg, err := display.ParseColor(d.Foreground)
	if err != nil {
		return nil, err
	}
	bg, err := display.ParseColor(d.Background)
	if err != nil {
		return nil, err
	}
	raster := &display.Rasterizer{
		Faces:      loader,
		Families:   conf.Fonts.Families,
		Foreground: fg,
		Background: bg,
	}
	if d.Backend == config.BackendEPaper {
		// e-paper 은 흑백 패널이므로 전경/배경 색상을 강제로 고정한다.
		raster.Foreground, raster.Background = color.Black, color.White
	}
	margins := display.Margins{
		Left:        d.MarginLeft,
		Right:       d.MarginRight,
		Top:         d.MarginTop,
		LineSpacing: d.LineSpacing,
	}

	if flags.renderOnly || d.Backend == config.BackendMemory {
		return &display.Memory{
			Width:    d.Width,
			Height:   d.Height,
			Margins:  margins,
			Raster:   raster,
			DumpPath: flags.dump,
		}, nil
	}

	switch d.Backend {
	case config.BackendEPaper:
		return &display.EPaper{
			Margins:     margins,
			Rotation:    d.Rotation,
			MinInterval: time.Duration(d.MinIntervalSeconds) * time.Second,
			Raster:      raster,
		}, nil
	case config.BackendFramebuffer:
		return &display.Framebuffer{
			Width:   d.Width,
			Height:  d.Height,
			Margins: margins,
			Drivers: d.Drivers,
			Device:  d.Device,
			Raster:  raster,
		}, nil
	default:
		return nil, fmt.Errorf("unknown display backend %q", d.Backend)
	}
}

// newPolicy picks the layout policy by the configured device, also in
// render-only mode, so previews match what the panel would show.
func newPolicy(conf *config.Config, loader *fonts.Loader) render.Policy {
	cands := conf.FontCandidates()
	if conf.Display.Backend == config.BackendEPaper {
		return &render.Centered{Sizer: loader, Candidates: cands}
	}
	return &render.TopAnchored{Sizer: loader, Candidates: cands}
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/wisepi/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+render cycle and exit")
	flag.BoolVar(&cfg.renderOnly, "render-only", false, "Render only; do not touch display or backlight hardware")
	flag.StringVar(&cfg.dump, "dump", "", "Write each rendered frame as PNG to this path (render-only)")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}
