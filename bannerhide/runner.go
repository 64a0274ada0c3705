// Package bannerhide hides the eMAG cookie-consent banner on pages driven
// by a headless Chrome, or checks fetched HTML for it offline.
//
// A Runner opens each configured page in a stealth tab, installs the
// page's watch strategy before navigation and waits until the banner is
// hidden, a captcha shows up or the page timeout runs out. Every outcome
// is emitted as an event.Event to the configured sinks.
package bannerhide

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/bannerhide/bannerhide/event"
	"github.com/hazyhaar/bannerhide/bannerhide/internal/browser"
	"github.com/hazyhaar/bannerhide/bannerhide/internal/config"
	"github.com/hazyhaar/bannerhide/bannerhide/internal/fetcher"
	"github.com/hazyhaar/bannerhide/bannerhide/internal/page"
	"github.com/hazyhaar/bannerhide/bannerhide/internal/sink"
	"github.com/hazyhaar/bannerhide/idgen"
	"github.com/hazyhaar/bannerhide/suppress"
)

// ErrCaptcha reports that the site answered with a captcha challenge.
var ErrCaptcha = fetcher.ErrCaptcha

// ErrTimeout reports that the page timeout ran out before the banner was
// found.
var ErrTimeout = errors.New("bannerhide: page timeout")

// Runner is the top-level orchestrator. It owns the browser, the HTTP
// fetcher and the sinks.
type Runner struct {
	cfg    *config.Config
	mgr    *browser.Manager
	fetch  *fetcher.Fetcher
	sinkR  *sink.Router
	logger *slog.Logger
	now    func() time.Time

	mu     sync.Mutex
	status map[string]*PageStatus
	order  []string
	ran    map[string]PageConfig // last config each page ran with
}

// New creates a Runner from configuration. The browser is launched by Run
// or by the first RunPage.
func New(cfg *Config, logger *slog.Logger, sinks ...Sink) (*Runner, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	level, err := browser.ParseStealth(cfg.Browser.Stealth)
	if err != nil {
		return nil, fmt.Errorf("bannerhide: %w", err)
	}

	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		BlockTrackers:    cfg.Browser.BlockTrackers,
		Stealth:          level,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})

	return &Runner{
		cfg:    cfg,
		mgr:    mgr,
		fetch:  fetcher.New(fetcher.WithLogger(logger)),
		sinkR:  sink.NewRouter(logger, sinks...),
		logger: logger,
		now:    time.Now,
		status: make(map[string]*PageStatus),
		ran:    make(map[string]PageConfig),
	}, nil
}

// Run launches the browser and clears every configured page, at most
// cfg.Concurrency at a time. Page failures are reported as events and do
// not stop the run. It returns once every page is settled or ctx ends.
func (r *Runner) Run(ctx context.Context) error {
	if _, err := r.mgr.Start(ctx); err != nil {
		return fmt.Errorf("bannerhide: start browser: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)

	for _, p := range r.cfg.Pages {
		if p.ID == "" {
			p.ID = idgen.PageID()
		}
		r.track(p)
		g.Go(func() error {
			_, err := r.RunPage(gctx, p)
			if err != nil && gctx.Err() == nil {
				r.logger.Warn("bannerhide: page not cleared", "page_id", p.ID, "url", p.URL, "error", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// RunPage clears one page and returns the emitted event. The error is
// ErrTimeout, ErrCaptcha or the reason the page could not be watched. When
// ctx ends first no event is emitted and ctx's error is returned.
func (r *Runner) RunPage(ctx context.Context, p PageConfig) (*event.Event, error) {
	p.ApplyDefaults()
	if p.ID == "" {
		p.ID = idgen.PageID()
	}
	r.track(p)
	r.markRan(p)
	log := r.logger.With("page_id", p.ID, "url", p.URL, "strategy", p.Strategy)

	if _, err := r.mgr.Start(ctx); err != nil {
		return r.fail(ctx, p, 0, fmt.Errorf("bannerhide: start browser: %w", err))
	}

	strat, err := page.NewStrategy(p.Strategy, p.Settle, log)
	if err != nil {
		return r.fail(ctx, p, 0, err)
	}

	runCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	captchaCh := make(chan string, 1)
	r.update(p.ID, func(s *PageStatus) {
		s.URL = p.URL
		s.Strategy = p.Strategy
		s.State = StateWatching
	})

	tab, err := browser.OpenTab(runCtx, r.mgr, p.URL, p.ID, browser.TabOptions{
		Setup: func(pg *rod.Page) error { return strat.Setup(runCtx, pg) },
		OnCaptcha: func(u string) {
			select {
			case captchaCh <- u:
			default:
			}
		},
		NavTimeout: p.Timeout,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		select {
		case u := <-captchaCh:
			return r.captcha(ctx, p, u)
		default:
		}
		return r.fail(ctx, p, 0, err)
	}
	defer tab.Close()

	if err := strat.Start(runCtx, tab.Page); err != nil {
		return r.fail(ctx, p, strat.Attempts(), err)
	}
	log.Debug("bannerhide: watching")

	select {
	case out := <-strat.Found():
		ev := r.newEvent(event.TypeSuppressed, p)
		ev.Attempts = out.Attempts
		ev.LatencyMs = out.Elapsed.Milliseconds()
		r.update(p.ID, func(s *PageStatus) {
			s.State = StateSuppressed
			s.Attempts = out.Attempts
			s.LatencyMs = ev.LatencyMs
			s.Error = ""
		})
		log.Info("bannerhide: banner hidden", "attempts", out.Attempts, "elapsed", out.Elapsed)
		r.emit(ctx, ev)
		return &ev, nil

	case u := <-captchaCh:
		return r.captcha(ctx, p, u)

	case <-runCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		attempts := strat.Attempts()
		ev := r.newEvent(event.TypeTimeout, p)
		ev.Attempts = attempts
		ev.Detail = p.Timeout.String()
		r.update(p.ID, func(s *PageStatus) {
			s.State = StateTimeout
			s.Attempts = attempts
			s.Error = ErrTimeout.Error()
		})
		log.Warn("bannerhide: banner not found before timeout", "timeout", p.Timeout, "attempts", attempts)
		r.emit(ctx, ev)
		return &ev, ErrTimeout
	}
}

// Close shuts down the browser and the sinks.
func (r *Runner) Close() error {
	sinkErr := r.sinkR.Close()
	if err := r.mgr.Close(); err != nil {
		return fmt.Errorf("bannerhide: close browser: %w", err)
	}
	return sinkErr
}

func (r *Runner) captcha(ctx context.Context, p PageConfig, reqURL string) (*event.Event, error) {
	ev := r.newEvent(event.TypeCaptcha, p)
	ev.Detail = reqURL
	r.update(p.ID, func(s *PageStatus) {
		s.URL = p.URL
		s.Strategy = p.Strategy
		s.State = StateCaptcha
		s.Error = "captcha at " + reqURL
	})
	r.logger.Error("bannerhide: captcha detected", "page_id", p.ID, "url", p.URL, "request", reqURL)
	r.emit(ctx, ev)
	return &ev, ErrCaptcha
}

func (r *Runner) fail(ctx context.Context, p PageConfig, attempts int, err error) (*event.Event, error) {
	ev := r.newEvent(event.TypeFailed, p)
	ev.Attempts = attempts
	ev.Detail = err.Error()
	r.update(p.ID, func(s *PageStatus) {
		s.URL = p.URL
		s.Strategy = p.Strategy
		s.State = StateFailed
		s.Attempts = attempts
		s.Error = err.Error()
	})
	r.emit(ctx, ev)
	return &ev, err
}

func (r *Runner) newEvent(typ event.Type, p PageConfig) event.Event {
	return event.Event{
		ID:        idgen.New(),
		Type:      typ,
		PageID:    p.ID,
		PageURL:   p.URL,
		XPath:     suppress.XPath,
		Strategy:  p.Strategy,
		Timestamp: r.now().UnixMilli(),
	}
}

// emit delivers ev even when the page context has already timed out.
func (r *Runner) emit(ctx context.Context, ev event.Event) {
	if err := r.sinkR.Send(context.WithoutCancel(ctx), ev); err != nil {
		r.logger.Error("bannerhide: send event failed", "event_id", ev.ID, "type", ev.Type, "error", err)
	}
}
