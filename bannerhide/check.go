package bannerhide

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/bannerhide/bannerhide/event"
	"github.com/hazyhaar/bannerhide/bannerhide/internal/fetcher"
	"github.com/hazyhaar/bannerhide/htmldoc"
	"github.com/hazyhaar/bannerhide/idgen"
	"github.com/hazyhaar/bannerhide/schedule"
	"github.com/hazyhaar/bannerhide/suppress"
)

// StrategyCheck tags events produced by Check.
const StrategyCheck = "check"

// CheckResult is the outcome of an offline check.
type CheckResult struct {
	PageID string
	URL    string // final URL after redirects
	Found  bool   // the served HTML carries the banner
	HTML   string // the document with the banner hidden
}

// Check fetches pageURL over plain HTTP and runs the suppression routine
// on the served HTML, with the ready trigger only. It needs no browser.
// The banner is server-rendered, so this tells whether a page carries it.
func (r *Runner) Check(ctx context.Context, pageURL, pageID string) (*CheckResult, error) {
	if pageID == "" {
		pageID = idgen.PageID()
	}
	p := PageConfig{ID: pageID, URL: pageURL, Strategy: StrategyCheck}
	r.track(p)

	res, err := r.fetch.Fetch(ctx, pageURL)
	if err != nil {
		if errors.Is(err, fetcher.ErrCaptcha) {
			return nil, r.checkCaptcha(ctx, p)
		}
		_, err = r.fail(ctx, p, 0, err)
		return nil, err
	}

	doc, err := htmldoc.Parse(bytes.NewReader(res.Body))
	if err != nil {
		_, err = r.fail(ctx, p, 0, err)
		return nil, err
	}

	found, attempts, err := checkDocument(ctx, doc, r.logger)
	if err != nil {
		_, err = r.fail(ctx, p, attempts, err)
		return nil, err
	}

	out, err := doc.Render()
	if err != nil {
		return nil, fmt.Errorf("bannerhide: check %s: %w", pageURL, err)
	}

	typ, state := event.TypeAbsent, StateAbsent
	if found {
		typ, state = event.TypeSuppressed, StateSuppressed
	}
	ev := r.newEvent(typ, p)
	ev.Attempts = attempts
	r.update(p.ID, func(s *PageStatus) {
		s.URL = p.URL
		s.Strategy = p.Strategy
		s.State = state
		s.Attempts = attempts
		s.Error = ""
	})
	r.logger.Info("bannerhide: checked", "page_id", p.ID, "url", res.URL, "found", found)
	r.emit(ctx, ev)

	return &CheckResult{PageID: p.ID, URL: res.URL, Found: found, HTML: out}, nil
}

// checkDocument arms a Suppressor on doc and fires the ready trigger
// once. Polling never runs: the served HTML does not change.
func checkDocument(ctx context.Context, doc *htmldoc.Document, logger *slog.Logger) (found bool, attempts int, err error) {
	cctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sched := schedule.NewManual()
	sup := suppress.New(doc, sched,
		suppress.WithLogger(logger),
		suppress.WithClock(sched.Clock()),
	)
	if err := sup.Start(cctx); err != nil {
		return false, 0, err
	}
	sched.FireReady()

	return sup.State() == suppress.Suppressed, sup.Attempts(), nil
}

func (r *Runner) checkCaptcha(ctx context.Context, p PageConfig) error {
	_, err := r.captcha(ctx, p, p.URL)
	return err
}
