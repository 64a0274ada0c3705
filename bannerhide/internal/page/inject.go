package page

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/bannerhide/bannerhide/internal/config"
	"github.com/hazyhaar/bannerhide/suppress"
)

// Binding is the page function the injected script reports through.
const Binding = "__bannerhideReport"

// Inject installs the in-page script on every new document of the tab and
// listens for its report. The page's own event loop does the polling.
type Inject struct {
	logger   *slog.Logger
	found    chan Outcome
	attempts atomic.Int64
	reported atomic.Bool
}

// NewInject creates an Inject strategy.
func NewInject(logger *slog.Logger) *Inject {
	if logger == nil {
		logger = slog.Default()
	}
	return &Inject{logger: logger, found: make(chan Outcome, 1)}
}

func (in *Inject) Name() string { return config.StrategyInject }

// Setup adds the binding, subscribes to its calls and registers the script
// so it runs before any page script of the next document.
func (in *Inject) Setup(ctx context.Context, page *rod.Page) error {
	p := page.Context(ctx)

	wait := p.EachEvent(func(e *proto.RuntimeBindingCalled) {
		if e.Name != Binding {
			return
		}
		in.handle(e.Payload)
	})
	go wait()

	if err := (proto.RuntimeAddBinding{Name: Binding}).Call(p); err != nil {
		return fmt.Errorf("page: add binding: %w", err)
	}
	if _, err := p.EvalOnNewDocument(suppress.Script(Binding)); err != nil {
		return fmt.Errorf("page: add init script: %w", err)
	}
	return nil
}

// Start is a no-op: the script is already running in the page.
func (in *Inject) Start(ctx context.Context, page *rod.Page) error {
	return nil
}

func (in *Inject) Found() <-chan Outcome { return in.found }

// Attempts is zero until the script reports.
func (in *Inject) Attempts() int { return int(in.attempts.Load()) }

func (in *Inject) handle(payload string) {
	rep, err := parseReport(payload)
	if err != nil {
		in.logger.Warn("page: bad script report", "error", err)
		return
	}
	// The script runs again on every document the tab loads; only the
	// first report counts.
	if !in.reported.CompareAndSwap(false, true) {
		in.logger.Debug("page: extra script report", "url", rep.URL)
		return
	}
	in.attempts.Store(int64(rep.Attempts))
	in.found <- Outcome{
		Attempts: rep.Attempts,
		Elapsed:  time.Duration(rep.ElapsedMs) * time.Millisecond,
	}
}

func parseReport(payload string) (*suppress.ScriptReport, error) {
	var rep suppress.ScriptReport
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, fmt.Errorf("page: decode report: %w", err)
	}
	if rep.XPath != suppress.XPath {
		return nil, fmt.Errorf("page: report for unexpected xpath %q", rep.XPath)
	}
	return &rep, nil
}
