package page

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/bannerhide/bannerhide/internal/config"
	"github.com/hazyhaar/bannerhide/schedule"
	"github.com/hazyhaar/bannerhide/suppress"
)

// Outcome describes a banner hidden in a live tab.
type Outcome struct {
	Attempts int
	Elapsed  time.Duration
}

// Strategy watches one tab for the banner.
type Strategy interface {
	// Name is the config name of the strategy.
	Name() string
	// Setup prepares the blank tab before navigation.
	Setup(ctx context.Context, page *rod.Page) error
	// Start begins watching after navigation.
	Start(ctx context.Context, page *rod.Page) error
	// Found yields once when the banner has been hidden.
	Found() <-chan Outcome
	// Attempts reports how many inspections have run so far.
	Attempts() int
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, settle time.Duration, logger *slog.Logger) (Strategy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch name {
	case config.StrategyPoll, "":
		return newGoStrategy(config.StrategyPoll, 0, logger), nil
	case config.StrategyMutation:
		return newGoStrategy(config.StrategyMutation, settle, logger), nil
	case config.StrategyInject:
		return NewInject(logger), nil
	}
	return nil, fmt.Errorf("page: unknown strategy %q", name)
}

// goStrategy runs a suppress.Suppressor in the Go process against the
// page's live DOM, on either a timer or DOM mutations.
type goStrategy struct {
	name   string
	settle time.Duration
	logger *slog.Logger

	loop  *schedule.Loop
	sup   atomic.Pointer[suppress.Suppressor]
	found chan Outcome
}

func newGoStrategy(name string, settle time.Duration, logger *slog.Logger) *goStrategy {
	return &goStrategy{
		name:   name,
		settle: settle,
		logger: logger,
		loop:   schedule.NewLoop(),
		found:  make(chan Outcome, 1),
	}
}

func (g *goStrategy) Name() string { return g.name }

// Setup listens for DOMContentLoaded of the document about to load.
func (g *goStrategy) Setup(ctx context.Context, page *rod.Page) error {
	wait := page.Context(ctx).WaitEvent(&proto.PageDomContentEventFired{})
	go func() {
		wait()
		if ctx.Err() == nil {
			g.loop.MarkReady()
		}
	}()
	return nil
}

func (g *goStrategy) Start(ctx context.Context, page *rod.Page) error {
	go g.loop.Run(ctx)

	var sched suppress.Scheduler = g.loop
	if g.name == config.StrategyMutation {
		sched = NewMutationScheduler(ctx, page, g.loop, g.settle, g.logger)
	}

	sup := suppress.New(NewDocument(page), sched,
		suppress.WithLogger(g.logger),
		suppress.WithOnSuppressed(func(r suppress.Result) {
			g.found <- Outcome{Attempts: r.Attempts, Elapsed: r.Elapsed}
		}),
	)
	g.sup.Store(sup)
	if err := sup.Start(ctx); err != nil {
		return fmt.Errorf("page: start %s: %w", g.name, err)
	}

	// DOMContentLoaded may have fired before Setup's listener attached.
	state, err := readyState(ctx, page)
	if err != nil {
		g.logger.Debug("page: ready state unavailable", "error", err)
		return nil
	}
	if state != "loading" {
		g.loop.MarkReady()
	}
	return nil
}

func (g *goStrategy) Found() <-chan Outcome { return g.found }

func (g *goStrategy) Attempts() int {
	if sup := g.sup.Load(); sup != nil {
		return sup.Attempts()
	}
	return 0
}
