package page

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/bannerhide/schedule"
	"github.com/hazyhaar/bannerhide/suppress"
)

// MutationScheduler drives a Suppressor from DOM changes instead of a
// timer. Every fires after a quiet period of settle following a CDP DOM
// event, and at least once per interval while the DOM keeps changing.
type MutationScheduler struct {
	ctx    context.Context
	page   *rod.Page
	loop   *schedule.Loop
	settle time.Duration
	logger *slog.Logger
}

var _ suppress.Scheduler = (*MutationScheduler)(nil)

// NewMutationScheduler creates a scheduler whose callbacks run on loop.
// Listeners live until ctx ends or the handle is cancelled.
func NewMutationScheduler(ctx context.Context, page *rod.Page, loop *schedule.Loop, settle time.Duration, logger *slog.Logger) *MutationScheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MutationScheduler{ctx: ctx, page: page, loop: loop, settle: settle, logger: logger}
}

// OnReady defers to the loop's ready trigger.
func (m *MutationScheduler) OnReady(fn func()) {
	m.loop.OnReady(fn)
}

// Every subscribes to DOM events and posts fn on each debounced burst.
func (m *MutationScheduler) Every(interval time.Duration, fn func()) suppress.Handle {
	fire, h := m.loop.Trigger(fn)
	go m.listen(fire, h, interval)
	return h
}

func (m *MutationScheduler) listen(fire func(), h *schedule.Handle, maxWait time.Duration) {
	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()
	go func() {
		select {
		case <-h.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	p := m.page.Context(ctx)
	d := newDebouncer(m.settle, maxWait, fire)
	defer d.stop()

	// Without a full-depth getDocument, CDP only reports mutations on
	// nodes the client has already seen.
	track := func() {
		depth := -1
		if _, err := (proto.DOMGetDocument{Depth: &depth, Pierce: true}).Call(p); err != nil && ctx.Err() == nil {
			m.logger.Warn("page: dom tracking failed", "error", err)
		}
	}

	resetCh := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-resetCh:
				track()
				d.touch()
			}
		}
	}()

	wait := p.EachEvent(
		func(e *proto.DOMChildNodeInserted) { d.touch() },
		func(e *proto.DOMChildNodeCountUpdated) { d.touch() },
		func(e *proto.DOMAttributeModified) {
			if e.Name == "class" {
				d.touch()
			}
		},
		func(e *proto.DOMSetChildNodes) { d.touch() },
		func(e *proto.DOMDocumentUpdated) {
			select {
			case resetCh <- struct{}{}:
			default:
			}
		},
	)
	track()
	wait()
}
