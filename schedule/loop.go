// Package schedule provides the triggers a suppress.Suppressor runs on:
// a single-goroutine event loop for live pages and a virtual-clock
// scheduler for tests and offline checks.
package schedule

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/bannerhide/suppress"
)

// Loop serialises callbacks on one goroutine, like a page's event loop.
// Callbacks posted before Run starts are queued.
type Loop struct {
	queue chan func()
	stop  chan struct{}
	once  sync.Once

	mu      sync.Mutex
	ready   bool
	waiting []func()
}

var _ suppress.Scheduler = (*Loop)(nil)

// NewLoop creates a Loop. Call Run to start draining callbacks.
func NewLoop() *Loop {
	return &Loop{
		queue: make(chan func(), 64),
		stop:  make(chan struct{}),
	}
}

// Run executes posted callbacks until ctx is done. It closes the loop on
// return: later posts are dropped and running tickers stop.
func (l *Loop) Run(ctx context.Context) error {
	defer l.close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn := <-l.queue:
			fn()
		}
	}
}

// Post queues fn for execution on the loop goroutine. It reports false when
// the loop is closed.
func (l *Loop) Post(fn func()) bool {
	return l.post(fn, nil)
}

// post is Post that also gives up when abort is closed. A nil abort never
// fires.
func (l *Loop) post(fn func(), abort <-chan struct{}) bool {
	select {
	case <-l.stop:
		return false
	case <-abort:
		return false
	default:
	}
	select {
	case l.queue <- fn:
		return true
	case <-l.stop:
		return false
	case <-abort:
		return false
	}
}

// MarkReady signals that the document structure is ready. Callbacks
// registered with OnReady are posted once; later calls are no-ops.
func (l *Loop) MarkReady() {
	l.mu.Lock()
	if l.ready {
		l.mu.Unlock()
		return
	}
	l.ready = true
	fns := l.waiting
	l.waiting = nil
	l.mu.Unlock()

	for _, fn := range fns {
		l.Post(fn)
	}
}

// Ready reports whether MarkReady has been called.
func (l *Loop) Ready() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ready
}

// OnReady posts fn once the structure is ready.
func (l *Loop) OnReady(fn func()) {
	l.mu.Lock()
	if !l.ready {
		l.waiting = append(l.waiting, fn)
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()
	l.Post(fn)
}

// Every posts fn on each tick of a time.Ticker. Ticks still queued when the
// handle is cancelled are dropped.
func (l *Loop) Every(interval time.Duration, fn func()) suppress.Handle {
	h := &Handle{cancel: make(chan struct{})}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-h.cancel:
				return
			case <-l.stop:
				return
			case <-t.C:
				l.post(func() {
					if !h.cancelled.Load() {
						fn()
					}
				}, h.cancel)
			}
		}
	}()
	return h
}

// Trigger returns a handle whose callback is posted each time the returned
// fire function is called, until the handle is cancelled. Event-driven
// schedulers build their Every on top of it.
func (l *Loop) Trigger(fn func()) (fire func(), h *Handle) {
	lh := &Handle{cancel: make(chan struct{})}
	fire = func() {
		if lh.cancelled.Load() {
			return
		}
		l.post(func() {
			if !lh.cancelled.Load() {
				fn()
			}
		}, lh.cancel)
	}
	return fire, lh
}

func (l *Loop) close() {
	l.once.Do(func() { close(l.stop) })
}

// Handle is a Loop registration. It implements suppress.Handle.
type Handle struct {
	cancelled atomic.Bool
	cancel    chan struct{}
}

func (h *Handle) Cancel() {
	if h.cancelled.CompareAndSwap(false, true) {
		close(h.cancel)
	}
}

// Done is closed when the handle is cancelled.
func (h *Handle) Done() <-chan struct{} {
	return h.cancel
}
