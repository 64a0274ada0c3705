// Package suppress hides the eMAG cookie-consent banner.
//
// A Suppressor looks for the first div whose class attribute starts with
// ClassPrefix. It looks once when the document structure is ready and then
// every PollInterval. When it finds the banner it hides it and cancels its
// poll handle for good. The document and the scheduler are injected, so the
// same routine runs against a live rod page, an in-memory HTML tree or a
// test fake.
package suppress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const (
	// ClassPrefix is the leading part of the banner wrapper's class attribute.
	ClassPrefix = "gdpr-cookie-banner"

	// XPath selects the banner wrapper.
	XPath = `//div[starts-with(@class, "` + ClassPrefix + `")]`

	// PollInterval is the delay between two inspections while watching.
	PollInterval = 500 * time.Millisecond
)

// ErrStarted is returned by Start when the Suppressor was already started.
var ErrStarted = errors.New("suppress: already started")

// Element is a node matched in a Document.
type Element interface {
	// Hide makes the element invisible. The element stays in the tree.
	Hide(ctx context.Context) error
}

// Document is the queryable, mutable document tree of a page.
type Document interface {
	// First returns the first element in document order selected by xpath,
	// or nil and no error when nothing matches.
	First(ctx context.Context, xpath string) (Element, error)
}

// Handle is a live repeating-timer registration.
type Handle interface {
	// Cancel stops future ticks. It may be called from inside the tick
	// callback and is a no-op after the first call.
	Cancel()
}

// Scheduler delivers the two triggers of a Suppressor.
type Scheduler interface {
	// OnReady runs fn once when the document structure is ready, or
	// immediately if it already is.
	OnReady(fn func())
	// Every runs fn each interval until the handle is cancelled. It never
	// calls fn before returning.
	Every(interval time.Duration, fn func()) Handle
}

// State is the lifecycle state of a Suppressor.
type State int

const (
	Watching   State = iota // poll handle active, banner not found yet
	Suppressed              // terminal: banner hidden, handle cancelled
)

func (s State) String() string {
	switch s {
	case Watching:
		return "watching"
	case Suppressed:
		return "suppressed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result describes a successful suppression.
type Result struct {
	Attempts int           // inspections performed, the successful one included
	Elapsed  time.Duration // time from Start to the successful inspection
}

// Option configures a Suppressor.
type Option func(*Suppressor)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Suppressor) { s.logger = l }
}

// WithOnSuppressed registers a callback run once after the banner is hidden.
func WithOnSuppressed(fn func(Result)) Option {
	return func(s *Suppressor) { s.onSuppressed = fn }
}

// WithClock overrides time.Now, for schedulers running on virtual time.
func WithClock(now func() time.Time) Option {
	return func(s *Suppressor) { s.now = now }
}

// Suppressor watches one document for the banner.
type Suppressor struct {
	doc          Document
	sched        Scheduler
	logger       *slog.Logger
	onSuppressed func(Result)
	now          func() time.Time

	mu       sync.Mutex
	started  bool
	state    State
	handle   Handle
	attempts int
	startAt  time.Time
	done     chan struct{}
}

// New creates a Suppressor for doc driven by sched. Call Start to arm it.
func New(doc Document, sched Scheduler, opts ...Option) *Suppressor {
	s := &Suppressor{
		doc:    doc,
		sched:  sched,
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start creates the poll handle and registers the ready trigger. When ctx
// ends before the banner is found the handle is cancelled and the
// Suppressor stays in Watching. Starting an already Suppressed Suppressor
// arms nothing.
func (s *Suppressor) Start(ctx context.Context) error {
	tick := func() {
		if _, err := s.Attempt(ctx); err != nil {
			s.logger.Warn("suppress: attempt failed", "error", err)
		}
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrStarted
	}
	s.started = true
	if s.state == Suppressed {
		// An earlier Attempt already hid the banner; there is nothing to poll for.
		s.mu.Unlock()
		return nil
	}
	s.startAt = s.now()
	s.handle = s.sched.Every(PollInterval, tick)
	s.mu.Unlock()

	context.AfterFunc(ctx, s.release)

	s.sched.OnReady(tick)
	return nil
}

// Attempt inspects the document once. It reports whether the banner is
// hidden. After the first success it returns true without touching the
// document again.
func (s *Suppressor) Attempt(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state == Suppressed {
		s.mu.Unlock()
		return true, nil
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return false, err
	}

	s.attempts++
	el, err := s.doc.First(ctx, XPath)
	if err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("suppress: query: %w", err)
	}
	if el == nil {
		s.mu.Unlock()
		return false, nil
	}
	if err := el.Hide(ctx); err != nil {
		s.mu.Unlock()
		return false, fmt.Errorf("suppress: hide: %w", err)
	}

	s.state = Suppressed
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
	res := Result{Attempts: s.attempts}
	if !s.startAt.IsZero() {
		res.Elapsed = s.now().Sub(s.startAt)
	}
	close(s.done)
	fn := s.onSuppressed
	s.mu.Unlock()

	s.logger.Debug("suppress: banner hidden", "attempts", res.Attempts, "elapsed", res.Elapsed)
	if fn != nil {
		fn(res)
	}
	return true, nil
}

// State returns the current state.
func (s *Suppressor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Attempts returns how many inspections have touched the document.
func (s *Suppressor) Attempts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

// Done is closed when the banner has been hidden.
func (s *Suppressor) Done() <-chan struct{} {
	return s.done
}

// release cancels the poll handle without changing state.
func (s *Suppressor) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle != nil {
		s.handle.Cancel()
		s.handle = nil
	}
}
