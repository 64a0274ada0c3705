package schedule

import (
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/bannerhide/suppress"
)

// Manual is a scheduler on a virtual clock. Nothing fires until FireReady
// or Advance is called, and callbacks run synchronously on the caller's
// goroutine in time order.
type Manual struct {
	mu      sync.Mutex
	epoch   time.Time
	now     time.Duration
	ready   bool
	waiting []func()
	timers  []*manualTimer
	seq     int
}

var _ suppress.Scheduler = (*Manual)(nil)

type manualTimer struct {
	m        *Manual
	interval time.Duration
	next     time.Duration
	fn       func()
	seq      int
	stopped  bool
}

func (t *manualTimer) Cancel() {
	t.m.mu.Lock()
	t.stopped = true
	t.m.mu.Unlock()
}

// NewManual creates a Manual scheduler whose clock starts at zero.
func NewManual() *Manual {
	return &Manual{epoch: time.Unix(0, 0).UTC()}
}

// Now returns the virtual time elapsed since creation.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Clock returns a time.Now replacement that follows the virtual clock.
func (m *Manual) Clock() func() time.Time {
	return func() time.Time { return m.epoch.Add(m.Now()) }
}

// OnReady runs fn now if FireReady was called, otherwise at FireReady.
func (m *Manual) OnReady(fn func()) {
	m.mu.Lock()
	if !m.ready {
		m.waiting = append(m.waiting, fn)
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()
	fn()
}

// FireReady marks the structure as ready and runs the waiting callbacks.
func (m *Manual) FireReady() {
	m.mu.Lock()
	if m.ready {
		m.mu.Unlock()
		return
	}
	m.ready = true
	fns := m.waiting
	m.waiting = nil
	m.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// Every registers fn to run each interval of virtual time.
func (m *Manual) Every(interval time.Duration, fn func()) suppress.Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	t := &manualTimer{m: m, interval: interval, next: m.now + interval, fn: fn, seq: m.seq}
	m.timers = append(m.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every due tick in order.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	m.mu.Unlock()

	for {
		m.mu.Lock()
		t := m.nextDueLocked(target)
		if t == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = t.next
		t.next += t.interval
		fn := t.fn
		m.mu.Unlock()

		fn()
	}
}

// Active returns the number of registered handles not yet cancelled.
func (m *Manual) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

func (m *Manual) nextDueLocked(target time.Duration) *manualTimer {
	var due []*manualTimer
	for _, t := range m.timers {
		if !t.stopped && t.interval > 0 && t.next <= target {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].next != due[j].next {
			return due[i].next < due[j].next
		}
		return due[i].seq < due[j].seq
	})
	return due[0]
}
