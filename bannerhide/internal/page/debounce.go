package page

import (
	"sync"
	"time"
)

// debouncer calls fn once a burst of touches has been quiet for window. A
// burst that never goes quiet still fires once maxWait after its first
// touch, so a page that mutates constantly is still inspected.
type debouncer struct {
	window  time.Duration
	maxWait time.Duration
	fn      func()

	mu    sync.Mutex
	timer *time.Timer
	gen   uint64
	first time.Time
}

func newDebouncer(window, maxWait time.Duration, fn func()) *debouncer {
	if window <= 0 {
		window = 250 * time.Millisecond
	}
	return &debouncer{window: window, maxWait: maxWait, fn: fn}
}

// touch records activity and (re)arms the timer.
func (d *debouncer) touch() {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	if d.timer == nil {
		d.first = now
	} else {
		d.timer.Stop()
	}

	delay := d.window
	if d.maxWait > 0 {
		if left := d.first.Add(d.maxWait).Sub(now); left < delay {
			delay = max(left, 0)
		}
	}

	d.gen++
	gen := d.gen
	d.timer = time.AfterFunc(delay, func() { d.fire(gen) })
}

func (d *debouncer) fire(gen uint64) {
	d.mu.Lock()
	if gen != d.gen || d.timer == nil {
		d.mu.Unlock()
		return
	}
	d.timer = nil
	d.mu.Unlock()
	d.fn()
}

// stop discards a pending burst.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.gen++
}
