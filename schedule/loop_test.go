package schedule

import (
	"context"
	"sync/atomic"
	"testing"
	"time"
)

func runLoop(t *testing.T, l *Loop) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		l.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return cancel
}

func TestLoop_ReadyBeforeAndAfterMark(t *testing.T) {
	l := NewLoop()
	runLoop(t, l)

	got := make(chan int, 2)
	l.OnReady(func() { got <- 1 })
	select {
	case v := <-got:
		t.Fatalf("ready callback ran before MarkReady: %d", v)
	case <-time.After(20 * time.Millisecond):
	}

	l.MarkReady()
	l.OnReady(func() { got <- 2 })

	for _, want := range []int{1, 2} {
		select {
		case v := <-got:
			if v != want {
				t.Errorf("ready callback: got %d, want %d", v, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("ready callback %d never ran", want)
		}
	}
	if !l.Ready() {
		t.Error("Ready: got false after MarkReady")
	}
}

func TestLoop_EveryStopsAfterCancel(t *testing.T) {
	l := NewLoop()
	runLoop(t, l)

	var calls atomic.Int32
	fired := make(chan struct{}, 16)
	h := l.Every(5*time.Millisecond, func() {
		calls.Add(1)
		fired <- struct{}{}
	})

	for i := 0; i < 3; i++ {
		select {
		case <-fired:
		case <-time.After(time.Second):
			t.Fatalf("tick %d never fired", i)
		}
	}

	done := make(chan struct{})
	l.Post(func() {
		h.Cancel()
		close(done)
	})
	<-done
	n := calls.Load()

	time.Sleep(30 * time.Millisecond)
	if got := calls.Load(); got != n {
		t.Errorf("calls after cancel: got %d, want %d", got, n)
	}
}

func TestLoop_CallbacksSerialised(t *testing.T) {
	l := NewLoop()
	runLoop(t, l)

	var running, overlap atomic.Int32
	done := make(chan struct{}, 64)
	work := func() {
		if running.Add(1) > 1 {
			overlap.Add(1)
		}
		time.Sleep(time.Millisecond)
		running.Add(-1)
		done <- struct{}{}
	}

	h1 := l.Every(time.Millisecond, work)
	h2 := l.Every(time.Millisecond, work)
	for i := 0; i < 20; i++ {
		<-done
	}
	h1.Cancel()
	h2.Cancel()

	if overlap.Load() != 0 {
		t.Errorf("overlapping callbacks: %d", overlap.Load())
	}
}

func TestLoop_TriggerAfterCancel(t *testing.T) {
	l := NewLoop()
	runLoop(t, l)

	got := make(chan struct{}, 4)
	fire, h := l.Trigger(func() { got <- struct{}{} })

	fire()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatal("trigger never ran")
	}

	h.Cancel()
	fire()
	select {
	case <-got:
		t.Error("trigger ran after cancel")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestLoop_PostAfterClose(t *testing.T) {
	l := NewLoop()
	cancel := runLoop(t, l)
	cancel()

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !l.Post(func() {}) {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Error("Post accepted callbacks after the loop stopped")
}

func TestLoop_BlockedPostReleasedByCancel(t *testing.T) {
	l := NewLoop()
	// Nothing drains the queue, so the next post blocks.
	for range cap(l.queue) {
		if !l.Post(func() {}) {
			t.Fatal("Post rejected while the queue had room")
		}
	}

	h := &Handle{cancel: make(chan struct{})}
	res := make(chan bool, 1)
	go func() { res <- l.post(func() {}, h.cancel) }()

	select {
	case <-res:
		t.Fatal("post returned while the queue was full")
	case <-time.After(20 * time.Millisecond):
	}

	h.Cancel()
	select {
	case ok := <-res:
		if ok {
			t.Error("post reported success after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("post still blocked after its handle was cancelled")
	}
}
