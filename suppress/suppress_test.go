package suppress_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/bannerhide/htmldoc"
	"github.com/hazyhaar/bannerhide/schedule"
	"github.com/hazyhaar/bannerhide/suppress"
)

const bannerPage = `<html><head></head><body>
<div class="header">shop</div>
<div class="gdpr-cookie-banner js-gdpr-cookie-banner" style="bottom: 0; position: fixed">cookies</div>
<div class="gdpr-cookie-banner second">second</div>
</body></html>`

func newDoc(t *testing.T, src string) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return doc
}

func TestSuppressor_ReadyOnly(t *testing.T) {
	doc := newDoc(t, bannerPage)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if s.State() != suppress.Watching {
		t.Fatalf("state before ready: got %v, want watching", s.State())
	}

	sched.FireReady()

	if s.State() != suppress.Suppressed {
		t.Fatalf("state after ready: got %v, want suppressed", s.State())
	}
	hidden, err := doc.Hidden(suppress.XPath)
	if err != nil {
		t.Fatal(err)
	}
	if !hidden {
		t.Error("banner not hidden after ready trigger")
	}
	if sched.Active() != 0 {
		t.Errorf("active handles: got %d, want 0", sched.Active())
	}
	select {
	case <-s.Done():
	default:
		t.Error("Done not closed after suppression")
	}
}

func TestSuppressor_OnlyFirstMatchHidden(t *testing.T) {
	doc := newDoc(t, bannerPage)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sched.FireReady()

	hidden, err := doc.Hidden(`//div[contains(@class, "second")]`)
	if err != nil {
		t.Fatal(err)
	}
	if hidden {
		t.Error("second banner hidden; only the first in document order should be")
	}
}

func TestSuppressor_KeepsOtherDeclarations(t *testing.T) {
	doc := newDoc(t, bannerPage)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sched.FireReady()

	style, err := doc.Style(suppress.XPath)
	if err != nil {
		t.Fatal(err)
	}
	want := "bottom: 0; position: fixed; visibility: hidden"
	if style != want {
		t.Errorf("style: got %q, want %q", style, want)
	}
}

func TestSuppressor_IdempotentAfterSuccess(t *testing.T) {
	doc := newDoc(t, bannerPage)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	sched.Advance(suppress.PollInterval)
	if s.State() != suppress.Suppressed {
		t.Fatalf("state: got %v, want suppressed", s.State())
	}
	queries := doc.Queries()
	before, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}

	sched.FireReady()
	sched.Advance(10 * suppress.PollInterval)

	if got := doc.Queries(); got != queries {
		t.Errorf("queries after success: got %d, want %d", got, queries)
	}
	after, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Error("document mutated after suppression")
	}
	if s.Attempts() != 1 {
		t.Errorf("attempts: got %d, want 1", s.Attempts())
	}
}

func TestSuppressor_PrefixMatch(t *testing.T) {
	for _, class := range []string{"gdpr-cookie-banner", "gdpr-cookie-banner-extended"} {
		t.Run(class, func(t *testing.T) {
			doc := newDoc(t, `<html><body><div class="`+class+`">x</div></body></html>`)
			sched := schedule.NewManual()
			s := suppress.New(doc, sched)
			if err := s.Start(context.Background()); err != nil {
				t.Fatal(err)
			}
			sched.Advance(suppress.PollInterval)

			if s.State() != suppress.Suppressed {
				t.Fatalf("state: got %v, want suppressed", s.State())
			}
			hidden, err := doc.Hidden(`//div[@class="` + class + `"]`)
			if err != nil {
				t.Fatal(err)
			}
			if !hidden {
				t.Errorf("class %q not hidden", class)
			}
		})
	}
}

func TestSuppressor_NoFalsePositive(t *testing.T) {
	src := `<html><body>
<div class="gdpr-banner">a</div>
<div class="x gdpr-cookie-banner">b</div>
<span class="gdpr-cookie-banner">c</span>
</body></html>`
	doc := newDoc(t, src)
	before, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}

	sched := schedule.NewManual()
	s := suppress.New(doc, sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sched.FireReady()
	sched.Advance(5 * suppress.PollInterval)

	if s.State() != suppress.Watching {
		t.Fatalf("state: got %v, want watching", s.State())
	}
	after, err := doc.Render()
	if err != nil {
		t.Fatal(err)
	}
	if after != before {
		t.Error("document changed without a matching banner")
	}
	if sched.Active() != 1 {
		t.Errorf("active handles: got %d, want 1", sched.Active())
	}
	// ready + 5 ticks
	if s.Attempts() != 6 {
		t.Errorf("attempts: got %d, want 6", s.Attempts())
	}
}

func TestSuppressor_EventualSuppression(t *testing.T) {
	doc := newDoc(t, `<html><body><div id="app"></div></body></html>`)
	sched := schedule.NewManual()

	var hiddenAt time.Duration
	s := suppress.New(doc, sched,
		suppress.WithClock(sched.Clock()),
		suppress.WithOnSuppressed(func(suppress.Result) { hiddenAt = sched.Now() }),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sched.FireReady()

	sched.Advance(600 * time.Millisecond)
	if s.State() != suppress.Watching {
		t.Fatalf("state before insertion: got %v, want watching", s.State())
	}

	insertedAt := sched.Now()
	if err := doc.Insert(`//div[@id="app"]`, `<div class="gdpr-cookie-banner">late</div>`); err != nil {
		t.Fatal(err)
	}

	sched.Advance(suppress.PollInterval)

	if s.State() != suppress.Suppressed {
		t.Fatalf("state after insertion: got %v, want suppressed", s.State())
	}
	if hiddenAt != time.Second {
		t.Errorf("hidden at: got %v, want 1s", hiddenAt)
	}
	if latency := hiddenAt - insertedAt; latency > suppress.PollInterval {
		t.Errorf("latency: got %v, want <= %v", latency, suppress.PollInterval)
	}
}

func TestSuppressor_ElementStaysInTree(t *testing.T) {
	doc := newDoc(t, bannerPage)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sched.FireReady()

	n, err := doc.Count(`//div[@class="gdpr-cookie-banner js-gdpr-cookie-banner"]`)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("banner count after suppression: got %d, want 1", n)
	}
	n, err = doc.Count(`//body/div`)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("body children: got %d, want 3", n)
	}
}

func TestSuppressor_ResultReported(t *testing.T) {
	doc := newDoc(t, `<html><body></body></html>`)
	sched := schedule.NewManual()

	var got []suppress.Result
	s := suppress.New(doc, sched,
		suppress.WithClock(sched.Clock()),
		suppress.WithOnSuppressed(func(r suppress.Result) { got = append(got, r) }),
	)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	sched.Advance(2 * suppress.PollInterval)
	if err := doc.Insert(`//body`, `<div class="gdpr-cookie-banner"></div>`); err != nil {
		t.Fatal(err)
	}
	sched.Advance(3 * suppress.PollInterval)

	if len(got) != 1 {
		t.Fatalf("results: got %d, want 1", len(got))
	}
	if got[0].Attempts != 3 {
		t.Errorf("Attempts: got %d, want 3", got[0].Attempts)
	}
	if got[0].Elapsed != 3*suppress.PollInterval {
		t.Errorf("Elapsed: got %v, want %v", got[0].Elapsed, 3*suppress.PollInterval)
	}
}

func TestSuppressor_StartTwice(t *testing.T) {
	doc := newDoc(t, `<html><body></body></html>`)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)

	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, suppress.ErrStarted) {
		t.Fatalf("second Start: got %v, want ErrStarted", err)
	}
	if sched.Active() != 1 {
		t.Errorf("active handles: got %d, want 1", sched.Active())
	}
}

func TestSuppressor_StartAfterSuccess(t *testing.T) {
	doc := newDoc(t, bannerPage)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)

	ok, err := s.Attempt(context.Background())
	if err != nil || !ok {
		t.Fatalf("Attempt: got %v, %v; want true, nil", ok, err)
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start after success: %v", err)
	}
	if sched.Active() != 0 {
		t.Fatalf("active handles: got %d, want 0", sched.Active())
	}

	sched.FireReady()
	sched.Advance(4 * suppress.PollInterval)
	if s.Attempts() != 1 {
		t.Errorf("attempts: got %d, want 1", s.Attempts())
	}
	if sched.Active() != 0 {
		t.Errorf("active handles after ticks: got %d, want 0", sched.Active())
	}
	if err := s.Start(context.Background()); !errors.Is(err, suppress.ErrStarted) {
		t.Errorf("second Start: got %v, want ErrStarted", err)
	}
}

func TestSuppressor_ContextEndCancelsHandle(t *testing.T) {
	doc := newDoc(t, `<html><body></body></html>`)
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)

	ctx, cancel := context.WithCancel(context.Background())
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	deadline := time.Now().Add(time.Second)
	for sched.Active() != 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if sched.Active() != 0 {
		t.Fatalf("active handles after cancel: got %d, want 0", sched.Active())
	}
	if s.State() != suppress.Watching {
		t.Errorf("state: got %v, want watching", s.State())
	}
}

type failingDoc struct {
	calls int
	err   error
}

func (f *failingDoc) First(context.Context, string) (suppress.Element, error) {
	f.calls++
	return nil, f.err
}

func TestSuppressor_QueryFailureKeepsPolling(t *testing.T) {
	doc := &failingDoc{err: errors.New("evaluate unsupported")}
	sched := schedule.NewManual()
	s := suppress.New(doc, sched)
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}

	_, err := s.Attempt(context.Background())
	if !errors.Is(err, doc.err) {
		t.Fatalf("Attempt: got %v, want wrapped %v", err, doc.err)
	}

	sched.Advance(3 * suppress.PollInterval)
	if doc.calls != 4 {
		t.Errorf("queries: got %d, want 4", doc.calls)
	}
	if s.State() != suppress.Watching {
		t.Errorf("state: got %v, want watching", s.State())
	}
	if sched.Active() != 1 {
		t.Errorf("active handles: got %d, want 1", sched.Active())
	}
}

type stubElement struct{ err error }

func (e stubElement) Hide(context.Context) error { return e.err }

type stubDoc struct{ el suppress.Element }

func (d stubDoc) First(context.Context, string) (suppress.Element, error) { return d.el, nil }

func TestSuppressor_HideFailure(t *testing.T) {
	hideErr := errors.New("detached node")
	s := suppress.New(stubDoc{el: stubElement{err: hideErr}}, schedule.NewManual())

	ok, err := s.Attempt(context.Background())
	if ok {
		t.Error("Attempt reported success on hide failure")
	}
	if !errors.Is(err, hideErr) {
		t.Errorf("Attempt: got %v, want wrapped %v", err, hideErr)
	}
	if s.State() != suppress.Watching {
		t.Errorf("state: got %v, want watching", s.State())
	}
}

func TestState_String(t *testing.T) {
	if suppress.Watching.String() != "watching" {
		t.Errorf("Watching: got %q", suppress.Watching.String())
	}
	if suppress.Suppressed.String() != "suppressed" {
		t.Errorf("Suppressed: got %q", suppress.Suppressed.String())
	}
	if got := suppress.State(7).String(); got != "state(7)" {
		t.Errorf("State(7): got %q", got)
	}
}

// lateDoc matches on the query numbered at or after appearAt.
type lateDoc struct {
	appearAt int64
	queries  atomic.Int64
	hidden   atomic.Int64
}

func (d *lateDoc) First(context.Context, string) (suppress.Element, error) {
	if d.queries.Add(1) < d.appearAt {
		return nil, nil
	}
	return lateElement{d}, nil
}

type lateElement struct{ d *lateDoc }

func (e lateElement) Hide(context.Context) error {
	e.d.hidden.Add(1)
	return nil
}

func TestSuppressor_OnLoop(t *testing.T) {
	doc := &lateDoc{appearAt: 2}
	loop := schedule.NewLoop()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	found := make(chan suppress.Result, 1)
	s := suppress.New(doc, loop, suppress.WithOnSuppressed(func(r suppress.Result) { found <- r }))
	if err := s.Start(ctx); err != nil {
		t.Fatal(err)
	}
	loop.MarkReady()

	select {
	case res := <-found:
		if res.Attempts != 2 {
			t.Errorf("Attempts: got %d, want 2 (ready, then one tick)", res.Attempts)
		}
		if res.Elapsed < suppress.PollInterval/2 {
			t.Errorf("Elapsed: got %v, want about one poll interval", res.Elapsed)
		}
	case <-time.After(3 * suppress.PollInterval):
		t.Fatal("banner never hidden on the loop")
	}

	// Two more intervals: a live handle would query again.
	time.Sleep(2*suppress.PollInterval + 100*time.Millisecond)
	if got := doc.queries.Load(); got != 2 {
		t.Errorf("queries after success: got %d, want 2", got)
	}
	if got := doc.hidden.Load(); got != 1 {
		t.Errorf("hides: got %d, want 1", got)
	}
	if s.State() != suppress.Suppressed {
		t.Errorf("state: got %v, want suppressed", s.State())
	}
}
