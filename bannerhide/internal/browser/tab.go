package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// TabOptions configures OpenTab.
type TabOptions struct {
	// Setup runs on the blank tab before navigation. Init scripts,
	// bindings and event listeners that must see the first document go
	// here.
	Setup func(page *rod.Page) error

	// OnCaptcha is called with the request URL of any 511 response.
	OnCaptcha func(url string)

	// NavTimeout bounds navigation. Default: 30s.
	NavTimeout time.Duration
}

// Tab wraps a Rod page with bannerhide-specific setup: stealth, request
// blocking and captcha detection.
type Tab struct {
	Page    *rod.Page
	PageURL string
	PageID  string
	Stealth StealthLevel

	router      *rod.HijackRouter
	stopCaptcha func()
}

// OpenTab creates a new tab, runs opts.Setup, then navigates to pageURL.
// Navigation returns once the main document has been committed; callers
// wait for readiness themselves.
func OpenTab(ctx context.Context, mgr *Manager, pageURL, pageID string, opts TabOptions) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	if opts.NavTimeout <= 0 {
		opts.NavTimeout = 30 * time.Second
	}
	log := mgr.cfg.Logger

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	t := &Tab{
		Page:    page,
		PageURL: pageURL,
		PageID:  pageID,
		Stealth: mgr.cfg.Stealth,
	}

	if bl := newBlocker(mgr.cfg.ResourceBlocking, mgr.cfg.BlockTrackers); bl.active() {
		t.router = applyBlocking(page, bl)
	}

	if opts.OnCaptcha != nil {
		t.stopCaptcha = watchCaptcha(page, opts.OnCaptcha)
	}

	if opts.Setup != nil {
		if err := opts.Setup(page); err != nil {
			t.Close()
			return nil, fmt.Errorf("browser: setup %s: %w", pageURL, err)
		}
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.NavTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(pageURL); err != nil {
		t.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}

	log.Debug("browser: tab opened", "page_id", pageID, "url", pageURL)
	return t, nil
}

// Close stops interception and closes the tab.
func (t *Tab) Close() error {
	if t.stopCaptcha != nil {
		t.stopCaptcha()
	}
	if t.router != nil {
		t.router.Stop()
	}
	if t.Page != nil {
		return t.Page.Close()
	}
	return nil
}
