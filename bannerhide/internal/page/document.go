// Package page binds the suppression routine to a live rod tab. It
// provides the Document and Scheduler implementations for a real page and
// the three watch strategies a Runner can pick from.
package page

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/bannerhide/suppress"
)

// hideJS runs with this bound to the matched element.
const hideJS = `() => { this.style.visibility = 'hidden' }`

// Document queries the live DOM of a rod page.
type Document struct {
	page *rod.Page
}

var _ suppress.Document = (*Document)(nil)

// NewDocument wraps page.
func NewDocument(page *rod.Page) *Document {
	return &Document{page: page}
}

// First returns the first element matched by xpath, or nil when nothing
// matches. It does not wait for the element to appear.
func (d *Document) First(ctx context.Context, xpath string) (suppress.Element, error) {
	els, err := d.page.Context(ctx).ElementsX(xpath)
	if err != nil {
		return nil, fmt.Errorf("page: elements %s: %w", xpath, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return &Element{el: els.First()}, nil
}

// Element is a matched node in a live page.
type Element struct {
	el *rod.Element
}

// Hide sets the element's visibility to hidden.
func (e *Element) Hide(ctx context.Context) error {
	if _, err := e.el.Context(ctx).Eval(hideJS); err != nil {
		return fmt.Errorf("page: hide: %w", err)
	}
	return nil
}

// readyState returns document.readyState of the current document.
func readyState(ctx context.Context, page *rod.Page) (string, error) {
	res, err := page.Context(ctx).Eval(`() => document.readyState`)
	if err != nil {
		return "", fmt.Errorf("page: ready state: %w", err)
	}
	return res.Value.Str(), nil
}
