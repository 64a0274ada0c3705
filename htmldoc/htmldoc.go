// Package htmldoc implements suppress.Document over a parsed HTML tree.
//
// Queries are XPath expressions evaluated by htmlquery. Hiding an element
// rewrites its inline style attribute. The tree is safe for concurrent use,
// so tests can inject nodes while a scheduler inspects it.
package htmldoc

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"

	"github.com/hazyhaar/bannerhide/suppress"
)

// Document is an in-memory HTML document.
type Document struct {
	mu      sync.RWMutex
	root    *html.Node
	queries atomic.Int64
}

var _ suppress.Document = (*Document)(nil)

// Parse reads a full HTML document.
func Parse(r io.Reader) (*Document, error) {
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("htmldoc: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// ParseString is Parse for a string.
func ParseString(s string) (*Document, error) {
	return Parse(strings.NewReader(s))
}

// First implements suppress.Document.
func (d *Document) First(ctx context.Context, xpath string) (suppress.Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.queries.Add(1)

	d.mu.RLock()
	n, err := htmlquery.Query(d.root, xpath)
	d.mu.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("htmldoc: query %q: %w", xpath, err)
	}
	if n == nil {
		return nil, nil
	}
	return &Element{doc: d, node: n}, nil
}

// Queries returns how many times First has been called.
func (d *Document) Queries() int64 {
	return d.queries.Load()
}

// Count returns the number of nodes selected by xpath. It is not counted as
// a query.
func (d *Document) Count(xpath string) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	nodes, err := htmlquery.QueryAll(d.root, xpath)
	if err != nil {
		return 0, fmt.Errorf("htmldoc: query %q: %w", xpath, err)
	}
	return len(nodes), nil
}

// Hidden reports whether the first node selected by xpath carries
// visibility: hidden in its inline style. It returns false when nothing
// matches.
func (d *Document) Hidden(xpath string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := htmlquery.Query(d.root, xpath)
	if err != nil {
		return false, fmt.Errorf("htmldoc: query %q: %w", xpath, err)
	}
	if n == nil {
		return false, nil
	}
	v, ok := styleProperty(htmlquery.SelectAttr(n, "style"), "visibility")
	return ok && v == "hidden", nil
}

// Style returns the inline style attribute of the first node selected by
// xpath.
func (d *Document) Style(xpath string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, err := htmlquery.Query(d.root, xpath)
	if err != nil {
		return "", fmt.Errorf("htmldoc: query %q: %w", xpath, err)
	}
	if n == nil {
		return "", nil
	}
	return htmlquery.SelectAttr(n, "style"), nil
}

// Insert parses fragment in the context of the first node selected by
// parentXPath and appends the result to that node's children.
func (d *Document) Insert(parentXPath, fragment string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	parent, err := htmlquery.Query(d.root, parentXPath)
	if err != nil {
		return fmt.Errorf("htmldoc: query %q: %w", parentXPath, err)
	}
	if parent == nil {
		return fmt.Errorf("htmldoc: insert: no node at %q", parentXPath)
	}

	nodes, err := html.ParseFragment(strings.NewReader(fragment), parent)
	if err != nil {
		return fmt.Errorf("htmldoc: parse fragment: %w", err)
	}
	for _, n := range nodes {
		parent.AppendChild(n)
	}
	return nil
}

// Render serialises the whole document.
func (d *Document) Render() (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var buf bytes.Buffer
	if err := html.Render(&buf, d.root); err != nil {
		return "", fmt.Errorf("htmldoc: render: %w", err)
	}
	return buf.String(), nil
}

// Element is a node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

// Hide sets visibility: hidden in the element's inline style, keeping the
// other declarations.
func (e *Element) Hide(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()

	style := setStyleProperty(htmlquery.SelectAttr(e.node, "style"), "visibility", "hidden")
	for i := range e.node.Attr {
		if e.node.Attr[i].Key == "style" {
			e.node.Attr[i].Val = style
			return nil
		}
	}
	e.node.Attr = append(e.node.Attr, html.Attribute{Key: "style", Val: style})
	return nil
}

// Class returns the element's class attribute.
func (e *Element) Class() string {
	e.doc.mu.RLock()
	defer e.doc.mu.RUnlock()
	return htmlquery.SelectAttr(e.node, "class")
}
