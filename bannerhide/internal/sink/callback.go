package sink

import (
	"context"

	"github.com/hazyhaar/bannerhide/bannerhide/event"
)

// Func is called for each event.
type Func func(ctx context.Context, ev event.Event) error

// Callback delivers events through a Go function call, for embedding
// bannerhide in a crawler that lives in the same binary.
type Callback struct {
	fn Func
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn Func) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, ev event.Event) error {
	if c.fn != nil {
		return c.fn(ctx, ev)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
