// Package sink defines output backends for bannerhide events.
package sink

import (
	"context"

	"github.com/hazyhaar/bannerhide/bannerhide/event"
)

// Sink is the output interface. Implementations deliver events to
// different backends (stdout, webhook, SQLite journal, in-process callback).
type Sink interface {
	Send(ctx context.Context, ev event.Event) error
	Close() error
}
