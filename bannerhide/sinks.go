package bannerhide

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/hazyhaar/bannerhide/bannerhide/internal/sink"
)

// Sink is the output interface for bannerhide events.
type Sink = sink.Sink

// Journal is the SQLite suppression journal.
type Journal = sink.Journal

// EventFunc is called for each event.
type EventFunc = sink.Func

// JournalSchema creates the suppressions table.
const JournalSchema = sink.JournalSchema

// NewStdoutSink creates a stdout JSON-lines sink.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink creates a webhook POST sink with retry.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink creates an in-process callback sink.
func NewCallbackSink(fn EventFunc) Sink {
	return sink.NewCallback(fn)
}

// NewJournalSink records events in db.
func NewJournalSink(ctx context.Context, db *sql.DB) (*Journal, error) {
	return sink.NewJournal(ctx, db)
}

// BuildSinks creates the sinks listed in cfg. Journal sinks open their own
// database with open.
func BuildSinks(ctx context.Context, cfg []SinkConfig, out io.Writer, open func(path string) (*sql.DB, error), logger *slog.Logger) ([]Sink, error) {
	var sinks []Sink
	for _, sc := range cfg {
		switch sc.Type {
		case "stdout":
			sinks = append(sinks, NewStdoutSink(out))
		case "webhook":
			if sc.URL == "" {
				return nil, fmt.Errorf("bannerhide: webhook sink needs a url")
			}
			sinks = append(sinks, NewWebhookSink(sc.URL, logger))
		case "journal":
			if sc.Path == "" {
				return nil, fmt.Errorf("bannerhide: journal sink needs a path")
			}
			db, err := open(sc.Path)
			if err != nil {
				return nil, fmt.Errorf("bannerhide: journal %s: %w", sc.Path, err)
			}
			j, err := NewJournalSink(ctx, db)
			if err != nil {
				db.Close()
				return nil, err
			}
			sinks = append(sinks, ownedJournal{Journal: j, db: db})
		default:
			return nil, fmt.Errorf("bannerhide: unknown sink type %q", sc.Type)
		}
	}
	return sinks, nil
}

// ownedJournal closes the database BuildSinks opened for it.
type ownedJournal struct {
	*Journal
	db *sql.DB
}

func (o ownedJournal) Close() error { return o.db.Close() }
