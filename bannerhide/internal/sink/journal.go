package sink

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hazyhaar/bannerhide/bannerhide/event"
	"github.com/hazyhaar/bannerhide/dbopen"
)

// JournalSchema creates the suppressions table.
const JournalSchema = `
CREATE TABLE IF NOT EXISTS suppressions (
	id          TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	page_id     TEXT NOT NULL,
	page_url    TEXT NOT NULL,
	xpath       TEXT NOT NULL DEFAULT '',
	strategy    TEXT NOT NULL DEFAULT '',
	attempts    INTEGER NOT NULL DEFAULT 0,
	latency_ms  INTEGER NOT NULL DEFAULT 0,
	detail      TEXT NOT NULL DEFAULT '',
	ts          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suppressions_page ON suppressions(page_id, ts);
`

// Journal records events in SQLite. The caller owns the database.
type Journal struct {
	db *sql.DB
}

// NewJournal creates the schema if needed and returns a Journal.
func NewJournal(ctx context.Context, db *sql.DB) (*Journal, error) {
	if _, err := db.ExecContext(ctx, JournalSchema); err != nil {
		return nil, fmt.Errorf("journal: schema: %w", err)
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Send(ctx context.Context, ev event.Event) error {
	_, err := dbopen.Exec(ctx, j.db, `
		INSERT INTO suppressions (id, type, page_id, page_url, xpath, strategy,
		                          attempts, latency_ms, detail, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, string(ev.Type), ev.PageID, ev.PageURL, ev.XPath, ev.Strategy,
		ev.Attempts, ev.LatencyMs, ev.Detail, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("journal: insert: %w", err)
	}
	return nil
}

// Recent returns the latest events, newest first. pageID filters when
// non-empty.
func (j *Journal) Recent(ctx context.Context, pageID string, limit int) ([]event.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := j.db.QueryContext(ctx, `
		SELECT id, type, page_id, page_url, xpath, strategy,
		       attempts, latency_ms, detail, ts
		FROM suppressions
		WHERE ? = '' OR page_id = ?
		ORDER BY ts DESC, id DESC
		LIMIT ?`, pageID, pageID, limit)
	if err != nil {
		return nil, fmt.Errorf("journal: query: %w", err)
	}
	defer rows.Close()

	var out []event.Event
	for rows.Next() {
		var ev event.Event
		var typ string
		if err := rows.Scan(&ev.ID, &typ, &ev.PageID, &ev.PageURL, &ev.XPath,
			&ev.Strategy, &ev.Attempts, &ev.LatencyMs, &ev.Detail, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("journal: scan: %w", err)
		}
		ev.Type = event.Type(typ)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close is a no-op: the database belongs to the caller.
func (j *Journal) Close() error { return nil }
