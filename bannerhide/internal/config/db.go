package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Schema for the banner_pages table.
const Schema = `
CREATE TABLE IF NOT EXISTS banner_pages (
	id          TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	strategy    TEXT NOT NULL DEFAULT 'poll',
	timeout_ms  INTEGER NOT NULL DEFAULT 30000,
	settle_ms   INTEGER NOT NULL DEFAULT 250,
	status      TEXT NOT NULL DEFAULT 'active',
	updated_at  INTEGER NOT NULL
);
`

// LoadPages reads all active pages from the database.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, url, strategy, timeout_ms, settle_ms
		FROM banner_pages
		WHERE status = 'active'
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("config: load pages: %w", err)
	}
	defer rows.Close()

	var pages []PageConfig
	for rows.Next() {
		var p PageConfig
		var timeoutMs, settleMs int64
		if err := rows.Scan(&p.ID, &p.URL, &p.Strategy, &timeoutMs, &settleMs); err != nil {
			return nil, fmt.Errorf("config: scan page: %w", err)
		}
		p.Timeout = time.Duration(timeoutMs) * time.Millisecond
		p.Settle = time.Duration(settleMs) * time.Millisecond
		p.ApplyDefaults()
		pages = append(pages, p)
	}
	return pages, rows.Err()
}

// UpsertPage inserts or replaces a page row.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO banner_pages (id, url, strategy, timeout_ms, settle_ms, status, updated_at)
		VALUES (?, ?, ?, ?, ?, 'active', ?)
		ON CONFLICT(id) DO UPDATE SET
			url = excluded.url,
			strategy = excluded.strategy,
			timeout_ms = excluded.timeout_ms,
			settle_ms = excluded.settle_ms,
			status = 'active',
			updated_at = excluded.updated_at`,
		p.ID, p.URL, p.Strategy, p.Timeout.Milliseconds(), p.Settle.Milliseconds(), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("config: upsert page %q: %w", p.ID, err)
	}
	return nil
}
