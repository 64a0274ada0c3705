// Package watch polls a SQLite table for changes and runs an action once
// the change has settled. bannerhide uses it to pick up pages added to
// banner_pages while a run is in progress.
//
//	w := watch.New(db, watch.Options{
//		Interval: 2 * time.Second,
//		Detector: watch.MaxColumn("banner_pages", "updated_at"),
//	})
//	go w.OnChange(ctx, func(ctx context.Context) error { return reload(ctx) })
package watch

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"
)

// Detector reads a version token. A token different from the last one
// means the watched data changed.
type Detector func(ctx context.Context, db *sql.DB) (int64, error)

// Options tunes a Watcher.
type Options struct {
	// Interval between two detector calls. Default: 1s.
	Interval   time.Duration
	// Debounce is the quiet period after a change before the action runs.
	// A further change restarts it. 0 runs the action on detection.
	Debounce   time.Duration
	// Detector reads the version token. Required.
	Detector   Detector
	// RunInitial runs the action once for the version seen at start
	// instead of taking it as the baseline. Changes made while that first
	// action runs are still detected.
	RunInitial bool
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.Interval <= 0 {
		o.Interval = time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Stats are point-in-time counters.
type Stats struct {
	Checks  int64 `json:"checks"`
	Changes int64 `json:"changes"`
	Errors  int64 `json:"errors"`
	Reloads int64 `json:"reloads"`
}

// Watcher polls a database with a Detector.
type Watcher struct {
	db   *sql.DB
	opts Options

	version atomic.Int64

	checks  atomic.Int64
	changes atomic.Int64
	errors  atomic.Int64
	reloads atomic.Int64
}

// New creates a Watcher. Call OnChange to start polling.
func New(db *sql.DB, opts Options) *Watcher {
	opts.defaults()
	return &Watcher{db: db, opts: opts}
}

// Stats returns the current counters.
func (w *Watcher) Stats() Stats {
	return Stats{
		Checks:  w.checks.Load(),
		Changes: w.changes.Load(),
		Errors:  w.errors.Load(),
		Reloads: w.reloads.Load(),
	}
}

// Version returns the last version the action succeeded for.
func (w *Watcher) Version() int64 { return w.version.Load() }

// OnChange polls until ctx ends. Unless RunInitial is set, the version
// seen at start is the baseline and the action runs for later changes only. A failed action does
// not advance the version, so the next poll retries it.
func (w *Watcher) OnChange(ctx context.Context, action func(ctx context.Context) error) {
	log := w.opts.Logger

	v, err := w.opts.Detector(ctx, w.db)
	switch {
	case err != nil:
		log.Warn("watch: initial version check failed", "error", err)
		if w.opts.RunInitial {
			w.run(ctx, action, 0)
		}
	case w.opts.RunInitial:
		w.run(ctx, action, v)
	default:
		w.version.Store(v)
	}

	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()

	var settle *time.Timer
	var settleCh <-chan time.Time
	pending := int64(-1)
	defer func() {
		if settle != nil {
			settle.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			w.checks.Add(1)
			cur, err := w.opts.Detector(ctx, w.db)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				w.errors.Add(1)
				log.Warn("watch: version check failed", "error", err)
				continue
			}
			if cur == w.version.Load() || cur == pending {
				continue
			}
			w.changes.Add(1)
			pending = cur

			if w.opts.Debounce <= 0 {
				w.run(ctx, action, pending)
				pending = -1
				continue
			}
			if settle != nil {
				settle.Stop()
			}
			settle = time.NewTimer(w.opts.Debounce)
			settleCh = settle.C

		case <-settleCh:
			settleCh = nil
			if pending >= 0 {
				w.run(ctx, action, pending)
				pending = -1
			}
		}
	}
}

func (w *Watcher) run(ctx context.Context, action func(context.Context) error, ver int64) {
	if err := action(ctx); err != nil {
		w.errors.Add(1)
		w.opts.Logger.Error("watch: action failed", "version", ver, "error", err)
		return
	}
	w.reloads.Add(1)
	w.version.Store(ver)
	w.opts.Logger.Debug("watch: action done", "version", ver)
}

// MaxColumn returns a Detector reading MAX(column) of table, for tables
// stamped with an updated_at column.
func MaxColumn(table, column string) Detector {
	query := "SELECT COALESCE(MAX(" + quoteIdent(column) + "), 0) FROM " + quoteIdent(table)
	return func(ctx context.Context, db *sql.DB) (int64, error) {
		var v int64
		err := db.QueryRowContext(ctx, query).Scan(&v)
		return v, err
	}
}

// quoteIdent wraps a SQL identifier in double quotes, escaping any embedded quotes.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
