package bannerhide

import (
	"context"
	"database/sql"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/bannerhide/bannerhide/internal/config"
	"github.com/hazyhaar/bannerhide/watch"
)

// Follow watches the banner_pages table of db and clears every page that
// is added or whose row changes, until ctx ends. Pages that already ran
// with the same settings are skipped. It blocks.
func (r *Runner) Follow(ctx context.Context, db *sql.DB, interval time.Duration) error {
	g := new(errgroup.Group)
	g.SetLimit(r.cfg.Concurrency)

	r.follow(ctx, db, interval, func(ctx context.Context, p PageConfig) {
		g.Go(func() error {
			if _, err := r.RunPage(ctx, p); err != nil && ctx.Err() == nil {
				r.logger.Warn("bannerhide: page not cleared", "page_id", p.ID, "url", p.URL, "error", err)
			}
			return nil
		})
	})

	g.Wait()
	return ctx.Err()
}

// follow polls banner_pages and hands each new or changed page to start.
// A failed reload is retried on the next poll.
func (r *Runner) follow(ctx context.Context, db *sql.DB, interval time.Duration, start func(context.Context, PageConfig)) {
	w := watch.New(db, watch.Options{
		Interval: interval,
		Debounce: interval / 2,
		Detector:   watch.MaxColumn("banner_pages", "updated_at"),
		RunInitial: true,
		Logger:     r.logger,
	})

	reload := func(ctx context.Context) error {
		pages, err := config.LoadPages(ctx, db)
		if err != nil {
			return err
		}
		for _, p := range r.pending(pages) {
			r.track(p)
			r.markRan(p)
			start(ctx, p)
		}
		return nil
	}

	r.logger.Info("bannerhide: following banner_pages", "interval", interval)
	w.OnChange(ctx, reload)
}

// pending filters pages down to those not yet run with their current
// settings.
func (r *Runner) pending(pages []PageConfig) []PageConfig {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []PageConfig
	for _, p := range pages {
		if prev, ok := r.ran[p.ID]; ok && prev == p {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (r *Runner) markRan(p PageConfig) {
	r.mu.Lock()
	r.ran[p.ID] = p
	r.mu.Unlock()
}
