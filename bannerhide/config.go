package bannerhide

import (
	"context"
	"database/sql"

	"github.com/hazyhaar/bannerhide/bannerhide/internal/config"
)

// Config is the top-level bannerhide configuration. Re-exported from internal.
type Config = config.Config

// BrowserConfig controls Chrome.
type BrowserConfig = config.BrowserConfig

// PageConfig defines a page to clear.
type PageConfig = config.PageConfig

// SinkConfig defines an output backend.
type SinkConfig = config.SinkConfig

// Watch strategies.
const (
	StrategyPoll     = config.StrategyPoll
	StrategyMutation = config.StrategyMutation
	StrategyInject   = config.StrategyInject
)

// PagesSchema creates the banner_pages table.
const PagesSchema = config.Schema

// LoadConfigFile reads a YAML configuration file.
func LoadConfigFile(path string) (*Config, error) {
	return config.LoadFile(path)
}

// LoadPages reads the active pages from a banner_pages table.
func LoadPages(ctx context.Context, db *sql.DB) ([]PageConfig, error) {
	return config.LoadPages(ctx, db)
}

// UpsertPage inserts or replaces a banner_pages row.
func UpsertPage(ctx context.Context, db *sql.DB, p PageConfig) error {
	return config.UpsertPage(ctx, db, p)
}
