// Package config handles bannerhide configuration from YAML files or SQLite.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Strategy names how a page is watched for the banner.
const (
	StrategyPoll     = "poll"     // Go-side query every poll interval
	StrategyMutation = "mutation" // Go-side query on debounced DOM mutations
	StrategyInject   = "inject"   // in-page script installed before navigation
)

// Config is the top-level bannerhide configuration.
type Config struct {
	Browser     BrowserConfig `yaml:"browser"`
	Pages       []PageConfig  `yaml:"pages"`
	Concurrency int           `yaml:"concurrency"`
	Sinks       []SinkConfig  `yaml:"sinks"`
}

// BrowserConfig controls Chrome.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Stealth          string   `yaml:"stealth"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	ResourceBlocking []string `yaml:"resource_blocking"`
	BlockTrackers    bool     `yaml:"block_trackers"`
}

// PageConfig defines a page to clear.
type PageConfig struct {
	ID       string        `yaml:"id"`
	URL      string        `yaml:"url"`
	Strategy string        `yaml:"strategy"` // poll | mutation | inject
	Timeout  time.Duration `yaml:"timeout"`
	Settle   time.Duration `yaml:"settle"` // mutation debounce window
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | journal
	URL  string `yaml:"url"`  // webhook
	Path string `yaml:"path"` // journal database
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Browser.Stealth == "" {
		c.Browser.Stealth = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	for i := range c.Pages {
		c.Pages[i].ApplyDefaults()
	}
}

// ApplyDefaults fills unset page fields.
func (p *PageConfig) ApplyDefaults() {
	if p.Strategy == "" {
		p.Strategy = StrategyPoll
	}
	if p.Timeout <= 0 {
		p.Timeout = 30 * time.Second
	}
	if p.Settle <= 0 {
		p.Settle = 250 * time.Millisecond
	}
}

// Validate rejects pages that cannot be run.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Pages))
	for i, p := range c.Pages {
		if p.URL == "" {
			return fmt.Errorf("config: page %d: url is required", i)
		}
		switch p.Strategy {
		case StrategyPoll, StrategyMutation, StrategyInject:
		default:
			return fmt.Errorf("config: page %q: unknown strategy %q", p.URL, p.Strategy)
		}
		if p.ID != "" {
			if seen[p.ID] {
				return fmt.Errorf("config: duplicate page id %q", p.ID)
			}
			seen[p.ID] = true
		}
	}
	return nil
}
