// Command bannerhide hides the eMAG cookie banner on pages driven by a
// headless Chrome, or checks served HTML for it.
//
// Usage:
//
//	bannerhide -config bannerhide.yaml            # clear pages from YAML config
//	bannerhide -db pages.db                       # clear pages from SQLite, journal results
//	bannerhide -db pages.db -follow 5s -http :8080 # keep clearing pages as rows are added
//	bannerhide -url https://www.emag.ro/          # clear a single page (stdout sink)
//	bannerhide -check https://www.emag.ro/ -out page.html
//	bannerhide -script                            # print the injectable script
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/bannerhide/bannerhide"
	"github.com/hazyhaar/bannerhide/dbopen"
	"github.com/hazyhaar/bannerhide/idgen"
	"github.com/hazyhaar/bannerhide/suppress"
)

type options struct {
	configPath string
	singleURL  string
	strategy   string
	checkURL   string
	outPath    string
	script     bool
	dbPath     string
	follow     time.Duration
	httpAddr   string
}

func main() {
	os.Exit(realMain(os.Args[1:]))
}

// errUsage means no mode flag was given.
var errUsage = errors.New("no mode selected")

// realMain runs the command and returns its exit code. Deferred cleanup,
// such as closing the log file, runs before the caller exits.
func realMain(args []string) int {
	var o options
	fs := flag.NewFlagSet("bannerhide", flag.ContinueOnError)
	fs.StringVar(&o.configPath, "config", "", "path to bannerhide.yaml config file")
	fs.StringVar(&o.singleURL, "url", "", "clear a single URL (stdout sink)")
	fs.StringVar(&o.strategy, "strategy", bannerhide.StrategyPoll, "watch strategy for -url: poll, mutation, inject")
	fs.StringVar(&o.checkURL, "check", "", "fetch a URL over HTTP and check it for the banner")
	fs.StringVar(&o.outPath, "out", "", "with -check: write the HTML with the banner hidden to this file")
	fs.BoolVar(&o.script, "script", false, "print the injectable script and exit")
	fs.StringVar(&o.dbPath, "db", "", "SQLite database with banner_pages; results are journalled there")
	fs.DurationVar(&o.follow, "follow", 0, "with -db: keep polling banner_pages at this interval and clear new pages")
	fs.StringVar(&o.httpAddr, "http", "", "serve the status API on this address")
	logLevel := fs.String("log-level", "info", "log level: debug, info, warn, error")
	logDir := fs.String("log-dir", "", "also write logs to a daily file in this directory")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	var level slog.Level
	switch *logLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	if *logDir != "" {
		f, err := openLogFile(*logDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bannerhide:", err)
			return 1
		}
		defer f.Close()
		w = io.MultiWriter(os.Stderr, f)
	}
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, o); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, "usage: bannerhide -config <file> | -db <file> | -url <url> | -check <url> | -script")
			return 2
		}
		logger.Error("bannerhide: fatal", "error", err)
		return 1
	}
	return 0
}

func openLogFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := filepath.Join(dir, fmt.Sprintf("bannerhide_%s.log", time.Now().Format("2006-01-02")))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

func run(ctx context.Context, logger *slog.Logger, o options) error {
	switch {
	case o.script:
		fmt.Println(suppress.Script(""))
		return nil
	case o.checkURL != "":
		return runCheck(ctx, logger, o)
	case o.singleURL != "":
		return runSingle(ctx, logger, o)
	case o.dbPath != "":
		return runDB(ctx, logger, o)
	case o.configPath != "":
		return runConfig(ctx, logger, o)
	}

	return errUsage
}

func runCheck(ctx context.Context, logger *slog.Logger, o options) error {
	r, err := bannerhide.New(&bannerhide.Config{}, logger, bannerhide.NewStdoutSink(nil))
	if err != nil {
		return err
	}
	defer r.Close()

	res, err := r.Check(ctx, o.checkURL, "")
	if err != nil {
		return fmt.Errorf("check: %w", err)
	}
	if o.outPath != "" {
		if err := os.WriteFile(o.outPath, []byte(res.HTML), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", o.outPath, err)
		}
	}
	return nil
}

func runSingle(ctx context.Context, logger *slog.Logger, o options) error {
	cfg := &bannerhide.Config{
		Browser: bannerhide.BrowserConfig{BlockTrackers: true},
		Pages: []bannerhide.PageConfig{{
			ID:       idgen.PageID(),
			URL:      o.singleURL,
			Strategy: o.strategy,
		}},
	}
	return runPages(ctx, logger, cfg, o.httpAddr, bannerhide.NewStdoutSink(nil))
}

func runConfig(ctx context.Context, logger *slog.Logger, o options) error {
	cfg, err := bannerhide.LoadConfigFile(o.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sinks, err := bannerhide.BuildSinks(ctx, cfg.Sinks, nil, openDB, logger)
	if err != nil {
		return err
	}
	if len(sinks) == 0 {
		sinks = append(sinks, bannerhide.NewStdoutSink(nil))
	}
	return runPages(ctx, logger, cfg, o.httpAddr, sinks...)
}

// runDB reads pages from the banner_pages table and journals results in
// the same database. A -config file, when given, supplies browser settings.
func runDB(ctx context.Context, logger *slog.Logger, o options) error {
	db, err := dbopen.Open(o.dbPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(bannerhide.PagesSchema),
		dbopen.WithSchema(bannerhide.JournalSchema),
	)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	cfg := &bannerhide.Config{}
	if o.configPath != "" {
		if cfg, err = bannerhide.LoadConfigFile(o.configPath); err != nil {
			return fmt.Errorf("load config: %w", err)
		}
	}
	if cfg.Pages, err = bannerhide.LoadPages(ctx, db); err != nil {
		return err
	}
	if len(cfg.Pages) == 0 && o.follow <= 0 {
		logger.Warn("bannerhide: no active pages", "db", o.dbPath)
		return nil
	}

	journal, err := bannerhide.NewJournalSink(ctx, db)
	if err != nil {
		return err
	}

	var then func(context.Context, *bannerhide.Runner) error
	if o.follow > 0 {
		then = func(ctx context.Context, r *bannerhide.Runner) error {
			return r.Follow(ctx, db, o.follow)
		}
	}
	return runPagesThen(ctx, logger, cfg, o.httpAddr, then, journal, bannerhide.NewStdoutSink(nil))
}

func runPages(ctx context.Context, logger *slog.Logger, cfg *bannerhide.Config, httpAddr string, sinks ...bannerhide.Sink) error {
	return runPagesThen(ctx, logger, cfg, httpAddr, nil, sinks...)
}

// runPagesThen clears cfg.Pages, then runs then (if set) with the same
// Runner. The status API stays up for the whole lifetime.
func runPagesThen(ctx context.Context, logger *slog.Logger, cfg *bannerhide.Config, httpAddr string, then func(context.Context, *bannerhide.Runner) error, sinks ...bannerhide.Sink) error {
	r, err := bannerhide.New(cfg, logger, sinks...)
	if err != nil {
		return err
	}
	defer r.Close()

	if httpAddr != "" {
		srv := &http.Server{Addr: httpAddr, Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			logger.Info("bannerhide: status api listening", "addr", httpAddr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("bannerhide: status api", "error", err)
			}
		}()
		defer func() {
			shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutCtx)
		}()
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	if then != nil {
		if err := then(ctx, r); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}

	if httpAddr != "" && ctx.Err() == nil {
		// Keep the status API up until interrupted.
		logger.Info("bannerhide: all pages settled; serving status until interrupted")
		<-ctx.Done()
	}
	return nil
}

func openDB(path string) (*sql.DB, error) {
	return dbopen.Open(path, dbopen.WithMkdirAll())
}
