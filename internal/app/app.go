// Package app wires storage, config and the optional cache and notifiers into an engine.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"dossierline/internal/cache"
	"dossierline/internal/config"
	"dossierline/internal/db"
	"dossierline/internal/engine"
	"dossierline/internal/metrics"
	"dossierline/internal/migrate"
	"dossierline/internal/notify"
)

type Options struct {
	Workspace string
	// DSN and Driver override the storage section of the config file.
	Driver string
	DSN    string
	// AdminID is ensured to exist with the admin role. Empty skips bootstrapping.
	AdminID   string
	AdminName string
	Logger    *slog.Logger
}

// App is an opened workspace. Close releases the database and any remote connections.
type App struct {
	Engine  engine.Engine
	Config  *config.Config
	Metrics *metrics.Metrics
	DB      *sql.DB
	closers []func()
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// Open loads the workspace config (defaults when absent), migrates the database and seeds
// the configured roles.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := config.LoadOptional(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg == nil {
		cfg = config.Default("")
	}
	dbCfg := db.Config{Workspace: opts.Workspace, Driver: cfg.Storage.Driver, DSN: cfg.Storage.DSN}
	if opts.Driver != "" {
		dbCfg.Driver = opts.Driver
	}
	if opts.DSN != "" {
		dbCfg.DSN = opts.DSN
	}
	conn, err := db.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &App{Config: cfg, DB: conn, Metrics: metrics.New()}
	a.closers = append(a.closers, func() { conn.Close() })
	fail := func(err error) (*App, error) {
		a.Close()
		return nil, err
	}
	if err := migrate.Migrate(conn, dbCfg.Dialect()); err != nil {
		return fail(fmt.Errorf("migrate: %w", err))
	}

	e := engine.New(conn, dbCfg.Dialect(), cfg)
	e.Logger = logger
	e.Metrics = a.Metrics
	if addr := cfg.Cache.RedisAddr; addr != "" && cfg.CacheTTL() > 0 {
		lc, err := cache.Dial(ctx, addr, cfg.CacheTTL())
		if err != nil {
			// The cache is optional; run against storage only.
			logger.Warn("lead cache disabled", "addr", addr, "error", err)
		} else {
			e.Cache = lc
			a.closers = append(a.closers, func() { lc.Close() })
		}
	}
	e.Notifier = notifiers(cfg, logger, a)
	a.Engine = e

	if err := e.SeedRBAC(ctx); err != nil {
		return fail(fmt.Errorf("seed rbac: %w", err))
	}
	if opts.AdminID != "" {
		if err := e.Bootstrap(ctx, opts.AdminID, opts.AdminName); err != nil {
			return fail(fmt.Errorf("bootstrap: %w", err))
		}
	}
	return a, nil
}

func notifiers(cfg *config.Config, logger *slog.Logger, a *App) notify.Notifier {
	out := notify.Multi{notify.Log{Logger: logger}}
	if url := cfg.Notify.NATSURL; url != "" {
		nc, err := notify.DialNATS(url, cfg.NotifySubject())
		if err != nil {
			logger.Warn("nats notifier disabled", "url", url, "error", err)
		} else {
			out = append(out, nc)
			a.closers = append(a.closers, nc.Close)
		}
	}
	if len(cfg.Notify.Webhooks) > 0 {
		out = append(out, notify.Webhook{Hooks: cfg.Notify.Webhooks})
	}
	return out
}
