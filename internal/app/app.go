// Package app wires a workspace into a ready engine.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"gateline/internal/config"
	"gateline/internal/db"
	"gateline/internal/engine"
	"gateline/internal/metrics"
	"gateline/internal/migrate"
	"gateline/internal/notify"
	"gateline/internal/repo"
)

type Options struct {
	Workspace string
	// ConfigFile overrides <workspace>/gateline.yml when seeding.
	ConfigFile string
	Logger     *slog.Logger
	// Metrics may be shared across runtimes; a fresh registry is used when nil.
	Metrics *metrics.Metrics
}

// Runtime owns the resources behind an engine.
type Runtime struct {
	DB         *sql.DB
	Engine     engine.Engine
	Metrics    *metrics.Metrics
	Dispatcher *notify.Dispatcher

	nc *nats.Conn
}

// Open prepares the workspace database, resolves the configuration and
// builds the engine with its notifier.
func Open(ctx context.Context, opts Options) (*Runtime, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := db.EnsureWorkspace(opts.Workspace); err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}
	cfg, err := ResolveConfig(ctx, opts.Workspace, opts.ConfigFile, repo.Repo{DB: conn})
	if err != nil {
		conn.Close()
		return nil, err
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	target, nc, err := BuildNotifier(cfg, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}
	e, err := engine.New(conn, cfg)
	if err != nil {
		if nc != nil {
			nc.Close()
		}
		conn.Close()
		return nil, err
	}
	d := notify.NewDispatcher(target, logger, m)
	e.Notifier = d
	e.Metrics = m
	e.Logger = logger
	return &Runtime{DB: conn, Engine: e, Metrics: m, Dispatcher: d, nc: nc}, nil
}

// Close waits for in-flight notifications, then releases connections.
func (r *Runtime) Close() error {
	if r == nil {
		return nil
	}
	r.Dispatcher.Wait()
	if r.nc != nil {
		if err := r.nc.Drain(); err != nil {
			r.Engine.Logger.Warn("nats drain", "err", err)
		}
	}
	return r.DB.Close()
}

// ResolveConfig returns the configuration stored in the workspace database.
// On first use it seeds it from the config file, or from the defaults.
func ResolveConfig(ctx context.Context, workspace, file string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetConfig(ctx)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, fmt.Errorf("load workspace config: %w", err)
	}
	switch {
	case file != "":
		cfg, err = config.FromFile(file)
	default:
		cfg, err = config.LoadOptional(workspace)
	}
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		cfg = config.Default()
	}
	if err := r.SaveConfig(ctx, cfg); err != nil {
		return nil, fmt.Errorf("seed workspace config: %w", err)
	}
	return cfg, nil
}

// BuildNotifier fans out to every configured channel. The returned NATS
// connection, if any, belongs to the caller.
func BuildNotifier(cfg *config.Config, logger *slog.Logger) (notify.Notifier, *nats.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var targets notify.Multi
	if url := cfg.Notifications.SlackWebhookURL; url != "" {
		targets = append(targets, notify.SlackNotifier{WebhookURL: url, Client: &http.Client{Timeout: 10 * time.Second}})
	}
	var nc *nats.Conn
	if url := cfg.Notifications.NATSURL; url != "" {
		n, conn, err := notify.DialNATS(url, cfg.Notifications.NATSSubjectPrefix)
		if err != nil {
			return nil, nil, err
		}
		targets = append(targets, n)
		nc = conn
	}
	switch len(targets) {
	case 0:
		return notify.Nop{}, nil, nil
	case 1:
		return targets[0], nc, nil
	}
	logger.Debug("notifications fan out", "targets", len(targets))
	return targets, nc, nil
}
