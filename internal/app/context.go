// Package app wires the store, engine, scanner and notification sinks from a
// workspace's configuration.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"agrotasks/internal/config"
	"agrotasks/internal/db"
	"agrotasks/internal/domain"
	"agrotasks/internal/engine"
	"agrotasks/internal/metrics"
	"agrotasks/internal/migrate"
	"agrotasks/internal/notify"
	"agrotasks/internal/repo"
	"agrotasks/internal/scanner"
	"agrotasks/internal/translator"
)

type Options struct {
	Workspace string
	// ConfigPath overrides <workspace>/agrotasks.yml.
	ConfigPath string
	// DBPath overrides <workspace>/.agrotasks/agrotasks.db.
	DBPath string
	Logger *slog.Logger
	// Quiet disables every notification sink. Used by one-shot CLI reads.
	Quiet bool
}

// App is a fully wired agrotasks instance.
type App struct {
	DB         *sql.DB
	Config     *config.Config
	Engine     engine.Engine
	Scanner    scanner.Scanner
	Translator *translator.Translator
	Registry   *prometheus.Registry
	Dispatcher *notify.Dispatcher
	Logger     *slog.Logger

	nats *nats.Conn
}

// Open loads configuration, opens and migrates the store and builds the
// engine with its notification sinks. A missing config file means defaults.
func Open(ctx context.Context, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace, Path: opts.DBPath})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	if v, err := migrate.Version(ctx, conn); err == nil {
		logger.Debug("store ready", "schema_version", v)
	}
	tr, err := translator.New(cfg.Locale, logger)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load translations: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	a := &App{
		DB:         conn,
		Config:     cfg,
		Translator: tr,
		Registry:   reg,
		Logger:     logger,
	}
	a.Dispatcher = &notify.Dispatcher{
		Text: func(event string, task domain.TaskSummary) string {
			return tr.Notification(tr.Lang(), event, task)
		},
		Logger:  logger,
		Metrics: m,
	}
	if !opts.Quiet {
		if err := a.attachSinks(); err != nil {
			conn.Close()
			return nil, err
		}
	}

	eng := engine.New(conn, cfg)
	eng.Logger = logger
	eng.Metrics = m
	eng.Notifier = a.Dispatcher
	a.Engine = eng
	a.Scanner = scanner.New(eng)
	return a, nil
}

func loadConfig(opts Options) (*config.Config, error) {
	if opts.ConfigPath != "" {
		return config.FromFile(opts.ConfigPath)
	}
	return config.LoadOptional(opts.Workspace)
}

func (a *App) attachSinks() error {
	n := a.Config.Notify
	if n.Log {
		a.Dispatcher.Sinks = append(a.Dispatcher.Sinks, notify.LogSink{Logger: a.Logger})
	}
	if len(n.Webhooks) > 0 {
		a.Dispatcher.Sinks = append(a.Dispatcher.Sinks, notify.NewWebhookSink(n.Webhooks))
	}
	if n.NATS.URL != "" {
		conn, err := notify.ConnectNATS(n.NATS.URL)
		if err != nil {
			return err
		}
		a.nats = conn
		a.Dispatcher.Sinks = append(a.Dispatcher.Sinks, notify.NewNATSSink(conn, n.NATS.SubjectPrefix))
	}
	return nil
}

// Close stops the dispatcher and waits for pending notifications, then
// releases the NATS connection and the store.
func (a *App) Close() error {
	a.Dispatcher.Close()
	if a.nats != nil {
		if err := a.nats.Drain(); err != nil {
			a.Logger.Warn("drain nats connection", "err", err)
		}
	}
	return a.DB.Close()
}

// Bootstrap makes sure the employee exists as a confirmed, active
// administrator. It is how a fresh workspace gets its first admin.
func (a *App) Bootstrap(ctx context.Context, id int64, fullName string) (domain.Employee, error) {
	if id <= 0 {
		return domain.Employee{}, errors.New("admin id must be positive")
	}
	if _, err := a.Engine.Repo.GetEmployee(ctx, id); err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return domain.Employee{}, err
		}
		if _, err := a.Engine.AddEmployee(ctx, domain.Employee{ID: id, FullName: fullName}); err != nil {
			return domain.Employee{}, err
		}
	}
	yes := true
	return a.Engine.UpdateEmployee(ctx, id, repo.EmployeeFlags{Confirmed: &yes, Active: &yes, Admin: &yes})
}
