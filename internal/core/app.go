package core

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/config"
	"github.com/vrsandeep/mailpulse/internal/db"
	"github.com/vrsandeep/mailpulse/internal/fetcher"
	"github.com/vrsandeep/mailpulse/internal/jobs"
	"github.com/vrsandeep/mailpulse/internal/mail"
	"github.com/vrsandeep/mailpulse/internal/metrics"
	"github.com/vrsandeep/mailpulse/internal/store"
	"github.com/vrsandeep/mailpulse/internal/util"
	"github.com/vrsandeep/mailpulse/internal/websocket"
	"github.com/vrsandeep/mailpulse/migrations"
)

// Version is reported by the health endpoint.
var Version = "dev"

// App holds the core components of the application that are shared
// between the server and the CLI.
type App struct {
	config   *config.Config
	db       *sql.DB
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Collectors
	store    *store.Store
	wsHub    *websocket.Hub
	jobs     *jobs.JobManager
	fetcher  *fetcher.Fetcher
}

// New sets up and returns a new App instance. It initializes the database
// connection, runs migrations, prepares the media directory and wires the
// fetch job to the IMAP account in cfg.
func New(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := util.EnsureWritableDir(cfg.Media.Path); err != nil {
		return nil, fmt.Errorf("media directory: %w", err)
	}

	database, err := db.InitDB(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.RunMigrations(database, migrations.FS, logger); err != nil {
		// We can't proceed without a valid database schema.
		database.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}

	app, err := Assemble(cfg, database, logger, mail.NewIMAPOpener(cfg.IMAP, logger))
	if err != nil {
		database.Close()
		return nil, err
	}
	logger.Info("core application setup complete", zap.String("version", Version))
	return app, nil
}

// Assemble builds an App around an open, migrated database. open supplies the
// mailbox for each fetch run.
func Assemble(cfg *config.Config, database *sql.DB, logger *zap.Logger, open mail.Opener) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return nil, err
	}

	a := &App{
		config:   cfg,
		db:       database,
		logger:   logger,
		registry: reg,
		metrics:  m,
		store:    store.New(database).WithMediaURLPrefix(cfg.Media.URLPrefix),
	}
	a.jobs = jobs.NewManager(a)
	jobs.RegisterFetch(a.jobs)
	a.wsHub = websocket.NewHub(
		websocket.WithLogger(logger.Named("ws")),
		websocket.WithMetrics(m),
		websocket.WithStart(func() error { return a.jobs.RunJob(jobs.FetchEmails) }),
	)
	a.fetcher = fetcher.New(open, a.store, cfg.Media.Path, a.wsHub,
		fetcher.WithLogger(logger.Named("fetcher")),
		fetcher.WithMetrics(m),
		fetcher.WithBatchSize(cfg.IMAP.BatchSize),
	)
	go a.wsHub.Run()
	return a, nil
}

func (a *App) Config() *config.Config         { return a.config }
func (a *App) DB() *sql.DB                    { return a.db }
func (a *App) Logger() *zap.Logger            { return a.logger }
func (a *App) Registry() *prometheus.Registry { return a.registry }
func (a *App) Metrics() *metrics.Collectors   { return a.metrics }
func (a *App) Store() *store.Store            { return a.store }
func (a *App) WsHub() *websocket.Hub          { return a.wsHub }
func (a *App) JobManager() *jobs.JobManager   { return a.jobs }
func (a *App) Fetcher() *fetcher.Fetcher      { return a.fetcher }

// Close stops the running job, disconnects observers and closes the database.
func (a *App) Close(ctx context.Context) error {
	err := a.jobs.Stop(ctx)
	a.wsHub.Close()
	if a.db != nil {
		if cerr := a.db.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
