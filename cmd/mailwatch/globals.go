package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/config"
	"github.com/vrsandeep/mailpulse/internal/logging"
	"github.com/vrsandeep/mailpulse/internal/metrics"
	"github.com/vrsandeep/mailpulse/internal/observer"
	"github.com/vrsandeep/mailpulse/internal/render"
	"github.com/vrsandeep/mailpulse/internal/snapshot"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

// Globals are flags shared by every command.
type Globals struct {
	ConfigDir   string           `name:"config" help:"Directory containing config.yml" default:"." type:"path"`
	BaseURL     string           `help:"Producer base URL (overrides observer.base_url)"`
	LogFile     string           `help:"Log file (overrides observer.log_file)" type:"path"`
	Preview     int              `help:"Body preview length in characters (overrides observer.preview_length)" default:"-1"`
	MetricsAddr string           `help:"Serve observer metrics on this address, e.g. :9101"`
	Version     kong.VersionFlag `help:"Print version and exit"`
}

// session is everything a command needs to observe one producer.
type session struct {
	cfg      *config.Config
	baseURL  string
	logger   *zap.Logger
	renderer render.Renderer
	loader   *snapshot.Loader
	client   *stream.Client
}

func (g *Globals) open() (*session, error) {
	cfg, err := config.LoadFrom(g.ConfigDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if g.BaseURL != "" {
		cfg.Observer.BaseURL = g.BaseURL
	}
	if g.LogFile != "" {
		cfg.Observer.LogFile = g.LogFile
	}
	if g.Preview >= 0 {
		cfg.Observer.PreviewLength = g.Preview
	}

	logger, err := logging.NewFile(cfg.Logging.Development, cfg.Observer.LogFile)
	if err != nil {
		return nil, err
	}

	var m *metrics.Collectors
	if g.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		if m, err = metrics.New(reg); err != nil {
			return nil, err
		}
		go serveMetrics(g.MetricsAddr, reg, logger)
	}

	loader, err := snapshot.NewLoader(cfg.Observer.BaseURL, &http.Client{Timeout: 15 * time.Second}, logger.Named("snapshot"))
	if err != nil {
		return nil, err
	}
	wsURL, err := stream.URLFromPage(cfg.Observer.BaseURL)
	if err != nil {
		return nil, err
	}
	client := stream.NewClient(wsURL,
		stream.WithLogger(logger.Named("stream")),
		stream.WithMetrics(m),
	)

	logger.Info("observing producer",
		zap.String("base_url", cfg.Observer.BaseURL),
		zap.String("stream", wsURL))
	return &session{
		cfg:      cfg,
		baseURL:  cfg.Observer.BaseURL,
		logger:   logger,
		renderer: render.New(cfg.Observer.PreviewLength),
		loader:   loader,
		client:   client,
	}, nil
}

func (s *session) observer(l observer.Listener) *observer.Observer {
	return observer.New(s.loader, s.client,
		observer.WithListener(l),
		observer.WithLogger(s.logger.Named("observer")),
	)
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("metrics server stopped", zap.Error(err))
	}
}
