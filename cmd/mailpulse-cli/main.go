// Command mailpulse-cli runs a single fetch run against the configured
// mailbox without starting the server.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/config"
	"github.com/vrsandeep/mailpulse/internal/core"
	"github.com/vrsandeep/mailpulse/internal/fetcher"
	"github.com/vrsandeep/mailpulse/internal/logging"
	"github.com/vrsandeep/mailpulse/internal/mail"
	"github.com/vrsandeep/mailpulse/internal/models"
)

// consoleProgress renders fetch progress on stderr.
type consoleProgress struct {
	bar    *progressbar.ProgressBar
	logger *zap.Logger
}

func newConsoleProgress(logger *zap.Logger) *consoleProgress {
	return &consoleProgress{
		bar: progressbar.NewOptions(100,
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetWidth(30),
			progressbar.OptionSetPredictTime(false),
			progressbar.OptionSetDescription("Fetching"),
		),
		logger: logger,
	}
}

func (c *consoleProgress) BroadcastJSON(v interface{}) {
	u, ok := v.(models.ProgressUpdate)
	if !ok {
		return
	}
	switch {
	case u.Error != "":
		c.bar.Clear()
		c.logger.Error(u.Error)
	case u.Status == models.StatusComplete:
		c.bar.Finish()
		if u.Message != "" {
			fmt.Fprintln(os.Stderr)
			c.logger.Info(u.Message)
		}
	case u.Progress != nil:
		if u.ProcessedEmails != nil && u.TotalEmails != nil {
			c.bar.Describe(fmt.Sprintf("Processed: %d / %d emails", *u.ProcessedEmails, *u.TotalEmails))
		}
		c.bar.Set(*u.Progress)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	app, err := core.New(cfg, logger)
	if err != nil {
		logger.Fatal("fatal error during application setup", zap.Error(err))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	f := fetcher.New(mail.NewIMAPOpener(cfg.IMAP, logger), app.Store(), cfg.Media.Path, newConsoleProgress(logger),
		fetcher.WithLogger(logger),
		fetcher.WithMetrics(app.Metrics()),
		fetcher.WithBatchSize(cfg.IMAP.BatchSize),
	)
	logger.Info("starting fetch run", zap.String("account", cfg.IMAP.Username))
	res, runErr := f.Run(ctx)

	if err := app.Close(context.Background()); err != nil {
		logger.Warn("closing application", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("fetch run failed", zap.Error(runErr))
	}
	fmt.Printf("Fetch finished: %d new, %d stored, %d failed.\n", res.New, res.Stored, res.Failed)
}
