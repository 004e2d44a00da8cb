// Shared test server setup, which simplifies the API and end-to-end tests.

package testutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vrsandeep/mailpulse/internal/api"
	"github.com/vrsandeep/mailpulse/internal/config"
	"github.com/vrsandeep/mailpulse/internal/core"
	"github.com/vrsandeep/mailpulse/internal/mail"
)

// ErrNoMailbox is returned by the default test opener.
var ErrNoMailbox = errors.New("no email account configured")

// NoMailbox is an Opener that always fails with ErrNoMailbox.
func NoMailbox(context.Context) (mail.Source, error) {
	return nil, ErrNoMailbox
}

// SetupTestApp builds a core.App over an in-memory database and a temporary
// media directory. A nil open uses NoMailbox.
func SetupTestApp(t *testing.T, open mail.Opener) *core.App {
	t.Helper()
	if open == nil {
		open = NoMailbox
	}
	db := SetupTestDB(t)

	cfg := &config.Config{}
	cfg.Media.Path = t.TempDir()
	cfg.Media.URLPrefix = "/media/"
	app, err := core.Assemble(cfg, db, nil, open)
	if err != nil {
		t.Fatalf("Failed to assemble app: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.JobManager().Stop(ctx)
		app.WsHub().Close()
	})
	return app
}

// SetupTestServer initializes a full core.App and api.Server for integration testing.
func SetupTestServer(t *testing.T, open mail.Opener) (*api.Server, *core.App) {
	t.Helper()
	app := SetupTestApp(t, open)
	return api.NewServer(app), app
}
