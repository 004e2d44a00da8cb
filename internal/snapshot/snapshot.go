// Package snapshot loads the producer's current state with a single request
// so an observer can draw the list before any run starts.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/progress"
)

// Path is the snapshot endpoint relative to the producer's base URL.
const Path = "/api/processed_emails/"

// ErrSnapshotUnavailable wraps every failure to obtain a usable snapshot.
var ErrSnapshotUnavailable = errors.New("snapshot unavailable")

// Result is a decoded snapshot, ready for progress.Model.Seed.
type Result struct {
	Items    []models.Email
	Counters progress.Counters
}

// Loader fetches snapshots from one producer.
type Loader struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// URL resolves the snapshot endpoint against a producer base URL.
func URL(baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", baseURL)
	}
	return base.ResolveReference(&url.URL{Path: Path}).String(), nil
}

// NewLoader returns a loader for the producer at baseURL. A nil client means
// http.DefaultClient.
func NewLoader(baseURL string, client *http.Client, logger *zap.Logger) (*Loader, error) {
	u, err := URL(baseURL)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{url: u, client: client, logger: logger}, nil
}

// Load performs one GET and decodes the body. Any transport, status or
// decoding failure is reported as ErrSnapshotUnavailable.
func (l *Loader) Load(ctx context.Context) (Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSnapshotUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("%w: %s returned %s", ErrSnapshotUnavailable, l.url, resp.Status)
	}

	var body models.SnapshotResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("%w: decode body: %w", ErrSnapshotUnavailable, err)
	}

	l.logger.Debug("snapshot loaded",
		zap.Int("emails", len(body.Emails)),
		zap.Int("total", body.TotalEmails),
		zap.Int("processed", body.ProcessedEmails))

	return Result{
		Items:    body.Emails,
		Counters: progress.Counters{Total: body.TotalEmails, Processed: body.ProcessedEmails},
	}, nil
}
