// Package fetcher runs one mailbox fetch: it lists the mailbox, stores every
// message not seen before and reports progress to connected observers.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/mail"
	"github.com/vrsandeep/mailpulse/internal/metrics"
	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/store"
	"github.com/vrsandeep/mailpulse/internal/util"
)

// WirePreviewLength bounds the body carried in progress messages; the full
// body stays in the store.
const WirePreviewLength = 50

// AttachmentsDir is the media subdirectory attachment files are written to.
const AttachmentsDir = "attachments"

// Broadcaster delivers progress messages to observers.
type Broadcaster interface {
	BroadcastJSON(v interface{})
}

// Result summarizes a run.
type Result struct {
	Account string
	Found   int // UIDs in the mailbox
	New     int // UIDs not stored before the run
	Stored  int
	Failed  int
}

// Fetcher executes fetch runs. It holds no per-run state, so one value serves
// every run the job manager starts.
type Fetcher struct {
	open     mail.Opener
	store    *store.Store
	mediaDir string
	out      Broadcaster
	logger   *zap.Logger
	metrics  *metrics.Collectors
	now      func() time.Time
	batch    int
}

// Option configures a Fetcher.
type Option func(*Fetcher)

func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(f *Fetcher) { f.metrics = m }
}

// WithBatchSize logs a summary line every n processed messages.
func WithBatchSize(n int) Option {
	return func(f *Fetcher) { f.batch = n }
}

// WithClock replaces time.Now for received timestamps.
func WithClock(now func() time.Time) Option {
	return func(f *Fetcher) { f.now = now }
}

// New returns a Fetcher that opens mailboxes with open, stores into st and
// writes attachments below mediaDir.
func New(open mail.Opener, st *store.Store, mediaDir string, out Broadcaster, opts ...Option) *Fetcher {
	f := &Fetcher{
		open:     open,
		store:    st,
		mediaDir: mediaDir,
		out:      out,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = zap.NewNop()
	}
	return f
}

// Run performs one fetch. Observers always receive a final complete message,
// preceded by an error message when the run failed.
func (f *Fetcher) Run(ctx context.Context) (Result, error) {
	f.metrics.RunStarted()
	res, err := f.fetch(ctx)

	switch {
	case err != nil:
		f.logger.Error("fetch run failed", zap.String("account", res.Account), zap.Error(err))
		f.metrics.RunFinished(metrics.ResultError)
		f.send(models.ProgressUpdate{Error: errorText(res.Account, err)})
		f.send(models.ProgressUpdate{Status: models.StatusComplete, Account: res.Account})
	case res.New == 0:
		f.logger.Info("no new messages", zap.String("account", res.Account), zap.Int("found", res.Found))
		f.metrics.RunFinished(metrics.ResultComplete)
		f.send(models.ProgressUpdate{
			Status:  models.StatusComplete,
			Message: fmt.Sprintf("No new messages for account %s.", res.Account),
			Account: res.Account,
		})
	default:
		f.logger.Info("fetch run complete",
			zap.String("account", res.Account),
			zap.Int("new", res.New),
			zap.Int("stored", res.Stored),
			zap.Int("failed", res.Failed))
		f.metrics.RunFinished(metrics.ResultComplete)
		f.send(models.ProgressUpdate{Status: models.StatusComplete, Account: res.Account})
	}
	return res, err
}

func (f *Fetcher) fetch(ctx context.Context) (Result, error) {
	var res Result

	src, err := f.open(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		if err := src.Close(); err != nil {
			f.logger.Warn("closing mailbox", zap.Error(err))
		}
	}()
	res.Account = src.Account()

	uids, err := src.SearchUIDs(ctx)
	if err != nil {
		return res, err
	}
	res.Found = len(uids)

	existing, err := f.store.ExistingUIDs(res.Account)
	if err != nil {
		return res, fmt.Errorf("failed to load stored UIDs: %w", err)
	}
	pending := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if !existing[strconv.FormatUint(uint64(uid), 10)] {
			pending = append(pending, uid)
		}
	}
	res.New = len(pending)
	if res.New == 0 {
		return res, nil
	}

	f.logger.Info("fetching new messages", zap.String("account", res.Account), zap.Int("count", res.New))
	for i, uid := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		stored, err := f.process(ctx, src, uid)
		if err != nil {
			res.Failed++
			f.logger.Warn("skipping message", zap.Uint32("uid", uid), zap.Error(err))
			continue
		}
		res.Stored++
		f.metrics.EmailProcessed()

		processed := i + 1
		if f.batch > 0 && processed%f.batch == 0 {
			f.logger.Info("batch processed",
				zap.Int("processed", processed),
				zap.Int("total", res.New),
				zap.Int("failed", res.Failed))
		}
		wire := stored.Email.Clone()
		wire.Body = truncate(wire.Body, WirePreviewLength)
		f.send(models.ProgressUpdate{
			Status:          models.StatusProcessing,
			Progress:        models.IntPtr(processed * 100 / res.New),
			ProcessedEmails: models.IntPtr(processed),
			TotalEmails:     models.IntPtr(res.New),
			Account:         res.Account,
			Email:           &wire,
		})
	}
	return res, nil
}

func (f *Fetcher) process(ctx context.Context, src mail.Source, uid uint32) (*models.StoredEmail, error) {
	raw, err := src.Fetch(ctx, uid)
	if err != nil {
		return nil, err
	}
	msg, err := mail.Parse(raw, f.now())
	if err != nil {
		return nil, err
	}

	records := make([]store.AttachmentRecord, 0, len(msg.Attachments))
	for _, part := range msg.Attachments {
		rec, err := f.saveAttachment(part)
		if err != nil {
			f.removeAttachments(records)
			return nil, err
		}
		records = append(records, rec)
	}

	stored, err := f.store.CreateEmail(src.Account(), strconv.FormatUint(uint64(uid), 10), msg.Email, records)
	if err != nil {
		f.removeAttachments(records)
		if errors.Is(err, store.ErrDuplicateEmail) {
			return nil, fmt.Errorf("message %d stored concurrently: %w", uid, err)
		}
		return nil, err
	}
	return stored, nil
}

func (f *Fetcher) saveAttachment(part mail.Part) (store.AttachmentRecord, error) {
	dir := filepath.Join(f.mediaDir, AttachmentsDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return store.AttachmentRecord{}, fmt.Errorf("failed to create attachments directory: %w", err)
	}
	id := store.NewAttachmentID()
	name := id.String() + "_" + util.SanitizeFilename(part.Filename)
	if err := os.WriteFile(filepath.Join(dir, name), part.Data, 0644); err != nil {
		return store.AttachmentRecord{}, fmt.Errorf("failed to save attachment %q: %w", part.Filename, err)
	}
	return store.AttachmentRecord{
		ID:       id,
		Filename: part.Filename,
		Path:     path.Join(AttachmentsDir, name),
	}, nil
}

func (f *Fetcher) removeAttachments(records []store.AttachmentRecord) {
	for _, rec := range records {
		if err := os.Remove(filepath.Join(f.mediaDir, filepath.FromSlash(rec.Path))); err != nil {
			f.logger.Warn("removing orphaned attachment", zap.String("path", rec.Path), zap.Error(err))
		}
	}
}

func (f *Fetcher) send(u models.ProgressUpdate) {
	if f.out != nil {
		f.out.BroadcastJSON(u)
	}
}

func errorText(account string, err error) string {
	if account == "" {
		return fmt.Sprintf("An error occurred: %v", err)
	}
	return fmt.Sprintf("An error occurred for account %s: %v", account, err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
