// Package mail retrieves raw messages from a mailbox and parses them into
// processed emails.
package mail

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/config"
)

// Source is a mailbox a fetch run reads from.
type Source interface {
	// Account identifies the mailbox owner; stored UIDs are scoped to it.
	Account() string
	// SearchUIDs lists every message UID in ascending order.
	SearchUIDs(ctx context.Context) ([]uint32, error)
	// Fetch returns the full RFC 822 message.
	Fetch(ctx context.Context, uid uint32) ([]byte, error)
	Close() error
}

// Opener opens a Source for one run.
type Opener func(ctx context.Context) (Source, error)

const imapsPort = "993"

var providerHosts = map[string]string{
	"gmail":  "imap.gmail.com",
	"yandex": "imap.yandex.com",
	"mailru": "imap.mail.ru",
}

// ServerFor returns the IMAPS address for a provider. Unknown providers use
// Gmail.
func ServerFor(provider string) string {
	host, ok := providerHosts[strings.ToLower(provider)]
	if !ok {
		host = providerHosts["gmail"]
	}
	return net.JoinHostPort(host, imapsPort)
}

// IMAPSource reads one mailbox over IMAP.
type IMAPSource struct {
	c       *client.Client
	account string
	logger  *zap.Logger
}

// DialIMAP connects, logs in and selects the configured mailbox read-only.
// cfg.Host overrides the provider table when set.
func DialIMAP(ctx context.Context, cfg config.IMAPConfig, logger *zap.Logger) (*IMAPSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Username == "" {
		return nil, fmt.Errorf("no email account configured")
	}
	addr := cfg.Host
	if addr == "" {
		addr = ServerFor(cfg.Provider)
	} else if _, _, err := net.SplitHostPort(addr); err != nil {
		addr = net.JoinHostPort(addr, imapsPort)
	}
	host, _, _ := net.SplitHostPort(addr)

	dialer := &net.Dialer{Timeout: 30 * time.Second}
	c, err := client.DialWithDialerTLS(dialer, addr, &tls.Config{ServerName: host})
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	c.Timeout = time.Minute

	if err := ctx.Err(); err != nil {
		c.Logout()
		return nil, err
	}
	if err := c.Login(cfg.Username, cfg.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login as %s: %w", cfg.Username, err)
	}

	mailbox := cfg.Mailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	status, err := c.Select(mailbox, true)
	if err != nil {
		c.Logout()
		return nil, fmt.Errorf("select %s: %w", mailbox, err)
	}
	logger.Info("imap mailbox selected",
		zap.String("server", addr),
		zap.String("mailbox", mailbox),
		zap.Uint32("messages", status.Messages))

	return &IMAPSource{c: c, account: cfg.Username, logger: logger}, nil
}

// NewIMAPOpener returns an Opener dialing cfg for every run.
func NewIMAPOpener(cfg config.IMAPConfig, logger *zap.Logger) Opener {
	return func(ctx context.Context) (Source, error) {
		return DialIMAP(ctx, cfg, logger)
	}
}

// Account implements Source.
func (s *IMAPSource) Account() string {
	return s.account
}

// SearchUIDs implements Source.
func (s *IMAPSource) SearchUIDs(ctx context.Context) ([]uint32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	uids, err := s.c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

// Fetch implements Source.
func (s *IMAPSource) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)
	section := &imap.BodySectionName{Peek: true}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- s.c.UidFetch(seqset, []imap.FetchItem{section.FetchItem()}, messages)
	}()

	var raw []byte
	for msg := range messages {
		body := msg.GetBody(section)
		if body == nil {
			continue
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, fmt.Errorf("read message %d: %w", uid, err)
		}
		raw = data
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch email with UID %d: %w", uid, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("failed to fetch email with UID %d: empty response", uid)
	}
	return raw, nil
}

// Close logs out.
func (s *IMAPSource) Close() error {
	return s.c.Logout()
}
