package testutil

import (
	"context"
	"fmt"
	"sort"

	"github.com/vrsandeep/mailpulse/internal/mail"
)

// Mailbox is an in-memory mail.Source.
type Mailbox struct {
	Owner    string
	Messages map[uint32][]byte
}

// Opener returns a mail.Opener that always yields m.
func (m *Mailbox) Opener() mail.Opener {
	return func(context.Context) (mail.Source, error) { return m, nil }
}

func (m *Mailbox) Account() string { return m.Owner }

func (m *Mailbox) SearchUIDs(ctx context.Context) ([]uint32, error) {
	uids := make([]uint32, 0, len(m.Messages))
	for uid := range m.Messages {
		uids = append(uids, uid)
	}
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	return uids, nil
}

func (m *Mailbox) Fetch(ctx context.Context, uid uint32) ([]byte, error) {
	raw, ok := m.Messages[uid]
	if !ok {
		return nil, fmt.Errorf("no message with UID %d", uid)
	}
	return raw, nil
}

func (m *Mailbox) Close() error { return nil }
