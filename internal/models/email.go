// This file defines the core data structures (models) for our application.
// These structs represent processed email messages and their attachments as
// they travel between the producer and its observers.

package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the wire format used for sent_at and received_at.
const TimestampLayout = "2006-01-02 15:04:05"

// acceptedLayouts are tried in order when decoding. Naive ISO values are
// what Django REST Framework emits with time zones turned off.
var acceptedLayouts = []string{
	TimestampLayout,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	time.RFC3339Nano,
	time.RFC1123Z,
	time.RFC1123,
}

// Timestamp is a point in time that serializes as TimestampLayout. A value
// that matches none of the accepted layouts is kept verbatim in Raw and shown
// as-is.
type Timestamp struct {
	time.Time
	Raw string
}

// NewTimestamp wraps t, dropping sub-second precision the wire cannot carry.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.Truncate(time.Second)}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	*t = Timestamp{}
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid timestamp %s: %w", data, err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, layout := range acceptedLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed
			return nil
		}
	}
	t.Raw = s
	return nil
}

// String renders the timestamp for display, empty when unset.
func (t Timestamp) String() string {
	if t.Time.IsZero() {
		return t.Raw
	}
	return t.Format(TimestampLayout)
}

// Attachment is a stored file belonging to an email.
type Attachment struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
}

// Email is one processed message. Once built it is never mutated; use Clone
// when a copy must be handed to another owner.
type Email struct {
	Subject     string       `json:"subject"`
	FromAddress string       `json:"from_address"`
	SentAt      Timestamp    `json:"sent_at"`
	ReceivedAt  Timestamp    `json:"received_at"`
	Attachments []Attachment `json:"attachments"`
	Body        string       `json:"body"`
}

// Clone returns a deep copy so the attachment slice is not shared.
func (e Email) Clone() Email {
	c := e
	if e.Attachments != nil {
		c.Attachments = append([]Attachment(nil), e.Attachments...)
	}
	return c
}

// StoredEmail is an Email together with the bookkeeping the store keeps.
type StoredEmail struct {
	ID      int64  `json:"id"`
	Account string `json:"account"`
	UID     string `json:"uid"`
	Email
}
