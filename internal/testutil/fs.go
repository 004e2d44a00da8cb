package testutil

import (
	"bytes"
	"testing"
	"time"

	gomail "github.com/emersion/go-message/mail"
)

// TestAttachment is a file attached to a message built by BuildMessage.
type TestAttachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// TestMessage describes a MIME message for BuildMessage. Empty Text and HTML
// parts are omitted.
type TestMessage struct {
	Subject     string
	FromName    string
	FromAddress string
	Date        time.Time
	Text        string
	HTML        string
	Attachments []TestAttachment
}

// BuildMessage renders m as a raw RFC 822 message.
func BuildMessage(t *testing.T, m TestMessage) []byte {
	t.Helper()

	var h gomail.Header
	h.SetSubject(m.Subject)
	if m.FromAddress != "" {
		h.SetAddressList("From", []*gomail.Address{{Name: m.FromName, Address: m.FromAddress}})
	}
	if !m.Date.IsZero() {
		h.SetDate(m.Date)
	}

	var buf bytes.Buffer
	mw, err := gomail.CreateWriter(&buf, h)
	if err != nil {
		t.Fatalf("Failed to create message writer: %v", err)
	}

	if m.Text != "" || m.HTML != "" {
		tw, err := mw.CreateInline()
		if err != nil {
			t.Fatalf("Failed to create inline writer: %v", err)
		}
		writeInline(t, tw, "text/plain", m.Text)
		writeInline(t, tw, "text/html", m.HTML)
		if err := tw.Close(); err != nil {
			t.Fatalf("Failed to close inline writer: %v", err)
		}
	}

	for _, a := range m.Attachments {
		var ah gomail.AttachmentHeader
		ct := a.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.SetContentType(ct, nil)
		ah.SetFilename(a.Filename)
		w, err := mw.CreateAttachment(ah)
		if err != nil {
			t.Fatalf("Failed to create attachment '%s': %v", a.Filename, err)
		}
		w.Write(a.Data)
		w.Close()
	}

	if err := mw.Close(); err != nil {
		t.Fatalf("Failed to close message writer: %v", err)
	}
	return buf.Bytes()
}

func writeInline(t *testing.T, tw *gomail.InlineWriter, contentType, body string) {
	t.Helper()
	if body == "" {
		return
	}
	var ih gomail.InlineHeader
	ih.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	w, err := tw.CreatePart(ih)
	if err != nil {
		t.Fatalf("Failed to create %s part: %v", contentType, err)
	}
	w.Write([]byte(body))
	w.Close()
}
