package mail

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"
	"time"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	gomail "github.com/emersion/go-message/mail"
	"golang.org/x/net/html"

	"github.com/vrsandeep/mailpulse/internal/models"
)

// rawFallbackLength bounds the body taken from the raw message when no text
// part could be decoded.
const rawFallbackLength = 200

// Part is an attachment extracted from a message.
type Part struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Message is a parsed mailbox message. Email.Attachments is left empty; the
// caller fills it once the parts are saved.
type Message struct {
	Email       models.Email
	Attachments []Part
}

// Parse decodes a raw RFC 822 message. now is used as the received time and
// as the sent time when the Date header cannot be parsed.
func Parse(raw []byte, now time.Time) (*Message, error) {
	mr, err := gomail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	if mr == nil {
		return nil, errors.New("failed to parse message")
	}
	defer mr.Close()

	out := &Message{
		Email: models.Email{
			Subject:     cleanHeader(decodeHeader(mr.Header, "Subject")),
			FromAddress: cleanHeader(decodeHeader(mr.Header, "From")),
			SentAt:      models.NewTimestamp(parseDate(mr.Header.Get("Date"), now)),
			ReceivedAt:  models.NewTimestamp(now),
		},
	}

	var plain, htmlParts []string
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			// Keep what was decoded so far; the raw fallback covers the rest.
			break
		}
		if p == nil {
			break
		}
		switch h := p.Header.(type) {
		case *gomail.InlineHeader:
			ct, _, _ := h.ContentType()
			data, rerr := io.ReadAll(p.Body)
			if rerr != nil {
				continue
			}
			switch ct {
			case "text/plain":
				plain = append(plain, string(data))
			case "text/html":
				htmlParts = append(htmlParts, string(data))
			}
		case *gomail.AttachmentHeader:
			filename, ferr := h.Filename()
			if ferr != nil || filename == "" {
				continue
			}
			data, rerr := io.ReadAll(p.Body)
			if rerr != nil {
				continue
			}
			ct, _, _ := h.ContentType()
			out.Attachments = append(out.Attachments, Part{
				Filename:    filename,
				ContentType: ct,
				Data:        data,
			})
		}
	}

	body := strings.Join(plain, " ")
	if strings.TrimSpace(body) == "" && len(htmlParts) > 0 {
		body = HTMLText(strings.Join(htmlParts, " "))
	}
	if strings.TrimSpace(body) == "" {
		body = string(raw[:min(len(raw), rawFallbackLength)])
	}
	out.Email.Body = CleanText(body)
	return out, nil
}

func decodeHeader(h gomail.Header, key string) string {
	decoded, err := h.Text(key)
	if err != nil {
		return h.Get(key)
	}
	return decoded
}

func cleanHeader(s string) string {
	s = strings.NewReplacer(`"`, "", "'", "", "\x00", "").Replace(s)
	return strings.TrimSpace(s)
}

// parseDate accepts RFC 5322 dates, including the folded
// "from ...; <date>" form some relays put in the header.
func parseDate(v string, now time.Time) time.Time {
	v = strings.TrimSpace(v)
	if v == "" {
		return now
	}
	if i := strings.LastIndex(v, "\n"); i >= 0 {
		v = v[i+1:]
	}
	if i := strings.LastIndex(v, ";"); i >= 0 {
		v = v[i+1:]
	}
	t, err := netmail.ParseDate(strings.TrimSpace(v))
	if err != nil {
		return now
	}
	return t
}

// HTMLText returns the visible text of an HTML fragment, text nodes joined by
// single spaces. Script and style contents are dropped.
func HTMLText(fragment string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return fragment
	}
	doc.Find("script, style, head").Remove()

	var words []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				words = append(words, t)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range doc.Nodes {
		walk(n)
	}
	return strings.Join(words, " ")
}

// CleanText drops control characters and collapses whitespace runs.
func CleanText(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
