// Package render projects a progress snapshot to terminal text. Every
// function is pure: the same input always renders the same output.
package render

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"

	"github.com/vrsandeep/mailpulse/internal/models"
	pm "github.com/vrsandeep/mailpulse/internal/progress"
)

// DefaultPreviewLength is how many runes of the body a row shows.
const DefaultPreviewLength = 50

const ellipsis = "..."

// A zero width sizes the column to the body preview.
type column struct {
	title string
	width int
}

var columns = []column{
	{"Subject", 28},
	{"From", 28},
	{"Sent", 19},
	{"Received", 19},
	{"Attachments", 24},
	{"Body", 0},
}

// Renderer holds presentation settings only. It keeps no view state between
// calls.
type Renderer struct {
	previewLength int
	bar           progress.Model
	styles        Styles
}

// New returns a renderer. A previewLength <= 0 means DefaultPreviewLength.
func New(previewLength int) Renderer {
	if previewLength <= 0 {
		previewLength = DefaultPreviewLength
	}
	return Renderer{
		previewLength: previewLength,
		bar:           progress.New(progress.WithDefaultGradient(), progress.WithWidth(40)),
		styles:        DefaultStyles(),
	}
}

// WithBarWidth returns a copy whose indicator is w cells wide.
func (r Renderer) WithBarWidth(w int) Renderer {
	if w > 0 {
		r.bar.Width = w
	}
	return r
}

// Header renders the column titles.
func (r Renderer) Header() string {
	cells := make([]string, len(columns))
	for i, c := range columns {
		cells[i] = c.title
	}
	return r.styles.Header.Render(r.line(cells))
}

// Row renders one processed email.
func (r Renderer) Row(e models.Email) string {
	return r.line([]string{
		e.Subject,
		e.FromAddress,
		e.SentAt.String(),
		e.ReceivedAt.String(),
		Attachments(e.Attachments),
		Preview(e.Body, r.previewLength),
	})
}

// Rows renders items one per line, in order.
func (r Renderer) Rows(items []models.Email) string {
	lines := make([]string, len(items))
	for i, e := range items {
		lines[i] = r.Row(e)
	}
	return strings.Join(lines, "\n")
}

// Info renders the counter line.
func (r Renderer) Info(c pm.Counters) string {
	return r.styles.Info.Render(InfoText(c))
}

// Indicator renders the progress bar for percent in [0,100].
func (r Renderer) Indicator(percent float64) string {
	return r.bar.ViewAs(clamp(percent) / 100)
}

// Notice renders a status line, or nothing for an empty message.
func (r Renderer) Notice(msg string) string {
	if msg == "" {
		return ""
	}
	return r.styles.Notice.Render(msg)
}

// Hint renders muted help text.
func (r Renderer) Hint(msg string) string {
	return r.styles.Muted.Render(msg)
}

// Snapshot renders the whole view of a model snapshot.
func (r Renderer) Snapshot(s pm.Snapshot, indicator float64) string {
	parts := []string{r.Info(s.Counters), r.Indicator(indicator), r.Header()}
	if len(s.Items) > 0 {
		parts = append(parts, r.Rows(s.Items))
	}
	return strings.Join(parts, "\n")
}

func (r Renderer) line(cells []string) string {
	rendered := make([]string, len(cells))
	for i, text := range cells {
		w := columns[i].width
		if w == 0 {
			w = r.previewLength + len(ellipsis)
		}
		rendered[i] = r.styles.Cell.Width(w).MaxHeight(1).Render(fit(text, w))
	}
	return strings.Join(rendered, " ")
}

// InfoText is the plain counter line.
func InfoText(c pm.Counters) string {
	return fmt.Sprintf("Processed: %d / %d emails", c.Processed, c.Total)
}

// PercentText renders percent as a whole number with a percent sign.
func PercentText(percent float64) string {
	return fmt.Sprintf("%.0f%%", clamp(percent))
}

// Preview returns the first n runes of body followed by an ellipsis.
func Preview(body string, n int) string {
	body = strings.Join(strings.Fields(body), " ")
	runes := []rune(body)
	if len(runes) > n {
		runes = runes[:n]
	}
	return string(runes) + ellipsis
}

// Attachments lists attachment file names, comma separated.
func Attachments(atts []models.Attachment) string {
	names := make([]string, 0, len(atts))
	for _, a := range atts {
		names = append(names, a.Filename)
	}
	return strings.Join(names, ", ")
}

func fit(s string, w int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	runes := []rune(s)
	if len(runes) <= w {
		return s
	}
	if w <= 1 {
		return string(runes[:w])
	}
	return string(runes[:w-1]) + "…"
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	default:
		return p
	}
}
