package render

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/progress"
)

func sample() models.Email {
	sent := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return models.Email{
		Subject:     "Quarterly report",
		FromAddress: "cfo@example.com",
		SentAt:      models.NewTimestamp(sent),
		ReceivedAt:  models.NewTimestamp(sent.Add(5 * time.Second)),
		Attachments: []models.Attachment{
			{Filename: "q1.pdf", URL: "/media/attachments/q1.pdf"},
			{Filename: "q1.xlsx", URL: "/media/attachments/q1.xlsx"},
		},
		Body: strings.Repeat("numbers ", 20),
	}
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short...", Preview("short", 50))
	assert.Equal(t, "...", Preview("", 50))
	assert.Equal(t, "line one line two...", Preview("line one\n\tline two", 50))

	long := strings.Repeat("é", 80)
	got := Preview(long, 50)
	assert.Equal(t, strings.Repeat("é", 50)+"...", got)
}

func TestInfoText(t *testing.T) {
	assert.Equal(t, "Processed: 0 / 0 emails", InfoText(progress.Counters{}))
	assert.Equal(t, "Processed: 3 / 10 emails", InfoText(progress.Counters{Total: 10, Processed: 3}))
}

func TestPercentText(t *testing.T) {
	assert.Equal(t, "0%", PercentText(0))
	assert.Equal(t, "30%", PercentText(30))
	assert.Equal(t, "100%", PercentText(140))
	assert.Equal(t, "0%", PercentText(-3))
}

func TestAttachments(t *testing.T) {
	assert.Equal(t, "q1.pdf, q1.xlsx", Attachments(sample().Attachments))
	assert.Equal(t, "", Attachments(nil))
}

func TestRow(t *testing.T) {
	r := New(0)
	row := r.Row(sample())

	assert.Contains(t, row, "Quarterly report")
	assert.Contains(t, row, "cfo@example.com")
	assert.Contains(t, row, "2024-05-01 10:00:00")
	assert.Contains(t, row, "2024-05-01 10:00:05")
	assert.Contains(t, row, "q1.pdf, q1.xlsx")
	assert.Contains(t, row, Preview(sample().Body, DefaultPreviewLength))
	assert.NotContains(t, row, "\n")
}

func TestRowsKeepOrder(t *testing.T) {
	r := New(0)
	a, b := sample(), sample()
	a.Subject, b.Subject = "first", "second"

	out := r.Rows([]models.Email{a, b})
	lines := strings.Split(out, "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "first")
	assert.Contains(t, lines[1], "second")
	assert.Equal(t, "", r.Rows(nil))
}

func TestRenderIsIdempotent(t *testing.T) {
	r := New(20).WithBarWidth(30)
	snap := progress.Snapshot{
		Counters: progress.Counters{Total: 4, Processed: 2},
		Percent:  50,
		Items:    []models.Email{sample()},
	}
	assert.Equal(t, r.Snapshot(snap, 50), r.Snapshot(snap, 50))
	assert.Equal(t, r.Indicator(30), r.Indicator(30))
	assert.NotEqual(t, r.Indicator(10), r.Indicator(90))
}

func TestIndicatorShowsPercent(t *testing.T) {
	r := New(0)
	assert.Contains(t, r.Indicator(30), "30%")
	assert.Contains(t, r.Indicator(250), "100%")
}

func TestNotice(t *testing.T) {
	r := New(0)
	assert.Equal(t, "", r.Notice(""))
	assert.Contains(t, r.Notice("connection lost"), "connection lost")
}

func TestFit(t *testing.T) {
	assert.Equal(t, "abc", fit("abc", 5))
	assert.Equal(t, "abc…", fit("abcdef", 4))
	assert.Equal(t, "a b", fit("a\nb", 5))
}
