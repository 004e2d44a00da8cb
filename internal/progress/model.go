// Package progress holds an observer's authoritative view of a fetch run:
// the running counters and the append-only list of processed emails.
//
// A Model is not safe for concurrent use. It is owned by a single event loop
// (see package observer) and every mutation happens there.
package progress

import (
	"errors"
	"fmt"

	"github.com/vrsandeep/mailpulse/internal/models"
)

// ErrInvalidSnapshot is returned by Seed when the snapshot counters are
// inconsistent.
var ErrInvalidSnapshot = errors.New("invalid snapshot")

// Counters tracks how far a run has progressed. A Total of 0 means the total
// has not been established yet.
type Counters struct {
	Total     int `json:"total"`
	Processed int `json:"processed"`
}

// CounterUpdate is a partial counter change. Nil fields keep their prior value.
type CounterUpdate struct {
	Total     *int
	Processed *int
}

// Snapshot is an immutable copy of the model for renderers.
type Snapshot struct {
	Counters Counters
	Percent  float64
	Items    []models.Email
}

// Model is the observer's view of job progress.
type Model struct {
	items    []models.Email
	counters Counters
	percent  float64
}

// New returns an empty model.
func New() *Model {
	return &Model{}
}

// Seed appends the snapshot items in order and sets the counters. It is
// meant to be called once at startup. On error the model is left untouched.
func (m *Model) Seed(items []models.Email, counters Counters) error {
	if counters.Total < 0 || counters.Processed < 0 {
		return fmt.Errorf("%w: negative counters (%d/%d)", ErrInvalidSnapshot, counters.Processed, counters.Total)
	}
	if counters.Total > 0 && counters.Processed > counters.Total {
		return fmt.Errorf("%w: processed %d exceeds total %d", ErrInvalidSnapshot, counters.Processed, counters.Total)
	}
	for _, item := range items {
		m.AppendItem(item)
	}
	m.counters = counters
	m.recompute()
	return nil
}

// ApplyCounterUpdate merges the fields present in u. Each field is
// last-write-wins on its own.
func (m *Model) ApplyCounterUpdate(u CounterUpdate) {
	if u.Total != nil {
		m.counters.Total = *u.Total
	}
	if u.Processed != nil {
		m.counters.Processed = *u.Processed
	}
	m.recompute()
}

// AppendItem adds an email to the end of the list.
func (m *Model) AppendItem(item models.Email) {
	m.items = append(m.items, item.Clone())
}

// ResetForNewRun clears the items and sets the counters back to (0,0).
func (m *Model) ResetForNewRun() {
	m.items = nil
	m.counters = Counters{}
	m.percent = 0
}

// Counters returns the current counters.
func (m *Model) Counters() Counters {
	return m.counters
}

// ProgressPercent is processed/total as a percentage in [0, 100], or 0 while
// the total is unknown.
func (m *Model) ProgressPercent() float64 {
	return m.percent
}

// Len is the number of items appended since the last reset.
func (m *Model) Len() int {
	return len(m.items)
}

// Items returns a copy of every item in arrival order.
func (m *Model) Items() []models.Email {
	return m.ItemsSince(0)
}

// ItemsSince returns a copy of the items after the first n.
func (m *Model) ItemsSince(n int) []models.Email {
	if n < 0 {
		n = 0
	}
	if n >= len(m.items) {
		return nil
	}
	out := make([]models.Email, 0, len(m.items)-n)
	for _, item := range m.items[n:] {
		out = append(out, item.Clone())
	}
	return out
}

// Snapshot copies the whole model.
func (m *Model) Snapshot() Snapshot {
	return Snapshot{
		Counters: m.counters,
		Percent:  m.percent,
		Items:    m.Items(),
	}
}

func (m *Model) recompute() {
	m.percent = Percent(m.counters)
}

// Percent computes clamp(processed/total*100, 0, 100), or 0 when total <= 0.
func Percent(c Counters) float64 {
	if c.Total <= 0 {
		return 0
	}
	p := float64(c.Processed) * 100 / float64(c.Total)
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
