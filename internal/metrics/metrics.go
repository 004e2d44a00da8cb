// Package metrics owns the Prometheus collectors shared by the producer and
// the observer. All recording methods are safe on a nil *Collectors so
// components can run without metrics wired in.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Run outcomes used as the "result" label.
const (
	ResultComplete = "complete"
	ResultClosed   = "closed"
	ResultError    = "error"
)

// Collectors groups every mailpulse collector.
type Collectors struct {
	runsStarted       prometheus.Counter
	runsFinished      *prometheus.CounterVec
	emailsProcessed   prometheus.Counter
	streamMessages    prometheus.Counter
	malformedMessages prometheus.Counter
	observers         prometheus.Gauge
}

// New registers the collectors against reg, or the default registerer when
// reg is nil.
func New(reg prometheus.Registerer) (*Collectors, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c := &Collectors{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailpulse_runs_started_total",
			Help: "Fetch runs that have started.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mailpulse_runs_finished_total",
			Help: "Fetch runs that have finished, partitioned by result.",
		}, []string{"result"}),
		emailsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailpulse_emails_processed_total",
			Help: "Emails fetched, parsed and stored.",
		}),
		streamMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailpulse_stream_messages_total",
			Help: "Progress stream messages received by observers.",
		}),
		malformedMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mailpulse_stream_malformed_total",
			Help: "Progress stream messages dropped because they failed to decode.",
		}),
		observers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mailpulse_observers_connected",
			Help: "Observers currently connected to the progress stream.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		c.runsStarted,
		c.runsFinished,
		c.emailsProcessed,
		c.streamMessages,
		c.malformedMessages,
		c.observers,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register collector: %w", err)
		}
	}
	return c, nil
}

func (c *Collectors) RunStarted() {
	if c == nil {
		return
	}
	c.runsStarted.Inc()
}

func (c *Collectors) RunFinished(result string) {
	if c == nil {
		return
	}
	c.runsFinished.WithLabelValues(result).Inc()
}

func (c *Collectors) EmailProcessed() {
	if c == nil {
		return
	}
	c.emailsProcessed.Inc()
}

func (c *Collectors) StreamMessage() {
	if c == nil {
		return
	}
	c.streamMessages.Inc()
}

func (c *Collectors) MalformedMessage() {
	if c == nil {
		return
	}
	c.malformedMessages.Inc()
}

// ObserverConnected moves the connected-observers gauge by delta.
func (c *Collectors) ObserverConnected(delta int) {
	if c == nil {
		return
	}
	c.observers.Add(float64(delta))
}
