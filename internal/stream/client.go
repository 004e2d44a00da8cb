package stream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/metrics"
	"github.com/vrsandeep/mailpulse/internal/models"
)

// StreamPath is where the producer serves the progress stream.
const StreamPath = "/ws/emails/"

const (
	maxMessageSize = 4 << 20
	closeGrace     = time.Second
)

// Client opens progress stream sessions against one producer.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	header  http.Header
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// Option customizes a Client.
type Option func(*Client)

// WithDialer replaces websocket.DefaultDialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithHeader sets extra handshake headers, such as cookies.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithMetrics records stream counters.
func WithMetrics(m *metrics.Collectors) Option {
	return func(c *Client) { c.metrics = m }
}

// NewClient returns a client for the stream at streamURL (ws:// or wss://).
func NewClient(streamURL string, opts ...Option) *Client {
	c := &Client{
		url:    streamURL,
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// URL is the stream address this client dials.
func (c *Client) URL() string {
	return c.url
}

// NewSession returns a fresh idle session.
func (c *Client) NewSession() *Session {
	return NewSession()
}

// Run drives s through one whole run: dial, announce Opened, send the start
// directive, then decode frames until the completion marker or until the
// connection is lost. emit is called on Run's goroutine, in arrival order.
//
// Run returns nil after a completion marker and an error wrapping
// ErrConnectionClosed otherwise. The session is left in its terminal state;
// the caller resets it once it has handled the terminal event.
func (c *Client) Run(ctx context.Context, s *Session, emit func(Event)) error {
	if _, err := s.fire(TriggerDial); err != nil {
		return err
	}
	log := c.logger.With(zap.String("session", s.ID.String()), zap.String("url", c.url))
	log.Debug("dialing progress stream")

	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return c.closeRun(ctx, log, s, emit, fmt.Errorf("dial: %w", err))
	}
	s.attach(conn)
	defer func() {
		if c := s.detach(); c != nil {
			c.Close()
		}
	}()
	conn.SetReadLimit(maxMessageSize)

	// Unblock ReadMessage when the caller gives up on the run.
	stop := context.AfterFunc(ctx, func() { s.Close() })
	defer stop()

	if _, err := s.fire(TriggerReady); err != nil {
		return err
	}
	emit(Opened{})

	if err := conn.WriteJSON(models.StartDirective{Action: models.ActionStartFetching}); err != nil {
		return c.closeRun(ctx, log, s, emit, fmt.Errorf("send start directive: %w", err))
	}
	log.Info("fetch run started")

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return c.closeRun(ctx, log, s, emit, err)
		}
		c.metrics.StreamMessage()

		events := Decode(data)
		dropped := false
		for _, evt := range events {
			if bad, ok := evt.(Malformed); ok {
				dropped = true
				c.metrics.MalformedMessage()
				log.Warn("dropping malformed stream message", zap.Error(bad.Err))
			}
		}
		s.countFrame(dropped)

		for _, evt := range events {
			if _, ok := evt.(Completed); ok {
				if _, err := s.fire(TriggerComplete); err != nil {
					return err
				}
				emit(evt)
				deadline := time.Now().Add(closeGrace)
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
				log.Info("fetch run complete", zap.Int("frames", s.Stats().Received))
				return nil
			}
			emit(evt)
		}
	}
}

func (c *Client) closeRun(ctx context.Context, log *zap.Logger, s *Session, emit func(Event), cause error) error {
	if _, err := s.fire(TriggerClose); err != nil {
		return err
	}
	canceled := ctx.Err() != nil
	if canceled {
		// The read fails on the closed conn; report why it was closed.
		cause = fmt.Errorf("%w: %w", ctx.Err(), cause)
	}
	err := fmt.Errorf("%w: %w", ErrConnectionClosed, cause)
	if websocket.IsCloseError(cause, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		log.Info("progress stream closed before completion", zap.Error(cause))
	} else if canceled {
		log.Debug("progress stream canceled", zap.Error(cause))
	} else {
		log.Warn("progress stream lost", zap.Error(cause))
	}
	emit(Closed{Err: err})
	return err
}

// URLFromPage derives the stream address from the page the observer was
// loaded from: same host, wss when the page is served over https.
func URLFromPage(page string) (string, error) {
	u, err := url.Parse(page)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("page url %q has no host", page)
	}
	scheme := "ws"
	switch strings.ToLower(u.Scheme) {
	case "https", "wss":
		scheme = "wss"
	}
	return (&url.URL{Scheme: scheme, Host: u.Host, Path: StreamPath}).String(), nil
}
