// Package websocket fans progress messages out to every connected observer
// and accepts fetch requests from them.
package websocket

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/metrics"
	"github.com/vrsandeep/mailpulse/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Observers are terminal programs as often as browsers.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// envelope is a message addressed to a single client.
type envelope struct {
	client  *Client
	message []byte
}

// StartFunc begins a fetch run on behalf of an observer.
type StartFunc func() error

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	direct     chan envelope
	done       chan struct{}
	count      atomic.Int64

	start   StartFunc
	logger  *zap.Logger
	metrics *metrics.Collectors
}

// Option configures a Hub.
type Option func(*Hub)

func WithLogger(l *zap.Logger) Option {
	return func(h *Hub) { h.logger = l }
}

func WithMetrics(m *metrics.Collectors) Option {
	return func(h *Hub) { h.metrics = m }
}

// WithStart sets the function called when a client sends start_fetching.
func WithStart(fn StartFunc) Option {
	return func(h *Hub) { h.start = fn }
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan envelope),
		done:       make(chan struct{}),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	return h
}

// Run serves registrations and broadcasts until Close is called.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true
			h.count.Add(1)
			h.metrics.ObserverConnected(1)
		case client := <-h.unregister:
			h.remove(client)
		case e := <-h.direct:
			if h.clients[e.client] {
				select {
				case e.client.send <- e.message:
				default:
				}
			}
		case message := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					h.logger.Warn("dropping slow observer")
					h.remove(client)
				}
			}
		case <-h.done:
			for client := range h.clients {
				h.remove(client)
			}
			return
		}
	}
}

func (h *Hub) remove(client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	h.count.Add(-1)
	h.metrics.ObserverConnected(-1)
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// Clients returns the number of registered clients.
func (h *Hub) Clients() int {
	return int(h.count.Load())
}

// Broadcast queues a raw message for every client.
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// BroadcastJSON encodes v and queues it for every client.
func (h *Hub) BroadcastJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error("encoding broadcast", zap.Error(err))
		return
	}
	h.Broadcast(data)
}

// ServeWs upgrades the request and registers the connection as a client.
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	client := &Client{hub: h, conn: conn, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	h.logger.Debug("observer connected", zap.String("remote", r.RemoteAddr))

	go client.writePump()
	go client.readPump()
}

func (h *Hub) handleStart(c *Client) {
	if h.start == nil {
		h.reply(c, models.ProgressUpdate{Error: "fetching is not available"})
		return
	}
	if err := h.start(); err != nil {
		h.logger.Info("start request rejected", zap.Error(err))
		h.reply(c, models.ProgressUpdate{Error: err.Error()})
	}
}

// reply sends v to c alone.
func (h *Hub) reply(c *Client, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.direct <- envelope{client: c, message: data}:
	case <-h.done:
	}
}

// ServeHTTP makes the hub usable as an http.Handler.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ServeWs(w, r)
}
