// Package observer runs the observer's single event loop. The loop owns the
// progress model and the start trigger; snapshot loads and stream sessions
// run on helper goroutines that only post to the loop's inbox.
package observer

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/progress"
	"github.com/vrsandeep/mailpulse/internal/snapshot"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

// ErrRunActive is returned by StartFetching while a run is in progress.
var ErrRunActive = errors.New("a fetch run is already active")

const inboxSize = 64

// SnapshotLoader loads the producer's current state.
type SnapshotLoader interface {
	Load(ctx context.Context) (snapshot.Result, error)
}

// StreamClient opens and drives stream sessions.
type StreamClient interface {
	NewSession() *stream.Session
	Run(ctx context.Context, s *stream.Session, emit func(stream.Event)) error
}

// Update is what the loop publishes after every change. Appended holds only
// the items added since the previous update. Rows already shown are never
// withdrawn, so listeners only ever append.
type Update struct {
	Counters       progress.Counters
	Percent        float64
	Frozen         bool
	Appended       []models.Email
	TriggerEnabled bool
	State          stream.State
	Notice         string
}

// Listener receives updates on the loop goroutine. Implementations must not
// call back into the Observer synchronously.
type Listener interface {
	OnUpdate(Update)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Update)

func (f ListenerFunc) OnUpdate(u Update) { f(u) }

// Option configures an Observer.
type Option func(*Observer)

// WithListener sets the update listener.
func WithListener(l Listener) Option {
	return func(o *Observer) { o.listener = l }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Observer) { o.logger = l }
}

type snapshotLoaded struct {
	res snapshot.Result
	err error
}

type startRequest struct {
	reply chan error
}

type sessionEvent struct {
	id    uuid.UUID
	event stream.Event
}

type runAborted struct {
	id  uuid.UUID
	err error
}

// Observer reconciles the snapshot with live stream events.
type Observer struct {
	snapshots SnapshotLoader
	client    StreamClient
	listener  Listener
	logger    *zap.Logger

	inbox   chan any
	trigger atomic.Bool

	// Owned by the loop goroutine.
	model      *progress.Model
	session    *stream.Session
	state      stream.State
	rendered   int
	indicator  float64
	frozen     bool
	seeded     bool
	runStarted bool
	notice     string
}

// New returns an observer. snapshots may be nil when no initial state is
// wanted.
func New(snapshots SnapshotLoader, client StreamClient, opts ...Option) *Observer {
	o := &Observer{
		snapshots: snapshots,
		client:    client,
		inbox:     make(chan any, inboxSize),
		model:     progress.New(),
		state:     stream.StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	o.trigger.Store(true)
	return o
}

// TriggerEnabled reports whether StartFetching would be accepted. Safe from
// any goroutine.
func (o *Observer) TriggerEnabled() bool {
	return o.trigger.Load()
}

// LoadSnapshot fetches the snapshot on the calling goroutine and hands the
// result to the loop. The returned error is informational; the loop carries
// on with an empty model when the snapshot is unavailable.
func (o *Observer) LoadSnapshot(ctx context.Context) error {
	if o.snapshots == nil {
		return nil
	}
	res, err := o.snapshots.Load(ctx)
	if !o.post(ctx, snapshotLoaded{res: res, err: err}) {
		return ctx.Err()
	}
	return err
}

// StartFetching asks the loop to begin a new run. It returns ErrRunActive
// while a run is in progress.
func (o *Observer) StartFetching(ctx context.Context) error {
	reply := make(chan error, 1)
	if !o.post(ctx, startRequest{reply: reply}) {
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run is the event loop. It publishes the initial state, then handles inbox
// messages strictly in arrival order until ctx is done. Stream sessions are
// bound to ctx.
func (o *Observer) Run(ctx context.Context) error {
	o.publish()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-o.inbox:
			o.handle(ctx, msg)
		}
	}
}

func (o *Observer) post(ctx context.Context, msg any) bool {
	select {
	case o.inbox <- msg:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Observer) handle(ctx context.Context, msg any) {
	switch m := msg.(type) {
	case snapshotLoaded:
		o.applySnapshot(m)
	case startRequest:
		m.reply <- o.start(ctx)
	case sessionEvent:
		o.applyEvent(m)
	case runAborted:
		if o.session != nil && o.session.ID == m.id {
			o.logger.Error("fetch run aborted", zap.Error(m.err))
			o.state = stream.StateClosed
			o.notice = "Run aborted: " + m.err.Error()
			o.finish()
			o.publish()
		}
	}
}

func (o *Observer) applySnapshot(m snapshotLoaded) {
	switch {
	case o.runStarted || o.seeded:
		o.logger.Debug("discarding late snapshot")
		return
	case m.err != nil:
		o.logger.Warn("snapshot unavailable, starting empty", zap.Error(m.err))
		o.notice = "Could not load processed emails"
	default:
		if err := o.model.Seed(m.res.Items, m.res.Counters); err != nil {
			o.logger.Warn("rejecting snapshot", zap.Error(err))
			o.notice = "Processed emails snapshot was inconsistent"
			break
		}
		o.seeded = true
		o.indicator = o.model.ProgressPercent()
		o.logger.Info("snapshot applied",
			zap.Int("emails", o.model.Len()),
			zap.Int("total", m.res.Counters.Total),
			zap.Int("processed", m.res.Counters.Processed))
	}
	o.publish()
}

func (o *Observer) start(ctx context.Context) error {
	if !o.trigger.Load() {
		return ErrRunActive
	}
	sess := o.client.NewSession()
	o.session = sess
	o.runStarted = true
	o.state = stream.StateConnecting
	o.notice = ""
	o.trigger.Store(false)
	o.logger.Info("starting fetch run", zap.String("session", sess.ID.String()))

	id := sess.ID
	go func() {
		emit := func(evt stream.Event) { o.post(ctx, sessionEvent{id: id, event: evt}) }
		err := o.client.Run(ctx, sess, emit)
		if err != nil && !errors.Is(err, stream.ErrConnectionClosed) {
			o.post(ctx, runAborted{id: id, err: err})
		}
	}()

	o.publish()
	return nil
}

func (o *Observer) applyEvent(m sessionEvent) {
	if o.session == nil || o.session.ID != m.id {
		o.logger.Debug("dropping event from a finished session", zap.String("session", m.id.String()))
		return
	}

	switch evt := m.event.(type) {
	case stream.Opened:
		o.model.ResetForNewRun()
		o.rendered = 0
		o.indicator = 0
		o.frozen = false
		o.state = stream.StateOpen
	case stream.CounterUpdate:
		o.model.ApplyCounterUpdate(progress.CounterUpdate{Total: evt.Total, Processed: evt.Processed})
		if evt.Processed != nil && !o.frozen {
			o.indicator = o.model.ProgressPercent()
		}
	case stream.ItemArrived:
		o.model.AppendItem(evt.Item)
	case stream.ProducerError:
		o.logger.Warn("producer reported an error", zap.String("error", evt.Message))
		o.notice = "Producer error: " + evt.Message
	case stream.Malformed:
		o.logger.Debug("ignoring malformed message", zap.Error(evt.Err))
		return
	case stream.Completed:
		o.frozen = true
		o.indicator = 100
		o.state = stream.StateCompleted
		o.finish()
	case stream.Closed:
		o.logger.Warn("stream closed before completion", zap.Error(evt.Err))
		o.state = stream.StateClosed
		o.notice = "Connection closed before the run completed"
		o.finish()
	}
	o.publish()
}

// finish ends the current session and re-enables the trigger. Anything the
// session still delivers afterwards is dropped as stale.
func (o *Observer) finish() {
	if err := o.session.Reset(); err != nil {
		o.logger.Debug("session reset", zap.Error(err))
	}
	o.session = nil
	o.trigger.Store(true)
}

func (o *Observer) publish() {
	if o.listener == nil {
		return
	}
	appended := o.model.ItemsSince(o.rendered)
	o.rendered = o.model.Len()
	u := Update{
		Counters:       o.model.Counters(),
		Percent:        o.indicator,
		Frozen:         o.frozen,
		Appended:       appended,
		TriggerEnabled: o.trigger.Load(),
		State:          o.state,
		Notice:         o.notice,
	}
	o.listener.OnUpdate(u)
}
