package observer_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/observer"
	"github.com/vrsandeep/mailpulse/internal/progress"
	"github.com/vrsandeep/mailpulse/internal/snapshot"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

type recorder struct {
	mu      sync.Mutex
	updates []observer.Update
}

func (r *recorder) OnUpdate(u observer.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
}

func (r *recorder) all() []observer.Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]observer.Update(nil), r.updates...)
}

func (r *recorder) last() observer.Update {
	all := r.all()
	if len(all) == 0 {
		return observer.Update{}
	}
	return all[len(all)-1]
}

// displayed replays the updates the way a view would.
func (r *recorder) displayed() []string {
	var subjects []string
	for _, u := range r.all() {
		for _, e := range u.Appended {
			subjects = append(subjects, e.Subject)
		}
	}
	return subjects
}

type fakeSnapshots struct {
	res snapshot.Result
	err error
}

func (f fakeSnapshots) Load(context.Context) (snapshot.Result, error) {
	return f.res, f.err
}

type fakeRun struct {
	emit   func(stream.Event)
	events chan stream.Event
}

func (r *fakeRun) send(events ...stream.Event) {
	for _, e := range events {
		r.events <- e
	}
}

type fakeClient struct {
	runs chan *fakeRun
}

func newFakeClient() *fakeClient {
	return &fakeClient{runs: make(chan *fakeRun, 4)}
}

func (f *fakeClient) NewSession() *stream.Session {
	return stream.NewSession()
}

func (f *fakeClient) Run(ctx context.Context, s *stream.Session, emit func(stream.Event)) error {
	run := &fakeRun{emit: emit, events: make(chan stream.Event)}
	f.runs <- run
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case e := <-run.events:
			emit(e)
			switch e.(type) {
			case stream.Completed:
				return nil
			case stream.Closed:
				return stream.ErrConnectionClosed
			}
		}
	}
}

func (f *fakeClient) next(t *testing.T) *fakeRun {
	t.Helper()
	select {
	case r := <-f.runs:
		return r
	case <-time.After(waitFor):
		t.Fatal("no run was started")
		return nil
	}
}

func startObserver(t *testing.T, snaps observer.SnapshotLoader, client observer.StreamClient) (*observer.Observer, *recorder, context.Context) {
	t.Helper()
	rec := &recorder{}
	o := observer.New(snaps, client, observer.WithListener(rec))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go o.Run(ctx)
	return o, rec, ctx
}

func email(subject string) models.Email {
	return models.Email{Subject: subject, FromAddress: "a@example.com", Body: "hello " + subject}
}

func total(n int) stream.Event     { return stream.CounterUpdate{Total: models.IntPtr(n)} }
func processed(n int) stream.Event { return stream.CounterUpdate{Processed: models.IntPtr(n)} }

func TestObserver_EmptySnapshot(t *testing.T) {
	o, rec, ctx := startObserver(t, fakeSnapshots{}, newFakeClient())

	require.NoError(t, o.LoadSnapshot(ctx))
	require.Eventually(t, func() bool { return len(rec.all()) >= 2 }, waitFor, tick)

	u := rec.last()
	assert.Equal(t, progress.Counters{}, u.Counters)
	assert.Equal(t, 0.0, u.Percent)
	assert.Empty(t, rec.displayed())
	assert.True(t, u.TriggerEnabled)
	assert.Empty(t, u.Notice)
}

func TestObserver_SnapshotUnavailableKeepsEmptyModel(t *testing.T) {
	failing := fakeSnapshots{err: fmt.Errorf("%w: 502", snapshot.ErrSnapshotUnavailable)}
	o, rec, ctx := startObserver(t, failing, newFakeClient())

	err := o.LoadSnapshot(ctx)
	require.ErrorIs(t, err, snapshot.ErrSnapshotUnavailable)
	require.Eventually(t, func() bool { return rec.last().Notice != "" }, waitFor, tick)
	assert.Empty(t, rec.displayed())
	assert.True(t, o.TriggerEnabled())
}

func TestObserver_InconsistentSnapshotRejected(t *testing.T) {
	bad := fakeSnapshots{res: snapshot.Result{
		Items:    []models.Email{email("x")},
		Counters: progress.Counters{Total: 1, Processed: 5},
	}}
	o, rec, ctx := startObserver(t, bad, newFakeClient())

	require.NoError(t, o.LoadSnapshot(ctx))
	require.Eventually(t, func() bool { return rec.last().Notice != "" }, waitFor, tick)
	assert.Empty(t, rec.displayed())
	assert.Equal(t, progress.Counters{}, rec.last().Counters)
}

func TestObserver_RunProgressesAndFreezesOnCompletion(t *testing.T) {
	seed := fakeSnapshots{res: snapshot.Result{
		Items:    []models.Email{email("old-1"), email("old-2")},
		Counters: progress.Counters{Total: 2, Processed: 2},
	}}
	client := newFakeClient()
	o, rec, ctx := startObserver(t, seed, client)

	require.NoError(t, o.LoadSnapshot(ctx))
	require.Eventually(t, func() bool { return len(rec.displayed()) == 2 }, waitFor, tick)
	assert.Equal(t, 100.0, rec.last().Percent)

	require.NoError(t, o.StartFetching(ctx))
	assert.False(t, o.TriggerEnabled())
	assert.ErrorIs(t, o.StartFetching(ctx), observer.ErrRunActive)

	run := client.next(t)
	run.send(stream.Opened{}, total(10))
	for i := 1; i <= 5; i++ {
		run.send(processed(i), stream.ItemArrived{Item: email(fmt.Sprintf("new-%d", i))})
	}
	require.Eventually(t, func() bool { return rec.last().Counters.Processed == 5 && len(rec.displayed()) == 7 }, waitFor, tick)
	assert.Equal(t, 50.0, rec.last().Percent)
	assert.False(t, rec.last().Frozen)
	assert.False(t, rec.last().TriggerEnabled)

	run.send(stream.Completed{})
	require.Eventually(t, func() bool { return rec.last().State == stream.StateCompleted }, waitFor, tick)

	final := rec.last()
	assert.True(t, final.Frozen)
	assert.Equal(t, 100.0, final.Percent)
	assert.True(t, final.TriggerEnabled)
	assert.True(t, o.TriggerEnabled())
	assert.Equal(t, progress.Counters{Total: 10, Processed: 5}, final.Counters)
	assert.Equal(t, []string{"old-1", "old-2", "new-1", "new-2", "new-3", "new-4", "new-5"}, rec.displayed())

	var percents []float64
	opened := false
	for _, u := range rec.all() {
		if u.State == stream.StateOpen {
			opened = true
		}
		if !opened {
			continue
		}
		if len(percents) == 0 || percents[len(percents)-1] != u.Percent {
			percents = append(percents, u.Percent)
		}
	}
	assert.Equal(t, []float64{0, 10, 20, 30, 40, 50, 100}, percents)
}

func TestObserver_AbnormalCloseKeepsProgress(t *testing.T) {
	client := newFakeClient()
	o, rec, ctx := startObserver(t, nil, client)

	require.NoError(t, o.StartFetching(ctx))
	run := client.next(t)
	run.send(stream.Opened{}, total(10))
	for i := 1; i <= 3; i++ {
		run.send(processed(i), stream.ItemArrived{Item: email(fmt.Sprintf("m%d", i))})
	}
	run.send(stream.Closed{Err: fmt.Errorf("%w: unexpected EOF", stream.ErrConnectionClosed)})

	require.Eventually(t, func() bool { return rec.last().State == stream.StateClosed }, waitFor, tick)
	u := rec.last()
	assert.Equal(t, 30.0, u.Percent)
	assert.False(t, u.Frozen)
	assert.True(t, u.TriggerEnabled)
	assert.NotEmpty(t, u.Notice)
	assert.Equal(t, progress.Counters{Total: 10, Processed: 3}, u.Counters)
	assert.Equal(t, []string{"m1", "m2", "m3"}, rec.displayed())

	require.NoError(t, o.StartFetching(ctx), "trigger is usable again after a closed run")
	client.next(t).send(stream.Opened{})
	require.Eventually(t, func() bool { return rec.last().State == stream.StateOpen }, waitFor, tick)
	assert.Equal(t, progress.Counters{}, rec.last().Counters)
	assert.Equal(t, []string{"m1", "m2", "m3"}, rec.displayed(), "rows from the previous run stay on screen")
}

func TestObserver_NewRunAppendsAfterSnapshotRows(t *testing.T) {
	seed := fakeSnapshots{res: snapshot.Result{
		Items:    []models.Email{email("old-1"), email("old-2")},
		Counters: progress.Counters{Total: 2, Processed: 2},
	}}
	client := newFakeClient()
	o, rec, ctx := startObserver(t, seed, client)

	require.NoError(t, o.LoadSnapshot(ctx))
	require.Eventually(t, func() bool { return len(rec.displayed()) == 2 }, waitFor, tick)

	require.NoError(t, o.StartFetching(ctx))
	client.next(t).send(stream.Opened{}, total(10), processed(1), stream.ItemArrived{Item: email("new-1")})

	require.Eventually(t, func() bool { return len(rec.displayed()) == 3 }, waitFor, tick)
	assert.Equal(t, []string{"old-1", "old-2", "new-1"}, rec.displayed())
	assert.Equal(t, progress.Counters{Total: 10, Processed: 1}, rec.last().Counters)
	assert.Equal(t, 10.0, rec.last().Percent)
}

func TestObserver_DropsEventsFromFinishedSession(t *testing.T) {
	client := newFakeClient()
	o, rec, ctx := startObserver(t, nil, client)

	require.NoError(t, o.StartFetching(ctx))
	first := client.next(t)
	first.send(stream.Opened{}, stream.Closed{Err: stream.ErrConnectionClosed})
	require.Eventually(t, o.TriggerEnabled, waitFor, tick)

	require.NoError(t, o.StartFetching(ctx))
	second := client.next(t)
	second.send(stream.Opened{})
	first.emit(stream.ItemArrived{Item: email("stale")})
	second.send(stream.ItemArrived{Item: email("fresh")}, stream.Completed{})

	require.Eventually(t, func() bool { return rec.last().State == stream.StateCompleted }, waitFor, tick)
	assert.Equal(t, []string{"fresh"}, rec.displayed())
}

func TestObserver_LateSnapshotIsDiscarded(t *testing.T) {
	seed := fakeSnapshots{res: snapshot.Result{
		Items:    []models.Email{email("snap")},
		Counters: progress.Counters{Total: 1, Processed: 1},
	}}
	client := newFakeClient()
	o, rec, ctx := startObserver(t, seed, client)

	require.NoError(t, o.StartFetching(ctx))
	run := client.next(t)
	require.NoError(t, o.LoadSnapshot(ctx))
	run.send(stream.Opened{}, stream.Completed{})

	require.Eventually(t, func() bool { return rec.last().State == stream.StateCompleted }, waitFor, tick)
	assert.Empty(t, rec.displayed())
	assert.Equal(t, progress.Counters{}, rec.last().Counters)
}

func TestObserver_CompletedRunIgnoresLaterMessages(t *testing.T) {
	client := newFakeClient()
	o, rec, ctx := startObserver(t, nil, client)

	require.NoError(t, o.StartFetching(ctx))
	run := client.next(t)
	run.send(stream.Opened{}, total(4), processed(1), stream.Completed{})
	require.Eventually(t, func() bool { return rec.last().State == stream.StateCompleted }, waitFor, tick)

	run.emit(processed(2))
	run.emit(stream.ItemArrived{Item: email("late")})
	require.NoError(t, o.StartFetching(ctx))
	require.Eventually(t, func() bool { return !rec.last().TriggerEnabled }, waitFor, tick)

	for _, u := range rec.all() {
		assert.LessOrEqual(t, u.Counters.Processed, 1)
	}
	assert.Empty(t, rec.displayed())
}
