package stream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	zapobserver "go.uber.org/zap/zaptest/observer"

	"github.com/vrsandeep/mailpulse/internal/metrics"
	"github.com/vrsandeep/mailpulse/internal/models"
	"github.com/vrsandeep/mailpulse/internal/stream"
)

// fakeProducer serves one websocket connection per request and hands it to
// script after capturing the start directive.
func fakeProducer(t *testing.T, script func(conn *websocket.Conn)) (string, <-chan models.StartDirective) {
	t.Helper()
	directives := make(chan models.StartDirective, 4)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var d models.StartDirective
		if err := conn.ReadJSON(&d); err != nil {
			return
		}
		directives <- d
		script(conn)
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http") + stream.StreamPath, directives
}

func drain(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func kinds(events []stream.Event) []string {
	out := make([]string, 0, len(events))
	for _, e := range events {
		switch e.(type) {
		case stream.Opened:
			out = append(out, "opened")
		case stream.CounterUpdate:
			out = append(out, "counter")
		case stream.ItemArrived:
			out = append(out, "item")
		case stream.Malformed:
			out = append(out, "malformed")
		case stream.ProducerError:
			out = append(out, "producer-error")
		case stream.Completed:
			out = append(out, "completed")
		case stream.Closed:
			out = append(out, "closed")
		}
	}
	return out
}

func TestClientRun_CompletesAndIgnoresTrailingMessages(t *testing.T) {
	url, directives := fakeProducer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"total_emails":2}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"processing","processed_emails":1,"email":`+sampleEmail+`}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{oops`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"complete"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"processed_emails":99}`))
		drain(conn)
	})

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	client := stream.NewClient(url, stream.WithMetrics(m))
	sess := client.NewSession()
	var events []stream.Event
	err = client.Run(context.Background(), sess, func(e stream.Event) { events = append(events, e) })
	require.NoError(t, err)

	assert.Equal(t, []string{"opened", "counter", "counter", "item", "malformed", "completed"}, kinds(events))
	assert.Equal(t, stream.StateCompleted, sess.State())
	assert.Equal(t, stream.Stats{Received: 4, Dropped: 1}, sess.Stats())
	expected := `
# HELP mailpulse_stream_malformed_total Progress stream messages dropped because they failed to decode.
# TYPE mailpulse_stream_malformed_total counter
mailpulse_stream_malformed_total 1
# HELP mailpulse_stream_messages_total Progress stream messages received by observers.
# TYPE mailpulse_stream_messages_total counter
mailpulse_stream_messages_total 4
`
	assert.NoError(t, promtest.GatherAndCompare(reg, strings.NewReader(expected),
		"mailpulse_stream_messages_total", "mailpulse_stream_malformed_total"))

	select {
	case d := <-directives:
		assert.Equal(t, models.ActionStartFetching, d.Action)
	default:
		t.Fatal("start directive was not sent")
	}
	assert.Empty(t, directives, "start directive must be sent once per run")

	require.NoError(t, sess.Reset())
	assert.Equal(t, stream.StateIdle, sess.State())
}

func TestClientRun_AbnormalClosureKeepsWhatArrived(t *testing.T) {
	url, _ := fakeProducer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"total_emails":10}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"processed_emails":3}`))
		conn.UnderlyingConn().Close()
	})

	client := stream.NewClient(url)
	sess := client.NewSession()
	var events []stream.Event
	err := client.Run(context.Background(), sess, func(e stream.Event) { events = append(events, e) })

	require.ErrorIs(t, err, stream.ErrConnectionClosed)
	assert.Equal(t, []string{"opened", "counter", "counter", "closed"}, kinds(events))
	closed := events[len(events)-1].(stream.Closed)
	assert.ErrorIs(t, closed.Err, stream.ErrConnectionClosed)
	assert.Equal(t, stream.StateClosed, sess.State())
}

func TestClientRun_NormalCloseBeforeCompletion(t *testing.T) {
	url, _ := fakeProducer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		drain(conn)
	})

	client := stream.NewClient(url)
	sess := client.NewSession()
	var events []stream.Event
	err := client.Run(context.Background(), sess, func(e stream.Event) { events = append(events, e) })

	require.ErrorIs(t, err, stream.ErrConnectionClosed)
	assert.Equal(t, []string{"opened", "closed"}, kinds(events))
	assert.Equal(t, stream.StateClosed, sess.State())
}

func TestClientRun_DialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	client := stream.NewClient("ws" + strings.TrimPrefix(srv.URL, "http") + stream.StreamPath)
	sess := client.NewSession()
	var events []stream.Event
	err := client.Run(context.Background(), sess, func(e stream.Event) { events = append(events, e) })

	require.ErrorIs(t, err, stream.ErrConnectionClosed)
	assert.Equal(t, []string{"closed"}, kinds(events), "no Opened without a handshake")
	assert.Equal(t, stream.StateClosed, sess.State())
}

func TestClientRun_ContextCancelClosesConnection(t *testing.T) {
	url, _ := fakeProducer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"total_emails":5}`))
		drain(conn)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	core, logs := zapobserver.New(zapcore.DebugLevel)
	client := stream.NewClient(url, stream.WithLogger(zap.New(core)))
	sess := client.NewSession()
	var events []stream.Event
	done := make(chan error, 1)
	go func() {
		done <- client.Run(ctx, sess, func(e stream.Event) {
			events = append(events, e)
			if _, ok := e.(stream.CounterUpdate); ok {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		require.ErrorIs(t, err, stream.ErrConnectionClosed)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	assert.Equal(t, []string{"opened", "counter", "closed"}, kinds(events))
	assert.Equal(t, 1, logs.FilterMessage("progress stream canceled").Len())
	assert.Zero(t, logs.FilterLevelExact(zapcore.WarnLevel).Len(), "a canceled run is not reported as lost")
}

func TestSessionCloseEndsRun(t *testing.T) {
	url, _ := fakeProducer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"total_emails":5}`))
		drain(conn)
	})

	client := stream.NewClient(url)
	sess := client.NewSession()
	assert.NoError(t, sess.Close(), "closing before a run is a no-op")

	var events []stream.Event
	err := client.Run(context.Background(), sess, func(e stream.Event) {
		events = append(events, e)
		if _, ok := e.(stream.CounterUpdate); ok {
			sess.Close()
		}
	})

	require.ErrorIs(t, err, stream.ErrConnectionClosed)
	assert.Equal(t, []string{"opened", "counter", "closed"}, kinds(events))
	assert.Equal(t, stream.StateClosed, sess.State())
	assert.NoError(t, sess.Close(), "the connection is released when Run returns")
}

func TestClientRun_RejectsBusySession(t *testing.T) {
	url, _ := fakeProducer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"status":"complete"}`))
		drain(conn)
	})
	client := stream.NewClient(url)
	sess := client.NewSession()
	require.NoError(t, client.Run(context.Background(), sess, func(stream.Event) {}))

	err := client.Run(context.Background(), sess, func(stream.Event) {})
	require.ErrorIs(t, err, stream.ErrIllegalTransition)
}

func TestURLFromPage(t *testing.T) {
	tests := []struct {
		page    string
		want    string
		wantErr bool
	}{
		{"http://localhost:8000/emails/", "ws://localhost:8000/ws/emails/", false},
		{"https://mail.example.com", "wss://mail.example.com/ws/emails/", false},
		{"HTTPS://mail.example.com:8443/x?y=1", "wss://mail.example.com:8443/ws/emails/", false},
		{"/relative/path", "", true},
		{"://bad", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.page, func(t *testing.T) {
			got, err := stream.URLFromPage(tt.page)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
