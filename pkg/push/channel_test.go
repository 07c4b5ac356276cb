package push

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
)

// testHub is a minimal websocket endpoint that hands accepted connections
// to the test, so it can push frames or kill the socket.
type testHub struct {
	srv   *httptest.Server
	conns chan *gorilla.Conn

	lastAuth atomic.Value // string
}

func newTestHub(t *testing.T) *testHub {
	t.Helper()

	upgrader := gorilla.Upgrader{
		CheckOrigin: func(*http.Request) bool { return true },
	}

	h := &testHub{conns: make(chan *gorilla.Conn, 8)}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.lastAuth.Store(r.Header.Get("Authorization"))

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		h.conns <- conn

		// Drain client frames so close handshakes complete.
		go func() {
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *testHub) url() string {
	return "ws" + strings.TrimPrefix(h.srv.URL, "http")
}

func (h *testHub) accept(t *testing.T) *gorilla.Conn {
	t.Helper()
	select {
	case conn := <-h.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection accepted")
		return nil
	}
}

// waitFor reads events until one of the wanted kind shows up.
func waitFor(t *testing.T, events <-chan Message, kind Kind) Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-events:
			if msg.Type == kind {
				return msg
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s message", kind)
		}
	}
}

func TestChannelConnectAndReceive(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(), WithLogger(logger.Nop()))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close(context.Background())

	status := waitFor(t, c.Events(), KindConnectionStatus)
	assert.True(t, status.Connected)
	assert.False(t, status.Reconnecting)
	assert.Positive(t, status.Timestamp)
	assert.Equal(t, StateConnected, c.State())

	serverConn := h.accept(t)
	require.NoError(t, serverConn.WriteJSON(DataUpdate("planner")))

	msg := waitFor(t, c.Events(), KindDataUpdate)
	assert.Equal(t, "planner", msg.Entity)
}

func TestChannelConnectIsIdempotent(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(), WithLogger(logger.Nop()))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close(context.Background())
	h.accept(t)

	// Re-running init on every view mount must not spawn a second socket.
	require.NoError(t, c.Connect(context.Background()))
	require.NoError(t, c.Connect(context.Background()))

	select {
	case <-h.conns:
		t.Fatal("second Connect opened a parallel socket")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelReconnects(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(),
		WithLogger(logger.Nop()),
		WithRetryer(NewFixedDelayRetryer(10*time.Millisecond, 0)),
	)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close(context.Background())

	first := h.accept(t)
	waitFor(t, c.Events(), KindConnectionStatus)

	// Kill the socket server-side.
	require.NoError(t, first.Close())

	status := waitFor(t, c.Events(), KindConnectionStatus)
	assert.False(t, status.Connected)
	assert.True(t, status.Reconnecting)

	status = waitFor(t, c.Events(), KindConnectionStatus)
	assert.True(t, status.Connected, "channel must come back by itself")

	// The new socket delivers messages again.
	second := h.accept(t)
	require.NoError(t, second.WriteJSON(DataUpdate("venues")))
	msg := waitFor(t, c.Events(), KindDataUpdate)
	assert.Equal(t, "venues", msg.Entity)
}

func TestChannelConnectDuringReconnectBackoff(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(),
		WithLogger(logger.Nop()),
		WithRetryer(NewFixedDelayRetryer(200*time.Millisecond, 0)),
	)

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close(context.Background())

	first := h.accept(t)
	waitFor(t, c.Events(), KindConnectionStatus)

	require.NoError(t, first.Close())
	status := waitFor(t, c.Events(), KindConnectionStatus)
	require.True(t, status.Reconnecting)

	// A view-mount re-init while the backoff timer is pending must not
	// dial its own socket; the reconnect loop owns re-establishment, and
	// a competing dial would strand the loop and stop delivery for good.
	require.NoError(t, c.Connect(context.Background()))

	status = waitFor(t, c.Events(), KindConnectionStatus)
	assert.True(t, status.Connected, "reconnect loop must still bring the channel back")

	second := h.accept(t)
	require.NoError(t, second.WriteJSON(DataUpdate("bookings")))
	msg := waitFor(t, c.Events(), KindDataUpdate)
	assert.Equal(t, "bookings", msg.Entity, "delivery must survive a Connect during backoff")

	select {
	case <-h.conns:
		t.Fatal("Connect during backoff opened a parallel socket")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestChannelDropsMalformedFrames(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(), WithLogger(logger.Nop()))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close(context.Background())

	serverConn := h.accept(t)
	require.NoError(t, serverConn.WriteMessage(gorilla.TextMessage, []byte("{not json")))
	require.NoError(t, serverConn.WriteMessage(gorilla.TextMessage, []byte(`{"type":"mystery","timestamp":1}`)))
	require.NoError(t, serverConn.WriteJSON(DataUpdate("musicians")))

	msg := waitFor(t, c.Events(), KindDataUpdate)
	assert.Equal(t, "musicians", msg.Entity, "good frames survive bad neighbors")
	assert.Equal(t, StateConnected, c.State(), "bad frames must not drop the connection")
}

func TestChannelClose(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(), WithLogger(logger.Nop()))

	require.NoError(t, c.Connect(context.Background()))
	h.accept(t)

	require.NoError(t, c.Close(context.Background()))
	assert.True(t, c.IsClosed())

	assert.ErrorIs(t, c.Connect(context.Background()), ErrClosed)
	assert.Error(t, c.Close(context.Background()), "closing twice reports an error")
}

func TestChannelCloseNeverConnected(t *testing.T) {
	c := NewChannel("ws://127.0.0.1:1/ws", WithLogger(logger.Nop()))
	require.NoError(t, c.Close(context.Background()))
	assert.True(t, c.IsClosed())
}

func TestChannelSendsSessionToken(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(), WithLogger(logger.Nop()), WithToken("opaque-session-token"))

	require.NoError(t, c.Connect(context.Background()))
	defer c.Close(context.Background())
	h.accept(t)

	assert.Equal(t, "Bearer opaque-session-token", h.lastAuth.Load())
}

func TestConnectWithRetryGivesUp(t *testing.T) {
	c := NewChannel("ws://127.0.0.1:1/ws",
		WithLogger(logger.Nop()),
		WithRetryer(NewFixedDelayRetryer(time.Millisecond, 2)),
	)

	err := c.ConnectWithRetry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "giving up")
}

func TestConnectWithRetrySucceeds(t *testing.T) {
	h := newTestHub(t)
	c := NewChannel(h.url(),
		WithLogger(logger.Nop()),
		WithRetryer(NewFixedDelayRetryer(time.Millisecond, 3)),
	)

	require.NoError(t, c.ConnectWithRetry(context.Background()))
	defer c.Close(context.Background())
	assert.Equal(t, StateConnected, c.State())
}
