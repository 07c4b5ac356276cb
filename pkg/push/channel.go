package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	gorilla "github.com/gorilla/websocket"

	"github.com/svelumani/MusicianManager-sub005/pkg/logger"
)

// ErrClosed is returned when an operation is attempted on a channel that
// has been closed. A closed channel cannot be reused; build a new one.
var ErrClosed = errors.New("push: channel is closed")

// eventBufferSize bounds the consumer-facing message channel. Delivery is
// at-most-once: when the consumer falls this far behind, messages are
// dropped, and the reconciler's poll tick restores correctness.
const eventBufferSize = 100

// DefaultDialer is the gorilla dialer used unless one is injected.
var DefaultDialer = &gorilla.Dialer{
	Proxy:            gorilla.DefaultDialer.Proxy,
	HandshakeTimeout: gorilla.DefaultDialer.HandshakeTimeout,
}

// Channel is an auto-reconnecting client connection to the freshness hub.
//
// There is at most one live socket per Channel: calling Connect while
// already connected is a no-op rather than a second connection, so wiring
// Connect into a view-mount hook cannot spawn parallel sockets.
//
// Consumers read Messages from Events. Connection-status messages are
// synthesized locally around every disconnect and (re)connect.
type Channel struct {
	url     string
	token   string
	dialer  *gorilla.Dialer
	retryer Retryer
	log     logger.Logger

	events chan Message

	// state is guarded by stateMu; transitions go through transitionTo
	// so that every change is validated against the state machine.
	state   State
	stateMu sync.Mutex

	conn   *gorilla.Conn
	connMu sync.Mutex

	// closeCh signals shutdown to the run loop; loopDone is closed when
	// the run loop has exited, so Close can wait for it.
	closeCh  chan struct{}
	loopDone chan struct{}

	// once ensures a single run loop across reconnects.
	once        sync.Once
	loopStarted atomic.Bool
}

// Option configures a Channel.
type Option func(*Channel)

// WithToken sets the opaque session token sent on the dial request.
// Establishing a session is the caller's precondition; the channel only
// forwards the token.
func WithToken(token string) Option {
	return func(c *Channel) { c.token = token }
}

// WithRetryer replaces the reconnect backoff policy.
func WithRetryer(r Retryer) Option {
	return func(c *Channel) { c.retryer = r }
}

// WithLogger sets the logger.
func WithLogger(log logger.Logger) Option {
	return func(c *Channel) { c.log = log }
}

// WithDialer replaces the websocket dialer.
func WithDialer(d *gorilla.Dialer) Option {
	return func(c *Channel) { c.dialer = d }
}

// NewChannel returns a channel for the given ws:// or wss:// URL.
func NewChannel(url string, opts ...Option) *Channel {
	c := &Channel{
		url:      url,
		dialer:   DefaultDialer,
		retryer:  NewExponentialBackoffRetryer(),
		log:      logger.Nop(),
		events:   make(chan Message, eventBufferSize),
		state:    StateDisconnected,
		closeCh:  make(chan struct{}),
		loopDone: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Events returns the stream of messages for the consuming reconciler.
func (c *Channel) Events() <-chan Message {
	return c.events
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

// IsClosed reports whether the channel has been shut down for good.
func (c *Channel) IsClosed() bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state == StateClosed
}

func (c *Channel) transitionTo(newState State) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if err := c.state.validateTransitionTo(newState); err != nil {
		return err
	}

	c.state = newState
	c.log.Debug("push.Channel state transitioned", "new_state", newState)
	return nil
}

// Connect establishes the connection and starts the run loop.
//
// Calling Connect on a channel that is already connected, or whose run
// loop is mid-reconnect, returns nil without touching the existing
// socket. The initial connection failure is returned
// to the caller rather than retried here; use ConnectWithRetry when the
// caller wants the backoff policy applied to the first dial too.
func (c *Channel) Connect(ctx context.Context) error {
	c.stateMu.Lock()
	switch c.state {
	case StateConnected:
		c.stateMu.Unlock()
		c.log.Debug("push.Channel already connected, ignoring Connect")
		return nil
	case StateConnecting, StateReconnecting:
		// The run loop owns re-establishment once it exists. Dialing here
		// would hand it a Connected state it cannot transition out of,
		// killing the loop and orphaning the socket.
		c.stateMu.Unlock()
		c.log.Debug("push.Channel connection attempt already in progress, ignoring Connect")
		return nil
	case StateClosing, StateClosed:
		c.stateMu.Unlock()
		return ErrClosed
	}
	c.stateMu.Unlock()

	if err := c.transitionTo(StateConnecting); err != nil {
		return fmt.Errorf("push.Channel cannot connect: %w", err)
	}

	conn, err := c.dial(ctx)
	if err != nil {
		if stateErr := c.transitionTo(StateDisconnected); stateErr != nil {
			c.log.Error("BUG: push.Channel failed to transition to disconnected state", "error", stateErr)
		}
		return fmt.Errorf("push.Channel failed to connect: %w", err)
	}

	c.setConn(conn)

	if err := c.transitionTo(StateConnected); err != nil {
		// Close may have raced the dial; anything else is a bug.
		if st := c.State(); st == StateClosing || st == StateClosed {
			conn.Close()
			return ErrClosed
		}
		panic(fmt.Sprintf("BUG: push.Channel failed to transition to connected state: %v", err))
	}

	c.retryer.Reset()
	c.emit(connectionStatus(true, false))

	c.once.Do(func() {
		c.log.Debug("push.Channel starting run loop")
		c.loopStarted.Store(true)
		go c.run()
	})

	return nil
}

// ConnectWithRetry keeps attempting the initial connection under the
// channel's backoff policy until it succeeds, the policy gives up, or the
// context is canceled.
func (c *Channel) ConnectWithRetry(ctx context.Context) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = c.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		if errors.Is(lastErr, ErrClosed) {
			return lastErr
		}

		delay, retry := c.retryer.NextDelay(attempt, lastErr)
		if !retry {
			return fmt.Errorf("push.Channel giving up initial connect: %w", lastErr)
		}

		c.log.Warn("push.Channel initial connect failed, retrying", "attempt", attempt, "delay", delay, "error", lastErr)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.closeCh:
			return ErrClosed
		case <-time.After(delay):
		}
	}
}

// Close stops the run loop and closes the socket. Once Close returns, the
// run loop is guaranteed to have stopped and no further reconnect attempts
// will be made. The context bounds how long to wait for the close
// handshake; on expiry the socket is torn down regardless.
func (c *Channel) Close(ctx context.Context) error {
	if err := c.transitionTo(StateClosing); err != nil {
		return fmt.Errorf("push.Channel is already closing or closed: %w", err)
	}

	defer func() {
		if err := c.transitionTo(StateClosed); err != nil {
			c.log.Error("BUG: push.Channel failed to transition to closed state", "error", err)
		}
	}()

	close(c.closeCh)

	if conn := c.currentConn(); conn != nil {
		// Best-effort close frame so the server learns we are leaving;
		// if the write hangs, the ctx bounds the wait and the hard close
		// below still frees local resources.
		writeErr := make(chan error, 1)
		go func() {
			writeErr <- conn.WriteMessage(gorilla.CloseMessage,
				gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, ""))
		}()
		select {
		case err := <-writeErr:
			if err != nil {
				c.log.Debug("push.Channel failed to write close message", "error", err)
			}
		case <-ctx.Done():
		}

		if err := conn.Close(); err != nil {
			c.log.Debug("push.Channel error closing socket", "error", err)
		}
	}

	if c.loopStarted.Load() {
		select {
		case <-c.loopDone:
		case <-ctx.Done():
			return fmt.Errorf("push.Channel close wait: %w", ctx.Err())
		}
	}

	return nil
}

func (c *Channel) dial(ctx context.Context) (*gorilla.Conn, error) {
	header := http.Header{}
	if c.token != "" {
		header.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, header)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, err
	}
	return conn, nil
}

func (c *Channel) setConn(conn *gorilla.Conn) {
	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
}

func (c *Channel) currentConn() *gorilla.Conn {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.conn
}

// emit delivers a message to the consumer without ever blocking the run
// loop. Dropping under pressure is acceptable: the channel is a hint
// stream, and the poll tick re-fetches the authoritative snapshot.
func (c *Channel) emit(msg Message) {
	select {
	case c.events <- msg:
	default:
		c.log.Warn("push.Channel event buffer full, dropping message", "type", msg.Type)
	}
}

// run owns the socket after the first successful Connect: it reads until
// the transport fails, then cycles through the reconnect loop, until
// Close is called.
func (c *Channel) run() {
	defer close(c.loopDone)

	for {
		readErr := c.readUntilError()

		select {
		case <-c.closeCh:
			return
		default:
		}

		c.emit(connectionStatus(false, true))
		if err := c.transitionTo(StateReconnecting); err != nil {
			c.log.Error("BUG: push.Channel failed to transition to reconnecting state", "error", err)
			return
		}

		if !c.reconnect(readErr) {
			return
		}
	}
}

// readUntilError pumps frames from the socket to the consumer. Malformed
// frames are logged and dropped; only transport errors end the loop.
func (c *Channel) readUntilError() error {
	conn := c.currentConn()

	for {
		select {
		case <-c.closeCh:
			return ErrClosed
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("push.Channel discarding malformed message", "error", err)
			continue
		}

		switch msg.Type {
		case KindDataUpdate, KindSystemMessage:
			c.emit(msg)
		default:
			c.log.Warn("push.Channel discarding message of unknown type", "type", msg.Type)
		}
	}
}

// reconnect runs backoff attempts until one succeeds. It returns false
// when the channel is shutting down or the retry policy gives up.
func (c *Channel) reconnect(lastErr error) bool {
	for attempt := 0; ; attempt++ {
		delay, retry := c.retryer.NextDelay(attempt, lastErr)
		if !retry {
			c.log.Error("push.Channel giving up reconnecting", "attempts", attempt, "error", lastErr)
			if err := c.transitionTo(StateDisconnected); err != nil {
				c.log.Error("BUG: push.Channel failed to transition to disconnected state", "error", err)
			}
			return false
		}

		c.log.Info("push.Channel reconnecting", "attempt", attempt, "delay", delay)
		select {
		case <-c.closeCh:
			return false
		case <-time.After(delay):
		}

		if err := c.transitionTo(StateConnecting); err != nil {
			// Close ran while we were waiting.
			return false
		}

		conn, err := c.dial(context.Background())
		if err != nil {
			lastErr = err
			c.log.Warn("push.Channel reconnect attempt failed", "attempt", attempt, "error", err)
			if stateErr := c.transitionTo(StateReconnecting); stateErr != nil {
				return false
			}
			continue
		}

		c.setConn(conn)
		if err := c.transitionTo(StateConnected); err != nil {
			// Close raced the dial.
			c.log.Debug("push.Channel discarding connection established during shutdown")
			conn.Close()
			return false
		}

		c.retryer.Reset()
		c.emit(connectionStatus(true, false))
		return true
	}
}
