// Package ws is the WebSocket transport: it owns one physical connection, runs the receive
// loop while the connection is open and reports everything that happens as events. It never
// retries on its own; reconnecting is the caller's decision.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/streamchat/internal/event"
	"github.com/vovakirdan/streamchat/internal/log"
	"github.com/vovakirdan/streamchat/internal/utils"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultCloseReason    = "closed by user"
	defaultReadLimit      = 1 << 20
)

var (
	// ErrAlreadyConnected is returned by Connect unless the transport is closed.
	ErrAlreadyConnected = errors.New("ws: already connected")
	// ErrDisposed is returned by every operation after Dispose.
	ErrDisposed = errors.New("ws: transport disposed")
	// ErrConnectionLost is wrapped by every EventError.
	ErrConnectionLost = errors.New("ws: connection lost")
	// ErrNoURI is returned by Reconnect before the first Connect.
	ErrNoURI = errors.New("ws: no uri to reconnect to")
)

// Options tune a Transport. Zero values pick defaults.
type Options struct {
	// ReconnectDelay is the settle delay Reconnect waits before dialing again.
	ReconnectDelay time.Duration
	// CloseReason is sent with the close frame on Close.
	CloseReason string
	// ReadLimit caps the size of a single inbound message.
	ReadLimit int64
	// HTTPHeader is sent with the handshake request.
	HTTPHeader http.Header
	Logger     *zerolog.Logger
}

// Transport is a client WebSocket connection with connect, reconnect, close and send.
type Transport struct {
	opts Options
	log  *zerolog.Logger

	mu     sync.RWMutex
	state  State
	uri    string
	conn   *websocket.Conn
	cancel context.CancelFunc
	epoch  string

	sendMu      sync.Mutex
	reconnectMu sync.Mutex

	events   event.Registry[Event]
	disposed atomic.Bool
}

// New creates a closed transport.
func New(opts Options) *Transport {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = defaultReconnectDelay
	}
	if opts.CloseReason == "" {
		opts.CloseReason = defaultCloseReason
	}
	if opts.ReadLimit <= 0 {
		opts.ReadLimit = defaultReadLimit
	}
	return &Transport{
		opts: opts,
		log:  log.OrNop(opts.Logger),
	}
}

// Subscribe registers fn for every event and returns a function that removes it.
func (t *Transport) Subscribe(fn func(Event)) func() {
	return t.events.Subscribe(fn)
}

// State returns the current socket state.
func (t *Transport) State() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state
}

// IsConnected reports whether the socket is open.
func (t *Transport) IsConnected() bool {
	return t.State() == StateOpen
}

// URI returns the address of the last Connect call.
func (t *Transport) URI() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.uri
}

// Epoch returns the id of the current (or last) connection.
func (t *Transport) Epoch() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.epoch
}

// Connect dials uri. On success EventConnected is raised and the receive loop starts. On
// failure EventError is raised, the transport returns to closed and the error is returned.
// A dial abandoned because ctx ended raises nothing.
func (t *Transport) Connect(ctx context.Context, uri string) error {
	if t.disposed.Load() {
		return ErrDisposed
	}

	t.mu.Lock()
	if t.state != StateClosed {
		t.mu.Unlock()
		return ErrAlreadyConnected
	}
	t.state = StateConnecting
	t.uri = uri
	t.mu.Unlock()

	conn, _, err := websocket.Dial(ctx, uri, &websocket.DialOptions{HTTPHeader: t.opts.HTTPHeader})
	if err != nil {
		t.mu.Lock()
		t.state = StateClosed
		t.mu.Unlock()

		if ctx.Err() != nil {
			t.log.Debug().Str("uri", uri).Msg("ws connect cancelled")
			return ctx.Err()
		}
		err = fmt.Errorf("%w: dial %s: %v", ErrConnectionLost, uri, err)
		t.log.Warn().Err(err).Str("uri", uri).Msg("ws connect failed")
		t.emit(Event{Kind: EventError, Err: err})
		return err
	}
	conn.SetReadLimit(t.opts.ReadLimit)

	loopCtx, cancel := context.WithCancel(context.Background())
	epoch := utils.NewID()

	t.mu.Lock()
	if t.disposed.Load() {
		t.mu.Unlock()
		cancel()
		_ = conn.CloseNow()
		return ErrDisposed
	}
	t.conn = conn
	t.cancel = cancel
	t.epoch = epoch
	t.state = StateOpen
	t.mu.Unlock()

	t.log.Info().Str("uri", uri).Str("epoch", epoch).Msg("ws connected")
	t.emit(Event{Kind: EventConnected, Epoch: epoch})

	go t.readLoop(loopCtx, conn, epoch)
	return nil
}

// Reconnect replaces the connection with a fresh one. Only one reconnect runs at a time; a
// caller that acquires the guard while the transport is open, connecting or closing
// returns immediately. One call makes exactly one attempt.
func (t *Transport) Reconnect(ctx context.Context) error {
	t.reconnectMu.Lock()
	defer t.reconnectMu.Unlock()

	if t.disposed.Load() {
		return ErrDisposed
	}

	t.mu.Lock()
	switch t.state {
	case StateOpen, StateConnecting, StateClosing:
		t.mu.Unlock()
		return nil
	}
	uri := t.uri
	conn, cancel := t.conn, t.cancel
	t.conn, t.cancel = nil, nil
	t.mu.Unlock()

	if uri == "" {
		return ErrNoURI
	}

	if cancel != nil {
		cancel()
	}

	t.log.Info().Str("uri", uri).Dur("delay", t.opts.ReconnectDelay).Msg("ws reconnecting")

	timer := time.NewTimer(t.opts.ReconnectDelay)
	select {
	case <-timer.C:
	case <-ctx.Done():
		timer.Stop()
		if conn != nil {
			_ = conn.CloseNow()
		}
		t.mu.Lock()
		if t.state == StateAborted {
			t.state = StateClosed
		}
		t.mu.Unlock()
		return ctx.Err()
	}

	if conn != nil {
		_ = conn.CloseNow()
	}

	t.mu.Lock()
	if t.state == StateAborted {
		t.state = StateClosed
	}
	t.mu.Unlock()

	return t.Connect(ctx, uri)
}

// Close performs the closing handshake. An aborted transport is moved to closed without an
// event; in any other state but open it is a no-op.
func (t *Transport) Close(ctx context.Context) error {
	if t.disposed.Load() {
		return ErrDisposed
	}

	t.mu.Lock()
	if t.state == StateAborted {
		conn, cancel := t.conn, t.cancel
		t.conn, t.cancel = nil, nil
		t.state = StateClosed
		t.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if conn != nil {
			_ = conn.CloseNow()
		}
		return nil
	}
	if t.state != StateOpen {
		t.mu.Unlock()
		return nil
	}
	t.state = StateClosing
	conn, cancel, epoch := t.conn, t.cancel, t.epoch
	t.mu.Unlock()

	err := closeWithContext(ctx, conn, t.opts.CloseReason)
	cancel()

	t.mu.Lock()
	if t.conn == conn {
		t.conn, t.cancel = nil, nil
		t.state = StateClosed
	}
	t.mu.Unlock()

	t.log.Info().Str("epoch", epoch).Msg("ws closed")
	t.emit(Event{Kind: EventClose, Epoch: epoch, Reason: t.opts.CloseReason})

	if err != nil && !isNormalClose(err) {
		return fmt.Errorf("ws: close: %w", err)
	}
	return nil
}

// Send writes data as one text message. It silently does nothing when the transport is not
// open or data is empty. A write failure aborts the connection and raises EventError.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	if t.disposed.Load() {
		return ErrDisposed
	}
	if len(data) == 0 {
		return nil
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()

	t.mu.RLock()
	conn, state := t.conn, t.state
	t.mu.RUnlock()
	if state != StateOpen || conn == nil {
		return nil
	}

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		err = fmt.Errorf("%w: write: %v", ErrConnectionLost, err)
		t.abort(conn, err)
		return err
	}
	return nil
}

// Dispose tears the transport down without a closing handshake and drops every subscriber.
// Later calls fail with ErrDisposed.
func (t *Transport) Dispose() {
	if t.disposed.Swap(true) {
		return
	}

	t.mu.Lock()
	conn, cancel := t.conn, t.cancel
	t.conn, t.cancel = nil, nil
	t.state = StateClosed
	t.mu.Unlock()

	t.events.Clear()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.CloseNow()
	}
}

func (t *Transport) readLoop(ctx context.Context, conn *websocket.Conn, epoch string) {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			var closeErr websocket.CloseError
			if errors.As(err, &closeErr) {
				t.peerClosed(conn, epoch, closeErr)
				return
			}
			t.abort(conn, fmt.Errorf("%w: read: %v", ErrConnectionLost, err))
			return
		}

		if !t.owns(conn) {
			return
		}
		t.emit(Event{
			Kind:    EventMessage,
			Epoch:   epoch,
			Payload: data,
			Text:    typ == websocket.MessageText,
		})
	}
}

// owns reports whether conn is still the open connection of this transport.
func (t *Transport) owns(conn *websocket.Conn) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn == conn && t.state == StateOpen
}

func (t *Transport) peerClosed(conn *websocket.Conn, epoch string, closeErr websocket.CloseError) {
	t.mu.Lock()
	if t.conn != conn || t.state != StateOpen {
		t.mu.Unlock()
		return
	}
	cancel := t.cancel
	t.conn, t.cancel = nil, nil
	t.state = StateClosed
	t.mu.Unlock()

	cancel()
	t.log.Info().Str("epoch", epoch).Int("code", int(closeErr.Code)).Str("reason", closeErr.Reason).Msg("ws closed by peer")
	t.emit(Event{Kind: EventClose, Epoch: epoch, Reason: closeErr.Reason})
}

// abort drops conn after an I/O failure. Only the caller that moves the transport out of
// the open state raises EventError, so a failure seen by both the reader and a writer is
// reported once.
func (t *Transport) abort(conn *websocket.Conn, err error) {
	t.mu.Lock()
	if t.conn != conn || t.state != StateOpen {
		t.mu.Unlock()
		return
	}
	t.state = StateAborted
	cancel, epoch := t.cancel, t.epoch
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	_ = conn.CloseNow()

	t.log.Warn().Err(err).Str("epoch", epoch).Msg("ws connection aborted")
	t.emit(Event{Kind: EventError, Epoch: epoch, Err: err})
}

func (t *Transport) emit(ev Event) {
	if t.disposed.Load() {
		return
	}
	t.events.Emit(ev)
}

// closeWithContext runs the closing handshake but gives up when ctx ends.
func closeWithContext(ctx context.Context, conn *websocket.Conn, reason string) error {
	done := make(chan error, 1)
	go func() {
		done <- conn.Close(websocket.StatusNormalClosure, reason)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		_ = conn.CloseNow()
		return ctx.Err()
	}
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
