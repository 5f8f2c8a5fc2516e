// Package chat is the protocol-independent session engine: it drives a transport, keeps the
// authorization and joined-channel state, schedules heartbeats and resynchronizes after a
// reconnect. Concrete protocols plug in through Backend.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/streamchat/internal/event"
	"github.com/vovakirdan/streamchat/internal/heartbeat"
	"github.com/vovakirdan/streamchat/internal/log"
	"github.com/vovakirdan/streamchat/internal/transport/ws"
	"github.com/vovakirdan/streamchat/internal/utils"
)

const (
	defaultRejoinDelay = 2 * time.Second
	defaultAuthTimeout = 10 * time.Second
)

// Transport is the connection a Session drives. *ws.Transport implements it.
type Transport interface {
	Connect(ctx context.Context, uri string) error
	Reconnect(ctx context.Context) error
	Close(ctx context.Context) error
	Send(ctx context.Context, data []byte) error
	IsConnected() bool
	Subscribe(fn func(ws.Event)) func()
	Dispose()
}

// Options tune a Session. Zero values pick defaults.
type Options struct {
	// HeartbeatInterval is the period of Backend.Ping while connected.
	HeartbeatInterval time.Duration
	// RejoinDelay is the wait between re-authorizing and re-joining after a reconnect.
	RejoinDelay time.Duration
	// RejoinAfterAuth makes the rejoin wait for the server's auth acknowledgement
	// (bounded by AuthTimeout) instead of the fixed RejoinDelay.
	RejoinAfterAuth bool
	AuthTimeout     time.Duration
	Logger          *zerolog.Logger
}

// Session is a chat client bound to one Transport and one Backend.
type Session struct {
	id        string
	transport Transport
	backend   Backend
	opts      Options
	log       *zerolog.Logger
	heartbeat *heartbeat.Scheduler
	conn      *sessionConn

	events      event.Registry[Event]
	unsubscribe func()

	// ctx lives until Dispose; activeCtx until Close.
	ctx          context.Context
	cancel       context.CancelFunc
	activeCtx    context.Context
	activeCancel context.CancelFunc

	mu         sync.RWMutex
	credential Credential
	active     bool
	disposed   bool
	authorized bool
	userName   string
	channels   map[Channel]struct{}
	rejoin     map[Channel]struct{}
	authDone   chan struct{}
}

// NewSession subscribes to transport and returns an idle session.
func NewSession(transport Transport, backend Backend, opts Options) *Session {
	if opts.RejoinDelay <= 0 {
		opts.RejoinDelay = defaultRejoinDelay
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = defaultAuthTimeout
	}

	id := utils.ShortID()
	logger := log.OrNop(opts.Logger).With().
		Str("session", id).
		Str("backend", backend.Name()).
		Logger()

	ctx, cancel := context.WithCancel(context.Background())
	activeCtx, activeCancel := context.WithCancel(ctx)

	s := &Session{
		id:           id,
		transport:    transport,
		backend:      backend,
		opts:         opts,
		log:          &logger,
		ctx:          ctx,
		cancel:       cancel,
		activeCtx:    activeCtx,
		activeCancel: activeCancel,
		channels:     make(map[Channel]struct{}),
		rejoin:       make(map[Channel]struct{}),
	}
	s.conn = &sessionConn{s: s}
	s.heartbeat = heartbeat.New(opts.HeartbeatInterval, s.ping)
	s.unsubscribe = transport.Subscribe(s.onTransportEvent)
	return s
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// Backend returns the protocol backend.
func (s *Session) Backend() Backend {
	return s.backend
}

// Subscribe registers fn for every session event and returns a function that removes it.
func (s *Session) Subscribe(fn func(Event)) func() {
	return s.events.Subscribe(fn)
}

// IsConnected reports whether the transport is open.
func (s *Session) IsConnected() bool {
	return s.transport.IsConnected()
}

// IsAuthorized reports whether the server acknowledged our credentials on this connection.
func (s *Session) IsAuthorized() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authorized
}

// UserName returns the name the server reported on authorization.
func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userName
}

// Channels returns the confirmed joined channels, sorted by name then id.
func (s *Session) Channels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedChannels(s.channels)
}

// Connect opens the transport. Authorization starts automatically once connected, using
// cred; a nil cred asks the backend for anonymous access. Connect is a no-op while the
// transport is open.
func (s *Session) Connect(ctx context.Context, uri string, cred Credential) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	if s.transport.IsConnected() {
		s.mu.Unlock()
		return nil
	}
	s.credential = cred
	s.active = true
	if s.activeCtx.Err() != nil {
		s.activeCtx, s.activeCancel = context.WithCancel(s.ctx)
	}
	s.mu.Unlock()

	if exp, ok := cred.(expiring); ok {
		if at, has := exp.ExpiresAt(); has && time.Now().After(at) {
			s.log.Warn().Time("expired_at", at).Msg("credential token is expired")
		}
	}

	s.log.Info().Str("uri", uri).Msg("connecting")
	if err := s.transport.Connect(ctx, uri); err != nil {
		return fmt.Errorf("chat: connect: %w", err)
	}
	return nil
}

// Close clears the session state and closes the transport. It is idempotent.
func (s *Session) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return ErrDisposed
	}
	s.active = false
	s.activeCancel()
	s.resetLocked()
	s.mu.Unlock()

	s.heartbeat.Stop()
	return s.transport.Close(ctx)
}

// Dispose releases the transport and drops every subscriber. Any later call returns
// ErrDisposed.
func (s *Session) Dispose() {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	s.disposed = true
	s.active = false
	s.resetLocked()
	s.mu.Unlock()

	s.cancel()
	s.unsubscribe()
	s.heartbeat.Stop()
	s.transport.Dispose()
	s.events.Clear()
}

// JoinChannel asks the server to join ch. The channel shows up in Channels only after the
// server confirms the join.
func (s *Session) JoinChannel(ctx context.Context, ch Channel) error {
	if err := s.checkCall(ch); err != nil {
		return err
	}
	if cerr := s.checkAuthenticated(); cerr != nil {
		return cerr
	}
	if s.isJoined(ch) {
		return s.report(ConnectionToSameChannel,
			fmt.Sprintf("The attempt to connect to the same channel - %s in chat.", ch))
	}
	return s.backend.Join(ctx, s.conn, ch)
}

// UnJoinChannel asks the server to leave ch. The channel leaves Channels when the server
// confirms.
func (s *Session) UnJoinChannel(ctx context.Context, ch Channel) error {
	if err := s.checkCall(ch); err != nil {
		return err
	}
	if cerr := s.checkAuthenticated(); cerr != nil {
		return cerr
	}
	if !s.isJoined(ch) {
		return s.report(NotFoundChannel,
			fmt.Sprintf("The attempt to unjoin not added channel - %s.", ch))
	}
	return s.backend.Unjoin(ctx, s.conn, ch)
}

// SendMessage sends text to every joined channel. Blank text is ignored.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cerr := s.checkAuthenticated(); cerr != nil {
		return cerr
	}

	channels := s.Channels()
	if len(channels) == 0 {
		return s.report(EmptyChannelsList, "Error on send message: Channels list is empty.")
	}

	var errs []error
	for _, ch := range channels {
		if err := s.backend.SendMessage(ctx, s.conn, text, ch); err != nil {
			errs = append(errs, fmt.Errorf("send to %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

// SendMessageTo sends text to one joined channel. Blank text is ignored.
func (s *Session) SendMessageTo(ctx context.Context, text string, ch Channel) error {
	if err := s.checkCall(ch); err != nil {
		return err
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if cerr := s.checkAuthenticated(); cerr != nil {
		return cerr
	}
	if !s.isJoined(ch) {
		return s.report(NotFoundChannel,
			fmt.Sprintf("Error on send message: Channel - %s not found.", ch))
	}
	return s.backend.SendMessage(ctx, s.conn, text, ch)
}

// Request runs a backend-specific command (history retrieval and the like) under the same
// connection and authorization checks as the built-in operations.
func (s *Session) Request(ctx context.Context, fn func(ctx context.Context, c Conn) error) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	if cerr := s.checkAuthenticated(); cerr != nil {
		return cerr
	}
	return fn(ctx, s.conn)
}

func (s *Session) onTransportEvent(ev ws.Event) {
	switch ev.Kind {
	case ws.EventConnected:
		s.onConnected(ev.Epoch)
	case ws.EventClose:
		s.onClose(ev.Reason)
	case ws.EventError:
		s.onError(ev.Err)
	case ws.EventMessage:
		s.backend.Handle(s.conn, ev.Payload, ev.Text)
	}
}

func (s *Session) onConnected(epoch string) {
	s.mu.Lock()
	if s.disposed {
		s.mu.Unlock()
		return
	}
	if !s.active {
		// Closed while a reconnect was in flight.
		s.mu.Unlock()
		s.goAsync(func(ctx context.Context) { _ = s.transport.Close(ctx) })
		return
	}
	for ch := range s.channels {
		s.rejoin[ch] = struct{}{}
	}
	rejoin := sortedChannels(s.rejoin)
	s.channels = make(map[Channel]struct{})
	s.authorized = false
	s.userName = ""
	cred := s.credential
	authDone := make(chan struct{})
	s.authDone = authDone
	s.mu.Unlock()

	s.log.Info().Str("epoch", epoch).Int("rejoin", len(rejoin)).Msg("connected")
	s.heartbeat.Start()
	s.goAsync(func(ctx context.Context) {
		s.authorizeAndRejoin(ctx, cred, rejoin, authDone)
	})
	s.emit(Event{Kind: EventConnected})
}

func (s *Session) authorizeAndRejoin(ctx context.Context, cred Credential, rejoin []Channel, authDone <-chan struct{}) {
	if err := s.backend.Authorize(ctx, s.conn, cred); err != nil {
		s.log.Error().Err(err).Msg("authorize failed")
		return
	}
	if len(rejoin) == 0 {
		return
	}

	wait := s.opts.RejoinDelay
	if s.opts.RejoinAfterAuth {
		wait = s.opts.AuthTimeout
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()

	if s.opts.RejoinAfterAuth {
		select {
		case <-authDone:
		case <-timer.C:
			s.log.Warn().Dur("timeout", wait).Msg("no auth acknowledgement, rejoining anyway")
		case <-ctx.Done():
			return
		}
	} else {
		select {
		case <-timer.C:
		case <-ctx.Done():
			return
		}
	}

	for _, ch := range rejoin {
		if !s.transport.IsConnected() {
			return
		}
		if err := s.backend.Join(ctx, s.conn, ch); err != nil {
			s.log.Warn().Err(err).Stringer("channel", ch).Msg("rejoin failed")
		}
	}
}

func (s *Session) onClose(reason string) {
	s.heartbeat.Stop()

	s.mu.Lock()
	s.authorized = false
	s.mu.Unlock()

	s.log.Info().Str("reason", reason).Msg("connection closed")
	s.emit(Event{Kind: EventClose, Reason: reason})
}

func (s *Session) onError(err error) {
	s.heartbeat.Stop()

	msg := "Connection to the server was unexpectedly interrupted."
	if err != nil {
		msg = err.Error()
	}
	s.report(InvalidConnection, msg)

	s.mu.RLock()
	reconnect := s.active && !s.disposed
	ctx := s.activeCtx
	s.mu.RUnlock()

	if !reconnect || s.transport.IsConnected() {
		return
	}
	go func() {
		if err := s.transport.Reconnect(ctx); err != nil && ctx.Err() == nil {
			s.log.Warn().Err(err).Msg("reconnect attempt failed")
		}
	}()
}

func (s *Session) ping() {
	if !s.transport.IsConnected() {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.heartbeat.Interval())
	defer cancel()
	if err := s.backend.Ping(ctx, s.conn); err != nil {
		s.log.Debug().Err(err).Msg("heartbeat failed")
	}
}

func (s *Session) checkCall(ch Channel) error {
	if s.isDisposed() {
		return ErrDisposed
	}
	if ch.IsZero() {
		return ErrInvalidChannel
	}
	return nil
}

// checkAuthenticated reports InvalidConnection or NotAuthorized, in that order.
func (s *Session) checkAuthenticated() *ChatError {
	if !s.transport.IsConnected() {
		return s.report(InvalidConnection, "You not connected to chat.")
	}
	if !s.IsAuthorized() {
		return s.report(NotAuthorized, "You not authorized in chat.")
	}
	return nil
}

func (s *Session) report(code ErrorCode, msg string) *ChatError {
	cerr := chatError(code, msg)
	if code == InvalidConnection {
		s.mu.Lock()
		s.authorized = false
		s.mu.Unlock()
	}
	s.log.Warn().Stringer("code", code).Msg(msg)
	s.emit(Event{Kind: EventError, Error: cerr})
	return cerr
}

func (s *Session) isJoined(ch Channel) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.channels[ch]
	return ok
}

func (s *Session) isDisposed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.disposed
}

// resetLocked clears all per-connection state. s.mu must be held.
func (s *Session) resetLocked() {
	s.authorized = false
	s.userName = ""
	s.credential = nil
	s.channels = make(map[Channel]struct{})
	s.rejoin = make(map[Channel]struct{})
	s.authDone = nil
}

func (s *Session) goAsync(fn func(ctx context.Context)) {
	ctx := s.ctx
	go fn(ctx)
}

func (s *Session) emit(ev Event) {
	s.events.Emit(ev)
}

// sessionConn is the Conn handed to the backend.
type sessionConn struct {
	s *Session
}

func (c *sessionConn) Send(ctx context.Context, payload []byte) error {
	return c.s.transport.Send(ctx, payload)
}

func (c *sessionConn) Authorized(userName string) {
	s := c.s
	s.mu.Lock()
	s.authorized = true
	s.userName = userName
	if s.authDone != nil {
		close(s.authDone)
		s.authDone = nil
	}
	s.mu.Unlock()

	s.log.Info().Str("user", userName).Msg("authorized")
}

func (c *sessionConn) Joined(ch Channel) {
	s := c.s
	s.mu.Lock()
	s.channels[ch] = struct{}{}
	delete(s.rejoin, ch)
	s.mu.Unlock()

	s.log.Info().Stringer("channel", ch).Msg("joined")
}

func (c *sessionConn) Parted(ch Channel) {
	s := c.s
	s.mu.Lock()
	delete(s.channels, ch)
	delete(s.rejoin, ch)
	s.mu.Unlock()

	s.log.Info().Stringer("channel", ch).Msg("parted")
}

func (c *sessionConn) Channels() []Channel {
	return c.s.Channels()
}

func (c *sessionConn) UserName() string {
	return c.s.UserName()
}

func (c *sessionConn) Deliver(msg Message) {
	c.s.emit(Event{Kind: EventMessage, Channel: msg.Channel, Message: msg})
}

func (c *sessionConn) DeliverHistory(ch Channel, msgs []Message) {
	c.s.emit(Event{Kind: EventHistory, Channel: ch, Messages: msgs})
}

func (c *sessionConn) Report(code ErrorCode, msg string) *ChatError {
	return c.s.report(code, msg)
}

func (c *sessionConn) Go(fn func(ctx context.Context)) {
	c.s.goAsync(fn)
}

func (c *sessionConn) Logger() *zerolog.Logger {
	return c.s.log
}
