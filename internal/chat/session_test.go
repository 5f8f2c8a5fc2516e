package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/vovakirdan/streamchat/internal/event"
	"github.com/vovakirdan/streamchat/internal/transport/ws"
)

// fakeTransport emits ws events synchronously from the calling goroutine.
type fakeTransport struct {
	mu         sync.Mutex
	connected  bool
	connectErr error
	uri        string
	sent       [][]byte
	disposed   bool
	reconnects chan struct{}
	events     event.Registry[ws.Event]
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{reconnects: make(chan struct{}, 16)}
}

func (f *fakeTransport) Connect(_ context.Context, uri string) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return ws.ErrAlreadyConnected
	}
	f.uri = uri
	if f.connectErr != nil {
		err := f.connectErr
		f.mu.Unlock()
		f.events.Emit(ws.Event{Kind: ws.EventError, Err: err})
		return err
	}
	f.connected = true
	f.mu.Unlock()

	f.events.Emit(ws.Event{Kind: ws.EventConnected, Epoch: "epoch"})
	return nil
}

func (f *fakeTransport) Reconnect(ctx context.Context) error {
	select {
	case f.reconnects <- struct{}{}:
	default:
	}
	time.Sleep(5 * time.Millisecond)
	f.mu.Lock()
	uri := f.uri
	f.mu.Unlock()
	return f.Connect(ctx, uri)
}

func (f *fakeTransport) Close(context.Context) error {
	f.mu.Lock()
	if !f.connected {
		f.mu.Unlock()
		return nil
	}
	f.connected = false
	f.mu.Unlock()

	f.events.Emit(ws.Event{Kind: ws.EventClose, Reason: "closed by user"})
	return nil
}

func (f *fakeTransport) Send(_ context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connected {
		f.sent = append(f.sent, data)
	}
	return nil
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Subscribe(fn func(ws.Event)) func() {
	return f.events.Subscribe(fn)
}

func (f *fakeTransport) Dispose() {
	f.mu.Lock()
	f.disposed = true
	f.connected = false
	f.mu.Unlock()
	f.events.Clear()
}

// drop simulates an abrupt connection loss.
func (f *fakeTransport) drop() {
	f.mu.Lock()
	f.connected = false
	f.mu.Unlock()
	f.events.Emit(ws.Event{Kind: ws.EventError, Err: ws.ErrConnectionLost})
}

func (f *fakeTransport) receive(payload string) {
	f.events.Emit(ws.Event{Kind: ws.EventMessage, Payload: []byte(payload), Text: true})
}

type call struct {
	op   string
	ch   Channel
	text string
	cred Credential
}

type fakeBackend struct {
	calls chan call

	mu       sync.Mutex
	conn     Conn
	userName string // when set, Authorize acknowledges immediately
	autoJoin bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{calls: make(chan call, 64), userName: "bot", autoJoin: true}
}

func (b *fakeBackend) Name() string { return "fake" }

func (b *fakeBackend) Authorize(_ context.Context, c Conn, cred Credential) error {
	b.mu.Lock()
	b.conn = c
	userName := b.userName
	b.mu.Unlock()
	if userName != "" {
		c.Authorized(userName)
	}
	b.calls <- call{op: "authorize", cred: cred}
	return nil
}

func (b *fakeBackend) Join(_ context.Context, c Conn, ch Channel) error {
	if b.confirms() {
		c.Joined(ch)
	}
	b.calls <- call{op: "join", ch: ch}
	return nil
}

func (b *fakeBackend) Unjoin(_ context.Context, c Conn, ch Channel) error {
	if b.confirms() {
		c.Parted(ch)
	}
	b.calls <- call{op: "unjoin", ch: ch}
	return nil
}

func (b *fakeBackend) SendMessage(_ context.Context, _ Conn, text string, ch Channel) error {
	b.calls <- call{op: "send", ch: ch, text: text}
	return nil
}

func (b *fakeBackend) Ping(context.Context, Conn) error {
	b.calls <- call{op: "ping"}
	return nil
}

func (b *fakeBackend) Handle(c Conn, payload []byte, _ bool) {
	ch := NewChannel("room")
	c.Deliver(Message{Channel: ch, UserName: "alice", Text: string(payload)})
}

func (b *fakeBackend) confirms() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.autoJoin
}

func (b *fakeBackend) set(userName string, autoJoin bool) {
	b.mu.Lock()
	b.userName = userName
	b.autoJoin = autoJoin
	b.mu.Unlock()
}

func (b *fakeBackend) lastConn() Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn
}

func mustCall(t *testing.T, calls <-chan call, op string) call {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case c := <-calls:
			if c.op == op {
				return c
			}
		case <-deadline:
			t.Fatalf("expected backend call %q not received", op)
			return call{}
		}
	}
}

func mustNoCall(t *testing.T, calls <-chan call, op string, wait time.Duration) {
	t.Helper()

	deadline := time.After(wait)
	for {
		select {
		case c := <-calls:
			if c.op == op {
				t.Fatalf("unexpected backend call %+v", c)
			}
		case <-deadline:
			return
		}
	}
}

func mustEvent(t *testing.T, ch <-chan Event, kind EventKind) Event {
	t.Helper()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return ev
			}
		case <-deadline:
			t.Fatalf("expected event kind %v not received", kind)
			return Event{}
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func newTestSession(t *testing.T, opts Options) (*Session, *fakeTransport, *fakeBackend, <-chan Event) {
	t.Helper()

	if opts.HeartbeatInterval == 0 {
		opts.HeartbeatInterval = time.Hour
	}
	if opts.RejoinDelay == 0 {
		opts.RejoinDelay = 10 * time.Millisecond
	}
	tr := newFakeTransport()
	be := newFakeBackend()
	s := NewSession(tr, be, opts)
	t.Cleanup(s.Dispose)

	events := make(chan Event, 64)
	s.Subscribe(func(ev Event) { events <- ev })
	return s, tr, be, events
}

// connectAuthorized connects and waits until the backend acknowledged authorization.
func connectAuthorized(t *testing.T, s *Session, be *fakeBackend) {
	t.Helper()

	if err := s.Connect(context.Background(), "ws://chat.test", NewCredential("bot", []byte("secret"))); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustCall(t, be.calls, "authorize")
	waitFor(t, "authorization", s.IsAuthorized)
}

func TestSessionConnectAuthorizes(t *testing.T) {
	s, _, be, events := newTestSession(t, Options{})
	cred := NewCredential("bot", []byte("secret"))

	if err := s.Connect(context.Background(), "ws://chat.test", cred); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustEvent(t, events, EventConnected)

	c := mustCall(t, be.calls, "authorize")
	if c.cred != Credential(cred) {
		t.Fatalf("authorize got credential %v, want %v", c.cred, cred)
	}
	waitFor(t, "authorization", s.IsAuthorized)
	if s.UserName() != "bot" {
		t.Fatalf("user name = %q, want bot", s.UserName())
	}
	if !s.IsConnected() {
		t.Fatal("expected session to be connected")
	}
}

func TestSessionConnectWhileConnectedIsNoop(t *testing.T) {
	s, tr, be, _ := newTestSession(t, Options{})
	connectAuthorized(t, s, be)

	if err := s.Connect(context.Background(), "ws://other.test", nil); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if tr.uri != "ws://chat.test" {
		t.Fatalf("transport uri = %q, want unchanged", tr.uri)
	}
	mustNoCall(t, be.calls, "authorize", 50*time.Millisecond)
}

func TestSessionGuardsRequireConnection(t *testing.T) {
	s, _, _, events := newTestSession(t, Options{})
	ctx := context.Background()
	ch := NewChannel("room")

	err := s.JoinChannel(ctx, ch)
	if !errors.Is(err, ErrInvalidConnection) {
		t.Fatalf("join while disconnected: got %v, want invalid connection", err)
	}
	ev := mustEvent(t, events, EventError)
	if ev.Error == nil || ev.Error.Code != InvalidConnection {
		t.Fatalf("unexpected error event: %+v", ev)
	}

	if err := s.SendMessage(ctx, "hi"); !errors.Is(err, ErrInvalidConnection) {
		t.Fatalf("send while disconnected: got %v", err)
	}
	if err := s.UnJoinChannel(ctx, ch); !errors.Is(err, ErrInvalidConnection) {
		t.Fatalf("unjoin while disconnected: got %v", err)
	}
}

func TestSessionGuardsRequireAuthorization(t *testing.T) {
	s, _, be, events := newTestSession(t, Options{})
	be.set("", true)

	if err := s.Connect(context.Background(), "ws://chat.test", nil); err != nil {
		t.Fatalf("connect: %v", err)
	}
	mustCall(t, be.calls, "authorize")

	err := s.JoinChannel(context.Background(), NewChannel("room"))
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("got %v, want not authorized", err)
	}
	ev := mustEvent(t, events, EventError)
	if ev.Error.Code != NotAuthorized {
		t.Fatalf("unexpected error code %v", ev.Error.Code)
	}
	mustNoCall(t, be.calls, "join", 50*time.Millisecond)
}

func TestSessionJoinWaitsForConfirmation(t *testing.T) {
	s, _, be, events := newTestSession(t, Options{})
	be.set("bot", false)
	connectAuthorized(t, s, be)

	ch := NewChannel("room")
	if err := s.JoinChannel(context.Background(), ch); err != nil {
		t.Fatalf("join: %v", err)
	}
	mustCall(t, be.calls, "join")
	if got := s.Channels(); len(got) != 0 {
		t.Fatalf("channel joined before confirmation: %v", got)
	}

	be.lastConn().Joined(ch)
	if got := s.Channels(); len(got) != 1 || got[0] != ch {
		t.Fatalf("channels = %v, want [%v]", got, ch)
	}

	err := s.JoinChannel(context.Background(), ch)
	if !errors.Is(err, ErrConnectionToSameChannel) {
		t.Fatalf("second join: got %v", err)
	}
	ev := mustEvent(t, events, EventError)
	if ev.Error.Code != ConnectionToSameChannel {
		t.Fatalf("unexpected error code %v", ev.Error.Code)
	}
	mustNoCall(t, be.calls, "join", 50*time.Millisecond)
}

func TestSessionUnjoin(t *testing.T) {
	s, _, be, _ := newTestSession(t, Options{})
	connectAuthorized(t, s, be)
	ctx := context.Background()
	ch := NewChannelWithID(7, "room")

	if err := s.UnJoinChannel(ctx, ch); !errors.Is(err, ErrNotFoundChannel) {
		t.Fatalf("unjoin of unknown channel: got %v", err)
	}

	if err := s.JoinChannel(ctx, ch); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.UnJoinChannel(ctx, ch); err != nil {
		t.Fatalf("unjoin: %v", err)
	}
	mustCall(t, be.calls, "unjoin")
	if got := s.Channels(); len(got) != 0 {
		t.Fatalf("channels after unjoin = %v", got)
	}
}

func TestSessionSendMessage(t *testing.T) {
	s, _, be, events := newTestSession(t, Options{})
	connectAuthorized(t, s, be)
	ctx := context.Background()

	if err := s.SendMessage(ctx, "hello"); !errors.Is(err, ErrEmptyChannelsList) {
		t.Fatalf("send with no channels: got %v", err)
	}
	mustEvent(t, events, EventError)

	b := NewChannel("b")
	a := NewChannel("a")
	for _, ch := range []Channel{b, a} {
		if err := s.JoinChannel(ctx, ch); err != nil {
			t.Fatalf("join %v: %v", ch, err)
		}
	}

	if err := s.SendMessage(ctx, "   "); err != nil {
		t.Fatalf("blank send: %v", err)
	}
	if err := s.SendMessage(ctx, "hello"); err != nil {
		t.Fatalf("send: %v", err)
	}
	first := mustCall(t, be.calls, "send")
	second := mustCall(t, be.calls, "send")
	if first.ch != a || second.ch != b {
		t.Fatalf("broadcast order = %v, %v; want a, b", first.ch, second.ch)
	}
	if first.text != "hello" {
		t.Fatalf("sent text %q", first.text)
	}
}

func TestSessionSendMessageTo(t *testing.T) {
	s, _, be, _ := newTestSession(t, Options{})
	connectAuthorized(t, s, be)
	ctx := context.Background()
	room := NewChannel("room")

	if err := s.SendMessageTo(ctx, "hi", room); !errors.Is(err, ErrNotFoundChannel) {
		t.Fatalf("send to unknown channel: got %v", err)
	}
	if err := s.SendMessageTo(ctx, "hi", Channel{}); !errors.Is(err, ErrInvalidChannel) {
		t.Fatalf("send to zero channel: got %v", err)
	}

	if err := s.JoinChannel(ctx, room); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := s.SendMessageTo(ctx, "hi", room); err != nil {
		t.Fatalf("send: %v", err)
	}
	c := mustCall(t, be.calls, "send")
	if c.ch != room || c.text != "hi" {
		t.Fatalf("unexpected send %+v", c)
	}
}

func TestSessionDeliversMessages(t *testing.T) {
	s, tr, be, events := newTestSession(t, Options{})
	connectAuthorized(t, s, be)

	tr.receive("hello there")
	ev := mustEvent(t, events, EventMessage)
	if ev.Message.Text != "hello there" || ev.Message.UserName != "alice" {
		t.Fatalf("unexpected message event %+v", ev)
	}
	if ev.Channel != NewChannel("room") {
		t.Fatalf("event channel = %v", ev.Channel)
	}
}

func TestSessionRejoinsAfterReconnect(t *testing.T) {
	s, tr, be, events := newTestSession(t, Options{})
	connectAuthorized(t, s, be)
	ctx := context.Background()

	a, b := NewChannel("a"), NewChannel("b")
	for _, ch := range []Channel{b, a} {
		if err := s.JoinChannel(ctx, ch); err != nil {
			t.Fatalf("join: %v", err)
		}
		mustCall(t, be.calls, "join")
	}
	be.set("bot", false)

	tr.drop()
	ev := mustEvent(t, events, EventError)
	if ev.Error.Code != InvalidConnection {
		t.Fatalf("unexpected error code %v", ev.Error.Code)
	}
	mustEvent(t, events, EventConnected)
	mustCall(t, be.calls, "authorize")

	first := mustCall(t, be.calls, "join")
	second := mustCall(t, be.calls, "join")
	if first.ch != a || second.ch != b {
		t.Fatalf("rejoin order = %v, %v; want a, b", first.ch, second.ch)
	}
	if got := s.Channels(); len(got) != 0 {
		t.Fatalf("channels before confirmation = %v", got)
	}

	// A second loss before confirmation rejoins the same set.
	tr.drop()
	mustEvent(t, events, EventConnected)
	mustCall(t, be.calls, "join")
	mustCall(t, be.calls, "join")

	conn := be.lastConn()
	conn.Joined(a)
	conn.Joined(b)
	if got := s.Channels(); len(got) != 2 {
		t.Fatalf("channels after confirmation = %v", got)
	}
}

func TestSessionRejoinAfterAuthWaitsForAcknowledgement(t *testing.T) {
	s, tr, be, _ := newTestSession(t, Options{RejoinAfterAuth: true, AuthTimeout: time.Hour})
	connectAuthorized(t, s, be)

	room := NewChannel("room")
	if err := s.JoinChannel(context.Background(), room); err != nil {
		t.Fatalf("join: %v", err)
	}
	mustCall(t, be.calls, "join")

	be.set("", true)
	tr.drop()
	mustCall(t, be.calls, "authorize")
	mustNoCall(t, be.calls, "join", 100*time.Millisecond)

	be.lastConn().Authorized("bot")
	c := mustCall(t, be.calls, "join")
	if c.ch != room {
		t.Fatalf("rejoined %v, want %v", c.ch, room)
	}
}

func TestSessionCloseStopsReconnect(t *testing.T) {
	s, tr, be, events := newTestSession(t, Options{})
	connectAuthorized(t, s, be)
	if err := s.JoinChannel(context.Background(), NewChannel("room")); err != nil {
		t.Fatalf("join: %v", err)
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	mustEvent(t, events, EventClose)
	if s.IsAuthorized() || s.UserName() != "" || len(s.Channels()) != 0 {
		t.Fatal("session state not cleared by close")
	}

	tr.drop()
	select {
	case <-tr.reconnects:
		t.Fatal("reconnect attempted after close")
	case <-time.After(100 * time.Millisecond):
	}

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestSessionConnectFailureKeepsRetrying(t *testing.T) {
	s, tr, be, events := newTestSession(t, Options{})
	tr.connectErr = ws.ErrConnectionLost

	err := s.Connect(context.Background(), "ws://chat.test", nil)
	if !errors.Is(err, ws.ErrConnectionLost) {
		t.Fatalf("connect: got %v", err)
	}
	mustEvent(t, events, EventError)

	select {
	case <-tr.reconnects:
	case <-time.After(2 * time.Second):
		t.Fatal("no reconnect attempt after connect failure")
	}

	tr.mu.Lock()
	tr.connectErr = nil
	tr.mu.Unlock()

	mustEvent(t, events, EventConnected)
	mustCall(t, be.calls, "authorize")
}

func TestSessionHeartbeat(t *testing.T) {
	s, _, be, _ := newTestSession(t, Options{HeartbeatInterval: 20 * time.Millisecond})
	connectAuthorized(t, s, be)

	mustCall(t, be.calls, "ping")
	mustCall(t, be.calls, "ping")

	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if s.heartbeat.Running() {
		t.Fatal("heartbeat still armed after close")
	}
}

func TestSessionRequest(t *testing.T) {
	s, _, be, _ := newTestSession(t, Options{})
	ctx := context.Background()

	called := false
	run := func(context.Context, Conn) error {
		called = true
		return nil
	}
	if err := s.Request(ctx, run); !errors.Is(err, ErrInvalidConnection) {
		t.Fatalf("request while disconnected: got %v", err)
	}
	if called {
		t.Fatal("request ran while disconnected")
	}

	connectAuthorized(t, s, be)
	if err := s.Request(ctx, run); err != nil {
		t.Fatalf("request: %v", err)
	}
	if !called {
		t.Fatal("request did not run")
	}
}

func TestSessionDispose(t *testing.T) {
	s, tr, be, _ := newTestSession(t, Options{})
	connectAuthorized(t, s, be)

	var got []EventKind
	s.Subscribe(func(ev Event) { got = append(got, ev.Kind) })

	s.Dispose()
	s.Dispose()

	if !tr.disposed {
		t.Fatal("transport not disposed")
	}
	if s.events.Len() != 0 {
		t.Fatalf("subscribers left after dispose: %d", s.events.Len())
	}

	ctx := context.Background()
	checks := map[string]error{
		"connect": s.Connect(ctx, "ws://chat.test", nil),
		"close":   s.Close(ctx),
		"join":    s.JoinChannel(ctx, NewChannel("room")),
		"unjoin":  s.UnJoinChannel(ctx, NewChannel("room")),
		"send":    s.SendMessage(ctx, "hi"),
		"sendto":  s.SendMessageTo(ctx, "hi", NewChannel("room")),
	}
	for name, err := range checks {
		if !errors.Is(err, ErrDisposed) {
			t.Errorf("%s after dispose: got %v, want ErrDisposed", name, err)
		}
	}
	if len(got) != 0 {
		t.Fatalf("events emitted after dispose: %v", got)
	}
}

func TestChatErrorIs(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", chatError(NotAuthorized, "You not authorized in chat."))
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatal("errors.Is should match by code")
	}
	if errors.Is(err, ErrInvalidConnection) {
		t.Fatal("errors.Is matched a different code")
	}
	var cerr *ChatError
	if !errors.As(err, &cerr) || cerr.Code.String() != "not_authorized" {
		t.Fatalf("errors.As: %+v", cerr)
	}
}
