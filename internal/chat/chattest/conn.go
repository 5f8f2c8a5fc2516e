// Package chattest provides a recording chat.Conn for backend tests.
package chattest

import (
	"context"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/streamchat/internal/chat"
	"github.com/vovakirdan/streamchat/internal/log"
)

// Conn records everything a backend does to its session. Frames passed to Send are also
// copied to Sent so tests can wait for asynchronous replies.
type Conn struct {
	Sent chan []byte

	mu         sync.Mutex
	authorized bool
	userName   string
	channels   []chat.Channel
	messages   []chat.Message
	history    map[chat.Channel][]chat.Message
	reports    []*chat.ChatError
}

// NewConn returns an empty recording Conn.
func NewConn() *Conn {
	return &Conn{
		Sent:    make(chan []byte, 64),
		history: make(map[chat.Channel][]chat.Message),
	}
}

func (c *Conn) Send(_ context.Context, payload []byte) error {
	c.Sent <- append([]byte(nil), payload...)
	return nil
}

func (c *Conn) Authorized(userName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authorized = true
	c.userName = userName
}

func (c *Conn) Joined(ch chat.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !slices.Contains(c.channels, ch) {
		c.channels = append(c.channels, ch)
	}
}

func (c *Conn) Parted(ch chat.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.channels = slices.DeleteFunc(c.channels, func(x chat.Channel) bool { return x == ch })
}

func (c *Conn) Channels() []chat.Channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.channels)
}

func (c *Conn) UserName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userName
}

func (c *Conn) Deliver(msg chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
}

func (c *Conn) DeliverHistory(ch chat.Channel, msgs []chat.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[ch] = append(c.history[ch], msgs...)
}

func (c *Conn) Report(code chat.ErrorCode, msg string) *chat.ChatError {
	err := &chat.ChatError{Code: code, Message: msg}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, err)
	return err
}

func (c *Conn) Go(fn func(ctx context.Context)) {
	go fn(context.Background())
}

func (c *Conn) Logger() *zerolog.Logger {
	return log.OrNop(nil)
}

// IsAuthorized reports whether the backend acknowledged authorization.
func (c *Conn) IsAuthorized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authorized
}

// Messages returns the delivered messages.
func (c *Conn) Messages() []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages)
}

// History returns the backlog delivered for ch.
func (c *Conn) History(ch chat.Channel) []chat.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history[ch])
}

// Reports returns the reported errors.
func (c *Conn) Reports() []*chat.ChatError {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.reports)
}

// NextSent waits for the next frame handed to Send.
func (c *Conn) NextSent(t testing.TB) []byte {
	t.Helper()
	select {
	case b := <-c.Sent:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("nothing was sent")
		return nil
	}
}

// NoneSent fails if anything was sent within wait.
func (c *Conn) NoneSent(t testing.TB, wait time.Duration) {
	t.Helper()
	select {
	case b := <-c.Sent:
		t.Fatalf("unexpected frame %q", b)
	case <-time.After(wait):
	}
}
