// Package twitch implements the IRC-based chat protocol spoken by tmi.twitch.tv.
package twitch

import (
	"bytes"
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/streamchat/internal/chat"
	"github.com/vovakirdan/streamchat/internal/proto/irc"
)

const (
	// Name identifies the backend in config and logs.
	Name = "twitch"
	// DefaultURI is the public chat endpoint.
	DefaultURI = "wss://irc-ws.chat.twitch.tv:443"

	serverName = "tmi.twitch.tv"
)

// palette colors users that never picked a chat color.
var palette = []string{
	"#FF0000", "#0000FF", "#008000",
	"#FF7F50", "#B22222", "#9ACD32",
	"#FF4500", "#2E8B57", "#DAA520",
	"#D2691E", "#5F9EA0", "#1E90FF",
	"#FF69B4", "#8A2BE2", "#00FF7F",
}

var authFailures = []string{
	"Login authentication failed",
	"Improperly formatted auth",
}

// Channel returns the channel for a twitch login, normalized the way the server echoes it.
func Channel(name string) chat.Channel {
	return chat.NewChannel(strings.ToLower(strings.TrimPrefix(strings.TrimSpace(name), "#")))
}

// Backend is a chat.Backend for one session. It remembers the login nick so it can tell its
// own JOIN/PART echoes apart from other users', and pending joins so the server's lowercase
// echo maps back to the channel value the caller used.
type Backend struct {
	router *chat.Router[irc.Message]

	mu      sync.Mutex
	nick    string
	pending map[string]chat.Channel
}

// New returns a twitch backend.
func New() *Backend {
	b := &Backend{
		router:  chat.NewRouter[irc.Message](),
		pending: make(map[string]chat.Channel),
	}
	b.router.Handle("GLOBALUSERSTATE", b.handleGlobalUserState)
	b.router.Handle("JOIN", b.handleJoin)
	b.router.Handle("PART", b.handlePart)
	b.router.Handle("PING", b.handlePing)
	b.router.Handle("PRIVMSG", b.handlePrivmsg)
	b.router.Handle("NOTICE", b.handleNotice)
	b.router.Handle("RECONNECT", b.handleReconnect)
	return b
}

func (b *Backend) Name() string {
	return Name
}

// Authorize requests the tags and commands capabilities, then logs in with PASS/NICK/USER.
func (b *Backend) Authorize(ctx context.Context, c chat.Conn, cred chat.Credential) error {
	if cred == nil {
		return fmt.Errorf("twitch: authorize: %w", chat.ErrNoCredential)
	}
	user := strings.ToLower(cred.User())

	b.mu.Lock()
	b.nick = user
	b.mu.Unlock()

	if err := b.send(ctx, c, irc.Message{
		Command:  "CAP",
		Middle:   []string{"REQ"},
		Trailing: "twitch.tv/tags twitch.tv/commands",
	}); err != nil {
		return err
	}
	if err := b.sendPass(ctx, c, cred); err != nil {
		return err
	}
	if err := b.send(ctx, c, irc.Message{Command: "NICK", Middle: []string{user}}); err != nil {
		return err
	}
	return b.send(ctx, c, irc.Message{
		Command:  "USER",
		Middle:   []string{user, "8", "*"},
		Trailing: user,
	})
}

// sendPass writes the PASS line straight from the token bytes and clears both buffers.
func (b *Backend) sendPass(ctx context.Context, c chat.Conn, cred chat.Credential) error {
	token := cred.Token()
	defer clear(token)

	if len(token) == 0 || token[0] == ':' || bytes.ContainsAny(token, " \r\n") {
		return fmt.Errorf("twitch: pass: %w", irc.ErrInvalidParam)
	}

	line := make([]byte, 0, len("PASS \r\n")+len(token))
	line = append(line, "PASS "...)
	line = append(line, token...)
	line = append(line, "\r\n"...)
	defer clear(line)

	return c.Send(ctx, line)
}

// Join sends JOIN for the lowercased channel name. The server's JOIN echo confirms it.
func (b *Backend) Join(ctx context.Context, c chat.Conn, ch chat.Channel) error {
	name := strings.ToLower(ch.Name())
	if name == "" {
		return chat.ErrInvalidChannel
	}
	if _, joined := joinedChannel(c, name); joined {
		return c.Report(chat.ConnectionToSameChannel,
			fmt.Sprintf("The attempt to connect to the same channel - %s in chat.", ch))
	}

	b.mu.Lock()
	b.pending[name] = ch
	b.mu.Unlock()

	return b.send(ctx, c, irc.Message{Command: "JOIN", Middle: []string{"#" + name}})
}

func (b *Backend) Unjoin(ctx context.Context, c chat.Conn, ch chat.Channel) error {
	return b.send(ctx, c, irc.Message{Command: "PART", Middle: []string{"#" + strings.ToLower(ch.Name())}})
}

func (b *Backend) SendMessage(ctx context.Context, c chat.Conn, text string, ch chat.Channel) error {
	return b.send(ctx, c, irc.Message{
		Command:  "PRIVMSG",
		Middle:   []string{"#" + strings.ToLower(ch.Name())},
		Trailing: text,
	})
}

func (b *Backend) Ping(ctx context.Context, c chat.Conn) error {
	return b.send(ctx, c, irc.Message{Command: "PING", Trailing: serverName})
}

// Handle parses every line of a text frame and routes it by command.
func (b *Backend) Handle(c chat.Conn, payload []byte, text bool) {
	if !text {
		return
	}
	for _, m := range irc.Parse(string(payload)) {
		if !b.router.Dispatch(c, m.Command, m) {
			c.Logger().Trace().Str("command", m.Command).Msg("unhandled")
		}
	}
}

func (b *Backend) handleGlobalUserState(c chat.Conn, m irc.Message) {
	name := irc.UnescapeTagValue(m.Tags.Value("display-name"))
	if name == "" {
		b.mu.Lock()
		name = b.nick
		b.mu.Unlock()
	}
	c.Authorized(name)
}

func (b *Backend) handleJoin(c chat.Conn, m irc.Message) {
	name, ok := b.ownChannelEvent(m)
	if !ok {
		return
	}

	b.mu.Lock()
	ch, found := b.pending[name]
	delete(b.pending, name)
	b.mu.Unlock()

	if !found {
		ch = chat.NewChannel(name)
	}
	c.Joined(ch)
}

func (b *Backend) handlePart(c chat.Conn, m irc.Message) {
	name, ok := b.ownChannelEvent(m)
	if !ok {
		return
	}
	if ch, joined := joinedChannel(c, name); joined {
		c.Parted(ch)
	}
}

func (b *Backend) handlePing(c chat.Conn, m irc.Message) {
	answer := m.Trailing
	if answer == "" {
		answer = serverName
	}
	c.Go(func(ctx context.Context) {
		if err := b.send(ctx, c, irc.Message{Command: "PONG", Trailing: answer}); err != nil {
			c.Logger().Debug().Err(err).Msg("pong failed")
		}
	})
}

func (b *Backend) handlePrivmsg(c chat.Conn, m irc.Message) {
	ch, ok := joinedChannel(c, channelName(m))
	if !ok {
		return
	}

	user := irc.UnescapeTagValue(m.Tags.Value("display-name"))
	if user == "" {
		user = m.Nick()
	}
	color := m.Tags.Value("color")
	if color == "" {
		color = paletteColor(user)
	}

	c.Deliver(chat.Message{
		ID:        m.Tags.Value("id"),
		Channel:   ch,
		UserName:  user,
		UserColor: color,
		Text:      m.Trailing,
		CreatedAt: sentAt(m),
	})
}

func (b *Backend) handleNotice(c chat.Conn, m irc.Message) {
	for _, failure := range authFailures {
		if strings.Contains(m.Trailing, failure) {
			c.Report(chat.NotAuthorized, m.Trailing)
			return
		}
	}
	c.Logger().Info().Str("notice", m.Trailing).Str("msg_id", m.Tags.Value("msg-id")).Msg("server notice")
}

func (b *Backend) handleReconnect(c chat.Conn, _ irc.Message) {
	c.Logger().Warn().Msg("server requested reconnect")
}

// ownChannelEvent returns the lowercase channel name of a JOIN/PART sent by our own nick.
func (b *Backend) ownChannelEvent(m irc.Message) (string, bool) {
	name := channelName(m)
	if name == "" {
		return "", false
	}
	b.mu.Lock()
	nick := b.nick
	b.mu.Unlock()
	if nick != "" && !strings.EqualFold(m.Nick(), nick) {
		return "", false
	}
	return name, true
}

func (b *Backend) send(ctx context.Context, c chat.Conn, m irc.Message) error {
	line, err := irc.Line(m)
	if err != nil {
		return fmt.Errorf("twitch: %s: %w", m.Command, err)
	}
	return c.Send(ctx, line)
}

func channelName(m irc.Message) string {
	return strings.ToLower(strings.TrimPrefix(m.Param(0), "#"))
}

func joinedChannel(c chat.Conn, name string) (chat.Channel, bool) {
	if name == "" {
		return chat.Channel{}, false
	}
	for _, ch := range c.Channels() {
		if strings.EqualFold(ch.Name(), name) {
			return ch, true
		}
	}
	return chat.Channel{}, false
}

func paletteColor(user string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(user)))
	return palette[h.Sum32()%uint32(len(palette))]
}

func sentAt(m irc.Message) time.Time {
	if ms, err := strconv.ParseInt(m.Tags.Value("tmi-sent-ts"), 10, 64); err == nil {
		return time.UnixMilli(ms)
	}
	return time.Now()
}
