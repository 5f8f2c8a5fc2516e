// Package goodgame implements the JSON chat protocol of goodgame.ru: every frame is a
// {"type": ..., "data": {...}} envelope and channels are addressed by numeric id.
package goodgame

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vovakirdan/streamchat/internal/chat"
	"github.com/vovakirdan/streamchat/internal/proto/envelope"
)

const (
	// Name identifies the backend in config and logs.
	Name = "goodgame"
	// DefaultURI is the public chat endpoint.
	DefaultURI = "wss://chat-1.goodgame.ru/chat2/"
)

// colors maps the server's nickname classes to display colors.
var colors = map[string]string{
	"streamer":         "#e8bb00",
	"simple":           "#73adff",
	"bronze":           "#e7820a",
	"silver":           "#b4b4b4",
	"gold":             "#eefc08",
	"diamond":          "#8781bd",
	"king":             "#30d5c8",
	"top-one":          "#3BCBFF",
	"moderator":        "#ec4058",
	"premium-personal": "#31a93a",
}

// Requester runs a command under the session's connection and authorization checks.
// *chat.Session implements it.
type Requester interface {
	Request(ctx context.Context, fn func(ctx context.Context, c chat.Conn) error) error
}

// Backend is a chat.Backend for one session. Pending joins are remembered so the server's
// confirmation maps back to the channel value the caller used.
type Backend struct {
	router *chat.Router[[]byte]

	mu      sync.Mutex
	pending map[int64]chat.Channel
}

// New returns a goodgame backend.
func New() *Backend {
	b := &Backend{
		router:  chat.NewRouter[[]byte](),
		pending: make(map[int64]chat.Channel),
	}
	b.router.Handle(TypeWelcome, b.handleWelcome)
	b.router.Handle(TypeSuccessAuth, b.handleSuccessAuth)
	b.router.Handle(TypeSuccessJoin, b.handleSuccessJoin)
	b.router.Handle(TypeSuccessUnjoin, b.handleSuccessUnjoin)
	b.router.Handle(TypeMessage, b.handleMessage)
	b.router.Handle(TypeHistory, b.handleHistory)
	b.router.Handle(TypePing, b.handlePing)
	b.router.Handle(TypeError, b.handleError)
	return b
}

func (b *Backend) Name() string {
	return Name
}

// Authorize sends the auth frame. A nil credential authorizes an anonymous reader; the user
// of a real credential must be the numeric account id.
func (b *Backend) Authorize(ctx context.Context, c chat.Conn, cred chat.Credential) error {
	var data AuthData
	if cred != nil {
		id, err := strconv.ParseInt(cred.User(), 10, 64)
		if err != nil {
			return fmt.Errorf("goodgame: authorize: user %q is not a numeric id", cred.User())
		}
		token := cred.Token()
		data = AuthData{UserID: id, Token: string(token)}
		clear(token)
	}
	return b.send(ctx, c, TypeAuth, data)
}

func (b *Backend) Join(ctx context.Context, c chat.Conn, ch chat.Channel) error {
	id, ok := ch.ID()
	if !ok {
		return fmt.Errorf("%w: goodgame channels need an id", chat.ErrInvalidChannel)
	}
	if _, joined := joinedChannel(c, id); joined {
		return c.Report(chat.ConnectionToSameChannel,
			fmt.Sprintf("The attempt to connect to the same channel - %s in chat.", ch))
	}

	b.mu.Lock()
	b.pending[id] = ch
	b.mu.Unlock()

	return b.send(ctx, c, TypeJoin, JoinData{ChannelID: id})
}

func (b *Backend) Unjoin(ctx context.Context, c chat.Conn, ch chat.Channel) error {
	id, ok := ch.ID()
	if !ok {
		return fmt.Errorf("%w: goodgame channels need an id", chat.ErrInvalidChannel)
	}
	return b.send(ctx, c, TypeUnjoin, UnjoinData{ChannelID: id})
}

func (b *Backend) SendMessage(ctx context.Context, c chat.Conn, text string, ch chat.Channel) error {
	id, ok := ch.ID()
	if !ok {
		return fmt.Errorf("%w: goodgame channels need an id", chat.ErrInvalidChannel)
	}
	return b.send(ctx, c, TypeSendMessage, SendMessageData{ChannelID: id, Text: text})
}

func (b *Backend) Ping(ctx context.Context, c chat.Conn) error {
	return b.send(ctx, c, TypePing, nil)
}

// RequestHistory asks for the backlog of a joined channel. The reply arrives as
// chat.EventHistory.
func (b *Backend) RequestHistory(ctx context.Context, r Requester, ch chat.Channel, from int64) error {
	id, ok := ch.ID()
	if !ok {
		return fmt.Errorf("%w: goodgame channels need an id", chat.ErrInvalidChannel)
	}
	return r.Request(ctx, func(ctx context.Context, c chat.Conn) error {
		if _, joined := joinedChannel(c, id); !joined {
			return c.Report(chat.NotJoinedToChannel,
				fmt.Sprintf("You not joined to channel - %s.", ch))
		}
		return b.send(ctx, c, TypeGetHistory, HistoryRequest{ChannelID: id, From: from})
	})
}

// Handle routes a text frame by its "type" field.
func (b *Backend) Handle(c chat.Conn, payload []byte, text bool) {
	if !text || len(payload) == 0 {
		return
	}
	typ, err := envelope.Probe(payload)
	if err != nil {
		c.Logger().Debug().Err(err).Msg("frame without type")
		return
	}
	if !b.router.Dispatch(c, typ, payload) {
		c.Logger().Trace().Str("type", typ).Msg("unhandled")
	}
}

func (b *Backend) handleWelcome(c chat.Conn, payload []byte) {
	data, ok := decode[WelcomeData](c, TypeWelcome, payload)
	if !ok {
		return
	}
	c.Logger().Info().
		Float64("protocol", data.ProtocolVersion).
		Str("server", data.ServerIdent).
		Msg("welcome")
}

func (b *Backend) handleSuccessAuth(c chat.Conn, payload []byte) {
	data, ok := decode[SuccessAuthData](c, TypeSuccessAuth, payload)
	if !ok {
		return
	}
	c.Authorized(data.UserName)
}

func (b *Backend) handleSuccessJoin(c chat.Conn, payload []byte) {
	data, ok := decode[SuccessJoinData](c, TypeSuccessJoin, payload)
	if !ok {
		return
	}

	b.mu.Lock()
	ch, found := b.pending[data.ChannelID]
	delete(b.pending, data.ChannelID)
	b.mu.Unlock()

	if !found {
		ch = chat.NewChannelWithID(data.ChannelID, data.ChannelName)
	}
	if data.IsBanned {
		c.Logger().Warn().Stringer("channel", ch).Msg("joined while banned")
	}
	c.Joined(ch)
}

func (b *Backend) handleSuccessUnjoin(c chat.Conn, payload []byte) {
	data, ok := decode[SuccessUnjoinData](c, TypeSuccessUnjoin, payload)
	if !ok {
		return
	}
	if ch, joined := joinedChannel(c, data.ChannelID); joined {
		c.Parted(ch)
	}
}

func (b *Backend) handleMessage(c chat.Conn, payload []byte) {
	data, ok := decode[MessageData](c, TypeMessage, payload)
	if !ok {
		return
	}
	ch, joined := joinedChannel(c, data.ChannelID)
	if !joined {
		return
	}
	c.Deliver(toMessage(ch, data))
}

func (b *Backend) handleHistory(c chat.Conn, payload []byte) {
	data, ok := decode[HistoryData](c, TypeHistory, payload)
	if !ok {
		return
	}
	ch, joined := joinedChannel(c, data.ChannelID)
	if !joined {
		ch = chat.NewChannelWithID(data.ChannelID, "")
	}
	msgs := make([]chat.Message, 0, len(data.Messages))
	for _, m := range data.Messages {
		msgs = append(msgs, toMessage(ch, m))
	}
	c.DeliverHistory(ch, msgs)
}

func (b *Backend) handlePing(c chat.Conn, _ []byte) {
	c.Go(func(ctx context.Context) {
		if err := b.send(ctx, c, TypePong, PongData{Answer: "pong"}); err != nil {
			c.Logger().Debug().Err(err).Msg("pong failed")
		}
	})
}

func (b *Backend) handleError(c chat.Conn, payload []byte) {
	data, ok := decode[ErrorData](c, TypeError, payload)
	if !ok {
		return
	}
	c.Logger().Warn().
		Int64("channel_id", data.ChannelID).
		Int("error_num", data.ErrorNum).
		Str("error", data.ErrorMsg).
		Msg("server error")
}

func (b *Backend) send(ctx context.Context, c chat.Conn, typ string, data any) error {
	frame, err := envelope.Encode(typ, data)
	if err != nil {
		return fmt.Errorf("goodgame: %w", err)
	}
	defer clear(frame)
	return c.Send(ctx, frame)
}

func decode[T any](c chat.Conn, typ string, payload []byte) (T, bool) {
	data, err := envelope.Decode[T](payload)
	if err != nil {
		c.Logger().Warn().Err(err).Str("type", typ).Msg("bad frame")
		return data, false
	}
	return data, true
}

func joinedChannel(c chat.Conn, id int64) (chat.Channel, bool) {
	for _, ch := range c.Channels() {
		if chID, ok := ch.ID(); ok && chID == id {
			return ch, true
		}
	}
	return chat.Channel{}, false
}

func toMessage(ch chat.Channel, m MessageData) chat.Message {
	created := time.Now()
	if m.Timestamp > 0 {
		created = time.Unix(m.Timestamp, 0)
	}
	return chat.Message{
		ID:        strconv.FormatInt(m.MessageID, 10),
		Channel:   ch,
		UserName:  m.UserName,
		UserColor: userColor(m.Color),
		Text:      m.Text,
		CreatedAt: created,
	}
}

func userColor(class string) string {
	if strings.HasPrefix(class, "#") {
		return class
	}
	if c, ok := colors[strings.ToLower(class)]; ok {
		return c
	}
	return colors["simple"]
}
