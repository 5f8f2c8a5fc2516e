package goodgame

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vovakirdan/streamchat/internal/chat"
	"github.com/vovakirdan/streamchat/internal/chat/chattest"
)

func mustSent(t *testing.T, c *chattest.Conn, want string) {
	t.Helper()
	if got := string(c.NextSent(t)); got != want {
		t.Fatalf("sent %s, want %s", got, want)
	}
}

func TestAuthorize(t *testing.T) {
	b := New()
	c := chattest.NewConn()
	ctx := context.Background()

	if err := b.Authorize(ctx, c, chat.NewCredential("1234", []byte("tok"))); err != nil {
		t.Fatalf("authorize: %v", err)
	}
	mustSent(t, c, `{"type":"auth","data":{"user_id":1234,"token":"tok"}}`)

	if err := b.Authorize(ctx, c, nil); err != nil {
		t.Fatalf("anonymous authorize: %v", err)
	}
	mustSent(t, c, `{"type":"auth","data":{"user_id":0}}`)

	if err := b.Authorize(ctx, c, chat.NewCredential("alice", []byte("tok"))); err == nil {
		t.Fatal("non-numeric user accepted")
	}
}

func TestJoinRequiresID(t *testing.T) {
	b := New()
	c := chattest.NewConn()

	err := b.Join(context.Background(), c, chat.NewChannel("lobby"))
	if !errors.Is(err, chat.ErrInvalidChannel) {
		t.Fatalf("got %v, want ErrInvalidChannel", err)
	}
	c.NoneSent(t, 20*time.Millisecond)
}

func TestJoinConfirmUnjoin(t *testing.T) {
	b := New()
	c := chattest.NewConn()
	ctx := context.Background()
	lobby := chat.NewChannelWithID(5, "")

	if err := b.Join(ctx, c, lobby); err != nil {
		t.Fatalf("join: %v", err)
	}
	mustSent(t, c, `{"type":"join","data":{"channel_id":5,"hidden":0}}`)
	if len(c.Channels()) != 0 {
		t.Fatal("joined before confirmation")
	}

	b.Handle(c, []byte(`{"type":"success_join","data":{"channel_id":5,"channel_name":"Lobby","access_rights":0,"is_banned":false}}`), true)
	if got := c.Channels(); len(got) != 1 || got[0] != lobby {
		t.Fatalf("channels = %v, want [%v]", got, lobby)
	}

	err := b.Join(ctx, c, chat.NewChannelWithID(5, "Lobby"))
	if !errors.Is(err, chat.ErrConnectionToSameChannel) {
		t.Fatalf("duplicate join: got %v", err)
	}

	if err := b.Unjoin(ctx, c, lobby); err != nil {
		t.Fatalf("unjoin: %v", err)
	}
	mustSent(t, c, `{"type":"unjoin","data":{"channel_id":5}}`)

	b.Handle(c, []byte(`{"type":"success_unjoin","data":{"channel_id":5}}`), true)
	if len(c.Channels()) != 0 {
		t.Fatalf("channels after unjoin = %v", c.Channels())
	}
}

func TestUnsolicitedJoinUsesServerName(t *testing.T) {
	b := New()
	c := chattest.NewConn()

	b.Handle(c, []byte(`{"type":"success_join","data":{"channel_id":9,"channel_name":"Nine"}}`), true)
	if got := c.Channels(); len(got) != 1 || got[0] != chat.NewChannelWithID(9, "Nine") {
		t.Fatalf("channels = %v", got)
	}
}

func TestSendAndPing(t *testing.T) {
	b := New()
	c := chattest.NewConn()
	ctx := context.Background()

	if err := b.SendMessage(ctx, c, "hi", chat.NewChannelWithID(5, "")); err != nil {
		t.Fatalf("send: %v", err)
	}
	mustSent(t, c, `{"type":"send_message","data":{"channel_id":5,"text":"hi","mobile":0}}`)

	if err := b.Ping(ctx, c); err != nil {
		t.Fatalf("ping: %v", err)
	}
	mustSent(t, c, `{"type":"ping","data":{}}`)

	b.Handle(c, []byte(`{"type":"ping","data":{}}`), true)
	mustSent(t, c, `{"type":"pong","data":{"answer":"pong"}}`)
}

func TestHandleAuthAndMessages(t *testing.T) {
	b := New()
	c := chattest.NewConn()
	lobby := chat.NewChannelWithID(5, "lobby")
	c.Joined(lobby)

	b.Handle(c, []byte(`{"type":"welcome","data":{"protocolVersion":1.1,"serverIdent":"gg"}}`), true)
	b.Handle(c, []byte(`{"type":"success_auth","data":{"user_id":1234,"user_name":"alice"}}`), true)
	if !c.IsAuthorized() || c.UserName() != "alice" {
		t.Fatalf("authorized=%v user=%q", c.IsAuthorized(), c.UserName())
	}

	b.Handle(c, []byte(`{"type":"message","data":{"channel_id":5,"user_id":7,"user_name":"bob","color":"gold","message_id":100,"timestamp":1700000000,"text":"hey"}}`), true)
	b.Handle(c, []byte(`{"type":"message","data":{"channel_id":6,"user_name":"eve","text":"elsewhere"}}`), true)
	b.Handle(c, []byte(`{"data":{"channel_id":5},"type":"message"}`), false)
	b.Handle(c, []byte(`not json`), true)

	msgs := c.Messages()
	if len(msgs) != 1 {
		t.Fatalf("delivered %d messages: %+v", len(msgs), msgs)
	}
	m := msgs[0]
	if m.Channel != lobby || m.UserName != "bob" || m.Text != "hey" || m.ID != "100" {
		t.Fatalf("unexpected message %+v", m)
	}
	if m.UserColor != "#eefc08" || !m.CreatedAt.Equal(time.Unix(1700000000, 0)) {
		t.Fatalf("unexpected color or time %+v", m)
	}
}

type fakeRequester struct {
	conn chat.Conn
	err  error
}

func (r fakeRequester) Request(ctx context.Context, fn func(ctx context.Context, c chat.Conn) error) error {
	if r.err != nil {
		return r.err
	}
	return fn(ctx, r.conn)
}

func TestRequestHistory(t *testing.T) {
	b := New()
	c := chattest.NewConn()
	ctx := context.Background()
	lobby := chat.NewChannelWithID(5, "lobby")

	err := b.RequestHistory(ctx, fakeRequester{conn: c}, lobby, 0)
	if !errors.Is(err, chat.ErrNotJoinedToChannel) {
		t.Fatalf("history of unjoined channel: got %v", err)
	}

	if err := b.RequestHistory(ctx, fakeRequester{err: chat.ErrNotAuthorized}, lobby, 0); !errors.Is(err, chat.ErrNotAuthorized) {
		t.Fatalf("history while unauthorized: got %v", err)
	}

	c.Joined(lobby)
	if err := b.RequestHistory(ctx, fakeRequester{conn: c}, lobby, 90); err != nil {
		t.Fatalf("history: %v", err)
	}
	mustSent(t, c, `{"type":"get_channel_history","data":{"channel_id":5,"from":90}}`)

	b.Handle(c, []byte(`{"type":"channel_history","data":{"channel_id":5,"messages":[{"channel_id":5,"user_name":"a","text":"one","message_id":91},{"channel_id":5,"user_name":"b","text":"two","color":"#123456","message_id":92}]}}`), true)
	got := c.History(lobby)
	if len(got) != 2 || got[0].Text != "one" || got[1].UserColor != "#123456" {
		t.Fatalf("history = %+v", got)
	}
	if got[0].UserColor != colors["simple"] {
		t.Fatalf("default color = %q", got[0].UserColor)
	}
}
