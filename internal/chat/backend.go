package chat

import (
	"context"

	"github.com/rs/zerolog"
)

// Backend speaks one concrete chat protocol. Every call receives the Conn of the session it
// serves. Handle runs on the transport's receive loop and must not block on I/O; use
// Conn.Go for replies.
type Backend interface {
	Name() string
	Authorize(ctx context.Context, c Conn, cred Credential) error
	Join(ctx context.Context, c Conn, ch Channel) error
	Unjoin(ctx context.Context, c Conn, ch Channel) error
	SendMessage(ctx context.Context, c Conn, text string, ch Channel) error
	Ping(ctx context.Context, c Conn) error
	Handle(c Conn, payload []byte, text bool)
}

// Conn is the view of a Session given to its Backend.
type Conn interface {
	// Send writes one frame to the transport.
	Send(ctx context.Context, payload []byte) error
	// Authorized records a successful authorization.
	Authorized(userName string)
	// Joined adds ch to the joined set after the server confirmed the join.
	Joined(ch Channel)
	// Parted removes ch from the joined set after the server confirmed the part.
	Parted(ch Channel)
	// Channels returns a snapshot of the joined set.
	Channels() []Channel
	UserName() string
	// Deliver emits EventMessage.
	Deliver(msg Message)
	// DeliverHistory emits EventHistory.
	DeliverHistory(ch Channel, msgs []Message)
	// Report emits EventError and returns the error.
	Report(code ErrorCode, msg string) *ChatError
	// Go runs fn on a new goroutine bound to the session lifetime.
	Go(fn func(ctx context.Context))
	Logger() *zerolog.Logger
}
