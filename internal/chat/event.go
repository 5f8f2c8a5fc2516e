package chat

import "time"

// EventKind is a notification the session emits to its subscribers.
type EventKind int

const (
	// EventConnected is emitted once per established connection, before authorization completes.
	EventConnected EventKind = iota
	// EventClose is emitted after the connection closed in an orderly way.
	EventClose
	// EventError reports a ChatError.
	EventError
	// EventMessage delivers a chat message from a joined channel.
	EventMessage
	// EventHistory delivers a channel backlog requested through the backend.
	EventHistory
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	case EventMessage:
		return "message"
	case EventHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Event is what subscribers receive.
type Event struct {
	Kind     EventKind
	Channel  Channel
	Message  Message
	Messages []Message // For EventHistory
	Error    *ChatError
	Reason   string // For EventClose
}

// Message is the domain model for a chat message.
type Message struct {
	ID        string
	Channel   Channel
	UserName  string
	UserColor string
	Text      string
	CreatedAt time.Time
}
