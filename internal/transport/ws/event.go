package ws

// EventKind is a notification the transport raises to its subscribers.
type EventKind int

const (
	// EventConnected is raised once per successful handshake, before the first EventMessage.
	EventConnected EventKind = iota
	// EventClose is raised after an orderly close, initiated by either side.
	EventClose
	// EventError is raised when the connection is lost or cannot be established.
	EventError
	// EventMessage carries one complete inbound message.
	EventMessage
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
	default:
		return "unknown"
	}
}

// Event is delivered to subscribers in the order it was raised. Epoch identifies the
// connection the event belongs to; it changes on every successful Connect.
type Event struct {
	Kind    EventKind
	Epoch   string
	Payload []byte
	Text    bool
	Reason  string
	Err     error
}

// State is the lifecycle state of the underlying socket.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
