package chat

import (
	"errors"
	"fmt"
)

// ErrorCode classifies errors reported through EventError.
type ErrorCode int

const (
	// InvalidConnection means the transport is not usable; it resets authorization.
	InvalidConnection ErrorCode = iota
	NotJoinedToChannel
	NotAuthorized
	// ConnectionToSameChannel means the channel is already in the joined set.
	ConnectionToSameChannel
	EmptyChannelsList
	NotFoundChannel
)

func (c ErrorCode) String() string {
	switch c {
	case InvalidConnection:
		return "invalid_connection"
	case NotJoinedToChannel:
		return "not_joined_to_channel"
	case NotAuthorized:
		return "not_authorized"
	case ConnectionToSameChannel:
		return "connection_to_same_channel"
	case EmptyChannelsList:
		return "empty_channels_list"
	case NotFoundChannel:
		return "not_found_channel"
	default:
		return fmt.Sprintf("error_code(%d)", int(c))
	}
}

// ChatError wraps a code and human-readable message.
type ChatError struct {
	Code    ErrorCode
	Message string
}

func (e *ChatError) Error() string {
	return e.Message
}

// Is matches any ChatError with the same code, so errors.Is(err, ErrNotAuthorized) works
// regardless of the message.
func (e *ChatError) Is(target error) bool {
	t, ok := target.(*ChatError)
	return ok && t.Code == e.Code
}

func chatError(code ErrorCode, msg string) *ChatError {
	return &ChatError{Code: code, Message: msg}
}

var (
	ErrInvalidConnection       = chatError(InvalidConnection, "invalid connection")
	ErrNotJoinedToChannel      = chatError(NotJoinedToChannel, "not joined to channel")
	ErrNotAuthorized           = chatError(NotAuthorized, "not authorized")
	ErrConnectionToSameChannel = chatError(ConnectionToSameChannel, "already joined")
	ErrEmptyChannelsList       = chatError(EmptyChannelsList, "channels list is empty")
	ErrNotFoundChannel         = chatError(NotFoundChannel, "channel not found")
)

var (
	// ErrDisposed is returned by every Session method after Dispose.
	ErrDisposed = errors.New("chat: session disposed")
	// ErrInvalidChannel is returned for a zero Channel or one the backend cannot address.
	ErrInvalidChannel = errors.New("chat: invalid channel")
	// ErrNoCredential is returned by backends that cannot authorize anonymously.
	ErrNoCredential = errors.New("chat: credential required")
)
