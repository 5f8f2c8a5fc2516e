package goodgame

// Frame types of the chat protocol, version 1.
const (
	TypeWelcome       = "welcome"
	TypeAuth          = "auth"
	TypeSuccessAuth   = "success_auth"
	TypeJoin          = "join"
	TypeSuccessJoin   = "success_join"
	TypeUnjoin        = "unjoin"
	TypeSuccessUnjoin = "success_unjoin"
	TypeSendMessage   = "send_message"
	TypeMessage       = "message"
	TypeGetHistory    = "get_channel_history"
	TypeHistory       = "channel_history"
	TypePing          = "ping"
	TypePong          = "pong"
	TypeError         = "error"
)

// AuthData logs in. UserID 0 without a token is an anonymous reader.
type AuthData struct {
	UserID int64  `json:"user_id"`
	Token  string `json:"token,omitempty"`
}

// JoinData requests to join a channel.
type JoinData struct {
	ChannelID int64 `json:"channel_id"`
	Hidden    int   `json:"hidden"`
}

// UnjoinData requests to leave a channel.
type UnjoinData struct {
	ChannelID int64 `json:"channel_id"`
}

// SendMessageData posts a chat message.
type SendMessageData struct {
	ChannelID int64  `json:"channel_id"`
	Text      string `json:"text"`
	Color     string `json:"color,omitempty"`
	Icon      string `json:"icon,omitempty"`
	Mobile    int    `json:"mobile"`
}

// HistoryRequest asks for the channel backlog starting at message id From.
type HistoryRequest struct {
	ChannelID int64 `json:"channel_id"`
	From      int64 `json:"from"`
}

type PongData struct {
	Answer string `json:"answer"`
}

type WelcomeData struct {
	ProtocolVersion float64 `json:"protocolVersion"`
	ServerIdent     string  `json:"serverIdent"`
}

type SuccessAuthData struct {
	UserID   int64  `json:"user_id"`
	UserName string `json:"user_name"`
}

type SuccessJoinData struct {
	ChannelID    int64  `json:"channel_id"`
	ChannelName  string `json:"channel_name"`
	AccessRights int    `json:"access_rights"`
	IsBanned     bool   `json:"is_banned"`
}

type SuccessUnjoinData struct {
	ChannelID int64 `json:"channel_id"`
}

// MessageData is one chat message, live or from the backlog.
type MessageData struct {
	ChannelID  int64  `json:"channel_id"`
	UserID     int64  `json:"user_id"`
	UserName   string `json:"user_name"`
	UserRights int    `json:"user_rights"`
	Color      string `json:"color"`
	Icon       string `json:"icon"`
	MessageID  int64  `json:"message_id"`
	Timestamp  int64  `json:"timestamp"`
	Text       string `json:"text"`
}

type HistoryData struct {
	ChannelID int64         `json:"channel_id"`
	Messages  []MessageData `json:"messages"`
}

// ErrorData describes a rejected request.
type ErrorData struct {
	ChannelID int64  `json:"channel_id"`
	ErrorNum  int    `json:"error_num"`
	ErrorMsg  string `json:"errorMsg"`
}
