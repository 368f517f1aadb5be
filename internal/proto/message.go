package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Seq  int64           `json:"seq,omitempty"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeSetNickname = "set_nickname"
	InboundTypeJoinRoom    = "join_room"
	InboundTypeChatMessage = "chat_message"
	InboundTypeTyping      = "typing"
	InboundTypeStopTyping  = "stop_typing"

	OutboundTypeAck   = "ack"
	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventSession        = "session"
	EventSystemMessage  = "system_message"
	EventChatMessage    = "chat_message"
	EventUserTyping     = "user_typing"
	EventUserStopTyping = "user_stop_typing"
)

// SetNicknameData assigns the session's display name.
type SetNicknameData struct {
	Name string `json:"name"`
}

// JoinRoomData requests to switch to a room.
type JoinRoomData struct {
	Room string `json:"room"`
}

// ChatMessageData is a chat message from the client. ClientOffset is the
// client's idempotency key; retries must reuse it.
type ChatMessageData struct {
	Text         string `json:"text"`
	ClientOffset string `json:"client_offset,omitempty"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Seq   int64  `json:"seq,omitempty"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// AckData answers an inbound command.
type AckData struct {
	OK        bool   `json:"ok"`
	ID        int64  `json:"id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Room      string `json:"room,omitempty"`
}

// EventSessionData is sent once per connection.
type EventSessionData struct {
	SessionID   string `json:"session_id"`
	ResumeToken string `json:"resume_token,omitempty"`
	Recovered   bool   `json:"recovered"`
	Room        string `json:"room"`
	Nickname    string `json:"nickname,omitempty"`
	Protocol    int    `json:"protocol"`
}

// EventSystemMessageData is a server notice.
type EventSystemMessageData struct {
	Text string `json:"text"`
}

// EventChatMessageData is a stored chat message. TS is unix milliseconds.
type EventChatMessageData struct {
	ID       int64  `json:"id"`
	Room     string `json:"room"`
	Nickname string `json:"nickname"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

// EventTypingData names the user who started or stopped typing.
type EventTypingData struct {
	Nickname string `json:"nickname"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}
