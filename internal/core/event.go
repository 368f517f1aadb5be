package core

// EventKind is a notification the core emits to sessions.
type EventKind int

const (
	// EventChatMessage delivers a stored chat message (live, history or replay).
	EventChatMessage EventKind = iota
	// EventSystemMessage delivers a server notice to one session.
	EventSystemMessage
	// EventUserTyping notifies room peers that a user is typing.
	EventUserTyping
	// EventUserStopTyping notifies room peers that a user stopped typing.
	EventUserStopTyping
	// EventAck answers a command.
	EventAck
)

// Event is sent to sessions to describe what happened in the system.
type Event struct {
	Kind    EventKind
	Room    string
	User    string
	Text    string
	Message Message
	Ack     *Ack
}

// Ack is the result of a session command.
type Ack struct {
	Seq       int64
	Room      string
	MessageID int64
	// Duplicate is set when a submission was already stored under the same client offset.
	Duplicate bool
	Error     *CoreError
}

// OK reports whether the command succeeded.
func (a Ack) OK() bool {
	return a.Error == nil
}

func chatEvent(msg Message) *Event {
	return &Event{Kind: EventChatMessage, Room: msg.Room, Message: msg}
}

func systemEvent(room, text string) *Event {
	return &Event{Kind: EventSystemMessage, Room: room, Text: text}
}
