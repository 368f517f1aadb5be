package core

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandSetNickname assigns the session's display name.
	CommandSetNickname CommandKind = iota
	// CommandJoinRoom moves the session into another room.
	CommandJoinRoom
	// CommandSubmitMessage stores and broadcasts a chat message.
	CommandSubmitMessage
	// CommandTyping tells room peers the user started typing.
	CommandTyping
	// CommandStopTyping tells room peers the user stopped typing.
	CommandStopTyping
)

// Command represents an action requested by a client.
// Seq is echoed back in the acknowledgment.
type Command struct {
	Kind         CommandKind
	Seq          int64
	Nickname     string
	Room         string
	Text         string
	ClientOffset string
}
