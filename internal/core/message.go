package core

import (
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/store"
)

// Message is the domain model for a chat message.
type Message struct {
	ID           int64
	ClientOffset string
	Room         string
	Nickname     string
	Text         string
	CreatedAt    time.Time
}

func messageFromStore(m store.Message) Message {
	return Message{
		ID:           m.ID,
		ClientOffset: m.ClientOffset,
		Room:         m.Room,
		Nickname:     m.Nickname,
		Text:         m.Content,
		CreatedAt:    m.CreatedAt,
	}
}

func messagesFromStore(ms []store.Message) []Message {
	out := make([]Message, 0, len(ms))
	for _, m := range ms {
		out = append(out, messageFromStore(m))
	}
	return out
}
