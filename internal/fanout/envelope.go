package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vovakirdan/wirechat-relay/internal/core"
)

// envelope is the wire form of a chat message on the fan-out medium.
type envelope struct {
	ID           int64     `json:"id"`
	Room         string    `json:"room"`
	Nickname     string    `json:"nickname"`
	Content      string    `json:"content"`
	ClientOffset string    `json:"client_offset"`
	CreatedAt    time.Time `json:"created_at"`
	Origin       string    `json:"origin,omitempty"`
}

func encode(origin string, msg core.Message) ([]byte, error) {
	data, err := json.Marshal(envelope{
		ID:           msg.ID,
		Room:         msg.Room,
		Nickname:     msg.Nickname,
		Content:      msg.Text,
		ClientOffset: msg.ClientOffset,
		CreatedAt:    msg.CreatedAt,
		Origin:       origin,
	})
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// decode returns the message and the id of the worker that published it.
func decode(data []byte) (core.Message, string, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return core.Message{}, "", fmt.Errorf("decode envelope: %w", err)
	}
	if env.ID <= 0 || env.Room == "" {
		return core.Message{}, "", fmt.Errorf("decode envelope: missing id or room")
	}
	return core.Message{
		ID:           env.ID,
		ClientOffset: env.ClientOffset,
		Room:         env.Room,
		Nickname:     env.Nickname,
		Text:         env.Content,
		CreatedAt:    env.CreatedAt,
	}, env.Origin, nil
}
