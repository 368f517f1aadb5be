package store

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateOffset is returned by Append when a message with the same
// client offset was already stored. Nothing is written in that case.
var ErrDuplicateOffset = errors.New("duplicate client offset")

// Message represents a persisted chat message.
type Message struct {
	ID           int64
	ClientOffset string
	Room         string
	Nickname     string
	Content      string
	CreatedAt    time.Time
}

// MessageStore is the append-only, per-room ordered message log.
type MessageStore interface {
	// Append inserts a message stamped with createdAt and returns its id. Ids
	// are strictly increasing across all rooms. Returns ErrDuplicateOffset if
	// clientOffset was seen before.
	Append(ctx context.Context, room, nickname, clientOffset, content string, createdAt time.Time) (int64, error)

	// ScanRoom returns messages of room with id > afterID in ascending id order.
	// A limit <= 0 returns every matching message.
	ScanRoom(ctx context.Context, room string, afterID int64, limit int) ([]Message, error)

	// LatestInRoom returns the newest limit messages of room in ascending id order.
	LatestInRoom(ctx context.Context, room string, limit int) ([]Message, error)

	// Close releases the underlying connection(s).
	Close() error
}
