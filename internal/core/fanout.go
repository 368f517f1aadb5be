package core

import "context"

// Fanout propagates stored messages to every worker process.
// Delivery is at-least-once and unordered across workers; the store stays
// authoritative and recovery closes any gap.
type Fanout interface {
	// Publish sends msg to all listening workers, including this one.
	Publish(ctx context.Context, msg Message) error
	// Listen calls deliver for every message published by any worker until
	// ctx is done.
	Listen(ctx context.Context, deliver func(Message)) error
	// Close releases the underlying connection.
	Close() error
}
