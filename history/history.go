// Package history is the message persistence gateway: a durable
// append-only store for room messages, written by the router before
// broadcast.
package history

import (
	"context"
	"time"
)

// MessageID identifies one stored message.
type MessageID string

// Record is one stored message.
type Record struct {
	ID      MessageID `bson:"_id,omitempty" json:"id"`
	Room    string    `bson:"room" json:"room"`
	Sender  string    `bson:"sender" json:"sender"`
	Payload []byte    `bson:"payload" json:"payload"`
	At      time.Time `bson:"at" json:"at"`
}

// Store is the durable append-only history consumed by the router. Append
// failures must never block a broadcast; the caller logs and counts them.
type Store interface {
	// Append stores one message and returns its identifier.
	Append(ctx context.Context, room, sender string, payload []byte, at time.Time) (MessageID, error)

	// Recent returns up to limit messages for a room, newest first.
	Recent(ctx context.Context, room string, limit int) ([]Record, error)

	// Close releases store resources.
	Close(ctx context.Context) error
}
