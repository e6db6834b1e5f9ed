package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps history in process memory. Useful for tests and for
// running without a database; it is not durable.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string][]Record
	limit int
}

// NewMemoryStore creates a memory store keeping at most perRoom records per
// room. A non-positive perRoom keeps everything.
func NewMemoryStore(perRoom int) *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string][]Record),
		limit: perRoom,
	}
}

func (m *MemoryStore) Append(_ context.Context, room, sender string, payload []byte, at time.Time) (MessageID, error) {
	rec := Record{
		ID:      MessageID(uuid.NewString()),
		Room:    room,
		Sender:  sender,
		Payload: append([]byte(nil), payload...),
		At:      at,
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records := append(m.rooms[room], rec)
	if m.limit > 0 && len(records) > m.limit {
		records = records[len(records)-m.limit:]
	}
	m.rooms[room] = records

	return rec.ID, nil
}

func (m *MemoryStore) Recent(_ context.Context, room string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := m.rooms[room]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	// Newest first.
	out := make([]Record, 0, limit)
	for i := len(records) - 1; i >= len(records)-limit; i-- {
		out = append(out, records[i])
	}
	return out, nil
}

func (m *MemoryStore) Close(context.Context) error {
	m.mu.Lock()
	m.rooms = make(map[string][]Record)
	m.mu.Unlock()
	return nil
}
