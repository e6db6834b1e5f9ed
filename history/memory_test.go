package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStore_AppendAndRecent(t *testing.T) {
	req := require.New(t)
	store := NewMemoryStore(0)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, text := range []string{"one", "two", "three"} {
		id, err := store.Append(ctx, "lobby", "alice", []byte(text), base.Add(time.Duration(i)*time.Second))
		req.NoError(err)
		req.NotEmpty(id)
	}

	records, err := store.Recent(ctx, "lobby", 2)
	req.NoError(err)
	req.Len(records, 2)

	// Newest first.
	req.Equal([]byte("three"), records[0].Payload)
	req.Equal([]byte("two"), records[1].Payload)

	all, err := store.Recent(ctx, "lobby", 0)
	req.NoError(err)
	req.Len(all, 3)

	empty, err := store.Recent(ctx, "nowhere", 10)
	req.NoError(err)
	req.Empty(empty)
}

func TestMemoryStore_PerRoomLimit(t *testing.T) {
	req := require.New(t)
	store := NewMemoryStore(2)
	ctx := context.Background()

	for _, text := range []string{"one", "two", "three"} {
		_, err := store.Append(ctx, "lobby", "alice", []byte(text), time.Now())
		req.NoError(err)
	}

	records, err := store.Recent(ctx, "lobby", 10)
	req.NoError(err)
	req.Len(records, 2)
	req.Equal([]byte("three"), records[0].Payload)
}

func TestMemoryStore_CopiesPayload(t *testing.T) {
	req := require.New(t)
	store := NewMemoryStore(0)
	ctx := context.Background()

	payload := []byte("original")
	_, err := store.Append(ctx, "lobby", "alice", payload, time.Now())
	req.NoError(err)

	payload[0] = 'X'

	records, err := store.Recent(ctx, "lobby", 1)
	req.NoError(err)
	req.Equal([]byte("original"), records[0].Payload)
}
