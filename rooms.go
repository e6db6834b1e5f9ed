package roomcast

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync"

	"github.com/samber/lo"
)

// RoomID identifies a broadcast scope.
type RoomID string

// DeriveRoomID returns the canonical room for a pair of identities. Each
// identity is hashed on its own before the two fixed-size digests are sorted
// and hashed together, so no two distinct pairs share an input encoding:
// identities are arbitrary strings and a separator byte could otherwise be
// glued across the boundary. The result is commutative, stable across
// restarts and one-way; collisions are cryptographically negligible and not
// handled.
func DeriveRoomID(identityA, identityB string) RoomID {
	ha := sha256.Sum256([]byte(identityA))
	hb := sha256.Sum256([]byte(identityB))
	if string(hb[:]) < string(ha[:]) {
		ha, hb = hb, ha
	}
	sum := sha256.Sum256(append(ha[:], hb[:]...))
	return RoomID(hex.EncodeToString(sum[:]))
}

// Rooms maps room identifiers to member sessions. It holds only session
// identifiers, never Session records; the Registry owns those and calls
// DropSession on disconnect so member sets never go stale.
type Rooms struct {
	mu       sync.RWMutex
	members  map[RoomID]map[SessionID]bool // room -> sessions
	joined   map[SessionID]map[RoomID]bool // session -> rooms
	registry *Registry
	log      *slog.Logger
}

// NewRooms creates an empty room manager.
func NewRooms(log *slog.Logger) *Rooms {
	return &Rooms{
		members: make(map[RoomID]map[SessionID]bool),
		joined:  make(map[SessionID]map[RoomID]bool),
		log:     log,
	}
}

func (r *Rooms) bind(registry *Registry) {
	r.registry = registry
}

// Join adds a session to a room, creating the room on first join. Joining a
// room twice is a no-op. Fails with ErrUnknownSession before touching any
// state when the session is not open in the registry.
func (r *Rooms) Join(id SessionID, room RoomID) error {
	if r.registry != nil && !r.registry.IsOpen(id) {
		return ErrUnknownSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.members[room] == nil {
		r.members[room] = make(map[SessionID]bool)
	}
	r.members[room][id] = true

	if r.joined[id] == nil {
		r.joined[id] = make(map[RoomID]bool)
	}
	r.joined[id][room] = true

	// Unregister leaves the open state before it prunes memberships, so a
	// session seen non-open here lost a race with that prune and must not
	// stay behind as a ghost member.
	if r.registry != nil && !r.registry.IsOpen(id) {
		r.remove(id, room)
		return ErrUnknownSession
	}

	r.log.Debug("joined room", "session", id, "room", room, "size", len(r.members[room]))
	return nil
}

// Leave removes a session from a room. An empty room is deleted. Leaving a
// room the session is not in is a no-op. Fails with ErrUnknownSession when
// the session is not open in the registry.
func (r *Rooms) Leave(id SessionID, room RoomID) error {
	if r.registry != nil && !r.registry.IsOpen(id) {
		return ErrUnknownSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.remove(id, room)
	return nil
}

// remove deletes the membership edge in both indexes. Caller holds the lock.
func (r *Rooms) remove(id SessionID, room RoomID) {
	if r.members[room] != nil {
		delete(r.members[room], id)
		if len(r.members[room]) == 0 {
			delete(r.members, room)
		}
	}
	if r.joined[id] != nil {
		delete(r.joined[id], room)
		if len(r.joined[id]) == 0 {
			delete(r.joined, id)
		}
	}
}

// DropSession removes a session from every room it joined, in one step, and
// returns the rooms it belonged to. Used by the registry on unregister;
// unlike Leave it does not require the session to still be open.
func (r *Rooms) DropSession(id SessionID) []RoomID {
	r.mu.Lock()
	defer r.mu.Unlock()

	rooms := lo.Keys(r.joined[id])
	for _, room := range rooms {
		r.remove(id, room)
	}
	return rooms
}

// MembersOf returns a snapshot of the sessions in a room. Mutations after
// the call do not affect the returned slice.
func (r *Rooms) MembersOf(room RoomID) []SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.members[room])
}

// SessionRooms returns a snapshot of the rooms a session has joined.
func (r *Rooms) SessionRooms(id SessionID) []RoomID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Keys(r.joined[id])
}

// Count returns the number of rooms that currently have members.
func (r *Rooms) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}
