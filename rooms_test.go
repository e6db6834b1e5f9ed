package roomcast

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeriveRoomID(t *testing.T) {
	testCases := []struct {
		name      string
		a, b      string
		c, d      string
		wantEqual bool
	}{
		{name: "commutative", a: "alice", b: "bob", c: "bob", d: "alice", wantEqual: true},
		{name: "deterministic", a: "alice", b: "bob", c: "alice", d: "bob", wantEqual: true},
		{name: "distinct pairs differ", a: "alice", b: "bob", c: "alice", d: "carol", wantEqual: false},
		{name: "boundary cannot be glued", a: "ab", b: "c", c: "a", d: "bc", wantEqual: false},
		{name: "embedded NUL cannot shift the boundary", a: "a\x00b", b: "c", c: "a", d: "b\x00c", wantEqual: false},
		{name: "empty identity still hashes", a: "", b: "bob", c: "bob", d: "", wantEqual: true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			left := DeriveRoomID(tc.a, tc.b)
			right := DeriveRoomID(tc.c, tc.d)
			assert.NotEmpty(t, left)
			if tc.wantEqual {
				assert.Equal(t, left, right)
			} else {
				assert.NotEqual(t, left, right)
			}
		})
	}
}

func TestRooms_JoinIsIdempotent(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, RouterConfig{}, nil)
	sess, _ := f.connect(t)
	room := RoomID("lobby")

	req.NoError(f.rooms.Join(sess.ID(), room))
	req.NoError(f.rooms.Join(sess.ID(), room))

	req.Equal([]SessionID{sess.ID()}, f.rooms.MembersOf(room))
	req.Equal([]RoomID{room}, f.rooms.SessionRooms(sess.ID()))
}

func TestRooms_LeaveIsIdempotentAndDeletesEmptyRooms(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, RouterConfig{}, nil)
	sess, _ := f.connect(t)
	room := RoomID("lobby")

	// Leaving a room the session never joined is a no-op.
	req.NoError(f.rooms.Leave(sess.ID(), room))

	req.NoError(f.rooms.Join(sess.ID(), room))
	req.Equal(1, f.rooms.Count())

	req.NoError(f.rooms.Leave(sess.ID(), room))
	req.NoError(f.rooms.Leave(sess.ID(), room))

	req.Empty(f.rooms.MembersOf(room))
	req.Equal(0, f.rooms.Count())
}

func TestRooms_UnknownSessionDoesNotCorruptState(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, RouterConfig{}, nil)
	room := RoomID("lobby")

	req.ErrorIs(f.rooms.Join("ghost", room), ErrUnknownSession)
	req.ErrorIs(f.rooms.Leave("ghost", room), ErrUnknownSession)

	// All-or-nothing: the failed join left no trace.
	req.Empty(f.rooms.MembersOf(room))
	req.Equal(0, f.rooms.Count())
	req.Empty(f.rooms.SessionRooms("ghost"))
}

func TestRooms_JoinRacingDisconnectLeavesNoGhostMember(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, RouterConfig{}, nil)
	sess, _ := f.connect(t)
	room := RoomID("lobby")

	// Hold the room lock so Join passes its first openness check and then
	// parks; the session goes non-open before Join can insert, the same
	// interleaving a disconnect racing a join produces.
	f.rooms.mu.Lock()
	joined := make(chan error, 1)
	go func() { joined <- f.rooms.Join(sess.ID(), room) }()
	time.Sleep(20 * time.Millisecond)

	sess.state.Store(int32(SessionClosing))
	f.rooms.mu.Unlock()

	select {
	case err := <-joined:
		req.ErrorIs(err, ErrUnknownSession)
	case <-time.After(time.Second):
		t.Fatal("join did not return")
	}

	req.Empty(f.rooms.MembersOf(room))
	req.Empty(f.rooms.SessionRooms(sess.ID()))
	req.Equal(0, f.rooms.Count())
}

func TestRooms_MembersOfReturnsSnapshot(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, RouterConfig{}, nil)
	s1, _ := f.connect(t)
	s2, _ := f.connect(t)
	room := RoomID("lobby")

	req.NoError(f.rooms.Join(s1.ID(), room))
	snapshot := f.rooms.MembersOf(room)

	// Mutations after the call do not leak into the snapshot.
	req.NoError(f.rooms.Join(s2.ID(), room))
	req.Len(snapshot, 1)
	req.Len(f.rooms.MembersOf(room), 2)
}

func TestRooms_DropSessionRemovesEverything(t *testing.T) {
	req := require.New(t)
	f := newFixture(t, 0, RouterConfig{}, nil)
	sess, _ := f.connect(t)
	peer, _ := f.connect(t)

	req.NoError(f.rooms.Join(sess.ID(), "a"))
	req.NoError(f.rooms.Join(sess.ID(), "b"))
	req.NoError(f.rooms.Join(peer.ID(), "a"))

	dropped := f.rooms.DropSession(sess.ID())
	req.ElementsMatch([]RoomID{"a", "b"}, dropped)

	req.Empty(f.rooms.SessionRooms(sess.ID()))
	req.Equal([]SessionID{peer.ID()}, f.rooms.MembersOf("a"))
	req.Empty(f.rooms.MembersOf("b"))
}
