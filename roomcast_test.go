package roomcast

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roomcast/roomcast/history"
)

// fakeTransport records every delivered frame so tests can assert on the
// envelopes a session received.
type fakeTransport struct {
	mu     sync.Mutex
	frames [][]byte
	closed bool
	reason string
	fail   bool
}

func (f *fakeTransport) Deliver(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return errors.New("transport closed")
	}
	if f.fail {
		return errors.New("broken pipe")
	}
	f.frames = append(f.frames, append([]byte(nil), data...))
	return nil
}

func (f *fakeTransport) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
}

func (f *fakeTransport) envelopes(t *testing.T) []Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Envelope, 0, len(f.frames))
	for _, frame := range f.frames {
		var env Envelope
		require.NoError(t, json.Unmarshal(frame, &env))
		out = append(out, env)
	}
	return out
}

// named returns the received envelopes carrying the given event name.
func (f *fakeTransport) named(t *testing.T, event string) []Envelope {
	t.Helper()
	var out []Envelope
	for _, env := range f.envelopes(t) {
		if env.Event == event {
			out = append(out, env)
		}
	}
	return out
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

// fixture wires registry, rooms, broadcaster and router the way NewHub
// does, without the websocket layer.
type fixture struct {
	registry *Registry
	rooms    *Rooms
	caster   *Broadcaster
	router   *Router
}

func newFixture(t *testing.T, capacity int, cfg RouterConfig, store history.Store) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	registry := NewRegistry(capacity, log)
	rooms := NewRooms(log)
	caster := NewBroadcaster(registry, rooms, log)
	registry.bind(rooms, caster)
	rooms.bind(registry)

	return &fixture{
		registry: registry,
		rooms:    rooms,
		caster:   caster,
		router:   NewRouter(cfg, registry, caster, store, log),
	}
}

// connect registers one session backed by a fresh fake transport.
func (f *fixture) connect(t *testing.T) (*Session, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	sess, err := f.registry.Register(ft)
	require.NoError(t, err)
	return sess, ft
}
