package roomcast

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/roomcast/roomcast/history"
	"github.com/roomcast/roomcast/transport"
)

// Options configures a Hub. The zero value is usable: unlimited capacity,
// a 5 second handler deadline, rebroadcast of unhandled events with the
// sender excluded, no history store and the default slog logger.
type Options struct {
	// Capacity is the maximum number of concurrent sessions; zero means
	// unlimited.
	Capacity int

	// HandlerTimeout bounds a single handler invocation.
	HandlerTimeout time.Duration

	// DefaultPolicy applies to inbound events with no registered handler.
	DefaultPolicy DefaultPolicy

	// IncludeSelf echoes unhandled rebroadcasts back to their sender. Only
	// consulted when DefaultPolicy is nil.
	IncludeSelf bool

	// PersistEvents names inbound events whose room fan-outs are written
	// to History before broadcast.
	PersistEvents []string

	// History is the message persistence gateway. Nil disables history.
	History history.Store

	// Transport tunes the websocket layer. Nil selects defaults.
	Transport *transport.Config

	// Logger receives structured logs. Nil selects slog.Default().
	Logger *slog.Logger
}

// Hub is the server: it accepts websocket sessions, registers them, routes
// their inbound events and fans outbound events back out. It implements
// http.Handler.
type Hub struct {
	registry *Registry
	rooms    *Rooms
	caster   *Broadcaster
	router   *Router
	ts       *transport.Server
	log      *slog.Logger

	onConnect func(*Session)
}

// NewHub wires a hub from options.
func NewHub(opts *Options) *Hub {
	if opts == nil {
		opts = &Options{}
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	policy := opts.DefaultPolicy
	if policy == nil {
		policy = RebroadcastPolicy(opts.IncludeSelf)
	}

	registry := NewRegistry(opts.Capacity, log)
	rooms := NewRooms(log)
	caster := NewBroadcaster(registry, rooms, log)
	registry.bind(rooms, caster)
	rooms.bind(registry)

	router := NewRouter(RouterConfig{
		HandlerTimeout: opts.HandlerTimeout,
		DefaultPolicy:  policy,
		PersistEvents:  opts.PersistEvents,
	}, registry, caster, opts.History, log)

	h := &Hub{
		registry: registry,
		rooms:    rooms,
		caster:   caster,
		router:   router,
		ts:       transport.NewServer(opts.Transport),
		log:      log,
	}
	h.ts.OnConnect(h.handleConnection)

	return h
}

// OnConnect sets the callback invoked after a session is registered and has
// received its connect envelope.
func (h *Hub) OnConnect(fn func(*Session)) {
	h.onConnect = fn
}

// OnEvent registers the handler for an event name; the last registration
// wins.
func (h *Hub) OnEvent(name string, handler Handler) {
	h.router.OnEvent(name, handler)
}

// Schema registers a payload schema prototype for an event name.
func (h *Hub) Schema(name string, prototype func() interface{}) {
	h.router.Schema(name, prototype)
}

// Join adds a session to a room.
func (h *Hub) Join(id SessionID, room RoomID) error {
	return h.rooms.Join(id, room)
}

// Leave removes a session from a room.
func (h *Hub) Leave(id SessionID, room RoomID) error {
	return h.rooms.Leave(id, room)
}

// MembersOf returns a snapshot of a room's members.
func (h *Hub) MembersOf(room RoomID) []SessionID {
	return h.rooms.MembersOf(room)
}

// Lookup returns the session for id.
func (h *Hub) Lookup(id SessionID) (*Session, error) {
	return h.registry.Lookup(id)
}

// To returns a broadcast operator targeting the given rooms.
func (h *Hub) To(rooms ...RoomID) *Operator {
	return h.caster.To(rooms...)
}

// EmitToAll delivers an event to every open session.
func (h *Hub) EmitToAll(event string, payload interface{}) error {
	return h.caster.EmitToAll(event, payload)
}

// EmitToRoom delivers an event to a room's members.
func (h *Hub) EmitToRoom(room RoomID, event string, payload interface{}) error {
	return h.caster.EmitToRoom(room, event, payload)
}

// EmitToSession delivers an event to one session.
func (h *Hub) EmitToSession(id SessionID, event string, payload interface{}) error {
	return h.caster.EmitToSession(id, event, payload)
}

// ServeHTTP upgrades the request to a websocket session.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.ts.ServeHTTP(w, r)
}

// Close disconnects every session and shuts the transport down.
func (h *Hub) Close() error {
	h.ts.Close()
	return nil
}

func (h *Hub) handleConnection(ts *transport.Session) {
	sess, err := h.registry.Register(ts)
	if err != nil {
		// Over capacity. Tell the client why before dropping it. The write
		// loop has not started yet, so the frame goes out synchronously.
		payload, merr := marshalPayload(errorPayload{
			Kind:    string(KindCapacityExceeded),
			Message: "server is at capacity",
		})
		if merr == nil {
			if data, eerr := (&Envelope{Event: EventError, Payload: payload}).Encode(); eerr == nil {
				_ = ts.WriteNow(data)
			}
		}
		ts.Close("capacity exceeded")
		return
	}

	ts.OnMessage(func(data []byte) {
		env, err := DecodeEnvelope(data)
		if err != nil {
			h.log.Debug("discarding malformed envelope", "session", sess.ID(), "error", err)
			h.router.sendError(sess, wrapError(KindInvalidPayload, err, "malformed envelope"))
			return
		}
		_ = h.router.HandleInbound(sess.ID(), env)
	})
	ts.OnClose(func(reason string) {
		h.registry.Unregister(sess.ID())
	})

	// Handshake: the reserved connect envelope carries the session id.
	payload, err := marshalPayload(map[string]string{"sid": string(sess.ID())})
	if err == nil {
		if derr := sess.deliver(&Envelope{Event: EventConnect, Payload: payload}); derr != nil {
			h.log.Debug("connect envelope not delivered", "session", sess.ID(), "error", derr)
		}
	}

	if h.onConnect != nil {
		h.onConnect(sess)
	}
}
