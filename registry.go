package roomcast

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/roomcast/roomcast/metrics"
)

// SessionID identifies one live connection.
type SessionID string

// SessionState is the lifecycle state of a session.
type SessionState int32

const (
	SessionConnecting SessionState = iota
	SessionOpen
	SessionClosing
	SessionClosed
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionOpen:
		return "open"
	case SessionClosing:
		return "closing"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Transport is the write side of one live connection, as seen by the hub.
// Deliver enqueues one encoded envelope and must not block on the peer.
type Transport interface {
	Deliver(data []byte) error
	Close(reason string)
}

// Session represents one live client connection. Session records are owned
// exclusively by the Registry; other components hold only SessionIDs.
type Session struct {
	id        SessionID
	transport Transport
	state     atomic.Int32
	identity  atomic.Value // string
	data      sync.Map
	ctx       context.Context
	cancel    context.CancelFunc
	createdAt time.Time
}

func newSession(id SessionID, t Transport) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:        id,
		transport: t,
		ctx:       ctx,
		cancel:    cancel,
		createdAt: time.Now(),
	}
	s.state.Store(int32(SessionOpen))
	return s
}

// ID returns the session identifier.
func (s *Session) ID() SessionID {
	return s.id
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Open reports whether the session accepts events and deliveries.
func (s *Session) Open() bool {
	return s.State() == SessionOpen
}

// Identity returns the user identity associated with the session, or the
// empty string before the authentication handshake has set one.
func (s *Session) Identity() string {
	if v, ok := s.identity.Load().(string); ok {
		return v
	}
	return ""
}

// SetIdentity associates a user identity with the session. Authentication
// itself is an external concern.
func (s *Session) SetIdentity(identity string) {
	s.identity.Store(identity)
}

// Context is cancelled when the session is unregistered. Handlers tied to
// the session should watch it.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Set stores arbitrary data on the session.
func (s *Session) Set(key string, value interface{}) {
	s.data.Store(key, value)
}

// Get retrieves data stored on the session.
func (s *Session) Get(key string) (interface{}, bool) {
	return s.data.Load(key)
}

// deliver encodes an envelope and hands it to the transport. The enqueue is
// synchronous so two deliveries from one caller keep their relative order.
func (s *Session) deliver(env *Envelope) error {
	if !s.Open() {
		return ErrStaleSession
	}
	data, err := env.Encode()
	if err != nil {
		return err
	}
	if err := s.transport.Deliver(data); err != nil {
		return wrapError(KindDeliveryFailure, err, "delivery to %s failed", s.id)
	}
	metrics.EventsDelivered.Inc()
	return nil
}

// Registry tracks live sessions and enforces the capacity limit. It owns
// Session records; room membership is delegated to Rooms.
type Registry struct {
	mu       sync.RWMutex
	sessions map[SessionID]*Session
	capacity int
	rooms    *Rooms
	caster   *Broadcaster
	log      *slog.Logger
}

// NewRegistry creates a registry. A capacity of zero means unlimited.
func NewRegistry(capacity int, log *slog.Logger) *Registry {
	return &Registry{
		sessions: make(map[SessionID]*Session),
		capacity: capacity,
		log:      log,
	}
}

func (r *Registry) bind(rooms *Rooms, caster *Broadcaster) {
	r.rooms = rooms
	r.caster = caster
}

// Register allocates a new open session for the given transport handle.
// It fails with ErrCapacityExceeded when the configured maximum number of
// concurrent sessions is reached.
func (r *Registry) Register(t Transport) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.capacity > 0 && len(r.sessions) >= r.capacity {
		metrics.RejectedSessions.Inc()
		r.log.Warn("session rejected", "reason", "capacity", "limit", r.capacity)
		return nil, ErrCapacityExceeded
	}

	sess := newSession(SessionID(uuid.NewString()), t)
	r.sessions[sess.id] = sess

	metrics.ActiveSessions.Inc()
	metrics.TotalSessions.Inc()
	r.log.Info("session registered", "session", sess.id)

	return sess, nil
}

// Unregister closes a session, removes it from every room it joined and
// notifies each of those rooms with a user-left event before the record is
// purged. Unregistering an unknown or already-closed session is a no-op.
func (r *Registry) Unregister(id SessionID) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	r.mu.Unlock()
	if !ok {
		return
	}

	// Only one caller wins the open -> closing transition, which makes
	// Unregister idempotent and safe to call concurrently with a broadcast.
	if !sess.state.CompareAndSwap(int32(SessionOpen), int32(SessionClosing)) {
		return
	}

	// Cancel in-flight handler work tied to this session.
	sess.cancel()

	// Prune membership in one step, then notify each former room exactly
	// once. The leaver is already gone from the member sets, so it cannot
	// receive its own user-left.
	rooms := r.rooms.DropSession(id)
	for _, room := range rooms {
		r.caster.EmitToRoom(room, EventUserLeft, map[string]string{
			"session":  string(id),
			"identity": sess.Identity(),
		})
	}

	r.mu.Lock()
	delete(r.sessions, id)
	r.mu.Unlock()

	sess.state.Store(int32(SessionClosed))
	sess.transport.Close("session closed")

	metrics.ActiveSessions.Dec()
	r.log.Info("session unregistered", "session", id, "rooms", len(rooms))
}

// Lookup returns the session for id, or ErrUnknownSession.
func (r *Registry) Lookup(id SessionID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.sessions[id]
	if !ok {
		return nil, ErrUnknownSession
	}
	return sess, nil
}

// IsOpen reports whether id names a currently open session.
func (r *Registry) IsOpen(id SessionID) bool {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	return ok && sess.Open()
}

// Snapshot returns all currently open sessions.
func (r *Registry) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if sess.Open() {
			sessions = append(sessions, sess)
		}
	}
	return sessions
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}
