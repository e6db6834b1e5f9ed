package roomcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-playground/validator/v10"

	"github.com/roomcast/roomcast/history"
	"github.com/roomcast/roomcast/metrics"
)

// TargetKind selects how an outbound event is fanned out.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetAll
	TargetRoom
	TargetSession
)

// Outbound is one event a handler wants delivered, with an explicit target.
type Outbound struct {
	Kind    TargetKind
	Room    RoomID
	Session SessionID
	Except  []SessionID
	Event   string
	Payload interface{}
}

// ToAll targets every open session.
func ToAll(event string, payload interface{}) Outbound {
	return Outbound{Kind: TargetAll, Event: event, Payload: payload}
}

// ToRoom targets the members of a room.
func ToRoom(room RoomID, event string, payload interface{}) Outbound {
	return Outbound{Kind: TargetRoom, Room: room, Event: event, Payload: payload}
}

// ToSession targets a single session.
func ToSession(id SessionID, event string, payload interface{}) Outbound {
	return Outbound{Kind: TargetSession, Session: id, Event: event, Payload: payload}
}

// ExceptSender returns a copy of the outbound that skips the given session.
func (o Outbound) ExceptSender(id SessionID) Outbound {
	o.Except = append(o.Except, id)
	return o
}

// Handler processes one inbound event and returns zero or more outbound
// events to dispatch. Handlers must honor ctx, which carries the configured
// deadline and is cancelled when the sender disconnects.
type Handler func(ctx context.Context, sender *Session, payload json.RawMessage) ([]Outbound, error)

// DefaultPolicy decides what happens to an inbound event that has no
// registered handler.
type DefaultPolicy func(sender *Session, ev Event) []Outbound

// RebroadcastPolicy forwards unhandled events to every open session. The
// sender is excluded unless includeSelf is set.
func RebroadcastPolicy(includeSelf bool) DefaultPolicy {
	return func(sender *Session, ev Event) []Outbound {
		out := ToAll(ev.Name, ev.Payload)
		if !includeSelf {
			out = out.ExceptSender(sender.ID())
		}
		return []Outbound{out}
	}
}

// DropPolicy discards unhandled events.
func DropPolicy() DefaultPolicy {
	return func(*Session, Event) []Outbound { return nil }
}

// RouterConfig tunes inbound dispatch.
type RouterConfig struct {
	// HandlerTimeout bounds a single handler invocation. A handler that
	// exceeds it is abandoned: its goroutine may still be running and its
	// partial side effects are undefined, but the dispatch loop moves on.
	HandlerTimeout time.Duration

	// DefaultPolicy applies to events with no registered handler.
	DefaultPolicy DefaultPolicy

	// PersistEvents names the inbound events whose room-targeted fan-outs
	// are appended to the history store before broadcast.
	PersistEvents []string

	// AppendTimeout bounds one history append, retries included.
	AppendTimeout time.Duration
}

// Router validates inbound events, runs the registered handler (or the
// default policy), writes history and hands the resulting outbound events
// to the broadcaster.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	schemas  map[string]func() interface{}
	persist  map[string]bool

	validate *validator.Validate
	cfg      RouterConfig
	registry *Registry
	caster   *Broadcaster
	store    history.Store
	log      *slog.Logger
}

// NewRouter creates a router. store may be nil when history is disabled.
func NewRouter(cfg RouterConfig, registry *Registry, caster *Broadcaster, store history.Store, log *slog.Logger) *Router {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 5 * time.Second
	}
	if cfg.AppendTimeout <= 0 {
		cfg.AppendTimeout = 3 * time.Second
	}
	if cfg.DefaultPolicy == nil {
		cfg.DefaultPolicy = RebroadcastPolicy(false)
	}

	persist := make(map[string]bool, len(cfg.PersistEvents))
	for _, name := range cfg.PersistEvents {
		persist[name] = true
	}

	return &Router{
		handlers: make(map[string]Handler),
		schemas:  make(map[string]func() interface{}),
		persist:  persist,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		cfg:      cfg,
		registry: registry,
		caster:   caster,
		store:    store,
		log:      log,
	}
}

// OnEvent registers the handler for an event name. The last registration
// for a given name wins.
func (r *Router) OnEvent(name string, h Handler) {
	r.mu.Lock()
	r.handlers[name] = h
	r.mu.Unlock()
}

// Schema registers a payload prototype for an event name. Inbound payloads
// are unmarshalled into a fresh prototype and checked against its validate
// tags before the handler runs.
func (r *Router) Schema(name string, prototype func() interface{}) {
	r.mu.Lock()
	r.schemas[name] = prototype
	r.mu.Unlock()
}

// HandleInbound dispatches one inbound envelope from a session. Validation
// failures are reported back to the sender on an "error" envelope; the
// returned error mirrors what was logged and never aborts the caller's
// read loop.
func (r *Router) HandleInbound(id SessionID, env *Envelope) error {
	sess, err := r.registry.Lookup(id)
	if err != nil || !sess.Open() {
		// Session closed mid-flight. Drop silently.
		r.log.Debug("dropping event from non-open session", "session", id, "event", env.Event)
		return ErrStaleSession
	}

	metrics.EventsReceived.Inc()

	ev := Event{
		Name:    env.Event,
		Payload: env.Payload,
		Sender:  id,
		AckID:   env.AckID,
		At:      time.Now().UTC(),
	}

	if isReserved(env.Event) {
		rerr := newError(KindInvalidPayload, "%q is a reserved event name", env.Event)
		r.sendError(sess, rerr)
		r.ack(sess, ev, "rejected")
		return rerr
	}

	if err := r.checkSchema(ev); err != nil {
		r.sendError(sess, err)
		r.ack(sess, ev, "rejected")
		return err
	}

	outs, herr := r.route(sess, ev)
	if herr != nil {
		if errors.Is(herr, ErrHandlerTimeout) {
			metrics.HandlerTimeouts.Inc()
			r.log.Error("handler timed out", "event", ev.Name, "session", id)
		} else {
			r.log.Error("handler failed", "event", ev.Name, "session", id, "error", herr)
		}
		var appErr *Error
		if errors.As(herr, &appErr) {
			r.sendError(sess, appErr)
		}
		r.ack(sess, ev, "error")
		return herr
	}

	for _, out := range outs {
		if out.Kind == TargetRoom && r.persist[ev.Name] && r.store != nil {
			r.appendHistory(out.Room, ev)
		}
		r.caster.dispatch(sess, out)
	}

	r.ack(sess, ev, "ok")
	return nil
}

func (r *Router) checkSchema(ev Event) *Error {
	r.mu.RLock()
	prototype := r.schemas[ev.Name]
	r.mu.RUnlock()
	if prototype == nil {
		return nil
	}

	target := prototype()
	if err := json.Unmarshal(ev.Payload, target); err != nil {
		return wrapError(KindInvalidPayload, err, "payload for %q is not valid JSON for its schema", ev.Name)
	}
	if err := r.validate.Struct(target); err != nil {
		return wrapError(KindInvalidPayload, err, "payload for %q failed validation", ev.Name)
	}
	return nil
}

// route picks the handler or the default policy and runs it under the
// configured deadline.
func (r *Router) route(sess *Session, ev Event) ([]Outbound, error) {
	r.mu.RLock()
	h := r.handlers[ev.Name]
	r.mu.RUnlock()

	if h == nil {
		return r.cfg.DefaultPolicy(sess, ev), nil
	}
	return r.invoke(sess, ev, h)
}

func (r *Router) invoke(sess *Session, ev Event, h Handler) ([]Outbound, error) {
	ctx, cancel := context.WithTimeout(sess.Context(), r.cfg.HandlerTimeout)
	defer cancel()

	type result struct {
		outs []Outbound
		err  error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("handler for %q panicked: %v", ev.Name, p)}
			}
		}()
		outs, err := h(ctx, sess, ev.Payload)
		done <- result{outs: outs, err: err}
	}()

	select {
	case res := <-done:
		return res.outs, res.err
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, newError(KindHandlerTimeout,
				"handler for %q exceeded %s", ev.Name, r.cfg.HandlerTimeout)
		}
		// Sender disconnected while its handler was running.
		return nil, ErrStaleSession
	}
}

// appendHistory writes one room event to the store with a bounded retry.
// Failures never block the broadcast; they are logged and counted so they
// surface as a monitoring signal.
func (r *Router) appendHistory(room RoomID, ev Event) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.AppendTimeout)
	defer cancel()

	op := func() error {
		_, err := r.store.Append(ctx, string(room), string(ev.Sender), ev.Payload, ev.At)
		return err
	}
	notify := func(err error, next time.Duration) {
		metrics.HistoryAppendRetries.Inc()
		r.log.Debug("retrying history append", "room", room, "error", err, "next", next)
	}

	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), ctx)
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		metrics.HistoryAppendFailures.Inc()
		r.log.Warn("history append failed", "room", room, "event", ev.Name, "error", err)
	}
}

// sendError notifies the originating session with a reserved error envelope.
func (r *Router) sendError(sess *Session, rerr *Error) {
	payload, err := marshalPayload(errorPayload{Kind: string(rerr.Kind), Message: rerr.Message})
	if err != nil {
		return
	}
	if err := sess.deliver(&Envelope{Event: EventError, Payload: payload}); err != nil {
		r.log.Debug("could not deliver error envelope", "session", sess.ID(), "error", err)
	}
}

// ack sends the correlated acknowledgement when the inbound envelope asked
// for one.
func (r *Router) ack(sess *Session, ev Event, status string) {
	if ev.AckID == "" {
		return
	}
	payload, err := marshalPayload(ackPayload{Status: status})
	if err != nil {
		return
	}
	env := &Envelope{Event: ev.Name, AckID: ev.AckID, Payload: payload}
	if err := sess.deliver(env); err != nil {
		r.log.Debug("could not deliver ack", "session", sess.ID(), "ack", ev.AckID, "error", err)
	}
}
