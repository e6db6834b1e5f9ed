package roomcast

import (
	"log/slog"
	"time"

	"github.com/roomcast/roomcast/metrics"
)

// Broadcaster fans an event out to an explicit target set: every open
// session, a single session, or the members of one or more rooms.
//
// Delivery is fire-and-forget per recipient. A failed or slow recipient is
// skipped and logged; it never aborts delivery to the rest of the set. The
// envelope is encoded once and enqueued to each recipient synchronously, so
// two emits from one sender reach every shared recipient in emit order.
type Broadcaster struct {
	registry *Registry
	rooms    *Rooms
	log      *slog.Logger
}

// NewBroadcaster creates a broadcaster over the given registry and rooms.
func NewBroadcaster(registry *Registry, rooms *Rooms, log *slog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, rooms: rooms, log: log}
}

// Operator accumulates a target set before an Emit call.
type Operator struct {
	caster   *Broadcaster
	all      bool
	rooms    []RoomID
	sessions []SessionID
	except   []SessionID
	from     SessionID
}

// ToAll targets every currently open session.
func (b *Broadcaster) ToAll() *Operator {
	return &Operator{caster: b, all: true}
}

// To targets the members of one or more rooms.
func (b *Broadcaster) To(rooms ...RoomID) *Operator {
	return &Operator{caster: b, rooms: rooms}
}

// ToSession targets exactly one session.
func (b *Broadcaster) ToSession(id SessionID) *Operator {
	return &Operator{caster: b, sessions: []SessionID{id}}
}

// Except excludes sessions from the target set.
func (o *Operator) Except(ids ...SessionID) *Operator {
	o.except = append(o.except, ids...)
	return o
}

// From stamps the originating session on the outbound envelope.
func (o *Operator) From(id SessionID) *Operator {
	o.from = id
	return o
}

// Emit encodes the event once and delivers it to the resolved target set.
// Room membership is resolved at call time with snapshot semantics: a
// session joining mid-broadcast is not included, and a session that left
// the room but is still open does receive the event.
func (o *Operator) Emit(event string, payload interface{}) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	env := &Envelope{Event: event, Payload: raw, From: string(o.from), TS: &now}
	data, err := env.Encode()
	if err != nil {
		return err
	}

	excluded := make(map[SessionID]bool, len(o.except))
	for _, id := range o.except {
		excluded[id] = true
	}

	for _, sess := range o.resolve() {
		if excluded[sess.ID()] {
			continue
		}
		if err := sess.transport.Deliver(data); err != nil {
			metrics.DeliveryFailures.Inc()
			o.caster.log.Warn("delivery failed",
				"session", sess.ID(), "event", event, "error", err)
			continue
		}
		metrics.EventsDelivered.Inc()
	}

	return nil
}

// resolve materializes the target set as open sessions, deduplicated across
// overlapping rooms.
func (o *Operator) resolve() []*Session {
	if o.all {
		return o.caster.registry.Snapshot()
	}

	seen := make(map[SessionID]bool)
	var targets []*Session

	add := func(id SessionID) {
		if seen[id] {
			return
		}
		seen[id] = true
		sess, err := o.caster.registry.Lookup(id)
		if err != nil || !sess.Open() {
			// Stale member references are pruned on disconnect, so this
			// only covers a disconnect racing the snapshot.
			o.caster.log.Debug("skipping non-open target", "session", id)
			return
		}
		targets = append(targets, sess)
	}

	for _, room := range o.rooms {
		for _, id := range o.caster.rooms.MembersOf(room) {
			add(id)
		}
	}
	for _, id := range o.sessions {
		add(id)
	}

	return targets
}

// EmitToAll delivers an event to every currently open session.
func (b *Broadcaster) EmitToAll(event string, payload interface{}) error {
	return b.ToAll().Emit(event, payload)
}

// EmitToSession delivers an event to exactly one session. Delivery to a
// session that is not open is dropped silently, apart from a log line.
func (b *Broadcaster) EmitToSession(id SessionID, event string, payload interface{}) error {
	return b.ToSession(id).Emit(event, payload)
}

// EmitToRoom delivers an event to the members of a room as of call time.
func (b *Broadcaster) EmitToRoom(room RoomID, event string, payload interface{}) error {
	return b.To(room).Emit(event, payload)
}

// dispatch delivers one handler-produced outbound on behalf of sender.
func (b *Broadcaster) dispatch(sender *Session, out Outbound) {
	var op *Operator
	switch out.Kind {
	case TargetAll:
		op = b.ToAll()
	case TargetRoom:
		op = b.To(out.Room)
	case TargetSession:
		op = b.ToSession(out.Session)
	default:
		return
	}

	if err := op.Except(out.Except...).From(sender.ID()).Emit(out.Event, out.Payload); err != nil {
		b.log.Warn("dispatch failed", "event", out.Event, "error", err)
	}
}
