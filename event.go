package roomcast

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved event names. They belong to the protocol itself and are rejected
// when a client tries to emit them.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
	EventError      = "error"
)

// EventUserLeft is emitted to every room a session belonged to when that
// session is unregistered.
const EventUserLeft = "user-left"

func isReserved(name string) bool {
	switch name {
	case EventConnect, EventDisconnect, EventError:
		return true
	}
	return false
}

// Envelope is the transport-agnostic wire form of a single event.
//
// Inbound envelopes carry event, payload and an optional ackId. Outbound
// envelopes additionally carry the originating session and a timestamp.
// An acknowledgement reuses the inbound event name and echoes its ackId.
type Envelope struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
	From    string          `json:"from,omitempty"`
	TS      *time.Time      `json:"ts,omitempty"`
	AckID   string          `json:"ackId,omitempty"`
}

// DecodeEnvelope parses one inbound wire frame.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty envelope")
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to unmarshal envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("envelope has no event name")
	}

	return &env, nil
}

// Encode serializes the envelope for delivery.
func (e *Envelope) Encode() ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return data, nil
}

// Event is one validated inbound event. It is constructed at dispatch time,
// consumed once and never mutated.
type Event struct {
	Name    string
	Payload json.RawMessage
	Sender  SessionID
	AckID   string
	At      time.Time
}

// errorPayload is the body of a reserved "error" envelope.
type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ackPayload is the body of the automatic acknowledgement the router sends
// back when an inbound envelope carries an ackId.
type ackPayload struct {
	Status string `json:"status"`
}

func marshalPayload(payload interface{}) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}
