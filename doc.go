// Package roomcast provides a real-time event-messaging server with
// room-scoped broadcast over WebSocket.
//
// A Hub tracks live sessions, routes named inbound events to registered
// handlers and fans outbound events out to an explicit target set: every
// open session, a single session, or the members of a room. Rooms for 1:1
// conversations get deterministic identifiers derived from the pair of
// participant identities.
//
// # Quick start
//
//	hub := roomcast.NewHub(nil)
//
//	hub.OnConnect(func(sess *roomcast.Session) {
//	    log.Printf("connected: %s", sess.ID())
//	})
//
//	hub.OnEvent("chat-message", func(ctx context.Context, sender *roomcast.Session, payload json.RawMessage) ([]roomcast.Outbound, error) {
//	    var msg struct {
//	        Room string `json:"room"`
//	        Text string `json:"text"`
//	    }
//	    if err := json.Unmarshal(payload, &msg); err != nil {
//	        return nil, err
//	    }
//	    out := roomcast.ToRoom(roomcast.RoomID(msg.Room), "chat-message", msg).ExceptSender(sender.ID())
//	    return []roomcast.Outbound{out}, nil
//	})
//
//	http.Handle("/ws", hub)
//	http.ListenAndServe(":3000", nil)
//
// # Wire protocol
//
// Clients exchange JSON envelopes over a websocket:
//
//	{"event": "chat-message", "payload": {...}, "ackId": "42"}
//
// The event names connect, disconnect and error are reserved for the
// protocol. When an inbound envelope carries an ackId the router sends a
// correlated acknowledgement envelope back to the sender after dispatch.
//
// # Rooms
//
//	room := roomcast.DeriveRoomID("alice", "bob") // commutative, stable
//	hub.Join(sess.ID(), room)
//	hub.EmitToRoom(room, "chat-message", msg)
//	hub.Leave(sess.ID(), room)
//
// Room membership holds session identifiers only; when a session
// disconnects it is pruned from every room and each of those rooms gets a
// user-left event.
//
// # Delivery semantics
//
// Fan-out resolves its target set once, at emit time. Delivery to each
// recipient is fire-and-forget: a broken or slow connection is skipped and
// logged, never aborting delivery to the rest. Two events emitted in
// sequence by one sender are observed in that order by every shared
// recipient; no ordering holds across senders.
//
// # History
//
// An optional history store (see the history package) receives a copy of
// configured room events before they are broadcast. Store failures are
// counted and logged but never delay or abort the broadcast.
package roomcast
