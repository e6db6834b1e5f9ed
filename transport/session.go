package transport

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowClient    = errors.New("slow client")
)

// Session is one live websocket connection. Reads and writes run on their
// own goroutines so a slow peer never blocks anyone else: outbound frames
// go through a buffered queue and a full queue fails the enqueue instead
// of blocking the caller.
type Session struct {
	id       string
	conn     *websocket.Conn
	cfg      *Config
	outgoing chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closed    atomic.Bool
	mu        sync.RWMutex
	onMessage func([]byte)
	onClose   []func(string)
}

func newSession(id string, conn *websocket.Conn, cfg *Config) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:       id,
		conn:     conn,
		cfg:      cfg,
		outgoing: make(chan []byte, cfg.SendBuffer),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Context is cancelled once the session closes.
func (s *Session) Context() context.Context {
	return s.ctx
}

// Deliver enqueues one frame for the write loop. It never blocks: it fails
// with ErrSessionClosed after close and ErrSlowClient when the peer cannot
// keep up with its queue.
func (s *Session) Deliver(data []byte) error {
	select {
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
	}

	select {
	case s.outgoing <- data:
		return nil
	case <-s.ctx.Done():
		return ErrSessionClosed
	default:
		return ErrSlowClient
	}
}

// WriteNow writes one frame directly, bypassing the outbound queue. It is
// for frames that must reach the peer while the write loop is not running,
// such as a rejection sent before the session is ever started. Callers must
// not race it with a running write loop.
func (s *Session) WriteNow(data []byte) error {
	if s.closed.Load() {
		return ErrSessionClosed
	}
	_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// OnMessage sets the handler for inbound frames. Set it before Start.
func (s *Session) OnMessage(fn func([]byte)) {
	s.mu.Lock()
	s.onMessage = fn
	s.mu.Unlock()
}

// OnClose appends a close callback. All callbacks run once, in order, when
// the session closes.
func (s *Session) OnClose(fn func(string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, fn)
	s.mu.Unlock()
}

// Start launches the read and write loops.
func (s *Session) Start() {
	go s.writeLoop()
	go s.readLoop()
}

// Close tears the connection down exactly once. The reason is sent to the
// peer in the websocket close frame. Later calls return immediately, so a
// close callback may itself call Close without blocking.
func (s *Session) Close(reason string) {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}

	s.cancel()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = s.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	_ = s.conn.Close()

	s.mu.RLock()
	callbacks := s.onClose
	s.mu.RUnlock()
	for _, fn := range callbacks {
		fn(reason)
	}
}

func (s *Session) readLoop() {
	defer s.Close("read error")

	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Close("client closed")
			}
			return
		}
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		s.mu.RLock()
		handler := s.onMessage
		s.mu.RUnlock()
		if handler != nil {
			handler(data)
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case data := <-s.outgoing:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.Close("write error")
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.Close("ping failure")
				return
			}
		case <-s.ctx.Done():
			return
		}
	}
}
