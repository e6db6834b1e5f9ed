// Package transport implements the websocket layer: per-connection
// sessions with buffered outbound queues and ping/pong keepalive.
package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Config holds transport tuning.
type Config struct {
	// PingInterval is how often the server pings an idle connection.
	PingInterval time.Duration

	// PongTimeout is how long a connection may stay silent before the read
	// side gives up on it. Must exceed PingInterval.
	PongTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// MaxMessageSize limits inbound frame size in bytes.
	MaxMessageSize int64

	// SendBuffer is the per-session outbound queue length.
	SendBuffer int

	// CheckOrigin overrides the upgrade origin check. Nil allows any
	// origin; lock this down outside local development.
	CheckOrigin func(*http.Request) bool
}

// DefaultConfig returns the default transport tuning.
func DefaultConfig() *Config {
	return &Config{
		PingInterval:   25 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 1 << 20, // 1MB
		SendBuffer:     256,
	}
}

// Server upgrades HTTP requests to websocket sessions.
type Server struct {
	cfg       *Config
	upgrader  websocket.Upgrader
	sessions  sync.Map
	mu        sync.RWMutex
	onConnect func(*Session)
}

// NewServer creates a transport server. A nil config selects defaults.
func NewServer(cfg *Config) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	checkOrigin := cfg.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	return &Server{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// OnConnect sets the callback for new sessions. It runs before the session
// loops start, so message and close handlers attached inside it never miss
// a frame.
func (s *Server) OnConnect(fn func(*Session)) {
	s.mu.Lock()
	s.onConnect = fn
	s.mu.Unlock()
}

// ServeHTTP upgrades the request and starts a session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	sess := newSession(uuid.NewString(), conn, s.cfg)
	s.sessions.Store(sess.ID(), sess)
	sess.OnClose(func(string) {
		s.sessions.Delete(sess.ID())
	})

	s.mu.RLock()
	onConnect := s.onConnect
	s.mu.RUnlock()
	if onConnect != nil {
		onConnect(sess)
	}

	sess.Start()
}

// Session returns a live session by id.
func (s *Server) Session(id string) (*Session, bool) {
	val, ok := s.sessions.Load(id)
	if !ok {
		return nil, false
	}
	return val.(*Session), true
}

// Count returns the number of live sessions.
func (s *Server) Count() int {
	n := 0
	s.sessions.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

// Close tears down every live session.
func (s *Server) Close() {
	s.sessions.Range(func(_, value interface{}) bool {
		value.(*Session).Close("server shutdown")
		return true
	})
}
