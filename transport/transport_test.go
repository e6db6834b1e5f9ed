package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.PingInterval = 50 * time.Millisecond
	cfg.PongTimeout = 500 * time.Millisecond
	cfg.WriteTimeout = time.Second
	return cfg
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(url, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestSession_RoundTrip(t *testing.T) {
	req := require.New(t)
	server := NewServer(testConfig())

	sessions := make(chan *Session, 1)
	inbound := make(chan []byte, 8)
	server.OnConnect(func(sess *Session) {
		sess.OnMessage(func(data []byte) {
			inbound <- append([]byte(nil), data...)
		})
		sessions <- sess
	})

	ts := httptest.NewServer(server)
	defer ts.Close()
	defer server.Close()

	conn := dial(t, ts.URL)

	var sess *Session
	select {
	case sess = <-sessions:
	case <-time.After(time.Second):
		t.Fatal("no session")
	}
	req.NotEmpty(sess.ID())
	req.Equal(1, server.Count())

	// Client -> server.
	req.NoError(conn.WriteMessage(websocket.TextMessage, []byte("hello")))
	select {
	case data := <-inbound:
		req.Equal("hello", string(data))
	case <-time.After(time.Second):
		t.Fatal("inbound frame not seen")
	}

	// Server -> client.
	req.NoError(sess.Deliver([]byte("world")))
	req.NoError(conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, data, err := conn.ReadMessage()
	req.NoError(err)
	req.Equal("world", string(data))
}

func TestSession_CloseRunsCallbacksOnce(t *testing.T) {
	req := require.New(t)
	server := NewServer(testConfig())

	sessions := make(chan *Session, 1)
	server.OnConnect(func(sess *Session) { sessions <- sess })

	ts := httptest.NewServer(server)
	defer ts.Close()

	dial(t, ts.URL)
	sess := <-sessions

	closed := make(chan string, 4)
	sess.OnClose(func(reason string) { closed <- reason })

	sess.Close("going away")
	sess.Close("again")

	select {
	case reason := <-closed:
		req.Equal("going away", reason)
	case <-time.After(time.Second):
		t.Fatal("close callback not run")
	}
	select {
	case reason := <-closed:
		t.Fatalf("close callback ran twice: %s", reason)
	case <-time.After(50 * time.Millisecond):
	}

	req.ErrorIs(sess.Deliver([]byte("late")), ErrSessionClosed)

	// The session drops out of the server's table.
	require.Eventually(t, func() bool { return server.Count() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSession_CloseCallbackMayCloseAgain(t *testing.T) {
	req := require.New(t)
	server := NewServer(testConfig())

	sessions := make(chan *Session, 1)
	server.OnConnect(func(sess *Session) { sessions <- sess })

	ts := httptest.NewServer(server)
	defer ts.Close()

	dial(t, ts.URL)
	sess := <-sessions

	// A registry tearing a session down calls back into Close; that
	// reentrant call must return instead of blocking.
	ran := make(chan struct{}, 1)
	sess.OnClose(func(reason string) {
		sess.Close("reentrant")
		ran <- struct{}{}
	})

	done := make(chan struct{})
	go func() {
		sess.Close("going away")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close deadlocked on reentrant call")
	}
	req.Len(ran, 1)
}

func TestSession_SlowClientFailsEnqueue(t *testing.T) {
	req := require.New(t)
	cfg := testConfig()
	cfg.SendBuffer = 1

	// No loops started: the queue fills up instead of draining.
	sess := newSession("s1", nil, cfg)
	req.NoError(sess.Deliver([]byte("first")))
	req.ErrorIs(sess.Deliver([]byte("second")), ErrSlowClient)
}

func TestSession_ClientDisconnectClosesSession(t *testing.T) {
	server := NewServer(testConfig())

	sessions := make(chan *Session, 1)
	closed := make(chan string, 1)
	server.OnConnect(func(sess *Session) {
		sess.OnClose(func(reason string) { closed <- reason })
		sessions <- sess
	})

	ts := httptest.NewServer(server)
	defer ts.Close()

	conn := dial(t, ts.URL)
	<-sessions

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	conn.Close()

	select {
	case <-closed:
	case <-time.After(time.Second):
		t.Fatal("server session did not close")
	}
}

func TestServer_HandshakeRejectsPlainHTTP(t *testing.T) {
	server := NewServer(testConfig())
	ts := httptest.NewServer(server)
	defer ts.Close()

	resp, err := http.Get(ts.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
