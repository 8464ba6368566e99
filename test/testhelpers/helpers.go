// Package testhelpers provides common utilities for the relay's integration tests.
//
// It starts servers on shared backends, dials rooms as anonymous or
// authenticated users, and reads frames and close codes back.
package testhelpers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/roomchat/internal/server"
)

// Origin is the browser origin the test servers allow.
const Origin = "http://localhost:8080"

// JWTSecret signs the tokens of test users.
const JWTSecret = "integration-secret"

// TestServer is a running relay instance.
type TestServer struct {
	*server.Server
	HTTP *httptest.Server
}

// StartServer runs a relay on its own in-memory backend.
func StartServer(t *testing.T, customize func(cfg *server.Config)) *TestServer {
	t.Helper()
	return StartServerOn(t, server.MemoryBackend(), customize)
}

// StartServerOn runs a relay on backend. Servers started on the same backend
// behave like separate processes sharing a broadcast medium.
func StartServerOn(t *testing.T, backend server.Backend, customize func(cfg *server.Config)) *TestServer {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = []string{Origin}
	cfg.JWTSecret = JWTSecret
	cfg.MaxMessageSize = 4096
	cfg.RateLimit.Burst = 100
	if customize != nil {
		customize(cfg)
	}

	s := server.New(*cfg, backend, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, s.Start())

	ts := &TestServer{Server: s, HTTP: httptest.NewServer(s.Handler())}
	t.Cleanup(func() {
		ts.HTTP.Close()
		_ = s.Shutdown(context.Background())
	})
	return ts
}

// Token returns a valid bearer token for name.
func (ts *TestServer) Token(t *testing.T, name string) string {
	t.Helper()
	tok, err := ts.Verifier().Sign(name, time.Hour)
	require.NoError(t, err)
	return tok
}

// RoomURL returns the WebSocket address of a room, with secret as a query
// parameter when non-empty.
func (ts *TestServer) RoomURL(room, secret string) string {
	u := "ws" + strings.TrimPrefix(ts.HTTP.URL, "http") + "/ws/chat/" + url.PathEscape(room) + "/"
	if secret != "" {
		u += "?" + url.Values{"secret": {secret}}.Encode()
	}
	return u
}

// DialOptions describe who connects and how.
type DialOptions struct {
	User   string
	Secret string
	Origin string
}

// Dial opens a WebSocket to room without waiting for the hub.
func (ts *TestServer) Dial(t *testing.T, room string, opts DialOptions) (*websocket.Conn, *http.Response, error) {
	t.Helper()

	header := http.Header{}
	header.Set("Origin", Origin)
	if opts.Origin != "" {
		header.Set("Origin", opts.Origin)
	}
	if opts.User != "" {
		header.Set("Authorization", "Bearer "+ts.Token(t, opts.User))
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := dialer.Dial(ts.RoomURL(room, opts.Secret), header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if conn != nil {
		t.Cleanup(func() { _ = conn.Close() })
	}
	return conn, resp, err
}

// Join dials room and waits until the server has registered the connection,
// so that it receives every notice published afterwards.
func (ts *TestServer) Join(t *testing.T, room string, opts DialOptions) *websocket.Conn {
	t.Helper()
	before := ts.Hub().RoomSize(room)
	conn, _, err := ts.Dial(t, room, opts)
	require.NoError(t, err, "dial %s", room)
	require.Eventually(t, func() bool {
		return ts.Hub().RoomSize(room) > before
	}, 2*time.Second, 5*time.Millisecond, "connection to %s never registered", room)
	return conn
}

// Frame is a decoded server frame.
type Frame struct {
	Message  string `json:"message"`
	Username string `json:"username"`
	Error    string `json:"error"`
}

// SendChat sends a chat frame; username is omitted when empty.
func SendChat(t *testing.T, conn *websocket.Conn, message, username string) {
	t.Helper()
	frame := map[string]string{"message": message}
	if username != "" {
		frame["username"] = username
	}
	require.NoError(t, conn.WriteJSON(frame))
}

// SendRaw sends data as a text frame.
func SendRaw(t *testing.T, conn *websocket.Conn, data string) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(data)))
}

// ReadFrame reads the next frame, failing the test after two seconds.
func ReadFrame(t *testing.T, conn *websocket.Conn) Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// ExpectClose reads until the connection closes and checks the close code.
func ExpectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.True(t, errors.As(err, &ce), "expected close frame, got %v", err)
		require.Equal(t, code, ce.Code, "close code")
		return
	}
}

// ExpectNoFrame asserts that nothing arrives within timeout.
func ExpectNoFrame(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	_, data, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frame, got %s", data)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return
	}
	t.Fatalf("unexpected error while waiting for silence: %v", err)
}

// Get performs a GET against the test server.
func (ts *TestServer) Get(t *testing.T, path string) *http.Response {
	t.Helper()
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, ts.HTTP.URL+path, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("Origin", Origin)
	resp, err := client.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}
