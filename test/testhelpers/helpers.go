// Package testhelpers provides common utilities and helper functions for
// testing the relay.
//
// This package contains reusable test utilities that are shared across unit
// and integration tests: starting test servers, dialing the WebSocket
// endpoint with an accepted Origin, and reading envelopes with deadlines.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// WebSocketURL converts a test server's base URL into its ws:// endpoint.
func WebSocketURL(t *testing.T, baseURL string) string {
	t.Helper()
	if !strings.HasPrefix(baseURL, "http") {
		t.Fatalf("Unexpected test server URL: %s", baseURL)
	}
	return "ws" + strings.TrimPrefix(baseURL, "http") + "/ws"
}

// DialRelay opens a WebSocket connection to the test server, presenting the
// server's own URL as Origin so the allow-list accepts it.
func DialRelay(t *testing.T, baseURL string) *websocket.Conn {
	t.Helper()
	header := http.Header{"Origin": []string{baseURL}}
	conn, resp, err := websocket.DefaultDialer.Dial(WebSocketURL(t, baseURL), header)
	if err != nil {
		t.Fatalf("Failed to dial relay: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn
}

// SendEnvelope marshals v and writes it as a single text frame.
func SendEnvelope(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	frame, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		t.Fatalf("Failed to write envelope: %v", err)
	}
}

// ReadEnvelope reads one frame and decodes it into a generic map, failing the
// test if nothing arrives before the timeout.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]any {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read envelope: %v", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("Failed to decode envelope %q: %v", raw, err)
	}
	return out
}

// ReadUntil keeps reading envelopes until match returns true, failing the
// test when the timeout elapses first. It returns the matching envelope.
func ReadUntil(t *testing.T, conn *websocket.Conn, timeout time.Duration, match func(map[string]any) bool) map[string]any {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			t.Fatalf("Timed out waiting for matching envelope")
		}
		env := ReadEnvelope(t, conn, remaining)
		if match(env) {
			return env
		}
	}
}

// ExpectNoEnvelope asserts that nothing arrives on conn within timeout.
func ExpectNoEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, raw, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no envelope, but received %q", raw)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of envelope: %v", err)
}

// UsernamesIn extracts the usernames from a users control envelope.
func UsernamesIn(env map[string]any) []string {
	raw, _ := env["users"].([]any)
	var names []string
	for _, entry := range raw {
		if m, ok := entry.(map[string]any); ok {
			if name, ok := m["username"].(string); ok {
				names = append(names, name)
			}
		}
	}
	return names
}
