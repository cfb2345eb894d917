package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const testReconnectDelay = 50 * time.Millisecond

func newWSServer(t *testing.T, handler func(ws *websocket.Conn)) *httptest.Server {
	t.Helper()

	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws" {
			http.NotFound(w, r)
			return
		}
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade websocket: %v", err)
			return
		}
		handler(ws)
	}))
	t.Cleanup(server.Close)

	return server
}

// drainUntilClose keeps the server side of a test connection alive until the
// client disconnects, so handlers return and the test server can shut down.
func drainUntilClose(ws *websocket.Conn) {
	_ = ws.SetReadDeadline(time.Now().Add(10 * time.Second))
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			return
		}
	}
}

func readAuth(t *testing.T, ws *websocket.Conn) AuthEnvelope {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Errorf("read auth envelope: %v", err)
		return AuthEnvelope{}
	}

	var auth AuthEnvelope
	if err := json.Unmarshal(data, &auth); err != nil {
		t.Errorf("decode auth envelope: %v", err)
	}

	return auth
}

func waitForState(t *testing.T, handle Handle, want State) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if handle.State() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected state %q, still %q", want, handle.State())
}

func TestConnectSendsAuthEnvelope(t *testing.T) {
	authCh := make(chan AuthEnvelope, 1)
	server := newWSServer(t, func(ws *websocket.Conn) {
		authCh <- readAuth(t, ws)
		drainUntilClose(ws)
	})

	handle := Dial(Options{ServerURL: server.URL, Username: "alice", ReconnectDelay: testReconnectDelay})
	defer handle.Close()

	select {
	case auth := <-authCh:
		if auth.Type != TypeAuth || auth.Username != "alice" {
			t.Fatalf("unexpected auth envelope %+v", auth)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for auth envelope")
	}

	waitForState(t, handle, StateAuthenticated)
	if !handle.Send(Envelope{Type: "noop"}) {
		t.Fatalf("expected Send to succeed while authenticated")
	}
}

func TestInboundDispatchToleratesMalformedFrames(t *testing.T) {
	server := newWSServer(t, func(ws *websocket.Conn) {
		readAuth(t, ws)

		frames := []string{
			"{not json",
			`{"type":"presence","userId":"c9"}`,
			`{"type":"message","message":{"id":"m1","senderId":"c9","receiverId":"u1","content":"ct","encrypted":true,"timestamp":1700000000000}}`,
		}
		for _, frame := range frames {
			if err := ws.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				t.Errorf("write frame: %v", err)
				return
			}
		}
		drainUntilClose(ws)
	})

	handle := Dial(Options{ServerURL: server.URL, Username: "alice", ReconnectDelay: testReconnectDelay})
	defer handle.Close()

	select {
	case message := <-handle.Inbound():
		if message.ID != "m1" || message.SenderID != "c9" || !message.Encrypted {
			t.Fatalf("unexpected inbound message %+v", message)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for inbound message")
	}

	select {
	case message := <-handle.Inbound():
		t.Fatalf("unexpected extra inbound message %+v", message)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestAbnormalCloseTriggersReconnectWithAuth(t *testing.T) {
	auths := make(chan AuthEnvelope, 4)
	var connects atomic.Int32
	server := newWSServer(t, func(ws *websocket.Conn) {
		attempt := connects.Add(1)
		auths <- readAuth(t, ws)
		if attempt == 1 {
			// Abnormal termination: no close frame at all.
			_ = ws.Close()
			return
		}
		drainUntilClose(ws)
	})

	handle := Dial(Options{ServerURL: server.URL, Username: "alice", ReconnectDelay: testReconnectDelay})
	defer handle.Close()

	for i := 0; i < 2; i++ {
		select {
		case auth := <-auths:
			if auth.Username != "alice" {
				t.Fatalf("unexpected auth envelope %+v", auth)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timed out waiting for auth %d", i+1)
		}
	}

	waitForState(t, handle, StateAuthenticated)
}

func TestNormalCloseDoesNotReconnect(t *testing.T) {
	connects := make(chan struct{}, 4)
	server := newWSServer(t, func(ws *websocket.Conn) {
		connects <- struct{}{}
		readAuth(t, ws)

		frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
		_ = ws.WriteControl(websocket.CloseMessage, frame, time.Now().Add(time.Second))
	})

	handle := Dial(Options{ServerURL: server.URL, Username: "alice", ReconnectDelay: testReconnectDelay})
	defer handle.Close()

	select {
	case <-connects:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for first connection")
	}

	waitForState(t, handle, StateDisconnected)

	select {
	case <-connects:
		t.Fatalf("expected no reconnect after normal close")
	case <-time.After(4 * testReconnectDelay):
	}

	if handle.Send(Envelope{Type: "noop"}) {
		t.Fatalf("expected Send to fail after disconnect")
	}
}

func TestUnavailableHandleIsTotal(t *testing.T) {
	handle := Dial(Options{ServerURL: "://not a url", Username: "alice"})

	if _, ok := handle.(Unavailable); !ok {
		t.Fatalf("expected Unavailable handle, got %T", handle)
	}
	if handle.State() != StateDisconnected {
		t.Fatalf("expected Disconnected state, got %q", handle.State())
	}
	if handle.Send(Envelope{Type: "noop"}) {
		t.Fatalf("expected Send to be rejected")
	}
	if err := handle.Close(); err != nil {
		t.Fatalf("expected Close to be a no-op, got %v", err)
	}

	select {
	case _, ok := <-handle.Inbound():
		if ok {
			t.Fatalf("expected no inbound messages")
		}
	default:
		t.Fatalf("expected inbound channel to be closed")
	}
}

func TestEndpointURLSchemeSelection(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"http://chat.example.com", "ws://chat.example.com/ws"},
		{"https://chat.example.com", "wss://chat.example.com/ws"},
		{"https://chat.example.com/app?tab=1", "wss://chat.example.com/ws"},
	}

	for _, tc := range cases {
		got, err := EndpointURL(tc.in)
		if err != nil {
			t.Fatalf("EndpointURL(%q) failed: %v", tc.in, err)
		}
		if got != tc.want {
			t.Fatalf("EndpointURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	if _, err := EndpointURL("ftp://chat.example.com"); err == nil {
		t.Fatalf("expected error for unsupported scheme")
	}
}
