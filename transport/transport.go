// Package transport maintains one persistent websocket connection to the
// messaging server: it authenticates on open, dispatches inbound message
// envelopes onto a channel, keeps the connection alive with pings, and
// reconnects after a fixed delay on any abnormal close.
package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"decsecmsg/models"
)

// State represents the lifecycle state of the transport connection.
type State string

const (
	StateDisconnected  State = "DISCONNECTED"
	StateConnecting    State = "CONNECTING"
	StateAuthenticated State = "AUTHENTICATED"
	StateClosing       State = "CLOSING"
)

const (
	// TypeAuth identifies the outbound authentication envelope.
	TypeAuth = "auth"
	// TypeMessage identifies an inbound chat message envelope.
	TypeMessage = "message"
)

const (
	// DefaultReconnectDelay is the fixed wait before each reconnect attempt.
	DefaultReconnectDelay = 5 * time.Second

	writeWait        = 10 * time.Second
	pongWait         = 60 * time.Second
	pingPeriod       = (pongWait * 9) / 10
	inboundQueueSize = 64
)

// Envelope identifies the wire frame type. All frames are JSON objects with
// a type field; types other than the known ones are reserved and ignored.
type Envelope struct {
	Type string `json:"type"`
}

// AuthEnvelope is sent immediately after the connection opens.
type AuthEnvelope struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// MessageEnvelope delivers one chat message from the server.
type MessageEnvelope struct {
	Type    string         `json:"type"`
	Message models.Message `json:"message"`
}

// Handle is the connection surface handed to the conversation engine. Send,
// State, Inbound, and Close are total over both the live connection and the
// Unavailable stand-in, so callers never need to special-case a transport
// that could not be constructed.
type Handle interface {
	// Send transmits an envelope, reporting success. It transmits only while
	// authenticated and never panics.
	Send(v any) bool
	State() State
	Inbound() <-chan models.Message
	Close() error
}

// Options configures one transport connection.
type Options struct {
	// ServerURL is the http(s) origin of the messaging server; the websocket
	// endpoint is derived from it.
	ServerURL string
	// Username is carried in the auth envelope after every (re)connect.
	Username string
	// ReconnectDelay overrides DefaultReconnectDelay when positive.
	ReconnectDelay time.Duration
	// HandshakeTimeout bounds the websocket handshake.
	HandshakeTimeout time.Duration
}

// EndpointURL derives the websocket endpoint from an http(s) origin: the /ws
// path on the same host, scheme-upgraded to wss when the origin is secure.
func EndpointURL(serverURL string) (string, error) {
	parsed, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}

	switch parsed.Scheme {
	case "http", "ws":
		parsed.Scheme = "ws"
	case "https", "wss":
		parsed.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", errors.New("server url missing host")
	}

	parsed.Path = "/ws"
	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

// Dial starts a transport connection. When the endpoint cannot even be
// constructed from the server URL it returns the Unavailable stand-in instead
// of failing, so the caller keeps a usable (if inert) handle.
func Dial(options Options) Handle {
	endpoint, err := EndpointURL(options.ServerURL)
	if err != nil {
		log.Printf("transport: connection unavailable: %v", err)
		return Unavailable{}
	}

	delay := options.ReconnectDelay
	if delay <= 0 {
		delay = DefaultReconnectDelay
	}

	dialer := &websocket.Dialer{HandshakeTimeout: options.HandshakeTimeout}

	conn := &Conn{
		endpoint:       endpoint,
		username:       options.Username,
		reconnectDelay: delay,
		dialer:         dialer,
		state:          StateDisconnected,
		inbound:        make(chan models.Message, inboundQueueSize),
		closed:         make(chan struct{}),
	}
	go conn.run()

	return conn
}

// Unavailable is the inert stand-in for a transport that could not be
// constructed: it reports Disconnected, rejects all sends, delivers nothing,
// and closes as a no-op.
type Unavailable struct{}

func (Unavailable) Send(any) bool { return false }

func (Unavailable) State() State { return StateDisconnected }

func (Unavailable) Inbound() <-chan models.Message { return closedInbound }

func (Unavailable) Close() error { return nil }

var closedInbound = func() chan models.Message {
	ch := make(chan models.Message)
	close(ch)
	return ch
}()

// Conn is a live transport connection with automatic reconnection.
type Conn struct {
	endpoint       string
	username       string
	reconnectDelay time.Duration
	dialer         *websocket.Dialer

	mu    sync.Mutex
	ws    *websocket.Conn
	state State

	inbound   chan models.Message
	closed    chan struct{}
	closeOnce sync.Once
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Inbound returns the channel of dispatched inbound messages.
func (c *Conn) Inbound() <-chan models.Message {
	return c.inbound
}

// Send transmits an envelope while authenticated; it reports failure instead
// of returning an error so callers may simply retry later.
func (c *Conn) Send(v any) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateAuthenticated || c.ws == nil {
		return false
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteJSON(v); err != nil {
		log.Printf("transport: send failed: %v", err)
		return false
	}

	return true
}

// Close performs a caller-initiated shutdown: a normal close frame is sent
// and no reconnect is attempted.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		ws := c.ws
		c.mu.Unlock()

		close(c.closed)

		if ws != nil {
			deadline := time.Now().Add(writeWait)
			frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, frame, deadline)
			_ = ws.Close()
		}
	})

	return nil
}

func (c *Conn) run() {
	for {
		err := c.connectOnce()

		if c.closing() {
			return
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateDisconnected)
		log.Printf("transport: connection lost (%v), reconnecting in %s", err, c.reconnectDelay)

		select {
		case <-time.After(c.reconnectDelay):
		case <-c.closed:
			return
		}
	}
}

// connectOnce performs one full connect/auth/read cycle and returns the error
// that ended it.
func (c *Conn) connectOnce() error {
	c.setState(StateConnecting)

	ws, _, err := c.dialer.Dial(c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial %q: %w", c.endpoint, err)
	}

	select {
	case <-c.closed:
		_ = ws.Close()
		return nil
	default:
	}

	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := ws.WriteJSON(AuthEnvelope{Type: TypeAuth, Username: c.username}); err != nil {
		c.detach(ws)
		return fmt.Errorf("send auth envelope: %w", err)
	}

	// No auth ack is awaited; the connection is trusted usable on open.
	c.setState(StateAuthenticated)

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	pingStop := make(chan struct{})
	go c.pingLoop(ws, pingStop)
	defer close(pingStop)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.detach(ws)
			return err
		}
		c.dispatch(data)
	}
}

func (c *Conn) pingLoop(ws *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeWait)
			if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-stop:
			return
		case <-c.closed:
			return
		}
	}
}

// dispatch parses one inbound frame. Malformed envelopes are logged and
// dropped; unknown envelope types are reserved and ignored. Neither aborts
// frame processing.
func (c *Conn) dispatch(data []byte) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		log.Printf("transport: drop malformed frame: %v", err)
		return
	}

	switch envelope.Type {
	case TypeMessage:
		var frame MessageEnvelope
		if err := json.Unmarshal(data, &frame); err != nil {
			log.Printf("transport: drop malformed message frame: %v", err)
			return
		}
		select {
		case c.inbound <- frame.Message:
		default:
			log.Printf("transport: inbound queue full, dropping message %q", frame.Message.ID)
		}
	default:
	}
}

func (c *Conn) detach(ws *websocket.Conn) {
	c.mu.Lock()
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()
	_ = ws.Close()
}

func (c *Conn) closing() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

// setState transitions the connection state. Closing is terminal: once the
// caller has initiated shutdown no further transition applies.
func (c *Conn) setState(state State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateClosing {
		return
	}
	c.state = state
}
