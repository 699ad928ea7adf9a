package session

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evently/eventchat/proto"
)

// Transport establishes connections to a room's chat endpoint.
type Transport interface {
	// Connect dials the room. The returned connection is owned by the
	// caller.
	Connect(ctx context.Context, roomID string) (Conn, error)
}

// Conn is an established bidirectional connection carrying envelopes.
type Conn interface {
	// Send transmits an envelope. A failure is a transport error, not a
	// protocol one; the caller converts it into queueing or reconnection.
	Send(env *proto.Envelope) error
	// Receive blocks until the next envelope arrives. It returns an error
	// once the connection is gone.
	Receive() (*proto.Envelope, error)
	// Ping probes that the connection is still writable. It is called
	// before the receive loop starts, so it must not depend on inbound
	// frames being pumped.
	Ping(ctx context.Context) error
	Close() error
}

const (
	dialTimeout = 10 * time.Second
	sendTimeout = 10 * time.Second
)

// WebSocketTransport dials the server's /ws/events/{eventID}/chat endpoint.
type WebSocketTransport struct {
	baseURL string
	token   string
	dialer  *websocket.Dialer
}

// NewWebSocketTransport creates a transport for the given base URL
// (e.g. "wss://host"). The participant token is passed as a query parameter
// on each dial.
func NewWebSocketTransport(baseURL, token string) *WebSocketTransport {
	return &WebSocketTransport{
		baseURL: baseURL,
		token:   token,
		dialer: &websocket.Dialer{
			HandshakeTimeout: dialTimeout,
		},
	}
}

func (t *WebSocketTransport) Connect(ctx context.Context, roomID string) (Conn, error) {
	endpoint := fmt.Sprintf("%s/ws/events/%s/chat?token=%s",
		t.baseURL, url.PathEscape(roomID), url.QueryEscape(t.token))

	ws, _, err := t.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsConn{ws: ws}, nil
}

// wsConn wraps a gorilla connection. Reads happen on a single goroutine (the
// session's receive loop); writes are serialized with a mutex because sends
// run as independent background tasks.
type wsConn struct {
	ws      *websocket.Conn
	writeMu sync.Mutex
}

func (c *wsConn) Send(env *proto.Envelope) error {
	b, err := env.Marshal()
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(sendTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

func (c *wsConn) Receive() (*proto.Envelope, error) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("read message: %w", err)
		}
		if mt != websocket.TextMessage {
			continue
		}
		env, err := proto.Unmarshal(data)
		if err != nil {
			// An undecodable inbound frame is isolated, not fatal.
			continue
		}
		return env, nil
	}
}

// Ping writes a ping control frame. A socket whose peer is gone fails the
// write; a reply is not awaited because nothing is reading yet.
func (c *wsConn) Ping(ctx context.Context) error {
	deadline := time.Now().Add(sendTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	return nil
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.writeMu.Unlock()
	return c.ws.Close()
}
