package ws

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/evently/eventchat/proto"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	sendBufferSize = 16
)

// Conn wraps a websocket connection for one authenticated participant in one
// room. Writes go through a buffered channel drained by a single writer
// goroutine; reads happen on the router's receive loop.
type Conn struct {
	ws        *websocket.Conn
	id        string
	roomID    string
	principal Principal
	send      chan *proto.Envelope
	done      chan struct{}
	closeOnce sync.Once
	logger    *slog.Logger
}

func newConn(ws *websocket.Conn, id, roomID string, principal Principal, logger *slog.Logger) *Conn {
	return &Conn{
		ws:        ws,
		id:        id,
		roomID:    roomID,
		principal: principal,
		send:      make(chan *proto.Envelope, sendBufferSize),
		done:      make(chan struct{}),
		logger:    logger,
	}
}

func (c *Conn) ID() string {
	return c.id
}

func (c *Conn) RoomID() string {
	return c.roomID
}

func (c *Conn) Principal() Principal {
	return c.principal
}

// Send queues an envelope for the writer goroutine. It never blocks: a full
// buffer or a closed connection yields an error for the caller to swallow.
func (c *Conn) Send(env *proto.Envelope) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- env:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
		c.logger.Info("exited write loop", slog.String("conn.id", c.id))
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			b, err := env.Marshal()
			if err != nil {
				c.logger.Error(fmt.Sprintf("marshal envelope: %v", err))
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
				c.logger.Error(fmt.Sprintf("write message: %v", err))
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Error(fmt.Sprintf("write ping: %v", err))
				return
			}
		}
	}
}

// readFrame blocks until the next text frame arrives. The bool result is
// false once the connection is gone.
func (c *Conn) readFrame() ([]byte, bool) {
	for {
		mt, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug(fmt.Sprintf("expected close: %v", err))
			} else if websocket.IsUnexpectedCloseError(err) {
				c.logger.Error(fmt.Sprintf("unexpected close: %v", err))
			} else {
				c.logger.Error(fmt.Sprintf("read message: %v", err))
			}
			return nil, false
		}
		if mt != websocket.TextMessage {
			c.logger.Debug("dropped non-text frame", slog.String("conn.id", c.id))
			continue
		}
		return data, true
	}
}

func (c *Conn) configureRead() {
	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}
