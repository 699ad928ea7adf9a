package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/evently/eventchat/proto"
)

// fakeConn is a scriptable in-memory connection. Outbound envelopes are
// recorded; inbound ones are fed through deliver.
type fakeConn struct {
	mu      sync.Mutex
	sent    []*proto.Envelope
	sendErr   error
	pingErr   error
	sendCalls int
	// sendGate, when set, blocks Send until the channel is closed. Tests
	// use it to pin down the interleaving of a send with other calls.
	sendGate chan struct{}

	inbox     chan *proto.Envelope
	closeOnce sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{inbox: make(chan *proto.Envelope, 16)}
}

func (c *fakeConn) Send(env *proto.Envelope) error {
	c.mu.Lock()
	c.sendCalls++
	gate := c.sendGate
	c.mu.Unlock()
	if gate != nil {
		<-gate
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, env)
	return nil
}

func (c *fakeConn) Receive() (*proto.Envelope, error) {
	env, ok := <-c.inbox
	if !ok {
		return nil, fmt.Errorf("connection closed")
	}
	return env, nil
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.inbox) })
	return nil
}

// deliver feeds an inbound envelope to the session's receive loop.
func (c *fakeConn) deliver(env *proto.Envelope) {
	c.inbox <- env
}

func (c *fakeConn) sentEnvelopes() []*proto.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*proto.Envelope, len(c.sent))
	copy(out, c.sent)
	return out
}

func (c *fakeConn) sendCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sendCalls
}

func (c *fakeConn) setSendErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendErr = err
}

// fakeTransport hands out prepared connections in order. Dials beyond the
// prepared list fail, as do the first failDials attempts.
type fakeTransport struct {
	mu        sync.Mutex
	conns     []*fakeConn
	failDials int
	dials     int
}

func (t *fakeTransport) Connect(ctx context.Context, roomID string) (Conn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.dials++
	if t.failDials > 0 {
		t.failDials--
		return nil, fmt.Errorf("dial refused")
	}
	if len(t.conns) == 0 {
		return nil, fmt.Errorf("no connection scripted")
	}
	c := t.conns[0]
	t.conns = t.conns[1:]
	return c, nil
}

func (t *fakeTransport) add(conns ...*fakeConn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.conns = append(t.conns, conns...)
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dials
}

// fastReconnect keeps test reconnection delays in the microsecond range.
func fastReconnect() ReconnectConfig {
	return ReconnectConfig{
		BaseDelay:   0,
		MaxDelay:    0,
		MaxAttempts: 5,
		VerifyWait:  0,
	}
}
