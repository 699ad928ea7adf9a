// Package ws implements the server side of the chat WebSocket: the per-room
// connection registry and the message router that decodes frames, delegates
// persistence and fans results back out to the room.
package ws

import (
	"errors"
	"net/http"

	"github.com/evently/eventchat/proto"
)

var (
	// ErrConnClosed is returned by Send after the connection has shut down.
	ErrConnClosed = errors.New("connection closed")
	// ErrSendBufferFull is returned when the peer is not draining its send
	// queue. The broadcaster treats this the same as any other send failure.
	ErrSendBufferFull = errors.New("send buffer full")
)

// Handle is the registry's view of a connection: something envelopes can be
// dispatched to.
type Handle interface {
	// ID returns the unique identifier of the connection.
	ID() string
	// Send queues an envelope for delivery to the peer. It never blocks.
	Send(env *proto.Envelope) error
}

// Principal identifies the authenticated user behind a connection.
type Principal struct {
	UserID   string
	UserName string
}

// Authenticator resolves the principal of an incoming request before the
// connection is upgraded. Session issuance lives outside this module; an
// Authenticator only verifies.
type Authenticator interface {
	// Authenticate returns the request's principal, or false if the request
	// carries no valid credentials. It must be safe for concurrent use.
	Authenticate(r *http.Request) (Principal, bool)
}

// AuthenticatorFunc adapts a function to the Authenticator interface.
type AuthenticatorFunc func(r *http.Request) (Principal, bool)

func (f AuthenticatorFunc) Authenticate(r *http.Request) (Principal, bool) {
	return f(r)
}
