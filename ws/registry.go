package ws

import (
	"log/slog"

	"github.com/evently/eventchat/pkg/syncmap"
	"github.com/evently/eventchat/proto"
)

// Registry maps each room to the socket handle that receives its broadcasts.
//
// Each room holds exactly one handle slot: AddConnection replaces any prior
// registration (last-writer-wins). Whether a room should instead hold a set
// of handles for true multi-participant fan-out is an open design question;
// for now a room has one downstream socket.
//
// The registry is owned by the server process: constructed at startup,
// discarded at shutdown. Tests build a fresh one per test.
type Registry struct {
	rooms  *syncmap.Map[string, Handle]
	logger *slog.Logger
}

type RegistryOption func(*Registry)

func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *Registry) {
		r.logger = logger
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		rooms:  syncmap.New[string, Handle](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddConnection registers the handle that will receive broadcasts for the
// room, replacing any prior handle. A replaced handle is not closed here; its
// own receive loop is responsible for cleaning it up.
func (r *Registry) AddConnection(roomID string, h Handle) {
	prev, replaced := r.rooms.Swap(roomID, h)
	if replaced && prev.ID() != h.ID() {
		r.logger.Info("replaced room connection",
			slog.String("room.id", roomID),
			slog.String("old.conn.id", prev.ID()),
			slog.String("new.conn.id", h.ID()))
	}
}

// RemoveConnection clears the room's registration. Removal is unconditional:
// a departing connection unregisters the room even if another handle has
// since taken the slot.
func (r *Registry) RemoveConnection(roomID string) {
	if prev, ok := r.rooms.LoadAndDelete(roomID); ok {
		r.logger.Debug("removed room connection",
			slog.String("room.id", roomID),
			slog.String("conn.id", prev.ID()))
	}
}

// Connection returns the handle currently registered for the room.
func (r *Registry) Connection(roomID string) (Handle, bool) {
	return r.rooms.Load(roomID)
}

// Broadcast dispatches the envelope to the room's registered handle as a
// fire-and-forget task. A send failure is logged and swallowed: a broken
// socket is cleaned up by its own receive-loop exit, not by the broadcaster.
func (r *Registry) Broadcast(roomID string, env *proto.Envelope) {
	h, ok := r.rooms.Load(roomID)
	if !ok {
		return
	}
	go func() {
		if err := h.Send(env); err != nil {
			r.logger.Debug("broadcast dropped",
				slog.String("room.id", roomID),
				slog.String("conn.id", h.ID()),
				slog.String("reason", err.Error()))
		}
	}()
}
