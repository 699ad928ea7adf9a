package ws

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/evently/eventchat/models"
	"github.com/evently/eventchat/proto"
	"github.com/evently/eventchat/store"
)

// Router accepts chat WebSocket connections and runs their receive loops.
// Each frame is decoded, handed to the persistence collaborator, then
// re-broadcast to the room. An undecodable frame is answered with an ERROR
// envelope to the sender only; it never reaches the room's broadcast path.
type Router struct {
	registry *Registry
	store    store.ChatStore
	auth     Authenticator
	upgrader websocket.Upgrader
	baseCtx  context.Context
	logger   *slog.Logger
}

type RouterOption func(*Router)

func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(rt *Router) {
		rt.logger = logger
	}
}

func WithBaseContext(ctx context.Context) RouterOption {
	return func(rt *Router) {
		rt.baseCtx = ctx
	}
}

func WithUpgrader(upgrader websocket.Upgrader) RouterOption {
	return func(rt *Router) {
		rt.upgrader = upgrader
	}
}

func NewRouter(registry *Registry, chatStore store.ChatStore, auth Authenticator, opts ...RouterOption) *Router {
	rt := &Router{
		registry: registry,
		store:    chatStore,
		auth:     auth,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		baseCtx: context.Background(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(rt)
	}
	return rt
}

// ServeHTTP handles GET /ws/events/{eventID}/chat: authenticate, upgrade,
// register the connection and run its receive loop until the peer goes away.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventID")
	if eventID == "" {
		http.Error(w, "missing event id", http.StatusBadRequest)
		return
	}

	principal, ok := rt.auth.Authenticate(r)
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	wsConn, err := rt.upgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.logger.Error(fmt.Sprintf("upgrade: %v", err))
		return
	}

	conn := newConn(wsConn, uuid.New().String(), eventID, principal, rt.logger)
	rt.serveConn(conn)
}

// serveConn runs the connection's lifecycle. The registry entry is cleared
// unconditionally on every exit path.
func (rt *Router) serveConn(conn *Conn) {
	rt.registry.AddConnection(conn.RoomID(), conn)
	go conn.writeLoop()

	rt.logger.Info("connection opened",
		slog.String("conn.id", conn.ID()),
		slog.String("room.id", conn.RoomID()),
		slog.String("user.id", conn.Principal().UserID))

	defer func() {
		rt.registry.RemoveConnection(conn.RoomID())
		conn.close()
		rt.broadcastPresence(conn, false)
		rt.logger.Info("connection closed",
			slog.String("conn.id", conn.ID()),
			slog.String("room.id", conn.RoomID()))
	}()

	rt.broadcastPresence(conn, true)

	conn.configureRead()
	for {
		data, ok := conn.readFrame()
		if !ok {
			return
		}
		rt.handleFrame(rt.baseCtx, conn, data)
	}
}

func (rt *Router) handleFrame(ctx context.Context, conn *Conn, data []byte) {
	env, err := proto.Unmarshal(data)
	if err != nil {
		rt.logger.Debug(fmt.Sprintf("undecodable frame: %v", err),
			slog.String("conn.id", conn.ID()))
		rt.sendError(conn, "malformed frame")
		return
	}

	switch env.Type {
	case proto.TypeMessage:
		rt.handleMessage(ctx, conn, env)
	case proto.TypeTyping, proto.TypeStoppedTyping:
		rt.handleTyping(ctx, conn, env.Type)
	case proto.TypeReaction:
		rt.handleReaction(ctx, conn, env)
	case proto.TypeReadReceipt:
		rt.handleReadReceipt(ctx, conn, env)
	case proto.TypeConnect, proto.TypeDisconnect:
		// Transport-lifecycle markers carry no work for the router.
	default:
		rt.sendError(conn, fmt.Sprintf("unsupported frame type: %s", env.Type))
	}
}

func (rt *Router) handleMessage(ctx context.Context, conn *Conn, env *proto.Envelope) {
	var p proto.MessagePayload
	if err := env.Payload(&p); err != nil {
		rt.sendError(conn, "malformed message payload")
		return
	}

	// The client generates message ids; stamp one only if it omitted it.
	if p.MessageID == "" {
		p.MessageID = uuid.New().String()
	}
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}
	p.EventID = conn.RoomID()
	p.SenderID = conn.Principal().UserID
	p.SenderName = conn.Principal().UserName

	saved, err := rt.store.SaveMessage(ctx, store.MessageCreateInput{
		ID:         p.MessageID,
		EventID:    p.EventID,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Content:    p.Content,
		Section:    p.Section,
		ParentID:   p.ParentID,
		SentAt:     p.Timestamp,
	})
	if err != nil {
		rt.logger.Error(fmt.Sprintf("save message: %v", err), slog.String("conn.id", conn.ID()))
		rt.sendError(conn, "message rejected")
		return
	}
	p.Timestamp = saved.SentAt

	rt.broadcast(conn, proto.TypeMessage, p)
}

func (rt *Router) handleTyping(ctx context.Context, conn *Conn, t proto.Type) {
	p := proto.TypingPayload{
		UserID:    conn.Principal().UserID,
		UserName:  conn.Principal().UserName,
		ChatID:    conn.RoomID(),
		Timestamp: time.Now().UTC(),
	}

	var err error
	if t == proto.TypeTyping {
		err = rt.store.SetTyping(ctx, models.TypingIndicator{
			UserID:         p.UserID,
			UserName:       p.UserName,
			ChatID:         p.ChatID,
			LastSeenTyping: p.Timestamp,
		})
	} else {
		err = rt.store.ClearTyping(ctx, p.ChatID, p.UserID)
	}
	if err != nil {
		rt.logger.Error(fmt.Sprintf("typing update: %v", err), slog.String("conn.id", conn.ID()))
	}

	rt.broadcast(conn, t, p)
}

func (rt *Router) handleReaction(ctx context.Context, conn *Conn, env *proto.Envelope) {
	var p proto.ReactionPayload
	if err := env.Payload(&p); err != nil {
		rt.sendError(conn, "malformed reaction payload")
		return
	}
	if p.MessageID == "" || p.Emoji == "" {
		rt.sendError(conn, "reaction missing message id or emoji")
		return
	}

	p.UserID = conn.Principal().UserID
	// The re-broadcast leaves the display name blank; clients resolve
	// display names locally.
	p.UserName = ""

	var (
		ok  bool
		err error
	)
	switch p.Action {
	case proto.ReactionAdd:
		ok, err = rt.store.AddReaction(ctx, p.MessageID, p.UserID, p.Emoji, time.Now().UTC())
	case proto.ReactionRemove:
		ok, err = rt.store.RemoveReaction(ctx, p.MessageID, p.UserID, p.Emoji)
	default:
		rt.sendError(conn, fmt.Sprintf("unsupported reaction action: %s", p.Action))
		return
	}
	if err != nil {
		rt.logger.Error(fmt.Sprintf("reaction %s: %v", p.Action, err), slog.String("conn.id", conn.ID()))
		rt.sendError(conn, "reaction rejected")
		return
	}
	if !ok {
		rt.sendError(conn, "message not found")
		return
	}

	rt.broadcast(conn, proto.TypeReaction, p)
}

func (rt *Router) handleReadReceipt(ctx context.Context, conn *Conn, env *proto.Envelope) {
	var p proto.ReadReceiptPayload
	if err := env.Payload(&p); err != nil {
		rt.sendError(conn, "malformed read receipt payload")
		return
	}
	if p.MessageID == "" {
		rt.sendError(conn, "read receipt missing message id")
		return
	}

	p.UserID = conn.Principal().UserID
	p.UserName = ""
	if p.Timestamp.IsZero() {
		p.Timestamp = time.Now().UTC()
	}

	ok, err := rt.store.MarkRead(ctx, p.MessageID, p.UserID, p.Timestamp)
	if err != nil {
		rt.logger.Error(fmt.Sprintf("mark read: %v", err), slog.String("conn.id", conn.ID()))
		rt.sendError(conn, "read receipt rejected")
		return
	}
	if !ok {
		rt.sendError(conn, "message not found")
		return
	}

	rt.broadcast(conn, proto.TypeReadReceipt, p)
}

func (rt *Router) broadcastPresence(conn *Conn, online bool) {
	now := time.Now().UTC()
	rt.broadcast(conn, proto.TypePresence, proto.PresencePayload{
		UserID:   conn.Principal().UserID,
		UserName: conn.Principal().UserName,
		ChatID:   conn.RoomID(),
		IsOnline: online,
		LastSeen: &now,
	})
}

func (rt *Router) broadcast(conn *Conn, t proto.Type, payload any) {
	env, err := proto.NewEnvelope(t, payload)
	if err != nil {
		rt.logger.Error(fmt.Sprintf("build %s envelope: %v", t, err))
		return
	}
	rt.registry.Broadcast(conn.RoomID(), env)
}

// sendError answers the offending sender only. Errors are never broadcast.
func (rt *Router) sendError(conn *Conn, message string) {
	env, err := proto.NewEnvelope(proto.TypeError, proto.ErrorPayload{
		Success: false,
		Message: message,
	})
	if err != nil {
		rt.logger.Error(fmt.Sprintf("build error envelope: %v", err))
		return
	}
	if err := conn.Send(env); err != nil {
		rt.logger.Debug(fmt.Sprintf("send error envelope: %v", err),
			slog.String("conn.id", conn.ID()))
	}
}
