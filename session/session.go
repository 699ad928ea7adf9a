// Package session implements the client side of an event chat room: a live
// connection with automatic reconnection, an offline queue for messages
// composed while disconnected, and an in-memory view of the room (messages,
// reactions, read receipts, typing indicators, presence) kept consistent by
// ID-based deduplication.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evently/eventchat/models"
	"github.com/evently/eventchat/proto"
)

const (
	// typingDebounce is how long after the last StartTyping call a
	// STOPPED_TYPING frame is sent automatically.
	typingDebounce = models.TypingTTL
	// selfTypingKey is the timer-table key for the local debounce timer.
	// Remote users' TTL timers use a per-user key, so the keys never collide.
	selfTypingKey = "self/typing"

	eventBufferSize = 64
)

// Session is a client-side chat session for one participant. A session serves
// one room at a time; calling Connect for a new room tears the previous room
// down first.
//
// All exported methods are safe for concurrent use.
type Session struct {
	transport   Transport
	reconnector *Reconnector
	selfID      string
	selfName    string

	mu        sync.Mutex
	roomID    string
	epoch     int
	conn      Conn
	connected bool
	// pending holds a connection dialed by the reconnector until it has
	// been verified and adopted.
	pending      Conn
	pendingEpoch int

	messages     map[string]*models.ChatMessage
	order        []string
	queue        offlineQueue
	typing       map[string]models.TypingIndicator
	participants map[string]models.ChatParticipant

	timers *timerTable
	events chan Event

	typingTTL    time.Duration
	reconnectCfg ReconnectConfig
	logger       *slog.Logger
}

type SessionOption func(*Session)

func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSessionReconnectConfig overrides the retry behavior of the session's
// reconnector.
func WithSessionReconnectConfig(cfg ReconnectConfig) SessionOption {
	return func(s *Session) {
		s.reconnectCfg = cfg
	}
}

// WithTypingTTL overrides how long a remote typing indicator survives
// without a refresh. Tests use short values.
func WithTypingTTL(d time.Duration) SessionOption {
	return func(s *Session) {
		s.typingTTL = d
	}
}

func NewSession(transport Transport, selfID, selfName string, opts ...SessionOption) *Session {
	s := &Session{
		transport:    transport,
		selfID:       selfID,
		selfName:     selfName,
		messages:     make(map[string]*models.ChatMessage),
		typing:       make(map[string]models.TypingIndicator),
		participants: make(map[string]models.ChatParticipant),
		timers:       newTimerTable(),
		events:       make(chan Event, eventBufferSize),
		typingTTL:    models.TypingTTL,
		reconnectCfg: DefaultReconnectConfig(),
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.reconnector = NewReconnector(s.dialRoom, s.verifyPending,
		WithReconnectConfig(s.reconnectCfg),
		WithReconnectorLogger(s.logger),
		OnAutoResult(s.onAutoReconnect))
	return s
}

// Events is the stream of lifecycle notifications for the UI layer. Events
// are dropped, not blocked on, when the consumer falls behind.
func (s *Session) Events() <-chan Event {
	return s.events
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	default:
		s.logger.Debug("event buffer full, dropping event",
			slog.String("event.type", string(ev.Type)))
	}
}

// State returns the connection state of the current room.
func (s *Session) State() ConnectionState {
	return s.reconnector.State()
}

// Room returns the room the session is currently attached to.
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

// Connect attaches the session to a room and establishes a connection,
// retrying with backoff until the attempt budget is spent. Attaching to a
// different room discards the previous room's local state; reconnecting to
// the same room keeps it, so queued messages survive a user-triggered retry
// after abandonment.
func (s *Session) Connect(ctx context.Context, roomID string) error {
	s.reconnector.StopAutoReconnect()

	s.mu.Lock()
	s.epoch++
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.timers.cancelAll()
	// Typing indicators are transient and their TTL timers were just
	// cancelled; drop them on every connect so none outlives its TTL.
	// Anyone still typing re-announces over the fresh connection.
	s.typing = make(map[string]models.TypingIndicator)
	if s.roomID != roomID {
		s.messages = make(map[string]*models.ChatMessage)
		s.order = nil
		s.queue.clear()
		s.participants = make(map[string]models.ChatParticipant)
	}
	s.roomID = roomID
	s.mu.Unlock()

	if err := s.reconnector.Connect(ctx, roomID); err != nil {
		return err
	}
	s.adoptPending()
	return nil
}

// Disconnect tears down the current connection and stops any background
// reconnection. Local state, including the offline queue, is kept.
func (s *Session) Disconnect() {
	s.reconnector.StopAutoReconnect()

	s.mu.Lock()
	s.epoch++
	wasConnected := s.connected
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
	s.timers.cancel(selfTypingKey)
	s.mu.Unlock()

	if wasConnected {
		s.emit(Event{Type: EventDisconnected})
	}
}

// dialRoom is the reconnector's dial hook. The fresh connection is parked in
// pending until verification passes.
func (s *Session) dialRoom(ctx context.Context, roomID string) error {
	c, err := s.transport.Connect(ctx, roomID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Close()
	}
	s.pending = c
	s.pendingEpoch = s.epoch
	s.mu.Unlock()
	return nil
}

// verifyPending is the reconnector's liveness hook for a freshly dialed
// connection.
func (s *Session) verifyPending(ctx context.Context) error {
	s.mu.Lock()
	c := s.pending
	s.mu.Unlock()
	if c == nil {
		return fmt.Errorf("no pending connection")
	}
	return c.Ping(ctx)
}

// adoptPending promotes the verified pending connection to the live one and
// starts its receive loop. A pending connection dialed for a superseded
// epoch is closed instead.
func (s *Session) adoptPending() {
	s.mu.Lock()
	c := s.pending
	s.pending = nil
	if c == nil {
		s.mu.Unlock()
		return
	}
	if s.pendingEpoch != s.epoch {
		s.mu.Unlock()
		c.Close()
		return
	}
	s.conn = c
	s.connected = true
	epoch := s.epoch
	s.mu.Unlock()

	go s.receiveLoop(epoch, c)
	s.emit(Event{Type: EventConnected})
	s.flushQueue(epoch)
}

func (s *Session) onAutoReconnect(roomID string, err error) {
	if err == nil {
		s.adoptPending()
		return
	}
	s.logger.Warn(fmt.Sprintf("background reconnect failed: %v", err),
		slog.String("room.id", roomID))
	s.emit(Event{Type: EventError, Reason: err.Error()})
}

// connLost handles the live connection dying out from under the given epoch:
// the connection is dropped and a background reconnection run starts. Stale
// epochs are ignored so a loop for a torn-down connection cannot disturb its
// replacement.
func (s *Session) connLost(epoch int) {
	s.mu.Lock()
	if epoch != s.epoch || !s.connected {
		s.mu.Unlock()
		return
	}
	s.connected = false
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	roomID := s.roomID
	s.mu.Unlock()

	s.emit(Event{Type: EventDisconnected})
	s.reconnector.StartAutoReconnect(roomID)
}

func (s *Session) receiveLoop(epoch int, c Conn) {
	for {
		env, err := c.Receive()
		if err != nil {
			s.connLost(epoch)
			return
		}
		s.handleEnvelope(epoch, env)
	}
}

// SendMessage creates a chat message and transmits it, or parks it in the
// offline queue when no connection is live. The message is visible locally
// either way; its Status tracks the delivery outcome.
func (s *Session) SendMessage(content, section, parentID string) (models.ChatMessage, error) {
	s.mu.Lock()
	if s.roomID == "" {
		s.mu.Unlock()
		return models.ChatMessage{}, fmt.Errorf("session not attached to a room")
	}
	msg := &models.ChatMessage{
		ID:         uuid.NewString(),
		EventID:    s.roomID,
		SenderID:   s.selfID,
		SenderName: s.selfName,
		Content:    content,
		Section:    section,
		ParentID:   parentID,
		SentAt:     time.Now(),
		Status:     models.StatusSent,
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)

	epoch := s.epoch
	connected := s.connected
	if !connected {
		msg.IsOffline = true
		s.queue.enqueue(msg.ID)
	}
	snapshot := *msg
	s.mu.Unlock()

	if connected {
		go s.transmit(epoch, msg.ID)
	} else {
		s.emit(Event{Type: EventMessageQueued, MessageID: msg.ID})
	}
	return snapshot, nil
}

// transmit sends one message on the live connection. A failed transmit marks
// the message FAILED, parks it for the next flush and triggers reconnection.
func (s *Session) transmit(epoch int, id string) {
	env, conn, ok := s.envelopeFor(epoch, id)
	if !ok {
		return
	}
	if err := conn.Send(env); err != nil {
		s.logger.Warn(fmt.Sprintf("transmit failed: %v", err),
			slog.String("message.id", id))
		s.mu.Lock()
		stale := epoch != s.epoch
		if !stale {
			if msg, ok := s.messages[id]; ok {
				msg.Status = models.StatusFailed
				msg.IsOffline = true
				s.queue.enqueue(id)
			}
		}
		s.mu.Unlock()
		if stale {
			return
		}
		s.emit(Event{Type: EventMessageQueued, MessageID: id})
		s.connLost(epoch)
		return
	}
	s.markDelivered(epoch, id)
}

// envelopeFor snapshots a message into a MESSAGE envelope along with the
// connection valid for the epoch.
func (s *Session) envelopeFor(epoch int, id string) (*proto.Envelope, Conn, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch || !s.connected || s.conn == nil {
		return nil, nil, false
	}
	msg, ok := s.messages[id]
	if !ok {
		return nil, nil, false
	}
	env, err := proto.NewEnvelope(proto.TypeMessage, proto.MessagePayload{
		MessageID:  msg.ID,
		EventID:    msg.EventID,
		SenderID:   msg.SenderID,
		SenderName: msg.SenderName,
		Content:    msg.Content,
		Section:    msg.Section,
		ParentID:   msg.ParentID,
		Timestamp:  msg.SentAt,
	})
	if err != nil {
		return nil, nil, false
	}
	return env, s.conn, true
}

func (s *Session) markDelivered(epoch int, id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	msg, ok := s.messages[id]
	if !ok {
		return
	}
	msg.IsOffline = false
	// READ only ever tightens; a late delivery confirmation must not
	// loosen it back.
	if msg.Status != models.StatusRead {
		msg.Status = models.StatusDelivered
	}
}

// flushQueue retransmits queued messages in FIFO order on the connection
// belonging to epoch. A failure mid-flush re-parks the unsent remainder and
// hands control back to the reconnector.
func (s *Session) flushQueue(epoch int) {
	s.mu.Lock()
	if epoch != s.epoch || !s.connected {
		s.mu.Unlock()
		return
	}
	ids := s.queue.drain()
	s.mu.Unlock()
	if len(ids) == 0 {
		return
	}

	flushed := 0
	for i, id := range ids {
		env, conn, ok := s.envelopeFor(epoch, id)
		if !ok {
			s.requeue(epoch, ids[i:])
			break
		}
		if err := conn.Send(env); err != nil {
			s.logger.Warn(fmt.Sprintf("flush failed: %v", err),
				slog.String("message.id", id))
			s.requeue(epoch, ids[i:])
			s.connLost(epoch)
			break
		}
		s.markDelivered(epoch, id)
		flushed++
	}
	if flushed > 0 {
		s.emit(Event{Type: EventQueueFlushed, Count: flushed})
	}
}

func (s *Session) requeue(epoch int, ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	for _, id := range ids {
		s.queue.enqueue(id)
	}
}

// QueuedCount reports how many messages sit in the offline queue.
func (s *Session) QueuedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// AddReaction records the local user's reaction on a message and announces
// it. Reacting twice with the same emoji is a no-op, so nothing extra is
// sent.
func (s *Session) AddReaction(messageID, emoji string) error {
	s.mu.Lock()
	msg, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found", messageID)
	}
	changed := msg.AddReaction(s.selfID, emoji, time.Now())
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.sendReaction(messageID, emoji, proto.ReactionAdd)
}

// RemoveReaction removes the local user's reaction from a message and
// announces the removal. Removing an absent reaction is a no-op.
func (s *Session) RemoveReaction(messageID, emoji string) error {
	s.mu.Lock()
	msg, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found", messageID)
	}
	changed := msg.RemoveReaction(s.selfID, emoji)
	s.mu.Unlock()
	if !changed {
		return nil
	}
	return s.sendReaction(messageID, emoji, proto.ReactionRemove)
}

func (s *Session) sendReaction(messageID, emoji string, action proto.ReactionAction) error {
	env, err := proto.NewEnvelope(proto.TypeReaction, proto.ReactionPayload{
		MessageID: messageID,
		UserID:    s.selfID,
		UserName:  s.selfName,
		Emoji:     emoji,
		Action:    action,
	})
	if err != nil {
		return err
	}
	return s.sendLive(env)
}

// MarkAsRead records that the local user has read a message and announces a
// read receipt.
func (s *Session) MarkAsRead(messageID string) error {
	s.mu.Lock()
	msg, ok := s.messages[messageID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("message %s not found", messageID)
	}
	msg.MarkReadBy(s.selfID)
	s.mu.Unlock()

	env, err := proto.NewEnvelope(proto.TypeReadReceipt, proto.ReadReceiptPayload{
		MessageID: messageID,
		UserID:    s.selfID,
		UserName:  s.selfName,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return s.sendLive(env)
}

// StartTyping announces that the local user is typing. A debounce timer
// sends STOPPED_TYPING automatically if no further StartTyping call arrives;
// each call re-arms it.
func (s *Session) StartTyping() error {
	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	env, err := proto.NewEnvelope(proto.TypeTyping, proto.TypingPayload{
		UserID:    s.selfID,
		UserName:  s.selfName,
		ChatID:    roomID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	if err := s.sendLive(env); err != nil {
		return err
	}
	s.timers.arm(selfTypingKey, typingDebounce, func() {
		if err := s.StopTyping(); err != nil {
			s.logger.Debug(fmt.Sprintf("auto stop typing: %v", err))
		}
	})
	return nil
}

// StopTyping announces that the local user stopped typing and cancels the
// debounce timer.
func (s *Session) StopTyping() error {
	s.timers.cancel(selfTypingKey)

	s.mu.Lock()
	roomID := s.roomID
	s.mu.Unlock()

	env, err := proto.NewEnvelope(proto.TypeStoppedTyping, proto.TypingPayload{
		UserID:    s.selfID,
		UserName:  s.selfName,
		ChatID:    roomID,
		Timestamp: time.Now(),
	})
	if err != nil {
		return err
	}
	return s.sendLive(env)
}

// sendLive sends an envelope on the live connection. Transient frames
// (typing, reactions, receipts) are not queued; a send without a connection
// is an error the caller may ignore.
func (s *Session) sendLive(env *proto.Envelope) error {
	s.mu.Lock()
	conn := s.conn
	connected := s.connected
	s.mu.Unlock()
	if !connected || conn == nil {
		return fmt.Errorf("not connected")
	}
	return conn.Send(env)
}

func (s *Session) handleEnvelope(epoch int, env *proto.Envelope) {
	switch env.Type {
	case proto.TypeMessage:
		s.handleMessage(epoch, env)
	case proto.TypeReaction:
		s.handleReaction(epoch, env)
	case proto.TypeReadReceipt:
		s.handleReadReceipt(epoch, env)
	case proto.TypeTyping:
		s.handleTyping(epoch, env)
	case proto.TypeStoppedTyping:
		s.handleStoppedTyping(epoch, env)
	case proto.TypePresence:
		s.handlePresence(epoch, env)
	case proto.TypeError:
		var p proto.ErrorPayload
		if err := env.Payload(&p); err != nil {
			return
		}
		s.emit(Event{Type: EventError, Reason: p.Message})
	default:
		s.logger.Debug("ignoring frame",
			slog.String("frame.type", string(env.Type)))
	}
}

func (s *Session) handleMessage(epoch int, env *proto.Envelope) {
	var p proto.MessagePayload
	if err := env.Payload(&p); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	if existing, ok := s.messages[p.MessageID]; ok {
		// Replayed frame, or the server echoing our own message back. In
		// either case the echo confirms delivery; the content is already
		// here.
		existing.IsOffline = false
		if existing.Status == models.StatusSent || existing.Status == models.StatusFailed {
			existing.Status = models.StatusDelivered
		}
		return
	}
	msg := &models.ChatMessage{
		ID:         p.MessageID,
		EventID:    p.EventID,
		SenderID:   p.SenderID,
		SenderName: p.SenderName,
		Content:    p.Content,
		Section:    p.Section,
		ParentID:   p.ParentID,
		SentAt:     p.Timestamp,
		Status:     models.StatusDelivered,
	}
	s.messages[msg.ID] = msg
	s.order = append(s.order, msg.ID)
}

func (s *Session) handleReaction(epoch int, env *proto.Envelope) {
	var p proto.ReactionPayload
	if err := env.Payload(&p); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	msg, ok := s.messages[p.MessageID]
	if !ok {
		return
	}
	switch p.Action {
	case proto.ReactionRemove:
		msg.RemoveReaction(p.UserID, p.Emoji)
	default:
		msg.AddReaction(p.UserID, p.Emoji, time.Now())
	}
}

func (s *Session) handleReadReceipt(epoch int, env *proto.Envelope) {
	var p proto.ReadReceiptPayload
	if err := env.Payload(&p); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	if msg, ok := s.messages[p.MessageID]; ok {
		msg.MarkReadBy(p.UserID)
	}
}

func (s *Session) handleTyping(epoch int, env *proto.Envelope) {
	var p proto.TypingPayload
	if err := env.Payload(&p); err != nil {
		return
	}
	if p.UserID == s.selfID {
		return
	}
	s.mu.Lock()
	if epoch != s.epoch {
		s.mu.Unlock()
		return
	}
	s.typing[p.UserID] = models.TypingIndicator{
		UserID:         p.UserID,
		UserName:       p.UserName,
		ChatID:         p.ChatID,
		LastSeenTyping: time.Now(),
	}
	ttl := s.typingTTL
	s.mu.Unlock()

	// STOPPED_TYPING is best-effort; the TTL timer is what guarantees the
	// indicator goes away. Each refresh re-arms it.
	userID := p.UserID
	s.timers.arm("typing/"+userID, ttl, func() {
		s.mu.Lock()
		delete(s.typing, userID)
		s.mu.Unlock()
	})
}

func (s *Session) handleStoppedTyping(epoch int, env *proto.Envelope) {
	var p proto.TypingPayload
	if err := env.Payload(&p); err != nil {
		return
	}
	if p.UserID == s.selfID {
		return
	}
	s.timers.cancel("typing/" + p.UserID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	delete(s.typing, p.UserID)
}

func (s *Session) handlePresence(epoch int, env *proto.Envelope) {
	var p proto.PresencePayload
	if err := env.Payload(&p); err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return
	}
	participant := models.ChatParticipant{
		UserID:   p.UserID,
		UserName: p.UserName,
		IsOnline: p.IsOnline,
	}
	if p.LastSeen != nil {
		participant.LastSeen = *p.LastSeen
	}
	s.participants[p.UserID] = participant
}

// Messages returns the room's messages in arrival order.
func (s *Session) Messages() []models.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatMessage, 0, len(s.order))
	for _, id := range s.order {
		if msg, ok := s.messages[id]; ok {
			out = append(out, *msg)
		}
	}
	return out
}

// Message returns a single message by ID.
func (s *Session) Message(id string) (models.ChatMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg, ok := s.messages[id]
	if !ok {
		return models.ChatMessage{}, false
	}
	return *msg, true
}

// Typing returns the users currently marked as typing.
func (s *Session) Typing() []models.TypingIndicator {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.TypingIndicator, 0, len(s.typing))
	for _, t := range s.typing {
		out = append(out, t)
	}
	return out
}

// Participants returns the latest presence snapshot per user.
func (s *Session) Participants() []models.ChatParticipant {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChatParticipant, 0, len(s.participants))
	for _, p := range s.participants {
		out = append(out, p)
	}
	return out
}
