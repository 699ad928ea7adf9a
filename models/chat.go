package models

import (
	"slices"
	"time"
)

// MessageStatus represents the delivery state of a chat message as seen by the
// client that owns it.
type MessageStatus string

const (
	// StatusSent indicates that the message exists locally but delivery has
	// not been confirmed by the server yet.
	StatusSent MessageStatus = "SENT"
	// StatusDelivered indicates that the server accepted the message.
	StatusDelivered MessageStatus = "DELIVERED"
	// StatusFailed indicates that a transmit attempt failed. A failed message
	// is never dropped; it stays visible until it is retried or flushed.
	StatusFailed MessageStatus = "FAILED"
	// StatusRead indicates that at least one participant has read the message.
	StatusRead MessageStatus = "READ"
)

// Reaction is a single emoji reaction by a user. At most one reaction exists
// per (message, user, emoji) tuple.
type Reaction struct {
	UserID    string    `json:"user_id"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is a message in an event's chat room. IDs are client-generated
// and globally unique within a room, which is what makes retransmission after
// a reconnect safe: both sides deduplicate by ID.
type ChatMessage struct {
	ID         string        `json:"id"`
	EventID    string        `json:"event_id"`
	SenderID   string        `json:"sender_id"`
	SenderName string        `json:"sender_name"`
	Content    string        `json:"content"`
	Section    string        `json:"section,omitempty"`
	ParentID   string        `json:"parent_id,omitempty"`
	SentAt     time.Time     `json:"sent_at"`
	Reactions  []Reaction    `json:"reactions,omitempty"`
	Status     MessageStatus `json:"status"`
	ReadBy     []string      `json:"read_by,omitempty"`
	// IsOffline is set while the message sits in the offline queue waiting
	// for a connection. Cleared once the message has been retransmitted.
	IsOffline bool `json:"is_offline,omitempty"`
}

// AddReaction adds a reaction to the message. Adding a reaction that already
// exists for the same (user, emoji) pair is a no-op, so replayed REACTION
// frames converge to a single stored reaction.
func (m *ChatMessage) AddReaction(userID, emoji string, at time.Time) bool {
	if m.HasReaction(userID, emoji) {
		return false
	}
	m.Reactions = append(m.Reactions, Reaction{UserID: userID, Emoji: emoji, Timestamp: at})
	return true
}

// RemoveReaction removes the (user, emoji) reaction if present. Removing an
// absent reaction is a no-op.
func (m *ChatMessage) RemoveReaction(userID, emoji string) bool {
	idx := slices.IndexFunc(m.Reactions, func(r Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
	if idx == -1 {
		return false
	}
	m.Reactions = slices.Delete(m.Reactions, idx, idx+1)
	return true
}

func (m *ChatMessage) HasReaction(userID, emoji string) bool {
	return slices.ContainsFunc(m.Reactions, func(r Reaction) bool {
		return r.UserID == userID && r.Emoji == emoji
	})
}

// MarkReadBy records that a user has read the message. ReadBy only grows;
// once it is non-empty the status is READ and never reverts.
func (m *ChatMessage) MarkReadBy(userID string) {
	if !slices.Contains(m.ReadBy, userID) {
		m.ReadBy = append(m.ReadBy, userID)
	}
	if len(m.ReadBy) > 0 {
		m.Status = StatusRead
	}
}

// TypingTTL is how long a typing indicator stays alive without a refresh.
const TypingTTL = 3 * time.Second

// TypingIndicator is a transient marker that a user is typing in a chat.
// Indicators are purely time-based on the receiving side: a STOPPED_TYPING
// frame is best-effort, so expiry after TypingTTL is the only guarantee.
type TypingIndicator struct {
	UserID         string    `json:"user_id"`
	UserName       string    `json:"user_name"`
	ChatID         string    `json:"chat_id"`
	LastSeenTyping time.Time `json:"last_seen_typing"`
}

// Expired reports whether the indicator has outlived the TTL at time now.
func (t TypingIndicator) Expired(now time.Time) bool {
	return now.Sub(t.LastSeenTyping) >= TypingTTL
}

// ChatParticipant is a presence snapshot for a user. Snapshots are
// last-writer-wins per user ID.
type ChatParticipant struct {
	UserID   string    `json:"user_id"`
	UserName string    `json:"user_name"`
	IsOnline bool      `json:"is_online"`
	LastSeen time.Time `json:"last_seen"`
}
