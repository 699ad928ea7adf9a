// Package store defines the persistence collaborator contract the chat server
// delegates to, along with a SQLite reference implementation.
//
// Authorization is resolved at this boundary: mutating a message that does not
// exist or that the caller may not touch yields an absent/false result, never
// an error, so callers uniformly render "not found or unauthorized".
package store

import (
	"context"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/evently/eventchat/models"
)

var (
	// ErrInvalidMessage is returned when a message input fails validation.
	ErrInvalidMessage = errors.New("invalid message")
)

var validate = validator.New()

// MessageCreateInput is the input for persisting a chat message. ID may be
// left empty, in which case the store generates one.
type MessageCreateInput struct {
	ID         string    `json:"id"`
	EventID    string    `json:"event_id" validate:"required"`
	SenderID   string    `json:"sender_id" validate:"required"`
	SenderName string    `json:"sender_name" validate:"required"`
	Content    string    `json:"content" validate:"required"`
	Section    string    `json:"section"`
	ParentID   string    `json:"parent_id"`
	SentAt     time.Time `json:"sent_at"`
}

// Validate validates the message input.
func (m *MessageCreateInput) Validate() error {
	return validate.Struct(m)
}

type ChatStore interface {
	// SaveMessage persists a message. Saving a message whose ID already
	// exists is a no-op that returns the stored copy, which makes
	// at-least-once retransmission safe.
	SaveMessage(ctx context.Context, input MessageCreateInput) (*models.ChatMessage, error)

	// GetMessageByID returns the message with the given ID, or nil if it
	// does not exist.
	GetMessageByID(ctx context.Context, id string) (*models.ChatMessage, error)

	// GetMessages returns the messages of an event ordered by sent time.
	// A zero limit defaults to 100.
	GetMessages(ctx context.Context, eventID string, offset, limit int) ([]models.ChatMessage, error)

	// GetReplies returns the messages threaded under the given parent.
	GetReplies(ctx context.Context, parentID string) ([]models.ChatMessage, error)

	// GetMessagesBySection returns the messages of an event tagged with the
	// given section.
	GetMessagesBySection(ctx context.Context, eventID, section string) ([]models.ChatMessage, error)

	// AddReaction records a reaction. It is idempotent per
	// (message, user, emoji). It returns false if the message is absent.
	AddReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error)

	// RemoveReaction removes a reaction. Removing an absent reaction is a
	// no-op. It returns false if the message is absent.
	RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)

	// MarkRead records that a user has read a message. Receipts only grow;
	// recording the same receipt twice is a no-op. It returns false if the
	// message is absent.
	MarkRead(ctx context.Context, messageID, userID string, at time.Time) (bool, error)

	// MarkAllRead records receipts for every message of the event the user
	// has not read yet and returns how many were recorded.
	MarkAllRead(ctx context.Context, eventID, userID string, at time.Time) (int, error)

	// UnreadCount returns the number of messages in the event that were not
	// sent by the user and carry no receipt from the user.
	UnreadCount(ctx context.Context, eventID, userID string) (int, error)

	// SetTyping upserts a typing indicator, refreshing its last-seen time.
	SetTyping(ctx context.Context, indicator models.TypingIndicator) error

	// ClearTyping removes a user's typing indicator immediately.
	ClearTyping(ctx context.Context, chatID, userID string) error

	// GetTyping returns the typing indicators of a chat that have not
	// expired as of now. Expired rows are pruned.
	GetTyping(ctx context.Context, chatID string, now time.Time) ([]models.TypingIndicator, error)
}
