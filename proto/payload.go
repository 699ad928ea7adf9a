package proto

import "time"

// ReactionAction selects between adding and removing a reaction.
type ReactionAction string

const (
	ReactionAdd    ReactionAction = "add"
	ReactionRemove ReactionAction = "remove"
)

// MessagePayload carries a chat message frame.
type MessagePayload struct {
	MessageID  string    `json:"messageId"`
	EventID    string    `json:"eventId"`
	SenderID   string    `json:"senderId"`
	SenderName string    `json:"senderName"`
	Content    string    `json:"content"`
	Section    string    `json:"section,omitempty"`
	ParentID   string    `json:"parentId,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// TypingPayload carries both TYPING and STOPPED_TYPING frames.
type TypingPayload struct {
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName"`
	ChatID    string    `json:"chatId"`
	Timestamp time.Time `json:"timestamp"`
}

// ReactionPayload carries a reaction add/remove frame. UserName is left blank
// on server re-broadcasts; clients resolve display names locally.
type ReactionPayload struct {
	MessageID string         `json:"messageId"`
	UserID    string         `json:"userId"`
	UserName  string         `json:"userName,omitempty"`
	Emoji     string         `json:"emoji"`
	Action    ReactionAction `json:"action"`
}

// ReadReceiptPayload carries a read receipt frame.
type ReadReceiptPayload struct {
	MessageID string    `json:"messageId"`
	UserID    string    `json:"userId"`
	UserName  string    `json:"userName,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PresencePayload carries a participant presence snapshot.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	UserName string     `json:"userName"`
	ChatID   string     `json:"chatId"`
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// ErrorPayload is sent back to the offending sender when a frame cannot be
// processed. It is never broadcast.
type ErrorPayload struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
