package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/evently/eventchat/models"
)

// SQLiteChatStore is the SQLite implementation of ChatStore. Idempotence is
// enforced by the schema: message IDs are primary keys and reactions/receipts
// carry composite primary keys, so replayed writes collapse via
// INSERT OR IGNORE.
type SQLiteChatStore struct {
	db *sql.DB
}

func NewSQLiteChatStore(db *sql.DB) *SQLiteChatStore {
	return &SQLiteChatStore{db: db}
}

func (s *SQLiteChatStore) SaveMessage(ctx context.Context, input MessageCreateInput) (*models.ChatMessage, error) {
	if err := input.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	if input.SentAt.IsZero() {
		input.SentAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_messages (id, event_id, sender_id, sender_name, content, section, parent_id, sent_at)
		VALUES (@id, @event_id, @sender_id, @sender_name, @content, @section, @parent_id, @sent_at)`,
		sql.Named("id", input.ID), sql.Named("event_id", input.EventID),
		sql.Named("sender_id", input.SenderID), sql.Named("sender_name", input.SenderName),
		sql.Named("content", input.Content), sql.Named("section", input.Section),
		sql.Named("parent_id", input.ParentID), sql.Named("sent_at", input.SentAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert chat_messages): %w", err)
	}

	return s.GetMessageByID(ctx, input.ID)
}

func (s *SQLiteChatStore) GetMessageByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, event_id, sender_id, sender_name, content, section, parent_id, sent_at
		FROM chat_messages WHERE id = @id`, sql.Named("id", id))

	var m models.ChatMessage
	err := row.Scan(&m.ID, &m.EventID, &m.SenderID, &m.SenderName, &m.Content,
		&m.Section, &m.ParentID, &m.SentAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("row.Scan: %w", err)
	}

	if err := s.loadMessageDetails(ctx, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLiteChatStore) loadMessageDetails(ctx context.Context, m *models.ChatMessage) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, emoji, reacted_at FROM chat_reactions
		WHERE message_id = @message_id ORDER BY reacted_at`,
		sql.Named("message_id", m.ID))
	if err != nil {
		return fmt.Errorf("QueryContext(chat_reactions): %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var r models.Reaction
		if err := rows.Scan(&r.UserID, &r.Emoji, &r.Timestamp); err != nil {
			return fmt.Errorf("rows.Scan(reaction): %w", err)
		}
		m.Reactions = append(m.Reactions, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows.Err: %w", err)
	}

	readRows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM chat_read_receipts WHERE message_id = @message_id ORDER BY read_at`,
		sql.Named("message_id", m.ID))
	if err != nil {
		return fmt.Errorf("QueryContext(chat_read_receipts): %w", err)
	}
	defer readRows.Close()
	for readRows.Next() {
		var u string
		if err := readRows.Scan(&u); err != nil {
			return fmt.Errorf("rows.Scan(receipt): %w", err)
		}
		m.ReadBy = append(m.ReadBy, u)
	}
	if err := readRows.Err(); err != nil {
		return fmt.Errorf("rows.Err: %w", err)
	}

	if len(m.ReadBy) > 0 {
		m.Status = models.StatusRead
	} else {
		m.Status = models.StatusDelivered
	}
	return nil
}

func (s *SQLiteChatStore) queryMessages(ctx context.Context, query string, args ...any) ([]models.ChatMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("QueryContext(chat_messages): %w", err)
	}
	defer rows.Close()

	var messages []models.ChatMessage
	for rows.Next() {
		var m models.ChatMessage
		err := rows.Scan(&m.ID, &m.EventID, &m.SenderID, &m.SenderName, &m.Content,
			&m.Section, &m.ParentID, &m.SentAt)
		if err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}

	for i := range messages {
		if err := s.loadMessageDetails(ctx, &messages[i]); err != nil {
			return nil, err
		}
	}
	return messages, nil
}

func (s *SQLiteChatStore) GetMessages(ctx context.Context, eventID string, offset, limit int) ([]models.ChatMessage, error) {
	if limit == 0 {
		limit = 100
	}
	return s.queryMessages(ctx,
		`SELECT id, event_id, sender_id, sender_name, content, section, parent_id, sent_at
		FROM chat_messages WHERE event_id = @event_id
		ORDER BY sent_at, id LIMIT @limit OFFSET @offset`,
		sql.Named("event_id", eventID), sql.Named("limit", limit), sql.Named("offset", offset))
}

func (s *SQLiteChatStore) GetReplies(ctx context.Context, parentID string) ([]models.ChatMessage, error) {
	return s.queryMessages(ctx,
		`SELECT id, event_id, sender_id, sender_name, content, section, parent_id, sent_at
		FROM chat_messages WHERE parent_id = @parent_id ORDER BY sent_at, id`,
		sql.Named("parent_id", parentID))
}

func (s *SQLiteChatStore) GetMessagesBySection(ctx context.Context, eventID, section string) ([]models.ChatMessage, error) {
	return s.queryMessages(ctx,
		`SELECT id, event_id, sender_id, sender_name, content, section, parent_id, sent_at
		FROM chat_messages WHERE event_id = @event_id AND section = @section
		ORDER BY sent_at, id`,
		sql.Named("event_id", eventID), sql.Named("section", section))
}

func (s *SQLiteChatStore) messageExists(ctx context.Context, messageID string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM chat_messages WHERE id = @id`, sql.Named("id", messageID))
	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("row.Scan: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteChatStore) AddReaction(ctx context.Context, messageID, userID, emoji string, at time.Time) (bool, error) {
	ok, err := s.messageExists(ctx, messageID)
	if err != nil || !ok {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_reactions (message_id, user_id, emoji, reacted_at)
		VALUES (@message_id, @user_id, @emoji, @reacted_at)`,
		sql.Named("message_id", messageID), sql.Named("user_id", userID),
		sql.Named("emoji", emoji), sql.Named("reacted_at", at))
	if err != nil {
		return false, fmt.Errorf("ExecContext(insert chat_reactions): %w", err)
	}
	return true, nil
}

func (s *SQLiteChatStore) RemoveReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	ok, err := s.messageExists(ctx, messageID)
	if err != nil || !ok {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM chat_reactions
		WHERE message_id = @message_id AND user_id = @user_id AND emoji = @emoji`,
		sql.Named("message_id", messageID), sql.Named("user_id", userID),
		sql.Named("emoji", emoji))
	if err != nil {
		return false, fmt.Errorf("ExecContext(delete chat_reactions): %w", err)
	}
	return true, nil
}

func (s *SQLiteChatStore) MarkRead(ctx context.Context, messageID, userID string, at time.Time) (bool, error) {
	ok, err := s.messageExists(ctx, messageID)
	if err != nil || !ok {
		return false, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_read_receipts (message_id, user_id, read_at)
		VALUES (@message_id, @user_id, @read_at)`,
		sql.Named("message_id", messageID), sql.Named("user_id", userID),
		sql.Named("read_at", at))
	if err != nil {
		return false, fmt.Errorf("ExecContext(insert chat_read_receipts): %w", err)
	}
	return true, nil
}

func (s *SQLiteChatStore) MarkAllRead(ctx context.Context, eventID, userID string, at time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO chat_read_receipts (message_id, user_id, read_at)
		SELECT id, @user_id, @read_at FROM chat_messages
		WHERE event_id = @event_id AND sender_id != @user_id`,
		sql.Named("user_id", userID), sql.Named("read_at", at),
		sql.Named("event_id", eventID))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(insert chat_read_receipts): %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("RowsAffected: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteChatStore) UnreadCount(ctx context.Context, eventID, userID string) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM chat_messages AS m
		WHERE m.event_id = @event_id AND m.sender_id != @user_id
		AND NOT EXISTS (
			SELECT 1 FROM chat_read_receipts AS r
			WHERE r.message_id = m.id AND r.user_id = @user_id
		)`,
		sql.Named("event_id", eventID), sql.Named("user_id", userID))

	var count int
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("row.Scan: %w", err)
	}
	return count, nil
}

func (s *SQLiteChatStore) SetTyping(ctx context.Context, indicator models.TypingIndicator) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_typing (chat_id, user_id, user_name, last_seen_typing)
		VALUES (@chat_id, @user_id, @user_name, @last_seen_typing)
		ON CONFLICT (chat_id, user_id) DO UPDATE SET
			user_name = excluded.user_name,
			last_seen_typing = excluded.last_seen_typing`,
		sql.Named("chat_id", indicator.ChatID), sql.Named("user_id", indicator.UserID),
		sql.Named("user_name", indicator.UserName),
		sql.Named("last_seen_typing", indicator.LastSeenTyping))
	if err != nil {
		return fmt.Errorf("ExecContext(upsert chat_typing): %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) ClearTyping(ctx context.Context, chatID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_typing WHERE chat_id = @chat_id AND user_id = @user_id`,
		sql.Named("chat_id", chatID), sql.Named("user_id", userID))
	if err != nil {
		return fmt.Errorf("ExecContext(delete chat_typing): %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) GetTyping(ctx context.Context, chatID string, now time.Time) ([]models.TypingIndicator, error) {
	cutoff := now.Add(-models.TypingTTL)

	_, err := s.db.ExecContext(ctx,
		`DELETE FROM chat_typing WHERE chat_id = @chat_id AND last_seen_typing <= @cutoff`,
		sql.Named("chat_id", chatID), sql.Named("cutoff", cutoff))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(prune chat_typing): %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT chat_id, user_id, user_name, last_seen_typing FROM chat_typing
		WHERE chat_id = @chat_id ORDER BY user_id`,
		sql.Named("chat_id", chatID))
	if err != nil {
		return nil, fmt.Errorf("QueryContext(chat_typing): %w", err)
	}
	defer rows.Close()

	var indicators []models.TypingIndicator
	for rows.Next() {
		var ti models.TypingIndicator
		if err := rows.Scan(&ti.ChatID, &ti.UserID, &ti.UserName, &ti.LastSeenTyping); err != nil {
			return nil, fmt.Errorf("rows.Scan: %w", err)
		}
		indicators = append(indicators, ti)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows.Err: %w", err)
	}
	return indicators, nil
}
