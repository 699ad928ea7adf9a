package ws

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/evently/eventchat/models"
	"github.com/evently/eventchat/proto"
	"github.com/evently/eventchat/store"
)

type mockHandle struct {
	id       string
	sent     chan *proto.Envelope
	sendErr  error
	sendedMu sync.Mutex
}

func newMockHandle(id string) *mockHandle {
	return &mockHandle{id: id, sent: make(chan *proto.Envelope, 16)}
}

func (h *mockHandle) ID() string {
	return h.id
}

func (h *mockHandle) Send(env *proto.Envelope) error {
	h.sendedMu.Lock()
	defer h.sendedMu.Unlock()
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent <- env
	return nil
}

// memStore is an in-memory ChatStore for router tests.
type memStore struct {
	mu       sync.Mutex
	messages map[string]*models.ChatMessage
	order    []string
	typing   map[string]models.TypingIndicator
	saveErr  error
}

func newMemStore() *memStore {
	return &memStore{
		messages: make(map[string]*models.ChatMessage),
		typing:   make(map[string]models.TypingIndicator),
	}
}

func (s *memStore) SaveMessage(_ context.Context, input store.MessageCreateInput) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return nil, s.saveErr
	}
	if err := input.Validate(); err != nil {
		return nil, store.ErrInvalidMessage
	}
	if input.ID == "" {
		input.ID = uuid.New().String()
	}
	if m, ok := s.messages[input.ID]; ok {
		cp := *m
		return &cp, nil
	}
	m := &models.ChatMessage{
		ID:         input.ID,
		EventID:    input.EventID,
		SenderID:   input.SenderID,
		SenderName: input.SenderName,
		Content:    input.Content,
		Section:    input.Section,
		ParentID:   input.ParentID,
		SentAt:     input.SentAt,
		Status:     models.StatusDelivered,
	}
	s.messages[m.ID] = m
	s.order = append(s.order, m.ID)
	cp := *m
	return &cp, nil
}

func (s *memStore) GetMessageByID(_ context.Context, id string) (*models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) GetMessages(_ context.Context, eventID string, offset, limit int) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, id := range s.order {
		if s.messages[id].EventID == eventID {
			out = append(out, *s.messages[id])
		}
	}
	return out, nil
}

func (s *memStore) GetReplies(_ context.Context, parentID string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, id := range s.order {
		if s.messages[id].ParentID == parentID {
			out = append(out, *s.messages[id])
		}
	}
	return out, nil
}

func (s *memStore) GetMessagesBySection(_ context.Context, eventID, section string) ([]models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ChatMessage
	for _, id := range s.order {
		m := s.messages[id]
		if m.EventID == eventID && m.Section == section {
			out = append(out, *m)
		}
	}
	return out, nil
}

func (s *memStore) AddReaction(_ context.Context, messageID, userID, emoji string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	m.AddReaction(userID, emoji, at)
	return true, nil
}

func (s *memStore) RemoveReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	m.RemoveReaction(userID, emoji)
	return true, nil
}

func (s *memStore) MarkRead(_ context.Context, messageID, userID string, _ time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, nil
	}
	m.MarkReadBy(userID)
	return true, nil
}

func (s *memStore) MarkAllRead(_ context.Context, eventID, userID string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, m := range s.messages {
		if m.EventID == eventID && m.SenderID != userID && !slices.Contains(m.ReadBy, userID) {
			m.MarkReadBy(userID)
			n++
		}
	}
	return n, nil
}

func (s *memStore) UnreadCount(_ context.Context, eventID, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, m := range s.messages {
		if m.EventID == eventID && m.SenderID != userID && !slices.Contains(m.ReadBy, userID) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) SetTyping(_ context.Context, indicator models.TypingIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.typing[indicator.ChatID+"/"+indicator.UserID] = indicator
	return nil
}

func (s *memStore) ClearTyping(_ context.Context, chatID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.typing, chatID+"/"+userID)
	return nil
}

func (s *memStore) GetTyping(_ context.Context, chatID string, now time.Time) ([]models.TypingIndicator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.TypingIndicator
	for _, ti := range s.typing {
		if ti.ChatID == chatID && !ti.Expired(now) {
			out = append(out, ti)
		}
	}
	return out, nil
}
