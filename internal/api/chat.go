package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/evently/eventchat/models"
	"github.com/evently/eventchat/store"
)

type ChatHandler struct {
	chatStore store.ChatStore
}

func NewChatHandler(chatStore store.ChatStore) *ChatHandler {
	return &ChatHandler{chatStore: chatStore}
}

type MessageCreateRequest struct {
	ID       string `json:"id"`
	Content  string `json:"content"`
	Section  string `json:"section"`
	ParentID string `json:"parentId"`
}

type CreateMessageResponse struct {
	ID string `json:"id"`
}

type ReactionResponse struct {
	UserID    string    `json:"userId"`
	Emoji     string    `json:"emoji"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageResponse struct {
	ID         string               `json:"id"`
	EventID    string               `json:"eventId"`
	SenderID   string               `json:"senderId"`
	SenderName string               `json:"senderName"`
	Content    string               `json:"content"`
	Section    string               `json:"section,omitempty"`
	ParentID   string               `json:"parentId,omitempty"`
	SentAt     time.Time            `json:"sentAt"`
	Status     models.MessageStatus `json:"status"`
	Reactions  []ReactionResponse   `json:"reactions"`
	ReadBy     []string             `json:"readBy"`
}

func NewMessageResponse(message models.ChatMessage) MessageResponse {
	reactions := make([]ReactionResponse, 0, len(message.Reactions))
	for _, r := range message.Reactions {
		reactions = append(reactions, ReactionResponse{
			UserID:    r.UserID,
			Emoji:     r.Emoji,
			Timestamp: r.Timestamp,
		})
	}
	readBy := message.ReadBy
	if readBy == nil {
		readBy = []string{}
	}
	return MessageResponse{
		ID:         message.ID,
		EventID:    message.EventID,
		SenderID:   message.SenderID,
		SenderName: message.SenderName,
		Content:    message.Content,
		Section:    message.Section,
		ParentID:   message.ParentID,
		SentAt:     message.SentAt,
		Status:     message.Status,
		Reactions:  reactions,
		ReadBy:     readBy,
	}
}

func NewMessagesResponse(messages []models.ChatMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, NewMessageResponse(m))
	}
	return out
}

type ReactionRequest struct {
	Emoji string `json:"emoji"`
}

type CountResponse struct {
	Count int `json:"count"`
}

type TypingResponse struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// errMessageNotFound conflates "does not exist" and "not yours to touch" on
// purpose: probing for other events' message ids must look identical to
// probing for random ones.
var errMessageNotFound = NewApiError("message not found", http.StatusNotFound)

func (h *ChatHandler) GetEventMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")

	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	messages, err := h.chatStore.GetMessages(r.Context(), eventID, offset, limit)
	if err != nil {
		return err
	}

	return WriteJsonResponse(w, NewMessagesResponse(messages))
}

func (h *ChatHandler) CreateEventMessageHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")
	defer r.Body.Close()

	var payload MessageCreateRequest
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}

	principal := principalFromRequest(r)
	input := store.MessageCreateInput{
		ID:         payload.ID,
		EventID:    eventID,
		SenderID:   principal.UserID,
		SenderName: principal.UserName,
		Content:    payload.Content,
		Section:    payload.Section,
		ParentID:   payload.ParentID,
		SentAt:     time.Now(),
	}

	created, err := h.chatStore.SaveMessage(r.Context(), input)
	if err != nil {
		if errors.Is(err, store.ErrInvalidMessage) {
			return NewApiError(err.Error(), http.StatusBadRequest)
		}
		return err
	}

	return WriteJsonResponseWithStatusCode(w,
		CreateMessageResponse{ID: created.ID}, http.StatusCreated)
}

func (h *ChatHandler) GetSectionMessagesHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")
	section := r.PathValue("section")

	messages, err := h.chatStore.GetMessagesBySection(r.Context(), eventID, section)
	if err != nil {
		return err
	}

	return WriteJsonResponse(w, NewMessagesResponse(messages))
}

func (h *ChatHandler) GetRepliesHandler(w http.ResponseWriter, r *http.Request) error {
	parentID := r.PathValue("messageID")

	messages, err := h.chatStore.GetReplies(r.Context(), parentID)
	if err != nil {
		return err
	}

	return WriteJsonResponse(w, NewMessagesResponse(messages))
}

func (h *ChatHandler) AddReactionHandler(w http.ResponseWriter, r *http.Request) error {
	messageID := r.PathValue("messageID")
	defer r.Body.Close()

	var payload ReactionRequest
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}
	if payload.Emoji == "" {
		return NewApiError("emoji is required", http.StatusBadRequest)
	}

	principal := principalFromRequest(r)

	ok, err := h.chatStore.AddReaction(r.Context(), messageID, principal.UserID, payload.Emoji, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return errMessageNotFound
	}

	w.WriteHeader(http.StatusCreated)
	return nil
}

func (h *ChatHandler) RemoveReactionHandler(w http.ResponseWriter, r *http.Request) error {
	messageID := r.PathValue("messageID")
	defer r.Body.Close()

	var payload ReactionRequest
	if err := DecodeJson(r.Body, &payload); err != nil {
		return NewApiError("invalid json", http.StatusBadRequest)
	}
	if payload.Emoji == "" {
		return NewApiError("emoji is required", http.StatusBadRequest)
	}

	principal := principalFromRequest(r)

	ok, err := h.chatStore.RemoveReaction(r.Context(), messageID, principal.UserID, payload.Emoji)
	if err != nil {
		return err
	}
	if !ok {
		return errMessageNotFound
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ChatHandler) MarkReadHandler(w http.ResponseWriter, r *http.Request) error {
	messageID := r.PathValue("messageID")

	principal := principalFromRequest(r)

	ok, err := h.chatStore.MarkRead(r.Context(), messageID, principal.UserID, time.Now())
	if err != nil {
		return err
	}
	if !ok {
		return errMessageNotFound
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ChatHandler) MarkAllReadHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")

	principal := principalFromRequest(r)

	count, err := h.chatStore.MarkAllRead(r.Context(), eventID, principal.UserID, time.Now())
	if err != nil {
		return err
	}

	return WriteJsonResponse(w, CountResponse{Count: count})
}

func (h *ChatHandler) UnreadCountHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")

	principal := principalFromRequest(r)

	count, err := h.chatStore.UnreadCount(r.Context(), eventID, principal.UserID)
	if err != nil {
		return err
	}

	return WriteJsonResponse(w, CountResponse{Count: count})
}

func (h *ChatHandler) GetTypingHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")

	indicators, err := h.chatStore.GetTyping(r.Context(), eventID, time.Now())
	if err != nil {
		return err
	}

	out := make([]TypingResponse, 0, len(indicators))
	for _, ind := range indicators {
		out = append(out, TypingResponse{UserID: ind.UserID, UserName: ind.UserName})
	}
	return WriteJsonResponse(w, out)
}

func (h *ChatHandler) SetTypingHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")

	principal := principalFromRequest(r)

	err := h.chatStore.SetTyping(r.Context(), models.TypingIndicator{
		UserID:         principal.UserID,
		UserName:       principal.UserName,
		ChatID:         eventID,
		LastSeenTyping: time.Now(),
	})
	if err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}

func (h *ChatHandler) ClearTypingHandler(w http.ResponseWriter, r *http.Request) error {
	eventID := r.PathValue("eventID")

	principal := principalFromRequest(r)

	if err := h.chatStore.ClearTyping(r.Context(), eventID, principal.UserID); err != nil {
		return err
	}

	w.WriteHeader(http.StatusNoContent)
	return nil
}
