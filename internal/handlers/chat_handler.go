package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/services"
)

// ChatSender is satisfied by *services.ChatService.
type ChatSender interface {
	CreateThread(ctx context.Context, uid string, participants []string) (models.Thread, error)
	SendMessage(ctx context.Context, uid, threadID, text string) (models.ChatMessage, error)
}

type ChatHandler struct {
	Chats      ChatSender
	Dispatcher services.MessageDispatcher
	Log        zerolog.Logger
}

func NewChatHandler(chats ChatSender, dispatcher services.MessageDispatcher, log zerolog.Logger) *ChatHandler {
	return &ChatHandler{Chats: chats, Dispatcher: dispatcher, Log: log}
}

type messageCreatedRequest struct {
	ThreadID         string     `json:"threadId"`
	MessageID        string     `json:"messageId"`
	SenderID         string     `json:"senderId"`
	Text             string     `json:"text"`
	ModerationStatus string     `json:"moderationStatus"`
	CreatedAt        *time.Time `json:"createdAt,omitempty"`
}

type dispatchResponse struct {
	Skipped         string `json:"skipped,omitempty"`
	Moderation      string `json:"moderation,omitempty"`
	Reason          string `json:"reason,omitempty"`
	Multicasts      int    `json:"multicasts"`
	Delivered       int    `json:"delivered"`
	Failed          int    `json:"failed"`
	TokensPruned    int    `json:"tokensPruned"`
	AlreadyNotified int    `json:"alreadyNotified"`
}

// MessageCreated handles POST /internal/chat/messages/created from the message trigger.
func (h *ChatHandler) MessageCreated(w http.ResponseWriter, r *http.Request) {
	var req messageCreatedRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "invalid body")
		return
	}
	msg := models.ChatMessage{
		ID:               req.MessageID,
		ThreadID:         req.ThreadID,
		SenderID:         req.SenderID,
		Text:             req.Text,
		ModerationStatus: req.ModerationStatus,
	}
	if req.CreatedAt != nil {
		msg.CreatedAt = *req.CreatedAt
	}

	res, err := h.Dispatcher.OnMessageCreated(r.Context(), msg)
	if errors.Is(err, services.ErrMalformedEvent) {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "threadId and messageId are required")
		return
	}
	if err != nil {
		h.Log.Error().Err(err).Str("thread_id", msg.ThreadID).Str("message_id", msg.ID).Msg("message created trigger failed")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "dispatch failed")
		return
	}
	writeJSON(w, http.StatusOK, dispatchResponse{
		Skipped:         res.Skipped,
		Moderation:      res.Moderation.Status,
		Reason:          res.Moderation.Reason,
		Multicasts:      res.Multicasts,
		Delivered:       res.Delivered,
		Failed:          res.Failed,
		TokensPruned:    res.TokensPruned,
		AlreadyNotified: res.AlreadyNotified,
	})
}

// CreateThread handles POST /chat/threads.
func (h *ChatHandler) CreateThread(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Participants []string `json:"participants"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "invalid body")
		return
	}
	thread, err := h.Chats.CreateThread(r.Context(), UIDFromContext(r.Context()), req.Participants)
	if err != nil {
		h.logInternal(err, "create thread")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, thread)
}

// SendMessage handles POST /chat/threads/:id/messages.
func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "invalid body")
		return
	}
	msg, err := h.Chats.SendMessage(r.Context(), UIDFromContext(r.Context()), r.URL.Query().Get(":id"), req.Text)
	if err != nil {
		h.logInternal(err, "send message")
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *ChatHandler) logInternal(err error, msg string) {
	if services.ErrorCode(err) == services.CodeInternal {
		h.Log.Error().Err(err).Msg(msg)
	}
}
