package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/repositories"
)

// ChatWriter creates threads and messages.
type ChatWriter interface {
	GetThread(ctx context.Context, threadID string) (models.Thread, error)
	CreateThread(ctx context.Context, thread models.Thread, createdAt time.Time) error
	CreateMessage(ctx context.Context, msg models.ChatMessage, recipients []string) error
}

// MessageDispatcher reacts to a stored message. *PushDispatcher implements it.
type MessageDispatcher interface {
	OnMessageCreated(ctx context.Context, msg models.ChatMessage) (DispatchResult, error)
}

// ChatService stores chat messages and runs the message-created step in process.
type ChatService struct {
	Chats      ChatWriter
	Dispatcher MessageDispatcher
	Log        zerolog.Logger
	Now        func() time.Time
}

func NewChatService(chats ChatWriter, dispatcher MessageDispatcher, log zerolog.Logger) *ChatService {
	return &ChatService{Chats: chats, Dispatcher: dispatcher, Log: log, Now: time.Now}
}

// CreateThread opens a thread between the caller and the listed users.
func (s *ChatService) CreateThread(ctx context.Context, uid string, participants []string) (models.Thread, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return models.Thread{}, newError(CodeUnauthenticated, "sign-in required", nil)
	}
	members := []string{uid}
	seen := map[string]struct{}{uid: {}}
	for _, p := range participants {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		members = append(members, p)
	}
	if len(members) < 2 {
		return models.Thread{}, newError(CodeInvalidArgument, "at least one other participant is required", nil)
	}

	thread := models.Thread{ID: uuid.NewString(), Participants: members, UnreadCounts: map[string]int{}}
	for _, m := range members {
		thread.UnreadCounts[m] = 0
	}
	if err := s.Chats.CreateThread(ctx, thread, s.now()); err != nil {
		return models.Thread{}, newError(CodeInternal, "failed to create thread", err)
	}
	return thread, nil
}

// SendMessage stores a message from uid and dispatches it. The returned message carries the
// moderated text. A dispatch failure is logged; the message is already stored.
func (s *ChatService) SendMessage(ctx context.Context, uid, threadID, text string) (models.ChatMessage, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return models.ChatMessage{}, newError(CodeUnauthenticated, "sign-in required", nil)
	}
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return models.ChatMessage{}, newError(CodeInvalidArgument, "thread id is required", nil)
	}

	thread, err := s.Chats.GetThread(ctx, threadID)
	if errors.Is(err, repositories.ErrNotFound) {
		return models.ChatMessage{}, newError(CodeInvalidArgument, "thread does not exist", err)
	}
	if err != nil {
		return models.ChatMessage{}, newError(CodeInternal, "failed to load thread", err)
	}
	if !isParticipant(thread, uid) {
		return models.ChatMessage{}, newError(CodePermissionDenied, "not a participant of this thread", nil)
	}

	msg := models.ChatMessage{
		ID:        uuid.NewString(),
		ThreadID:  threadID,
		SenderID:  uid,
		Text:      text,
		CreatedAt: s.now(),
	}
	if err := s.Chats.CreateMessage(ctx, msg, thread.Recipients(uid)); err != nil {
		return models.ChatMessage{}, newError(CodeInternal, "failed to store message", err)
	}

	if s.Dispatcher == nil {
		return msg, nil
	}
	res, err := s.Dispatcher.OnMessageCreated(ctx, msg)
	if err != nil {
		s.Log.Error().Err(err).Str("thread_id", threadID).Str("message_id", msg.ID).Msg("dispatch message")
		return msg, nil
	}
	if res.Moderation.Blocked() {
		at := s.now()
		msg.Text = res.Moderation.Text
		msg.Moderated = true
		msg.ModerationStatus = res.Moderation.Status
		msg.ModerationReason = res.Moderation.Reason
		msg.ModeratedAt = &at
	}
	return msg, nil
}

func isParticipant(t models.Thread, uid string) bool {
	for _, p := range t.Participants {
		if p == uid {
			return true
		}
	}
	return false
}

func (s *ChatService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}
