package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"firebase.google.com/go/messaging"
	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/metrics"
	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/repositories"
)

const (
	DefaultSenderName  = "친구"
	NewMessageFallback = "새 메시지가 도착했습니다."

	// maxMulticastTokens is the FCM limit for one multicast request.
	maxMulticastTokens = 500
)

// ChatStore reads threads and applies moderation patches.
type ChatStore interface {
	GetThread(ctx context.Context, threadID string) (models.Thread, error)
	BlockMessage(ctx context.Context, threadID, messageID string, res models.ModerationResult, at time.Time) error
	ClearMessageModeration(ctx context.Context, threadID, messageID string, at time.Time) error
	PatchThreadModeration(ctx context.Context, threadID string, lastMessage *string, at time.Time) error
	DecrementUnread(ctx context.Context, threadID string, uids []string) error
}

// PushDirectory resolves notification settings and device tokens.
type PushDirectory interface {
	GetPushProfile(ctx context.Context, uid string) (models.PushProfile, error)
	RemoveTokens(ctx context.Context, uid string, tokens []string) error
}

// Messenger is satisfied by *messaging.Client.
type Messenger interface {
	SendMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// DeliveryGuard makes the dispatcher act at most once per message across redeliveries.
type DeliveryGuard interface {
	Claim(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

// DispatchResult summarises one message-created invocation.
type DispatchResult struct {
	Skipped         string
	Moderation      models.ModerationResult
	Multicasts      int
	Delivered       int
	Failed          int
	TokensPruned    int
	AlreadyNotified int
}

type PushDispatcher struct {
	Chats     ChatStore
	Directory PushDirectory
	Messenger Messenger
	Guard     DeliveryGuard
	Metrics   metrics.Recorder
	Log       zerolog.Logger
	Now       func() time.Time

	// IsStaleToken reports per-token errors after which the token is removed.
	IsStaleToken func(error) bool
}

func NewPushDispatcher(chats ChatStore, dir PushDirectory, messenger Messenger, guard DeliveryGuard, rec metrics.Recorder, log zerolog.Logger) *PushDispatcher {
	return &PushDispatcher{
		Chats:        chats,
		Directory:    dir,
		Messenger:    messenger,
		Guard:        guard,
		Metrics:      rec,
		Log:          log,
		Now:          time.Now,
		IsStaleToken: isStaleFCMToken,
	}
}

func isStaleFCMToken(err error) bool {
	return messaging.IsRegistrationTokenNotRegistered(err) || messaging.IsInvalidArgument(err)
}

// OnMessageCreated moderates a freshly created message and notifies the other participants.
func (d *PushDispatcher) OnMessageCreated(ctx context.Context, msg models.ChatMessage) (res DispatchResult, err error) {
	if strings.TrimSpace(msg.ThreadID) == "" || strings.TrimSpace(msg.ID) == "" {
		return DispatchResult{}, fmt.Errorf("%w: thread id and message id are required", ErrMalformedEvent)
	}
	log := d.Log.With().Str("thread_id", msg.ThreadID).Str("message_id", msg.ID).Logger()

	if d.Guard != nil {
		key := msg.ThreadID + "/" + msg.ID
		claimed, gerr := d.Guard.Claim(ctx, key)
		if gerr != nil {
			return DispatchResult{}, fmt.Errorf("claim message: %w", gerr)
		}
		if !claimed {
			log.Info().Msg("message already dispatched, skipping")
			return DispatchResult{Skipped: "duplicate"}, nil
		}
		defer func() {
			if err == nil {
				return
			}
			if rerr := d.Guard.Release(ctx, key); rerr != nil {
				log.Error().Err(rerr).Msg("release dispatch claim")
			}
		}()
	}

	thread, err := d.Chats.GetThread(ctx, msg.ThreadID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Info().Msg("thread not found, nothing to dispatch")
		return DispatchResult{Skipped: "thread_not_found"}, nil
	}
	if err != nil {
		return DispatchResult{}, fmt.Errorf("get thread: %w", err)
	}

	recipients := thread.Recipients(msg.SenderID)
	if len(recipients) == 0 {
		return DispatchResult{Skipped: "no_recipients"}, nil
	}

	mod := Moderate(msg.Text)
	d.metrics().IncModeration(mod.Status, mod.Reason)
	res.Moderation = mod
	now := d.now()

	if mod.Blocked() {
		if err := d.Chats.BlockMessage(ctx, msg.ThreadID, msg.ID, mod, now); err != nil {
			return res, fmt.Errorf("patch blocked message: %w", err)
		}
		var lastMessage *string
		if thread.LastSenderID == msg.SenderID && thread.LastMessage == msg.Text {
			placeholder := BlockedPlaceholder
			lastMessage = &placeholder
		}
		if err := d.Chats.PatchThreadModeration(ctx, msg.ThreadID, lastMessage, now); err != nil {
			return res, fmt.Errorf("patch thread moderation: %w", err)
		}
		if err := d.Chats.DecrementUnread(ctx, msg.ThreadID, recipients); err != nil {
			return res, fmt.Errorf("decrement unread: %w", err)
		}
		log.Info().Str("sender_id", msg.SenderID).Str("reason", mod.Reason).Msg("message blocked, push suppressed")
		res.Skipped = "blocked"
		return res, nil
	}

	if msg.ModerationStatus != "" && msg.ModerationStatus != models.ModerationOK {
		if err := d.Chats.ClearMessageModeration(ctx, msg.ThreadID, msg.ID, now); err != nil {
			return res, fmt.Errorf("clear moderation: %w", err)
		}
	}

	senderName := DefaultSenderName
	if sender, err := d.Directory.GetPushProfile(ctx, msg.SenderID); err == nil {
		if name := strings.TrimSpace(sender.DisplayName); name != "" {
			senderName = name
		}
	} else if !errors.Is(err, repositories.ErrNotFound) {
		log.Warn().Err(err).Str("sender_id", msg.SenderID).Msg("load sender profile")
	}

	body := mod.Text
	if body == "" {
		body = NewMessageFallback
	}

	key := msg.ThreadID + "/" + msg.ID
	var errs []error
	for _, uid := range recipients {
		profile, err := d.Directory.GetPushProfile(ctx, uid)
		if errors.Is(err, repositories.ErrNotFound) {
			continue
		}
		if err != nil {
			log.Error().Err(err).Str("uid", uid).Msg("load push profile")
			errs = append(errs, fmt.Errorf("load push profile %s: %w", uid, err))
			continue
		}
		if !profile.NotificationsEnabled || len(profile.Tokens) == 0 {
			continue
		}
		if err := d.sendToRecipient(ctx, log, &res, key, profile, senderName, body, msg); err != nil {
			errs = append(errs, err)
		}
	}

	d.metrics().IncPushSent(res.Delivered, res.Failed)
	d.metrics().IncTokensPruned(res.TokensPruned)
	return res, errors.Join(errs...)
}

// sendToRecipient pushes to every token of one recipient. Each recipient is claimed separately so a
// redelivered message only reaches the recipients that did not get it the first time. A failed
// request is returned; per-token failures are not.
func (d *PushDispatcher) sendToRecipient(ctx context.Context, log zerolog.Logger, res *DispatchResult, key string, profile models.PushProfile, senderName, body string, msg models.ChatMessage) error {
	recipientKey := key + "/" + profile.UID
	if d.Guard != nil {
		claimed, err := d.Guard.Claim(ctx, recipientKey)
		if err != nil {
			return fmt.Errorf("claim recipient %s: %w", profile.UID, err)
		}
		if !claimed {
			res.AlreadyNotified++
			return nil
		}
	}

	var stale []string
	var sendErr error
	delivered := 0
	for start := 0; start < len(profile.Tokens); start += maxMulticastTokens {
		end := start + maxMulticastTokens
		if end > len(profile.Tokens) {
			end = len(profile.Tokens)
		}
		tokens := profile.Tokens[start:end]

		res.Multicasts++
		batch, err := d.Messenger.SendMulticast(ctx, chatMulticast(tokens, senderName, body, msg))
		if err != nil {
			log.Error().Err(err).Str("uid", profile.UID).Int("tokens", len(tokens)).Msg("send multicast")
			res.Failed += len(tokens)
			sendErr = fmt.Errorf("send multicast to %s: %w", profile.UID, err)
			continue
		}
		delivered += batch.SuccessCount
		res.Delivered += batch.SuccessCount
		res.Failed += batch.FailureCount
		for i, r := range batch.Responses {
			if r == nil || r.Success || i >= len(tokens) {
				continue
			}
			if d.IsStaleToken != nil && d.IsStaleToken(r.Error) {
				stale = append(stale, tokens[i])
			}
		}
	}

	// Keep the claim once any device got the push; a retry would duplicate it.
	if sendErr != nil && delivered == 0 && d.Guard != nil {
		if err := d.Guard.Release(ctx, recipientKey); err != nil {
			log.Error().Err(err).Str("uid", profile.UID).Msg("release recipient claim")
		}
	}

	if len(stale) > 0 {
		if err := d.Directory.RemoveTokens(ctx, profile.UID, stale); err != nil {
			log.Error().Err(err).Str("uid", profile.UID).Int("tokens", len(stale)).Msg("prune stale tokens")
		} else {
			res.TokensPruned += len(stale)
			log.Info().Str("uid", profile.UID).Int("tokens", len(stale)).Msg("pruned stale tokens")
		}
	}
	if delivered > 0 {
		return nil
	}
	return sendErr
}

func chatMulticast(tokens []string, title, body string, msg models.ChatMessage) *messaging.MulticastMessage {
	return &messaging.MulticastMessage{
		Tokens: tokens,
		Notification: &messaging.Notification{
			Title: title,
			Body:  body,
		},
		Data: map[string]string{
			"type":      "chat_message",
			"threadId":  msg.ThreadID,
			"messageId": msg.ID,
			"senderId":  msg.SenderID,
		},
		Android: &messaging.AndroidConfig{
			Priority: "high",
			Notification: &messaging.AndroidNotification{
				ChannelID: "chat_messages",
			},
		},
		APNS: &messaging.APNSConfig{
			Headers: map[string]string{
				"apns-priority": "10",
			},
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					Sound:    "default",
					ThreadID: msg.ThreadID,
				},
			},
		},
	}
}

func (d *PushDispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *PushDispatcher) metrics() metrics.Recorder {
	if d.Metrics == nil {
		return metrics.Noop{}
	}
	return d.Metrics
}
