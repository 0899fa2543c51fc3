package services

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifeisbonusBack/internal/models"
)

type dispatchFixture struct {
	d         *PushDispatcher
	chats     *memChats
	dir       *memDirectory
	messenger *fakeMessenger
	guard     *memGuard
}

func newDispatchFixture(thread models.Thread, profiles ...models.PushProfile) dispatchFixture {
	f := dispatchFixture{
		chats:     newMemChats(thread),
		dir:       newMemDirectory(profiles...),
		messenger: &fakeMessenger{stale: map[string]bool{}},
		guard:     newMemGuard(),
	}
	f.d = NewPushDispatcher(f.chats, f.dir, f.messenger, f.guard, nil, zerolog.Nop())
	f.d.Now = func() time.Time { return reconcileNow }
	f.d.IsStaleToken = func(err error) bool { return errors.Is(err, errStale) }
	return f
}

func groupThread() models.Thread {
	return models.Thread{
		ID:           "t1",
		Participants: []string{"alice", "bob", "carol"},
		UnreadCounts: map[string]int{"alice": 0, "bob": 2, "carol": 0},
	}
}

func TestDispatchOKSendsOneMulticastPerRecipient(t *testing.T) {
	f := newDispatchFixture(groupThread(),
		models.PushProfile{UID: "alice", DisplayName: "Alice", NotificationsEnabled: true, Tokens: []string{"a1"}},
		models.PushProfile{UID: "bob", NotificationsEnabled: true, Tokens: []string{"b1", "b2"}},
		models.PushProfile{UID: "carol", NotificationsEnabled: true, Tokens: []string{"c1"}},
	)

	res, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "  hi   there "})
	require.NoError(t, err)

	assert.Equal(t, models.ModerationOK, res.Moderation.Status)
	require.Len(t, f.messenger.sent, 2)
	assert.Equal(t, []string{"b1", "b2"}, f.messenger.sent[0].Tokens)
	assert.Equal(t, []string{"c1"}, f.messenger.sent[1].Tokens)
	msg := f.messenger.sent[0]
	assert.Equal(t, "Alice", msg.Notification.Title)
	assert.Equal(t, "hi there", msg.Notification.Body)
	assert.Equal(t, map[string]string{"type": "chat_message", "threadId": "t1", "messageId": "m1", "senderId": "alice"}, msg.Data)
	assert.Equal(t, 3, res.Delivered)
	assert.Empty(t, f.chats.blocked)
}

func TestDispatchSkipsDisabledAndTokenlessRecipients(t *testing.T) {
	f := newDispatchFixture(groupThread(),
		models.PushProfile{UID: "bob", NotificationsEnabled: false, Tokens: []string{"b1"}},
		models.PushProfile{UID: "carol", NotificationsEnabled: true},
	)

	res, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "hello"})
	require.NoError(t, err)
	assert.Empty(t, f.messenger.sent)
	assert.Zero(t, res.Multicasts)
}

func TestDispatchDefaultsSenderNameAndBody(t *testing.T) {
	f := newDispatchFixture(models.Thread{ID: "t1", Participants: []string{"alice", "bob"}},
		models.PushProfile{UID: "bob", NotificationsEnabled: true, Tokens: []string{"b1"}},
	)

	_, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "hey"})
	require.NoError(t, err)
	require.Len(t, f.messenger.sent, 1)
	assert.Equal(t, DefaultSenderName, f.messenger.sent[0].Notification.Title)
}

func TestDispatchBlockedMessageSuppressesPush(t *testing.T) {
	thread := groupThread()
	thread.LastMessage = "play casino now"
	thread.LastSenderID = "alice"
	f := newDispatchFixture(thread,
		models.PushProfile{UID: "bob", NotificationsEnabled: true, Tokens: []string{"b1"}},
		models.PushProfile{UID: "carol", NotificationsEnabled: true, Tokens: []string{"c1"}},
	)

	res, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "play casino now"})
	require.NoError(t, err)

	assert.Equal(t, "blocked", res.Skipped)
	assert.Empty(t, f.messenger.sent)
	blocked := f.chats.blocked["t1/m1"]
	assert.Equal(t, ReasonPolicyKeyword, blocked.Reason)
	assert.Equal(t, BlockedPlaceholder, blocked.Text)

	updated := f.chats.threads["t1"]
	assert.Equal(t, BlockedPlaceholder, updated.LastMessage)
	assert.Equal(t, 1, updated.UnreadCounts["bob"])
	assert.Equal(t, 0, updated.UnreadCounts["carol"], "unread counters never go below zero")
	assert.Equal(t, 0, updated.UnreadCounts["alice"])
}

func TestDispatchBlockedKeepsNewerThreadPreview(t *testing.T) {
	thread := groupThread()
	thread.LastMessage = "a newer message"
	thread.LastSenderID = "bob"
	f := newDispatchFixture(thread)

	_, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: ""})
	require.NoError(t, err)
	assert.Nil(t, f.chats.lastPatch["t1"])
	assert.Equal(t, 1, f.chats.patchCount)
	assert.Equal(t, "a newer message", f.chats.threads["t1"].LastMessage)
}

func TestDispatchClearsStaleModerationFlags(t *testing.T) {
	f := newDispatchFixture(groupThread())

	_, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{
		ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "fine now", ModerationStatus: models.ModerationBlocked,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"t1/m1"}, f.chats.cleared)
}

func TestDispatchPrunesOnlyStaleTokens(t *testing.T) {
	tokens := []string{"k1", "k2", "k3", "k4", "k5"}
	f := newDispatchFixture(models.Thread{ID: "t1", Participants: []string{"alice", "bob"}},
		models.PushProfile{UID: "bob", DisplayName: "Bob", NotificationsEnabled: true, Tokens: tokens},
	)
	f.messenger.stale["k2"] = true
	f.messenger.stale["k4"] = true

	res, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "yo"})
	require.NoError(t, err)

	assert.Equal(t, []string{"k2", "k4"}, f.dir.removed["bob"])
	bob := f.dir.profiles["bob"]
	assert.Equal(t, []string{"k1", "k3", "k5"}, bob.Tokens)
	assert.Equal(t, "Bob", bob.DisplayName)
	assert.True(t, bob.NotificationsEnabled)
	assert.Equal(t, 2, res.TokensPruned)
	assert.Equal(t, 3, res.Delivered)
	assert.Equal(t, 2, res.Failed)
}

func TestDispatchChunksLargeTokenSets(t *testing.T) {
	tokens := make([]string, maxMulticastTokens+1)
	for i := range tokens {
		tokens[i] = fmt.Sprintf("tok-%d", i)
	}
	f := newDispatchFixture(models.Thread{ID: "t1", Participants: []string{"alice", "bob"}},
		models.PushProfile{UID: "bob", NotificationsEnabled: true, Tokens: tokens},
	)

	res, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "yo"})
	require.NoError(t, err)
	require.Len(t, f.messenger.sent, 2)
	assert.Len(t, f.messenger.sent[0].Tokens, maxMulticastTokens)
	assert.Len(t, f.messenger.sent[1].Tokens, 1)
	assert.Equal(t, 2, res.Multicasts)
}

func TestDispatchSendFailureIsRetried(t *testing.T) {
	f := newDispatchFixture(models.Thread{ID: "t1", Participants: []string{"alice", "bob"}},
		models.PushProfile{UID: "bob", NotificationsEnabled: true, Tokens: []string{"b1"}},
	)
	f.messenger.err = errors.New("fcm unavailable")
	msg := models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "yo"}

	res, err := f.d.OnMessageCreated(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.dir.removed)
	assert.ElementsMatch(t, []string{"t1/m1/bob", "t1/m1"}, f.guard.released)

	f.messenger.err = nil
	res, err = f.d.OnMessageCreated(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Delivered)
	assert.Len(t, f.messenger.sent, 2)
}

func TestDispatchRetryOnlyReachesPendingRecipients(t *testing.T) {
	f := newDispatchFixture(groupThread(),
		models.PushProfile{UID: "bob", NotificationsEnabled: true, Tokens: []string{"b1"}},
		models.PushProfile{UID: "carol", NotificationsEnabled: true, Tokens: []string{"c1"}},
	)
	f.dir.getErr["carol"] = errors.New("db timeout")
	msg := models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "hello"}

	res, err := f.d.OnMessageCreated(context.Background(), msg)
	require.Error(t, err)
	assert.Equal(t, 1, res.Delivered)
	require.Len(t, f.messenger.sent, 1)
	assert.Equal(t, []string{"b1"}, f.messenger.sent[0].Tokens)

	delete(f.dir.getErr, "carol")
	res, err = f.d.OnMessageCreated(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, 1, res.AlreadyNotified)
	require.Len(t, f.messenger.sent, 2)
	assert.Equal(t, []string{"c1"}, f.messenger.sent[1].Tokens)
}

func TestDispatchNoopCases(t *testing.T) {
	f := newDispatchFixture(models.Thread{ID: "solo", Participants: []string{"alice"}})

	res, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "missing", SenderID: "alice", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "thread_not_found", res.Skipped)

	res, err = f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m2", ThreadID: "solo", SenderID: "alice", Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "no_recipients", res.Skipped)
	assert.Empty(t, f.messenger.sent)
}

func TestDispatchDuplicateDeliveryDecrementsOnce(t *testing.T) {
	thread := groupThread()
	thread.UnreadCounts["carol"] = 2
	f := newDispatchFixture(thread)
	msg := models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "casino"}

	_, err := f.d.OnMessageCreated(context.Background(), msg)
	require.NoError(t, err)
	res, err := f.d.OnMessageCreated(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "duplicate", res.Skipped)
	assert.Equal(t, 1, f.chats.threads["t1"].UnreadCounts["bob"])
	assert.Equal(t, 1, f.chats.threads["t1"].UnreadCounts["carol"])
}

func TestDispatchReleasesClaimOnFailure(t *testing.T) {
	f := newDispatchFixture(groupThread())
	f.chats.getErr = errors.New("db down")

	_, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "x"})
	require.Error(t, err)
	assert.Equal(t, []string{"t1/m1"}, f.guard.released)

	f.chats.getErr = nil
	_, err = f.d.OnMessageCreated(context.Background(), models.ChatMessage{ID: "m1", ThreadID: "t1", SenderID: "alice", Text: "x"})
	require.NoError(t, err)
}

func TestDispatchRequiresIDs(t *testing.T) {
	f := newDispatchFixture(groupThread())
	_, err := f.d.OnMessageCreated(context.Background(), models.ChatMessage{ThreadID: "t1"})
	require.ErrorIs(t, err, ErrMalformedEvent)
}
