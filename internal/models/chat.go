package models

import "time"

// Moderation statuses stored on chat messages.
const (
	ModerationOK      = "ok"
	ModerationBlocked = "blocked"
)

// ModerationResult is the verdict for one chat message.
type ModerationResult struct {
	Status string `json:"status"`
	Text   string `json:"text"`
	Reason string `json:"reason,omitempty"`
}

func (r ModerationResult) Blocked() bool { return r.Status == ModerationBlocked }

// ChatMessage is a message inside a thread. Only the moderation step mutates it after creation.
type ChatMessage struct {
	ID               string     `json:"id"`
	ThreadID         string     `json:"threadId"`
	SenderID         string     `json:"senderId"`
	Text             string     `json:"text"`
	Moderated        bool       `json:"moderated"`
	ModerationStatus string     `json:"moderationStatus,omitempty"`
	ModerationReason string     `json:"moderationReason,omitempty"`
	ModeratedAt      *time.Time `json:"moderatedAt,omitempty"`
	CreatedAt        time.Time  `json:"createdAt"`
}

// Thread is a conversation between participants.
type Thread struct {
	ID                  string         `json:"id"`
	Participants        []string       `json:"participants"`
	UnreadCounts        map[string]int `json:"unreadCounts"`
	LastMessage         string         `json:"lastMessage"`
	LastSenderID        string         `json:"lastSenderId"`
	ModerationUpdatedAt *time.Time     `json:"moderationUpdatedAt,omitempty"`
}

// Recipients returns the participants other than sender, preserving order and dropping duplicates.
func (t Thread) Recipients(senderID string) []string {
	seen := make(map[string]struct{}, len(t.Participants))
	out := make([]string, 0, len(t.Participants))
	for _, uid := range t.Participants {
		if uid == "" || uid == senderID {
			continue
		}
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		out = append(out, uid)
	}
	return out
}

// PushProfile holds a user's notification preferences and registered FCM tokens.
type PushProfile struct {
	UID                  string   `json:"uid"`
	DisplayName          string   `json:"displayName"`
	NotificationsEnabled bool     `json:"notificationsEnabled"`
	Tokens               []string `json:"tokens"`
}
