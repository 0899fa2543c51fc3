package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"lifeisbonusBack/internal/models"
)

// ChatRepository stores threads, their participants with unread counters, and messages.
type ChatRepository struct {
	DB *sql.DB

	schema schemaGuard
}

func NewChatRepository(db *sql.DB) *ChatRepository {
	return &ChatRepository{DB: db}
}

var chatSchema = []string{
	`CREATE TABLE IF NOT EXISTS chat_threads (
    id VARCHAR(64) NOT NULL,
    last_message TEXT,
    last_sender_id VARCHAR(128) NOT NULL DEFAULT '',
    moderation_updated_at DATETIME(3) NULL,
    created_at DATETIME(3) NOT NULL,
    PRIMARY KEY (id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_thread_participants (
    thread_id VARCHAR(64) NOT NULL,
    user_id VARCHAR(128) NOT NULL,
    position INT NOT NULL DEFAULT 0,
    unread_count INT NOT NULL DEFAULT 0,
    PRIMARY KEY (thread_id, user_id),
    KEY idx_chat_participants_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS chat_messages (
    thread_id VARCHAR(64) NOT NULL,
    id VARCHAR(64) NOT NULL,
    sender_id VARCHAR(128) NOT NULL,
    text TEXT NOT NULL,
    moderated TINYINT(1) NOT NULL DEFAULT 0,
    moderation_status VARCHAR(16) NOT NULL DEFAULT '',
    moderation_reason VARCHAR(64) NOT NULL DEFAULT '',
    moderated_at DATETIME(3) NULL,
    created_at DATETIME(3) NOT NULL,
    PRIMARY KEY (thread_id, id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

func (r *ChatRepository) ensureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, r.DB, chatSchema)
}

// CreateThread inserts a thread and its participants in one transaction.
func (r *ChatRepository) CreateThread(ctx context.Context, thread models.Thread, createdAt time.Time) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO chat_threads (id, last_message, last_sender_id, created_at) VALUES (?, '', '', ?)`,
		thread.ID, createdAt.UTC()); err != nil {
		return fmt.Errorf("insert thread: %w", err)
	}
	for i, uid := range thread.Participants {
		if _, err := tx.ExecContext(ctx, `INSERT INTO chat_thread_participants (thread_id, user_id, position, unread_count) VALUES (?, ?, ?, 0)`,
			thread.ID, uid, i); err != nil {
			return fmt.Errorf("insert participant: %w", err)
		}
	}
	return tx.Commit()
}

// GetThread loads a thread with participants in join order.
func (r *ChatRepository) GetThread(ctx context.Context, threadID string) (models.Thread, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Thread{}, err
	}
	var (
		t           models.Thread
		lastMessage sql.NullString
		moderatedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `SELECT id, last_message, last_sender_id, moderation_updated_at FROM chat_threads WHERE id = ?`, threadID).
		Scan(&t.ID, &lastMessage, &t.LastSenderID, &moderatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Thread{}, ErrNotFound
	}
	if err != nil {
		return models.Thread{}, err
	}
	t.LastMessage = lastMessage.String
	t.ModerationUpdatedAt = timePtr(moderatedAt)

	rows, err := r.DB.QueryContext(ctx, `SELECT user_id, unread_count FROM chat_thread_participants WHERE thread_id = ? ORDER BY position, user_id`, threadID)
	if err != nil {
		return models.Thread{}, err
	}
	defer rows.Close()

	t.UnreadCounts = make(map[string]int)
	for rows.Next() {
		var (
			uid    string
			unread int
		)
		if err := rows.Scan(&uid, &unread); err != nil {
			return models.Thread{}, err
		}
		t.Participants = append(t.Participants, uid)
		t.UnreadCounts[uid] = unread
	}
	if err := rows.Err(); err != nil {
		return models.Thread{}, err
	}
	return t, nil
}

// CreateMessage stores msg, mirrors it on the thread and bumps the unread counter of each recipient.
func (r *ChatRepository) CreateMessage(ctx context.Context, msg models.ChatMessage, recipients []string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
INSERT INTO chat_messages (thread_id, id, sender_id, text, moderated, moderation_status, moderation_reason, created_at)
VALUES (?, ?, ?, ?, 0, '', '', ?)`, msg.ThreadID, msg.ID, msg.SenderID, msg.Text, msg.CreatedAt.UTC()); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE chat_threads SET last_message = ?, last_sender_id = ? WHERE id = ?`,
		msg.Text, msg.SenderID, msg.ThreadID); err != nil {
		return fmt.Errorf("update thread: %w", err)
	}
	if len(recipients) > 0 {
		args := make([]any, 0, len(recipients)+1)
		args = append(args, msg.ThreadID)
		for _, uid := range recipients {
			args = append(args, uid)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE chat_thread_participants SET unread_count = unread_count + 1 WHERE thread_id = ? AND user_id IN (`+placeholders(len(recipients))+`)`,
			args...); err != nil {
			return fmt.Errorf("increment unread: %w", err)
		}
	}
	return tx.Commit()
}

// BlockMessage replaces the message text with the moderation placeholder and flags it.
func (r *ChatRepository) BlockMessage(ctx context.Context, threadID, messageID string, res models.ModerationResult, at time.Time) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
UPDATE chat_messages
SET text = ?, moderated = 1, moderation_status = ?, moderation_reason = ?, moderated_at = ?
WHERE thread_id = ? AND id = ?`, res.Text, res.Status, res.Reason, at.UTC(), threadID, messageID)
	return err
}

// ClearMessageModeration resets the moderation flags of a message that now passes.
func (r *ChatRepository) ClearMessageModeration(ctx context.Context, threadID, messageID string, at time.Time) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
UPDATE chat_messages
SET moderated = 0, moderation_status = ?, moderation_reason = '', moderated_at = ?
WHERE thread_id = ? AND id = ?`, models.ModerationOK, at.UTC(), threadID, messageID)
	return err
}

// PatchThreadModeration stamps the thread and, when lastMessage is set, replaces its preview.
func (r *ChatRepository) PatchThreadModeration(ctx context.Context, threadID string, lastMessage *string, at time.Time) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if lastMessage != nil {
		_, err := r.DB.ExecContext(ctx, `UPDATE chat_threads SET last_message = ?, moderation_updated_at = ? WHERE id = ?`,
			*lastMessage, at.UTC(), threadID)
		return err
	}
	_, err := r.DB.ExecContext(ctx, `UPDATE chat_threads SET moderation_updated_at = ? WHERE id = ?`, at.UTC(), threadID)
	return err
}

// DecrementUnread lowers the unread counter of each uid by one without going below zero.
func (r *ChatRepository) DecrementUnread(ctx context.Context, threadID string, uids []string) error {
	if len(uids) == 0 {
		return nil
	}
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	args := make([]any, 0, len(uids)+1)
	args = append(args, threadID)
	for _, uid := range uids {
		args = append(args, uid)
	}
	_, err := r.DB.ExecContext(ctx, `
UPDATE chat_thread_participants
SET unread_count = GREATEST(unread_count - 1, 0)
WHERE thread_id = ? AND user_id IN (`+placeholders(len(uids))+`)`, args...)
	return err
}
