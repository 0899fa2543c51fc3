package repositories

import (
	"context"
	"database/sql"
	"errors"

	"lifeisbonusBack/internal/models"
)

// NotifyTokenRepository owns push preferences on users and the notify_tokens table.
type NotifyTokenRepository struct {
	DB *sql.DB

	schema schemaGuard
}

func NewNotifyTokenRepository(db *sql.DB) *NotifyTokenRepository {
	return &NotifyTokenRepository{DB: db}
}

func (r *NotifyTokenRepository) ensureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, r.DB, []string{usersTableDDL, `
CREATE TABLE IF NOT EXISTS notify_tokens (
    id BIGINT UNSIGNED NOT NULL AUTO_INCREMENT,
    user_id VARCHAR(128) NOT NULL,
    token VARCHAR(512) NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (id),
    UNIQUE KEY uniq_notify_token (token),
    KEY idx_notify_tokens_user (user_id)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`})
}

// GetPushProfile returns ErrNotFound when the user row is missing.
func (r *NotifyTokenRepository) GetPushProfile(ctx context.Context, uid string) (models.PushProfile, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.PushProfile{}, err
	}
	p := models.PushProfile{UID: uid}
	err := r.DB.QueryRowContext(ctx, `SELECT display_name, notifications_enabled FROM users WHERE uid = ?`, uid).
		Scan(&p.DisplayName, &p.NotificationsEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PushProfile{}, ErrNotFound
	}
	if err != nil {
		return models.PushProfile{}, err
	}

	rows, err := r.DB.QueryContext(ctx, `SELECT token FROM notify_tokens WHERE user_id = ? ORDER BY id`, uid)
	if err != nil {
		return models.PushProfile{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return models.PushProfile{}, err
		}
		p.Tokens = append(p.Tokens, token)
	}
	if err := rows.Err(); err != nil {
		return models.PushProfile{}, err
	}
	return p, nil
}

// UpsertProfile sets the display name and notification switch, creating the user row if needed.
func (r *NotifyTokenRepository) UpsertProfile(ctx context.Context, uid, displayName string, notificationsEnabled bool) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO users (uid, display_name, notifications_enabled) VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE display_name = VALUES(display_name), notifications_enabled = VALUES(notifications_enabled)`,
		uid, displayName, notificationsEnabled)
	return err
}

// RegisterToken binds a device token to uid. A token moves to the latest user that registers it.
func (r *NotifyTokenRepository) RegisterToken(ctx context.Context, uid, token string) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO notify_tokens (user_id, token) VALUES (?, ?)
ON DUPLICATE KEY UPDATE user_id = VALUES(user_id)`, uid, token)
	return err
}

// RemoveTokens deletes the given tokens of uid; unknown tokens are ignored.
func (r *NotifyTokenRepository) RemoveTokens(ctx context.Context, uid string, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	args := make([]any, 0, len(tokens)+1)
	args = append(args, uid)
	for _, t := range tokens {
		args = append(args, t)
	}
	_, err := r.DB.ExecContext(ctx, `DELETE FROM notify_tokens WHERE user_id = ? AND token IN (`+placeholders(len(tokens))+`)`, args...)
	return err
}
