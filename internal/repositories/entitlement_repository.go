package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"lifeisbonusBack/internal/models"
)

// EntitlementRepository stores the premium-* columns of users and the purchase history.
type EntitlementRepository struct {
	DB *sql.DB

	schema schemaGuard
}

func NewEntitlementRepository(db *sql.DB) *EntitlementRepository {
	return &EntitlementRepository{DB: db}
}

// usersTableDDL is shared by every repository that reads or writes users.
const usersTableDDL = `CREATE TABLE IF NOT EXISTS users (
    uid VARCHAR(128) NOT NULL,
    display_name VARCHAR(255) NOT NULL DEFAULT '',
    notifications_enabled TINYINT(1) NOT NULL DEFAULT 1,
    premium_active TINYINT(1) NOT NULL DEFAULT 0,
    premium_plan VARCHAR(255) NULL,
    premium_platform VARCHAR(16) NULL,
    premium_auto_renew TINYINT(1) NOT NULL DEFAULT 0,
    premium_store_state VARCHAR(64) NOT NULL DEFAULT '',
    premium_until DATETIME(3) NULL,
    premium_verified_at DATETIME(3) NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (uid)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`

var entitlementSchema = []string{
	usersTableDDL,
	`CREATE TABLE IF NOT EXISTS purchase_history (
    id CHAR(36) NOT NULL,
    uid VARCHAR(128) NOT NULL,
    platform VARCHAR(16) NOT NULL,
    product_id VARCHAR(255) NOT NULL,
    store_state VARCHAR(64) NOT NULL DEFAULT '',
    is_active TINYINT(1) NOT NULL DEFAULT 0,
    expires_at_ms BIGINT NOT NULL DEFAULT 0,
    auto_renew TINYINT(1) NOT NULL DEFAULT 0,
    transaction_id VARCHAR(255) NULL,
    raw LONGTEXT,
    source VARCHAR(64) NOT NULL,
    created_at DATETIME(3) NOT NULL,
    PRIMARY KEY (id),
    KEY idx_purchase_history_uid (uid, created_at)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

func (r *EntitlementRepository) ensureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, r.DB, entitlementSchema)
}

// ReplaceEntitlement overwrites every premium-* column of uid, creating the user row if needed.
func (r *EntitlementRepository) ReplaceEntitlement(ctx context.Context, uid string, ent models.Entitlement) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO users (uid, premium_active, premium_plan, premium_platform, premium_auto_renew, premium_store_state, premium_until, premium_verified_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    premium_active = VALUES(premium_active),
    premium_plan = VALUES(premium_plan),
    premium_platform = VALUES(premium_platform),
    premium_auto_renew = VALUES(premium_auto_renew),
    premium_store_state = VALUES(premium_store_state),
    premium_until = VALUES(premium_until),
    premium_verified_at = VALUES(premium_verified_at)
`, uid, ent.PremiumActive, nullString(ent.PremiumPlan), nullString(ent.PremiumPlatform), ent.PremiumAutoRenew,
		ent.PremiumStoreState, nullTime(ent.PremiumUntil), ent.PremiumVerifiedAt)
	if err != nil {
		return fmt.Errorf("replace entitlement: %w", err)
	}
	return nil
}

// GetEntitlement returns the stored premium-* columns of uid.
func (r *EntitlementRepository) GetEntitlement(ctx context.Context, uid string) (models.Entitlement, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.Entitlement{}, err
	}
	var (
		ent        models.Entitlement
		plan       sql.NullString
		platform   sql.NullString
		until      sql.NullTime
		verifiedAt sql.NullTime
	)
	err := r.DB.QueryRowContext(ctx, `
SELECT premium_active, premium_plan, premium_platform, premium_auto_renew, premium_store_state, premium_until, premium_verified_at
FROM users WHERE uid = ?`, uid).Scan(
		&ent.PremiumActive, &plan, &platform, &ent.PremiumAutoRenew, &ent.PremiumStoreState, &until, &verifiedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Entitlement{}, ErrNotFound
	}
	if err != nil {
		return models.Entitlement{}, err
	}
	ent.PremiumPlan = stringPtr(plan)
	ent.PremiumPlatform = stringPtr(platform)
	ent.PremiumUntil = timePtr(until)
	if verifiedAt.Valid {
		ent.PremiumVerifiedAt = verifiedAt.Time.UTC()
	}
	return ent, nil
}

// AppendPurchaseHistory inserts one audit row. Entries are never updated.
func (r *EntitlementRepository) AppendPurchaseHistory(ctx context.Context, entry models.PurchaseHistoryEntry) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	v := entry.Verification
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO purchase_history (id, uid, platform, product_id, store_state, is_active, expires_at_ms, auto_renew, transaction_id, raw, source, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, entry.ID, entry.UID, string(v.Platform), v.ProductID, v.StoreState, v.IsActive, v.ExpiresAtMillis, v.AutoRenew,
		nullString(v.TransactionID), rawOrNull(v.Raw), entry.Source, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("append purchase history: %w", err)
	}
	return nil
}

// ListPurchaseHistory returns the newest entries of uid first.
func (r *EntitlementRepository) ListPurchaseHistory(ctx context.Context, uid string, limit int) ([]models.PurchaseHistoryEntry, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.DB.QueryContext(ctx, `
SELECT id, uid, platform, product_id, store_state, is_active, expires_at_ms, auto_renew, transaction_id, raw, source, created_at
FROM purchase_history WHERE uid = ? ORDER BY created_at DESC LIMIT ?`, uid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.PurchaseHistoryEntry
	for rows.Next() {
		var (
			e        models.PurchaseHistoryEntry
			platform string
			txn      sql.NullString
			raw      sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.UID, &platform, &e.Verification.ProductID, &e.Verification.StoreState,
			&e.Verification.IsActive, &e.Verification.ExpiresAtMillis, &e.Verification.AutoRenew, &txn, &raw,
			&e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Verification.Platform = models.Platform(platform)
		e.Verification.TransactionID = stringPtr(txn)
		if raw.Valid && raw.String != "" {
			e.Verification.Raw = json.RawMessage(raw.String)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func stringPtr(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}
