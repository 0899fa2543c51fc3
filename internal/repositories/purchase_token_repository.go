package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"lifeisbonusBack/internal/models"
)

// PurchaseTokenRepository indexes hashed Google Play purchase tokens by owner.
type PurchaseTokenRepository struct {
	DB *sql.DB

	schema schemaGuard
}

func NewPurchaseTokenRepository(db *sql.DB) *PurchaseTokenRepository {
	return &PurchaseTokenRepository{DB: db}
}

func (r *PurchaseTokenRepository) ensureSchema(ctx context.Context) error {
	return r.schema.ensure(ctx, r.DB, []string{`
CREATE TABLE IF NOT EXISTS purchase_tokens (
    token_hash CHAR(64) NOT NULL,
    platform VARCHAR(16) NOT NULL,
    uid VARCHAR(128) NULL,
    package_name VARCHAR(255) NOT NULL DEFAULT '',
    product_id VARCHAR(255) NOT NULL DEFAULT '',
    latest_transaction_id VARCHAR(255) NULL,
    latest_store_state VARCHAR(64) NOT NULL DEFAULT '',
    latest_is_active TINYINT(1) NOT NULL DEFAULT 0,
    latest_expires_at DATETIME(3) NULL,
    last_source VARCHAR(64) NOT NULL DEFAULT '',
    last_rtdn_event LONGTEXT NULL,
    updated_at DATETIME(3) NOT NULL,
    PRIMARY KEY (token_hash),
    KEY idx_purchase_tokens_uid (uid)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`})
}

// UpsertPurchaseToken writes the latest verification of a token and attributes it to entry.UID.
// A previously stored notification payload survives writes that carry none.
func (r *PurchaseTokenRepository) UpsertPurchaseToken(ctx context.Context, entry models.PurchaseTokenIndexEntry) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	if entry.PurchaseTokenHash == "" {
		return fmt.Errorf("purchase token hash is required")
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO purchase_tokens (token_hash, platform, uid, package_name, product_id, latest_transaction_id, latest_store_state,
    latest_is_active, latest_expires_at, last_source, last_rtdn_event, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    platform = VALUES(platform),
    uid = VALUES(uid),
    package_name = VALUES(package_name),
    product_id = VALUES(product_id),
    latest_transaction_id = VALUES(latest_transaction_id),
    latest_store_state = VALUES(latest_store_state),
    latest_is_active = VALUES(latest_is_active),
    latest_expires_at = VALUES(latest_expires_at),
    last_source = VALUES(last_source),
    last_rtdn_event = COALESCE(VALUES(last_rtdn_event), last_rtdn_event),
    updated_at = VALUES(updated_at)
`, entry.PurchaseTokenHash, string(entry.Platform), entry.UID, entry.PackageName, entry.ProductID,
		nullString(entry.LatestTransactionID), entry.LatestStoreState, entry.LatestIsActive,
		nullTime(entry.LatestExpiresAt), entry.LastSource, rawOrNull(entry.LastRTDNEvent), entry.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert purchase token: %w", err)
	}
	return nil
}

// MarkUnmapped records a notification for a token nobody owns yet. An existing owner is kept.
func (r *PurchaseTokenRepository) MarkUnmapped(ctx context.Context, entry models.PurchaseTokenIndexEntry) error {
	if err := r.ensureSchema(ctx); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, `
INSERT INTO purchase_tokens (token_hash, platform, package_name, product_id, last_source, last_rtdn_event, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    last_source = VALUES(last_source),
    last_rtdn_event = VALUES(last_rtdn_event),
    updated_at = VALUES(updated_at)
`, entry.PurchaseTokenHash, string(entry.Platform), entry.PackageName, entry.ProductID, entry.LastSource,
		rawOrNull(entry.LastRTDNEvent), entry.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("mark purchase token unmapped: %w", err)
	}
	return nil
}

// FindPurchaseToken returns ErrNotFound when the hash was never indexed.
func (r *PurchaseTokenRepository) FindPurchaseToken(ctx context.Context, tokenHash string) (models.PurchaseTokenIndexEntry, error) {
	if err := r.ensureSchema(ctx); err != nil {
		return models.PurchaseTokenIndexEntry{}, err
	}
	var (
		e        models.PurchaseTokenIndexEntry
		platform string
		uid      sql.NullString
		txn      sql.NullString
		expires  sql.NullTime
		event    sql.NullString
	)
	err := r.DB.QueryRowContext(ctx, `
SELECT token_hash, platform, uid, package_name, product_id, latest_transaction_id, latest_store_state,
    latest_is_active, latest_expires_at, last_source, last_rtdn_event, updated_at
FROM purchase_tokens WHERE token_hash = ?`, tokenHash).Scan(
		&e.PurchaseTokenHash, &platform, &uid, &e.PackageName, &e.ProductID, &txn, &e.LatestStoreState,
		&e.LatestIsActive, &expires, &e.LastSource, &event, &e.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return models.PurchaseTokenIndexEntry{}, ErrNotFound
	}
	if err != nil {
		return models.PurchaseTokenIndexEntry{}, err
	}
	e.Platform = models.Platform(platform)
	e.UID = uid.String
	e.LatestTransactionID = stringPtr(txn)
	e.LatestExpiresAt = timePtr(expires)
	if event.Valid && event.String != "" {
		e.LastRTDNEvent = json.RawMessage(event.String)
	}
	return e, nil
}

func rawOrNull(raw json.RawMessage) sql.NullString {
	if len(raw) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(raw), Valid: true}
}
