package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/models"
)

// EntitlementStore persists the premium-* fields and the purchase history of a user.
type EntitlementStore interface {
	ReplaceEntitlement(ctx context.Context, uid string, ent models.Entitlement) error
	AppendPurchaseHistory(ctx context.Context, entry models.PurchaseHistoryEntry) error
}

// PurchaseTokenIndex maps hashed Google Play purchase tokens to their owners.
type PurchaseTokenIndex interface {
	UpsertPurchaseToken(ctx context.Context, entry models.PurchaseTokenIndexEntry) error
	FindPurchaseToken(ctx context.Context, tokenHash string) (models.PurchaseTokenIndexEntry, error)
	MarkUnmapped(ctx context.Context, entry models.PurchaseTokenIndexEntry) error
}

type ReconcileInput struct {
	UID           string
	Verification  models.Verification
	Source        string
	PurchaseToken string
	PackageName   string
	RawEvent      json.RawMessage
}

type ReconcileResult struct {
	UserPatch    models.Entitlement
	PremiumUntil *time.Time
}

// EntitlementService applies verified purchase state to a user.
type EntitlementService struct {
	Users  EntitlementStore
	Tokens PurchaseTokenIndex
	Log    zerolog.Logger
	Now    func() time.Time
}

func NewEntitlementService(users EntitlementStore, tokens PurchaseTokenIndex, log zerolog.Logger) *EntitlementService {
	return &EntitlementService{Users: users, Tokens: tokens, Log: log, Now: time.Now}
}

// Reconcile overwrites the user's entitlement, appends a history entry and, for Android tokens,
// refreshes the purchase token index. Every write is idempotent; the first failure is returned.
func (s *EntitlementService) Reconcile(ctx context.Context, in ReconcileInput) (ReconcileResult, error) {
	uid := strings.TrimSpace(in.UID)
	if uid == "" {
		return ReconcileResult{}, errors.New("reconcile: uid is required")
	}
	if strings.TrimSpace(in.Source) == "" {
		return ReconcileResult{}, errors.New("reconcile: source is required")
	}
	now := s.now()

	patch := models.EntitlementFromVerification(in.Verification, now)
	if err := s.Users.ReplaceEntitlement(ctx, uid, patch); err != nil {
		return ReconcileResult{}, fmt.Errorf("replace entitlement: %w", err)
	}

	entry := models.PurchaseHistoryEntry{
		ID:           uuid.NewString(),
		UID:          uid,
		Verification: in.Verification,
		Source:       in.Source,
		CreatedAt:    now,
	}
	if err := s.Users.AppendPurchaseHistory(ctx, entry); err != nil {
		return ReconcileResult{}, fmt.Errorf("append purchase history: %w", err)
	}

	token := strings.TrimSpace(in.PurchaseToken)
	if in.Verification.Platform == models.PlatformAndroid && token != "" {
		idx := models.PurchaseTokenIndexEntry{
			Platform:            models.PlatformAndroid,
			UID:                 uid,
			PackageName:         in.PackageName,
			ProductID:           in.Verification.ProductID,
			PurchaseTokenHash:   HashPurchaseToken(token),
			LatestTransactionID: in.Verification.TransactionID,
			LatestStoreState:    in.Verification.StoreState,
			LatestIsActive:      in.Verification.IsActive,
			LatestExpiresAt:     in.Verification.ExpiresAt(),
			LastSource:          in.Source,
			LastRTDNEvent:       in.RawEvent,
			UpdatedAt:           now,
		}
		if err := s.Tokens.UpsertPurchaseToken(ctx, idx); err != nil {
			return ReconcileResult{}, fmt.Errorf("upsert purchase token: %w", err)
		}
	}

	s.Log.Info().
		Str("uid", uid).
		Str("source", in.Source).
		Str("platform", string(in.Verification.Platform)).
		Str("product_id", in.Verification.ProductID).
		Bool("active", in.Verification.IsActive).
		Str("store_state", in.Verification.StoreState).
		Msg("entitlement reconciled")

	return ReconcileResult{UserPatch: patch, PremiumUntil: patch.PremiumUntil}, nil
}

func (s *EntitlementService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// PublicSnapshot converts a reconcile result into the caller-facing shape.
func PublicSnapshot(v models.Verification, res ReconcileResult) models.PublicEntitlement {
	out := models.PublicEntitlement{
		IsActive:   res.UserPatch.PremiumActive,
		Platform:   string(v.Platform),
		ProductID:  v.ProductID,
		StoreState: res.UserPatch.PremiumStoreState,
		AutoRenew:  res.UserPatch.PremiumAutoRenew,
	}
	if res.PremiumUntil != nil {
		iso := res.PremiumUntil.UTC().Format(time.RFC3339Nano)
		out.PremiumUntil = &iso
	}
	return out
}
