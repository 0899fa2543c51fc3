package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Platform identifies the app store that issued a purchase credential.
type Platform string

const (
	PlatformIOS     Platform = "ios"
	PlatformAndroid Platform = "android"
)

// ParsePlatform validates a caller-supplied platform tag.
func ParsePlatform(s string) (Platform, error) {
	switch Platform(strings.ToLower(strings.TrimSpace(s))) {
	case PlatformIOS:
		return PlatformIOS, nil
	case PlatformAndroid:
		return PlatformAndroid, nil
	default:
		return "", fmt.Errorf("unsupported platform: %q", s)
	}
}

// Purchase sources recorded on history entries and token index rows.
const (
	SourceVerifyPremiumPurchase = "verifyPremiumPurchase"
	SourceGooglePlayRTDN        = "google_play_rtdn"
)

// StoreStateNotFound marks a verification for which the store had no matching purchase.
const StoreStateNotFound = "NOT_FOUND"

// Verification is the normalized result of checking one purchase credential with a store.
type Verification struct {
	IsActive        bool            `json:"isActive"`
	Platform        Platform        `json:"platform"`
	ProductID       string          `json:"productId"`
	StoreState      string          `json:"storeState"`
	ExpiresAtMillis int64           `json:"expiresAtMillis"`
	AutoRenew       bool            `json:"autoRenew"`
	TransactionID   *string         `json:"transactionId"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}

// NotFoundVerification is returned when the store knows nothing about the requested product.
func NotFoundVerification(platform Platform, productID string, raw json.RawMessage) Verification {
	return Verification{
		IsActive:   false,
		Platform:   platform,
		ProductID:  productID,
		StoreState: StoreStateNotFound,
		Raw:        raw,
	}
}

// ExpiresAt converts the expiry to a time, nil when unknown.
func (v Verification) ExpiresAt() *time.Time {
	if v.ExpiresAtMillis <= 0 {
		return nil
	}
	t := time.UnixMilli(v.ExpiresAtMillis).UTC()
	return &t
}

// Entitlement is the premium-* state stored on the user record.
type Entitlement struct {
	PremiumActive     bool       `json:"premiumActive"`
	PremiumPlan       *string    `json:"premiumPlan"`
	PremiumPlatform   *string    `json:"premiumPlatform"`
	PremiumAutoRenew  bool       `json:"premiumAutoRenew"`
	PremiumStoreState string     `json:"premiumStoreState"`
	PremiumUntil      *time.Time `json:"premiumUntil"`
	PremiumVerifiedAt time.Time  `json:"premiumVerifiedAt"`
}

// EntitlementFromVerification builds the full replacement for a user's premium fields.
func EntitlementFromVerification(v Verification, verifiedAt time.Time) Entitlement {
	ent := Entitlement{
		PremiumActive:     v.IsActive,
		PremiumAutoRenew:  v.AutoRenew,
		PremiumStoreState: v.StoreState,
		PremiumUntil:      v.ExpiresAt(),
		PremiumVerifiedAt: verifiedAt.UTC(),
	}
	if v.ProductID != "" {
		plan := v.ProductID
		ent.PremiumPlan = &plan
	}
	if v.Platform != "" {
		platform := string(v.Platform)
		ent.PremiumPlatform = &platform
	}
	return ent
}

// PurchaseHistoryEntry is an immutable audit record of one verification.
type PurchaseHistoryEntry struct {
	ID           string       `json:"id"`
	UID          string       `json:"uid"`
	Verification Verification `json:"verification"`
	Source       string       `json:"source"`
	CreatedAt    time.Time    `json:"createdAt"`
}

// PurchaseTokenIndexEntry maps a hashed Google Play purchase token to its owner.
// An entry with an empty UID is unmapped.
type PurchaseTokenIndexEntry struct {
	Platform            Platform        `json:"platform"`
	UID                 string          `json:"uid,omitempty"`
	PackageName         string          `json:"packageName"`
	ProductID           string          `json:"productId"`
	PurchaseTokenHash   string          `json:"purchaseTokenHash"`
	LatestTransactionID *string         `json:"latestTransactionId,omitempty"`
	LatestStoreState    string          `json:"latestStoreState,omitempty"`
	LatestIsActive      bool            `json:"latestIsActive"`
	LatestExpiresAt     *time.Time      `json:"latestExpiresAt,omitempty"`
	LastSource          string          `json:"lastSource,omitempty"`
	LastRTDNEvent       json.RawMessage `json:"lastRtdnEvent,omitempty"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// Mapped reports whether the token is attributed to a user.
func (e PurchaseTokenIndexEntry) Mapped() bool {
	return strings.TrimSpace(e.UID) != ""
}

// PublicEntitlement is the snapshot returned to the purchasing client.
type PublicEntitlement struct {
	IsActive     bool    `json:"isActive"`
	PremiumUntil *string `json:"premiumUntil"`
	Platform     string  `json:"platform"`
	ProductID    string  `json:"productId"`
	StoreState   string  `json:"storeState"`
	AutoRenew    bool    `json:"autoRenew"`
}
