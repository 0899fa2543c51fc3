package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"lifeisbonusBack/internal/models"
)

var googleActiveStates = map[string]struct{}{
	"SUBSCRIPTION_STATE_ACTIVE":          {},
	"SUBSCRIPTION_STATE_IN_GRACE_PERIOD": {},
	"ACTIVE":                             {},
	"IN_GRACE_PERIOD":                    {},
}

type GooglePlayConfig struct {
	PackageName        string
	ServiceAccountJSON string
}

// GoogleVerifier checks subscription purchase tokens with the Play Developer API (subscriptionsv2).
type GoogleVerifier struct {
	packageName string
	svc         *androidpublisher.Service
	now         func() time.Time
	log         zerolog.Logger
}

func NewGoogleVerifier(ctx context.Context, cfg GooglePlayConfig, log zerolog.Logger) (*GoogleVerifier, error) {
	if strings.TrimSpace(cfg.ServiceAccountJSON) == "" {
		return nil, errors.New("GOOGLE_PLAY_SERVICE_ACCOUNT_JSON is empty")
	}
	s, err := androidpublisher.NewService(ctx,
		option.WithCredentialsJSON([]byte(cfg.ServiceAccountJSON)),
		option.WithScopes(androidpublisher.AndroidpublisherScope),
	)
	if err != nil {
		return nil, fmt.Errorf("androidpublisher.NewService: %w", err)
	}
	return NewGoogleVerifierWithService(s, cfg.PackageName, log), nil
}

// NewGoogleVerifierWithService wraps an already constructed publisher client.
func NewGoogleVerifierWithService(svc *androidpublisher.Service, packageName string, log zerolog.Logger) *GoogleVerifier {
	return &GoogleVerifier{
		packageName: strings.TrimSpace(packageName),
		svc:         svc,
		now:         time.Now,
		log:         log,
	}
}

func (v *GoogleVerifier) Platform() models.Platform { return models.PlatformAndroid }

// Verify fetches the subscription state for token. A 404 from the API is reported as
// ErrPurchaseNotFound so callers can treat it as terminal.
func (v *GoogleVerifier) Verify(ctx context.Context, token, productID string, pc PlatformContext) (models.Verification, error) {
	token = strings.TrimSpace(token)
	productID = strings.TrimSpace(productID)
	if token == "" || productID == "" {
		return models.Verification{}, errors.New("purchase_token and product_id are required")
	}
	packageName := strings.TrimSpace(pc.PackageName)
	if packageName == "" {
		packageName = v.packageName
	}
	if packageName == "" {
		return models.Verification{}, errors.New("package name is required")
	}

	resp, err := v.svc.Purchases.Subscriptionsv2.Get(packageName, token).Context(ctx).Do()
	if err != nil {
		if isGoogleNotFound(err) {
			return models.Verification{}, fmt.Errorf("google subscriptionsv2.get: %w", ErrPurchaseNotFound)
		}
		return models.Verification{}, fmt.Errorf("google subscriptionsv2.get: %w", err)
	}
	return v.fromSubscription(resp, productID), nil
}

func (v *GoogleVerifier) fromSubscription(resp *androidpublisher.SubscriptionPurchaseV2, productID string) models.Verification {
	raw, _ := json.Marshal(resp)
	if resp == nil || len(resp.LineItems) == 0 {
		return models.NotFoundVerification(models.PlatformAndroid, productID, raw)
	}

	// Plan changes can move the token to another product id; fall back to the first item.
	item := resp.LineItems[0]
	for _, li := range resp.LineItems {
		if li != nil && li.ProductId == productID {
			item = li
			break
		}
	}
	if item == nil {
		return models.NotFoundVerification(models.PlatformAndroid, productID, raw)
	}

	var expiresAt int64
	validExpiry := false
	if t, err := time.Parse(time.RFC3339, item.ExpiryTime); err == nil {
		expiresAt = t.UnixMilli()
		validExpiry = expiresAt > 0
	}
	_, activeState := googleActiveStates[resp.SubscriptionState]
	active := validExpiry && expiresAt > v.now().UnixMilli() && activeState

	ver := models.Verification{
		IsActive:        active,
		Platform:        models.PlatformAndroid,
		ProductID:       item.ProductId,
		StoreState:      resp.SubscriptionState,
		ExpiresAtMillis: expiresAt,
		AutoRenew:       item.AutoRenewingPlan != nil && item.AutoRenewingPlan.AutoRenewEnabled,
		Raw:             raw,
	}
	if ver.ProductID == "" {
		ver.ProductID = productID
	}
	if resp.LatestOrderId != "" {
		orderID := resp.LatestOrderId
		ver.TransactionID = &orderID
	}
	return ver
}

func isGoogleNotFound(err error) bool {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return gerr.Code == http.StatusNotFound || gerr.Code == http.StatusGone
	}
	return false
}
