package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/metrics"
	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/repositories"
)

// RTDNOutcome describes how a notification was disposed of. Only a returned error asks the
// delivery layer to retry.
type RTDNOutcome string

const (
	RTDNReconciled  RTDNOutcome = "reconciled"
	RTDNMalformed   RTDNOutcome = "malformed"
	RTDNIgnored     RTDNOutcome = "ignored"
	RTDNMissingData RTDNOutcome = "missing_fields"
	RTDNUnmapped    RTDNOutcome = "unmapped"
	RTDNFailed      RTDNOutcome = "failed"
)

// DeveloperNotification is the Google Play real-time developer notification body.
type DeveloperNotification struct {
	Version                    string                    `json:"version"`
	PackageName                string                    `json:"packageName"`
	EventTimeMillis            string                    `json:"eventTimeMillis"`
	SubscriptionNotification   *SubscriptionNotification `json:"subscriptionNotification,omitempty"`
	OneTimeProductNotification json.RawMessage           `json:"oneTimeProductNotification,omitempty"`
	VoidedPurchaseNotification json.RawMessage           `json:"voidedPurchaseNotification,omitempty"`
	TestNotification           json.RawMessage           `json:"testNotification,omitempty"`
}

type SubscriptionNotification struct {
	Version          string `json:"version"`
	NotificationType int    `json:"notificationType"`
	PurchaseToken    string `json:"purchaseToken"`
	SubscriptionID   string `json:"subscriptionId"`
}

// RTDNEvent is one delivery from the event stream. Exactly one of Data (base64 JSON) or JSON
// (already structured) is expected.
type RTDNEvent struct {
	MessageID string
	Data      string
	JSON      json.RawMessage
}

// DecodeNotification parses an event into a notification. Any failure wraps ErrMalformedEvent.
func DecodeNotification(ev RTDNEvent) (DeveloperNotification, json.RawMessage, error) {
	raw := ev.JSON
	if len(raw) == 0 || string(raw) == "null" {
		data := strings.TrimSpace(ev.Data)
		if data == "" {
			return DeveloperNotification{}, nil, fmt.Errorf("%w: empty payload", ErrMalformedEvent)
		}
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return DeveloperNotification{}, nil, fmt.Errorf("%w: base64: %v", ErrMalformedEvent, err)
		}
		raw = decoded
	}
	if !json.Valid(raw) {
		return DeveloperNotification{}, nil, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	var n DeveloperNotification
	if err := json.Unmarshal(raw, &n); err != nil {
		return DeveloperNotification{}, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return n, raw, nil
}

// RTDNService reconciles entitlements from Google Play subscription notifications.
type RTDNService struct {
	Verifier     Verifier
	Tokens       PurchaseTokenIndex
	Entitlements *EntitlementService
	Metrics      metrics.Recorder
	Log          zerolog.Logger
	Now          func() time.Time
}

// Handle processes one event. Permanently unprocessable events return a nil error so they are
// acknowledged; upstream and persistence failures are returned for redelivery.
func (s *RTDNService) Handle(ctx context.Context, ev RTDNEvent) (RTDNOutcome, error) {
	outcome, err := s.handle(ctx, ev)
	s.metrics().IncRTDN(string(outcome))
	return outcome, err
}

func (s *RTDNService) handle(ctx context.Context, ev RTDNEvent) (RTDNOutcome, error) {
	log := s.Log.With().Str("message_id", ev.MessageID).Logger()

	n, raw, err := DecodeNotification(ev)
	if err != nil {
		log.Error().Err(err).Msg("rtdn payload dropped")
		return RTDNMalformed, nil
	}
	if n.SubscriptionNotification == nil {
		log.Info().Str("package_name", n.PackageName).Msg("rtdn is not a subscription notification, ignoring")
		return RTDNIgnored, nil
	}

	sub := n.SubscriptionNotification
	token := strings.TrimSpace(sub.PurchaseToken)
	productID := strings.TrimSpace(sub.SubscriptionID)
	packageName := strings.TrimSpace(n.PackageName)
	if token == "" || productID == "" || packageName == "" {
		log.Warn().
			Bool("has_token", token != "").
			Str("subscription_id", productID).
			Str("package_name", packageName).
			Msg("rtdn missing required fields, dropping")
		return RTDNMissingData, nil
	}

	tokenHash := HashPurchaseToken(token)
	log = log.With().
		Str("token_hash", tokenHash).
		Str("subscription_id", productID).
		Int("notification_type", sub.NotificationType).
		Logger()

	entry, err := s.Tokens.FindPurchaseToken(ctx, tokenHash)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		return RTDNFailed, fmt.Errorf("lookup purchase token: %w", err)
	}
	if err != nil || !entry.Mapped() {
		marker := models.PurchaseTokenIndexEntry{
			Platform:          models.PlatformAndroid,
			PackageName:       packageName,
			ProductID:         productID,
			PurchaseTokenHash: tokenHash,
			LastSource:        models.SourceGooglePlayRTDN,
			LastRTDNEvent:     raw,
			UpdatedAt:         s.now(),
		}
		if err := s.Tokens.MarkUnmapped(ctx, marker); err != nil {
			return RTDNFailed, fmt.Errorf("mark purchase token unmapped: %w", err)
		}
		log.Warn().Msg("rtdn purchase token has no owner, stored as unmapped")
		return RTDNUnmapped, nil
	}

	ver, err := s.Verifier.Verify(ctx, token, productID, PlatformContext{PackageName: packageName})
	if err != nil {
		if !errors.Is(err, ErrPurchaseNotFound) {
			return RTDNFailed, fmt.Errorf("verify subscription: %w", err)
		}
		log.Info().Msg("rtdn subscription not found upstream")
		ver = models.NotFoundVerification(models.PlatformAndroid, productID, nil)
	}

	if _, err := s.Entitlements.Reconcile(ctx, ReconcileInput{
		UID:           entry.UID,
		Verification:  ver,
		Source:        models.SourceGooglePlayRTDN,
		PurchaseToken: token,
		PackageName:   packageName,
		RawEvent:      raw,
	}); err != nil {
		return RTDNFailed, fmt.Errorf("reconcile: %w", err)
	}
	log.Info().Str("uid", entry.UID).Bool("active", ver.IsActive).Msg("rtdn reconciled")
	return RTDNReconciled, nil
}

func (s *RTDNService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *RTDNService) metrics() metrics.Recorder {
	if s.Metrics == nil {
		return metrics.Noop{}
	}
	return s.Metrics
}
