package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/metrics"
	"lifeisbonusBack/internal/models"
)

// VerifyPurchaseRequest is the caller-supplied purchase credential.
type VerifyPurchaseRequest struct {
	Platform           string `json:"platform"`
	ProductID          string `json:"productId"`
	PurchaseToken      string `json:"purchaseToken"`
	AndroidPackageName string `json:"androidPackageName,omitempty"`
}

// PremiumService verifies a purchase for the authenticated caller and reconciles it synchronously.
type PremiumService struct {
	Verifiers          VerifierSet
	Entitlements       *EntitlementService
	AllowedProducts    map[string]struct{}
	DefaultPackageName string
	Metrics            metrics.Recorder
	Log                zerolog.Logger
}

// VerifyPremiumPurchase validates req, verifies it with the matching store and stores the result
// for uid. uid must come from the authenticated identity, never from the request body.
func (s *PremiumService) VerifyPremiumPurchase(ctx context.Context, uid string, req VerifyPurchaseRequest) (models.PublicEntitlement, error) {
	uid = strings.TrimSpace(uid)
	if uid == "" {
		return models.PublicEntitlement{}, newError(CodeUnauthenticated, "sign-in required", nil)
	}

	platform, err := models.ParsePlatform(req.Platform)
	if err != nil {
		return models.PublicEntitlement{}, newError(CodeInvalidArgument, "platform must be android or ios", err)
	}
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return models.PublicEntitlement{}, newError(CodeInvalidArgument, "productId is required", nil)
	}
	if _, ok := s.AllowedProducts[productID]; !ok {
		return models.PublicEntitlement{}, newError(CodePermissionDenied, "product is not allowed", nil)
	}
	token := strings.TrimSpace(req.PurchaseToken)
	if token == "" {
		return models.PublicEntitlement{}, newError(CodeInvalidArgument, "purchaseToken is required", nil)
	}

	verifier, ok := s.Verifiers.For(platform)
	if !ok {
		return models.PublicEntitlement{}, newError(CodeFailedPrecondition, "store verification is not configured for "+string(platform), nil)
	}

	pc := PlatformContext{}
	if platform == models.PlatformAndroid {
		pc.PackageName = strings.TrimSpace(req.AndroidPackageName)
		if pc.PackageName == "" {
			pc.PackageName = s.DefaultPackageName
		}
	}

	ver, err := verifier.Verify(ctx, token, productID, pc)
	if err != nil {
		s.metrics().IncVerification(string(platform), "error")
		s.Log.Warn().Err(err).Str("uid", uid).Str("platform", string(platform)).Str("product_id", productID).
			Int("token_len", len(token)).Msg("premium verification failed")
		if errors.Is(err, ErrPurchaseNotFound) {
			return models.PublicEntitlement{}, newError(CodePermissionDenied, "purchase was not found in the store", err)
		}
		var vErr *VerificationError
		if errors.As(err, &vErr) && vErr.Status != 0 {
			return models.PublicEntitlement{}, newError(CodePermissionDenied, "store rejected the purchase", err)
		}
		return models.PublicEntitlement{}, newError(CodeInternal, "store verification failed", err)
	}
	s.metrics().IncVerification(string(platform), verificationOutcome(ver))

	res, err := s.Entitlements.Reconcile(ctx, ReconcileInput{
		UID:           uid,
		Verification:  ver,
		Source:        models.SourceVerifyPremiumPurchase,
		PurchaseToken: token,
		PackageName:   pc.PackageName,
	})
	if err != nil {
		return models.PublicEntitlement{}, newError(CodeInternal, "failed to store entitlement", err)
	}
	return PublicSnapshot(ver, res), nil
}

func (s *PremiumService) metrics() metrics.Recorder {
	if s.Metrics == nil {
		return metrics.Noop{}
	}
	return s.Metrics
}

func verificationOutcome(v models.Verification) string {
	switch {
	case v.StoreState == models.StoreStateNotFound:
		return "not_found"
	case v.IsActive:
		return "active"
	default:
		return "inactive"
	}
}
