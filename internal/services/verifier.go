package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"lifeisbonusBack/internal/models"
)

// PlatformContext carries store-specific inputs that are not part of the credential itself.
type PlatformContext struct {
	PackageName string
}

// Verifier turns a raw purchase credential into a normalized Verification.
type Verifier interface {
	Platform() models.Platform
	Verify(ctx context.Context, credential, productID string, pc PlatformContext) (models.Verification, error)
}

// VerifierSet selects a verifier by platform tag.
type VerifierSet map[models.Platform]Verifier

// NewVerifierSet indexes the non-nil verifiers by their platform.
func NewVerifierSet(verifiers ...Verifier) VerifierSet {
	set := make(VerifierSet, len(verifiers))
	for _, v := range verifiers {
		if v == nil {
			continue
		}
		set[v.Platform()] = v
	}
	return set
}

func (s VerifierSet) For(p models.Platform) (Verifier, bool) {
	v, ok := s[p]
	return v, ok
}

// HashPurchaseToken is the index key for a purchase token; raw tokens are never stored.
func HashPurchaseToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
