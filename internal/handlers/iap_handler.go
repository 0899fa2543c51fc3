package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/models"
	"lifeisbonusBack/internal/repositories"
	"lifeisbonusBack/internal/services"
)

// PurchaseVerifier is satisfied by *services.PremiumService.
type PurchaseVerifier interface {
	VerifyPremiumPurchase(ctx context.Context, uid string, req services.VerifyPurchaseRequest) (models.PublicEntitlement, error)
}

// EntitlementReader is satisfied by *repositories.EntitlementRepository.
type EntitlementReader interface {
	GetEntitlement(ctx context.Context, uid string) (models.Entitlement, error)
	ListPurchaseHistory(ctx context.Context, uid string, limit int) ([]models.PurchaseHistoryEntry, error)
}

// PremiumHandler serves the purchase verification endpoint for signed-in callers.
type PremiumHandler struct {
	Service PurchaseVerifier
	Reader  EntitlementReader
	Log     zerolog.Logger
}

func NewPremiumHandler(service PurchaseVerifier, reader EntitlementReader, log zerolog.Logger) *PremiumHandler {
	return &PremiumHandler{Service: service, Reader: reader, Log: log}
}

// VerifyPurchase handles POST /premium/verify.
func (h *PremiumHandler) VerifyPurchase(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())
	if uid == "" {
		writeError(w, http.StatusUnauthorized, services.CodeUnauthenticated, "sign-in required")
		return
	}

	var req services.VerifyPurchaseRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "invalid body")
		return
	}

	snap, err := h.Service.VerifyPremiumPurchase(r.Context(), uid, req)
	if err != nil {
		if services.ErrorCode(err) == services.CodeInternal {
			h.Log.Error().Err(err).Str("uid", uid).Msg("verify premium purchase")
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type entitlementResponse struct {
	Entitlement models.Entitlement            `json:"entitlement"`
	History     []models.PurchaseHistoryEntry `json:"history"`
}

// GetEntitlement handles GET /premium/status for the caller.
func (h *PremiumHandler) GetEntitlement(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())
	if uid == "" {
		writeError(w, http.StatusUnauthorized, services.CodeUnauthenticated, "sign-in required")
		return
	}

	ent, err := h.Reader.GetEntitlement(r.Context(), uid)
	if err != nil && !errors.Is(err, repositories.ErrNotFound) {
		h.Log.Error().Err(err).Str("uid", uid).Msg("load entitlement")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "internal error")
		return
	}
	history, err := h.Reader.ListPurchaseHistory(r.Context(), uid, 20)
	if err != nil {
		h.Log.Error().Err(err).Str("uid", uid).Msg("load purchase history")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "internal error")
		return
	}
	for i := range history {
		history[i].Verification.Raw = nil
	}
	if history == nil {
		history = []models.PurchaseHistoryEntry{}
	}
	writeJSON(w, http.StatusOK, entitlementResponse{Entitlement: ent, History: history})
}
