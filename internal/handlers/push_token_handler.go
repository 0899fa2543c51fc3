package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/services"
)

// TokenRegistry is satisfied by *repositories.NotifyTokenRepository.
type TokenRegistry interface {
	RegisterToken(ctx context.Context, uid, token string) error
	RemoveTokens(ctx context.Context, uid string, tokens []string) error
	UpsertProfile(ctx context.Context, uid, displayName string, notificationsEnabled bool) error
}

// PushTokenHandler lets signed-in devices manage their FCM tokens and push preferences.
type PushTokenHandler struct {
	Registry TokenRegistry
	Log      zerolog.Logger
}

func NewPushTokenHandler(registry TokenRegistry, log zerolog.Logger) *PushTokenHandler {
	return &PushTokenHandler{Registry: registry, Log: log}
}

// CreateToken handles POST /push/tokens.
func (h *PushTokenHandler) CreateToken(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil || strings.TrimSpace(req.Token) == "" {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "token is required")
		return
	}
	if err := h.Registry.RegisterToken(r.Context(), uid, strings.TrimSpace(req.Token)); err != nil {
		h.Log.Error().Err(err).Str("uid", uid).Msg("register push token")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "internal error")
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// DeleteToken handles DELETE /push/tokens/:token.
func (h *PushTokenHandler) DeleteToken(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())
	token := r.URL.Query().Get(":token")
	if token == "" {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "token is required")
		return
	}
	if err := h.Registry.RemoveTokens(r.Context(), uid, []string{token}); err != nil {
		h.Log.Error().Err(err).Str("uid", uid).Msg("delete push token")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateProfile handles PUT /push/profile.
func (h *PushTokenHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	uid := UIDFromContext(r.Context())
	var req struct {
		DisplayName          string `json:"displayName"`
		NotificationsEnabled *bool  `json:"notificationsEnabled"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, services.CodeInvalidArgument, "invalid body")
		return
	}
	enabled := true
	if req.NotificationsEnabled != nil {
		enabled = *req.NotificationsEnabled
	}
	if err := h.Registry.UpsertProfile(r.Context(), uid, strings.TrimSpace(req.DisplayName), enabled); err != nil {
		h.Log.Error().Err(err).Str("uid", uid).Msg("update push profile")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "internal error")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
