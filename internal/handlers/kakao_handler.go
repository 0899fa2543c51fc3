package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"lifeisbonusBack/internal/services"
)

// TokenExchanger is satisfied by *services.KakaoAuthService.
type TokenExchanger interface {
	Exchange(ctx context.Context, accessToken string) (services.KakaoExchange, error)
}

type KakaoHandler struct {
	Exchanger TokenExchanger
	Log       zerolog.Logger
}

func NewKakaoHandler(exchanger TokenExchanger, log zerolog.Logger) *KakaoHandler {
	return &KakaoHandler{Exchanger: exchanger, Log: log}
}

// Exchange handles /auth/kakao. Only POST is accepted; CORS preflight is answered upstream.
func (h *KakaoHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method-not-allowed"})
		return
	}

	var req struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		req.AccessToken = ""
	}

	out, err := h.Exchanger.Exchange(r.Context(), req.AccessToken)
	if err != nil {
		var kErr *services.KakaoError
		if !errors.As(err, &kErr) {
			kErr = &services.KakaoError{Status: http.StatusInternalServerError, Code: services.KakaoErrInternal, Detail: err.Error()}
		}
		if kErr.Status >= http.StatusInternalServerError {
			h.Log.Error().Err(err).Msg("kakao exchange")
		}
		writeJSON(w, kErr.Status, errorBody{Error: kErr.Code, Detail: kErr.Detail})
		return
	}
	writeJSON(w, http.StatusOK, out)
}
