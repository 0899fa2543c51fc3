package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// Kakao exchange error codes returned to the client verbatim.
const (
	KakaoErrMissingAccessToken = "missing-access-token"
	KakaoErrAuthFailed         = "kakao-auth-failed"
	KakaoErrIDMissing          = "kakao-id-missing"
	KakaoErrInternal           = "internal-error"
)

// CustomTokenMinter is satisfied by *auth.Client.
type CustomTokenMinter interface {
	CustomTokenWithClaims(ctx context.Context, uid string, devClaims map[string]interface{}) (string, error)
}

// KakaoError carries the HTTP status and error code of a failed exchange.
type KakaoError struct {
	Status int
	Code   string
	Detail string
}

func (e *KakaoError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("kakao exchange %s: %s", e.Code, e.Detail)
	}
	return "kakao exchange " + e.Code
}

type KakaoExchange struct {
	FirebaseToken string `json:"firebaseToken"`
	KakaoID       int64  `json:"kakaoId"`
}

// KakaoAuthService exchanges a Kakao access token for a Firebase custom token.
type KakaoAuthService struct {
	APIBase string
	Client  *http.Client
	Minter  CustomTokenMinter
	Log     zerolog.Logger
}

func NewKakaoAuthService(apiBase string, minter CustomTokenMinter, log zerolog.Logger) *KakaoAuthService {
	return &KakaoAuthService{
		APIBase: strings.TrimRight(apiBase, "/"),
		Client:  &http.Client{Timeout: 15 * time.Second},
		Minter:  minter,
		Log:     log,
	}
}

// Exchange resolves the Kakao user behind accessToken and mints a token for uid "kakao:<id>".
func (s *KakaoAuthService) Exchange(ctx context.Context, accessToken string) (KakaoExchange, error) {
	accessToken = strings.TrimSpace(accessToken)
	if accessToken == "" {
		return KakaoExchange{}, &KakaoError{Status: http.StatusBadRequest, Code: KakaoErrMissingAccessToken}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.APIBase+"/v2/user/me", nil)
	if err != nil {
		return KakaoExchange{}, internalKakaoError(err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := s.Client.Do(req)
	if err != nil {
		return KakaoExchange{}, internalKakaoError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return KakaoExchange{}, internalKakaoError(err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		s.Log.Warn().Int("status", resp.StatusCode).Msg("kakao profile lookup rejected")
		return KakaoExchange{}, &KakaoError{Status: http.StatusUnauthorized, Code: KakaoErrAuthFailed, Detail: string(body)}
	}
	if !gjson.ValidBytes(body) {
		return KakaoExchange{}, internalKakaoError(errors.New("kakao profile is not valid json"))
	}

	// Kakao ids exceed float64 precision; read the literal.
	id := gjson.GetBytes(body, "id")
	if !id.Exists() || id.Type != gjson.Number || id.Int() == 0 {
		return KakaoExchange{}, &KakaoError{Status: http.StatusInternalServerError, Code: KakaoErrIDMissing}
	}
	kakaoID := id.Int()

	uid := fmt.Sprintf("kakao:%d", kakaoID)
	token, err := s.Minter.CustomTokenWithClaims(ctx, uid, map[string]interface{}{
		"provider": "kakao",
		"kakaoId":  kakaoID,
	})
	if err != nil {
		return KakaoExchange{}, internalKakaoError(err)
	}
	s.Log.Info().Str("uid", uid).Msg("kakao token exchanged")
	return KakaoExchange{FirebaseToken: token, KakaoID: kakaoID}, nil
}

func internalKakaoError(err error) *KakaoError {
	return &KakaoError{Status: http.StatusInternalServerError, Code: KakaoErrInternal, Detail: err.Error()}
}
