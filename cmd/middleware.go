package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/felixge/httpsnoop"
	"github.com/justinas/alice"

	"lifeisbonusBack/internal/handlers"
	"lifeisbonusBack/internal/services"
)

func secureHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-XSS-Protection", "1; mode=block")
		w.Header().Set("X-Frame-Options", "deny")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		next.ServeHTTP(w, r)
	})
}

func makeResponseJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

func (app *application) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m := httpsnoop.CaptureMetrics(next, w, r)
		app.log.Info().
			Str("remote", r.RemoteAddr).
			Str("method", r.Method).
			Str("uri", r.URL.RequestURI()).
			Int("status", m.Code).
			Dur("duration", m.Duration).
			Msg("request")
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				w.Header().Set("Connection", "close")
				app.serverError(w, fmt.Errorf("%s", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// observe records request count and latency under a fixed endpoint label.
func (app *application) observe(endpoint string) alice.Constructor {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := httpsnoop.CaptureMetrics(next, w, r)
			app.metrics.IncRequestsTotal(endpoint, m.Code)
			app.metrics.ObserveRequestDuration(endpoint, m.Duration)
		})
	}
}

// firebaseAuth resolves the caller from a Firebase ID token in the Authorization header.
func (app *application) firebaseAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		idToken, ok := bearerToken(r)
		if !ok {
			app.unauthenticated(w, "sign-in required")
			return
		}
		token, err := app.auth.VerifyIDToken(r.Context(), idToken)
		if err != nil || token.UID == "" {
			app.log.Debug().Err(err).Msg("id token rejected")
			app.unauthenticated(w, "invalid id token")
			return
		}
		next.ServeHTTP(w, r.WithContext(handlers.WithUID(r.Context(), token.UID)))
	})
}

// triggerAuth admits internal callers holding a token signed with the trigger key.
func (app *application) triggerAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if app.triggers == nil {
			app.writeError(w, http.StatusServiceUnavailable, services.CodeFailedPrecondition, "trigger endpoint disabled")
			return
		}
		raw, ok := bearerToken(r)
		if !ok {
			app.unauthenticated(w, "trigger token required")
			return
		}
		subject, err := app.triggers.Parse(raw)
		if err != nil {
			app.log.Warn().Err(err).Msg("trigger token rejected")
			app.unauthenticated(w, "invalid trigger token")
			return
		}
		app.log.Debug().Str("caller", subject).Msg("trigger call")
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	return token, token != ""
}

func (app *application) serverError(w http.ResponseWriter, err error) {
	app.log.Error().Err(err).Msg("panic recovered")
	app.writeError(w, http.StatusInternalServerError, services.CodeInternal, "internal error")
}

func (app *application) unauthenticated(w http.ResponseWriter, message string) {
	app.writeError(w, http.StatusUnauthorized, services.CodeUnauthenticated, message)
}

func (app *application) writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code, "message": message})
}
