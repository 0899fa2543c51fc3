package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"lifeisbonusBack/internal/services"
)

type ctxKey string

const uidKey ctxKey = "uid"

// WithUID stores the authenticated caller on the request context.
func WithUID(ctx context.Context, uid string) context.Context {
	return context.WithValue(ctx, uidKey, uid)
}

// UIDFromContext returns the authenticated caller or "".
func UIDFromContext(ctx context.Context) string {
	uid, _ := ctx.Value(uidKey).(string)
	return uid
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

// writeServiceError maps a services.Error code to its HTTP status.
func writeServiceError(w http.ResponseWriter, err error) {
	code := services.ErrorCode(err)
	message := "internal error"
	var se *services.Error
	if errors.As(err, &se) && code != services.CodeInternal {
		message = se.Message
	}
	writeError(w, StatusForCode(code), code, message)
}

func StatusForCode(code string) int {
	switch code {
	case services.CodeUnauthenticated:
		return http.StatusUnauthorized
	case services.CodeInvalidArgument:
		return http.StatusBadRequest
	case services.CodePermissionDenied:
		return http.StatusForbidden
	case services.CodeFailedPrecondition:
		return http.StatusPreconditionFailed
	default:
		return http.StatusInternalServerError
	}
}
