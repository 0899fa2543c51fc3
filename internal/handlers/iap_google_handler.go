package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"

	"lifeisbonusBack/internal/services"
)

// NotificationProcessor is satisfied by *services.RTDNService.
type NotificationProcessor interface {
	Handle(ctx context.Context, ev services.RTDNEvent) (services.RTDNOutcome, error)
}

// TokenValidator is satisfied by *idtoken.Validator.
type TokenValidator interface {
	Validate(ctx context.Context, idToken, audience string) (*idtoken.Payload, error)
}

type pubSubMessage struct {
	Data        string            `json:"data"`
	JSON        json.RawMessage   `json:"json"`
	MessageID   string            `json:"messageId"`
	Attributes  map[string]string `json:"attributes"`
	PublishTime string            `json:"publishTime"`
}

type pubSubEnvelope struct {
	Message      pubSubMessage `json:"message"`
	Subscription string        `json:"subscription"`
}

// GoogleRTDNHandler receives Google Play notifications through a Pub/Sub push subscription.
// A 2xx response acknowledges the message; anything else makes Pub/Sub redeliver it.
type GoogleRTDNHandler struct {
	Processor NotificationProcessor
	Topic     string
	Audience  string
	Validator TokenValidator
	Log       zerolog.Logger
}

func NewGoogleRTDNHandler(p NotificationProcessor, topic, audience string, v TokenValidator, log zerolog.Logger) *GoogleRTDNHandler {
	return &GoogleRTDNHandler{Processor: p, Topic: topic, Audience: audience, Validator: v, Log: log}
}

// PubSubPush handles POST /pubsub/push/:topic.
func (h *GoogleRTDNHandler) PubSubPush(w http.ResponseWriter, r *http.Request) {
	if h.Audience != "" {
		if !h.authorized(r) {
			writeError(w, http.StatusUnauthorized, services.CodeUnauthenticated, "invalid push token")
			return
		}
	}

	topic := r.URL.Query().Get(":topic")
	if h.Topic != "" && topic != h.Topic {
		h.Log.Warn().Str("topic", topic).Msg("push for unexpected topic, acknowledging")
		writeJSON(w, http.StatusOK, map[string]string{"status": string(services.RTDNIgnored)})
		return
	}

	ev, subscription, ok := decodePush(http.MaxBytesReader(w, r.Body, 1<<20))
	if !ok {
		h.Log.Error().Msg("undecodable push body, acknowledging")
		writeJSON(w, http.StatusOK, map[string]string{"status": string(services.RTDNMalformed)})
		return
	}

	outcome, err := h.Processor.Handle(r.Context(), ev)
	if err != nil {
		h.Log.Error().Err(err).Str("message_id", ev.MessageID).Str("subscription", subscription).
			Msg("rtdn processing failed, requesting redelivery")
		writeError(w, http.StatusInternalServerError, services.CodeInternal, "processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
}

// notificationKeys identify a Play developer notification posted without a Pub/Sub envelope.
var notificationKeys = []string{"subscriptionNotification", "packageName", "oneTimeProductNotification", "voidedPurchaseNotification", "testNotification"}

// decodePush accepts a Pub/Sub push envelope or a bare developer notification.
func decodePush(body io.Reader) (services.RTDNEvent, string, bool) {
	raw, err := io.ReadAll(body)
	if err != nil {
		return services.RTDNEvent{}, "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return services.RTDNEvent{}, "", false
	}

	if _, ok := fields["message"]; ok {
		var env pubSubEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return services.RTDNEvent{}, "", false
		}
		return services.RTDNEvent{
			MessageID: env.Message.MessageID,
			Data:      env.Message.Data,
			JSON:      env.Message.JSON,
		}, env.Subscription, true
	}
	for _, key := range notificationKeys {
		if _, ok := fields[key]; ok {
			return services.RTDNEvent{JSON: json.RawMessage(raw)}, "", true
		}
	}
	return services.RTDNEvent{}, "", false
}

func (h *GoogleRTDNHandler) authorized(r *http.Request) bool {
	if h.Validator == nil {
		return false
	}
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return false
	}
	if _, err := h.Validator.Validate(r.Context(), strings.TrimPrefix(header, "Bearer "), h.Audience); err != nil {
		h.Log.Warn().Err(err).Msg("push token rejected")
		return false
	}
	return true
}
