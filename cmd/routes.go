package main

import (
	"net/http"

	"github.com/bmizerany/pat"
	"github.com/justinas/alice"
)

func (app *application) routes() http.Handler {
	standardMiddleware := alice.New(app.recoverPanic, app.logRequest, secureHeaders, makeResponseJSON)
	public := func(endpoint string) alice.Chain { return alice.New(app.observe(endpoint)) }
	authed := func(endpoint string) alice.Chain { return alice.New(app.observe(endpoint), app.firebaseAuth) }
	trigger := func(endpoint string) alice.Chain { return alice.New(app.observe(endpoint), app.triggerAuth) }

	mux := pat.New()

	// Premium
	mux.Post("/premium/verify", authed("premium_verify").ThenFunc(app.premiumHandler.VerifyPurchase))
	mux.Get("/premium/status", authed("premium_status").ThenFunc(app.premiumHandler.GetEntitlement))
	mux.Post("/pubsub/push/:topic", public("pubsub_push").ThenFunc(app.rtdnHandler.PubSubPush))

	// Chat
	mux.Post("/chat/threads", authed("chat_create_thread").ThenFunc(app.chatHandler.CreateThread))
	mux.Post("/chat/threads/:id/messages", authed("chat_send_message").ThenFunc(app.chatHandler.SendMessage))
	mux.Post("/internal/chat/messages/created", trigger("chat_message_created").ThenFunc(app.chatHandler.MessageCreated))

	// Push tokens
	mux.Post("/push/tokens", authed("push_token_create").ThenFunc(app.pushTokenHandler.CreateToken))
	mux.Del("/push/tokens/:token", authed("push_token_delete").ThenFunc(app.pushTokenHandler.DeleteToken))
	mux.Put("/push/profile", authed("push_profile_update").ThenFunc(app.pushTokenHandler.UpdateProfile))

	// Kakao: every method reaches the handler so anything but POST gets a JSON 405.
	kakao := public("auth_kakao").ThenFunc(app.kakaoHandler.Exchange)
	for _, method := range []string{"GET", "POST", "PUT", "DELETE", "PATCH"} {
		mux.Add(method, "/auth/kakao", kakao)
	}

	mux.Get("/metrics", app.metrics.Handler())
	mux.Get("/healthz", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))

	return standardMiddleware.Then(mux)
}
