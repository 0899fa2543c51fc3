package services

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	androidpublisher "google.golang.org/api/androidpublisher/v3"
	"google.golang.org/api/option"

	"lifeisbonusBack/internal/models"
)

var googleNow = time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC)

func newGoogleTestVerifier(t *testing.T, handler http.HandlerFunc) *GoogleVerifier {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	svc, err := androidpublisher.NewService(context.Background(),
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
	)
	require.NoError(t, err)

	v := NewGoogleVerifierWithService(svc, "com.lifeisbonus.app", zerolog.Nop())
	v.now = func() time.Time { return googleNow }
	return v
}

func TestGoogleVerifyActiveSubscription(t *testing.T) {
	var gotPath string
	v := newGoogleTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"subscriptionState": "SUBSCRIPTION_STATE_ACTIVE",
			"latestOrderId": "GPA.1111",
			"lineItems": [
				{"productId": "other", "expiryTime": "2027-01-01T00:00:00Z"},
				{"productId": "premium", "expiryTime": "2026-11-01T00:00:00Z", "autoRenewingPlan": {"autoRenewEnabled": true}}
			]
		}`))
	})

	ver, err := v.Verify(context.Background(), "tok", "premium", PlatformContext{PackageName: "com.custom.app"})
	require.NoError(t, err)

	assert.True(t, strings.Contains(gotPath, "/applications/com.custom.app/purchases/subscriptionsv2/tokens/tok"), gotPath)
	assert.True(t, ver.IsActive)
	assert.Equal(t, models.PlatformAndroid, ver.Platform)
	assert.Equal(t, "premium", ver.ProductID)
	assert.Equal(t, "SUBSCRIPTION_STATE_ACTIVE", ver.StoreState)
	assert.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).UnixMilli(), ver.ExpiresAtMillis)
	assert.True(t, ver.AutoRenew)
	require.NotNil(t, ver.TransactionID)
	assert.Equal(t, "GPA.1111", *ver.TransactionID)
	assert.NotEmpty(t, ver.Raw)
}

func TestGoogleVerifyFallsBackToFirstLineItem(t *testing.T) {
	v := newGoogleTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"subscriptionState": "SUBSCRIPTION_STATE_IN_GRACE_PERIOD",
			"lineItems": [{"productId": "premium_yearly", "expiryTime": "2026-10-05T00:00:00Z"}]
		}`))
	})

	ver, err := v.Verify(context.Background(), "tok", "premium_monthly", PlatformContext{})
	require.NoError(t, err)
	assert.True(t, ver.IsActive)
	assert.Equal(t, "premium_yearly", ver.ProductID)
	assert.False(t, ver.AutoRenew)
	assert.Nil(t, ver.TransactionID)
}

func TestGoogleVerifyExpiredOrInactiveState(t *testing.T) {
	v := newGoogleTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{
			"subscriptionState": "SUBSCRIPTION_STATE_CANCELED",
			"lineItems": [{"productId": "premium", "expiryTime": "2026-12-01T00:00:00Z"}]
		}`))
	})

	ver, err := v.Verify(context.Background(), "tok", "premium", PlatformContext{})
	require.NoError(t, err)
	assert.False(t, ver.IsActive, "canceled state is not active even before expiry")
}

func TestGoogleVerifyNoLineItemsIsNotFound(t *testing.T) {
	v := newGoogleTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"subscriptionState": "SUBSCRIPTION_STATE_EXPIRED"}`))
	})

	ver, err := v.Verify(context.Background(), "tok", "premium", PlatformContext{})
	require.NoError(t, err)
	assert.False(t, ver.IsActive)
	assert.Equal(t, models.StoreStateNotFound, ver.StoreState)
}

func TestGoogleVerify404IsPurchaseNotFound(t *testing.T) {
	v := newGoogleTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error": {"code": 404, "message": "The purchase token was not found."}}`))
	})

	_, err := v.Verify(context.Background(), "tok", "premium", PlatformContext{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPurchaseNotFound))
}

func TestGoogleVerifyServerErrorPropagates(t *testing.T) {
	v := newGoogleTestVerifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"code": 500, "message": "backend"}}`))
	})

	_, err := v.Verify(context.Background(), "tok", "premium", PlatformContext{})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPurchaseNotFound))
}

func TestGoogleVerifyRequiresPackageName(t *testing.T) {
	v := NewGoogleVerifierWithService(nil, "", zerolog.Nop())
	_, err := v.Verify(context.Background(), "tok", "premium", PlatformContext{})
	require.Error(t, err)
}
