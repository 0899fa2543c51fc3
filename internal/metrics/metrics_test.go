package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderExposesCounters(t *testing.T) {
	rec := New(true)
	rec.IncVerification("android", "active")
	rec.IncRTDN("unmapped")
	rec.IncTokensPruned(2)
	rec.IncRequestsTotal("/premium/verify", http.StatusForbidden)

	srv := httptest.NewServer(rec.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.Contains(t, text, `lifeisbonus_purchase_verifications_total{outcome="active",platform="android"} 1`)
	assert.Contains(t, text, `lifeisbonus_rtdn_events_total{outcome="unmapped"} 1`)
	assert.Contains(t, text, `lifeisbonus_push_tokens_pruned_total 2`)
	assert.Contains(t, text, `lifeisbonus_http_requests_total{endpoint="/premium/verify",status="4xx"} 1`)
}

func TestNoopRecorder(t *testing.T) {
	rec := New(false)
	_, ok := rec.(Noop)
	assert.True(t, ok)

	w := httptest.NewRecorder()
	rec.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
