package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder interface {
	IncVerification(platform, outcome string)
	IncRTDN(outcome string)
	IncModeration(status, reason string)
	IncPushSent(success, failure int)
	IncTokensPruned(n int)
	IncRequestsTotal(endpoint string, status int)
	ObserveRequestDuration(endpoint string, d time.Duration)
	Handler() http.Handler
}

type Provider struct {
	registry        *prometheus.Registry
	verifications   *prometheus.CounterVec
	rtdnEvents      *prometheus.CounterVec
	moderation      *prometheus.CounterVec
	pushDeliveries  *prometheus.CounterVec
	tokensPruned    prometheus.Counter
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New returns a Prometheus backed recorder, or a no-op one when disabled.
func New(enabled bool) Recorder {
	if !enabled {
		return Noop{}
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	p := &Provider{
		registry: reg,
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeisbonus_purchase_verifications_total",
			Help: "Store verifications by platform and outcome",
		}, []string{"platform", "outcome"}),
		rtdnEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeisbonus_rtdn_events_total",
			Help: "Google Play real-time notifications by outcome",
		}, []string{"outcome"}),
		moderation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeisbonus_chat_moderation_total",
			Help: "Chat moderation decisions",
		}, []string{"status", "reason"}),
		pushDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeisbonus_push_deliveries_total",
			Help: "Per-token push delivery results",
		}, []string{"result"}),
		tokensPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "lifeisbonus_push_tokens_pruned_total",
			Help: "Device tokens removed after a permanent delivery failure",
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lifeisbonus_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"endpoint", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "lifeisbonus_http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
	reg.MustRegister(p.verifications, p.rtdnEvents, p.moderation, p.pushDeliveries, p.tokensPruned, p.requestsTotal, p.requestDuration)
	return p
}

func (p *Provider) IncVerification(platform, outcome string) {
	p.verifications.WithLabelValues(platform, outcome).Inc()
}

func (p *Provider) IncRTDN(outcome string) {
	p.rtdnEvents.WithLabelValues(outcome).Inc()
}

func (p *Provider) IncModeration(status, reason string) {
	p.moderation.WithLabelValues(status, reason).Inc()
}

func (p *Provider) IncPushSent(success, failure int) {
	p.pushDeliveries.WithLabelValues("success").Add(float64(success))
	p.pushDeliveries.WithLabelValues("failure").Add(float64(failure))
}

func (p *Provider) IncTokensPruned(n int) {
	p.tokensPruned.Add(float64(n))
}

func (p *Provider) IncRequestsTotal(endpoint string, status int) {
	p.requestsTotal.WithLabelValues(endpoint, httpStatusBucket(status)).Inc()
}

func (p *Provider) ObserveRequestDuration(endpoint string, d time.Duration) {
	p.requestDuration.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func httpStatusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}

type Noop struct{}

func (Noop) IncVerification(string, string) {}
func (Noop) IncRTDN(string) {}
func (Noop) IncModeration(string, string) {}
func (Noop) IncPushSent(int, int) {}
func (Noop) IncTokensPruned(int) {}
func (Noop) IncRequestsTotal(string, int) {}
func (Noop) ObserveRequestDuration(string, time.Duration) {}
func (Noop) Handler() http.Handler { return http.NotFoundHandler() }
