package monitor

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	OrderPlaceTotal   *prometheus.CounterVec
	OrderPlaceLatency *prometheus.HistogramVec
	OrderRejectTotal  *prometheus.CounterVec
	OrderCancelTotal  *prometheus.CounterVec
	VenueAPIError     *prometheus.CounterVec

	StreamReconnectTotal *prometheus.CounterVec
	TierFallbackTotal    *prometheus.CounterVec
	ActiveSubscriptions  *prometheus.GaugeVec
	MessagesDelivered    *prometheus.CounterVec

	OAuthFlowTotal *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		OrderPlaceTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_place_total",
			Help: "Total order placement attempts",
		}, []string{"venue", "outcome"}),

		OrderPlaceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "order_place_latency_ms",
			Help:    "Latency from dispatch to venue acknowledgement",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"venue"}),

		OrderRejectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_reject_total",
			Help: "Total venue order rejections",
		}, []string{"venue"}),

		OrderCancelTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "order_cancel_total",
			Help: "Total order cancellations",
		}, []string{"venue"}),

		VenueAPIError: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "venue_api_error_total",
			Help: "Total venue API errors",
		}, []string{"venue", "endpoint"}),

		StreamReconnectTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_reconnect_total",
			Help: "Total realtime transport reconnections",
		}, []string{"channel", "tier"}),

		TierFallbackTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_tier_fallback_total",
			Help: "Total fallbacks from one realtime tier to the next",
		}, []string{"channel", "from", "to"}),

		ActiveSubscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "stream_active_subscriptions",
			Help: "Current realtime subscription count",
		}, []string{"channel"}),

		MessagesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stream_messages_delivered_total",
			Help: "Total messages fanned out to subscribers",
		}, []string{"channel", "tier"}),

		OAuthFlowTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "oauth_flow_total",
			Help: "OAuth flow outcomes",
		}, []string{"step", "outcome"}),
	}

	reg.MustRegister(
		m.OrderPlaceTotal,
		m.OrderPlaceLatency,
		m.OrderRejectTotal,
		m.OrderCancelTotal,
		m.VenueAPIError,
		m.StreamReconnectTotal,
		m.TierFallbackTotal,
		m.ActiveSubscriptions,
		m.MessagesDelivered,
		m.OAuthFlowTotal,
	)

	return m
}

func (m *Metrics) ObserveOrderPlacement(venue string, elapsed time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
		m.OrderRejectTotal.WithLabelValues(venue).Inc()
	}
	m.OrderPlaceTotal.WithLabelValues(venue, outcome).Inc()
	m.OrderPlaceLatency.WithLabelValues(venue).Observe(float64(elapsed.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
