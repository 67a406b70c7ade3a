package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		webhookRequestsTotal,
		webhookClickRepliesTotal,
		providerCallLatencyMs,
	)
}

var (
	webhookRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_requests_total",
			Help: "Inbound webhook deliveries by provider and outcome.",
		},
		[]string{"provider", "outcome"}, // outcome: granted|duplicate|rejected|error
	)

	webhookClickRepliesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_click_replies_total",
			Help: "Click replies by action and wire error code.",
		},
		[]string{"action", "code"},
	)

	providerCallLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "provider_call_latency_ms",
			Help:    "Outbound provider API latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"provider", "op", "success"},
	)
)

func IncWebhook(provider, outcome string) {
	webhookRequestsTotal.WithLabelValues(norm(provider), norm(outcome)).Inc()
}

func IncClickReply(action string, code int) {
	webhookClickRepliesTotal.WithLabelValues(norm(action), strconv.Itoa(code)).Inc()
}

func ObserveProviderCall(provider, op string, latencyMs int64, success bool) {
	providerCallLatencyMs.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
