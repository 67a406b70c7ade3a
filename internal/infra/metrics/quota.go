package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(quotaChecksTotal, quotaRolloversTotal)
}

var (
	quotaChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quota_checks_total",
			Help: "Quota-gated action checks by category and result.",
		},
		[]string{"category", "result"}, // result: allowed|denied|bypassed
	)

	quotaRolloversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quota_rollovers_total",
			Help: "UTC-day counter resets performed on first check of the day.",
		},
	)
)

func IncQuotaCheck(category, result string) {
	quotaChecksTotal.WithLabelValues(norm(category), norm(result)).Inc()
}

func IncQuotaRollover() { quotaRolloversTotal.Inc() }
