package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		entitlementGrantsTotal,
		subscriptionsExpiredTotal,
		cancelNoticesTotal,
	)
}

var (
	entitlementGrantsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "entitlement_grants_total",
			Help: "Entitlement grants by tier and kind (new/renewal).",
		},
		[]string{"tier", "kind"},
	)

	subscriptionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "subscriptions_expired_total",
			Help: "Stale paid tiers lazily reverted to free on read.",
		},
	)

	cancelNoticesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "subscription_cancel_notices_total",
			Help: "Provider cancellation/revocation notices by kind.",
		},
		[]string{"kind"}, // cancel|revoke
	)
)

func IncGrant(tier, kind string) {
	entitlementGrantsTotal.WithLabelValues(norm(tier), norm(kind)).Inc()
}

func IncSubscriptionExpired() { subscriptionsExpiredTotal.Inc() }

func IncCancelNotice(kind string) {
	cancelNoticesTotal.WithLabelValues(norm(kind)).Inc()
}
