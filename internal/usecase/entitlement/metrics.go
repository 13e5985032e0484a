package entitlement

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var entitlementRefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "entitlement_refresh_total",
		Help: "Entitlement snapshot refresh attempts by outcome",
	},
	[]string{"outcome"},
)

func recordRefresh(ok bool) {
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	entitlementRefreshTotal.WithLabelValues(outcome).Inc()
}
