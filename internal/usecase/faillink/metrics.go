package faillink

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	linkTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failed_link_transitions_total",
			Help: "Total failed-link state transitions",
		},
		[]string{"transition"}, // suspended|probe_eligible|probe_failed|recovered
	)
)

func recordLinkTransition(transition string) {
	linkTransitionsTotal.WithLabelValues(transition).Inc()
}
