package deliver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliverySentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "article_delivery_total",
			Help: "Total article delivery attempts by result",
		},
		[]string{"status"}, // success|failure
	)

	deliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "article_delivery_duration_seconds",
			Help:    "Article delivery send duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30},
		},
	)

	deliveryDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "article_delivery_dropped_total",
			Help: "Total dropped deliveries",
		},
		[]string{"reason"}, // pool_full|circuit_open|rate_limit|unreachable|shutdown
	)

	destinationsDisabledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "delivery_destinations_disabled_total",
			Help: "Total destination circuit-breaker open events",
		},
	)
)

func recordSend(success bool, duration time.Duration) {
	status := "failure"
	if success {
		status = "success"
	}
	deliverySentTotal.WithLabelValues(status).Inc()
	deliveryDuration.Observe(duration.Seconds())
}

func recordDropped(reason string) {
	deliveryDroppedTotal.WithLabelValues(reason).Inc()
}

func recordDestinationDisabled() {
	destinationsDisabledTotal.Inc()
}
