package poll

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cycleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_cycles_total",
			Help: "Schedule cycles by outcome",
		},
		[]string{"schedule", "outcome"},
	)

	cycleDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poll_cycle_duration_seconds",
			Help:    "Wall-clock duration of completed schedule cycles",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
		[]string{"schedule"},
	)

	sourceOutcomeTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_sources_total",
			Help: "Per-source processing outcomes within cycles",
		},
		[]string{"schedule", "outcome"},
	)

	articlesDeliveredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poll_articles_delivered_total",
			Help: "New articles handed to delivery per schedule",
		},
		[]string{"schedule"},
	)

	assignedSources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poll_assigned_sources",
			Help: "Sources currently assigned to each schedule",
		},
		[]string{"schedule"},
	)
)

func recordCycle(schedule, outcome string) {
	cycleTotal.WithLabelValues(schedule, outcome).Inc()
}

func recordCycleDuration(schedule string, elapsed time.Duration) {
	cycleDuration.WithLabelValues(schedule).Observe(elapsed.Seconds())
}

func recordSourceOutcome(schedule, outcome string) {
	sourceOutcomeTotal.WithLabelValues(schedule, outcome).Inc()
}

func recordArticlesDelivered(schedule string, count int) {
	if count > 0 {
		articlesDeliveredTotal.WithLabelValues(schedule).Add(float64(count))
	}
}

func recordAssignedSources(schedule string, count int) {
	assignedSources.WithLabelValues(schedule).Set(float64(count))
}
