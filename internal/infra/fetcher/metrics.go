package fetcher

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feed_fetch_attempts_total",
			Help: "Total fetch attempts by strategy and resulting status",
		},
		[]string{"strategy", "status"},
	)
)

// recordFetchAttempt records one strategy attempt and its HTTP status.
func recordFetchAttempt(strategy string, status int) {
	fetchAttemptsTotal.WithLabelValues(strategy, strconv.Itoa(status)).Inc()
}
