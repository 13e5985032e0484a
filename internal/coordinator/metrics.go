package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var messageTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "coordinator_messages_total",
		Help: "Coordinator messages by kind and disposition",
	},
	[]string{"kind", "disposition"},
)

func recordMessage(kind, disposition string) {
	messageTotal.WithLabelValues(kind, disposition).Inc()
}
