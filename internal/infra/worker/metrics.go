package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/synzen/Discord.RSS/internal/pkg/config"
)

// WorkerMetrics exposes process-level metrics for the worker. It embeds the
// shared configuration metrics and adds lifecycle gauges; per-cycle and
// per-delivery metrics live in their own packages.
//
// Series:
//   - worker_config_*: configuration load health (embedded)
//   - worker_start_timestamp: Unix timestamp of process start
//   - worker_ready_timestamp: Unix timestamp of last transition to READY
//   - worker_shard_info{role}: shard id of this process, labeled by role
type WorkerMetrics struct {
	*config.ConfigMetrics

	StartTimestamp prometheus.Gauge
	ReadyTimestamp prometheus.Gauge
	ShardInfo      *prometheus.GaugeVec
}

// NewWorkerMetrics creates the worker metrics. Registration happens via
// promauto at creation time.
func NewWorkerMetrics() *WorkerMetrics {
	return &WorkerMetrics{
		ConfigMetrics: config.NewConfigMetrics("worker"),

		StartTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_start_timestamp",
			Help: "Unix timestamp of worker process start",
		}),

		ReadyTimestamp: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "worker_ready_timestamp",
			Help: "Unix timestamp of the last transition to READY",
		}),

		ShardInfo: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "worker_shard_info",
			Help: "Shard id of this worker process, labeled by coordinator role",
		}, []string{"role"}),
	}
}

// MustRegister exists for call-site symmetry; metrics register via promauto.
func (m *WorkerMetrics) MustRegister() {}

// RecordStart marks process start.
func (m *WorkerMetrics) RecordStart() {
	m.StartTimestamp.SetToCurrentTime()
}

// RecordReady marks the transition to READY.
func (m *WorkerMetrics) RecordReady() {
	m.ReadyTimestamp.SetToCurrentTime()
}

// RecordShard publishes the shard identity.
func (m *WorkerMetrics) RecordShard(shardID int, role string) {
	m.ShardInfo.WithLabelValues(role).Set(float64(shardID))
}
