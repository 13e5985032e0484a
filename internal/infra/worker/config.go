// Package worker holds the process-level plumbing for the feed worker:
// environment configuration with fail-open fallbacks, the health endpoint
// server, and worker lifecycle metrics.
package worker

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/synzen/Discord.RSS/internal/pkg/config"
)

// Coordinator roles. A hub accepts websocket connections from sibling
// shards, a client dials a hub, and a standalone process keeps coordination
// in-process.
const (
	RoleStandalone = "standalone"
	RoleHub        = "hub"
	RoleClient     = "client"
)

// WorkerConfig holds the deployment configuration for one worker process.
// All fields have defaults and validation rules; LoadConfigFromEnv never
// fails, it falls back per field and reports through warnings and metrics.
type WorkerConfig struct {
	// ShardID identifies this process in the coordinator mesh. Messages
	// scoped to another shard are ignored.
	// Range: 0-1024. Default: 0.
	ShardID int

	// CoordinatorRole selects how this process participates in cross-shard
	// coordination: "standalone", "hub", or "client".
	// Default: "standalone".
	CoordinatorRole string

	// CoordinatorURL is the hub websocket endpoint dialed when the role is
	// "client". Ignored for other roles.
	CoordinatorURL string

	// DefaultRefreshInterval is the polling interval of the default
	// schedule. Custom schedules carry their own intervals.
	// Range: 1m-24h. Default: 10m.
	DefaultRefreshInterval time.Duration

	// VipRefreshInterval is the polling interval of the vip schedule that
	// claims sources of guilds with a refresh rate entitlement. Zero
	// disables the vip schedule.
	// Range: 1m-24h or 0. Default: 2m.
	VipRefreshInterval time.Duration

	// CycleConcurrency bounds how many sources one schedule fetches at the
	// same time.
	// Range: 1-100. Default: 10.
	CycleConcurrency int

	// FailureThreshold is the consecutive-failure count that suspends a
	// feed link.
	// Range: 1-1000. Default: 10.
	FailureThreshold int

	// GraceWindow is how long a suspended link stays excluded before it
	// becomes eligible for a probe fetch.
	// Range: 1m-7d. Default: 12h.
	GraceWindow time.Duration

	// DeliveryMaxConcurrent bounds concurrent article sends.
	// Range: 1-50. Default: 10.
	DeliveryMaxConcurrent int

	// DeliveryPerSecond is the outbound send rate shared across all
	// destinations, with DeliveryBurst of headroom.
	// Range: 1-100. Default: 5. Burst range: 1-100, default 10.
	DeliveryPerSecond int
	DeliveryBurst     int

	// EntitlementRefreshInterval is how often the paid-tier cache is
	// re-read from storage.
	// Range: 1m-24h. Default: 10m.
	EntitlementRefreshInterval time.Duration

	// DefaultMaxFeeds is the per-guild feed allowance applied when no
	// entitlement grants a larger one.
	// Range: 1-10000. Default: 5.
	DefaultMaxFeeds int

	// SchedulesPath points at the YAML file declaring custom schedules.
	// Empty disables custom schedules.
	SchedulesPath string

	// WebhooksPath points at the YAML file mapping channel IDs to webhook
	// URLs. Empty switches delivery to the no-op destination.
	WebhooksPath string

	// SolverURL is the endpoint of an external anti-bot challenge solver
	// used as the last fetch fallback for entitled guilds. Empty disables
	// the fallback.
	SolverURL string

	// HealthPort is the port of the health endpoint server.
	// Range: 1024-65535. Default: 9091.
	HealthPort int
}

// DefaultConfig returns the stock worker configuration for a single-process
// deployment.
func DefaultConfig() WorkerConfig {
	return WorkerConfig{
		ShardID:                    0,
		CoordinatorRole:            RoleStandalone,
		DefaultRefreshInterval:     10 * time.Minute,
		VipRefreshInterval:         2 * time.Minute,
		CycleConcurrency:           10,
		FailureThreshold:           10,
		GraceWindow:                12 * time.Hour,
		DeliveryMaxConcurrent:      10,
		DeliveryPerSecond:          5,
		DeliveryBurst:              10,
		EntitlementRefreshInterval: 10 * time.Minute,
		DefaultMaxFeeds:            5,
		HealthPort:                 9091,
	}
}

// ValidateRole checks that the string is a known coordinator role.
func ValidateRole(role string) error {
	switch role {
	case RoleStandalone, RoleHub, RoleClient:
		return nil
	}
	return fmt.Errorf("unknown coordinator role %q", role)
}

// Validate checks every field and returns all violations at once.
func (c *WorkerConfig) Validate() error {
	var errs []error

	if err := config.ValidateIntRange(c.ShardID, 0, 1024); err != nil {
		errs = append(errs, fmt.Errorf("shard id: %w", err))
	}
	if err := ValidateRole(c.CoordinatorRole); err != nil {
		errs = append(errs, fmt.Errorf("coordinator role: %w", err))
	}
	if c.CoordinatorRole == RoleClient && c.CoordinatorURL == "" {
		errs = append(errs, fmt.Errorf("coordinator url: required for role %q", RoleClient))
	}
	if err := config.ValidateDuration(c.DefaultRefreshInterval, time.Minute, 24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("default refresh interval: %w", err))
	}
	if c.VipRefreshInterval != 0 {
		if err := config.ValidateDuration(c.VipRefreshInterval, time.Minute, 24*time.Hour); err != nil {
			errs = append(errs, fmt.Errorf("vip refresh interval: %w", err))
		}
	}
	if err := config.ValidateIntRange(c.CycleConcurrency, 1, 100); err != nil {
		errs = append(errs, fmt.Errorf("cycle concurrency: %w", err))
	}
	if err := config.ValidateIntRange(c.FailureThreshold, 1, 1000); err != nil {
		errs = append(errs, fmt.Errorf("failure threshold: %w", err))
	}
	if err := config.ValidateDuration(c.GraceWindow, time.Minute, 7*24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("grace window: %w", err))
	}
	if err := config.ValidateIntRange(c.DeliveryMaxConcurrent, 1, 50); err != nil {
		errs = append(errs, fmt.Errorf("delivery max concurrent: %w", err))
	}
	if err := config.ValidateIntRange(c.DeliveryPerSecond, 1, 100); err != nil {
		errs = append(errs, fmt.Errorf("delivery per second: %w", err))
	}
	if err := config.ValidateIntRange(c.DeliveryBurst, 1, 100); err != nil {
		errs = append(errs, fmt.Errorf("delivery burst: %w", err))
	}
	if err := config.ValidateDuration(c.EntitlementRefreshInterval, time.Minute, 24*time.Hour); err != nil {
		errs = append(errs, fmt.Errorf("entitlement refresh interval: %w", err))
	}
	if err := config.ValidateIntRange(c.DefaultMaxFeeds, 1, 10000); err != nil {
		errs = append(errs, fmt.Errorf("default max feeds: %w", err))
	}
	if err := config.ValidateIntRange(c.HealthPort, 1024, 65535); err != nil {
		errs = append(errs, fmt.Errorf("health port: %w", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("validation failed: %v", errs)
	}
	return nil
}

// LoadConfigFromEnv loads the worker configuration from environment
// variables with per-field validation and fallback to defaults. It never
// returns an error; an invalid value keeps the default, logs a warning, and
// increments the config fallback metrics.
//
// Environment variables:
//   - SHARD_ID: integer 0-1024 (default: 0)
//   - COORDINATOR_ROLE: standalone|hub|client (default: standalone)
//   - COORDINATOR_URL: hub websocket URL, required for role client
//   - DEFAULT_REFRESH_INTERVAL: duration 1m-24h (default: 10m)
//   - VIP_REFRESH_INTERVAL: duration 1m-24h, 0 disables (default: 2m)
//   - CYCLE_CONCURRENCY: integer 1-100 (default: 10)
//   - LINK_FAILURE_THRESHOLD: integer 1-1000 (default: 10)
//   - LINK_GRACE_WINDOW: duration 1m-168h (default: 12h)
//   - DELIVERY_MAX_CONCURRENT: integer 1-50 (default: 10)
//   - DELIVERY_PER_SECOND: integer 1-100 (default: 5)
//   - DELIVERY_BURST: integer 1-100 (default: 10)
//   - ENTITLEMENT_REFRESH_INTERVAL: duration 1m-24h (default: 10m)
//   - DEFAULT_MAX_FEEDS: integer 1-10000 (default: 5)
//   - SCHEDULES_PATH: YAML file of custom schedules (default: none)
//   - WEBHOOKS_PATH: YAML file of channel webhooks (default: none)
//   - CHALLENGE_SOLVER_URL: challenge solver endpoint (default: none)
//   - WORKER_HEALTH_PORT: integer 1024-65535 (default: 9091)
func LoadConfigFromEnv(logger *slog.Logger, metrics *WorkerMetrics) (*WorkerConfig, error) {
	cfg := DefaultConfig()
	fallbackApplied := false

	applyInt := func(field, envKey string, dst *int, validate func(int) error) {
		result := config.LoadEnvInt(envKey, *dst, validate)
		*dst = result.Value.(int)
		if result.FallbackApplied {
			fallbackApplied = true
			metrics.RecordValidationError(field)
			metrics.RecordFallback(field, "default")
			for _, warning := range result.Warnings {
				logger.Warn("Configuration fallback applied",
					slog.String("field", field),
					slog.String("warning", warning))
			}
		}
	}

	applyDuration := func(field, envKey string, dst *time.Duration, validate func(time.Duration) error) {
		result := config.LoadEnvDuration(envKey, *dst, validate)
		*dst = result.Value.(time.Duration)
		if result.FallbackApplied {
			fallbackApplied = true
			metrics.RecordValidationError(field)
			metrics.RecordFallback(field, "default")
			for _, warning := range result.Warnings {
				logger.Warn("Configuration fallback applied",
					slog.String("field", field),
					slog.String("warning", warning))
			}
		}
	}

	applyInt("shard_id", "SHARD_ID", &cfg.ShardID, func(v int) error {
		return config.ValidateIntRange(v, 0, 1024)
	})

	roleResult := config.LoadEnvWithFallback("COORDINATOR_ROLE", cfg.CoordinatorRole, ValidateRole)
	cfg.CoordinatorRole = roleResult.Value.(string)
	if roleResult.FallbackApplied {
		fallbackApplied = true
		metrics.RecordValidationError("coordinator_role")
		metrics.RecordFallback("coordinator_role", "default")
		for _, warning := range roleResult.Warnings {
			logger.Warn("Configuration fallback applied",
				slog.String("field", "coordinator_role"),
				slog.String("warning", warning))
		}
	}

	cfg.CoordinatorURL = config.LoadEnvString("COORDINATOR_URL", cfg.CoordinatorURL)
	if cfg.CoordinatorRole == RoleClient && cfg.CoordinatorURL == "" {
		// A client without a hub cannot coordinate; fall back to running
		// alone rather than refusing to start.
		fallbackApplied = true
		metrics.RecordValidationError("coordinator_url")
		metrics.RecordFallback("coordinator_url", "standalone")
		logger.Warn("Configuration fallback applied",
			slog.String("field", "coordinator_url"),
			slog.String("warning", "COORDINATOR_URL unset for role client, falling back to standalone"))
		cfg.CoordinatorRole = RoleStandalone
	}

	applyDuration("default_refresh_interval", "DEFAULT_REFRESH_INTERVAL", &cfg.DefaultRefreshInterval, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, 24*time.Hour)
	})
	applyDuration("vip_refresh_interval", "VIP_REFRESH_INTERVAL", &cfg.VipRefreshInterval, func(d time.Duration) error {
		if d == 0 {
			return nil
		}
		return config.ValidateDuration(d, time.Minute, 24*time.Hour)
	})
	applyInt("cycle_concurrency", "CYCLE_CONCURRENCY", &cfg.CycleConcurrency, func(v int) error {
		return config.ValidateIntRange(v, 1, 100)
	})
	applyInt("failure_threshold", "LINK_FAILURE_THRESHOLD", &cfg.FailureThreshold, func(v int) error {
		return config.ValidateIntRange(v, 1, 1000)
	})
	applyDuration("grace_window", "LINK_GRACE_WINDOW", &cfg.GraceWindow, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, 7*24*time.Hour)
	})
	applyInt("delivery_max_concurrent", "DELIVERY_MAX_CONCURRENT", &cfg.DeliveryMaxConcurrent, func(v int) error {
		return config.ValidateIntRange(v, 1, 50)
	})
	applyInt("delivery_per_second", "DELIVERY_PER_SECOND", &cfg.DeliveryPerSecond, func(v int) error {
		return config.ValidateIntRange(v, 1, 100)
	})
	applyInt("delivery_burst", "DELIVERY_BURST", &cfg.DeliveryBurst, func(v int) error {
		return config.ValidateIntRange(v, 1, 100)
	})
	applyDuration("entitlement_refresh_interval", "ENTITLEMENT_REFRESH_INTERVAL", &cfg.EntitlementRefreshInterval, func(d time.Duration) error {
		return config.ValidateDuration(d, time.Minute, 24*time.Hour)
	})
	applyInt("default_max_feeds", "DEFAULT_MAX_FEEDS", &cfg.DefaultMaxFeeds, func(v int) error {
		return config.ValidateIntRange(v, 1, 10000)
	})

	cfg.SchedulesPath = config.LoadEnvString("SCHEDULES_PATH", cfg.SchedulesPath)
	cfg.WebhooksPath = config.LoadEnvString("WEBHOOKS_PATH", cfg.WebhooksPath)
	cfg.SolverURL = config.LoadEnvString("CHALLENGE_SOLVER_URL", cfg.SolverURL)

	applyInt("health_port", "WORKER_HEALTH_PORT", &cfg.HealthPort, func(v int) error {
		return config.ValidateIntRange(v, 1024, 65535)
	})

	metrics.SetFallbackActive("", fallbackApplied)
	metrics.RecordLoadTimestamp()

	return &cfg, nil
}
