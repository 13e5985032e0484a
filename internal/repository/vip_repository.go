package repository

import (
	"context"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// VipRepository reads the paid-tier entitlement records. The core treats the
// store as the single source of truth and only takes whole snapshots.
type VipRepository interface {
	// Snapshot returns every entitlement record, active or not. Expiry
	// filtering is the entitlement cache's concern.
	Snapshot(ctx context.Context) ([]*entity.VipEntitlement, error)
	// Blacklist returns the current guild/user blacklist.
	Blacklist(ctx context.Context) (*entity.Blacklist, error)
}
