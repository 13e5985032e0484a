package repository

import (
	"context"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// FailedLinkRepository persists per-URL failure accounting so a restarted
// process resumes with the fleet's view of dead links.
type FailedLinkRepository interface {
	List(ctx context.Context) ([]*entity.FailedLinkRecord, error)
	Upsert(ctx context.Context, record *entity.FailedLinkRecord) error
	// Reset removes the record for the URL, returning the link to OK.
	Reset(ctx context.Context, url string) error
}
