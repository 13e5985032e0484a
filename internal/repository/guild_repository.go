// Package repository declares the persistence interfaces consumed by the
// use-case layer. Implementations live under internal/infra/adapter.
package repository

import (
	"context"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// GuildRepository persists guild configurations and their feed sources.
type GuildRepository interface {
	Get(ctx context.Context, guildID string) (*entity.GuildConfig, error)
	// List returns every guild configuration visible to this process.
	List(ctx context.Context) ([]*entity.GuildConfig, error)
	// Update writes the whole guild configuration, creating it when absent.
	Update(ctx context.Context, guild *entity.GuildConfig) error
	Remove(ctx context.Context, guildID string) error
	// UpdateSource writes a single feed source inside its guild. Used by
	// the polling core for seen-set and disabled-flag updates.
	UpdateSource(ctx context.Context, guildID string, source *entity.FeedSource) error
}
