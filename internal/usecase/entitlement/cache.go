// Package entitlement maintains the periodically refreshed snapshot of
// paid-tier entitlements and the guild/user blacklist. Reads always serve the
// last good snapshot; a failed refresh keeps stale data rather than clearing
// it (availability over freshness).
package entitlement

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/repository"
)

// DefaultRefreshInterval matches the stock deployment's entitlement refresh
// timer. Runs independently of feed cycles.
const DefaultRefreshInterval = 10 * time.Minute

// Cache is the read-many/write-one entitlement snapshot. Refresh replaces
// the whole snapshot atomically; readers never observe a partial update.
type Cache struct {
	repo   repository.VipRepository
	logger *slog.Logger

	mu          sync.RWMutex
	byUser      map[string]*entity.VipEntitlement
	byServer    map[string]*entity.VipEntitlement
	blacklist   *entity.Blacklist
	lastRefresh time.Time

	now func() time.Time
}

// NewCache creates an empty cache wired to the entitlement store.
func NewCache(repo repository.VipRepository, logger *slog.Logger) *Cache {
	return &Cache{
		repo:      repo,
		logger:    logger,
		byUser:    make(map[string]*entity.VipEntitlement),
		byServer:  make(map[string]*entity.VipEntitlement),
		blacklist: &entity.Blacklist{},
		now:       time.Now,
	}
}

// Refresh reloads the whole snapshot from the store. On failure the previous
// snapshot is retained and the error returned for logging only.
func (c *Cache) Refresh(ctx context.Context) error {
	records, err := c.repo.Snapshot(ctx)
	if err != nil {
		c.logger.Warn("entitlement refresh failed, serving stale snapshot",
			slog.Any("error", err))
		recordRefresh(false)
		return err
	}

	blacklist, err := c.repo.Blacklist(ctx)
	if err != nil {
		c.logger.Warn("blacklist refresh failed, serving stale snapshot",
			slog.Any("error", err))
		recordRefresh(false)
		return err
	}

	byUser := make(map[string]*entity.VipEntitlement, len(records))
	byServer := make(map[string]*entity.VipEntitlement)
	for _, rec := range records {
		byUser[rec.SubjectID] = rec
		for _, server := range rec.Servers {
			byServer[server] = rec
		}
	}

	c.mu.Lock()
	c.byUser = byUser
	c.byServer = byServer
	c.blacklist = blacklist
	c.lastRefresh = c.now()
	c.mu.Unlock()

	recordRefresh(true)
	c.logger.Info("entitlement snapshot refreshed",
		slog.Int("users", len(byUser)),
		slog.Int("servers", len(byServer)))
	return nil
}

// ApplyUniform replaces the snapshot with records relayed by another shard.
// Reapplying the same payload is a no-op beyond the first.
func (c *Cache) ApplyUniform(users []*entity.VipEntitlement, servers map[string]*entity.VipEntitlement) {
	byUser := make(map[string]*entity.VipEntitlement, len(users))
	for _, rec := range users {
		byUser[rec.SubjectID] = rec
	}

	c.mu.Lock()
	c.byUser = byUser
	c.byServer = servers
	c.lastRefresh = c.now()
	c.mu.Unlock()
}

// ApplyBlacklist replaces the blacklist with values relayed by another shard.
func (c *Cache) ApplyBlacklist(guilds, users []string) {
	c.mu.Lock()
	c.blacklist = &entity.Blacklist{Guilds: guilds, Users: users}
	c.mu.Unlock()
}

// UserEntitlement returns the active entitlement for the user, nil when
// absent or expired past grace.
func (c *Cache) UserEntitlement(userID string) *entity.VipEntitlement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, ok := c.byUser[userID]; ok && rec.Active(c.now()) {
		return rec
	}
	return nil
}

// ServerEntitlement returns the active entitlement covering the guild.
func (c *Cache) ServerEntitlement(guildID string) *entity.VipEntitlement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if rec, ok := c.byServer[guildID]; ok && rec.Active(c.now()) {
		return rec
	}
	return nil
}

// MaxFeeds returns the feed allowance for the guild, falling back to the
// deployment default when no active entitlement raises it.
func (c *Cache) MaxFeeds(guildID string, deploymentDefault int) int {
	if rec := c.ServerEntitlement(guildID); rec != nil && rec.MaxFeeds > deploymentDefault {
		return rec.MaxFeeds
	}
	return deploymentDefault
}

// AllowsCookies reports whether fetches for the guild may carry cookies.
func (c *Cache) AllowsCookies(guildID string) bool {
	rec := c.ServerEntitlement(guildID)
	return rec != nil && rec.AllowCookies
}

// AllowsWebhooks reports whether the guild may deliver through webhooks.
func (c *Cache) AllowsWebhooks(guildID string) bool {
	rec := c.ServerEntitlement(guildID)
	return rec != nil && rec.AllowWebhooks
}

// PremiumFetch reports whether fetches for the guild may escalate to the
// challenge-solver fallback.
func (c *Cache) PremiumFetch(guildID string) bool {
	return c.ServerEntitlement(guildID) != nil
}

// RefreshRateOverride returns the entitlement's schedule interval override
// for the guild, if any.
func (c *Cache) RefreshRateOverride(guildID string) (time.Duration, bool) {
	rec := c.ServerEntitlement(guildID)
	if rec == nil || rec.RefreshRateOverride <= 0 {
		return 0, false
	}
	return rec.RefreshRateOverride, true
}

// Blacklisted reports whether the guild or user is barred from the service.
func (c *Cache) Blacklisted(guildID, userID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if guildID != "" && c.blacklist.HasGuild(guildID) {
		return true
	}
	return userID != "" && c.blacklist.HasUser(userID)
}

// Snapshot returns the current entitlement maps for uniformize messages.
func (c *Cache) Snapshot() (users []*entity.VipEntitlement, servers map[string]*entity.VipEntitlement) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	users = make([]*entity.VipEntitlement, 0, len(c.byUser))
	for _, rec := range c.byUser {
		users = append(users, rec)
	}
	servers = make(map[string]*entity.VipEntitlement, len(c.byServer))
	for k, v := range c.byServer {
		servers[k] = v
	}
	return users, servers
}

// BlacklistSnapshot returns the current blacklist for uniformize messages.
func (c *Cache) BlacklistSnapshot() *entity.Blacklist {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return &entity.Blacklist{
		Guilds: append([]string(nil), c.blacklist.Guilds...),
		Users:  append([]string(nil), c.blacklist.Users...),
	}
}

// LastRefresh returns when the snapshot was last successfully replaced.
func (c *Cache) LastRefresh() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastRefresh
}
