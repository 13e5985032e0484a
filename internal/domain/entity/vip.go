package entity

import "time"

// VipEntitlement is a paid-tier permission set for a user or guild. The core
// never mutates entitlements; it reads whole snapshots refreshed from the
// external store.
type VipEntitlement struct {
	SubjectID string
	Name      string
	Servers   []string
	Permanent bool

	MaxFeeds   int
	MaxServers int

	AllowWebhooks bool
	AllowCookies  bool

	ExpiresAt  time.Time
	GraceUntil time.Time

	// RefreshRateOverride, when positive, replaces the default schedule
	// interval for feeds the subject owns.
	RefreshRateOverride time.Duration
}

// Active reports whether the entitlement is usable at the given instant.
// An entitlement stays active through its grace window; permanent
// entitlements never expire.
func (v *VipEntitlement) Active(now time.Time) bool {
	if v.Permanent {
		return true
	}
	if !v.ExpiresAt.IsZero() && now.Before(v.ExpiresAt) {
		return true
	}
	if !v.GraceUntil.IsZero() && now.Before(v.GraceUntil) {
		return true
	}
	return false
}

// CoversServer reports whether the entitlement is attached to the guild.
func (v *VipEntitlement) CoversServer(guildID string) bool {
	for _, id := range v.Servers {
		if id == guildID {
			return true
		}
	}
	return false
}

// Blacklist holds the guild and user identifiers barred from the service.
// It is uniformized across shards as a whole.
type Blacklist struct {
	Guilds []string
	Users  []string
}

// HasGuild reports whether the guild is blacklisted.
func (b *Blacklist) HasGuild(guildID string) bool {
	for _, id := range b.Guilds {
		if id == guildID {
			return true
		}
	}
	return false
}

// HasUser reports whether the user is blacklisted.
func (b *Blacklist) HasUser(userID string) bool {
	for _, id := range b.Users {
		if id == userID {
			return true
		}
	}
	return false
}
