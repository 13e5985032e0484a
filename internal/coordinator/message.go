// Package coordinator relays mutations and lifecycle commands between worker
// processes in sharded deployments. Processes never share memory; the typed
// envelope defined here is the only cross-process channel.
package coordinator

import (
	"encoding/json"
	"fmt"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// Kind identifies a coordinator message. The set is closed; receivers drop
// unknown kinds.
type Kind string

const (
	KindKill                   Kind = "kill"
	KindStartInit              Kind = "startInit"
	KindStop                   Kind = "stop"
	KindFinishedInit           Kind = "finishedInit"
	KindCycleEntitlements      Kind = "cycleEntitlements"
	KindRunSchedule            Kind = "runSchedule"
	KindGuildUpdate            Kind = "guildConfig.update"
	KindGuildRemove            Kind = "guildConfig.remove"
	KindGuildDisableFeed       Kind = "guildConfig.disableFeed"
	KindGuildEnableFeed        Kind = "guildConfig.enableFeed"
	KindGuildRemoveFeed        Kind = "guildConfig.removeFeed"
	KindFailedLinksUniformize  Kind = "failedLinks.uniformize"
	KindFailedLinksAlert       Kind = "failedLinks.alert"
	KindBlacklistUniformize    Kind = "blacklist.uniformize"
	KindEntitlementsUniformize Kind = "entitlements.uniformize"
)

// Envelope is the wire frame for every coordinator message. OriginShardID is
// always set; shard-scoped kinds carry their target inside the payload.
type Envelope struct {
	Kind          Kind            `json:"kind"`
	OriginShardID int             `json:"originShardId"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals the payload into an envelope of the given kind.
func NewEnvelope(kind Kind, originShardID int, payload any) (Envelope, error) {
	env := Envelope{Kind: kind, OriginShardID: originShardID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		env.Payload = raw
	}
	return env, nil
}

// ShardPayload targets one shard, used by startInit and cycleEntitlements.
type ShardPayload struct {
	ShardID int `json:"shardId"`
}

// RunSchedulePayload asks one shard to run a single named schedule cycle.
type RunSchedulePayload struct {
	ShardID      int    `json:"shardId"`
	ScheduleName string `json:"scheduleName"`
}

// GuildConfigPayload carries a whole guild configuration, plus the affected
// source id for the feed-level kinds.
type GuildConfigPayload struct {
	Guild    *entity.GuildConfig `json:"guild"`
	SourceID string              `json:"sourceId,omitempty"`
}

// FailedLinksPayload is the full failed-link snapshot for uniformization.
type FailedLinksPayload struct {
	Records []*entity.FailedLinkRecord `json:"records"`
}

// AlertPayload announces a link suspension to the fleet.
type AlertPayload struct {
	URL     string `json:"url"`
	Message string `json:"message"`
}

// BlacklistPayload is the full blacklist snapshot for uniformization.
type BlacklistPayload struct {
	Guilds []string `json:"guilds"`
	Users  []string `json:"users"`
}

// EntitlementsPayload is the full entitlement snapshot for uniformization.
type EntitlementsPayload struct {
	Users   []*entity.VipEntitlement          `json:"users"`
	Servers map[string]*entity.VipEntitlement `json:"servers"`
}

// CoordinationError wraps a failed cross-process send or apply. The owning
// process logs it and re-sends on its next relevant event instead of
// blocking.
type CoordinationError struct {
	Kind Kind
	Err  error
}

func (e *CoordinationError) Error() string {
	return fmt.Sprintf("coordination %s: %v", e.Kind, e.Err)
}

func (e *CoordinationError) Unwrap() error {
	return e.Err
}
