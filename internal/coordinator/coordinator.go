package coordinator

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/usecase/poll"
)

// Transport carries envelopes between processes. Send failures surface as
// errors; the coordinator queues the envelope and re-sends on the next event.
type Transport interface {
	Send(ctx context.Context, env Envelope) error
}

// ScheduleRunner is the schedule manager surface the coordinator drives.
type ScheduleRunner interface {
	Start(ctx context.Context) error
	Stop()
	State() string
	Assign(ctx context.Context) error
	RunScheduleOnce(ctx context.Context, name string) (poll.CycleStats, error)
}

// OperatorOrigin marks envelopes issued by an operator rather than a shard.
// No shard carries this ID, so every shard, the issuer included, applies the
// command.
const OperatorOrigin = -1

// LinkState is the failed-link tracker surface for uniformization.
type LinkState interface {
	ApplyUniform(records []*entity.FailedLinkRecord)
}

// EntitlementState is the entitlement cache surface for uniformization and
// coordinator-driven refreshes.
type EntitlementState interface {
	Refresh(ctx context.Context) error
	ApplyUniform(users []*entity.VipEntitlement, servers map[string]*entity.VipEntitlement)
	ApplyBlacklist(guilds, users []string)
	Snapshot() (users []*entity.VipEntitlement, servers map[string]*entity.VipEntitlement)
}

// GuildStore is the guild persistence surface for guildConfig.* messages.
type GuildStore interface {
	Update(ctx context.Context, guild *entity.GuildConfig) error
	Remove(ctx context.Context, guildID string) error
}

// Coordinator applies incoming envelopes to local state and broadcasts local
// mutations to the fleet. Handlers are idempotent: reapplying the same
// mutation is a no-op beyond the first.
type Coordinator struct {
	shardID   int
	transport Transport
	logger    *slog.Logger

	runner       ScheduleRunner
	links        LinkState
	entitlements EntitlementState
	guilds       GuildStore

	// OnKill terminates the process. OnAlert fans a suspension notice out
	// to the link's destinations. OnStarted fires after a startInit command
	// brought the schedule runner up. All may be nil.
	OnKill    func()
	OnAlert   func(ctx context.Context, url, message string)
	OnStarted func()

	mu      sync.Mutex
	pending []Envelope

	// Hub-side init sequencing: connected shards initialize one at a time.
	initMu    sync.Mutex
	initQueue []int
	initBusy  bool
}

// New wires a coordinator for one shard.
func New(shardID int, transport Transport, runner ScheduleRunner, links LinkState, entitlements EntitlementState, guilds GuildStore, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		shardID:      shardID,
		transport:    transport,
		logger:       logger,
		runner:       runner,
		links:        links,
		entitlements: entitlements,
		guilds:       guilds,
	}
}

// ShardID returns the shard this coordinator speaks for.
func (c *Coordinator) ShardID() int { return c.shardID }

// Handle applies one incoming envelope. Messages originated by this shard and
// shard-scoped messages targeting another shard are ignored; unknown kinds
// are dropped with a log line.
func (c *Coordinator) Handle(ctx context.Context, env Envelope) {
	if env.OriginShardID == c.shardID {
		return
	}
	recordMessage(string(env.Kind), "received")

	switch env.Kind {
	case KindKill:
		c.logger.Info("kill command received",
			slog.Int("origin_shard", env.OriginShardID))
		c.runner.Stop()
		if c.OnKill != nil {
			c.OnKill()
		}

	case KindStop:
		c.logger.Info("stop command received",
			slog.Int("origin_shard", env.OriginShardID))
		c.runner.Stop()

	case KindStartInit:
		var p ShardPayload
		if !c.decode(env, &p) || p.ShardID != c.shardID {
			return
		}
		// A redelivered start command against a running shard only needs
		// the finishedInit reply so the hub sequence advances.
		if c.runner.State() == poll.StateReady {
			c.Broadcast(ctx, KindFinishedInit, ShardPayload{ShardID: c.shardID})
			return
		}
		if err := c.runner.Start(ctx); err != nil {
			c.logger.Error("start failed", slog.Any("error", err))
			return
		}
		if c.OnStarted != nil {
			c.OnStarted()
		}
		c.Broadcast(ctx, KindFinishedInit, ShardPayload{ShardID: c.shardID})

	case KindFinishedInit:
		var p ShardPayload
		if !c.decode(env, &p) {
			return
		}
		c.logger.Info("shard finished initializing",
			slog.Int("shard_id", p.ShardID))
		c.advanceInit(ctx)

	case KindCycleEntitlements:
		var p ShardPayload
		if !c.decode(env, &p) || p.ShardID != c.shardID {
			return
		}
		if err := c.entitlements.Refresh(ctx); err != nil {
			return
		}
		users, servers := c.entitlements.Snapshot()
		c.Broadcast(ctx, KindEntitlementsUniformize, EntitlementsPayload{Users: users, Servers: servers})

	case KindRunSchedule:
		var p RunSchedulePayload
		if !c.decode(env, &p) || p.ShardID != c.shardID {
			return
		}
		if _, err := c.runner.RunScheduleOnce(ctx, p.ScheduleName); err != nil {
			c.logger.Warn("coordinated cycle failed",
				slog.String("schedule", p.ScheduleName),
				slog.Any("error", err))
		}

	case KindGuildUpdate, KindGuildRemove, KindGuildDisableFeed, KindGuildEnableFeed, KindGuildRemoveFeed:
		c.applyGuildConfig(ctx, env)

	case KindFailedLinksUniformize:
		var p FailedLinksPayload
		if !c.decode(env, &p) {
			return
		}
		c.links.ApplyUniform(p.Records)

	case KindFailedLinksAlert:
		var p AlertPayload
		if !c.decode(env, &p) {
			return
		}
		if c.OnAlert != nil {
			c.OnAlert(ctx, p.URL, p.Message)
		}

	case KindBlacklistUniformize:
		var p BlacklistPayload
		if !c.decode(env, &p) {
			return
		}
		c.entitlements.ApplyBlacklist(p.Guilds, p.Users)

	case KindEntitlementsUniformize:
		var p EntitlementsPayload
		if !c.decode(env, &p) {
			return
		}
		c.entitlements.ApplyUniform(p.Users, p.Servers)

	default:
		recordMessage(string(env.Kind), "dropped")
		c.logger.Warn("dropping message of unknown kind",
			slog.String("kind", string(env.Kind)),
			slog.Int("origin_shard", env.OriginShardID))
	}
}

func (c *Coordinator) applyGuildConfig(ctx context.Context, env Envelope) {
	var p GuildConfigPayload
	if !c.decode(env, &p) || p.Guild == nil {
		return
	}

	var err error
	switch env.Kind {
	case KindGuildRemove:
		err = c.guilds.Remove(ctx, p.Guild.ID)
	case KindGuildDisableFeed, KindGuildEnableFeed:
		if src, ok := p.Guild.Sources[p.SourceID]; ok {
			src.Disabled = env.Kind == KindGuildDisableFeed
		}
		err = c.guilds.Update(ctx, p.Guild)
	case KindGuildRemoveFeed:
		delete(p.Guild.Sources, p.SourceID)
		err = c.guilds.Update(ctx, p.Guild)
	default:
		err = c.guilds.Update(ctx, p.Guild)
	}
	if err != nil {
		c.logger.Warn("failed to apply guild mutation",
			slog.String("kind", string(env.Kind)),
			slog.String("guild_id", p.Guild.ID),
			slog.Any("error", err))
		return
	}

	// The source set changed, recompute schedule assignment.
	if err := c.runner.Assign(ctx); err != nil {
		c.logger.Warn("reassignment after guild mutation failed",
			slog.Any("error", err))
	}
}

// EnqueueShardInit schedules a startInit for a newly connected shard. Only
// one shard initializes at a time; the next startInit goes out when the
// previous shard broadcasts finishedInit.
func (c *Coordinator) EnqueueShardInit(ctx context.Context, shardID int) {
	c.initMu.Lock()
	c.initQueue = append(c.initQueue, shardID)
	busy := c.initBusy
	c.initBusy = true
	c.initMu.Unlock()

	if !busy {
		c.advanceInit(ctx)
	}
}

// advanceInit sends the next queued startInit, or marks the sequence idle.
func (c *Coordinator) advanceInit(ctx context.Context) {
	c.initMu.Lock()
	if len(c.initQueue) == 0 {
		c.initBusy = false
		c.initMu.Unlock()
		return
	}
	shardID := c.initQueue[0]
	c.initQueue = c.initQueue[1:]
	c.initBusy = true
	c.initMu.Unlock()

	c.logger.Info("starting shard initialization", slog.Int("shard_id", shardID))
	c.Broadcast(ctx, KindStartInit, ShardPayload{ShardID: shardID})
}

// Command applies an operator-issued message locally and forwards it to the
// fleet. The operator origin makes every shard, this one included, apply it.
func (c *Coordinator) Command(ctx context.Context, kind Kind, payload any) error {
	env, err := NewEnvelope(kind, OperatorOrigin, payload)
	if err != nil {
		return err
	}
	c.Handle(ctx, env)
	c.flushPending(ctx)
	c.dispatch(ctx, env)
	return nil
}

// Broadcast sends a mutation to every other process. Failures are logged as
// CoordinationError and the envelope queued for re-send on the next call.
func (c *Coordinator) Broadcast(ctx context.Context, kind Kind, payload any) {
	env, err := NewEnvelope(kind, c.shardID, payload)
	if err != nil {
		c.logger.Error("cannot encode coordinator message",
			slog.String("kind", string(kind)),
			slog.Any("error", err))
		return
	}

	c.flushPending(ctx)
	c.dispatch(ctx, env)
}

func (c *Coordinator) flushPending(ctx context.Context) {
	c.mu.Lock()
	queued := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, env := range queued {
		c.dispatch(ctx, env)
	}
}

func (c *Coordinator) dispatch(ctx context.Context, env Envelope) {
	if err := c.transport.Send(ctx, env); err != nil {
		cerr := &CoordinationError{Kind: env.Kind, Err: err}
		c.logger.Warn("message send failed, queued for re-send",
			slog.Any("error", cerr))
		recordMessage(string(env.Kind), "send_failed")
		c.mu.Lock()
		c.pending = append(c.pending, env)
		c.mu.Unlock()
		return
	}
	recordMessage(string(env.Kind), "sent")
}

func (c *Coordinator) decode(env Envelope, into any) bool {
	if err := json.Unmarshal(env.Payload, into); err != nil {
		recordMessage(string(env.Kind), "dropped")
		c.logger.Warn("dropping malformed payload",
			slog.String("kind", string(env.Kind)),
			slog.Any("error", err))
		return false
	}
	return true
}
