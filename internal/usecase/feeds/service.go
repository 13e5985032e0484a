// Package feeds implements the feed management operations invoked by command
// handlers: adding, removing, disabling and previewing feed sources. Every
// mutation is persisted, broadcast to sibling shards and followed by a
// schedule reassignment.
package feeds

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/synzen/Discord.RSS/internal/coordinator"
	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/infra/fetcher"
	"github.com/synzen/Discord.RSS/internal/repository"
)

// ErrBlacklisted rejects operations from barred guilds or users.
var ErrBlacklisted = errors.New("guild or user is blacklisted")

// ErrDuplicateSource rejects adding a URL already feeding the same channel.
var ErrDuplicateSource = errors.New("feed already exists for this channel")

// Fetcher retrieves a feed body for validation and previews.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetcher.Options) ([]byte, error)
}

// FeedParser validates feed bodies and extracts articles and titles.
type FeedParser interface {
	Parse(rawBody []byte) ([]*entity.Article, error)
	FeedTitle(rawBody []byte) (string, error)
}

// Entitlements exposes the capability checks feed management needs.
type Entitlements interface {
	MaxFeeds(guildID string, deploymentDefault int) int
	PremiumFetch(guildID string) bool
	Blacklisted(guildID, userID string) bool
}

// Announcer broadcasts guild mutations to sibling shards.
type Announcer interface {
	Broadcast(ctx context.Context, kind coordinator.Kind, payload any)
}

// Assigner recomputes schedule assignment after the source set changes.
type Assigner interface {
	Assign(ctx context.Context) error
}

// Service is the feed management use case.
type Service struct {
	guilds       repository.GuildRepository
	fetcher      Fetcher
	parser       FeedParser
	entitlements Entitlements
	announcer    Announcer
	assigner     Assigner
	logger       *slog.Logger

	// defaultMaxFeeds is the per-guild allowance without an entitlement.
	defaultMaxFeeds int

	now func() time.Time
}

// NewService wires the feed management use case. announcer and assigner may
// be nil in single-process deployments without schedules running.
func NewService(guilds repository.GuildRepository, f Fetcher, p FeedParser, ents Entitlements, announcer Announcer, assigner Assigner, defaultMaxFeeds int, logger *slog.Logger) *Service {
	return &Service{
		guilds:          guilds,
		fetcher:         f,
		parser:          p,
		entitlements:    ents,
		announcer:       announcer,
		assigner:        assigner,
		logger:          logger,
		defaultMaxFeeds: defaultMaxFeeds,
		now:             time.Now,
	}
}

// AddSource validates the URL end to end (fetch plus parse), creates the
// source seeded with the feed's current articles, and returns it with the
// resolved title. Fails without side effects on fetch or parse errors, on
// the guild's feed allowance, and for blacklisted callers.
func (s *Service) AddSource(ctx context.Context, guildID, channelID, url, userID, scheduleHint string) (*entity.FeedSource, error) {
	if s.entitlements.Blacklisted(guildID, userID) {
		return nil, ErrBlacklisted
	}
	if err := entity.ValidateURL(url); err != nil {
		return nil, err
	}

	guild, err := s.guilds.Get(ctx, guildID)
	if errors.Is(err, entity.ErrNotFound) {
		guild = &entity.GuildConfig{ID: guildID, Sources: make(map[string]*entity.FeedSource)}
	} else if err != nil {
		return nil, fmt.Errorf("load guild %s: %w", guildID, err)
	}
	if guild.Sources == nil {
		guild.Sources = make(map[string]*entity.FeedSource)
	}

	active := 0
	for _, src := range guild.Sources {
		if src.URL == url && src.ChannelID == channelID {
			return nil, ErrDuplicateSource
		}
		if !src.Disabled {
			active++
		}
	}
	if active >= s.entitlements.MaxFeeds(guildID, s.defaultMaxFeeds) {
		return nil, entity.ErrSourceLimit
	}

	opts := fetcher.Options{PremiumFetch: s.entitlements.PremiumFetch(guildID)}
	body, err := s.fetcher.Fetch(ctx, url, opts)
	if err != nil {
		return nil, err
	}
	articles, err := s.parser.Parse(body)
	if err != nil {
		return nil, err
	}
	title, err := s.parser.FeedTitle(body)
	if err != nil || title == "" {
		title = url
	}

	source := &entity.FeedSource{
		ID:           uuid.NewString(),
		GuildID:      guildID,
		URL:          url,
		ChannelID:    channelID,
		Title:        title,
		ScheduleName: scheduleHint,
		AddedAt:      s.now(),
	}
	// Seed the current articles as historical so the first cycle delivers
	// only what appears after subscription.
	for _, article := range articles {
		source.MarkSeen(article.ID, entity.DefaultSeenLimit)
	}

	guild.Sources[source.ID] = source
	if err := s.guilds.Update(ctx, guild); err != nil {
		return nil, fmt.Errorf("persist guild %s: %w", guildID, err)
	}

	s.logger.Info("feed source added",
		slog.String("guild_id", guildID),
		slog.String("source_id", source.ID),
		slog.String("url", url))
	s.afterMutation(ctx, coordinator.KindGuildUpdate, guild, "")
	return source, nil
}

// RemoveSource deletes the source from its guild.
func (s *Service) RemoveSource(ctx context.Context, guildID, sourceID string) error {
	guild, err := s.guilds.Get(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load guild %s: %w", guildID, err)
	}
	if _, err := guild.Source(sourceID); err != nil {
		return err
	}
	delete(guild.Sources, sourceID)
	if err := s.guilds.Update(ctx, guild); err != nil {
		return fmt.Errorf("persist guild %s: %w", guildID, err)
	}

	s.logger.Info("feed source removed",
		slog.String("guild_id", guildID),
		slog.String("source_id", sourceID))
	s.afterMutation(ctx, coordinator.KindGuildRemoveFeed, guild, sourceID)
	return nil
}

// DisableSource excludes the source from future cycles without deleting it.
func (s *Service) DisableSource(ctx context.Context, guildID, sourceID string) error {
	return s.setDisabled(ctx, guildID, sourceID, true)
}

// EnableSource re-enables a disabled source.
func (s *Service) EnableSource(ctx context.Context, guildID, sourceID string) error {
	return s.setDisabled(ctx, guildID, sourceID, false)
}

func (s *Service) setDisabled(ctx context.Context, guildID, sourceID string, disabled bool) error {
	guild, err := s.guilds.Get(ctx, guildID)
	if err != nil {
		return fmt.Errorf("load guild %s: %w", guildID, err)
	}
	source, err := guild.Source(sourceID)
	if err != nil {
		return err
	}
	if source.Disabled == disabled {
		return nil
	}
	source.Disabled = disabled
	if err := s.guilds.UpdateSource(ctx, guildID, source); err != nil {
		return fmt.Errorf("persist source %s: %w", sourceID, err)
	}

	kind := coordinator.KindGuildEnableFeed
	if disabled {
		kind = coordinator.KindGuildDisableFeed
	}
	s.logger.Info("feed source toggled",
		slog.String("guild_id", guildID),
		slog.String("source_id", sourceID),
		slog.Bool("disabled", disabled))
	s.afterMutation(ctx, kind, guild, sourceID)
	return nil
}

// GetPlaceholders fetches the source once and returns its current articles
// as a read-only preview. The seen-set is not touched.
func (s *Service) GetPlaceholders(ctx context.Context, guildID, sourceID string) ([]*entity.Article, error) {
	guild, err := s.guilds.Get(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("load guild %s: %w", guildID, err)
	}
	source, err := guild.Source(sourceID)
	if err != nil {
		return nil, err
	}

	opts := fetcher.Options{PremiumFetch: s.entitlements.PremiumFetch(guildID)}
	body, err := s.fetcher.Fetch(ctx, source.URL, opts)
	if err != nil {
		return nil, err
	}
	return s.parser.Parse(body)
}

func (s *Service) afterMutation(ctx context.Context, kind coordinator.Kind, guild *entity.GuildConfig, sourceID string) {
	if s.announcer != nil {
		s.announcer.Broadcast(ctx, kind, coordinator.GuildConfigPayload{Guild: guild, SourceID: sourceID})
	}
	if s.assigner != nil {
		if err := s.assigner.Assign(ctx); err != nil {
			s.logger.Warn("schedule reassignment failed",
				slog.Any("error", err))
		}
	}
}
