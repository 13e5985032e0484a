// Package poll owns the feed polling core: named schedules that fan out over
// their assigned sources each cycle with bounded concurrency, and the manager
// that drives schedule timers and keyword-based source assignment.
package poll

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/infra/fetcher"
	"github.com/synzen/Discord.RSS/internal/repository"
)

// Fetcher retrieves a raw feed body.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetcher.Options) ([]byte, error)
}

// FeedParser turns a raw body into normalized articles.
type FeedParser interface {
	Parse(rawBody []byte) ([]*entity.Article, error)
}

// LinkTracker is the failed-link accounting consulted around every fetch.
type LinkTracker interface {
	IsUsable(url string) bool
	RecordSuccess(ctx context.Context, url string)
	RecordFailure(ctx context.Context, url string)
}

// Deliverer accepts new articles for asynchronous delivery.
type Deliverer interface {
	DeliverNewArticle(ctx context.Context, article *entity.Article, source *entity.FeedSource)
}

// Entitlements exposes the paid-tier capabilities and the blacklist consulted
// on the fetch path and during schedule assignment.
type Entitlements interface {
	PremiumFetch(guildID string) bool
	AllowsCookies(guildID string) bool
	Blacklisted(guildID, userID string) bool
	RefreshRateOverride(guildID string) (time.Duration, bool)
}

// CycleStats is the aggregate outcome of one schedule cycle. Side-channel
// only, never used for control flow.
type CycleStats struct {
	Schedule          string
	SourcesProcessed  int
	SourcesSkipped    int
	ArticlesDelivered int
	Failures          int
	Skipped           bool
	Elapsed           time.Duration
}

// Deps bundles the collaborators every schedule shares.
type Deps struct {
	Fetcher      Fetcher
	Parser       FeedParser
	Tracker      LinkTracker
	Deliverer    Deliverer
	Entitlements Entitlements
	Guilds       repository.GuildRepository
	Logger       *slog.Logger
}

// sourceGate serializes per-source processing. Schedules built by one manager
// share a gate, so a source that moves between schedules during reassignment
// is never fetched by two overlapping cycles at once.
type sourceGate struct {
	mu       sync.Mutex
	inflight map[string]struct{}
}

func newSourceGate() *sourceGate {
	return &sourceGate{inflight: make(map[string]struct{})}
}

func (g *sourceGate) tryAcquire(sourceID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, busy := g.inflight[sourceID]; busy {
		return false
	}
	g.inflight[sourceID] = struct{}{}
	return true
}

func (g *sourceGate) release(sourceID string) {
	g.mu.Lock()
	delete(g.inflight, sourceID)
	g.mu.Unlock()
}

// Schedule is a named group of feed sources sharing a refresh interval.
// RunCycle never overlaps with itself: a tick arriving while the previous
// cycle still runs is skipped.
type Schedule struct {
	name        string
	interval    time.Duration
	keywords    []string
	concurrency int
	seenLimit   int

	deps Deps
	gate *sourceGate

	mu      sync.Mutex
	sources []*entity.FeedSource

	running atomic.Bool
}

// NewSchedule creates a schedule with no sources assigned yet.
func NewSchedule(name string, interval time.Duration, keywords []string, concurrency int, deps Deps) *Schedule {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Schedule{
		name:        name,
		interval:    interval,
		keywords:    keywords,
		concurrency: concurrency,
		seenLimit:   entity.DefaultSeenLimit,
		deps:        deps,
		gate:        newSourceGate(),
	}
}

// Name returns the schedule's unique name.
func (s *Schedule) Name() string { return s.name }

// Interval returns the refresh interval between cycles.
func (s *Schedule) Interval() time.Duration { return s.interval }

// Keywords returns the URL substrings this schedule claims sources by.
func (s *Schedule) Keywords() []string { return s.keywords }

// SetSources replaces the assigned source set. Called by the manager on each
// assignment pass; a cycle snapshot taken before the swap finishes on the old
// set.
func (s *Schedule) SetSources(sources []*entity.FeedSource) {
	s.mu.Lock()
	s.sources = sources
	s.mu.Unlock()
}

// SourceCount returns how many sources are currently assigned.
func (s *Schedule) SourceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sources)
}

// RunCycle processes every assigned source once with bounded concurrency.
// Per-source failures are isolated: logged, counted, fed to the link tracker,
// and never abort sibling sources.
func (s *Schedule) RunCycle(ctx context.Context) CycleStats {
	if !s.running.CompareAndSwap(false, true) {
		s.deps.Logger.Warn("cycle still running, skipping tick",
			slog.String("schedule", s.name))
		recordCycle(s.name, "skipped")
		return CycleStats{Schedule: s.name, Skipped: true}
	}
	defer s.running.Store(false)

	started := time.Now()

	s.mu.Lock()
	snapshot := make([]*entity.FeedSource, len(s.sources))
	copy(snapshot, s.sources)
	s.mu.Unlock()

	var processed, skipped, delivered, failures atomic.Int64

	g, cycleCtx := errgroup.WithContext(ctx)
	sem := make(chan struct{}, s.concurrency)

	for _, src := range snapshot {
		// Stop dispatching new sources once the process is shutting
		// down; in-flight fetches complete on their own.
		if ctx.Err() != nil {
			s.deps.Logger.Info("cycle dispatch halted",
				slog.String("schedule", s.name))
			break
		}
		select {
		case <-ctx.Done():
			s.deps.Logger.Info("cycle dispatch halted",
				slog.String("schedule", s.name))
		case sem <- struct{}{}:
			source := src
			g.Go(func() error {
				defer func() { <-sem }()

				n, err := s.processSource(cycleCtx, source)
				switch {
				case err != nil:
					failures.Add(1)
					processed.Add(1)
					s.deps.Logger.Warn("source processing failed",
						slog.String("schedule", s.name),
						slog.String("source_id", source.ID),
						slog.String("url", source.URL),
						slog.Any("error", err))
					recordSourceOutcome(s.name, "failed")
				case n < 0:
					skipped.Add(1)
					recordSourceOutcome(s.name, "skipped")
				default:
					processed.Add(1)
					delivered.Add(int64(n))
					recordSourceOutcome(s.name, "processed")
				}
				return nil
			})
			continue
		}
		break
	}
	_ = g.Wait()

	stats := CycleStats{
		Schedule:          s.name,
		SourcesProcessed:  int(processed.Load()),
		SourcesSkipped:    int(skipped.Load()),
		ArticlesDelivered: int(delivered.Load()),
		Failures:          int(failures.Load()),
		Elapsed:           time.Since(started),
	}

	recordCycle(s.name, "completed")
	recordCycleDuration(s.name, stats.Elapsed)
	recordArticlesDelivered(s.name, stats.ArticlesDelivered)
	s.deps.Logger.Info("cycle completed",
		slog.String("schedule", s.name),
		slog.Int("sources_processed", stats.SourcesProcessed),
		slog.Int("sources_skipped", stats.SourcesSkipped),
		slog.Int("articles_delivered", stats.ArticlesDelivered),
		slog.Int("failures", stats.Failures),
		slog.Duration("elapsed", stats.Elapsed))
	return stats
}

// processSource runs the fetch, parse, dedup, tracker update and delivery
// steps for one source, strictly in that order. Returns the number of new
// articles handed to delivery, or -1 when the source was skipped without
// being fetched.
func (s *Schedule) processSource(ctx context.Context, source *entity.FeedSource) (int, error) {
	if source.Disabled {
		return -1, nil
	}
	if !s.deps.Tracker.IsUsable(source.URL) {
		return -1, nil
	}
	// A reassignment can hand the source to another schedule while this
	// cycle still holds its snapshot; whoever acquires the gate first
	// processes it, the other skips this tick.
	if !s.gate.tryAcquire(source.ID) {
		return -1, nil
	}
	defer s.gate.release(source.ID)

	opts := fetcher.Options{}
	if s.deps.Entitlements != nil {
		if s.deps.Entitlements.Blacklisted(source.GuildID, "") {
			return -1, nil
		}
		opts.PremiumFetch = s.deps.Entitlements.PremiumFetch(source.GuildID)
		if source.Cookies != "" && s.deps.Entitlements.AllowsCookies(source.GuildID) {
			opts.Cookies = source.Cookies
		}
	}

	body, err := s.deps.Fetcher.Fetch(ctx, source.URL, opts)
	if err != nil {
		s.deps.Tracker.RecordFailure(ctx, source.URL)
		return 0, fmt.Errorf("fetch %s: %w", source.URL, err)
	}

	articles, err := s.deps.Parser.Parse(body)
	if err != nil {
		// Invalid remote content counts against the link like a failed
		// fetch; it will not improve before the next cycle.
		s.deps.Tracker.RecordFailure(ctx, source.URL)
		return 0, fmt.Errorf("parse %s: %w", source.URL, err)
	}
	s.deps.Tracker.RecordSuccess(ctx, source.URL)

	// Empty seen-set means this is the source's first cycle: record every
	// current article as historical and deliver nothing.
	firstCycle := len(source.SeenArticleIDs) == 0

	var fresh []*entity.Article
	for _, article := range articles {
		if !firstCycle && !source.HasSeen(article.ID) {
			fresh = append(fresh, article)
		}
		source.MarkSeen(article.ID, s.seenLimit)
	}

	if s.deps.Guilds != nil {
		if err := s.deps.Guilds.UpdateSource(ctx, source.GuildID, source); err != nil {
			s.deps.Logger.Warn("failed to persist seen-set",
				slog.String("source_id", source.ID),
				slog.Any("error", err))
		}
	}

	for _, article := range fresh {
		s.deps.Deliverer.DeliverNewArticle(ctx, article, source)
	}
	return len(fresh), nil
}
