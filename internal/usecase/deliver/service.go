// Package deliver dispatches matched new articles to their destinations. It
// wraps the external destination collaborator with a bounded worker pool,
// global rate limiting and per-destination circuit breaking so one dead
// destination cannot stall a polling cycle.
package deliver

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

const (
	destinationFailureThreshold = 5
	destinationDisableDuration  = 5 * time.Minute
	workerSlotTimeout           = 5 * time.Second
	sendTimeout                 = 30 * time.Second
)

// Destination is the chat-platform collaborator: it only needs to answer
// whether a target is reachable and to post one rendered article.
type Destination interface {
	IsReachable(ctx context.Context, channelID string) bool
	Send(ctx context.Context, channelID string, article *entity.Article, source *entity.FeedSource) error
}

// Service dispatches new-article events. Dispatch is fire-and-forget: a cycle
// hands each new article over exactly once and failures are absorbed here.
type Service interface {
	// DeliverNewArticle sends one article to the source's destination.
	// Non-blocking; errors are handled internally. The caller must invoke
	// it at most once per (source, article, cycle).
	DeliverNewArticle(ctx context.Context, article *entity.Article, source *entity.FeedSource)

	// Shutdown waits for in-flight deliveries to finish or the context to
	// expire.
	Shutdown(ctx context.Context) error
}

type service struct {
	dest       Destination
	workerPool chan struct{}
	limiter    *rate.Limiter
	logger     *slog.Logger

	healthMu sync.Mutex
	health   map[string]*destinationHealth

	wg             sync.WaitGroup
	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
}

// destinationHealth is the consecutive-failure breaker for one channel.
type destinationHealth struct {
	consecutiveFailures int
	disabledUntil       time.Time
}

// NewService creates a delivery service. maxConcurrent bounds in-flight
// sends; perSecond/burst shape the global outbound rate.
func NewService(dest Destination, logger *slog.Logger, maxConcurrent int, perSecond float64, burst int) Service {
	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	return &service{
		dest:           dest,
		workerPool:     make(chan struct{}, maxConcurrent),
		limiter:        rate.NewLimiter(rate.Limit(perSecond), burst),
		logger:         logger,
		health:         make(map[string]*destinationHealth),
		shutdownCtx:    shutdownCtx,
		shutdownCancel: shutdownCancel,
	}
}

func (s *service) DeliverNewArticle(ctx context.Context, article *entity.Article, source *entity.FeedSource) {
	if article == nil || source == nil {
		s.logger.Warn("invalid delivery input",
			slog.Bool("nil_article", article == nil),
			slog.Bool("nil_source", source == nil))
		return
	}

	dispatchID := uuid.New().String()
	s.wg.Add(1)
	go s.deliver(dispatchID, article, source)
}

func (s *service) deliver(dispatchID string, article *entity.Article, source *entity.FeedSource) {
	defer s.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic during delivery",
				slog.String("dispatch_id", dispatchID),
				slog.String("channel_id", source.ChannelID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()

	select {
	case s.workerPool <- struct{}{}:
		defer func() { <-s.workerPool }()
	case <-time.After(workerSlotTimeout):
		s.logger.Warn("delivery dropped: worker pool full",
			slog.String("dispatch_id", dispatchID),
			slog.String("channel_id", source.ChannelID))
		recordDropped("pool_full")
		return
	case <-s.shutdownCtx.Done():
		recordDropped("shutdown")
		return
	}

	if !s.destinationUsable(source.ChannelID) {
		s.logger.Warn("delivery dropped: destination temporarily disabled",
			slog.String("dispatch_id", dispatchID),
			slog.String("channel_id", source.ChannelID))
		recordDropped("circuit_open")
		return
	}

	ctx, cancel := context.WithTimeout(s.shutdownCtx, sendTimeout)
	defer cancel()

	if err := s.limiter.Wait(ctx); err != nil {
		s.logger.Warn("delivery dropped: rate limiter wait aborted",
			slog.String("dispatch_id", dispatchID),
			slog.Any("error", err))
		recordDropped("rate_limit")
		return
	}

	if !s.dest.IsReachable(ctx, source.ChannelID) {
		s.logger.Warn("delivery dropped: destination unreachable",
			slog.String("dispatch_id", dispatchID),
			slog.String("channel_id", source.ChannelID))
		s.recordDestinationFailure(source.ChannelID)
		recordDropped("unreachable")
		return
	}

	start := time.Now()
	err := s.dest.Send(ctx, source.ChannelID, article, source)
	duration := time.Since(start)

	if err != nil {
		s.recordDestinationFailure(source.ChannelID)
		recordSend(false, duration)
		s.logger.Warn("delivery failed",
			slog.String("dispatch_id", dispatchID),
			slog.String("channel_id", source.ChannelID),
			slog.String("article_id", article.ID),
			slog.String("link", article.Link),
			slog.Duration("send_duration", duration),
			slog.Any("error", err))
		return
	}

	s.recordDestinationSuccess(source.ChannelID)
	recordSend(true, duration)
	s.logger.Info("article delivered",
		slog.String("dispatch_id", dispatchID),
		slog.String("channel_id", source.ChannelID),
		slog.String("article_id", article.ID),
		slog.String("title", article.Title),
		slog.Duration("send_duration", duration))
}

func (s *service) destinationUsable(channelID string) bool {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	health, ok := s.health[channelID]
	if !ok {
		return true
	}
	return !time.Now().Before(health.disabledUntil)
}

func (s *service) recordDestinationFailure(channelID string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	health, ok := s.health[channelID]
	if !ok {
		health = &destinationHealth{}
		s.health[channelID] = health
	}
	health.consecutiveFailures++
	if health.consecutiveFailures >= destinationFailureThreshold {
		health.disabledUntil = time.Now().Add(destinationDisableDuration)
		s.logger.Error("destination disabled after consecutive delivery failures",
			slog.String("channel_id", channelID),
			slog.Int("consecutive_failures", health.consecutiveFailures))
		recordDestinationDisabled()
	}
}

func (s *service) recordDestinationSuccess(channelID string) {
	s.healthMu.Lock()
	defer s.healthMu.Unlock()
	if health, ok := s.health[channelID]; ok {
		health.consecutiveFailures = 0
	}
}

func (s *service) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down delivery service")
	s.shutdownCancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("delivery service shutdown complete")
		return nil
	case <-ctx.Done():
		s.logger.Warn("delivery service shutdown timeout")
		return ctx.Err()
	}
}
