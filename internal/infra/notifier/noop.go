package notifier

import (
	"context"
	"log/slog"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// NoopDestination accepts every article without posting anywhere. Used when
// delivery is disabled in configuration.
type NoopDestination struct {
	logger *slog.Logger
}

// NewNoopDestination creates a destination that drops everything.
func NewNoopDestination(logger *slog.Logger) *NoopDestination {
	return &NoopDestination{logger: logger}
}

// IsReachable always reports true.
func (n *NoopDestination) IsReachable(_ context.Context, _ string) bool {
	return true
}

// Send logs the article at debug level and discards it.
func (n *NoopDestination) Send(_ context.Context, channelID string, article *entity.Article, _ *entity.FeedSource) error {
	n.logger.Debug("delivery disabled, dropping article",
		slog.String("channel_id", channelID),
		slog.String("article_id", article.ID))
	return nil
}
