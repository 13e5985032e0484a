package notifier

import (
	"context"
	"log/slog"

	"github.com/synzen/Discord.RSS/internal/repository"
)

// TextSender posts a plain notice to one channel.
type TextSender interface {
	SendText(ctx context.Context, channelID, content string) error
}

// LinkAlerter routes a link suspension notice to every channel subscribed to
// that URL.
type LinkAlerter struct {
	guilds repository.GuildRepository
	sender TextSender
	logger *slog.Logger
}

// NewLinkAlerter wires an alerter over the guild store.
func NewLinkAlerter(guilds repository.GuildRepository, sender TextSender, logger *slog.Logger) *LinkAlerter {
	return &LinkAlerter{guilds: guilds, sender: sender, logger: logger}
}

// Alert fans the notice out to the owning channels, once per channel even
// when several sources share the URL. Send failures are logged and skipped.
func (a *LinkAlerter) Alert(ctx context.Context, url, message string) {
	guilds, err := a.guilds.List(ctx)
	if err != nil {
		a.logger.Warn("cannot list guilds for link alert",
			slog.String("url", url),
			slog.Any("error", err))
		return
	}

	notified := make(map[string]struct{})
	for _, guild := range guilds {
		for _, source := range guild.Sources {
			if source.URL != url || source.ChannelID == "" {
				continue
			}
			if _, done := notified[source.ChannelID]; done {
				continue
			}
			notified[source.ChannelID] = struct{}{}

			if err := a.sender.SendText(ctx, source.ChannelID, message); err != nil {
				a.logger.Warn("link alert delivery failed",
					slog.String("url", url),
					slog.String("channel_id", source.ChannelID),
					slog.Any("error", err))
			}
		}
	}
}
