package feeds

import (
	"time"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

// DTO is the wire shape of one feed subscription.
type DTO struct {
	ID           string    `json:"id"`
	GuildID      string    `json:"guild_id"`
	URL          string    `json:"url"`
	ChannelID    string    `json:"channel_id"`
	Title        string    `json:"title"`
	ScheduleName string    `json:"schedule_name,omitempty"`
	Disabled     bool      `json:"disabled"`
	AddedAt      time.Time `json:"added_at"`
}

// ArticleDTO is the wire shape of a placeholder preview entry.
type ArticleDTO struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Link         string            `json:"link"`
	PublishedAt  time.Time         `json:"published_at,omitempty"`
	Placeholders map[string]string `json:"placeholders,omitempty"`
}

func toDTO(src *entity.FeedSource) DTO {
	return DTO{
		ID:           src.ID,
		GuildID:      src.GuildID,
		URL:          src.URL,
		ChannelID:    src.ChannelID,
		Title:        src.Title,
		ScheduleName: src.ScheduleName,
		Disabled:     src.Disabled,
		AddedAt:      src.AddedAt,
	}
}

func toArticleDTO(a *entity.Article) ArticleDTO {
	return ArticleDTO{
		ID:           a.ID,
		Title:        a.Title,
		Link:         a.Link,
		PublishedAt:  a.PublishedAt,
		Placeholders: a.Raw,
	}
}
