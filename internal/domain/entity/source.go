package entity

import (
	"errors"
	"fmt"
	"time"
)

// DefaultSeenLimit bounds the number of article identities retained per source
// for duplicate suppression. Oldest-inserted identities are evicted first.
const DefaultSeenLimit = 400

// FeedSource is one subscribed feed: its URL, the destination it delivers to,
// and the bounded set of article identities already delivered.
type FeedSource struct {
	ID           string
	GuildID      string
	URL          string
	ChannelID    string
	Title        string
	ScheduleName string
	Disabled     bool

	// Cookies is the raw Cookie header sent with fetches for this source.
	// Honored only while the owning guild's entitlement allows cookies.
	Cookies string

	// SeenArticleIDs is ordered oldest-first so the retention trim can
	// evict from the front.
	SeenArticleIDs []string

	AddedAt time.Time
}

// Validate checks the FeedSource fields required before persistence.
func (s *FeedSource) Validate() error {
	if s.ID == "" {
		return &ValidationError{Field: "id", Message: "source id is required"}
	}
	if s.GuildID == "" {
		return &ValidationError{Field: "guild_id", Message: "guild id is required"}
	}
	if s.ChannelID == "" {
		return &ValidationError{Field: "channel_id", Message: "destination channel is required"}
	}
	return ValidateURL(s.URL)
}

// HasSeen reports whether the article identity has already been delivered.
func (s *FeedSource) HasSeen(articleID string) bool {
	for _, id := range s.SeenArticleIDs {
		if id == articleID {
			return true
		}
	}
	return false
}

// MarkSeen appends the article identity and trims the seen-set to limit,
// evicting oldest-inserted entries first. Already-present identities are not
// duplicated.
func (s *FeedSource) MarkSeen(articleID string, limit int) {
	if s.HasSeen(articleID) {
		return
	}
	s.SeenArticleIDs = append(s.SeenArticleIDs, articleID)
	if limit > 0 && len(s.SeenArticleIDs) > limit {
		s.SeenArticleIDs = s.SeenArticleIDs[len(s.SeenArticleIDs)-limit:]
	}
}

// GuildConfig groups the feed sources owned by one guild together with the
// guild-level delivery options. It is the unit exchanged in guildConfig.*
// coordinator messages.
type GuildConfig struct {
	ID      string
	Name    string
	Sources map[string]*FeedSource
	// Prefix for rendered messages, empty for the deployment default.
	Prefix string
}

// Validate checks the GuildConfig and all contained sources.
func (g *GuildConfig) Validate() error {
	if g.ID == "" {
		return &ValidationError{Field: "id", Message: "guild id is required"}
	}
	for name, src := range g.Sources {
		if src == nil {
			return &ValidationError{Field: "sources", Message: fmt.Sprintf("source %q is nil", name)}
		}
		if err := src.Validate(); err != nil {
			return fmt.Errorf("source %q: %w", name, err)
		}
	}
	return nil
}

// Source returns the source with the given id, or ErrNotFound.
func (g *GuildConfig) Source(sourceID string) (*FeedSource, error) {
	src, ok := g.Sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("source %q: %w", sourceID, ErrNotFound)
	}
	return src, nil
}

// ErrSourceLimit indicates the guild reached its feed allowance.
var ErrSourceLimit = errors.New("feed limit reached")
