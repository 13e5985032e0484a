// Package entity defines the core domain entities and validation logic for the
// application. It contains the fundamental business objects such as Article,
// FeedSource and VipEntitlement, along with their validation rules and
// domain-specific errors.
package entity

import "time"

// Article represents a single normalized feed entry. Articles are ephemeral:
// they exist only between parsing and delivery, after which only their ID
// survives in the owning source's seen-set.
type Article struct {
	// ID is the stable identity used for duplicate suppression. It is the
	// feed-native GUID when the feed provides one, otherwise a content hash.
	ID          string
	Title       string
	Description string
	Link        string
	PublishedAt time.Time

	// Raw holds the flattened feed entry fields used as template
	// placeholders by delivery destinations.
	Raw map[string]string
}

// Placeholder returns the raw field under the given name, or the empty string.
func (a *Article) Placeholder(name string) string {
	if a.Raw == nil {
		return ""
	}
	return a.Raw[name]
}
