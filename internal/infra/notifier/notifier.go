// Package notifier implements the delivery destinations articles are posted
// to. The Discord webhook destination handles rate limiting, retries and
// error classification internally; a no-op destination serves deployments
// with delivery disabled.
package notifier

// Directory resolves a channel id to its webhook URL. Channels without a
// webhook are unreachable.
type Directory interface {
	WebhookFor(channelID string) (url string, ok bool)
}

// StaticDirectory is a fixed channel-to-webhook mapping loaded from
// configuration.
type StaticDirectory map[string]string

// WebhookFor implements Directory.
func (d StaticDirectory) WebhookFor(channelID string) (string, bool) {
	url, ok := d[channelID]
	return url, ok
}
