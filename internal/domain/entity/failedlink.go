package entity

import "time"

// LinkStatus is the health state of a feed URL in the failed-link tracker.
type LinkStatus string

const (
	// LinkOK means the link is fetched normally.
	LinkOK LinkStatus = "OK"
	// LinkDegraded means the suspension grace window elapsed and the link
	// is eligible for exactly one probe fetch.
	LinkDegraded LinkStatus = "DEGRADED"
	// LinkFailed means consecutive failures reached the threshold and the
	// link is excluded from fetching.
	LinkFailed LinkStatus = "FAILED"
)

// FailedLinkRecord is the per-URL consecutive-failure accounting shared by
// every source subscribed to the same link.
type FailedLinkRecord struct {
	URL                 string
	ConsecutiveFailures int
	FirstFailedAt       time.Time
	AlertSent           bool
	Status              LinkStatus
}

// Usable reports whether the link may be fetched. FAILED links are excluded
// until the tracker degrades them for a probe.
func (r *FailedLinkRecord) Usable() bool {
	return r.Status != LinkFailed
}
