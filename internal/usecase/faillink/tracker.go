// Package faillink tracks consecutive fetch failures per feed URL and
// suspends links that stay dead, with a grace-window probe path back to
// health. The tracker is the only mutator of FailedLinkRecord state.
package faillink

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/repository"
)

// Alerter notifies the destinations subscribed to a link that it has been
// suspended. Called exactly once per OK-to-FAILED transition.
type Alerter interface {
	Alert(ctx context.Context, url, message string)
}

// Config holds the tunable suspension parameters. Threshold and grace window
// are deployment configuration, not algorithm constants.
type Config struct {
	// FailureThreshold is the consecutive-failure count that suspends a
	// link.
	FailureThreshold int
	// GraceWindow is how long a suspended link stays excluded before it
	// becomes eligible for one probe fetch.
	GraceWindow time.Duration
}

// DefaultConfig returns the stock suspension parameters.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 10,
		GraceWindow:      12 * time.Hour,
	}
}

// linkState wraps the shared record with the grace-timer anchor, which is
// tracker-internal and resets every time a probe fails.
type linkState struct {
	record      *entity.FailedLinkRecord
	suspendedAt time.Time
}

// Tracker is the per-process failed-link accounting. Mutations are announced
// through the uniformize hook so sibling shards converge, and mirrored to the
// repository best-effort.
type Tracker struct {
	mu     sync.Mutex
	links  map[string]*linkState
	cfg    Config
	logger *slog.Logger

	alerter Alerter
	repo    repository.FailedLinkRepository

	// onUniformize receives a full snapshot after every local mutation.
	// Nil disables cross-process propagation (single-process deployments).
	onUniformize func(records []*entity.FailedLinkRecord)

	now func() time.Time
}

// New creates a tracker. repo may be nil for purely in-memory operation and
// alerter may be nil to disable suspension alerts.
func New(cfg Config, logger *slog.Logger, repo repository.FailedLinkRepository, alerter Alerter) *Tracker {
	return &Tracker{
		links:   make(map[string]*linkState),
		cfg:     cfg,
		logger:  logger,
		alerter: alerter,
		repo:    repo,
		now:     time.Now,
	}
}

// OnUniformize registers the cross-process propagation hook.
func (t *Tracker) OnUniformize(fn func(records []*entity.FailedLinkRecord)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onUniformize = fn
}

// Load seeds the tracker from the repository at startup.
func (t *Tracker) Load(ctx context.Context) error {
	if t.repo == nil {
		return nil
	}
	records, err := t.repo.List(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, rec := range records {
		t.links[rec.URL] = &linkState{record: rec, suspendedAt: rec.FirstFailedAt}
	}
	return nil
}

// RecordSuccess resets the link to OK with counters zeroed and the alert gate
// rearmed.
func (t *Tracker) RecordSuccess(ctx context.Context, url string) {
	t.mu.Lock()
	state, ok := t.links[url]
	if !ok || (state.record.Status == entity.LinkOK && state.record.ConsecutiveFailures == 0) {
		t.mu.Unlock()
		return
	}

	recovered := state.record.Status != entity.LinkOK
	state.record.ConsecutiveFailures = 0
	state.record.Status = entity.LinkOK
	state.record.AlertSent = false
	state.record.FirstFailedAt = time.Time{}
	state.suspendedAt = time.Time{}
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if recovered {
		t.logger.Info("failed link recovered", slog.String("url", url))
		recordLinkTransition("recovered")
	}
	t.propagate(ctx, url, snapshot)
}

// RecordFailure increments the consecutive-failure counter. Crossing the
// threshold suspends the link and fires the alert exactly once; a failed
// probe re-suspends with the grace timer reset.
func (t *Tracker) RecordFailure(ctx context.Context, url string) {
	now := t.now()

	t.mu.Lock()
	state, ok := t.links[url]
	if !ok {
		state = &linkState{record: &entity.FailedLinkRecord{URL: url, Status: entity.LinkOK}}
		t.links[url] = state
	}
	rec := state.record

	rec.ConsecutiveFailures++
	if rec.FirstFailedAt.IsZero() {
		rec.FirstFailedAt = now
	}

	alertNeeded := false
	switch {
	case rec.Status == entity.LinkDegraded:
		// Probe failed: back to FAILED, grace timer restarts.
		rec.Status = entity.LinkFailed
		state.suspendedAt = now
		recordLinkTransition("probe_failed")
	case rec.Status == entity.LinkOK && rec.ConsecutiveFailures >= t.cfg.FailureThreshold:
		rec.Status = entity.LinkFailed
		state.suspendedAt = now
		if !rec.AlertSent {
			rec.AlertSent = true
			alertNeeded = true
		}
		recordLinkTransition("suspended")
	}
	count := rec.ConsecutiveFailures
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if alertNeeded {
		t.logger.Warn("link suspended after consecutive failures",
			slog.String("url", url),
			slog.Int("consecutive_failures", count))
		if t.alerter != nil {
			t.alerter.Alert(ctx, url, "This link has failed too many consecutive times and is suspended from future fetches.")
		}
	}
	t.propagate(ctx, url, snapshot)
}

// IsUsable reports whether the schedule should fetch the link this cycle.
// A suspended link whose grace window elapsed degrades to one probe attempt.
func (t *Tracker) IsUsable(url string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.links[url]
	if !ok {
		return true
	}
	switch state.record.Status {
	case entity.LinkFailed:
		if t.cfg.GraceWindow > 0 && t.now().Sub(state.suspendedAt) >= t.cfg.GraceWindow {
			state.record.Status = entity.LinkDegraded
			recordLinkTransition("probe_eligible")
			return true
		}
		return false
	default:
		return true
	}
}

// Status returns the current state of the link, LinkOK for unknown URLs.
func (t *Tracker) Status(url string) entity.LinkStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if state, ok := t.links[url]; ok {
		return state.record.Status
	}
	return entity.LinkOK
}

// Record returns a copy of the record for the link, nil when unknown.
func (t *Tracker) Record(url string) *entity.FailedLinkRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.links[url]
	if !ok {
		return nil
	}
	rec := *state.record
	return &rec
}

// Snapshot returns copies of every record, for uniformize messages.
func (t *Tracker) Snapshot() []*entity.FailedLinkRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

func (t *Tracker) snapshotLocked() []*entity.FailedLinkRecord {
	out := make([]*entity.FailedLinkRecord, 0, len(t.links))
	for _, state := range t.links {
		rec := *state.record
		out = append(out, &rec)
	}
	return out
}

// ApplyUniform replaces local state with the fleet snapshot received from the
// coordinator. Reapplying the same snapshot is a no-op; no alerts fire.
func (t *Tracker) ApplyUniform(records []*entity.FailedLinkRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := make(map[string]*linkState, len(records))
	for _, rec := range records {
		cp := *rec
		state := &linkState{record: &cp, suspendedAt: cp.FirstFailedAt}
		if prev, ok := t.links[cp.URL]; ok {
			// Keep the local grace anchor so probes do not fire early.
			state.suspendedAt = prev.suspendedAt
		}
		next[cp.URL] = state
	}
	t.links = next
}

// Reset clears the record for the URL (manual operator clear).
func (t *Tracker) Reset(ctx context.Context, url string) {
	t.mu.Lock()
	delete(t.links, url)
	snapshot := t.snapshotLocked()
	t.mu.Unlock()

	if t.repo != nil {
		if err := t.repo.Reset(ctx, url); err != nil {
			t.logger.Warn("failed to reset link record in store",
				slog.String("url", url),
				slog.Any("error", err))
		}
	}
	if t.onUniformize != nil {
		t.onUniformize(snapshot)
	}
}

// propagate mirrors the mutation to the store and announces the snapshot to
// sibling shards. Both paths are best-effort.
func (t *Tracker) propagate(ctx context.Context, url string, snapshot []*entity.FailedLinkRecord) {
	if t.repo != nil {
		for _, rec := range snapshot {
			if rec.URL != url {
				continue
			}
			if err := t.repo.Upsert(ctx, rec); err != nil {
				t.logger.Warn("failed to persist link record",
					slog.String("url", url),
					slog.Any("error", err))
			}
		}
	}
	if t.onUniformize != nil {
		t.onUniformize(snapshot)
	}
}
