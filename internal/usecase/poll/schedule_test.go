package poll

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/infra/fetcher"
	"github.com/synzen/Discord.RSS/internal/usecase/faillink"
)

type stubFetcher struct {
	mu     sync.Mutex
	bodies map[string][]byte
	errs   map[string]error
	calls  map[string]int
	gate   chan struct{}
	onCall chan struct{}
}

func (f *stubFetcher) Fetch(_ context.Context, url string, _ fetcher.Options) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	body := f.bodies[url]
	err := f.errs[url]
	f.mu.Unlock()

	if f.onCall != nil {
		f.onCall <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *stubFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

type stubParser struct {
	fn func(body []byte) ([]*entity.Article, error)
}

func (p *stubParser) Parse(body []byte) ([]*entity.Article, error) {
	return p.fn(body)
}

type recordingDeliverer struct {
	mu        sync.Mutex
	delivered []string
}

func (d *recordingDeliverer) DeliverNewArticle(_ context.Context, article *entity.Article, source *entity.FeedSource) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, source.ID+"/"+article.ID)
}

func (d *recordingDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.delivered)
}

func testDeps(f Fetcher, p FeedParser, tr LinkTracker, d Deliverer) Deps {
	return Deps{
		Fetcher:   f,
		Parser:    p,
		Tracker:   tr,
		Deliverer: d,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

func newTestTracker(t *testing.T, threshold int) *faillink.Tracker {
	t.Helper()
	return faillink.New(
		faillink.Config{FailureThreshold: threshold, GraceWindow: 24 * time.Hour},
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		nil, nil,
	)
}

func TestScheduleFirstCycleSeedsWithoutDelivering(t *testing.T) {
	// Arrange
	fetch := &stubFetcher{bodies: map[string][]byte{"http://a.example/feed": []byte("v1")}}
	parse := &stubParser{fn: func(body []byte) ([]*entity.Article, error) {
		return []*entity.Article{{ID: "art-" + string(body)}}, nil
	}}
	sink := &recordingDeliverer{}
	sched := NewSchedule("default", time.Minute, nil, 2, testDeps(fetch, parse, newTestTracker(t, 3), sink))

	source := &entity.FeedSource{ID: "s1", GuildID: "g1", URL: "http://a.example/feed", ChannelID: "c1"}
	sched.SetSources([]*entity.FeedSource{source})

	// Act: first cycle seeds, second delivers the new article only.
	stats1 := sched.RunCycle(context.Background())
	fetch.bodies["http://a.example/feed"] = []byte("v2")
	stats2 := sched.RunCycle(context.Background())

	// Assert
	assert.Equal(t, 0, stats1.ArticlesDelivered)
	assert.Equal(t, []string{"art-v1"}, source.SeenArticleIDs[:1])
	assert.Equal(t, 1, stats2.ArticlesDelivered)
	assert.Equal(t, 1, sink.count())
	assert.True(t, source.HasSeen("art-v2"))
}

func TestScheduleIsolatesFailingSource(t *testing.T) {
	// Arrange: three sources, one returns a parse error every cycle.
	urls := []string{"http://good1.example/feed", "http://good2.example/feed", "http://bad.example/feed"}
	fetch := &stubFetcher{bodies: map[string][]byte{}}
	parse := &stubParser{fn: func(body []byte) ([]*entity.Article, error) {
		s := string(body)
		if s == "bad" {
			return nil, errors.New("not a feed")
		}
		return []*entity.Article{{ID: s}}, nil
	}}
	sink := &recordingDeliverer{}
	tracker := newTestTracker(t, 3)
	sched := NewSchedule("default", 10*time.Minute, nil, 2, testDeps(fetch, parse, tracker, sink))

	var sources []*entity.FeedSource
	for i, u := range urls {
		sources = append(sources, &entity.FeedSource{
			ID: fmt.Sprintf("s%d", i), GuildID: "g1", URL: u, ChannelID: "c1",
		})
	}
	sched.SetSources(sources)

	// Act: three cycles with fresh content each time for the good sources.
	for cycle := 1; cycle <= 3; cycle++ {
		fetch.bodies[urls[0]] = []byte(fmt.Sprintf("good1-%d", cycle))
		fetch.bodies[urls[1]] = []byte(fmt.Sprintf("good2-%d", cycle))
		fetch.bodies[urls[2]] = []byte("bad")
		sched.RunCycle(context.Background())
	}

	// Assert: good sources delivered on cycles two and three, the failing
	// one accumulated failures until suspension.
	assert.Equal(t, 4, sink.count())

	rec := tracker.Record(urls[2])
	require.NotNil(t, rec)
	assert.Equal(t, 3, rec.ConsecutiveFailures)
	assert.Equal(t, entity.LinkFailed, rec.Status)
	assert.False(t, tracker.IsUsable(urls[2]))

	assert.Equal(t, entity.LinkOK, tracker.Status(urls[0]))
	assert.Equal(t, entity.LinkOK, tracker.Status(urls[1]))
}

func TestScheduleSkipsSuspendedAndDisabledSources(t *testing.T) {
	// Arrange
	fetch := &stubFetcher{bodies: map[string][]byte{"http://up.example/feed": []byte("ok")}}
	parse := &stubParser{fn: func([]byte) ([]*entity.Article, error) { return nil, nil }}
	tracker := newTestTracker(t, 1)
	tracker.RecordFailure(context.Background(), "http://down.example/feed")
	sched := NewSchedule("default", time.Minute, nil, 2,
		testDeps(fetch, parse, tracker, &recordingDeliverer{}))

	sched.SetSources([]*entity.FeedSource{
		{ID: "s1", GuildID: "g1", URL: "http://up.example/feed", ChannelID: "c1"},
		{ID: "s2", GuildID: "g1", URL: "http://down.example/feed", ChannelID: "c1"},
		{ID: "s3", GuildID: "g1", URL: "http://off.example/feed", ChannelID: "c1", Disabled: true},
	})

	// Act
	stats := sched.RunCycle(context.Background())

	// Assert
	assert.Equal(t, 1, stats.SourcesProcessed)
	assert.Equal(t, 2, stats.SourcesSkipped)
	assert.Equal(t, 1, fetch.callCount("http://up.example/feed"))
	assert.Equal(t, 0, fetch.callCount("http://down.example/feed"))
	assert.Equal(t, 0, fetch.callCount("http://off.example/feed"))
}

type stubEntitlements struct {
	blacklistedGuilds map[string]bool
	vipGuilds         map[string]time.Duration
}

func (e *stubEntitlements) PremiumFetch(string) bool  { return false }
func (e *stubEntitlements) AllowsCookies(string) bool { return false }
func (e *stubEntitlements) Blacklisted(guildID, _ string) bool {
	return e.blacklistedGuilds[guildID]
}
func (e *stubEntitlements) RefreshRateOverride(guildID string) (time.Duration, bool) {
	d, ok := e.vipGuilds[guildID]
	return d, ok
}

func TestScheduleSkipsBlacklistedGuilds(t *testing.T) {
	// Arrange
	fetch := &stubFetcher{bodies: map[string][]byte{
		"http://ok.example/feed":     []byte("ok"),
		"http://barred.example/feed": []byte("ok"),
	}}
	parse := &stubParser{fn: func([]byte) ([]*entity.Article, error) { return nil, nil }}
	deps := testDeps(fetch, parse, newTestTracker(t, 3), &recordingDeliverer{})
	deps.Entitlements = &stubEntitlements{blacklistedGuilds: map[string]bool{"g-barred": true}}
	sched := NewSchedule("default", time.Minute, nil, 2, deps)

	sched.SetSources([]*entity.FeedSource{
		{ID: "s1", GuildID: "g1", URL: "http://ok.example/feed", ChannelID: "c1"},
		{ID: "s2", GuildID: "g-barred", URL: "http://barred.example/feed", ChannelID: "c2"},
	})

	// Act
	stats := sched.RunCycle(context.Background())

	// Assert
	assert.Equal(t, 1, stats.SourcesProcessed)
	assert.Equal(t, 1, stats.SourcesSkipped)
	assert.Equal(t, 0, fetch.callCount("http://barred.example/feed"))
}

func TestScheduleProcessesEachSourceExactlyOncePerCycle(t *testing.T) {
	// Arrange: more sources than worker slots.
	fetch := &stubFetcher{bodies: map[string][]byte{}}
	var urls []string
	var sources []*entity.FeedSource
	for i := 0; i < 6; i++ {
		u := fmt.Sprintf("http://feed%d.example/rss", i)
		urls = append(urls, u)
		fetch.bodies[u] = []byte("ok")
		sources = append(sources, &entity.FeedSource{
			ID: fmt.Sprintf("s%d", i), GuildID: "g1", URL: u, ChannelID: "c1",
		})
	}
	parse := &stubParser{fn: func([]byte) ([]*entity.Article, error) { return nil, nil }}
	sched := NewSchedule("default", time.Minute, nil, 2,
		testDeps(fetch, parse, newTestTracker(t, 3), &recordingDeliverer{}))
	sched.SetSources(sources)

	// Act
	stats := sched.RunCycle(context.Background())

	// Assert
	assert.Equal(t, 6, stats.SourcesProcessed)
	for _, u := range urls {
		assert.Equal(t, 1, fetch.callCount(u), u)
	}
}

func TestOverlappingCyclesProcessSharedSourceOnce(t *testing.T) {
	// Arrange: the same source assigned to two schedules through distinct
	// pointers, as a reassignment pass produces while a cycle is in flight.
	// Both pointers carry a seeded seen-set so a fresh article would be
	// delivered by whichever cycle processes the source.
	fetch := &stubFetcher{
		bodies: map[string][]byte{"http://moved.example/feed": []byte("fresh-1")},
		gate:   make(chan struct{}),
		onCall: make(chan struct{}, 1),
	}
	parse := &stubParser{fn: func(body []byte) ([]*entity.Article, error) {
		return []*entity.Article{{ID: string(body)}}, nil
	}}
	sink := &recordingDeliverer{}
	tracker := newTestTracker(t, 3)

	oldSched := NewSchedule("default", time.Minute, nil, 2, testDeps(fetch, parse, tracker, sink))
	newSched := NewSchedule("vip", time.Minute, nil, 2, testDeps(fetch, parse, tracker, sink))
	newSched.gate = oldSched.gate

	oldSched.SetSources([]*entity.FeedSource{
		{ID: "s1", GuildID: "g1", URL: "http://moved.example/feed", ChannelID: "c1", SeenArticleIDs: []string{"old"}},
	})
	newSched.SetSources([]*entity.FeedSource{
		{ID: "s1", GuildID: "g1", URL: "http://moved.example/feed", ChannelID: "c1", SeenArticleIDs: []string{"old"}},
	})

	// Act: the old schedule's cycle blocks mid-fetch; the new schedule
	// ticks while it is in flight.
	done := make(chan CycleStats, 1)
	go func() { done <- oldSched.RunCycle(context.Background()) }()
	<-fetch.onCall

	overlapping := newSched.RunCycle(context.Background())
	close(fetch.gate)
	first := <-done

	// Assert: exactly one cycle processed the source and delivered.
	assert.Equal(t, 1, overlapping.SourcesSkipped)
	assert.Equal(t, 0, overlapping.SourcesProcessed)
	assert.Equal(t, 1, first.ArticlesDelivered)
	assert.Equal(t, 1, sink.count(), "article delivered by exactly one cycle")
	assert.Equal(t, 1, fetch.callCount("http://moved.example/feed"))
}

func TestScheduleSkipsTickWhileCycleRunning(t *testing.T) {
	// Arrange: a fetch that blocks until released.
	fetch := &stubFetcher{
		bodies: map[string][]byte{"http://slow.example/feed": []byte("ok")},
		gate:   make(chan struct{}),
		onCall: make(chan struct{}, 1),
	}
	parse := &stubParser{fn: func([]byte) ([]*entity.Article, error) { return nil, nil }}
	sched := NewSchedule("default", time.Minute, nil, 1,
		testDeps(fetch, parse, newTestTracker(t, 3), &recordingDeliverer{}))
	sched.SetSources([]*entity.FeedSource{
		{ID: "s1", GuildID: "g1", URL: "http://slow.example/feed", ChannelID: "c1"},
	})

	done := make(chan CycleStats, 1)
	go func() { done <- sched.RunCycle(context.Background()) }()
	<-fetch.onCall

	// Act: a second tick while the first cycle is still in flight.
	overlapping := sched.RunCycle(context.Background())
	close(fetch.gate)
	first := <-done

	// Assert
	assert.True(t, overlapping.Skipped)
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, fetch.callCount("http://slow.example/feed"))
}

func TestScheduleStopsDispatchOnCancel(t *testing.T) {
	// Arrange
	fetch := &stubFetcher{bodies: map[string][]byte{"http://a.example/feed": []byte("ok")}}
	parse := &stubParser{fn: func([]byte) ([]*entity.Article, error) { return nil, nil }}
	sched := NewSchedule("default", time.Minute, nil, 1,
		testDeps(fetch, parse, newTestTracker(t, 3), &recordingDeliverer{}))
	sched.SetSources([]*entity.FeedSource{
		{ID: "s1", GuildID: "g1", URL: "http://a.example/feed", ChannelID: "c1"},
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Act
	stats := sched.RunCycle(ctx)

	// Assert: no new per-source work starts after cancellation.
	assert.Equal(t, 0, stats.SourcesProcessed)
	assert.Equal(t, 0, fetch.callCount("http://a.example/feed"))
}
