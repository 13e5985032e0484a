package feeds

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/Discord.RSS/internal/coordinator"
	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/infra/fetcher"
)

type memGuildRepo struct {
	guilds map[string]*entity.GuildConfig
}

func newMemGuildRepo() *memGuildRepo {
	return &memGuildRepo{guilds: make(map[string]*entity.GuildConfig)}
}

func (r *memGuildRepo) Get(_ context.Context, guildID string) (*entity.GuildConfig, error) {
	if g, ok := r.guilds[guildID]; ok {
		return g, nil
	}
	return nil, entity.ErrNotFound
}

func (r *memGuildRepo) List(_ context.Context) ([]*entity.GuildConfig, error) {
	out := make([]*entity.GuildConfig, 0, len(r.guilds))
	for _, g := range r.guilds {
		out = append(out, g)
	}
	return out, nil
}

func (r *memGuildRepo) Update(_ context.Context, guild *entity.GuildConfig) error {
	r.guilds[guild.ID] = guild
	return nil
}

func (r *memGuildRepo) Remove(_ context.Context, guildID string) error {
	delete(r.guilds, guildID)
	return nil
}

func (r *memGuildRepo) UpdateSource(_ context.Context, guildID string, source *entity.FeedSource) error {
	g, ok := r.guilds[guildID]
	if !ok {
		return entity.ErrNotFound
	}
	g.Sources[source.ID] = source
	return nil
}

type stubFetcher struct {
	body  []byte
	err   error
	calls int
}

func (f *stubFetcher) Fetch(_ context.Context, _ string, _ fetcher.Options) ([]byte, error) {
	f.calls++
	return f.body, f.err
}

type stubParser struct {
	articles []*entity.Article
	title    string
	err      error
}

func (p *stubParser) Parse(_ []byte) ([]*entity.Article, error) {
	if p.err != nil {
		return nil, p.err
	}
	return p.articles, nil
}

func (p *stubParser) FeedTitle(_ []byte) (string, error) {
	return p.title, nil
}

type stubEntitlements struct {
	maxFeeds    int
	premium     bool
	blacklisted bool
}

func (e *stubEntitlements) MaxFeeds(_ string, deploymentDefault int) int {
	if e.maxFeeds > 0 {
		return e.maxFeeds
	}
	return deploymentDefault
}

func (e *stubEntitlements) PremiumFetch(_ string) bool   { return e.premium }
func (e *stubEntitlements) Blacklisted(_, _ string) bool { return e.blacklisted }

type captureAnnouncer struct {
	kinds []coordinator.Kind
}

func (a *captureAnnouncer) Broadcast(_ context.Context, kind coordinator.Kind, _ any) {
	a.kinds = append(a.kinds, kind)
}

type countingAssigner struct {
	assigns int
}

func (a *countingAssigner) Assign(_ context.Context) error {
	a.assigns++
	return nil
}

func newTestService(repo *memGuildRepo, f *stubFetcher, p *stubParser, e *stubEntitlements) (*Service, *captureAnnouncer, *countingAssigner) {
	announcer := &captureAnnouncer{}
	assigner := &countingAssigner{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, f, p, e, announcer, assigner, 5, logger), announcer, assigner
}

func TestAddSourceSeedsSeenSetAndBroadcasts(t *testing.T) {
	// Arrange
	repo := newMemGuildRepo()
	parser := &stubParser{
		articles: []*entity.Article{{ID: "a1"}, {ID: "a2"}},
		title:    "Example Feed",
	}
	svc, announcer, assigner := newTestService(repo, &stubFetcher{body: []byte("feed")}, parser, &stubEntitlements{})

	// Act
	source, err := svc.AddSource(context.Background(), "g1", "c1", "https://blog.example.com/rss", "u1", "")

	// Assert
	require.NoError(t, err)
	assert.NotEmpty(t, source.ID)
	assert.Equal(t, "Example Feed", source.Title)
	assert.True(t, source.HasSeen("a1"))
	assert.True(t, source.HasSeen("a2"))

	guild, err := repo.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Len(t, guild.Sources, 1)

	assert.Equal(t, []coordinator.Kind{coordinator.KindGuildUpdate}, announcer.kinds)
	assert.Equal(t, 1, assigner.assigns)
}

func TestAddSourceRejectsInvalidFeed(t *testing.T) {
	repo := newMemGuildRepo()
	parser := &stubParser{err: errors.New("not a feed")}
	svc, announcer, _ := newTestService(repo, &stubFetcher{body: []byte("html")}, parser, &stubEntitlements{})

	_, err := svc.AddSource(context.Background(), "g1", "c1", "https://blog.example.com/", "u1", "")

	assert.Error(t, err)
	assert.Empty(t, repo.guilds, "failed add must leave no side effects")
	assert.Empty(t, announcer.kinds)
}

func TestAddSourceRejectsFetchFailure(t *testing.T) {
	repo := newMemGuildRepo()
	svc, _, _ := newTestService(repo, &stubFetcher{err: errors.New("connection refused")}, &stubParser{}, &stubEntitlements{})

	_, err := svc.AddSource(context.Background(), "g1", "c1", "https://down.example.com/rss", "u1", "")

	assert.Error(t, err)
	assert.Empty(t, repo.guilds)
}

func TestAddSourceEnforcesFeedAllowance(t *testing.T) {
	// Arrange: the guild already holds its full allowance.
	repo := newMemGuildRepo()
	guild := &entity.GuildConfig{ID: "g1", Sources: map[string]*entity.FeedSource{}}
	for i := 0; i < 2; i++ {
		id := string(rune('a' + i))
		guild.Sources[id] = &entity.FeedSource{ID: id, GuildID: "g1", URL: "https://x.example/" + id, ChannelID: "c1"}
	}
	repo.guilds["g1"] = guild

	svc, _, _ := newTestService(repo, &stubFetcher{body: []byte("feed")}, &stubParser{}, &stubEntitlements{maxFeeds: 2})

	// Act
	_, err := svc.AddSource(context.Background(), "g1", "c1", "https://new.example/rss", "u1", "")

	// Assert
	assert.ErrorIs(t, err, entity.ErrSourceLimit)
}

func TestAddSourceRejectsBlacklistedAndDuplicate(t *testing.T) {
	repo := newMemGuildRepo()
	svc, _, _ := newTestService(repo, &stubFetcher{body: []byte("feed")}, &stubParser{}, &stubEntitlements{blacklisted: true})
	_, err := svc.AddSource(context.Background(), "g1", "c1", "https://blog.example.com/rss", "u1", "")
	assert.ErrorIs(t, err, ErrBlacklisted)

	repo2 := newMemGuildRepo()
	repo2.guilds["g1"] = &entity.GuildConfig{ID: "g1", Sources: map[string]*entity.FeedSource{
		"s1": {ID: "s1", GuildID: "g1", URL: "https://blog.example.com/rss", ChannelID: "c1"},
	}}
	svc2, _, _ := newTestService(repo2, &stubFetcher{body: []byte("feed")}, &stubParser{}, &stubEntitlements{})
	_, err = svc2.AddSource(context.Background(), "g1", "c1", "https://blog.example.com/rss", "u1", "")
	assert.ErrorIs(t, err, ErrDuplicateSource)
}

func TestRemoveDisableEnableSource(t *testing.T) {
	// Arrange
	repo := newMemGuildRepo()
	repo.guilds["g1"] = &entity.GuildConfig{ID: "g1", Sources: map[string]*entity.FeedSource{
		"s1": {ID: "s1", GuildID: "g1", URL: "https://a.example/rss", ChannelID: "c1"},
		"s2": {ID: "s2", GuildID: "g1", URL: "https://b.example/rss", ChannelID: "c1"},
	}}
	svc, announcer, assigner := newTestService(repo, &stubFetcher{}, &stubParser{}, &stubEntitlements{})
	ctx := context.Background()

	// Act & Assert: disable, enable, remove.
	require.NoError(t, svc.DisableSource(ctx, "g1", "s1"))
	assert.True(t, repo.guilds["g1"].Sources["s1"].Disabled)

	// Toggling to the current state is a no-op without a broadcast.
	require.NoError(t, svc.DisableSource(ctx, "g1", "s1"))
	assert.Len(t, announcer.kinds, 1)

	require.NoError(t, svc.EnableSource(ctx, "g1", "s1"))
	assert.False(t, repo.guilds["g1"].Sources["s1"].Disabled)

	require.NoError(t, svc.RemoveSource(ctx, "g1", "s2"))
	assert.NotContains(t, repo.guilds["g1"].Sources, "s2")

	assert.Equal(t, []coordinator.Kind{
		coordinator.KindGuildDisableFeed,
		coordinator.KindGuildEnableFeed,
		coordinator.KindGuildRemoveFeed,
	}, announcer.kinds)
	assert.Equal(t, 3, assigner.assigns)

	assert.ErrorIs(t, svc.RemoveSource(ctx, "g1", "missing"), entity.ErrNotFound)
}

func TestGetPlaceholdersDoesNotTouchSeenSet(t *testing.T) {
	// Arrange
	repo := newMemGuildRepo()
	repo.guilds["g1"] = &entity.GuildConfig{ID: "g1", Sources: map[string]*entity.FeedSource{
		"s1": {ID: "s1", GuildID: "g1", URL: "https://a.example/rss", ChannelID: "c1"},
	}}
	parser := &stubParser{articles: []*entity.Article{{ID: "a1", Title: "Hello"}}}
	svc, _, _ := newTestService(repo, &stubFetcher{body: []byte("feed")}, parser, &stubEntitlements{})

	// Act
	articles, err := svc.GetPlaceholders(context.Background(), "g1", "s1")

	// Assert
	require.NoError(t, err)
	require.Len(t, articles, 1)
	assert.Equal(t, "Hello", articles[0].Title)
	assert.Empty(t, repo.guilds["g1"].Sources["s1"].SeenArticleIDs)
}
