package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
)

type stubGuildRepo struct {
	guilds []*entity.GuildConfig
	err    error
}

func (r *stubGuildRepo) Get(_ context.Context, _ string) (*entity.GuildConfig, error) {
	return nil, entity.ErrNotFound
}

func (r *stubGuildRepo) List(_ context.Context) ([]*entity.GuildConfig, error) {
	return r.guilds, r.err
}

func (r *stubGuildRepo) Update(_ context.Context, _ *entity.GuildConfig) error { return nil }
func (r *stubGuildRepo) Remove(_ context.Context, _ string) error              { return nil }
func (r *stubGuildRepo) UpdateSource(_ context.Context, _ string, _ *entity.FeedSource) error {
	return nil
}

type captureSender struct {
	mu       sync.Mutex
	channels []string
}

func (s *captureSender) SendText(_ context.Context, channelID, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.channels = append(s.channels, channelID)
	return nil
}

func TestLinkAlerterNotifiesEachChannelOnce(t *testing.T) {
	// Arrange: two guilds subscribe the same URL, one channel twice.
	repo := &stubGuildRepo{guilds: []*entity.GuildConfig{
		{
			ID: "g1",
			Sources: map[string]*entity.FeedSource{
				"s1": {ID: "s1", GuildID: "g1", URL: "https://dead.example/feed", ChannelID: "c1"},
				"s2": {ID: "s2", GuildID: "g1", URL: "https://dead.example/feed", ChannelID: "c1"},
				"s3": {ID: "s3", GuildID: "g1", URL: "https://alive.example/feed", ChannelID: "c2"},
			},
		},
		{
			ID: "g2",
			Sources: map[string]*entity.FeedSource{
				"s4": {ID: "s4", GuildID: "g2", URL: "https://dead.example/feed", ChannelID: "c3"},
			},
		},
	}}
	sender := &captureSender{}
	alerter := NewLinkAlerter(repo, sender, testLogger())

	// Act
	alerter.Alert(context.Background(), "https://dead.example/feed", "link suspended")

	// Assert
	assert.ElementsMatch(t, []string{"c1", "c3"}, sender.channels)
}

func TestLinkAlerterToleratesStoreFailure(t *testing.T) {
	alerter := NewLinkAlerter(&stubGuildRepo{err: errors.New("store down")}, &captureSender{}, testLogger())

	// Must not panic or propagate.
	alerter.Alert(context.Background(), "https://dead.example/feed", "link suspended")
}
