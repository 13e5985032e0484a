package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/resilience/retry"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testArticle() *entity.Article {
	return &entity.Article{
		ID:          "a1",
		Title:       "Release notes",
		Description: "Everything that changed this week",
		Link:        "https://blog.example.com/release",
		PublishedAt: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func testSource() *entity.FeedSource {
	return &entity.FeedSource{ID: "s1", GuildID: "g1", URL: "https://blog.example.com/rss", ChannelID: "c1", Title: "Example Blog"}
}

func TestDiscordSendPostsEmbed(t *testing.T) {
	// Arrange
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	dest := NewDiscordDestination(DiscordConfig{}, StaticDirectory{"c1": server.URL}, testLogger())

	// Act
	err := dest.Send(context.Background(), "c1", testArticle(), testSource())

	// Assert
	require.NoError(t, err)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Release notes", got.Embeds[0].Title)
	assert.Equal(t, "https://blog.example.com/release", got.Embeds[0].URL)
	assert.Equal(t, "Example Blog", got.Embeds[0].Footer.Text)
	assert.Equal(t, discordBlueColor, got.Embeds[0].Color)
	assert.NotEmpty(t, got.Embeds[0].Timestamp)
}

func TestDiscordSendRetriesAfterRateLimit(t *testing.T) {
	// Arrange: first request is rate limited with a short retry_after.
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			_ = json.NewEncoder(w).Encode(errorResponse{Message: "rate limited", RetryAfter: 0.01})
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	dest := NewDiscordDestination(DiscordConfig{}, StaticDirectory{"c1": server.URL}, testLogger())

	// Act
	err := dest.Send(context.Background(), "c1", testArticle(), testSource())

	// Assert
	require.NoError(t, err)
	assert.Equal(t, int32(2), requests.Load())
}

func TestDiscordSendRetriesServerErrorsPerDeliveryPolicy(t *testing.T) {
	// Arrange: the webhook keeps answering 500.
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	dest := NewDiscordDestination(DiscordConfig{}, StaticDirectory{"c1": server.URL}, testLogger())

	// Act
	err := dest.Send(context.Background(), "c1", testArticle(), testSource())

	// Assert: attempts match the delivery retry policy, then give up.
	require.Error(t, err)
	var serverErr *ServerError
	assert.ErrorAs(t, err, &serverErr)
	assert.Equal(t, int32(retry.DeliveryConfig().MaxAttempts), requests.Load())
}

func TestDiscordSendDoesNotRetryClientErrors(t *testing.T) {
	// Arrange
	var requests atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	dest := NewDiscordDestination(DiscordConfig{}, StaticDirectory{"c1": server.URL}, testLogger())

	// Act
	err := dest.Send(context.Background(), "c1", testArticle(), testSource())

	// Assert
	require.Error(t, err)
	var clientErr *ClientError
	assert.ErrorAs(t, err, &clientErr)
	assert.Equal(t, int32(1), requests.Load(), "client errors must not be retried")
}

func TestDiscordReachabilityFollowsDirectory(t *testing.T) {
	dest := NewDiscordDestination(DiscordConfig{}, StaticDirectory{"c1": "https://discord.example/hook"}, testLogger())

	assert.True(t, dest.IsReachable(context.Background(), "c1"))
	assert.False(t, dest.IsReachable(context.Background(), "c2"))

	err := dest.Send(context.Background(), "c2", testArticle(), testSource())
	var clientErr *ClientError
	assert.ErrorAs(t, err, &clientErr)
}

func TestDiscordSendText(t *testing.T) {
	// Arrange
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	dest := NewDiscordDestination(DiscordConfig{}, StaticDirectory{"c1": server.URL}, testLogger())

	// Act
	err := dest.SendText(context.Background(), "c1", "link suspended")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "link suspended", got.Content)
	assert.Empty(t, got.Embeds)
}

func TestTruncateRespectsLimits(t *testing.T) {
	long := make([]byte, maxDescriptionLength+100)
	for i := range long {
		long[i] = 'x'
	}

	out := truncate(string(long), maxDescriptionLength, truncationSuffix)
	assert.Len(t, out, maxDescriptionLength)
	assert.Equal(t, truncationSuffix, out[len(out)-len(truncationSuffix):])

	assert.Equal(t, "short", truncate("short", maxDescriptionLength, truncationSuffix))
}
