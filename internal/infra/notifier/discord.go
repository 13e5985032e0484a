package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/synzen/Discord.RSS/internal/domain/entity"
	"github.com/synzen/Discord.RSS/internal/resilience/retry"
)

const (
	// Discord embed limits.
	maxTitleLength       = 256
	maxDescriptionLength = 4096
	truncationSuffix     = "..."

	// Discord blue (#5865F2).
	discordBlueColor = 5793266

	// Discord webhook limit: 30 requests per minute.
	webhookRequestsPerSecond = 0.5
	webhookBurst             = 3

	defaultSendTimeout = 10 * time.Second
)

// DiscordConfig configures the webhook destination.
type DiscordConfig struct {
	// Timeout is the HTTP request timeout per webhook call.
	Timeout time.Duration
}

// DiscordDestination posts rendered articles to Discord channel webhooks.
type DiscordDestination struct {
	config     DiscordConfig
	directory  Directory
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewDiscordDestination creates a destination resolving channels through the
// directory.
func NewDiscordDestination(config DiscordConfig, directory Directory, logger *slog.Logger) *DiscordDestination {
	if config.Timeout <= 0 {
		config.Timeout = defaultSendTimeout
	}
	return &DiscordDestination{
		config:     config,
		directory:  directory,
		httpClient: &http.Client{Timeout: config.Timeout},
		limiter:    rate.NewLimiter(rate.Limit(webhookRequestsPerSecond), webhookBurst),
		logger:     logger,
	}
}

// webhookPayload is the JSON body posted to Discord webhooks.
type webhookPayload struct {
	Content string  `json:"content,omitempty"`
	Embeds  []embed `json:"embeds,omitempty"`
}

type embed struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Color       int         `json:"color"`
	Footer      embedFooter `json:"footer"`
	Timestamp   string      `json:"timestamp,omitempty"`
}

type embedFooter struct {
	Text string `json:"text"`
}

// errorResponse is the error body Discord returns, including the 429
// retry_after in seconds.
type errorResponse struct {
	Message    string  `json:"message"`
	Code       int     `json:"code"`
	RetryAfter float64 `json:"retry_after"`
}

// IsReachable reports whether the channel has a webhook configured.
func (d *DiscordDestination) IsReachable(_ context.Context, channelID string) bool {
	_, ok := d.directory.WebhookFor(channelID)
	return ok
}

// Send posts one article to the channel's webhook, with rate limiting and
// retries on transient failures.
func (d *DiscordDestination) Send(ctx context.Context, channelID string, article *entity.Article, source *entity.FeedSource) error {
	url, ok := d.directory.WebhookFor(channelID)
	if !ok {
		return &ClientError{StatusCode: http.StatusNotFound,
			Message: fmt.Sprintf("no webhook configured for channel %s", channelID)}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return d.postWithRetry(ctx, url, buildArticlePayload(article, source))
}

// SendText posts a plain-text notice to the channel, used for link
// suspension alerts.
func (d *DiscordDestination) SendText(ctx context.Context, channelID, content string) error {
	url, ok := d.directory.WebhookFor(channelID)
	if !ok {
		return &ClientError{StatusCode: http.StatusNotFound,
			Message: fmt.Sprintf("no webhook configured for channel %s", channelID)}
	}

	if err := d.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}
	return d.postWithRetry(ctx, url, webhookPayload{Content: content})
}

func buildArticlePayload(article *entity.Article, source *entity.FeedSource) webhookPayload {
	e := embed{
		Title:       truncate(article.Title, maxTitleLength, truncationSuffix),
		Description: truncate(article.Description, maxDescriptionLength, truncationSuffix),
		URL:         article.Link,
		Color:       discordBlueColor,
		Footer:      embedFooter{Text: source.Title},
	}
	if !article.PublishedAt.IsZero() {
		e.Timestamp = article.PublishedAt.Format(time.RFC3339)
	}
	return webhookPayload{Embeds: []embed{e}}
}

// post sends one webhook request and classifies the response.
func (d *DiscordDestination) post(ctx context.Context, url string, payload webhookPayload) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("execute http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitError{
			Message:    "webhook rate limit exceeded",
			RetryAfter: extractRetryAfter(resp, body),
		}
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return &ClientError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook client error: %s", string(body)),
		}
	case resp.StatusCode >= 500:
		return &ServerError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("webhook server error: %s", string(body)),
		}
	}
	return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, string(body))
}

// extractRetryAfter reads the retry delay from the JSON body, falling back to
// the Retry-After header and then a 5s default.
func extractRetryAfter(resp *http.Response, body []byte) time.Duration {
	var discordErr errorResponse
	if err := json.Unmarshal(body, &discordErr); err == nil && discordErr.RetryAfter > 0 {
		return time.Duration(discordErr.RetryAfter * float64(time.Second))
	}
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return 5 * time.Second
}

// postWithRetry retries transient failures with the delivery retry policy.
// 429s wait for the retry_after Discord reports; 5xx and network errors back
// off exponentially; 4xx fails immediately.
func (d *DiscordDestination) postWithRetry(ctx context.Context, url string, payload webhookPayload) error {
	cfg := retry.DeliveryConfig()

	var lastErr error
	delay := cfg.InitialDelay
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		err := d.post(ctx, url, payload)
		if err == nil {
			return nil
		}
		lastErr = err

		if rateLimitErr, ok := is429Error(err); ok {
			d.logger.Warn("webhook rate limit hit, backing off",
				slog.Duration("retry_after", rateLimitErr.RetryAfter),
				slog.Int("attempt", attempt))
			select {
			case <-time.After(rateLimitErr.RetryAfter):
				continue
			case <-ctx.Done():
				return fmt.Errorf("context canceled during rate limit backoff: %w", ctx.Err())
			}
		}

		if !isRetryableError(err) {
			return err
		}

		if attempt < cfg.MaxAttempts {
			d.logger.Warn("webhook request failed, retrying",
				slog.Any("error", err),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("context canceled during retry backoff: %w", ctx.Err())
			}
			delay = time.Duration(float64(delay) * cfg.Multiplier)
			if delay > cfg.MaxDelay {
				delay = cfg.MaxDelay
			}
		}
	}
	return fmt.Errorf("webhook delivery failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}
