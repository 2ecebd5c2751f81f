package feed

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rewired-gh/restockoracle/internal/logger"
	"github.com/rewired-gh/restockoracle/internal/models"
)

// ClientConfig holds retry settings for the live feed.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
}

// Client polls a live restock feed
type Client struct {
	url        string
	httpClient *http.Client
	config     ClientConfig
}

// NewClient creates a new feed client
func NewClient(url string, timeout time.Duration, config ClientConfig) *Client {
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.RetryDelayBase <= 0 {
		config.RetryDelayBase = time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		config: config,
	}
}

// FetchEvents retrieves the current observations from the feed. Records
// without a source are tagged as live.
func (c *Client) FetchEvents(ctx context.Context) ([]models.RestockEvent, []ImportError, error) {
	resp, err := c.doRequest(ctx, c.url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer resp.Body.Close()

	events, rejected, err := parse(resp.Body, models.SourceLive)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode events: %w", err)
	}
	return events, rejected, nil
}

// doRequest performs HTTP request with retry logic. Network errors and 5xx
// responses are retried with linear backoff; other non-2xx statuses fail
// immediately.
func (c *Client) doRequest(ctx context.Context, url string) (*http.Response, error) {
	var lastErr error

	for i := 0; i < c.config.MaxRetries; i++ {
		if i > 0 {
			if err := sleep(ctx, c.config.RetryDelayBase*time.Duration(i)); err != nil {
				return nil, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			logger.Debug("Feed request attempt %d/%d failed: %v", i+1, c.config.MaxRetries, err)
			continue
		}

		if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			logger.Debug("Feed request attempt %d/%d failed: %v", i+1, c.config.MaxRetries, lastErr)
			continue
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		}

		return resp, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
