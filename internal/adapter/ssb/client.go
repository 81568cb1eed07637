package ssb

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// maxBodyBytes bounds a population download. The full municipality table is
// a few megabytes.
const maxBodyBytes = 64 << 20

// Client downloads the population table from Statistics Norway.
type Client struct {
	url        string
	httpClient *http.Client
	maxBody    int64
	logger     *slog.Logger
}

// NewClient creates a population client for the given dataset URL.
func NewClient(url string, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		maxBody: maxBodyBytes,
		logger:  logger,
	}
}

// Fetch returns the raw CSV body of the population dataset.
func (c *Client) Fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/csv")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("population request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("population API error: status %d: %s", resp.StatusCode, body)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("read population body: %w", err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("population body exceeds %d bytes", c.maxBody)
	}
	c.logger.Info("population downloaded",
		"url", c.url,
		"bytes", len(body),
		"duration", time.Since(start),
	)
	return body, nil
}
