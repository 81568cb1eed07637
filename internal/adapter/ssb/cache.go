package ssb

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Fetcher returns a population CSV body.
type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

// CachedFetcher keeps the last successful download for ttl so that repeated
// runs in watch mode do not hit the remote endpoint every time.
type CachedFetcher struct {
	inner Fetcher
	ttl   time.Duration
	clock clockwork.Clock

	mu        sync.Mutex
	body      []byte
	fetchedAt time.Time
}

// NewCachedFetcher wraps inner with a single-entry cache.
func NewCachedFetcher(inner Fetcher, ttl time.Duration, clock clockwork.Clock) *CachedFetcher {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CachedFetcher{inner: inner, ttl: ttl, clock: clock}
}

func (c *CachedFetcher) Fetch(ctx context.Context) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.body != nil && c.clock.Since(c.fetchedAt) < c.ttl {
		return c.body, nil
	}
	body, err := c.inner.Fetch(ctx)
	if err != nil {
		// Failed downloads are not cached so the next run retries.
		return nil, err
	}
	c.body = body
	c.fetchedAt = c.clock.Now()
	return body, nil
}
