package scraper

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/tbourn/go-deepsearch/internal/cache"
	"github.com/tbourn/go-deepsearch/internal/observability"
)

// JSONStore is the subset of *cache.Store used by Cached.
type JSONStore interface {
	GetJSON(ctx context.Context, key string, dst any) error
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Cached is a cache-aside decorator over a Fetcher. Identical URL lists
// (same order) within TTL are answered from the store. Store failures are
// logged and fall through to the underlying fetcher.
type Cached struct {
	Next  Fetcher
	Store JSONStore
	TTL   time.Duration
}

// CacheKey derives the store key for an ordered URL list.
func CacheKey(urls []string) string {
	sum := sha256.Sum256([]byte(strings.Join(urls, "\n")))
	return "scrape:" + hex.EncodeToString(sum[:])
}

// Scrape implements Fetcher.
func (c *Cached) Scrape(ctx context.Context, urls []string) (Batch, error) {
	key := CacheKey(urls)
	lg := zerolog.Ctx(ctx)

	var hit Batch
	switch err := c.Store.GetJSON(ctx, key, &hit); {
	case err == nil:
		observability.ScrapeCache.WithLabelValues("hit").Inc()
		return hit, nil
	case errors.Is(err, cache.ErrMiss):
		observability.ScrapeCache.WithLabelValues("miss").Inc()
	default:
		observability.ScrapeCache.WithLabelValues("error").Inc()
		lg.Warn().Err(err).Str("key", key).Msg("scrape cache read failed")
	}

	b, err := c.Next.Scrape(ctx, urls)
	if err != nil {
		return b, err
	}
	// Partial batches are not cached so transient failures are retried.
	if b.Success {
		if err := c.Store.SetJSON(ctx, key, b, c.TTL); err != nil {
			lg.Warn().Err(err).Str("key", key).Msg("scrape cache write failed")
		}
	}
	return b, nil
}
