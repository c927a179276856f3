package translate

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

const defaultCacheTTL = 15 * time.Minute

// Cached wraps a Translator with a TTL cache keyed by language pair and
// text. Repeated utterances in a conversation skip the provider round-trip.
type Cached struct {
	inner Translator
	cache *ttlcache.Cache[string, string]
}

func NewCached(inner Translator, ttl time.Duration) *Cached {
	if ttl == 0 {
		ttl = defaultCacheTTL
	}
	cache := ttlcache.New[string, string](
		ttlcache.WithTTL[string, string](ttl),
	)
	go cache.Start()
	return &Cached{
		inner: inner,
		cache: cache,
	}
}

func (c *Cached) Translate(ctx context.Context, text, source, target string) (string, error) {
	key := source + "|" + target + "|" + text
	if item := c.cache.Get(key); item != nil {
		return item.Value(), nil
	}
	out, err := c.inner.Translate(ctx, text, source, target)
	if err != nil {
		return "", err
	}
	c.cache.Set(key, out, ttlcache.DefaultTTL)
	return out, nil
}

func (c *Cached) Stop() {
	c.cache.Stop()
}
