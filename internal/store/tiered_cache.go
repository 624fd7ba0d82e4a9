package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Counter names recorded by TieredCache
const (
	CounterCacheHits   = "cache_hits"
	CounterCacheMisses = "cache_misses"
)

// Tier is one cache layer, consulted in order
type Tier struct {
	Name  string
	Store KVStore
	TTL   time.Duration
}

// TieredCache layers fast local tiers over slower shared ones. A hit in a
// lower tier is copied into every tier above it.
type TieredCache struct {
	prefix   string
	tiers    []Tier
	recorder CounterRecorder
	logger   *zap.Logger
}

// NewTieredCache creates a cache over tiers; keys are namespaced by prefix
func NewTieredCache(prefix string, tiers []Tier, recorder CounterRecorder, logger *zap.Logger) *TieredCache {
	return &TieredCache{
		prefix:   prefix,
		tiers:    tiers,
		recorder: recorder,
		logger:   logger,
	}
}

// Tiers returns the configured tiers
func (c *TieredCache) Tiers() []Tier {
	return c.tiers
}

// Get returns the cached value and the name of the tier that served it.
// Tier errors other than ErrNotFound are logged and treated as misses.
func (c *TieredCache) Get(ctx context.Context, key string) ([]byte, string, error) {
	fullKey := c.prefix + key

	for i, tier := range c.tiers {
		data, err := tier.Store.Get(ctx, fullKey)
		if err == nil {
			c.count(tier.Name, true)
			c.backfill(ctx, fullKey, data, i)
			return data, tier.Name, nil
		}
		if !errors.Is(err, ErrNotFound) {
			c.logger.Warn("Cache tier read failed",
				zap.String("tier", tier.Name),
				zap.String("key", fullKey),
				zap.Error(err))
		}
		c.count(tier.Name, false)
	}

	return nil, "", ErrNotFound
}

func (c *TieredCache) backfill(ctx context.Context, fullKey string, data []byte, hitIndex int) {
	for j := 0; j < hitIndex; j++ {
		tier := c.tiers[j]
		if err := tier.Store.Set(ctx, fullKey, data, tier.TTL); err != nil {
			c.logger.Warn("Cache backfill failed",
				zap.String("tier", tier.Name),
				zap.String("key", fullKey),
				zap.Error(err))
		}
	}
}

// Set writes the value into every tier
func (c *TieredCache) Set(ctx context.Context, key string, value []byte) PersistResult {
	return c.apply(key, func(tier Tier, fullKey string) error {
		return tier.Store.Set(ctx, fullKey, value, tier.TTL)
	})
}

// Invalidate removes the key from every tier
func (c *TieredCache) Invalidate(ctx context.Context, key string) PersistResult {
	return c.apply(key, func(tier Tier, fullKey string) error {
		return tier.Store.Delete(ctx, fullKey)
	})
}

func (c *TieredCache) apply(key string, op func(Tier, string) error) PersistResult {
	fullKey := c.prefix + key
	var errs []error
	for _, tier := range c.tiers {
		if err := op(tier, fullKey); err != nil {
			errs = append(errs, fmt.Errorf("tier %s: %w", tier.Name, err))
		}
	}

	switch {
	case len(errs) == 0:
		return Persisted()
	case len(errs) == len(c.tiers):
		return Failed(errors.Join(errs...))
	default:
		return Degraded(errors.Join(errs...))
	}
}

func (c *TieredCache) count(tier string, hit bool) {
	if c.recorder == nil {
		return
	}
	if hit {
		c.recorder.IncrementCounter(CounterCacheHits, 1)
		c.recorder.IncrementCounter("cache_"+tier+"_hits", 1)
		return
	}
	c.recorder.IncrementCounter("cache_"+tier+"_misses", 1)
	// A request is a miss only when the last tier misses
	if tier == c.tiers[len(c.tiers)-1].Name {
		c.recorder.IncrementCounter(CounterCacheMisses, 1)
	}
}
