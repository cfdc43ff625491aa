package items

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cacheKeyPrefix = "items:lookup:"

// Cache wraps Redis based caching of item lookups. A nil Cache (or one built
// on a nil client) is a no-op, so the service degrades gracefully without Redis.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Get returns the cached item for code, reporting whether it was present.
func (c *Cache) Get(ctx context.Context, code string) (Item, bool, error) {
	if c == nil || c.client == nil {
		return Item{}, false, nil
	}
	raw, err := c.client.Get(ctx, cacheKeyPrefix+code).Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, false, nil
	}
	if err != nil {
		return Item{}, false, err
	}
	var it Item
	if err := json.Unmarshal(raw, &it); err != nil {
		return Item{}, false, err
	}
	return it, true, nil
}

// Set stores the item under its code.
func (c *Cache) Set(ctx context.Context, it Item) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(it)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKeyPrefix+it.Code, raw, c.ttl).Err()
}

// Invalidate drops the cached entry for code.
func (c *Cache) Invalidate(ctx context.Context, code string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, cacheKeyPrefix+code).Err()
}
