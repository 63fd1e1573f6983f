package location

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"vectra/internal/kv"
)

// CacheKey is the key a resolution for id is cached under.
func CacheKey(id string) string {
	return "loc:" + id
}

// Cache is a non-authoritative read-through layer; a miss is never an error.
type Cache struct {
	store kv.Store
	ttl   time.Duration
}

func NewCache(store kv.Store, ttl time.Duration) *Cache {
	return &Cache{store: store, ttl: ttl}
}

// Get reports ok=false on a miss. Undecodable entries are treated as misses
// and reported through err.
func (c *Cache) Get(ctx context.Context, id string) (res Resolution, ok bool, err error) {
	raw, err := c.store.Get(ctx, CacheKey(id))
	if errors.Is(err, kv.ErrMiss) {
		return Resolution{}, false, nil
	}
	if err != nil {
		return Resolution{}, false, err
	}
	if err := json.Unmarshal(raw, &res); err != nil {
		return Resolution{}, false, fmt.Errorf("decode cached %s: %w", id, err)
	}
	return res, true, nil
}

// Put caches r with the default TTL.
func (c *Cache) Put(ctx context.Context, r Resolution) error {
	return c.PutWithTTL(ctx, r, c.ttl)
}

func (c *Cache) PutWithTTL(ctx context.Context, r Resolution, ttl time.Duration) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return err
	}
	return c.store.Set(ctx, CacheKey(r.AddressID), raw, ttl)
}

// PutMany writes every resolution in pipelined chunks.
func (c *Cache) PutMany(ctx context.Context, rs []Resolution, ttl time.Duration) error {
	entries := make([]kv.Entry, 0, len(rs))
	for _, r := range rs {
		raw, err := json.Marshal(r)
		if err != nil {
			return err
		}
		entries = append(entries, kv.Entry{Key: CacheKey(r.AddressID), Value: raw})
	}
	return c.store.SetMany(ctx, entries, ttl)
}
