// Package cache holds derived auction views for the read path
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	model "auction-engine/internal/models"

	gocache "github.com/patrickmn/go-cache"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no view is cached for an auction
var ErrCacheMiss = errors.New("cache miss")

// DefaultTTL bounds how long a view may be served without invalidation
const DefaultTTL = 30 * time.Second

// MemoryViewCache is an in-process view cache for single-instance deployments
type MemoryViewCache struct {
	items *gocache.Cache
}

// NewMemoryViewCache creates a cache whose entries expire after ttl
func NewMemoryViewCache(ttl time.Duration) *MemoryViewCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryViewCache{items: gocache.New(ttl, 2*ttl)}
}

func (c *MemoryViewCache) Get(ctx context.Context, auctionID string) (model.Auction, error) {
	v, found := c.items.Get(auctionID)
	if !found {
		return model.Auction{}, ErrCacheMiss
	}
	return v.(model.Auction), nil
}

func (c *MemoryViewCache) Set(ctx context.Context, auction model.Auction) error {
	c.items.Set(auction.AuctionID, auction, gocache.DefaultExpiration)
	return nil
}

func (c *MemoryViewCache) Invalidate(ctx context.Context, auctionID string) error {
	c.items.Delete(auctionID)
	return nil
}

// RedisViewCache shares auction views between instances through Redis
type RedisViewCache struct {
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
}

// NewRedisViewCache creates a Redis-backed view cache
func NewRedisViewCache(client redis.UniversalClient, ttl time.Duration) *RedisViewCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisViewCache{client: client, ttl: ttl, keyPrefix: "auction:view:"}
}

func (c *RedisViewCache) key(auctionID string) string {
	return c.keyPrefix + auctionID
}

func (c *RedisViewCache) Get(ctx context.Context, auctionID string) (model.Auction, error) {
	data, err := c.client.Get(ctx, c.key(auctionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Auction{}, ErrCacheMiss
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("cache get %s: %w", auctionID, err)
	}

	var auction model.Auction
	if err := json.Unmarshal(data, &auction); err != nil {
		return model.Auction{}, fmt.Errorf("cache decode %s: %w", auctionID, err)
	}
	return auction, nil
}

func (c *RedisViewCache) Set(ctx context.Context, auction model.Auction) error {
	data, err := json.Marshal(auction)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", auction.AuctionID, err)
	}
	return c.client.Set(ctx, c.key(auction.AuctionID), data, c.ttl).Err()
}

func (c *RedisViewCache) Invalidate(ctx context.Context, auctionID string) error {
	return c.client.Del(ctx, c.key(auctionID)).Err()
}
