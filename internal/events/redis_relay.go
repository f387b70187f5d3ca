package events

import (
	"context"
	"encoding/json"
	"time"

	model "auction-engine/internal/models"
	"auction-engine/utils"

	"github.com/redis/go-redis/v9"
)

const defaultChannelPrefix = "auction:"

// RedisRelay republishes engine events on a Redis channel per auction so
// other instances and services can follow them
type RedisRelay struct {
	client  redis.UniversalClient
	prefix  string
	timeout time.Duration
}

// NewRedisRelay creates a relay publishing to "<prefix><auctionID>"; an empty
// prefix uses "auction:"
func NewRedisRelay(client redis.UniversalClient, prefix string) *RedisRelay {
	if prefix == "" {
		prefix = defaultChannelPrefix
	}
	return &RedisRelay{client: client, prefix: prefix, timeout: 2 * time.Second}
}

// Channel returns the Redis channel carrying the events of auctionID
func (r *RedisRelay) Channel(auctionID string) string {
	return r.prefix + auctionID
}

// Publish sends event as JSON. Failures are logged; delivery is best effort.
func (r *RedisRelay) Publish(ctx context.Context, event model.Event) {
	payload, err := json.Marshal(event)
	if err != nil {
		utils.Error("events: failed to encode event", map[string]any{"auction_id": event.AuctionID, "error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.client.Publish(ctx, r.Channel(event.AuctionID), payload).Err(); err != nil {
		utils.Warn("events: redis publish failed", map[string]any{
			"auction_id": event.AuctionID,
			"type":       string(event.Type),
			"error":      err.Error(),
		})
	}
}
