package bidding

import (
	"context"

	model "auction-engine/internal/models"
)

//go:generate mockgen -source=collaborators.go -destination=mock_collaborators.go -package=bidding

// Broadcaster fans engine events out to observers. Publish must not block on
// delivery; it is always called after the per-auction section is released.
type Broadcaster interface {
	Publish(ctx context.Context, event model.Event)
}

// SettlementSink receives the order-creation signal of a sold auction
type SettlementSink interface {
	CreateOrder(ctx context.Context, order model.Order) error
}

// ViewCache holds derived auction views; every committed mutation invalidates
// the auction's entry
type ViewCache interface {
	Get(ctx context.Context, auctionID string) (model.Auction, error)
	Set(ctx context.Context, auction model.Auction) error
	Invalidate(ctx context.Context, auctionID string) error
}

type noopBroadcaster struct{}

func (noopBroadcaster) Publish(context.Context, model.Event) {}

type noopSettlement struct{}

func (noopSettlement) CreateOrder(context.Context, model.Order) error { return nil }

type noopViewCache struct{}

func (noopViewCache) Get(context.Context, string) (model.Auction, error) {
	return model.Auction{}, errCacheDisabled
}

func (noopViewCache) Set(context.Context, model.Auction) error { return nil }

func (noopViewCache) Invalidate(context.Context, string) error { return nil }
