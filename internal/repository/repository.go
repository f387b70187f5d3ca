package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
)

//go:generate mockgen -source=repository.go -destination=mock_repository.go -package=repository

// AuctionDB defines the auction store and bid ledger used by the bidding engine
type AuctionDB interface {
	CreateAuction(ctx context.Context, auction model.Auction) error
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	ListDueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error)
	GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	GetRegistration(ctx context.Context, auctionID, bidderID string) (model.ProxyBidRegistration, bool, error)
	GetActiveRegistrations(ctx context.Context, auctionID string) ([]model.ProxyBidRegistration, error)
	Commit(ctx context.Context, m Mutation) ([]model.Bid, error)
}

// Mutation is everything one per-auction operation changes. It is applied
// all-or-nothing by Commit.
type Mutation struct {
	// Auction is the complete new state of the auction row
	Auction model.Auction
	// NewBids are appended to the ledger in order; Seq is assigned on commit
	NewBids []model.Bid
	// ClearWinning flips every existing ledger row to IsWinning=false before
	// NewBids are appended
	ClearWinning bool
	// Registrations are upserted by (AuctionID, BidderID)
	Registrations []model.ProxyBidRegistration
}

type registrationKey struct {
	auctionID string
	bidderID  string
}

// MemoryRepo is a concurrency-safe in-memory implementation of AuctionDB
type MemoryRepo struct {
	mu            sync.RWMutex
	auctions      map[string]model.Auction                       // key: auctionID
	bids          map[string][]model.Bid                         // key: auctionID -> ledger in Seq order
	registrations map[registrationKey]model.ProxyBidRegistration // key: (auctionID, bidderID)
	userAuctions  map[string][]string                            // key: userID -> auctionIDs bid on
}

// NewMemoryRepo creates a new in-memory repository instance
func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		auctions:      make(map[string]model.Auction),
		bids:          make(map[string][]model.Bid),
		registrations: make(map[registrationKey]model.ProxyBidRegistration),
		userAuctions:  make(map[string][]string),
	}
}

// CreateAuction stores a new auction
func (r *MemoryRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w", biddingerrors.ErrInvalidAuction)
	}
	if _, ok := r.auctions[auction.AuctionID]; ok {
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, biddingerrors.ErrAuctionExists)
	}
	r.auctions[auction.AuctionID] = auction
	return nil
}

// GetAuction returns the current state of an auction
func (r *MemoryRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auction, ok := r.auctions[auctionID]
	if !ok {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	return auction, nil
}

// ListDueAuctions returns active auctions whose end time is at or before now
func (r *MemoryRepo) ListDueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	due := make([]model.Auction, 0)
	for _, a := range r.auctions {
		if a.Status == model.StatusActive && !a.EndTime.After(now) {
			due = append(due, a)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].EndTime.Before(due[j].EndTime) })
	return due, nil
}

// GetBidsByAuction returns the ledger of an auction in Seq order
func (r *MemoryRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	bids := r.bids[auctionID]
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return append([]model.Bid(nil), bids...), nil
}

// GetWinningBid returns the ledger row currently flagged winning
func (r *MemoryRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	winning, ok := lo.Find(r.bids[auctionID], func(b model.Bid) bool { return b.IsWinning })
	if !ok {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return winning, nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MemoryRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	auctionIDs, ok := r.userAuctions[userID]
	if !ok || len(auctionIDs) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}

	auctions := make([]model.Auction, 0, len(auctionIDs))
	for _, id := range auctionIDs {
		if auction, exists := r.auctions[id]; exists {
			auctions = append(auctions, auction)
		}
	}
	return auctions, nil
}

// GetRegistration returns the proxy registration of a bidder, if any
func (r *MemoryRepo) GetRegistration(ctx context.Context, auctionID, bidderID string) (model.ProxyBidRegistration, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.registrations[registrationKey{auctionID: auctionID, bidderID: bidderID}]
	return reg, ok, nil
}

// GetActiveRegistrations returns the active proxy registrations of an auction, oldest first
func (r *MemoryRepo) GetActiveRegistrations(ctx context.Context, auctionID string) ([]model.ProxyBidRegistration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	active := lo.Filter(lo.Values(r.registrations), func(reg model.ProxyBidRegistration, _ int) bool {
		return reg.AuctionID == auctionID && reg.IsActive
	})
	sort.Slice(active, func(i, j int) bool { return active[i].CreatedAt.Before(active[j].CreatedAt) })
	return active, nil
}

// Commit applies a mutation atomically and returns the appended bids with their Seq
func (r *MemoryRepo) Commit(ctx context.Context, m Mutation) ([]model.Bid, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	auctionID := m.Auction.AuctionID
	if _, ok := r.auctions[auctionID]; !ok {
		return nil, fmt.Errorf("commit auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	// build the new ledger off to the side so a failure leaves nothing applied
	ledger := append([]model.Bid(nil), r.bids[auctionID]...)
	if m.ClearWinning {
		for i := range ledger {
			ledger[i].IsWinning = false
		}
	}

	appended := make([]model.Bid, 0, len(m.NewBids))
	for _, b := range m.NewBids {
		if b.AuctionID != auctionID {
			return nil, fmt.Errorf("commit auction %s: bid %s targets %s: %w", auctionID, b.BidID, b.AuctionID, biddingerrors.ErrInvalidBid)
		}
		b.Seq = int64(len(ledger)) + 1
		ledger = append(ledger, b)
		appended = append(appended, b)
	}

	r.auctions[auctionID] = m.Auction
	r.bids[auctionID] = ledger
	for _, reg := range m.Registrations {
		r.registrations[registrationKey{auctionID: reg.AuctionID, bidderID: reg.BidderID}] = reg
	}
	for _, b := range appended {
		if !lo.Contains(r.userAuctions[b.BidderID], auctionID) {
			r.userAuctions[b.BidderID] = append(r.userAuctions[b.BidderID], auctionID)
		}
	}

	return appended, nil
}

// AddAuction adds an auction to the repository. Used for seeding and tests.
func (r *MemoryRepo) AddAuction(auction model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.auctions[auction.AuctionID] = auction
}

var _ AuctionDB = (*MemoryRepo)(nil)
