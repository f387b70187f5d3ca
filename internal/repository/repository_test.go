package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

// Helper to create a new active auction
func newAuction(auctionID string, endTime time.Time) model.Auction {
	return model.Auction{
		AuctionID:     auctionID,
		SellerID:      "seller",
		Title:         "Auction " + auctionID,
		Description:   fmt.Sprintf("%s description", auctionID),
		StartingPrice: dec("50"),
		CurrentPrice:  dec("50"),
		MinIncrement:  dec("1"),
		EndTime:       endTime,
		Status:        model.StatusActive,
		CreatedAt:     t0,
		UpdatedAt:     t0,
	}
}

// Helper to create a new Bid
func newBid(bidID, auctionID, bidderID, amount string, winning bool) model.Bid {
	return model.Bid{
		BidID:     bidID,
		AuctionID: auctionID,
		BidderID:  bidderID,
		Amount:    dec(amount),
		MaxAmount: dec(amount),
		IsWinning: winning,
		CreatedAt: t0,
	}
}

// repoFactories runs every contract test against both stores
var repoFactories = []struct {
	name string
	new  func(t *testing.T) AuctionDB
}{
	{name: "memory", new: func(t *testing.T) AuctionDB { return NewMemoryRepo() }},
	{name: "sqlite", new: func(t *testing.T) AuctionDB {
		db, err := OpenSQLite(filepath.Join(t.TempDir(), "auctions.db"))
		require.NoError(t, err)
		repo, err := NewSQLiteRepo(db)
		require.NoError(t, err)
		t.Cleanup(func() { _ = repo.Close() })
		return repo
	}},
}

func forEachRepo(t *testing.T, fn func(t *testing.T, repo AuctionDB)) {
	for _, f := range repoFactories {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Parallel()
			fn(t, f.new(t))
		})
	}
}

// placeBid commits a bid the way the engine does: the new bid becomes the
// only winning row
func placeBid(t *testing.T, repo AuctionDB, bid model.Bid) model.Bid {
	t.Helper()
	ctx := context.Background()

	auction, err := repo.GetAuction(ctx, bid.AuctionID)
	require.NoError(t, err)
	auction.CurrentPrice = bid.Amount
	auction.LeaderID = bid.BidderID
	auction.BidCount++

	committed, err := repo.Commit(ctx, Mutation{Auction: auction, NewBids: []model.Bid{bid}, ClearWinning: true})
	require.NoError(t, err)
	require.Len(t, committed, 1)
	return committed[0]
}

// Test CreateAuction and GetAuction
func TestRepo_CreateAndGetAuction(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()

		reserve := dec("200")
		a := newAuction("a1", t0.Add(time.Hour))
		a.ReservePrice = &reserve
		require.NoError(t, repo.CreateAuction(ctx, a))

		got, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, a, got)
		require.Nil(t, got.BuyNowPrice)

		tests := []struct {
			name        string
			auction     model.Auction
			expectedErr error
		}{
			{name: "duplicate_id", auction: a, expectedErr: biddingerrors.ErrAuctionExists},
			{name: "empty_id", auction: newAuction("", t0), expectedErr: biddingerrors.ErrInvalidAuction},
		}
		for _, tc := range tests {
			err := repo.CreateAuction(ctx, tc.auction)
			require.ErrorIs(t, err, tc.expectedErr, tc.name)
		}

		_, err = repo.GetAuction(ctx, "missing")
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
	})
}

// Test Commit
func TestRepo_Commit(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()
		require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", t0.Add(time.Hour))))

		first := placeBid(t, repo, newBid("b1", "a1", "user1", "60", true))
		require.Equal(t, int64(1), first.Seq)

		// absorbed challenge plus the leader's auto-bid in one mutation
		auction, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		auction.CurrentPrice = dec("71")
		auction.BidCount = 2
		auto := newBid("b3", "a1", "user1", "71", true)
		auto.IsAutoBid = true
		committed, err := repo.Commit(ctx, Mutation{
			Auction:      auction,
			NewBids:      []model.Bid{newBid("b2", "a1", "user2", "70", false), auto},
			ClearWinning: true,
			Registrations: []model.ProxyBidRegistration{{
				AuctionID: "a1", BidderID: "user1", MaxAmount: dec("100"), IsActive: true, CreatedAt: t0, UpdatedAt: t0,
			}},
		})
		require.NoError(t, err)
		require.Len(t, committed, 2)
		require.Equal(t, int64(2), committed[0].Seq)
		require.Equal(t, int64(3), committed[1].Seq)

		bids, err := repo.GetBidsByAuction(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, bids, 3)
		require.False(t, bids[0].IsWinning)
		require.False(t, bids[1].IsWinning)
		require.True(t, bids[2].IsWinning)
		require.True(t, bids[2].IsAutoBid)

		winning, err := repo.GetWinningBid(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "b3", winning.BidID)

		stored, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		require.True(t, stored.CurrentPrice.Equal(dec("71")))
		require.Equal(t, 2, stored.BidCount)

		reg, ok, err := repo.GetRegistration(ctx, "a1", "user1")
		require.NoError(t, err)
		require.True(t, ok)
		require.True(t, reg.MaxAmount.Equal(dec("100")))
	})
}

func TestRepo_Commit_FailuresApplyNothing(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()
		require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", t0.Add(time.Hour))))
		placeBid(t, repo, newBid("b1", "a1", "user1", "60", true))

		_, err := repo.Commit(ctx, Mutation{Auction: newAuction("missing", t0)})
		require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)

		auction, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		changed := auction
		changed.CurrentPrice = dec("999")
		_, err = repo.Commit(ctx, Mutation{
			Auction:      changed,
			NewBids:      []model.Bid{newBid("b2", "other-auction", "user2", "999", true)},
			ClearWinning: true,
		})
		require.ErrorIs(t, err, biddingerrors.ErrInvalidBid)

		after, err := repo.GetAuction(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, auction, after)

		winning, err := repo.GetWinningBid(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "b1", winning.BidID)
	})
}

// Test GetBidsByAuction and GetWinningBid
func TestRepo_GetBidsByAuction(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()
		require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", t0.Add(time.Hour))))
		require.NoError(t, repo.CreateAuction(ctx, newAuction("a2", t0.Add(time.Hour))))

		for i := 0; i < 50; i++ {
			placeBid(t, repo, newBid(fmt.Sprintf("bid-%d", i), "a1", fmt.Sprintf("user-%d", i), fmt.Sprintf("%d", 60+i), true))
		}

		tests := []struct {
			name        string
			auctionID   string
			wantLen     int
			expectedErr error
		}{
			{name: "auction_with_bids", auctionID: "a1", wantLen: 50},
			{name: "auction_without_bids", auctionID: "a2", expectedErr: biddingerrors.ErrNoBids},
			{name: "missing_auction", auctionID: "missing", expectedErr: biddingerrors.ErrAuctionNotFound},
			{name: "empty_auctionID", auctionID: "", expectedErr: biddingerrors.ErrAuctionNotFound},
		}
		for _, tc := range tests {
			bids, err := repo.GetBidsByAuction(ctx, tc.auctionID)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr, tc.name)
				continue
			}
			require.NoError(t, err, tc.name)
			require.Len(t, bids, tc.wantLen)
			for i, b := range bids {
				require.Equal(t, int64(i+1), b.Seq)
			}
		}

		winning, err := repo.GetWinningBid(ctx, "a1")
		require.NoError(t, err)
		require.Equal(t, "bid-49", winning.BidID)

		_, err = repo.GetWinningBid(ctx, "a2")
		require.ErrorIs(t, err, biddingerrors.ErrNoBids)
	})
}

// Test GetAuctionsByUser
func TestRepo_GetAuctionsByUser(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()
		for _, id := range []string{"a1", "a2", "a3"} {
			require.NoError(t, repo.CreateAuction(ctx, newAuction(id, t0.Add(time.Hour))))
		}
		placeBid(t, repo, newBid("b1", "a1", "user1", "60", true))
		placeBid(t, repo, newBid("b2", "a2", "user1", "60", true))
		placeBid(t, repo, newBid("b3", "a2", "user1", "61", true))
		placeBid(t, repo, newBid("b4", "a3", "user2", "60", true))

		tests := []struct {
			name        string
			userID      string
			wantIDs     []string
			expectedErr error
		}{
			{name: "user_with_multiple_auctions", userID: "user1", wantIDs: []string{"a1", "a2"}},
			{name: "user_with_single_auction", userID: "user2", wantIDs: []string{"a3"}},
			{name: "user_with_no_bids", userID: "userX", expectedErr: biddingerrors.ErrUserNoBids},
			{name: "empty_userID", userID: "", expectedErr: biddingerrors.ErrUserNoBids},
		}
		for _, tc := range tests {
			auctions, err := repo.GetAuctionsByUser(ctx, tc.userID)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr, tc.name)
				continue
			}
			require.NoError(t, err, tc.name)
			ids := make([]string, 0, len(auctions))
			for _, a := range auctions {
				ids = append(ids, a.AuctionID)
			}
			require.ElementsMatch(t, tc.wantIDs, ids, tc.name)
		}
	})
}

// Test ListDueAuctions
func TestRepo_ListDueAuctions(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()
		require.NoError(t, repo.CreateAuction(ctx, newAuction("late", t0.Add(-time.Minute))))
		require.NoError(t, repo.CreateAuction(ctx, newAuction("early", t0.Add(-time.Hour))))
		require.NoError(t, repo.CreateAuction(ctx, newAuction("exact", t0)))
		require.NoError(t, repo.CreateAuction(ctx, newAuction("future", t0.Add(time.Second))))

		sold := newAuction("sold", t0.Add(-time.Hour))
		sold.Status = model.StatusSold
		require.NoError(t, repo.CreateAuction(ctx, sold))

		due, err := repo.ListDueAuctions(ctx, t0)
		require.NoError(t, err)
		ids := make([]string, 0, len(due))
		for _, a := range due {
			ids = append(ids, a.AuctionID)
		}
		require.Equal(t, []string{"early", "late", "exact"}, ids)
	})
}

// Test registrations
func TestRepo_Registrations(t *testing.T) {
	t.Parallel()

	forEachRepo(t, func(t *testing.T, repo AuctionDB) {
		ctx := context.Background()
		auction := newAuction("a1", t0.Add(time.Hour))
		require.NoError(t, repo.CreateAuction(ctx, auction))

		_, ok, err := repo.GetRegistration(ctx, "a1", "user1")
		require.NoError(t, err)
		require.False(t, ok)

		reg := func(bidder, max string, active bool, created time.Time) model.ProxyBidRegistration {
			return model.ProxyBidRegistration{
				AuctionID: "a1", BidderID: bidder, MaxAmount: dec(max), IsActive: active, CreatedAt: created, UpdatedAt: created,
			}
		}
		_, err = repo.Commit(ctx, Mutation{Auction: auction, Registrations: []model.ProxyBidRegistration{
			reg("user2", "90", true, t0.Add(time.Second)),
			reg("user1", "100", true, t0),
			reg("user3", "80", false, t0),
		}})
		require.NoError(t, err)

		active, err := repo.GetActiveRegistrations(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, active, 2)
		require.Equal(t, "user1", active[0].BidderID)
		require.Equal(t, "user2", active[1].BidderID)

		// upsert keeps one registration per bidder
		_, err = repo.Commit(ctx, Mutation{Auction: auction, Registrations: []model.ProxyBidRegistration{
			reg("user1", "150", false, t0),
		}})
		require.NoError(t, err)

		got, ok, err := repo.GetRegistration(ctx, "a1", "user1")
		require.NoError(t, err)
		require.True(t, ok)
		require.False(t, got.IsActive)
		require.True(t, got.MaxAmount.Equal(dec("150")))

		active, err = repo.GetActiveRegistrations(ctx, "a1")
		require.NoError(t, err)
		require.Len(t, active, 1)
	})
}

// concurrency test
func TestMemoryRepo_ConcurrentCommits(t *testing.T) {
	t.Parallel()

	repo := NewMemoryRepo()
	repo.AddAuction(newAuction("a1", t0.Add(time.Hour)))
	ctx := context.Background()

	var wg sync.WaitGroup
	concurrentCount := 50
	for i := 0; i < concurrentCount; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			auction, err := repo.GetAuction(ctx, "a1")
			require.NoError(t, err)
			_, err = repo.Commit(ctx, Mutation{
				Auction: auction,
				NewBids: []model.Bid{newBid(fmt.Sprintf("bid-%d", i), "a1", fmt.Sprintf("user-%d", i), "60", false)},
			})
			require.NoError(t, err)
		}(i)
	}
	wg.Wait()

	bids, err := repo.GetBidsByAuction(ctx, "a1")
	require.NoError(t, err)
	require.Len(t, bids, concurrentCount)
	for i, b := range bids {
		require.Equal(t, int64(i+1), b.Seq)
	}
}

func TestSQLiteRepo_SurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "auctions.db")
	ctx := context.Background()

	db, err := OpenSQLite(path)
	require.NoError(t, err)
	repo, err := NewSQLiteRepo(db)
	require.NoError(t, err)
	require.NoError(t, repo.CreateAuction(ctx, newAuction("a1", t0.Add(time.Hour))))
	placeBid(t, repo, newBid("b1", "a1", "user1", "60.25", true))
	require.NoError(t, repo.Close())

	db, err = OpenSQLite(path)
	require.NoError(t, err)
	reopened, err := NewSQLiteRepo(db)
	require.NoError(t, err)
	defer reopened.Close()

	auction, err := reopened.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "user1", auction.LeaderID)
	require.True(t, auction.CurrentPrice.Equal(dec("60.25")))

	winning, err := reopened.GetWinningBid(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, int64(1), winning.Seq)
	require.Equal(t, t0, winning.CreatedAt)
}
