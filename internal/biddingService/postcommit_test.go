package bidding

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

// hookedRepo runs a one-shot hook on the next successful GetAuction
type hookedRepo struct {
	repository.AuctionDB
	mu   sync.Mutex
	hook func(model.Auction) model.Auction
}

func (r *hookedRepo) arm(hook func(model.Auction) model.Auction) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hook = hook
}

func (r *hookedRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	a, err := r.AuctionDB.GetAuction(ctx, auctionID)
	if err != nil {
		return a, err
	}
	r.mu.Lock()
	hook := r.hook
	r.hook = nil
	r.mu.Unlock()
	if hook != nil {
		a = hook(a)
	}
	return a, nil
}

// mapViewCache is a plain in-process ViewCache
type mapViewCache struct {
	mu    sync.Mutex
	views map[string]model.Auction
}

func newMapViewCache() *mapViewCache {
	return &mapViewCache{views: make(map[string]model.Auction)}
}

func (c *mapViewCache) Get(_ context.Context, auctionID string) (model.Auction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.views[auctionID]
	if !ok {
		return model.Auction{}, errors.New("miss")
	}
	return a, nil
}

func (c *mapViewCache) Set(_ context.Context, auction model.Auction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.views[auction.AuctionID] = auction
	return nil
}

func (c *mapViewCache) Invalidate(_ context.Context, auctionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.views, auctionID)
	return nil
}

// gatedBroadcaster holds the first bid_placed event until gate is closed and
// records the bid count of every bid_placed it sees
type gatedBroadcaster struct {
	gate    chan struct{}
	entered chan struct{}
	once    sync.Once

	mu     sync.Mutex
	counts []int
}

func (b *gatedBroadcaster) Publish(_ context.Context, ev model.Event) {
	placed, ok := ev.Payload.(model.BidPlaced)
	if !ok {
		return
	}
	first := false
	b.once.Do(func() { first = true })
	if first {
		close(b.entered)
		<-b.gate
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counts = append(b.counts, placed.BidCount)
}

func (b *gatedBroadcaster) bidCounts() []int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]int(nil), b.counts...)
}

// cancelOnEnd cancels the caller's context as soon as the auction ends
type cancelOnEnd struct {
	cancel context.CancelFunc
}

func (b cancelOnEnd) Publish(_ context.Context, ev model.Event) {
	if ev.Type == model.EventAuctionEnded {
		b.cancel()
	}
}

func TestOutbox_DeliversInTicketOrder(t *testing.T) {
	t.Parallel()

	o := newOutbox()
	first := o.take("a1")
	second := o.take("a1")
	other := o.take("a2")

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) func() {
		return func() {
			mu.Lock()
			defer mu.Unlock()
			order = append(order, name)
		}
	}

	secondDone := make(chan struct{})
	go func() {
		o.deliver(second, record("second"))
		close(secondDone)
	}()

	// other auctions are not held up
	o.deliver(other, record("other"))

	select {
	case <-secondDone:
		t.Fatal("second ticket delivered before the first")
	case <-time.After(20 * time.Millisecond):
	}

	o.deliver(first, record("first"))
	<-secondDone

	require.Equal(t, []string{"other", "first", "second"}, order)
	require.Zero(t, o.pending())
}

func TestBiddingService_AfterCommitOutlivesCallerContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ctrl := gomock.NewController(t)
	settlement := NewMockSettlementSink(ctrl)
	var got model.Order
	settlement.EXPECT().CreateOrder(gomock.Any(), gomock.Any()).DoAndReturn(func(ctx context.Context, order model.Order) error {
		got = order
		return ctx.Err()
	})
	views := NewMockViewCache(ctrl)
	views.EXPECT().Invalidate(gomock.Any(), "a1").Return(nil)

	f := newFixture(t, WithBroadcaster(cancelOnEnd{cancel: cancel}), WithSettlement(settlement), WithViewCache(views))
	a := newAuction("a1", time.Hour)
	a.BuyNowPrice = decPtr("100")
	f.repo.AddAuction(a)

	_, err := f.svc.PlaceBid(ctx, "a1", "b1", dec("100"), nil)
	require.NoError(t, err)
	require.Error(t, ctx.Err())

	require.Equal(t, model.StatusSold, f.auction(t, "a1").Status)
	require.Equal(t, "b1", got.WinnerID)
	require.True(t, got.FinalPrice.Equal(dec("100")))
}

func TestBiddingService_EventsFollowCommitOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	b := &gatedBroadcaster{gate: make(chan struct{}), entered: make(chan struct{})}
	f := newFixture(t, WithBroadcaster(b))
	f.repo.AddAuction(newAuction("a1", time.Hour))

	first := make(chan error, 1)
	go func() {
		_, err := f.svc.PlaceBid(ctx, "a1", "user1", dec("60"), nil)
		first <- err
	}()
	<-b.entered

	second := make(chan error, 1)
	go func() {
		_, err := f.svc.PlaceBid(ctx, "a1", "user2", dec("70"), nil)
		second <- err
	}()

	// the second bid commits while the first one's events are still held
	require.Eventually(t, func() bool {
		a, err := f.repo.GetAuction(ctx, "a1")
		return err == nil && a.BidCount == 2
	}, time.Second, 5*time.Millisecond)

	close(b.gate)
	require.NoError(t, <-first)
	require.NoError(t, <-second)
	require.Equal(t, []int{1, 2}, b.bidCounts())
	require.Zero(t, f.svc.outbox.pending())
}

func TestBiddingService_GetAuction_DoesNotCacheViewOlderThanCommit(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := repository.NewMemoryRepo()
	mem.AddAuction(newAuction("a1", time.Hour))
	repo := &hookedRepo{AuctionDB: mem}
	svc := NewBiddingService(repo, WithViewCache(newMapViewCache()), WithClock(func() time.Time { return t0 }))

	reached, resume := make(chan struct{}), make(chan struct{})
	repo.arm(func(a model.Auction) model.Auction {
		close(reached)
		<-resume
		return a
	})

	read := make(chan model.Auction, 1)
	go func() {
		a, err := svc.GetAuction(ctx, "a1")
		if err == nil {
			read <- a
		}
		close(read)
	}()
	<-reached

	_, err := svc.PlaceBid(ctx, "a1", "user1", dec("60"), nil)
	require.NoError(t, err)

	close(resume)
	stale, ok := <-read
	require.True(t, ok)
	require.Zero(t, stale.BidCount)

	got, err := svc.GetAuction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, 1, got.BidCount)
	require.True(t, got.CurrentPrice.Equal(dec("60")))
}

func TestBiddingService_GetStoredAuction_SkipsViewCache(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	ctrl := gomock.NewController(t)
	views := NewMockViewCache(ctrl)
	f := newFixture(t, WithViewCache(views))
	f.repo.AddAuction(newAuction("a1", time.Hour))

	got, err := f.svc.GetStoredAuction(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "a1", got.AuctionID)

	_, err = f.svc.GetStoredAuction(ctx, "missing")
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotFound)
}

func TestBiddingService_RetiresSectionOfAuctionClosedMeanwhile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	mem := repository.NewMemoryRepo()
	sold := newAuction("a1", time.Hour)
	sold.Status = model.StatusSold
	mem.AddAuction(sold)
	repo := &hookedRepo{AuctionDB: mem}
	svc := NewBiddingService(repo, WithClock(func() time.Time { return t0 }))

	// the first read still sees the auction open
	repo.arm(func(a model.Auction) model.Auction {
		a.Status = model.StatusActive
		return a
	})

	_, err := svc.PlaceBid(ctx, "a1", "user1", dec("60"), nil)
	require.ErrorIs(t, err, biddingerrors.ErrAuctionNotActive)
	require.Zero(t, svc.sections.Len())
}
