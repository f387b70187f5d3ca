package bidding

import (
	"auction-engine/internal/auctionlock"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var errCacheDisabled = errors.New("view cache disabled")

// Config holds the engine's tuning parameters
type Config struct {
	// ExtensionWindow is the anti-snipe window; zero disables extensions
	ExtensionWindow time.Duration
	// LockWait bounds how long an operation waits for its auction's section
	LockWait time.Duration
	// DefaultMinIncrement applies to new auctions that do not set one
	DefaultMinIncrement decimal.Decimal
	// AfterCommitTimeout bounds the cache, event and settlement work that
	// follows a commit
	AfterCommitTimeout time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		ExtensionWindow:     DefaultExtensionWindow,
		LockWait:            2 * time.Second,
		DefaultMinIncrement: decimal.NewFromInt(1),
		AfterCommitTimeout:  DefaultAfterCommitTimeout,
	}
}

// DefaultAfterCommitTimeout is the AfterCommitTimeout of DefaultConfig
const DefaultAfterCommitTimeout = 5 * time.Second

// BiddingService is the bidding and auction-lifecycle engine. Every mutation
// of an auction runs inside that auction's section; collaborators are only
// called after the section is released.
type BiddingService struct {
	repo        repository.AuctionDB
	sections    *auctionlock.Sections
	outbox      *outbox
	generations viewGenerations
	broadcaster Broadcaster
	settlement  SettlementSink
	views       ViewCache
	metrics     *metrics.Metrics
	cfg         Config
	now         func() time.Time
}

// Option configures a BiddingService
type Option func(*BiddingService)

func WithBroadcaster(b Broadcaster) Option {
	return func(s *BiddingService) { s.broadcaster = b }
}

func WithSettlement(sink SettlementSink) Option {
	return func(s *BiddingService) { s.settlement = sink }
}

func WithViewCache(c ViewCache) Option {
	return func(s *BiddingService) { s.views = c }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *BiddingService) { s.metrics = m }
}

func WithConfig(cfg Config) Option {
	return func(s *BiddingService) { s.cfg = cfg }
}

// WithClock replaces the wall clock, for tests
func WithClock(now func() time.Time) Option {
	return func(s *BiddingService) { s.now = now }
}

// NewBiddingService creates a new BiddingService instance
func NewBiddingService(repo repository.AuctionDB, opts ...Option) *BiddingService {
	s := &BiddingService{
		repo:        repo,
		sections:    auctionlock.New(),
		outbox:      newOutbox(),
		broadcaster: noopBroadcaster{},
		settlement:  noopSettlement{},
		views:       noopViewCache{},
		cfg:         DefaultConfig(),
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.cfg.AfterCommitTimeout <= 0 {
		s.cfg.AfterCommitTimeout = DefaultAfterCommitTimeout
	}
	return s
}

// outcome is what an operation leaves behind for the post-section phase
type outcome struct {
	committed    bool
	auction      model.Auction
	events       []model.Event
	order        *model.Order
	terminal     bool
	closedStatus model.AuctionStatus
}

// inSection runs fn as the only mutator of auctionID, handing it the auction
// as stored once the section is held, then performs the deferred collaborator
// work of a committed outcome. Unknown and terminal auctions never get a
// section: the first cannot be mutated and the second never changes again,
// so fn runs against them directly.
func (s *BiddingService) inSection(ctx context.Context, auctionID string, fn func(auction model.Auction, now time.Time) (outcome, error)) error {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return err
	}
	if auction.Status.IsTerminal() {
		_, err := fn(auction, s.now())
		return err
	}

	waitStart := time.Now()
	release, err := s.sections.Acquire(ctx, auctionID, s.cfg.LockWait)
	s.metrics.ObserveSectionWait(time.Since(waitStart))
	if err != nil {
		return err
	}

	out, err := s.runLocked(ctx, auctionID, fn)
	var delivery ticket
	if err == nil && out.committed {
		s.generations.of(auctionID).Add(1)
		delivery = s.outbox.take(auctionID)
	}
	release()
	if err != nil {
		return err
	}

	if out.committed {
		s.outbox.deliver(delivery, func() { s.afterCommit(ctx, out) })
	}
	return nil
}

// runLocked is the body of a held section. The auction may have closed
// between the caller's first read and entering, in which case the section
// that was just created for it is retired again.
func (s *BiddingService) runLocked(ctx context.Context, auctionID string, fn func(auction model.Auction, now time.Time) (outcome, error)) (outcome, error) {
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return outcome{}, err
	}
	if auction.Status.IsTerminal() {
		s.sections.Retire(auctionID)
	}

	out, err := fn(auction, s.now())
	if err == nil && out.terminal {
		s.sections.Retire(auctionID)
	}
	return out, err
}

// afterCommit hands a committed outcome to the collaborators. The commit is
// final by now, so the work is detached from the caller's cancellation and
// bounded by its own timeout instead.
func (s *BiddingService) afterCommit(ctx context.Context, out outcome) {
	if !out.committed {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.AfterCommitTimeout)
	defer cancel()
	auctionID := out.auction.AuctionID

	if err := s.views.Invalidate(ctx, auctionID); err != nil {
		utils.Warn("view cache invalidation failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
	}
	for _, ev := range out.events {
		s.broadcaster.Publish(ctx, ev)
	}
	if out.closedStatus != "" {
		s.metrics.ObserveClose(string(out.closedStatus))
	}
	if out.order != nil {
		if err := s.settlement.CreateOrder(ctx, *out.order); err != nil {
			s.metrics.ObserveSettlementFailure()
			utils.Error("settlement: order creation failed", map[string]any{
				"auction_id": auctionID,
				"winner_id":  out.order.WinnerID,
				"error":      err.Error(),
			})
		}
	}
}

// PlaceBid validates and applies a bid. maxAmount, when given, is the
// bidder's proxy ceiling and also becomes their standing registration.
func (s *BiddingService) PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxAmount *decimal.Decimal) (model.BidResult, error) {
	result, err := s.placeBid(ctx, auctionID, bidderID, amount, maxAmount)
	s.observeBid(err)
	if err != nil {
		utils.Warn("PlaceBid: bid rejected", map[string]any{
			"auction_id": auctionID,
			"bidder_id":  bidderID,
			"amount":     amount.String(),
			"error":      err.Error(),
		})
		return model.BidResult{}, fmt.Errorf("service: place bid on auction %s by %s: %w", auctionID, bidderID, err)
	}
	return result, nil
}

func (s *BiddingService) placeBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxAmount *decimal.Decimal) (model.BidResult, error) {
	if auctionID == "" || bidderID == "" {
		return model.BidResult{}, fmt.Errorf("%w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if !amount.IsPositive() {
		return model.BidResult{}, fmt.Errorf("%w - non-positive bid amount", biddingerrors.ErrInvalidBid)
	}
	ceiling := amount
	if maxAmount != nil {
		if maxAmount.LessThan(amount) {
			return model.BidResult{}, fmt.Errorf("%w - max amount below amount", biddingerrors.ErrInvalidBid)
		}
		ceiling = *maxAmount
	}

	var result model.BidResult
	err := s.inSection(ctx, auctionID, func(auction model.Auction, now time.Time) (outcome, error) {
		if err := checkBiddable(auction, bidderID, now); err != nil {
			return outcome{}, err
		}

		if buyNowApplies(auction, amount) {
			out, res, err := s.buyNow(ctx, auction, bidderID, ceiling, now)
			result = res
			return out, err
		}

		minimum := auction.MinimumBid()
		if amount.LessThan(minimum) {
			return outcome{}, biddingerrors.NewBidAmountError(minimum)
		}

		st, err := s.loadStanding(ctx, auction)
		if err != nil {
			return outcome{}, err
		}

		var out outcome
		out, result, err = s.applyBid(ctx, auction, st, bidRequest{
			bidderID: bidderID,
			amount:   amount,
			ceiling:  ceiling,
			register: ceiling.GreaterThan(amount),
		}, now)
		return out, err
	})
	return result, err
}

// RegisterProxyBid creates or updates the bidder's standing maximum. A bid is
// placed on the bidder's behalf only when the registration changes the winner;
// a registration by the current leader raises their ceiling without moving
// the price.
func (s *BiddingService) RegisterProxyBid(ctx context.Context, auctionID, bidderID string, maxAmount decimal.Decimal) (model.BidResult, error) {
	result, err := s.registerProxyBid(ctx, auctionID, bidderID, maxAmount)
	if err != nil {
		utils.Warn("RegisterProxyBid: registration rejected", map[string]any{
			"auction_id": auctionID,
			"bidder_id":  bidderID,
			"max_amount": maxAmount.String(),
			"error":      err.Error(),
		})
		return model.BidResult{}, fmt.Errorf("service: register proxy bid on auction %s by %s: %w", auctionID, bidderID, err)
	}
	return result, nil
}

func (s *BiddingService) registerProxyBid(ctx context.Context, auctionID, bidderID string, maxAmount decimal.Decimal) (model.BidResult, error) {
	if auctionID == "" || bidderID == "" {
		return model.BidResult{}, fmt.Errorf("%w - missing auctionID or bidderID", biddingerrors.ErrInvalidBid)
	}
	if !maxAmount.IsPositive() {
		return model.BidResult{}, fmt.Errorf("%w - non-positive max amount", biddingerrors.ErrInvalidBid)
	}

	var result model.BidResult
	err := s.inSection(ctx, auctionID, func(auction model.Auction, now time.Time) (outcome, error) {
		if err := checkBiddable(auction, bidderID, now); err != nil {
			return outcome{}, err
		}
		st, err := s.loadStanding(ctx, auction)
		if err != nil {
			return outcome{}, err
		}
		reg, err := s.registrationFor(ctx, auctionID, bidderID, maxAmount, now)
		if err != nil {
			return outcome{}, err
		}

		if st.LeaderID == bidderID {
			var out outcome
			out, result, err = s.raiseCeiling(ctx, auction, st, reg, now)
			return out, err
		}

		minimum := auction.MinimumBid()
		if maxAmount.LessThan(minimum) {
			return outcome{}, biddingerrors.NewBidAmountError(minimum)
		}

		if !st.hasLeader() || maxAmount.GreaterThan(st.LeaderMax) {
			var out outcome
			out, result, err = s.applyBid(ctx, auction, st, bidRequest{
				bidderID: bidderID,
				amount:   minimum,
				ceiling:  maxAmount,
				auto:     true,
				register: true,
			}, now)
			return out, err
		}

		// the registration cannot take the lead: store it and leave the auction untouched
		if _, err := s.repo.Commit(ctx, repository.Mutation{
			Auction:       auction,
			Registrations: []model.ProxyBidRegistration{reg},
		}); err != nil {
			return outcome{}, err
		}
		result = resultFor(auction, bidderID, model.Bid{}, false)
		return outcome{committed: true, auction: auction}, nil
	})
	return result, err
}

// raiseCeiling records a leader's higher ceiling as an auto-bid at the
// current price so the ledger alone still reproduces the standing.
func (s *BiddingService) raiseCeiling(ctx context.Context, auction model.Auction, st standing, reg model.ProxyBidRegistration, now time.Time) (outcome, model.BidResult, error) {
	// the winning row already holds the leader's ceiling, which is never lowered
	reg.MaxAmount = decimal.Max(reg.MaxAmount, st.LeaderMax)
	mutation := repository.Mutation{
		Auction:       auction,
		Registrations: []model.ProxyBidRegistration{reg},
	}
	if reg.MaxAmount.GreaterThan(st.LeaderMax) {
		mutation.ClearWinning = true
		mutation.NewBids = []model.Bid{{
			BidID:     utils.GenerateOrderedID(),
			AuctionID: auction.AuctionID,
			BidderID:  st.LeaderID,
			Amount:    st.Price,
			MaxAmount: reg.MaxAmount,
			IsWinning: true,
			IsAutoBid: true,
			CreatedAt: now,
		}}
		mutation.Auction.UpdatedAt = now
	}

	committed, err := s.repo.Commit(ctx, mutation)
	if err != nil {
		return outcome{}, model.BidResult{}, err
	}
	var own model.Bid
	if len(committed) > 0 {
		own = committed[0]
	}
	return outcome{committed: true, auction: mutation.Auction}, resultFor(mutation.Auction, st.LeaderID, own, false), nil
}

type bidRequest struct {
	bidderID string
	amount   decimal.Decimal
	ceiling  decimal.Decimal
	// auto marks bids placed on the bidder's behalf from a registration
	auto     bool
	register bool
}

// applyBid runs proxy resolution for one accepted bid and commits the
// resulting price, leader, ledger rows, registrations and end time together.
func (s *BiddingService) applyBid(ctx context.Context, auction model.Auction, st standing, req bidRequest, now time.Time) (outcome, model.BidResult, error) {
	auctionID := auction.AuctionID
	res := resolveChallenge(st, req.bidderID, req.amount, req.ceiling, auction.MinIncrement)
	next := res.next

	own := model.Bid{
		BidID:     utils.GenerateOrderedID(),
		AuctionID: auctionID,
		BidderID:  req.bidderID,
		MaxAmount: req.ceiling,
		IsAutoBid: req.auto,
		CreatedAt: now,
	}

	mutation := repository.Mutation{}
	switch {
	case st.hasLeader() && req.bidderID == st.LeaderID:
		own.Amount = next.Price
		own.MaxAmount = next.LeaderMax
		own.IsWinning = true
		mutation.ClearWinning = true
		mutation.NewBids = []model.Bid{own}
	case res.leaderChanged:
		own.Amount = next.Price
		own.IsWinning = true
		mutation.ClearWinning = st.hasLeader()
		mutation.NewBids = []model.Bid{own}
	default:
		// the leader's ceiling absorbed the challenge
		own.Amount = req.amount
		mutation.NewBids = []model.Bid{own}
		if res.priceMoved {
			mutation.ClearWinning = true
			mutation.NewBids = append(mutation.NewBids, model.Bid{
				BidID:     utils.GenerateOrderedID(),
				AuctionID: auctionID,
				BidderID:  st.LeaderID,
				Amount:    next.Price,
				MaxAmount: st.LeaderMax,
				IsWinning: true,
				IsAutoBid: true,
				CreatedAt: now,
			})
		}
	}

	updated := auction
	updated.CurrentPrice = next.Price
	updated.LeaderID = next.LeaderID
	updated.BidCount++
	updated.UpdatedAt = now
	newEnd, extended := extendForSnipe(auction.EndTime, now, s.cfg.ExtensionWindow)
	updated.EndTime = newEnd

	regChanges, exhausted, err := s.reconcileRegistrations(ctx, updated, req, now)
	if err != nil {
		return outcome{}, model.BidResult{}, err
	}

	mutation.Auction = updated
	mutation.Registrations = regChanges
	committed, err := s.repo.Commit(ctx, mutation)
	if err != nil {
		return outcome{}, model.BidResult{}, err
	}
	own = committed[0]

	isWinning := next.LeaderID == req.bidderID
	events := []model.Event{newEvent(model.EventBidPlaced, updated, now, model.BidPlaced{
		AuctionID:     auctionID,
		BidderID:      req.bidderID,
		Amount:        own.Amount,
		CurrentPrice:  updated.CurrentPrice,
		IsWinning:     isWinning,
		LeaderID:      updated.LeaderID,
		BidCount:      updated.BidCount,
		EndTime:       updated.EndTime,
		TimeRemaining: updated.EndTime.Sub(now),
	})}
	if res.leaderChanged && st.hasLeader() {
		events = append(events, newEvent(model.EventOutbid, updated, now, model.Outbid{
			AuctionID:    auctionID,
			BidderID:     st.LeaderID,
			CurrentPrice: updated.CurrentPrice,
		}))
	}
	if extended {
		s.metrics.ObserveExtension()
		utils.Info("auction extended", map[string]any{
			"auction_id":   auctionID,
			"old_end_time": auction.EndTime.Format(time.RFC3339),
			"new_end_time": updated.EndTime.Format(time.RFC3339),
		})
		events = append(events, newEvent(model.EventAuctionExtended, updated, now, model.AuctionExtended{
			AuctionID:  auctionID,
			NewEndTime: updated.EndTime,
		}))
	}
	for _, reg := range exhausted {
		events = append(events, newEvent(model.EventProxyExhausted, updated, now, model.ProxyExhausted{
			AuctionID:    auctionID,
			BidderID:     reg.BidderID,
			MaxAmount:    reg.MaxAmount,
			CurrentPrice: updated.CurrentPrice,
			Reason:       biddingerrors.ErrProxyBidExhausted.Error(),
		}))
	}

	result := resultFor(updated, req.bidderID, own, extended)
	return outcome{committed: true, auction: updated, events: events}, result, nil
}

// reconcileRegistrations upserts the bidder's own registration when asked to
// and deactivates every other registration the new price has overtaken.
func (s *BiddingService) reconcileRegistrations(ctx context.Context, updated model.Auction, req bidRequest, now time.Time) (changes, exhausted []model.ProxyBidRegistration, err error) {
	active, err := s.repo.GetActiveRegistrations(ctx, updated.AuctionID)
	if err != nil {
		return nil, nil, err
	}

	byBidder := make(map[string]model.ProxyBidRegistration, len(active)+1)
	for _, reg := range active {
		byBidder[reg.BidderID] = reg
	}
	if req.register {
		reg, err := s.registrationFor(ctx, updated.AuctionID, req.bidderID, req.ceiling, now)
		if err != nil {
			return nil, nil, err
		}
		byBidder[req.bidderID] = reg
		changes = append(changes, reg)
	}

	floor := updated.MinimumBid()
	bidders := make([]string, 0, len(byBidder))
	for id := range byBidder {
		bidders = append(bidders, id)
	}
	sort.Strings(bidders)

	for _, id := range bidders {
		reg := byBidder[id]
		if id == updated.LeaderID || !reg.MaxAmount.LessThan(floor) {
			continue
		}
		reg.IsActive = false
		reg.UpdatedAt = now
		exhausted = append(exhausted, reg)
		if id == req.bidderID && req.register {
			changes[0] = reg
			continue
		}
		changes = append(changes, reg)
	}
	return changes, exhausted, nil
}

// buyNow sells the auction to bidderID at the buy-now price
func (s *BiddingService) buyNow(ctx context.Context, auction model.Auction, bidderID string, ceiling decimal.Decimal, now time.Time) (outcome, model.BidResult, error) {
	price := *auction.BuyNowPrice
	previousLeader := auction.LeaderID

	bid := model.Bid{
		BidID:     utils.GenerateOrderedID(),
		AuctionID: auction.AuctionID,
		BidderID:  bidderID,
		Amount:    price,
		MaxAmount: decimal.Max(ceiling, price),
		IsWinning: true,
		IsBuyNow:  true,
		CreatedAt: now,
	}

	updated := auction
	updated.CurrentPrice = price
	updated.LeaderID = bidderID
	updated.WinnerID = bidderID
	updated.Status = model.StatusSold
	updated.EndTime = now
	updated.BidCount++
	updated.UpdatedAt = now

	regs, err := s.closeRegistrations(ctx, auction.AuctionID, now)
	if err != nil {
		return outcome{}, model.BidResult{}, err
	}

	committed, err := s.repo.Commit(ctx, repository.Mutation{
		Auction:       updated,
		NewBids:       []model.Bid{bid},
		ClearWinning:  true,
		Registrations: regs,
	})
	if err != nil {
		return outcome{}, model.BidResult{}, err
	}

	utils.Info("auction sold via buy-now", map[string]any{
		"auction_id": auction.AuctionID,
		"winner_id":  bidderID,
		"price":      price.String(),
	})

	events := []model.Event{newEvent(model.EventBidPlaced, updated, now, model.BidPlaced{
		AuctionID:    updated.AuctionID,
		BidderID:     bidderID,
		Amount:       price,
		CurrentPrice: price,
		IsWinning:    true,
		LeaderID:     bidderID,
		BidCount:     updated.BidCount,
		EndTime:      updated.EndTime,
	})}
	if previousLeader != "" && previousLeader != bidderID {
		events = append(events, newEvent(model.EventOutbid, updated, now, model.Outbid{
			AuctionID:    updated.AuctionID,
			BidderID:     previousLeader,
			CurrentPrice: price,
		}))
	}
	events = append(events, endedEvent(updated, now))

	out := outcome{
		committed:    true,
		auction:      updated,
		events:       events,
		order:        orderFor(updated, now),
		terminal:     true,
		closedStatus: model.StatusSold,
	}
	return out, resultFor(updated, bidderID, committed[0], false), nil
}

// CancelAuction takes an active auction to the cancelled state
func (s *BiddingService) CancelAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	var cancelled model.Auction
	err := s.inSection(ctx, auctionID, func(auction model.Auction, now time.Time) (outcome, error) {
		if auction.Status.IsTerminal() {
			return outcome{}, fmt.Errorf("%w - auction is %s", biddingerrors.ErrAuctionNotActive, auction.Status)
		}

		regs, err := s.closeRegistrations(ctx, auctionID, now)
		if err != nil {
			return outcome{}, err
		}
		cancelled = auction
		cancelled.Status = model.StatusCancelled
		cancelled.UpdatedAt = now
		if _, err := s.repo.Commit(ctx, repository.Mutation{Auction: cancelled, Registrations: regs}); err != nil {
			return outcome{}, err
		}

		utils.Info("auction cancelled", map[string]any{"auction_id": auctionID})
		return outcome{
			committed:    true,
			auction:      cancelled,
			events:       []model.Event{endedEvent(cancelled, now)},
			terminal:     true,
			closedStatus: model.StatusCancelled,
		}, nil
	})
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: cancel auction %s: %w", auctionID, err)
	}
	return cancelled, nil
}

// CreateAuction stores a new active auction. Listing management lives
// elsewhere; this is the seed the engine needs to have something to run.
func (s *BiddingService) CreateAuction(ctx context.Context, in model.NewAuction) (model.Auction, error) {
	now := s.now()
	if err := validateNewAuction(in, now); err != nil {
		return model.Auction{}, fmt.Errorf("service: %w", err)
	}

	increment := s.cfg.DefaultMinIncrement
	if in.MinIncrement != nil {
		increment = *in.MinIncrement
	}
	auctionID := in.AuctionID
	if auctionID == "" {
		auctionID = utils.GenerateID()
	}

	auction := model.Auction{
		AuctionID:     auctionID,
		SellerID:      in.SellerID,
		Title:         in.Title,
		Description:   in.Description,
		StartingPrice: in.StartingPrice,
		CurrentPrice:  in.StartingPrice,
		ReservePrice:  in.ReservePrice,
		BuyNowPrice:   in.BuyNowPrice,
		MinIncrement:  increment,
		EndTime:       in.EndTime.UTC(),
		Status:        model.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.CreateAuction(ctx, auction); err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to create auction %s: %w", auctionID, err)
	}
	return auction, nil
}

func validateNewAuction(in model.NewAuction, now time.Time) error {
	switch {
	case in.SellerID == "":
		return fmt.Errorf("%w - missing seller ID", biddingerrors.ErrInvalidAuction)
	case !in.StartingPrice.IsPositive():
		return fmt.Errorf("%w - non-positive starting price", biddingerrors.ErrInvalidAuction)
	case in.MinIncrement != nil && !in.MinIncrement.IsPositive():
		return fmt.Errorf("%w - non-positive min increment", biddingerrors.ErrInvalidAuction)
	case !in.EndTime.After(now):
		return fmt.Errorf("%w - end time must be in the future", biddingerrors.ErrInvalidAuction)
	case in.ReservePrice != nil && in.ReservePrice.LessThan(in.StartingPrice):
		return fmt.Errorf("%w - reserve price below starting price", biddingerrors.ErrInvalidAuction)
	case in.BuyNowPrice != nil && !in.BuyNowPrice.GreaterThan(in.StartingPrice):
		return fmt.Errorf("%w - buy-now price must exceed starting price", biddingerrors.ErrInvalidAuction)
	}
	return nil
}

// GetAuction returns the current view of an auction, through the view cache
func (s *BiddingService) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	if cached, err := s.views.Get(ctx, auctionID); err == nil {
		return cached, nil
	}

	gen := s.generations.of(auctionID)
	seen := gen.Load()
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	if gen.Load() != seen {
		// a commit landed after the read; the view is already stale
		return auction, nil
	}
	if err := s.views.Set(ctx, auction); err != nil {
		utils.Warn("view cache set failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return auction, nil
	}
	if gen.Load() != seen {
		// the commit's invalidation may have run before the fill
		if err := s.views.Invalidate(ctx, auctionID); err != nil {
			utils.Warn("view cache invalidation failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		}
	}
	return auction, nil
}

// GetStoredAuction reads the auction from the store, bypassing the view cache
func (s *BiddingService) GetStoredAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	if auctionID == "" {
		return model.Auction{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}
	auction, err := s.repo.GetAuction(ctx, auctionID)
	if err != nil {
		return model.Auction{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// GetBidHistory returns every bid of an auction in ledger order
func (s *BiddingService) GetBidHistory(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if auctionID == "" {
		return nil, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}

	bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
	if errors.Is(err, biddingerrors.ErrNoBids) {
		return []model.Bid{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("service: failed to get bids for auction %s: %w", auctionID, err)
	}
	return bids, nil
}

// GetWinningBid returns the bid currently holding the auction.
// ErrNoBids when nobody has bid yet.
func (s *BiddingService) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	if auctionID == "" {
		return model.Bid{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidBid)
	}
	if _, err := s.repo.GetAuction(ctx, auctionID); err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to get auction %s: %w", auctionID, err)
	}

	bid, err := s.repo.GetWinningBid(ctx, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("service: failed to get winning bid for auction %s: %w", auctionID, err)
	}
	return bid, nil
}

// GetAuctionsByUser returns all auctions a user has placed bids on
func (s *BiddingService) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	if userID == "" {
		return nil, fmt.Errorf("service: %w - empty user ID", biddingerrors.ErrInvalidBid)
	}

	auctions, err := s.repo.GetAuctionsByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service: failed to get auctions for user %s: %w", userID, err)
	}
	return auctions, nil
}

// VerifyAuction replays the auction's ledger and compares the result with
// the stored state. The snapshot is taken inside the auction's section. On a
// mismatch the report is returned together with ErrLedgerInconsistent.
func (s *BiddingService) VerifyAuction(ctx context.Context, auctionID string) (model.AuditReport, error) {
	if auctionID == "" {
		return model.AuditReport{}, fmt.Errorf("service: %w - empty auction ID", biddingerrors.ErrInvalidAuction)
	}

	var report model.AuditReport
	err := s.inSection(ctx, auctionID, func(auction model.Auction, _ time.Time) (outcome, error) {
		bids, err := s.repo.GetBidsByAuction(ctx, auctionID)
		if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
			return outcome{}, err
		}

		leader, _, price := Replay(auction, bids)
		winning := 0
		for _, b := range bids {
			if b.IsWinning {
				winning++
			}
		}
		report = model.AuditReport{
			AuctionID:      auctionID,
			Status:         auction.Status,
			StoredLeader:   auction.LeaderID,
			StoredPrice:    auction.CurrentPrice,
			ReplayedLeader: leader,
			ReplayedPrice:  price,
			WinningBids:    winning,
			LedgerSize:     len(bids),
		}
		expectedWinning := 0
		if len(bids) > 0 {
			expectedWinning = 1
		}
		report.Consistent = leader == auction.LeaderID && price.Equal(auction.CurrentPrice) && winning == expectedWinning
		return outcome{}, nil
	})
	if err != nil {
		return model.AuditReport{}, fmt.Errorf("service: verify auction %s: %w", auctionID, err)
	}
	if !report.Consistent {
		utils.Error("ledger replay mismatch", map[string]any{
			"auction_id":      auctionID,
			"stored_leader":   report.StoredLeader,
			"replayed_leader": report.ReplayedLeader,
			"stored_price":    report.StoredPrice.String(),
			"replayed_price":  report.ReplayedPrice.String(),
			"winning_bids":    report.WinningBids,
		})
		return report, fmt.Errorf("service: verify auction %s: %w", auctionID, biddingerrors.ErrLedgerInconsistent)
	}
	return report, nil
}

func (s *BiddingService) loadStanding(ctx context.Context, auction model.Auction) (standing, error) {
	st := standing{LeaderID: auction.LeaderID, Price: auction.CurrentPrice}
	if !st.hasLeader() {
		return st, nil
	}
	winning, err := s.repo.GetWinningBid(ctx, auction.AuctionID)
	if err != nil {
		return standing{}, fmt.Errorf("load standing of auction %s: %w", auction.AuctionID, err)
	}
	st.LeaderMax = winning.MaxAmount
	return st, nil
}

func (s *BiddingService) registrationFor(ctx context.Context, auctionID, bidderID string, maxAmount decimal.Decimal, now time.Time) (model.ProxyBidRegistration, error) {
	existing, ok, err := s.repo.GetRegistration(ctx, auctionID, bidderID)
	if err != nil {
		return model.ProxyBidRegistration{}, err
	}
	reg := model.ProxyBidRegistration{
		AuctionID: auctionID,
		BidderID:  bidderID,
		MaxAmount: maxAmount,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if ok {
		reg.CreatedAt = existing.CreatedAt
	}
	return reg, nil
}

// closeRegistrations deactivates every active registration of an auction
// that is reaching a terminal state
func (s *BiddingService) closeRegistrations(ctx context.Context, auctionID string, now time.Time) ([]model.ProxyBidRegistration, error) {
	active, err := s.repo.GetActiveRegistrations(ctx, auctionID)
	if err != nil {
		return nil, err
	}
	for i := range active {
		active[i].IsActive = false
		active[i].UpdatedAt = now
	}
	return active, nil
}

func (s *BiddingService) observeBid(err error) {
	switch {
	case err == nil:
		s.metrics.ObserveBid(metrics.ResultAccepted)
	case errors.Is(err, biddingerrors.ErrAuctionBusy):
		s.metrics.ObserveBid(metrics.ResultBusy)
	default:
		s.metrics.ObserveBid(metrics.ResultRejected)
	}
}

func checkBiddable(auction model.Auction, bidderID string, now time.Time) error {
	if auction.Status != model.StatusActive {
		return fmt.Errorf("%w - auction is %s", biddingerrors.ErrAuctionNotActive, auction.Status)
	}
	if !now.Before(auction.EndTime) {
		return fmt.Errorf("%w - auction ended at %s", biddingerrors.ErrAuctionNotActive, auction.EndTime.Format(time.RFC3339))
	}
	if bidderID == auction.SellerID {
		return biddingerrors.ErrSelfBidRejected
	}
	return nil
}

// buyNowApplies reports whether amount takes the buy-now short-circuit. Once
// proxy resolution has carried the price to the buy-now price the option is
// gone, so a sale never lowers the price.
func buyNowApplies(auction model.Auction, amount decimal.Decimal) bool {
	return auction.BuyNowPrice != nil &&
		amount.GreaterThanOrEqual(*auction.BuyNowPrice) &&
		auction.CurrentPrice.LessThan(*auction.BuyNowPrice)
}

func resultFor(auction model.Auction, bidderID string, own model.Bid, extended bool) model.BidResult {
	return model.BidResult{
		BidID:          own.BidID,
		AuctionID:      auction.AuctionID,
		BidderID:       bidderID,
		AcceptedAmount: own.Amount,
		IsWinning:      auction.LeaderID == bidderID,
		CurrentPrice:   auction.CurrentPrice,
		BidCount:       auction.BidCount,
		EndTime:        auction.EndTime,
		Extended:       extended,
		Status:         auction.Status,
	}
}

func newEvent(eventType model.EventType, auction model.Auction, now time.Time, payload any) model.Event {
	return model.Event{
		Type:       eventType,
		AuctionID:  auction.AuctionID,
		OccurredAt: now,
		Payload:    payload,
	}
}

func endedEvent(auction model.Auction, now time.Time) model.Event {
	return newEvent(model.EventAuctionEnded, auction, now, model.AuctionEnded{
		AuctionID:  auction.AuctionID,
		Status:     auction.Status,
		WinnerID:   auction.WinnerID,
		FinalPrice: auction.CurrentPrice,
	})
}

func orderFor(auction model.Auction, now time.Time) *model.Order {
	return &model.Order{
		OrderID:    utils.GenerateID(),
		AuctionID:  auction.AuctionID,
		SellerID:   auction.SellerID,
		WinnerID:   auction.WinnerID,
		FinalPrice: auction.CurrentPrice,
		CreatedAt:  now,
	}
}
