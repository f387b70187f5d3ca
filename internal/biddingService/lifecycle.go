package bidding

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/utils"
	"context"
	"errors"
	"fmt"
	"time"
)

// Tick drives every auction whose end time is at or before now to a terminal
// state. An auction that cannot be closed this round is logged and picked up
// again by the next tick; calling Tick more often than needed is harmless.
func (s *BiddingService) Tick(ctx context.Context, now time.Time) (model.TickReport, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	due, err := s.repo.ListDueAuctions(ctx, now)
	if err != nil {
		return model.TickReport{}, fmt.Errorf("service: list due auctions: %w", err)
	}

	report := model.TickReport{Due: len(due)}
	for _, auction := range due {
		if ctx.Err() != nil {
			report.Deferred += len(due) - report.Closed - report.Skipped - report.Deferred
			break
		}

		closed, err := s.closeAuction(ctx, auction.AuctionID, now)
		switch {
		case err != nil:
			report.Deferred++
			fields := map[string]any{"auction_id": auction.AuctionID, "error": err.Error()}
			if errors.Is(err, biddingerrors.ErrAuctionBusy) {
				utils.Warn("Tick: auction busy, close deferred to next sweep", fields)
			} else {
				utils.Error("Tick: failed to close auction", fields)
			}
		case closed:
			report.Closed++
		default:
			report.Skipped++
		}
	}

	if report.Due > 0 {
		utils.Info("lifecycle sweep finished", map[string]any{
			"due":      report.Due,
			"closed":   report.Closed,
			"skipped":  report.Skipped,
			"deferred": report.Deferred,
		})
	}
	return report, nil
}

// closeAuction settles one due auction inside its section. It reports false
// when the auction was already terminal or had been extended past now by a
// bid that won the race for the section.
func (s *BiddingService) closeAuction(ctx context.Context, auctionID string, now time.Time) (bool, error) {
	var closed bool
	err := s.inSection(ctx, auctionID, func(auction model.Auction, _ time.Time) (outcome, error) {
		if auction.Status != model.StatusActive || auction.EndTime.After(now) {
			return outcome{}, nil
		}

		final := auction
		final.UpdatedAt = now
		final.Status = model.StatusEnded

		winning, err := s.repo.GetWinningBid(ctx, auctionID)
		switch {
		case errors.Is(err, biddingerrors.ErrNoBids):
		case err != nil:
			return outcome{}, err
		case auction.ReservePrice != nil && winning.Amount.LessThan(*auction.ReservePrice):
			utils.Info("reserve not met", map[string]any{"auction_id": auctionID, "high_bid": winning.Amount.String()})
		default:
			final.CurrentPrice = winning.Amount
			final.Status = model.StatusSold
			final.WinnerID = winning.BidderID
		}

		regs, err := s.closeRegistrations(ctx, auctionID, now)
		if err != nil {
			return outcome{}, err
		}
		if _, err := s.repo.Commit(ctx, repository.Mutation{Auction: final, Registrations: regs}); err != nil {
			return outcome{}, err
		}
		closed = true

		utils.Info("auction closed", map[string]any{
			"auction_id":  auctionID,
			"status":      string(final.Status),
			"winner_id":   final.WinnerID,
			"final_price": final.CurrentPrice.String(),
		})

		out := outcome{
			committed:    true,
			auction:      final,
			events:       []model.Event{endedEvent(final, now)},
			terminal:     true,
			closedStatus: final.Status,
		}
		if final.Status == model.StatusSold {
			out.order = orderFor(final, now)
		}
		return out, nil
	})
	return closed, err
}

// Scheduler calls Tick on a fixed interval until its context ends
type Scheduler struct {
	svc      *BiddingService
	interval time.Duration
	now      func() time.Time
}

// NewScheduler creates a scheduler sweeping every interval; a non-positive
// interval falls back to one second
func NewScheduler(svc *BiddingService, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Scheduler{svc: svc, interval: interval, now: svc.now}
}

// Run sweeps once immediately and then on every tick. It returns nil when ctx
// is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	utils.Info("lifecycle scheduler started", map[string]any{"interval": s.interval.String()})

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			utils.Info("lifecycle scheduler stopped", nil)
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	if _, err := s.svc.Tick(ctx, s.now()); err != nil {
		utils.Error("lifecycle sweep failed", map[string]any{"error": err.Error()})
	}
}
