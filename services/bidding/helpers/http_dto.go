package helpers

import (
	"time"

	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// Request/Response DTOs
type PlaceBidRequest struct {
	BidderID  string           `json:"bidder_id" binding:"required"`
	Amount    decimal.Decimal  `json:"amount"`
	MaxAmount *decimal.Decimal `json:"max_amount,omitempty"`
}

type ProxyBidRequest struct {
	BidderID  string          `json:"bidder_id" binding:"required"`
	MaxAmount decimal.Decimal `json:"max_amount"`
}

type CreateAuctionRequest struct {
	AuctionID     string           `json:"auction_id,omitempty"`
	SellerID      string           `json:"seller_id" binding:"required"`
	Title         string           `json:"title" binding:"required"`
	Description   string           `json:"description"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	BuyNowPrice   *decimal.Decimal `json:"buy_now_price,omitempty"`
	MinIncrement  *decimal.Decimal `json:"min_increment,omitempty"`
	EndTime       time.Time        `json:"end_time"`
}

// ToNewAuction converts the request into the service input
func (r CreateAuctionRequest) ToNewAuction() model.NewAuction {
	return model.NewAuction{
		AuctionID:     r.AuctionID,
		SellerID:      r.SellerID,
		Title:         r.Title,
		Description:   r.Description,
		StartingPrice: r.StartingPrice,
		ReservePrice:  r.ReservePrice,
		BuyNowPrice:   r.BuyNowPrice,
		MinIncrement:  r.MinIncrement,
		EndTime:       r.EndTime,
	}
}

// BidResponse is a ledger row as shown to other bidders. The proxy ceiling
// stays private.
type BidResponse struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Amount    decimal.Decimal `json:"amount"`
	IsWinning bool            `json:"is_winning"`
	IsAutoBid bool            `json:"is_auto_bid"`
	IsBuyNow  bool            `json:"is_buy_now"`
	CreatedAt string          `json:"created_at"`
}

func NewBidResponse(bid model.Bid) BidResponse {
	return BidResponse{
		BidID:     bid.BidID,
		AuctionID: bid.AuctionID,
		BidderID:  bid.BidderID,
		Amount:    bid.Amount,
		IsWinning: bid.IsWinning,
		IsAutoBid: bid.IsAutoBid,
		IsBuyNow:  bid.IsBuyNow,
		CreatedAt: bid.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func NewBidHistory(bids []model.Bid) []BidResponse {
	out := make([]BidResponse, 0, len(bids))
	for _, b := range bids {
		out = append(out, NewBidResponse(b))
	}
	return out
}

// AuctionResponse is the public view of an auction
type AuctionResponse struct {
	AuctionID        string           `json:"auction_id"`
	SellerID         string           `json:"seller_id"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	StartingPrice    decimal.Decimal  `json:"starting_price"`
	CurrentPrice     decimal.Decimal  `json:"current_price"`
	MinimumBid       decimal.Decimal  `json:"minimum_bid"`
	ReserveMet       *bool            `json:"reserve_met,omitempty"`
	BuyNowPrice      *decimal.Decimal `json:"buy_now_price,omitempty"`
	MinIncrement     decimal.Decimal  `json:"min_increment"`
	BidCount         int              `json:"bid_count"`
	LeaderID         string           `json:"leader_id,omitempty"`
	WinnerID         string           `json:"winner_id,omitempty"`
	Status           string           `json:"status"`
	EndTime          string           `json:"end_time"`
	RemainingSeconds int64            `json:"remaining_seconds"`
}

// NewAuctionResponse builds the view at now. The reserve amount itself is
// never disclosed, only whether the current price meets it.
func NewAuctionResponse(a model.Auction, now time.Time) AuctionResponse {
	resp := AuctionResponse{
		AuctionID:     a.AuctionID,
		SellerID:      a.SellerID,
		Title:         a.Title,
		Description:   a.Description,
		StartingPrice: a.StartingPrice,
		CurrentPrice:  a.CurrentPrice,
		MinimumBid:    a.MinimumBid(),
		BuyNowPrice:   a.BuyNowPrice,
		MinIncrement:  a.MinIncrement,
		BidCount:      a.BidCount,
		LeaderID:      a.LeaderID,
		WinnerID:      a.WinnerID,
		Status:        string(a.Status),
		EndTime:       a.EndTime.UTC().Format(time.RFC3339),
	}
	if a.ReservePrice != nil {
		met := a.BidCount > 0 && a.CurrentPrice.GreaterThanOrEqual(*a.ReservePrice)
		resp.ReserveMet = &met
	}
	if !a.Status.IsTerminal() && a.EndTime.After(now) {
		resp.RemainingSeconds = int64(a.EndTime.Sub(now).Seconds())
	}
	return resp
}

func NewAuctionList(auctions []model.Auction, now time.Time) []AuctionResponse {
	out := make([]AuctionResponse, 0, len(auctions))
	for _, a := range auctions {
		out = append(out, NewAuctionResponse(a, now))
	}
	return out
}
