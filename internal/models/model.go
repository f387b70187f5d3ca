package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// AuctionStatus is the lifecycle state of an auction
type AuctionStatus string

const (
	StatusActive    AuctionStatus = "active"
	StatusEnded     AuctionStatus = "ended" // closed without a sale
	StatusSold      AuctionStatus = "sold"
	StatusCancelled AuctionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed from s
func (s AuctionStatus) IsTerminal() bool {
	return s == StatusEnded || s == StatusSold || s == StatusCancelled
}

// Auction is the mutable state of one listing
type Auction struct {
	AuctionID     string           `json:"auction_id"`
	SellerID      string           `json:"seller_id"`
	Title         string           `json:"title"`
	Description   string           `json:"description"`
	StartingPrice decimal.Decimal  `json:"starting_price"`
	CurrentPrice  decimal.Decimal  `json:"current_price"`
	ReservePrice  *decimal.Decimal `json:"reserve_price,omitempty"`
	BuyNowPrice   *decimal.Decimal `json:"buy_now_price,omitempty"`
	MinIncrement  decimal.Decimal  `json:"min_increment"`
	EndTime       time.Time        `json:"end_time"`
	Status        AuctionStatus    `json:"status"`
	BidCount      int              `json:"bid_count"`
	LeaderID      string           `json:"leader_id,omitempty"` // holder of the winning bid while active
	WinnerID      string           `json:"winner_id,omitempty"` // set on close only
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

// MinimumBid is the lowest amount the next bid may carry
func (a Auction) MinimumBid() decimal.Decimal {
	return a.CurrentPrice.Add(a.MinIncrement)
}

// Bid is one row of an auction's append-only ledger
type Bid struct {
	BidID     string          `json:"bid_id"`
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	Seq       int64           `json:"seq"`
	Amount    decimal.Decimal `json:"amount"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	IsWinning bool            `json:"is_winning"`
	IsAutoBid bool            `json:"is_auto_bid"`
	IsBuyNow  bool            `json:"is_buy_now"`
	CreatedAt time.Time       `json:"created_at"`
}

// ProxyBidRegistration is a bidder's standing maximum on an auction
type ProxyBidRegistration struct {
	AuctionID string          `json:"auction_id"`
	BidderID  string          `json:"bidder_id"`
	MaxAmount decimal.Decimal `json:"max_amount"`
	IsActive  bool            `json:"is_active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Order is the settlement signal emitted when an auction is sold
type Order struct {
	OrderID    string          `json:"order_id"`
	AuctionID  string          `json:"auction_id"`
	SellerID   string          `json:"seller_id"`
	WinnerID   string          `json:"winner_id"`
	FinalPrice decimal.Decimal `json:"final_price"`
	CreatedAt  time.Time       `json:"created_at"`
}
