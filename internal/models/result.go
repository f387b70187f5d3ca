package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidResult is the auction state observed by a bidder right after their bid
// or proxy registration was applied
type BidResult struct {
	BidID          string          `json:"bid_id,omitempty"`
	AuctionID      string          `json:"auction_id"`
	BidderID       string          `json:"bidder_id"`
	AcceptedAmount decimal.Decimal `json:"accepted_amount"`
	IsWinning      bool            `json:"is_winning"`
	CurrentPrice   decimal.Decimal `json:"current_price"`
	BidCount       int             `json:"bid_count"`
	EndTime        time.Time       `json:"end_time"`
	Extended       bool            `json:"extended"`
	Status         AuctionStatus   `json:"status"`
}

// NewAuction is the input of the listing seed operation
type NewAuction struct {
	AuctionID     string
	SellerID      string
	Title         string
	Description   string
	StartingPrice decimal.Decimal
	ReservePrice  *decimal.Decimal
	BuyNowPrice   *decimal.Decimal
	MinIncrement  *decimal.Decimal
	EndTime       time.Time
}

// AuditReport compares stored auction state with a replay of its ledger
type AuditReport struct {
	AuctionID      string          `json:"auction_id"`
	Status         AuctionStatus   `json:"status"`
	StoredLeader   string          `json:"stored_leader"`
	StoredPrice    decimal.Decimal `json:"stored_price"`
	ReplayedLeader string          `json:"replayed_leader"`
	ReplayedPrice  decimal.Decimal `json:"replayed_price"`
	WinningBids    int             `json:"winning_bids"`
	LedgerSize     int             `json:"ledger_size"`
	Consistent     bool            `json:"consistent"`
}

// TickReport summarizes one lifecycle sweep
type TickReport struct {
	Due      int `json:"due"`
	Closed   int `json:"closed"`
	Skipped  int `json:"skipped"`
	Deferred int `json:"deferred"`
}
