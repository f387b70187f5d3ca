package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a state change carried to observers
type EventType string

const (
	EventBidPlaced       EventType = "bid_placed"
	EventAuctionExtended EventType = "auction_extended"
	EventAuctionEnded    EventType = "auction_ended"
	EventOutbid          EventType = "outbid"
	EventProxyExhausted  EventType = "proxy_exhausted"
)

// Event is the envelope handed to the broadcaster. Payload is one of the
// payload structs below, matching Type.
type Event struct {
	Type       EventType `json:"type"`
	AuctionID  string    `json:"auction_id"`
	OccurredAt time.Time `json:"occurred_at"`
	Payload    any       `json:"payload"`
}

// BidPlaced carries the auction state resulting from an accepted bid
type BidPlaced struct {
	AuctionID     string          `json:"auction_id"`
	BidderID      string          `json:"bidder_id"`
	Amount        decimal.Decimal `json:"amount"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	IsWinning     bool            `json:"is_winning"`
	LeaderID      string          `json:"leader_id"`
	BidCount      int             `json:"bid_count"`
	EndTime       time.Time       `json:"end_time"`
	TimeRemaining time.Duration   `json:"time_remaining"`
}

type AuctionExtended struct {
	AuctionID  string    `json:"auction_id"`
	NewEndTime time.Time `json:"new_end_time"`
}

type AuctionEnded struct {
	AuctionID  string          `json:"auction_id"`
	Status     AuctionStatus   `json:"status"`
	WinnerID   string          `json:"winner_id,omitempty"`
	FinalPrice decimal.Decimal `json:"final_price"`
}

// Outbid is addressed to the bidder who just lost the lead
type Outbid struct {
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	CurrentPrice decimal.Decimal `json:"current_price"`
}

// ProxyExhausted tells a bidder their registration no longer covers the price
// and has been deactivated
type ProxyExhausted struct {
	AuctionID    string          `json:"auction_id"`
	BidderID     string          `json:"bidder_id"`
	MaxAmount    decimal.Decimal `json:"max_amount"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	Reason       string          `json:"reason"`
}
