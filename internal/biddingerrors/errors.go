package biddingerrors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Repository-level errors
var (
	ErrAuctionNotFound = errors.New("auction not found")
	ErrAuctionExists   = errors.New("auction already exists")
	ErrNoBids          = errors.New("no bids found for auction")
	ErrUserNoBids      = errors.New("user has not placed any bids")
)

// business logic errors
var (
	ErrInvalidBid         = errors.New("invalid bid")
	ErrInvalidAuction     = errors.New("invalid auction")
	ErrAuctionNotActive   = errors.New("auction not active")
	ErrInvalidBidAmount   = errors.New("bid amount below minimum")
	ErrSelfBidRejected    = errors.New("seller cannot bid on own auction")
	ErrAuctionBusy        = errors.New("auction busy, retry later")
	ErrProxyBidExhausted  = errors.New("proxy bid exhausted")
	ErrLedgerInconsistent = errors.New("ledger replay does not match auction state")
)

// BidAmountError reports a rejected amount together with the minimum the
// caller must offer on retry.
type BidAmountError struct {
	Minimum decimal.Decimal
}

func (e *BidAmountError) Error() string {
	return fmt.Sprintf("%s: minimum is %s", ErrInvalidBidAmount, e.Minimum.StringFixed(2))
}

func (e *BidAmountError) Unwrap() error {
	return ErrInvalidBidAmount
}

// NewBidAmountError builds the InvalidBidAmount failure for the given minimum
func NewBidAmountError(minimum decimal.Decimal) error {
	return &BidAmountError{Minimum: minimum}
}

// MinimumFrom extracts the computed minimum from an InvalidBidAmount failure
func MinimumFrom(err error) (decimal.Decimal, bool) {
	var amountErr *BidAmountError
	if errors.As(err, &amountErr) {
		return amountErr.Minimum, true
	}
	return decimal.Zero, false
}
