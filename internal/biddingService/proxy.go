package bidding

import (
	model "auction-engine/internal/models"

	"github.com/shopspring/decimal"
)

// standing is the resolved position of an auction: who leads, the ceiling
// they declared, and the visible price
type standing struct {
	LeaderID  string
	LeaderMax decimal.Decimal
	Price     decimal.Decimal
}

func (s standing) hasLeader() bool {
	return s.LeaderID != ""
}

// challenge is the outcome of applying one ceiling against a standing
type challenge struct {
	next          standing
	leaderChanged bool
	priceMoved    bool
}

// resolveChallenge applies a bid from bidderID carrying amount and ceiling
// maxAmount. The visible price is the lower of the highest ceiling and one
// increment above the second-highest ceiling; on equal ceilings the existing
// leader keeps the lead.
func resolveChallenge(cur standing, bidderID string, amount, maxAmount, increment decimal.Decimal) challenge {
	switch {
	case !cur.hasLeader():
		return challenge{
			next:          standing{LeaderID: bidderID, LeaderMax: maxAmount, Price: decimal.Max(amount, cur.Price)},
			leaderChanged: true,
			priceMoved:    amount.GreaterThan(cur.Price),
		}

	case bidderID == cur.LeaderID:
		// leader raising their own ceiling never moves the price
		next := cur
		next.LeaderMax = decimal.Max(cur.LeaderMax, maxAmount)
		return challenge{next: next}

	case maxAmount.GreaterThan(cur.LeaderMax):
		price := decimal.Min(maxAmount, cur.LeaderMax.Add(increment))
		price = decimal.Max(price, cur.Price)
		return challenge{
			next:          standing{LeaderID: bidderID, LeaderMax: maxAmount, Price: price},
			leaderChanged: true,
			priceMoved:    price.GreaterThan(cur.Price),
		}

	default:
		price := decimal.Min(cur.LeaderMax, maxAmount.Add(increment))
		price = decimal.Max(price, cur.Price)
		next := cur
		next.Price = price
		return challenge{next: next, priceMoved: price.GreaterThan(cur.Price)}
	}
}

// Replay recomputes the standing of an auction from its ordered ledger alone.
// Auto-bids recorded for the leader only ever restate or raise the leader's
// ceiling, so replaying every row in order reproduces the live resolution.
func Replay(auction model.Auction, bids []model.Bid) (leaderID string, leaderMax, price decimal.Decimal) {
	cur := standing{Price: auction.StartingPrice}
	for _, b := range bids {
		if b.IsBuyNow {
			cur = standing{LeaderID: b.BidderID, LeaderMax: b.MaxAmount, Price: b.Amount}
			break
		}
		cur = resolveChallenge(cur, b.BidderID, b.Amount, b.MaxAmount, auction.MinIncrement).next
	}
	return cur.LeaderID, cur.LeaderMax, cur.Price
}
