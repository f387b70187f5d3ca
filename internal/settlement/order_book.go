// Package settlement records the orders of sold auctions
package settlement

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	model "auction-engine/internal/models"
	"auction-engine/utils"

	"github.com/shopspring/decimal"
)

// ErrOrderNotFound is returned when no order exists for an auction
var ErrOrderNotFound = errors.New("order not found")

// SQLiteOrderBook stores one order per sold auction. Creating an order for an
// auction that already has one is a no-op, so a repeated signal never
// double-charges the winner.
type SQLiteOrderBook struct {
	db *sql.DB
}

// NewSQLiteOrderBook creates the orders table if needed
func NewSQLiteOrderBook(db *sql.DB) (*SQLiteOrderBook, error) {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS orders (
		order_id TEXT NOT NULL UNIQUE,
		auction_id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		winner_id TEXT NOT NULL,
		final_price TEXT NOT NULL,
		created_at INTEGER NOT NULL
	)`)
	if err != nil {
		return nil, fmt.Errorf("create orders table: %w", err)
	}
	return &SQLiteOrderBook{db: db}, nil
}

// CreateOrder stores order unless its auction already has one
func (b *SQLiteOrderBook) CreateOrder(ctx context.Context, order model.Order) error {
	if order.AuctionID == "" || order.WinnerID == "" {
		return errors.New("create order: missing auction or winner")
	}

	res, err := b.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO orders (order_id, auction_id, seller_id, winner_id, final_price, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		order.OrderID, order.AuctionID, order.SellerID, order.WinnerID,
		order.FinalPrice.String(), order.CreatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("create order for auction %s: %w", order.AuctionID, err)
	}

	if n, _ := res.RowsAffected(); n == 0 {
		utils.Warn("settlement: order already exists", map[string]any{"auction_id": order.AuctionID})
		return nil
	}
	utils.Info("settlement: order created", map[string]any{
		"order_id":    order.OrderID,
		"auction_id":  order.AuctionID,
		"winner_id":   order.WinnerID,
		"final_price": order.FinalPrice.String(),
	})
	return nil
}

// GetOrder returns the order of a sold auction
func (b *SQLiteOrderBook) GetOrder(ctx context.Context, auctionID string) (model.Order, error) {
	var (
		order     model.Order
		price     string
		createdAt int64
	)
	err := b.db.QueryRowContext(ctx, `
		SELECT order_id, auction_id, seller_id, winner_id, final_price, created_at
		FROM orders WHERE auction_id = ?`, auctionID).
		Scan(&order.OrderID, &order.AuctionID, &order.SellerID, &order.WinnerID, &price, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, fmt.Errorf("get order for auction %s: %w", auctionID, ErrOrderNotFound)
	}
	if err != nil {
		return model.Order{}, fmt.Errorf("get order for auction %s: %w", auctionID, err)
	}

	if order.FinalPrice, err = decimal.NewFromString(price); err != nil {
		return model.Order{}, fmt.Errorf("order %s final_price: %w", order.OrderID, err)
	}
	order.CreatedAt = time.Unix(0, createdAt).UTC()
	return order, nil
}
