package settlement

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	model "auction-engine/internal/models"
	"auction-engine/internal/repository"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newOrderBook(t *testing.T) *SQLiteOrderBook {
	t.Helper()
	db, err := repository.OpenSQLite(filepath.Join(t.TempDir(), "orders.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	book, err := NewSQLiteOrderBook(db)
	require.NoError(t, err)
	return book
}

func TestSQLiteOrderBook_CreateOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	book := newOrderBook(t)

	order := model.Order{
		OrderID:    "o1",
		AuctionID:  "a1",
		SellerID:   "seller",
		WinnerID:   "user1",
		FinalPrice: decimal.RequireFromString("250.50"),
		CreatedAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	require.NoError(t, book.CreateOrder(ctx, order))

	got, err := book.GetOrder(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, order.OrderID, got.OrderID)
	require.Equal(t, order.WinnerID, got.WinnerID)
	require.True(t, got.FinalPrice.Equal(order.FinalPrice))
	require.Equal(t, order.CreatedAt, got.CreatedAt)

	// a repeated signal for the same auction keeps the first order
	duplicate := order
	duplicate.OrderID = "o2"
	duplicate.WinnerID = "user2"
	require.NoError(t, book.CreateOrder(ctx, duplicate))

	got, err = book.GetOrder(ctx, "a1")
	require.NoError(t, err)
	require.Equal(t, "o1", got.OrderID)
	require.Equal(t, "user1", got.WinnerID)
}

func TestSQLiteOrderBook_Errors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	book := newOrderBook(t)

	_, err := book.GetOrder(ctx, "missing")
	require.ErrorIs(t, err, ErrOrderNotFound)

	require.Error(t, book.CreateOrder(ctx, model.Order{OrderID: "o1", AuctionID: "a1"}))
}
