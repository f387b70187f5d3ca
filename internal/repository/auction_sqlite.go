package repository

import (
	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO
)

// SQLiteRepo implements AuctionDB on SQLite so auction state survives restarts.
// Commit runs in one transaction.
type SQLiteRepo struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database file at path with WAL enabled
func OpenSQLite(path string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// SQLite only supports one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	return db, nil
}

// NewSQLiteRepo creates the schema if needed and returns the repository
func NewSQLiteRepo(db *sql.DB) (*SQLiteRepo, error) {
	if err := createAuctionTables(db); err != nil {
		return nil, fmt.Errorf("create auction tables: %w", err)
	}
	return &SQLiteRepo{db: db}, nil
}

func createAuctionTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS auctions (
		auction_id TEXT PRIMARY KEY,
		seller_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		starting_price TEXT NOT NULL,
		current_price TEXT NOT NULL,
		reserve_price TEXT,
		buy_now_price TEXT,
		min_increment TEXT NOT NULL,
		end_time INTEGER NOT NULL,
		status TEXT NOT NULL,
		bid_count INTEGER NOT NULL DEFAULT 0,
		leader_id TEXT NOT NULL DEFAULT '',
		winner_id TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_auctions_due ON auctions(status, end_time);

	CREATE TABLE IF NOT EXISTS bids (
		bid_id TEXT PRIMARY KEY,
		auction_id TEXT NOT NULL REFERENCES auctions(auction_id),
		bidder_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		amount TEXT NOT NULL,
		max_amount TEXT NOT NULL,
		is_winning INTEGER NOT NULL,
		is_auto_bid INTEGER NOT NULL,
		is_buy_now INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE (auction_id, seq)
	);
	CREATE INDEX IF NOT EXISTS idx_bids_bidder ON bids(bidder_id);

	CREATE TABLE IF NOT EXISTS proxy_registrations (
		auction_id TEXT NOT NULL REFERENCES auctions(auction_id),
		bidder_id TEXT NOT NULL,
		max_amount TEXT NOT NULL,
		is_active INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (auction_id, bidder_id)
	);
	`
	_, err := db.Exec(query)
	return err
}

const auctionColumns = `auction_id, seller_id, title, description, starting_price, current_price,
	reserve_price, buy_now_price, min_increment, end_time, status, bid_count, leader_id, winner_id,
	created_at, updated_at`

const bidColumns = `bid_id, auction_id, bidder_id, seq, amount, max_amount, is_winning, is_auto_bid, is_buy_now, created_at`

// CreateAuction stores a new auction
func (r *SQLiteRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	if auction.AuctionID == "" {
		return fmt.Errorf("create auction: %w", biddingerrors.ErrInvalidAuction)
	}

	query := `INSERT INTO auctions (` + auctionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	_, err := r.db.ExecContext(ctx, query, auctionArgs(auction)...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("create auction %s: %w", auction.AuctionID, biddingerrors.ErrAuctionExists)
		}
		return fmt.Errorf("create auction %s: %w", auction.AuctionID, err)
	}
	return nil
}

// GetAuction returns the current state of an auction
func (r *SQLiteRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auctionColumns+` FROM auctions WHERE auction_id = ?`, auctionID)
	auction, err := scanAuction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return auction, nil
}

// ListDueAuctions returns active auctions whose end time is at or before now
func (r *SQLiteRepo) ListDueAuctions(ctx context.Context, now time.Time) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE status = ? AND end_time <= ? ORDER BY end_time`,
		string(model.StatusActive), now.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list due auctions: %w", err)
	}
	defer rows.Close()

	due := make([]model.Auction, 0)
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("list due auctions: %w", err)
		}
		due = append(due, auction)
	}
	return due, rows.Err()
}

// GetBidsByAuction returns the ledger of an auction in Seq order
func (r *SQLiteRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := r.GetAuction(ctx, auctionID); err != nil {
		return nil, err
	}

	bids, err := r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = ? ORDER BY seq`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	if len(bids) == 0 {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return bids, nil
}

// GetWinningBid returns the ledger row currently flagged winning
func (r *SQLiteRepo) GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error) {
	bids, err := r.queryBids(ctx, `SELECT `+bidColumns+` FROM bids WHERE auction_id = ? AND is_winning = 1`, auctionID)
	if err != nil {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, err)
	}
	if len(bids) == 0 {
		return model.Bid{}, fmt.Errorf("get winning bid for auction %s: %w", auctionID, biddingerrors.ErrNoBids)
	}
	return bids[0], nil
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *SQLiteRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE auction_id IN
			(SELECT DISTINCT auction_id FROM bids WHERE bidder_id = ?) ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	defer rows.Close()

	auctions := make([]model.Auction, 0)
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
		}
		auctions = append(auctions, auction)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

// GetRegistration returns the proxy registration of a bidder, if any
func (r *SQLiteRepo) GetRegistration(ctx context.Context, auctionID, bidderID string) (model.ProxyBidRegistration, bool, error) {
	regs, err := r.queryRegistrations(ctx,
		`SELECT auction_id, bidder_id, max_amount, is_active, created_at, updated_at
		FROM proxy_registrations WHERE auction_id = ? AND bidder_id = ?`, auctionID, bidderID)
	if err != nil {
		return model.ProxyBidRegistration{}, false, fmt.Errorf("get registration %s/%s: %w", auctionID, bidderID, err)
	}
	if len(regs) == 0 {
		return model.ProxyBidRegistration{}, false, nil
	}
	return regs[0], true, nil
}

// GetActiveRegistrations returns the active proxy registrations of an auction, oldest first
func (r *SQLiteRepo) GetActiveRegistrations(ctx context.Context, auctionID string) ([]model.ProxyBidRegistration, error) {
	regs, err := r.queryRegistrations(ctx,
		`SELECT auction_id, bidder_id, max_amount, is_active, created_at, updated_at
		FROM proxy_registrations WHERE auction_id = ? AND is_active = 1 ORDER BY created_at`, auctionID)
	if err != nil {
		return nil, fmt.Errorf("get active registrations for %s: %w", auctionID, err)
	}
	return regs, nil
}

// Commit applies a mutation in a single transaction
func (r *SQLiteRepo) Commit(ctx context.Context, m Mutation) ([]model.Bid, error) {
	auctionID := m.Auction.AuctionID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("commit auction %s: begin: %w", auctionID, err)
	}
	defer tx.Rollback()

	args := append(auctionArgs(m.Auction)[1:], auctionID)
	res, err := tx.ExecContext(ctx, `UPDATE auctions SET seller_id = ?, title = ?, description = ?,
		starting_price = ?, current_price = ?, reserve_price = ?, buy_now_price = ?, min_increment = ?,
		end_time = ?, status = ?, bid_count = ?, leader_id = ?, winner_id = ?, created_at = ?, updated_at = ?
		WHERE auction_id = ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("commit auction %s: update: %w", auctionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("commit auction %s: %w", auctionID, biddingerrors.ErrAuctionNotFound)
	}

	if m.ClearWinning {
		if _, err := tx.ExecContext(ctx, `UPDATE bids SET is_winning = 0 WHERE auction_id = ?`, auctionID); err != nil {
			return nil, fmt.Errorf("commit auction %s: clear winning: %w", auctionID, err)
		}
	}

	var lastSeq int64
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq), 0) FROM bids WHERE auction_id = ?`, auctionID).Scan(&lastSeq); err != nil {
		return nil, fmt.Errorf("commit auction %s: last seq: %w", auctionID, err)
	}

	appended := make([]model.Bid, 0, len(m.NewBids))
	for _, b := range m.NewBids {
		if b.AuctionID != auctionID {
			return nil, fmt.Errorf("commit auction %s: bid %s targets %s: %w", auctionID, b.BidID, b.AuctionID, biddingerrors.ErrInvalidBid)
		}
		lastSeq++
		b.Seq = lastSeq
		_, err := tx.ExecContext(ctx, `INSERT INTO bids (`+bidColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			b.BidID, b.AuctionID, b.BidderID, b.Seq, b.Amount.String(), b.MaxAmount.String(),
			b.IsWinning, b.IsAutoBid, b.IsBuyNow, b.CreatedAt.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("commit auction %s: insert bid %s: %w", auctionID, b.BidID, err)
		}
		appended = append(appended, b)
	}

	for _, reg := range m.Registrations {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO proxy_registrations (auction_id, bidder_id, max_amount, is_active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(auction_id, bidder_id) DO UPDATE SET
				max_amount = excluded.max_amount,
				is_active = excluded.is_active,
				updated_at = excluded.updated_at`,
			reg.AuctionID, reg.BidderID, reg.MaxAmount.String(), reg.IsActive,
			reg.CreatedAt.UnixNano(), reg.UpdatedAt.UnixNano())
		if err != nil {
			return nil, fmt.Errorf("commit auction %s: upsert registration %s: %w", auctionID, reg.BidderID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit auction %s: %w", auctionID, err)
	}
	return appended, nil
}

// Close closes the database connection.
func (r *SQLiteRepo) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func auctionArgs(a model.Auction) []any {
	return []any{
		a.AuctionID, a.SellerID, a.Title, a.Description,
		a.StartingPrice.String(), a.CurrentPrice.String(),
		nullableDecimal(a.ReservePrice), nullableDecimal(a.BuyNowPrice),
		a.MinIncrement.String(), a.EndTime.UnixNano(), string(a.Status), a.BidCount,
		a.LeaderID, a.WinnerID, a.CreatedAt.UnixNano(), a.UpdatedAt.UnixNano(),
	}
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a                             model.Auction
		starting, current, increment  string
		reserve, buyNow               sql.NullString
		status                        string
		endTime, createdAt, updatedAt int64
	)
	err := row.Scan(&a.AuctionID, &a.SellerID, &a.Title, &a.Description, &starting, &current,
		&reserve, &buyNow, &increment, &endTime, &status, &a.BidCount, &a.LeaderID, &a.WinnerID,
		&createdAt, &updatedAt)
	if err != nil {
		return model.Auction{}, err
	}

	if a.StartingPrice, err = decimal.NewFromString(starting); err != nil {
		return model.Auction{}, fmt.Errorf("starting_price: %w", err)
	}
	if a.CurrentPrice, err = decimal.NewFromString(current); err != nil {
		return model.Auction{}, fmt.Errorf("current_price: %w", err)
	}
	if a.MinIncrement, err = decimal.NewFromString(increment); err != nil {
		return model.Auction{}, fmt.Errorf("min_increment: %w", err)
	}
	if a.ReservePrice, err = parseNullableDecimal(reserve); err != nil {
		return model.Auction{}, fmt.Errorf("reserve_price: %w", err)
	}
	if a.BuyNowPrice, err = parseNullableDecimal(buyNow); err != nil {
		return model.Auction{}, fmt.Errorf("buy_now_price: %w", err)
	}
	a.Status = model.AuctionStatus(status)
	a.EndTime = time.Unix(0, endTime).UTC()
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return a, nil
}

func (r *SQLiteRepo) queryBids(ctx context.Context, query string, args ...any) ([]model.Bid, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	bids := make([]model.Bid, 0)
	for rows.Next() {
		var (
			b                 model.Bid
			amount, maxAmount string
			createdAt         int64
		)
		if err := rows.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.Seq, &amount, &maxAmount,
			&b.IsWinning, &b.IsAutoBid, &b.IsBuyNow, &createdAt); err != nil {
			return nil, err
		}
		if b.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("bid %s amount: %w", b.BidID, err)
		}
		if b.MaxAmount, err = decimal.NewFromString(maxAmount); err != nil {
			return nil, fmt.Errorf("bid %s max_amount: %w", b.BidID, err)
		}
		b.CreatedAt = time.Unix(0, createdAt).UTC()
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

func (r *SQLiteRepo) queryRegistrations(ctx context.Context, query string, args ...any) ([]model.ProxyBidRegistration, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	regs := make([]model.ProxyBidRegistration, 0)
	for rows.Next() {
		var (
			reg                  model.ProxyBidRegistration
			maxAmount            string
			createdAt, updatedAt int64
		)
		if err := rows.Scan(&reg.AuctionID, &reg.BidderID, &maxAmount, &reg.IsActive, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if reg.MaxAmount, err = decimal.NewFromString(maxAmount); err != nil {
			return nil, fmt.Errorf("registration %s max_amount: %w", reg.BidderID, err)
		}
		reg.CreatedAt = time.Unix(0, createdAt).UTC()
		reg.UpdatedAt = time.Unix(0, updatedAt).UTC()
		regs = append(regs, reg)
	}
	return regs, rows.Err()
}

func nullableDecimal(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

func parseNullableDecimal(s sql.NullString) (*decimal.Decimal, error) {
	if !s.Valid {
		return nil, nil
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

var _ AuctionDB = (*SQLiteRepo)(nil)
