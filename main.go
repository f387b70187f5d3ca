package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/biddingerrors"
	"auction-engine/internal/cache"
	"auction-engine/internal/config"
	"auction-engine/internal/events"
	"auction-engine/internal/metrics"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"
	"auction-engine/internal/settlement"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	utils.SetLevel(cfg.Log.Level)
	gin.SetMode(cfg.Server.GinMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		utils.Fatal("auction server stopped with error", map[string]any{"error": err.Error()})
	}
	utils.Info("auction server stopped", nil)
}

func run(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(cfg.Store.SQLitePath)
	if err != nil {
		return err
	}
	defer db.Close()

	repo, err := newStore(cfg, db)
	if err != nil {
		return err
	}

	orders, err := settlement.NewSQLiteOrderBook(db)
	if err != nil {
		return err
	}

	var rdb *redis.Client
	if cfg.Cache.UsesRedis() {
		if rdb, err = connectRedis(ctx, cfg); err != nil {
			return err
		}
		defer rdb.Close()
	}

	hub := events.NewHub(events.DefaultRoomBuffer)
	var publisher events.Publisher = hub
	if cfg.Cache.EventRelay {
		publisher = events.Fanout{hub, events.NewRedisRelay(rdb, "")}
	}

	var views bidding.ViewCache = cache.NewMemoryViewCache(cfg.Cache.TTL)
	if cfg.Cache.Type == "redis" {
		views = cache.NewRedisViewCache(rdb, cfg.Cache.TTL)
	}

	var (
		engineMetrics  *metrics.Metrics
		metricsHandler http.Handler
	)
	if cfg.Metrics {
		reg := metrics.NewRegistry()
		engineMetrics = metrics.New(reg)
		metricsHandler = metrics.Handler(reg)
	}

	minIncrement, err := cfg.Auction.MinIncrement()
	if err != nil {
		return err
	}
	svc := bidding.NewBiddingService(repo,
		bidding.WithConfig(bidding.Config{
			ExtensionWindow:     cfg.Auction.ExtensionWindow,
			LockWait:            cfg.Auction.LockWait,
			DefaultMinIncrement: minIncrement,
			AfterCommitTimeout:  cfg.Auction.AfterCommitTimeout,
		}),
		bidding.WithBroadcaster(publisher),
		bidding.WithSettlement(orders),
		bidding.WithViewCache(views),
		bidding.WithMetrics(engineMetrics),
	)

	if cfg.Seed {
		if err := seedDemoAuctions(ctx, svc); err != nil {
			return err
		}
	}

	srv := &http.Server{
		Addr:              cfg.Server.Address(),
		Handler:           server.SetupRouter(svc, hub, metricsHandler),
		ReadHeaderTimeout: 10 * time.Second,
	}
	scheduler := bidding.NewScheduler(svc, cfg.Auction.SweepInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		utils.Info("starting auction server", map[string]any{
			"address": srv.Addr,
			"store":   cfg.Store.Type,
			"cache":   cfg.Cache.Type,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return scheduler.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		utils.Info("shutting down auction server", map[string]any{"timeout": cfg.Server.ShutdownTimeout.String()})

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// openDatabase opens the SQLite file holding orders and, with STORE_TYPE=sqlite,
// the auctions themselves
func openDatabase(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir %s: %w", dir, err)
		}
	}
	return repository.OpenSQLite(path)
}

func newStore(cfg *config.Config, db *sql.DB) (repository.AuctionDB, error) {
	if cfg.Store.Type == "sqlite" {
		return repository.NewSQLiteRepo(db)
	}
	return repository.NewMemoryRepo(), nil
}

func connectRedis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Cache.RedisAddress(),
		Password: cfg.Cache.RedisPassword,
		DB:       cfg.Cache.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis %s: %w", cfg.Cache.RedisAddress(), err)
	}
	return rdb, nil
}

// seedDemoAuctions adds sample auctions so the API can be tried right away.
// Auctions kept from an earlier run are left alone.
func seedDemoAuctions(ctx context.Context, svc *bidding.BiddingService) error {
	reserve := decimal.NewFromInt(250)
	buyNow := decimal.NewFromInt(500)
	now := time.Now().UTC()

	demo := []model.NewAuction{
		{AuctionID: "demo-1", SellerID: "seller1", Title: "Vintage camera", Description: "Working rangefinder", StartingPrice: decimal.NewFromInt(100), EndTime: now.Add(30 * time.Minute)},
		{AuctionID: "demo-2", SellerID: "seller1", Title: "Road bike", Description: "Reserve auction", StartingPrice: decimal.NewFromInt(200), ReservePrice: &reserve, EndTime: now.Add(time.Hour)},
		{AuctionID: "demo-3", SellerID: "seller2", Title: "Guitar", Description: "Buy it now available", StartingPrice: decimal.NewFromInt(150), BuyNowPrice: &buyNow, EndTime: now.Add(2 * time.Hour)},
	}

	for _, in := range demo {
		_, err := svc.CreateAuction(ctx, in)
		if errors.Is(err, biddingerrors.ErrAuctionExists) {
			continue
		}
		if err != nil {
			return fmt.Errorf("seed auction %s: %w", in.AuctionID, err)
		}
	}
	utils.Info("demo auctions ready", map[string]any{"count": len(demo)})
	return nil
}
