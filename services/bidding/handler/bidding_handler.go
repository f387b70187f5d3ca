package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
	"auction-engine/services/bidding/helpers"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

//go:generate mockgen -source=bidding_handler.go -destination=mock_bidding_handler.go -package=handler

type BiddingServiceInterface interface {
	CreateAuction(ctx context.Context, in model.NewAuction) (model.Auction, error)
	GetAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetStoredAuction(ctx context.Context, auctionID string) (model.Auction, error)
	PlaceBid(ctx context.Context, auctionID, bidderID string, amount decimal.Decimal, maxAmount *decimal.Decimal) (model.BidResult, error)
	RegisterProxyBid(ctx context.Context, auctionID, bidderID string, maxAmount decimal.Decimal) (model.BidResult, error)
	CancelAuction(ctx context.Context, auctionID string) (model.Auction, error)
	GetBidHistory(ctx context.Context, auctionID string) ([]model.Bid, error)
	GetWinningBid(ctx context.Context, auctionID string) (model.Bid, error)
	GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error)
	VerifyAuction(ctx context.Context, auctionID string) (model.AuditReport, error)
}

// EventSource is the viewer room registry behind the event stream
type EventSource interface {
	Subscribe(auctionID string) (uint64, <-chan model.Event)
	Unsubscribe(auctionID string, id uint64)
}

type BiddingHandler struct {
	service BiddingServiceInterface
	events  EventSource
	now     func() time.Time
}

func NewBiddingHandler(service BiddingServiceInterface, events EventSource) *BiddingHandler {
	return &BiddingHandler{
		service: service,
		events:  events,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateAuctionHandler handles POST /auctions
func (h *BiddingHandler) CreateAuctionHandler(c *gin.Context) {
	var req helpers.CreateAuctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "CreateAuctionHandler", err)
		return
	}

	auction, err := h.service.CreateAuction(c.Request.Context(), req.ToNewAuction())
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("CreateAuctionHandler: failed to create auction", map[string]any{
			"seller_id": req.SellerID,
			"error":     err.Error(),
		})
		return
	}

	utils.JSONResponse(c, http.StatusCreated, helpers.NewAuctionResponse(auction, h.now()), "auction created successfully")
	helpers.LogSuccess("CreateAuctionHandler", "auction created successfully", map[string]any{
		"auction_id": auction.AuctionID,
		"seller_id":  auction.SellerID,
	})
}

// GetAuctionHandler handles GET /auctions/:auction_id
func (h *BiddingHandler) GetAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.GetAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("GetAuctionHandler: error retrieving auction", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction, h.now()), "auction retrieved successfully")
}

// PlaceBidHandler handles POST /auctions/:auction_id/bids
func (h *BiddingHandler) PlaceBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.PlaceBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "PlaceBidHandler", err)
		return
	}

	result, err := h.service.PlaceBid(c.Request.Context(), auctionID, req.BidderID, req.Amount, req.MaxAmount)
	if err != nil {
		status := helpers.WriteServiceError(c, err)
		fields := map[string]any{
			"handler":    "PlaceBidHandler",
			"auction_id": auctionID,
			"bidder_id":  req.BidderID,
			"error":      err.Error(),
		}
		if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
			utils.Error("PlaceBidHandler: failed to place bid", fields)
		} else {
			utils.Warn("PlaceBidHandler: bid rejected", fields)
		}
		return
	}

	utils.JSONResponse(c, http.StatusCreated, result, "bid placed successfully")
	helpers.LogSuccess("PlaceBidHandler", "bid placed successfully", map[string]any{
		"bid_id":        result.BidID,
		"auction_id":    auctionID,
		"bidder_id":     req.BidderID,
		"amount":        result.AcceptedAmount.String(),
		"is_winning":    result.IsWinning,
		"current_price": result.CurrentPrice.String(),
	})
}

// RegisterProxyBidHandler handles POST /auctions/:auction_id/proxy
func (h *BiddingHandler) RegisterProxyBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	var req helpers.ProxyBidRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		helpers.HandleBindError(c, "RegisterProxyBidHandler", err)
		return
	}

	result, err := h.service.RegisterProxyBid(c.Request.Context(), auctionID, req.BidderID, req.MaxAmount)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("RegisterProxyBidHandler: registration rejected", map[string]any{
			"auction_id": auctionID,
			"bidder_id":  req.BidderID,
			"error":      err.Error(),
		})
		return
	}

	// a registration that could not take the lead places no bid
	status, message := http.StatusOK, "proxy bid registered"
	if result.BidID != "" {
		status, message = http.StatusCreated, "proxy bid registered and placed"
	}
	utils.JSONResponse(c, status, result, message)
	helpers.LogSuccess("RegisterProxyBidHandler", message, map[string]any{
		"auction_id": auctionID,
		"bidder_id":  req.BidderID,
		"is_winning": result.IsWinning,
	})
}

// CancelAuctionHandler handles POST /auctions/:auction_id/cancel
func (h *BiddingHandler) CancelAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	auction, err := h.service.CancelAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("CancelAuctionHandler: cancel rejected", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionResponse(auction, h.now()), "auction cancelled")
	helpers.LogSuccess("CancelAuctionHandler", "auction cancelled", map[string]any{"auction_id": auctionID})
}

// GetBidHistoryHandler handles GET /auctions/:auction_id/bids
func (h *BiddingHandler) GetBidHistoryHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bids, err := h.service.GetBidHistory(c.Request.Context(), auctionID)
	if err != nil && !errors.Is(err, biddingerrors.ErrNoBids) {
		helpers.WriteServiceError(c, err)
		utils.Warn("GetBidHistoryHandler: error retrieving bids", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidHistory(bids), "bids retrieved successfully")
	helpers.LogSuccess("GetBidHistoryHandler", "bids retrieved successfully", map[string]any{
		"auction_id": auctionID,
		"count":      len(bids),
	})
}

// GetWinningBidHandler handles GET /auctions/:auction_id/winning
func (h *BiddingHandler) GetWinningBidHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	bid, err := h.service.GetWinningBid(c.Request.Context(), auctionID)
	if err != nil {
		if errors.Is(err, biddingerrors.ErrNoBids) {
			utils.JSONError(c, http.StatusNotFound, err, "no winning bid found")
			utils.Info("GetWinningBidHandler: no winning bid found", map[string]any{"auction_id": auctionID})
			return
		}
		helpers.WriteServiceError(c, err)
		utils.Warn("GetWinningBidHandler: winning bid error", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewBidResponse(bid), "winning bid retrieved successfully")
}

// GetAuctionsByUserHandler handles GET /users/:user_id/auctions
func (h *BiddingHandler) GetAuctionsByUserHandler(c *gin.Context) {
	userID := c.Param("user_id")
	auctions, err := h.service.GetAuctionsByUser(c.Request.Context(), userID)
	if err != nil && !errors.Is(err, biddingerrors.ErrUserNoBids) {
		helpers.WriteServiceError(c, err)
		utils.Warn("GetAuctionsByUserHandler: error retrieving auctions", map[string]any{"user_id": userID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, helpers.NewAuctionList(auctions, h.now()), "auctions retrieved successfully")
	helpers.LogSuccess("GetAuctionsByUserHandler", "auctions retrieved successfully", map[string]any{
		"user_id":        userID,
		"auctions_count": len(auctions),
	})
}

// VerifyAuctionHandler handles GET /auctions/:auction_id/audit
func (h *BiddingHandler) VerifyAuctionHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	report, err := h.service.VerifyAuction(c.Request.Context(), auctionID)
	if errors.Is(err, biddingerrors.ErrLedgerInconsistent) {
		utils.Error("VerifyAuctionHandler: ledger inconsistent", map[string]any{"auction_id": auctionID})
		c.JSON(http.StatusConflict, gin.H{
			"status":  http.StatusConflict,
			"message": "ledger inconsistent",
			"error":   err.Error(),
			"data":    report,
		})
		return
	}
	if err != nil {
		helpers.WriteServiceError(c, err)
		utils.Warn("VerifyAuctionHandler: audit failed", map[string]any{"auction_id": auctionID, "error": err.Error()})
		return
	}

	utils.JSONResponse(c, http.StatusOK, report, "ledger consistent")
}

// StreamEventsHandler handles GET /auctions/:auction_id/events. It sends a
// snapshot and then the auction's events as Server-Sent Events until the
// auction ends or the client leaves. Passing bidder_id also delivers that
// bidder's outbid and proxy_exhausted notices.
func (h *BiddingHandler) StreamEventsHandler(c *gin.Context) {
	auctionID := c.Param("auction_id")
	viewer := c.Query("bidder_id")

	// join before the snapshot so nothing falls between the two
	subID, events := h.events.Subscribe(auctionID)
	defer h.events.Unsubscribe(auctionID, subID)

	// the snapshot decides whether the stream stays open, so it skips the view cache
	auction, err := h.service.GetStoredAuction(c.Request.Context(), auctionID)
	if err != nil {
		helpers.WriteServiceError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.SSEvent("snapshot", helpers.NewAuctionResponse(auction, h.now()))
	c.Writer.Flush()
	if auction.Status.IsTerminal() {
		return
	}

	utils.Info("StreamEventsHandler: viewer joined", map[string]any{"auction_id": auctionID, "bidder_id": viewer})
	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case ev, ok := <-events:
			if !ok {
				return false
			}
			if visibleTo(ev, viewer) {
				c.SSEvent(string(ev.Type), ev)
			}
			return ev.Type != model.EventAuctionEnded
		}
	})
}

// visibleTo hides bidder-addressed notices from everybody else
func visibleTo(ev model.Event, viewer string) bool {
	switch p := ev.Payload.(type) {
	case model.Outbid:
		return p.BidderID == viewer
	case model.ProxyExhausted:
		return p.BidderID == viewer
	default:
		return true
	}
}
