package helpers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"auction-engine/internal/biddingerrors"
	"auction-engine/utils"

	"github.com/gin-gonic/gin"
)

// RetryAfter is the Retry-After hint sent with AuctionBusy responses
const RetryAfter = time.Second

// HandleBindError sends a standardized JSON error for binding failures
func HandleBindError(c *gin.Context, handlerName string, err error) {
	wrappedErr := fmt.Errorf("invalid request payload: %w", err)
	utils.JSONError(c, http.StatusBadRequest, wrappedErr, "invalid request payload")
	utils.Warn(handlerName+": binding error", map[string]any{"error": err.Error()})
}

// MapErrorToHTTP maps domain/service errors to HTTP status code and message
func MapErrorToHTTP(err error) (int, string) {
	switch {
	case errors.Is(err, biddingerrors.ErrAuctionNotFound):
		return http.StatusNotFound, "auction not found"
	case errors.Is(err, biddingerrors.ErrNoBids):
		return http.StatusNotFound, "no bids found for auction"
	case errors.Is(err, biddingerrors.ErrAuctionNotActive):
		return http.StatusConflict, "auction not active"
	case errors.Is(err, biddingerrors.ErrAuctionExists):
		return http.StatusConflict, "auction already exists"
	case errors.Is(err, biddingerrors.ErrLedgerInconsistent):
		return http.StatusConflict, "ledger inconsistent"
	case errors.Is(err, biddingerrors.ErrInvalidBidAmount):
		return http.StatusBadRequest, "bid amount below minimum"
	case errors.Is(err, biddingerrors.ErrInvalidBid):
		return http.StatusBadRequest, "invalid bid details"
	case errors.Is(err, biddingerrors.ErrInvalidAuction):
		return http.StatusBadRequest, "invalid auction details"
	case errors.Is(err, biddingerrors.ErrSelfBidRejected):
		return http.StatusForbidden, "seller cannot bid on own auction"
	case errors.Is(err, biddingerrors.ErrAuctionBusy):
		return http.StatusServiceUnavailable, "auction busy, retry later"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}

// WriteServiceError maps err and writes the error envelope, with the
// minimum amount for rejected amounts and Retry-After for busy auctions
func WriteServiceError(c *gin.Context, err error) int {
	status, message := MapErrorToHTTP(err)
	wrapped := fmt.Errorf("%s: %w", message, err)

	if minimum, ok := biddingerrors.MinimumFrom(err); ok {
		utils.JSONErrorWithDetails(c, status, wrapped, message, gin.H{"minimum_amount": minimum})
		return status
	}
	if errors.Is(err, biddingerrors.ErrAuctionBusy) {
		c.Header("Retry-After", strconv.Itoa(int(RetryAfter.Seconds())))
	}
	utils.JSONError(c, status, wrapped, message)
	return status
}

// LogSuccess is a small helper to standardize logging of successful operations
func LogSuccess(handlerName, message string, ctx map[string]any) {
	utils.Info(handlerName+": "+message, ctx)
}
