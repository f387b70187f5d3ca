package integrationtests

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/events"
	model "auction-engine/internal/models"
	"auction-engine/internal/repository"
	"auction-engine/internal/server"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// testEnv is the full engine behind the real router, on an in-memory store
type testEnv struct {
	router  *gin.Engine
	service *bidding.BiddingService
	repo    *repository.MemoryRepo
	hub     *events.Hub
}

// SetupTestEnv initializes the router and seeds the repo with auctions.
func SetupTestEnv(auctions ...model.Auction) *testEnv {
	gin.SetMode(gin.TestMode)
	repo := repository.NewMemoryRepo()
	for _, a := range auctions {
		repo.AddAuction(a)
	}

	hub := events.NewHub(events.DefaultRoomBuffer)
	service := bidding.NewBiddingService(repo, bidding.WithBroadcaster(hub))
	return &testEnv{
		router:  server.SetupRouter(service, hub, nil),
		service: service,
		repo:    repo,
		hub:     hub,
	}
}

// testAuction is active, starts at 50 with increment 1 and ends in an hour
func testAuction(id string) model.Auction {
	now := time.Now().UTC()
	return model.Auction{
		AuctionID:     id,
		SellerID:      "seller1",
		Title:         "title " + id,
		StartingPrice: decimal.NewFromInt(50),
		CurrentPrice:  decimal.NewFromInt(50),
		MinIncrement:  decimal.NewFromInt(1),
		EndTime:       now.Add(time.Hour),
		Status:        model.StatusActive,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ExecuteRequestAndParse executes an HTTP request on the given router and
// returns the decoded envelope. On success resp holds the envelope's data.
func ExecuteRequestAndParse(t *testing.T, router *gin.Engine, method, url string, body any) (map[string]any, *httptest.ResponseRecorder) {
	t.Helper()
	var reqBody []byte
	var err error

	switch v := body.(type) {
	case nil:
	case []byte:
		reqBody = v
	case string:
		reqBody = []byte(v)
	default:
		reqBody, err = json.Marshal(v)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, url, bytes.NewReader(reqBody))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	var resp map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to unmarshal response: %v", err)
		}
		if data, ok := resp["data"].(map[string]any); ok && w.Code < 300 {
			resp = data
		}
	}

	return resp, w
}

// ExecuteListRequest executes a GET whose envelope data is a list
func ExecuteListRequest(t *testing.T, router *gin.Engine, url string) ([]any, *httptest.ResponseRecorder) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", url, nil))

	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	list, _ := resp["data"].([]any)
	return list, w
}
