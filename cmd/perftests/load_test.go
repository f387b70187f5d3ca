package perftests

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	bidding "auction-engine/internal/biddingService"
	"auction-engine/internal/biddingerrors"
	repository "auction-engine/internal/repository"

	"github.com/shopspring/decimal"
)

// LoadScenario defines configurable benchmark parameters
type LoadScenario struct {
	Name            string
	NumAuctions     int
	ReadRatio       int // out of 10
	ProxyRatio      int // out of 10 among writes
	MaxBidIncrement int
	Burst           bool // if true, no delay between ops
}

// OperationMetrics collects latencies safely
type OperationMetrics struct {
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(d time.Duration) {
	om.mu.Lock()
	om.latencies = append(om.latencies, d)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (min, max, avg, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return
	}
	latencies := om.latencies
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	min = latencies[0]
	max = latencies[len(latencies)-1]

	var total time.Duration
	for _, d := range latencies {
		total += d
	}
	avg = total / time.Duration(len(latencies))
	p95 = latencies[int(0.95*float64(len(latencies)))]
	p99 = latencies[int(0.99*float64(len(latencies)))]
	return
}

// setupService creates a bidding service over numAuctions open auctions
func setupService(numAuctions int) *bidding.BiddingService {
	repo := repository.NewMemoryRepo()
	svc := bidding.NewBiddingService(repo, bidding.WithConfig(bidding.Config{
		ExtensionWindow:     5 * time.Minute,
		LockWait:            50 * time.Millisecond,
		DefaultMinIncrement: decimal.NewFromInt(1),
	}))

	end := time.Now().Add(time.Hour)
	for i := 0; i < numAuctions; i++ {
		repo.AddAuction(benchAuction(fmt.Sprintf("auction_%d", i), end))
	}
	return svc
}

// Benchmark_Load_BiddingSystem runs multiple scenarios
func Benchmark_Load_BiddingSystem(b *testing.B) {
	scenarios := []LoadScenario{
		{"Low-Contention-WriteHeavy", 200, 0, 2, 50, false},
		{"High-Contention-WriteHeavy", 10, 0, 2, 20, false},
		{"Mixed-Workload", 50, 7, 3, 30, false},
		{"ReadHeavy", 50, 9, 1, 20, false},
		{"Proxy-Heavy", 20, 2, 8, 40, false},
		{"Edge-Case-SingleAuction", 1, 5, 3, 10, false},
		{"Peak-Burst", 50, 0, 2, 20, true},
	}

	for _, s := range scenarios {
		b.Run(s.Name, func(b *testing.B) {
			runParallelScenario(b, s)
		})
	}
}

func runParallelScenario(b *testing.B, s LoadScenario) {
	b.ReportAllocs()
	ctx := context.Background()

	svc := setupService(s.NumAuctions)

	var totalOps, acceptedBids, tooLow, busy, otherFailures, totalReads int64
	metrics := &OperationMetrics{}

	start := time.Now()

	b.RunParallel(func(pb *testing.PB) {
		rnd := rand.New(rand.NewSource(time.Now().UnixNano()))

		for pb.Next() {
			auctionID := fmt.Sprintf("auction_%d", rnd.Intn(s.NumAuctions))
			opStart := time.Now()

			if rnd.Intn(10) < s.ReadRatio {
				_, _ = svc.GetAuction(ctx, auctionID)
				atomic.AddInt64(&totalReads, 1)
			} else {
				var err error
				userID := fmt.Sprintf("user_%d", rnd.Intn(1000))
				amount := decimal.NewFromInt(int64(51 + rnd.Intn(s.MaxBidIncrement)*10))
				if rnd.Intn(10) < s.ProxyRatio {
					_, err = svc.RegisterProxyBid(ctx, auctionID, userID, amount.Add(decimal.NewFromInt(int64(rnd.Intn(100)))))
				} else {
					_, err = svc.PlaceBid(ctx, auctionID, userID, amount, nil)
				}

				switch {
				case err == nil:
					atomic.AddInt64(&acceptedBids, 1)
				case errors.Is(err, biddingerrors.ErrInvalidBidAmount):
					atomic.AddInt64(&tooLow, 1)
				case errors.Is(err, biddingerrors.ErrAuctionBusy):
					atomic.AddInt64(&busy, 1)
				default:
					atomic.AddInt64(&otherFailures, 1)
				}
			}

			metrics.Record(time.Since(opStart))
			atomic.AddInt64(&totalOps, 1)

			if !s.Burst {
				time.Sleep(time.Millisecond)
			}
		}
	})

	elapsed := time.Since(start)
	b.StopTimer()

	// every ledger must still replay to its auction's stored state
	for i := 0; i < s.NumAuctions; i++ {
		if _, err := svc.VerifyAuction(ctx, fmt.Sprintf("auction_%d", i)); err != nil {
			b.Fatalf("auction_%d: %v", i, err)
		}
	}

	throughput := float64(totalOps) / elapsed.Seconds()
	min, max, avg, p95, p99 := metrics.Stats()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	b.Logf(
		"Scenario: %s | Auctions: %d | Total Ops: %d | Accepted: %d | Too Low: %d | Busy: %d | Other Failures: %d | Reads: %d | Elapsed: %s | Throughput: %.2f ops/sec | Latency(us) min: %.2f avg: %.2f max: %.2f p95: %.2f p99: %.2f | Memory Alloc: %.2f MB",
		s.Name, s.NumAuctions, totalOps, acceptedBids, tooLow, busy, otherFailures, totalReads, elapsed,
		throughput,
		float64(min.Microseconds()), float64(avg.Microseconds()), float64(max.Microseconds()),
		float64(p95.Microseconds()), float64(p99.Microseconds()),
		float64(mem.Alloc)/1024/1024,
	)
	if otherFailures > 0 {
		b.Errorf("%d operations failed with unexpected errors", otherFailures)
	}
}
