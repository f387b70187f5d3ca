package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Bid outcomes used as the result label
const (
	ResultAccepted = "accepted"
	ResultRejected = "rejected"
	ResultBusy     = "busy"
)

// Metrics holds the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	bids               *prometheus.CounterVec
	closes             *prometheus.CounterVec
	extensions         prometheus.Counter
	settlementFailures prometheus.Counter
	sweepDuration      prometheus.Histogram
	sectionWait        prometheus.Histogram
}

// New creates the collectors and registers them on reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		bids: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_bids_total",
			Help: "Bid submissions by result.",
		}, []string{"result"}),
		closes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "auction_closes_total",
			Help: "Auctions driven to a terminal state, by status.",
		}, []string{"status"}),
		extensions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_extensions_total",
			Help: "Anti-snipe end time extensions.",
		}),
		settlementFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auction_settlement_failures_total",
			Help: "Order creation signals the settlement sink rejected.",
		}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_sweep_duration_seconds",
			Help:    "Duration of one lifecycle sweep.",
			Buckets: prometheus.DefBuckets,
		}),
		sectionWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "auction_section_wait_seconds",
			Help:    "Time spent waiting to enter a per-auction section.",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1, .5, 1, 2},
		}),
	}

	reg.MustRegister(m.bids, m.closes, m.extensions, m.settlementFailures, m.sweepDuration, m.sectionWait)
	return m
}

// NewRegistry returns a registry carrying the Go runtime and process
// collectors next to the engine's own
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the metrics gathered by g in the exposition format
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveBid(result string) {
	if m == nil {
		return
	}
	m.bids.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveClose(status string) {
	if m == nil {
		return
	}
	m.closes.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveExtension() {
	if m == nil {
		return
	}
	m.extensions.Inc()
}

func (m *Metrics) ObserveSettlementFailure() {
	if m == nil {
		return
	}
	m.settlementFailures.Inc()
}

func (m *Metrics) ObserveSweep(d time.Duration) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(d.Seconds())
}

func (m *Metrics) ObserveSectionWait(d time.Duration) {
	if m == nil {
		return
	}
	m.sectionWait.Observe(d.Seconds())
}
