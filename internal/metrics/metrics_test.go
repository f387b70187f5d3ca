package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveBid(ResultAccepted)
	m.ObserveBid(ResultAccepted)
	m.ObserveBid(ResultRejected)
	m.ObserveClose("sold")
	m.ObserveExtension()
	m.ObserveSettlementFailure()
	m.ObserveSweep(15 * time.Millisecond)
	m.ObserveSectionWait(time.Millisecond)

	require.Equal(t, 2.0, testutil.ToFloat64(m.bids.WithLabelValues(ResultAccepted)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.bids.WithLabelValues(ResultRejected)))
	require.Equal(t, 1.0, testutil.ToFloat64(m.closes.WithLabelValues("sold")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.extensions))
	require.Equal(t, 1.0, testutil.ToFloat64(m.settlementFailures))

	count, err := testutil.GatherAndCount(reg, "auction_sweep_duration_seconds", "auction_section_wait_seconds")
	require.NoError(t, err)
	require.Equal(t, 2, count)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	t.Parallel()

	var m *Metrics
	require.NotPanics(t, func() {
		m.ObserveBid(ResultBusy)
		m.ObserveClose("ended")
		m.ObserveExtension()
		m.ObserveSettlementFailure()
		m.ObserveSweep(time.Second)
		m.ObserveSectionWait(time.Second)
	})
}

func TestHandler_ExposesEngineAndRuntimeMetrics(t *testing.T) {
	t.Parallel()

	reg := NewRegistry()
	m := New(reg)
	m.ObserveBid(ResultAccepted)

	srv := httptest.NewServer(Handler(reg))
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), `auction_bids_total{result="accepted"} 1`)
	require.Contains(t, string(body), "go_goroutines")
}
