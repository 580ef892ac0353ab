package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/metrics"
	"github.com/sawpanic/carverrun/internal/signals"
)

type fakeBreaker struct {
	state  gobreaker.State
	counts gobreaker.Counts
}

func (b fakeBreaker) State() gobreaker.State   { return b.state }
func (b fakeBreaker) Counts() gobreaker.Counts { return b.counts }

func cycle() execution.CycleReport {
	combined := signals.EmptyCombined("AAPL")
	mom := signals.NewSignalCore("AAPL", signals.Days8To32, 12, signals.Momentum, 0.9, 0.4, signals.QualityHigh)
	combined.Set(&mom)
	combined.CompositeStrength = 12

	return execution.CycleReport{
		CycleID: "c-1",
		AsOf:    time.Date(2024, 6, 3, 16, 0, 0, 0, time.UTC),
		Targets: []execution.Target{
			{Symbol: "AAPL", Type: inertia.Stock, TargetPosition: 50000, RecommendedPosition: 50000, Action: inertia.Rebalance},
			{Symbol: "MSFT", Type: inertia.Stock, CurrentPosition: -1000, TargetPosition: -1010, RecommendedPosition: -1000, Action: inertia.Hold},
		},
		Signals: map[string]signals.CombinedSignals{"AAPL": combined},
		Skipped: []string{"NEWCO"},
	}
}

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	return NewServer(DefaultServerConfig(), opts)
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealthOK(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Publish(context.Background(), cycle()))
	s := newTestServer(t, Options{
		Store:    store,
		Checks:   map[string]HealthCheck{"postgres": func(context.Context) error { return nil }},
		Breakers: map[string]Breaker{"marketdata": fakeBreaker{state: gobreaker.StateClosed, counts: gobreaker.Counts{Requests: 7, TotalFailures: 1}}},
	})

	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 8)

	var resp HealthResponse
	decode(t, rec, &resp)
	assert.Equal(t, StatusOK, resp.Status)
	assert.Equal(t, "ok", resp.Checks["postgres"])
	assert.Equal(t, CircuitHealth{Name: "marketdata", State: "closed", Requests: 7, Failures: 1}, resp.Circuits["marketdata"])
	assert.Equal(t, "c-1", resp.LastCycle)
	require.NotNil(t, resp.LastCycleAt)
}

func TestHealthDegraded(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"failing check", Options{Checks: map[string]HealthCheck{"redis": func(context.Context) error { return errors.New("connection refused") }}}},
		{"open breaker", Options{Breakers: map[string]Breaker{"marketdata": fakeBreaker{state: gobreaker.StateOpen}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, newTestServer(t, tt.opts).Handler(), "/health")
			assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
			var resp HealthResponse
			decode(t, rec, &resp)
			assert.Equal(t, StatusDegraded, resp.Status)
		})
	}
}

func TestTargetsBeforeFirstCycle(t *testing.T) {
	s := newTestServer(t, Options{})
	for _, path := range []string{"/targets", "/targets/AAPL"} {
		rec := get(t, s.Handler(), path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
		var resp ErrorResponse
		decode(t, rec, &resp)
		assert.Equal(t, "no_cycle", resp.Code)
		assert.Len(t, resp.RequestID, 8)
	}
}

func TestTargets(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Publish(context.Background(), cycle()))
	s := newTestServer(t, Options{Store: store})

	rec := get(t, s.Handler(), "/targets")
	require.Equal(t, http.StatusOK, rec.Code)
	var all TargetsResponse
	decode(t, rec, &all)
	assert.Equal(t, "c-1", all.CycleID)
	assert.Len(t, all.Targets, 2)
	assert.Equal(t, []string{"NEWCO"}, all.Skipped)

	rec = get(t, s.Handler(), "/targets?trades=true")
	require.Equal(t, http.StatusOK, rec.Code)
	var trades TargetsResponse
	decode(t, rec, &trades)
	require.Len(t, trades.Targets, 1)
	assert.Equal(t, "AAPL", trades.Targets[0].Symbol)

	rec = get(t, s.Handler(), "/targets?trades=maybe")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTargetBySymbol(t *testing.T) {
	store := NewStore()
	require.NoError(t, store.Publish(context.Background(), cycle()))
	s := newTestServer(t, Options{Store: store})

	rec := get(t, s.Handler(), "/targets/AAPL")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp TargetResponse
	decode(t, rec, &resp)
	assert.Equal(t, 50000.0, resp.Target.RecommendedPosition)
	assert.Equal(t, 12.0, resp.Signals.CompositeStrength)
	require.NotNil(t, resp.Signals.Momentum)

	rec = get(t, s.Handler(), "/targets/TSLA")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var errResp ErrorResponse
	decode(t, rec, &errResp)
	assert.Equal(t, "symbol_not_found", errResp.Code)
}

func TestMetricsAndNotFound(t *testing.T) {
	reg := metrics.NewRegistry(prometheus.NewRegistry())
	reg.ObserveCycle(cycle(), 0.15)
	s := newTestServer(t, Options{Metrics: reg.Handler()})

	rec := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "carverrun_cycles_total"))

	rec = get(t, s.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	var resp ErrorResponse
	decode(t, rec, &resp)
	assert.Equal(t, "endpoint_not_found", resp.Code)
}

func TestStreamPushesCycles(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(newTestServer(t, Options{Hub: hub}).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/targets"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	require.Eventually(t, func() bool { return hub.Count() == 1 }, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, hub.Publish(context.Background(), cycle()))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg CycleMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, MessageTypeCycle, msg.Type)
	assert.Equal(t, "c-1", msg.CycleID)
	assert.Len(t, msg.Targets, 2)

	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return hub.Count() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestStartServesUntilCancelled(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.Addr = "127.0.0.1:0"
	s := NewServer(cfg, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
