package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/marketdata"
	"github.com/sawpanic/carverrun/internal/risk"
	"github.com/sawpanic/carverrun/internal/signals"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(prometheus.NewRegistry())
}

func report() execution.CycleReport {
	mom := signals.NewSignalCore("AAPL", signals.Days8To32, 12, signals.Momentum, 0.9, 0.4, signals.QualityHigh)
	brk := signals.NewSignalCore("AAPL", signals.Days8To32, 6, signals.Breakout, 0.7, 0.2, signals.QualityMedium)
	combined := signals.EmptyCombined("AAPL")
	combined.Set(&mom)
	combined.Set(&brk)
	combined.CompositeStrength = 11.5

	return execution.CycleReport{
		CycleID:  "abc",
		Duration: 3 * time.Millisecond,
		Signals:  map[string]signals.CombinedSignals{"AAPL": combined},
		Skipped:  []string{"ES"},
		Targets: []execution.Target{
			{Symbol: "AAPL", Action: inertia.Rebalance, CostBps: 7},
			{Symbol: "MSFT", Action: inertia.Hold},
		},
		Filter:          inertia.FilterStats{Original: 2, InertiaFiltered: 1, Final: 1},
		Risk:            &risk.Attribution{TotalVolatility: 0.18, ConcentrationScore: 0.3, DiversificationRatio: 1.4},
		CorrelationRisk: risk.CorrelationRisk{AverageCorrelation: 0.35},
	}
}

func TestObserveCycle(t *testing.T) {
	r := newTestRegistry(t)
	r.ObserveCycle(report(), 0.15)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.Cycles.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SignalsGenerated.WithLabelValues("momentum", "high")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SignalsGenerated.WithLabelValues("breakout", "medium")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.SymbolsSkipped))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.InertiaDecisions.WithLabelValues("rebalance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.InertiaDecisions.WithLabelValues("hold")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.FilteredTargets.WithLabelValues("inertia")))
	assert.Equal(t, 0.0, testutil.ToFloat64(r.FilteredTargets.WithLabelValues("cost")))
	assert.Equal(t, 0.18, testutil.ToFloat64(r.PortfolioVolatility))
	assert.Equal(t, 0.15, testutil.ToFloat64(r.TargetVolatility))
	assert.Equal(t, 0.3, testutil.ToFloat64(r.ConcentrationScore))
	assert.Equal(t, 1.4, testutil.ToFloat64(r.DiversificationRatio))
	assert.Equal(t, 0.35, testutil.ToFloat64(r.AverageCorrelation))

	m := &dto.Metric{}
	require.NoError(t, r.TransactionCost.Write(m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
	assert.Equal(t, 7.0, m.GetHistogram().GetSampleSum())

	m = &dto.Metric{}
	require.NoError(t, r.CompositeStrength.Write(m))
	assert.Equal(t, 11.5, m.GetHistogram().GetSampleSum())
}

func TestRecordCycleFailureClassifiesErrors(t *testing.T) {
	r := newTestRegistry(t)

	r.RecordCycleFailure(StepFetch, fmt.Errorf("fetch: %w", marketdata.ErrNoData))
	r.RecordCycleFailure(StepFetch, gobreaker.ErrOpenState)
	r.RecordCycleFailure(StepPublish, context.DeadlineExceeded)
	r.RecordCycleFailure(StepPublish, errors.New("boom"))

	assert.Equal(t, 4.0, testutil.ToFloat64(r.Cycles.WithLabelValues(ResultError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PipelineErrors.WithLabelValues(StepFetch, "no_data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PipelineErrors.WithLabelValues(StepFetch, "breaker_open")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PipelineErrors.WithLabelValues(StepPublish, "timeout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.PipelineErrors.WithLabelValues(StepPublish, "error")))
}

func TestStepTimerAndBreakerState(t *testing.T) {
	r := newTestRegistry(t)

	r.StartStepTimer(StepFetch).Stop(ResultSuccess)
	assert.Equal(t, 1, testutil.CollectAndCount(r.StepDuration))

	r.SetBreakerState("marketdata", BreakerStateValue(gobreaker.StateOpen))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.BreakerState.WithLabelValues("marketdata")))
	assert.Equal(t, 1, BreakerStateValue(gobreaker.StateHalfOpen))
	assert.Equal(t, 0, BreakerStateValue(gobreaker.StateClosed))
}

func TestHandlerServesMetrics(t *testing.T) {
	r := newTestRegistry(t)
	r.ObserveCycle(report(), 0.15)

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "carverrun_cycles_total")
	assert.Contains(t, rec.Body.String(), "carverrun_portfolio_volatility 0.18")
}
