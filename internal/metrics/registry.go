// Package metrics exposes Prometheus metrics for the decision pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/inertia"
)

const namespace = "carverrun"

// Pipeline step names
const (
	StepFetch   = "fetch"
	StepRates   = "rates"
	StepCycle   = "cycle"
	StepPublish = "publish"
)

// Step results
const (
	ResultSuccess = "success"
	ResultError   = "error"
	ResultSkipped = "skipped"
)

// Registry holds all Prometheus metrics for carverrun
type Registry struct {
	gatherer prometheus.Gatherer

	StepDuration   *prometheus.HistogramVec
	PipelineErrors *prometheus.CounterVec

	Cycles        *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	SignalsGenerated  *prometheus.CounterVec
	CompositeStrength prometheus.Histogram
	SymbolsSkipped    prometheus.Counter

	InertiaDecisions *prometheus.CounterVec
	TransactionCost  prometheus.Histogram
	FilteredTargets  *prometheus.CounterVec

	PortfolioVolatility  prometheus.Gauge
	TargetVolatility     prometheus.Gauge
	ConcentrationScore   prometheus.Gauge
	DiversificationRatio prometheus.Gauge
	AverageCorrelation   prometheus.Gauge

	BreakerState *prometheus.GaugeVec
	DataAge      prometheus.Gauge
}

// NewRegistry creates the metrics and registers them with reg. Passing
// prometheus.NewRegistry() keeps tests isolated from the default registry.
func NewRegistry(reg *prometheus.Registry) *Registry {
	r := &Registry{
		gatherer: reg,

		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "step_duration_seconds",
				Help:      "Duration of each pipeline step in seconds",
				Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		PipelineErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_errors_total",
				Help:      "Total number of pipeline errors by step",
			},
			[]string{"step", "error_type"},
		),

		Cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cycles_total",
				Help:      "Decision cycles run, by result",
			},
			[]string{"result"},
		),

		CycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "cycle_duration_seconds",
				Help:      "Wall time of the pure decision cycle",
				Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 14),
			},
		),

		SignalsGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "signals_total",
				Help:      "Signals that reached the coordinator, by type and quality",
			},
			[]string{"type", "quality"},
		),

		CompositeStrength: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "composite_strength",
				Help:      "Combined signal strength on the Carver scale",
				Buckets:   prometheus.LinearBuckets(-20, 5, 9),
			},
		),

		SymbolsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "symbols_skipped_total",
				Help:      "Symbols left out of a cycle for lack of data or signals",
			},
		),

		InertiaDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "inertia_decisions_total",
				Help:      "Final target decisions by action",
			},
			[]string{"action"},
		),

		TransactionCost: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "transaction_cost_bps",
				Help:      "Estimated one-way cost of accepted trades in basis points",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 35, 50, 75, 100},
			},
		),

		FilteredTargets: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "filtered_targets_total",
				Help:      "Targets removed by each filter stage",
			},
			[]string{"stage"},
		),

		PortfolioVolatility: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "portfolio_volatility",
			Help:      "Annualized portfolio volatility of the proposed targets",
		}),
		TargetVolatility: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_volatility",
			Help:      "Configured portfolio volatility target",
		}),
		ConcentrationScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "risk_concentration",
			Help:      "Normalized Herfindahl index of risk contributions",
		}),
		DiversificationRatio: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "diversification_ratio",
			Help:      "Weighted average volatility over portfolio volatility",
		}),
		AverageCorrelation: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "average_correlation",
			Help:      "Mean absolute pairwise correlation across the universe",
		}),

		BreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"name"},
		),

		DataAge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "data_age_seconds",
			Help:      "Age of the oldest last bar in the most recent snapshot",
		}),
	}

	reg.MustRegister(
		r.StepDuration,
		r.PipelineErrors,
		r.Cycles,
		r.CycleDuration,
		r.SignalsGenerated,
		r.CompositeStrength,
		r.SymbolsSkipped,
		r.InertiaDecisions,
		r.TransactionCost,
		r.FilteredTargets,
		r.PortfolioVolatility,
		r.TargetVolatility,
		r.ConcentrationScore,
		r.DiversificationRatio,
		r.AverageCorrelation,
		r.BreakerState,
		r.DataAge,
	)
	return r
}

// StepTimer tracks execution time for pipeline steps
type StepTimer struct {
	metrics *Registry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a pipeline step
func (r *Registry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: r, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Pipeline step completed")
}

// RecordPipelineError records a pipeline error
func (r *Registry) RecordPipelineError(step, errorType string) {
	r.PipelineErrors.WithLabelValues(step, errorType).Inc()
	log.Warn().
		Str("step", step).
		Str("error_type", errorType).
		Msg("Pipeline error recorded")
}

// SetBreakerState records a breaker state as 0, 1 or 2
func (r *Registry) SetBreakerState(name string, state int) {
	r.BreakerState.WithLabelValues(name).Set(float64(state))
}

// ObserveCycle records everything a finished cycle reports
func (r *Registry) ObserveCycle(report execution.CycleReport, targetVol float64) {
	r.Cycles.WithLabelValues(ResultSuccess).Inc()
	r.CycleDuration.Observe(report.Duration.Seconds())
	r.SymbolsSkipped.Add(float64(len(report.Skipped)))

	for _, combined := range report.Signals {
		for _, s := range combined.Present() {
			r.SignalsGenerated.WithLabelValues(string(s.SignalType), string(s.Quality)).Inc()
		}
		r.CompositeStrength.Observe(combined.CompositeStrength)
	}

	for _, t := range report.Targets {
		r.InertiaDecisions.WithLabelValues(string(t.Action)).Inc()
		if t.Action == inertia.Rebalance {
			r.TransactionCost.Observe(t.CostBps)
		}
	}
	r.FilteredTargets.WithLabelValues("inertia").Add(float64(report.Filter.InertiaFiltered))
	r.FilteredTargets.WithLabelValues("cost").Add(float64(report.Filter.CostFiltered))

	r.TargetVolatility.Set(targetVol)
	r.AverageCorrelation.Set(report.CorrelationRisk.AverageCorrelation)
	if report.Risk != nil {
		r.PortfolioVolatility.Set(report.Risk.TotalVolatility)
		r.ConcentrationScore.Set(report.Risk.ConcentrationScore)
		r.DiversificationRatio.Set(report.Risk.DiversificationRatio)
	}
}

// RecordStepError records a classified error for a step that did not fail the cycle
func (r *Registry) RecordStepError(step string, err error) {
	r.RecordPipelineError(step, errorType(err))
}

// RecordCycleFailure counts a cycle that did not produce a report
func (r *Registry) RecordCycleFailure(step string, err error) {
	r.Cycles.WithLabelValues(ResultError).Inc()
	r.RecordPipelineError(step, errorType(err))
}

// Handler serves the registered metrics
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})
}
