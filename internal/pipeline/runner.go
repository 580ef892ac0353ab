package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/marketdata"
	"github.com/sawpanic/carverrun/internal/metrics"
)

// BreakerReporter exposes a circuit breaker state for metrics
type BreakerReporter interface {
	State() gobreaker.State
}

// RunnerConfig controls the decision loop
type RunnerConfig struct {
	Symbols  []string
	Interval time.Duration
	Timeout  time.Duration
	// BreakerName labels the breaker state gauge
	BreakerName string
	// StaleAfter is the last-bar age the freshness check tolerates
	StaleAfter time.Duration
}

// Runner drives the engine on a fixed interval and keeps a paper book of the
// positions it has recommended
type Runner struct {
	engine    *Engine
	provider  marketdata.Provider
	rates     marketdata.RateSource
	sink      execution.Sink
	metrics   *metrics.Registry
	breaker   BreakerReporter
	freshness *metrics.Freshness
	config    RunnerConfig

	mu        sync.RWMutex
	positions map[string]float64
	last      *execution.CycleReport
}

// NewRunner creates a runner. rates and breaker may be nil.
func NewRunner(engine *Engine, provider marketdata.Provider, rates marketdata.RateSource, sink execution.Sink, reg *metrics.Registry, config RunnerConfig) *Runner {
	if config.Interval <= 0 {
		config.Interval = time.Hour
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.BreakerName == "" {
		config.BreakerName = "marketdata"
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = 96 * time.Hour
	}
	r := &Runner{
		engine:    engine,
		provider:  provider,
		rates:     rates,
		sink:      sink,
		metrics:   reg,
		freshness: metrics.NewFreshness(config.StaleAfter, reg),
		config:    config,
		positions: make(map[string]float64),
	}
	if b, ok := provider.(BreakerReporter); ok {
		r.breaker = b
	}
	return r
}

// SetPositions replaces the paper book, e.g. with broker positions at startup
func (r *Runner) SetPositions(positions map[string]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.positions = make(map[string]float64, len(positions))
	for s, v := range positions {
		r.positions[s] = v
	}
}

// Positions returns a copy of the paper book
func (r *Runner) Positions() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(r.positions))
	for s, v := range r.positions {
		out[s] = v
	}
	return out
}

// Freshness returns the tracker fed by every fetched snapshot
func (r *Runner) Freshness() *metrics.Freshness {
	return r.freshness
}

// Last returns the most recent published report
func (r *Runner) Last() (execution.CycleReport, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.last == nil {
		return execution.CycleReport{}, false
	}
	return *r.last, true
}

// Run ticks until ctx is cancelled. Failed ticks are logged and counted;
// they never stop the loop.
func (r *Runner) Run(ctx context.Context) error {
	log.Info().
		Dur("interval", r.config.Interval).
		Strs("symbols", r.config.Symbols).
		Msg("Decision loop started")

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		if _, err := r.Tick(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Decision cycle failed")
		}
		select {
		case <-ctx.Done():
			log.Info().Msg("Decision loop stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// Tick runs one fetch, rates, cycle and publish sequence within the
// configured timeout. The paper book only changes after a successful publish.
func (r *Runner) Tick(ctx context.Context) (execution.CycleReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()
	defer r.recordBreaker()

	timer := r.metrics.StartStepTimer(metrics.StepFetch)
	snap, err := r.provider.Snapshot(ctx, r.config.Symbols)
	if err != nil {
		timer.Stop(metrics.ResultError)
		r.metrics.RecordCycleFailure(metrics.StepFetch, err)
		return execution.CycleReport{}, fmt.Errorf("failed to fetch market data: %w", err)
	}
	timer.Stop(metrics.ResultSuccess)
	r.freshness.Observe(snap)

	r.refreshRates(ctx)

	timer = r.metrics.StartStepTimer(metrics.StepCycle)
	report, err := r.engine.Cycle(ctx, Input{Snapshot: snap, Positions: r.Positions()})
	if err != nil {
		timer.Stop(metrics.ResultError)
		r.metrics.RecordCycleFailure(metrics.StepCycle, err)
		return report, err
	}
	timer.Stop(metrics.ResultSuccess)

	timer = r.metrics.StartStepTimer(metrics.StepPublish)
	if err := r.sink.Publish(ctx, report); err != nil {
		timer.Stop(metrics.ResultError)
		r.metrics.RecordCycleFailure(metrics.StepPublish, err)
		return report, fmt.Errorf("failed to publish cycle %s: %w", report.CycleID, err)
	}
	timer.Stop(metrics.ResultSuccess)

	r.apply(report)
	r.metrics.ObserveCycle(report, r.engine.RiskTarget())
	return report, nil
}

// refreshRates keeps the previous rate table when the source fails
func (r *Runner) refreshRates(ctx context.Context) {
	if r.rates == nil {
		return
	}
	timer := r.metrics.StartStepTimer(metrics.StepRates)
	table, err := r.rates.Rates(ctx, r.config.Symbols)
	if err != nil {
		timer.Stop(metrics.ResultError)
		r.metrics.RecordStepError(metrics.StepRates, err)
		log.Warn().Err(err).Msg("Carry rates unavailable, keeping previous table")
		return
	}
	timer.Stop(metrics.ResultSuccess)
	r.engine.UpdateRates(table)
}

func (r *Runner) apply(report execution.CycleReport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range report.Targets {
		if t.Action != inertia.Rebalance {
			continue
		}
		if t.RecommendedPosition == 0 {
			delete(r.positions, t.Symbol)
		} else {
			r.positions[t.Symbol] = t.RecommendedPosition
		}
	}
	r.last = &report
}

func (r *Runner) recordBreaker() {
	if r.breaker == nil {
		return
	}
	r.metrics.SetBreakerState(r.config.BreakerName, metrics.BreakerStateValue(r.breaker.State()))
}
