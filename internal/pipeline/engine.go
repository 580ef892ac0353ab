// Package pipeline runs decision cycles: snapshot in, target positions out.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sawpanic/carverrun/internal/config"
	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/marketdata"
	"github.com/sawpanic/carverrun/internal/risk"
	"github.com/sawpanic/carverrun/internal/signals"
	"github.com/sawpanic/carverrun/internal/signals/bands"
	"github.com/sawpanic/carverrun/internal/signals/breakout"
	"github.com/sawpanic/carverrun/internal/signals/carry"
	"github.com/sawpanic/carverrun/internal/signals/coordinator"
	"github.com/sawpanic/carverrun/internal/signals/momentum"
	"github.com/sawpanic/carverrun/internal/volatility"
)

// Skip reasons
const (
	SkipNoSignals = "no signals"
	SkipNoPrice   = "no price"
)

// Input is everything one cycle reads. Positions are signed values.
type Input struct {
	Snapshot  *marketdata.Snapshot
	Positions map[string]float64
}

// Engine wires the signal, sizing, risk and inertia stages
type Engine struct {
	timeframes     []signals.Timeframe
	workers        int
	portfolioValue float64
	applyRisk      bool
	riskTarget     float64
	securities     map[string]inertia.SecurityType

	generators  []signals.Generator
	carry       *carry.Generator
	coordinator *coordinator.Coordinator
	store       *volatility.Store
	targeter    *volatility.Targeter
	budgeter    *risk.Budgeter
	costs       *inertia.CostModel
	filter      *inertia.SignalFilter
	portfolio   *inertia.PortfolioInertia
}

// NewEngine builds every stage from a validated configuration
func NewEngine(cfg *config.Config) (*Engine, error) {
	coord, err := coordinator.New(cfg.Signals.Coordinator)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	costs, err := inertia.NewCostModel(cfg.Costs)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	carryGen := carry.New(cfg.Signals.Carry)
	store := volatility.NewStore(cfg.Volatility)
	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}

	return &Engine{
		timeframes:     append([]signals.Timeframe(nil), cfg.Signals.Timeframes...),
		workers:        workers,
		portfolioValue: cfg.Pipeline.PortfolioValue,
		applyRisk:      cfg.Pipeline.ApplyRiskBudget,
		riskTarget:     cfg.Risk.TargetVolatility,
		securities:     cfg.SecurityTypes(),
		generators: []signals.Generator{
			momentum.New(cfg.Signals.Momentum),
			breakout.New(cfg.Signals.Breakout),
			carryGen,
			bands.New(cfg.Signals.Bands),
		},
		carry:       carryGen,
		coordinator: coord,
		store:       store,
		targeter:    volatility.NewTargeter(cfg.Volatility, store),
		budgeter:    risk.New(cfg.Risk),
		costs:       costs,
		filter:      inertia.NewSignalFilter(cfg.Filter, inertia.NewPositionInertia(cfg.Inertia), costs),
		portfolio:   inertia.NewPortfolioInertia(cfg.PortfolioInertia),
	}, nil
}

// UpdateRates swaps the carry rate table used from the next cycle on
func (e *Engine) UpdateRates(table carry.RateTable) {
	e.carry.UpdateRates(table)
}

// Store returns the volatility store
func (e *Engine) Store() *volatility.Store { return e.store }

// Budgeter returns the risk budgeter
func (e *Engine) Budgeter() *risk.Budgeter { return e.budgeter }

// RiskTarget is the portfolio volatility target of the risk stage
func (e *Engine) RiskTarget() float64 { return e.riskTarget }

type evaluation struct {
	symbol      string
	combined    signals.CombinedSignals
	price       float64
	dailyVolume float64
	target      float64
	skip        string
}

// Cycle runs one decision cycle over the snapshot. Symbols are evaluated in
// parallel; each symbol's volatility state is touched by one worker only.
func (e *Engine) Cycle(ctx context.Context, in Input) (execution.CycleReport, error) {
	start := time.Now()
	report := execution.CycleReport{
		CycleID: uuid.NewString(),
		AsOf:    in.Snapshot.AsOf,
		Signals: make(map[string]signals.CombinedSignals),
	}

	symbols := make([]string, 0, len(in.Snapshot.Series))
	for _, sym := range in.Snapshot.Symbols() {
		if _, ok := e.securities[sym]; ok {
			symbols = append(symbols, sym)
		}
	}

	results := make([]evaluation, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for i, sym := range symbols {
		i, sym := i, sym
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = e.evaluate(sym, in.Snapshot.Series[sym])
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return report, fmt.Errorf("cycle %s aborted: %w", report.CycleID, err)
	}

	targets := make(map[string]float64, len(results))
	histories := make(map[string][]signals.PricePoint, len(results))
	var live []evaluation
	for _, r := range results {
		if r.skip != "" {
			report.Skipped = append(report.Skipped, r.symbol)
			log.Debug().Str("symbol", r.symbol).Str("reason", r.skip).Msg("Symbol skipped")
			continue
		}
		report.Signals[r.symbol] = r.combined
		targets[r.symbol] = r.target
		histories[r.symbol] = in.Snapshot.Series[r.symbol].History
		live = append(live, r)
	}

	if err := e.budgeter.UpdateFromPrices(histories, e.store.Volatilities()); err != nil {
		return report, fmt.Errorf("failed to refresh risk inputs: %w", err)
	}
	liveSymbols := make([]string, 0, len(live))
	for _, r := range live {
		liveSymbols = append(liveSymbols, r.symbol)
	}
	report.CorrelationRisk = e.budgeter.CorrelationRisk(liveSymbols)

	if e.applyRisk {
		prices := make(map[string]float64, len(live))
		for _, r := range live {
			prices[r.symbol] = r.price
		}
		e.applyRiskBudget(&report, targets, prices, in.Positions)
	}

	batch := make([]inertia.Target, 0, len(live))
	for _, r := range live {
		batch = append(batch, inertia.Target{
			Symbol:          r.symbol,
			Type:            e.securities[r.symbol],
			CurrentPosition: in.Positions[r.symbol],
			TargetPosition:  targets[r.symbol],
			Price:           r.price,
			DailyVolume:     r.dailyVolume,
			SignalStrength:  r.combined.CompositeStrength,
		})
	}
	filtered := e.filter.Evaluate(batch)
	report.Filter = filtered.Stats
	for _, a := range filtered.Accepted {
		report.Targets = append(report.Targets, toTarget(a, a.TradeQuantity))
	}
	for _, a := range filtered.Rejected {
		report.Targets = append(report.Targets, toTarget(a, 0))
	}
	sort.Slice(report.Targets, func(i, j int) bool {
		return report.Targets[i].Symbol < report.Targets[j].Symbol
	})

	report.Volatility = e.targeter.Summary(risk.Weights(targets))
	report.Duration = time.Since(start)

	log.Info().
		Str("cycle_id", report.CycleID).
		Int("symbols", len(symbols)).
		Int("skipped", len(report.Skipped)).
		Int("trades", len(report.Trades())).
		Dur("duration", report.Duration).
		Msg("Cycle complete")
	return report, nil
}

// evaluate blends each signal family across timeframes, combines the
// families and sizes the result
func (e *Engine) evaluate(symbol string, series marketdata.Series) evaluation {
	ev := evaluation{symbol: symbol, price: series.Price, dailyVolume: series.DailyVolume}
	e.store.Observe(symbol, series.History)

	if series.Price <= 0 {
		ev.skip = SkipNoPrice
		return ev
	}

	byType := make(map[signals.SignalType]map[signals.Timeframe]float64)
	best := make(map[signals.SignalType]signals.SignalCore)
	for _, gen := range e.generators {
		supported := gen.SupportedTimeframes()
		for _, tf := range e.timeframes {
			if !containsTimeframe(supported, tf) {
				continue
			}
			core, ok := gen.Generate(symbol, tf, series.History)
			if !ok {
				log.Debug().
					Str("symbol", symbol).
					Str("type", string(gen.Type())).
					Str("timeframe", string(tf)).
					Int("points", len(series.History)).
					Msg("Signal absent")
				continue
			}
			st := gen.Type()
			if byType[st] == nil {
				byType[st] = make(map[signals.Timeframe]float64)
			}
			byType[st][tf] = core.SignalStrength
			if prev, seen := best[st]; !seen || math.Abs(core.SignalStrength) > math.Abs(prev.SignalStrength) {
				best[st] = core
			}
		}
	}
	if len(byType) == 0 {
		ev.skip = SkipNoSignals
		return ev
	}

	blended := make(map[signals.SignalType]signals.SignalCore, len(byType))
	for st, byTF := range byType {
		core := best[st]
		core.SignalStrength = signals.CompositeSignal(byTF, nil)
		core.Quality = signals.BucketQuality(core.SignalStrength)
		blended[st] = core
	}

	ev.combined = e.coordinator.Coordinate(symbol, blended)
	units := e.targeter.PositionSize(symbol, ev.combined.CompositeStrength, series.Price, e.portfolioValue)
	ev.target = units * series.Price
	return ev
}

// applyRiskBudget moves non-zero targets towards equal risk contribution
// where portfolio inertia allows it. A held allocation keeps the current
// position; a rebalanced one takes its ERC share of gross exposure.
func (e *Engine) applyRiskBudget(report *execution.CycleReport, targets, prices, positions map[string]float64) {
	order := make([]string, 0, len(targets))
	for sym := range targets {
		order = append(order, sym)
	}
	sort.Strings(order)

	active := make(map[string]float64, len(targets))
	gross := 0.0
	for _, sym := range order {
		if v := targets[sym]; v != 0 {
			active[sym] = v
			gross += math.Abs(v)
		}
	}
	if len(active) == 0 {
		return
	}

	attr, err := e.budgeter.Attribute(active)
	if err != nil {
		log.Warn().Err(err).Msg("Risk attribution unavailable, keeping signal targets")
		return
	}
	report.Risk = attr

	ercs, err := e.budgeter.ERCAllocations(active)
	if err != nil {
		log.Warn().Err(err).Msg("ERC allocation unavailable, keeping signal targets")
		return
	}

	// ERC weights are rescaled to gross exposure with the signal's sign so
	// they compare directly with the current book's weights
	sumAbs := 0.0
	for _, a := range ercs {
		sumAbs += math.Abs(a.TargetWeight)
	}
	if sumAbs == 0 {
		return
	}

	current := risk.Weights(positions)
	allocs := make([]inertia.Allocation, 0, len(ercs))
	symbols := make([]string, 0, len(ercs))
	for _, a := range ercs {
		weight := math.Copysign(math.Abs(a.TargetWeight)/sumAbs, active[a.Symbol])
		price := prices[a.Symbol]
		qty := 0.0
		if price > 0 {
			qty = (weight*gross - positions[a.Symbol]) / price
		}
		allocs = append(allocs, inertia.Allocation{
			Symbol:        a.Symbol,
			CurrentValue:  positions[a.Symbol],
			CurrentWeight: current[a.Symbol],
			TargetWeight:  weight,
			TransactionCost: e.costs.TotalCost(inertia.Trade{
				Symbol:   a.Symbol,
				Type:     e.securities[a.Symbol],
				Quantity: qty,
				Price:    price,
			}),
		})
		symbols = append(symbols, a.Symbol)
	}

	decisions := e.portfolio.DecideWithCorrelation(allocs, gross, e.budgeter.AverageCorrelations(symbols))
	decisions = e.portfolio.ApplyVolatilityAdjustment(decisions, attr.TotalVolatility, e.riskTarget)
	report.Allocations = decisions

	for _, d := range decisions {
		if d.Action == inertia.Rebalance {
			targets[d.Symbol] = d.RecommendedAllocation * gross
		} else {
			targets[d.Symbol] = positions[d.Symbol]
		}
	}
}

func toTarget(a inertia.Accepted, qty float64) execution.Target {
	return execution.Target{
		Symbol:              a.Symbol,
		Type:                a.Type,
		CurrentPosition:     a.CurrentPosition,
		TargetPosition:      a.TargetPosition,
		RecommendedPosition: a.Decision.RecommendedPosition,
		RecommendedQuantity: qty,
		Price:               a.Price,
		SignalStrength:      a.SignalStrength,
		Action:              a.Decision.Action,
		Reason:              a.Decision.Reason,
		EstimatedCost:       a.EstimatedCost,
		CostBps:             a.CostBps,
	}
}

func containsTimeframe(tfs []signals.Timeframe, tf signals.Timeframe) bool {
	for _, t := range tfs {
		if t == tf {
			return true
		}
	}
	return false
}
