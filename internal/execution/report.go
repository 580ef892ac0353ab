// Package execution hands cycle results to the order execution layer.
package execution

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/risk"
	"github.com/sawpanic/carverrun/internal/signals"
	"github.com/sawpanic/carverrun/internal/volatility"
)

// Target is the final decision for one symbol. Positions are signed values;
// RecommendedQuantity is the signed number of units to trade.
type Target struct {
	Symbol              string               `json:"symbol"`
	Type                inertia.SecurityType `json:"type"`
	CurrentPosition     float64              `json:"current_position"`
	TargetPosition      float64              `json:"target_position"`
	RecommendedPosition float64              `json:"recommended_position"`
	RecommendedQuantity float64              `json:"recommended_quantity"`
	Price               float64              `json:"price"`
	SignalStrength      float64              `json:"signal_strength"`
	Action              inertia.Action       `json:"action"`
	Reason              string               `json:"reason"`
	EstimatedCost       float64              `json:"estimated_cost"`
	CostBps             float64              `json:"cost_bps"`
}

// CycleReport is everything one decision cycle produced
type CycleReport struct {
	CycleID         string                             `json:"cycle_id"`
	AsOf            time.Time                          `json:"as_of"`
	Duration        time.Duration                      `json:"duration"`
	Targets         []Target                           `json:"targets"`
	Signals         map[string]signals.CombinedSignals `json:"signals"`
	Skipped         []string                           `json:"skipped,omitempty"`
	Filter          inertia.FilterStats                `json:"filter"`
	Risk            *risk.Attribution                  `json:"risk,omitempty"`
	CorrelationRisk risk.CorrelationRisk               `json:"correlation_risk"`
	Allocations     []inertia.AllocationDecision       `json:"allocations,omitempty"`
	Volatility      volatility.Summary                 `json:"volatility"`
}

// Target returns the decision for symbol
func (r *CycleReport) Target(symbol string) (Target, bool) {
	i := sort.Search(len(r.Targets), func(i int) bool { return r.Targets[i].Symbol >= symbol })
	if i < len(r.Targets) && r.Targets[i].Symbol == symbol {
		return r.Targets[i], true
	}
	return Target{}, false
}

// Trades returns the targets that rebalance
func (r *CycleReport) Trades() []Target {
	out := make([]Target, 0, len(r.Targets))
	for _, t := range r.Targets {
		if t.Action == inertia.Rebalance {
			out = append(out, t)
		}
	}
	return out
}

// Sink receives every cycle report
type Sink interface {
	Publish(ctx context.Context, report CycleReport) error
}

// Multi publishes to every sink and joins their errors
type Multi []Sink

// Publish fans the report out. A failing sink does not stop the others.
func (m Multi) Publish(ctx context.Context, report CycleReport) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, report); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
