package inertia

import (
	"math"

	"github.com/rs/zerolog/log"
)

// FilterConfig switches the two filter stages and sets the cost ceiling
type FilterConfig struct {
	EnableInertia          bool    `yaml:"enable_inertia"`
	EnableCostOptimization bool    `yaml:"enable_cost_optimization"`
	MaxCostBps             float64 `yaml:"max_cost_bps"`
}

// DefaultFilterConfig enables both stages with a 50 bp cost ceiling
func DefaultFilterConfig() FilterConfig {
	return FilterConfig{
		EnableInertia:          true,
		EnableCostOptimization: true,
		MaxCostBps:             50,
	}
}

// Target is a proposed position for one symbol, expressed in signed value
type Target struct {
	Symbol          string
	Type            SecurityType
	CurrentPosition float64
	TargetPosition  float64
	Price           float64
	DailyVolume     float64
	SignalStrength  float64
}

// Accepted is a target that survived filtering
type Accepted struct {
	Target
	Decision      DecisionInfo `json:"decision"`
	TradeQuantity float64      `json:"trade_quantity"`
	EstimatedCost float64      `json:"estimated_cost"`
	CostBps       float64      `json:"cost_bps"`
}

// FilterStats counts what each stage removed
type FilterStats struct {
	Original            int     `json:"original"`
	InertiaFiltered     int     `json:"inertia_filtered"`
	CostFiltered        int     `json:"cost_filtered"`
	Final               int     `json:"final"`
	TotalEstimatedCosts float64 `json:"total_estimated_costs"`
}

// SignalFilter runs position inertia and then a cost ceiling over a batch of targets
type SignalFilter struct {
	config  FilterConfig
	inertia *PositionInertia
	costs   *CostModel
}

// NewSignalFilter wires the filter stages
func NewSignalFilter(config FilterConfig, inertia *PositionInertia, costs *CostModel) *SignalFilter {
	if config.MaxCostBps <= 0 {
		config.MaxCostBps = DefaultFilterConfig().MaxCostBps
	}
	return &SignalFilter{config: config, inertia: inertia, costs: costs}
}

func (f *SignalFilter) trade(t Target, to float64) Trade {
	qty := 0.0
	if t.Price > 0 {
		qty = (to - t.CurrentPosition) / t.Price
	}
	return Trade{Symbol: t.Symbol, Type: t.Type, Quantity: qty, Price: t.Price, DailyVolume: t.DailyVolume}
}

// ReasonCostCeiling marks a target dropped by the cost stage
const ReasonCostCeiling = "Transaction cost above maximum basis points"

// Result is the full outcome of a filter pass. Rejected entries carry a Hold
// decision explaining which stage dropped them.
type Result struct {
	Accepted []Accepted
	Rejected []Accepted
	Stats    FilterStats
}

// Filter returns the accepted targets, each with its inertia decision and
// the cost of the trade it implies
func (f *SignalFilter) Filter(targets []Target) ([]Accepted, FilterStats) {
	r := f.Evaluate(targets)
	return r.Accepted, r.Stats
}

// Evaluate runs both stages and keeps the rejected targets alongside the
// accepted ones
func (f *SignalFilter) Evaluate(targets []Target) Result {
	r := Result{
		Accepted: make([]Accepted, 0, len(targets)),
		Stats:    FilterStats{Original: len(targets)},
	}

	for _, t := range targets {
		a := Accepted{Target: t}

		if f.config.EnableInertia {
			cost := f.costs.TotalCost(f.trade(t, t.TargetPosition))
			a.Decision = f.inertia.Decide(t.CurrentPosition, t.TargetPosition, cost, t.SignalStrength, t.Price)
			if a.Decision.Action == Hold {
				r.Stats.InertiaFiltered++
				r.Rejected = append(r.Rejected, a)
				log.Debug().
					Str("symbol", t.Symbol).
					Float64("target", t.TargetPosition).
					Str("reason", a.Decision.Reason).
					Msg("Position inertia blocks target")
				continue
			}
		} else {
			a.Decision = DecisionInfo{
				Action:              Rebalance,
				RecommendedPosition: t.TargetPosition,
				Reason:              ReasonDisabled,
				CurrentPosition:     t.CurrentPosition,
				TargetPosition:      t.TargetPosition,
				PositionChange:      math.Abs(t.TargetPosition - t.CurrentPosition),
			}
		}

		tr := f.trade(t, a.Decision.RecommendedPosition)
		a.TradeQuantity = tr.Quantity
		a.EstimatedCost = f.costs.TotalCost(tr)
		a.CostBps = f.costs.CostBps(tr)

		if f.config.EnableCostOptimization {
			r.Stats.TotalEstimatedCosts += a.EstimatedCost
			if a.CostBps > f.config.MaxCostBps {
				r.Stats.CostFiltered++
				a.Decision.Action = Hold
				a.Decision.RecommendedPosition = t.CurrentPosition
				a.Decision.Reason = ReasonCostCeiling
				r.Rejected = append(r.Rejected, a)
				log.Debug().
					Str("symbol", t.Symbol).
					Float64("cost_bps", a.CostBps).
					Float64("max_cost_bps", f.config.MaxCostBps).
					Msg("Trade cost above ceiling")
				continue
			}
		}
		r.Accepted = append(r.Accepted, a)
	}

	r.Stats.Final = len(r.Accepted)
	log.Debug().
		Int("original", r.Stats.Original).
		Int("inertia_filtered", r.Stats.InertiaFiltered).
		Int("cost_filtered", r.Stats.CostFiltered).
		Int("final", r.Stats.Final).
		Float64("total_estimated_costs", r.Stats.TotalEstimatedCosts).
		Msg("Signal filtering complete")
	return r
}
