// Package inertia decides whether a computed position change is worth the
// cost of trading it.
package inertia

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Action is the outcome of an inertia decision
type Action string

const (
	Hold      Action = "hold"
	Rebalance Action = "rebalance"
)

// Decision reasons
const (
	ReasonDisabled     = "Position inertia disabled"
	ReasonBelowMinimum = "Position change below minimum change threshold"
	ReasonReversal     = "Position reversal detected"
	ReasonStrongSignal = "Strong signal overrides inertia"
	ReasonThreshold    = "Position change threshold exceeded"
	ReasonBlocked      = "Position change blocked by inertia"
	ReasonLimited      = "Position change limited to maximum percentage"
)

const (
	reasonLimitedSuffix  = ", position change limited to maximum percentage"
	limitMatchTolerance  = 0.01
	defaultSignalForScan = 10.0
	defaultPriceForScan  = 100.0
)

// Config holds position inertia parameters
type Config struct {
	Enabled                bool    `yaml:"enabled"`
	InertiaMultiplier      float64 `yaml:"inertia_multiplier"`
	MinPositionChangeValue float64 `yaml:"min_position_change_value"`
	MaxPositionChangePct   float64 `yaml:"max_position_change_pct"`
	StrongSignalThreshold  float64 `yaml:"strong_signal_threshold"`
}

// DefaultConfig returns a 2× cost threshold, a $100 minimum change and a 50%
// per-cycle cap
func DefaultConfig() Config {
	return Config{
		Enabled:                true,
		InertiaMultiplier:      2.0,
		MinPositionChangeValue: 100.0,
		MaxPositionChangePct:   0.50,
		StrongSignalThreshold:  18.0,
	}
}

// DecisionInfo is the result of evaluating one position change
type DecisionInfo struct {
	Action              Action  `json:"action"`
	RecommendedPosition float64 `json:"recommended_position"`
	Reason              string  `json:"reason"`
	CurrentPosition     float64 `json:"current_position"`
	TargetPosition      float64 `json:"target_position"`
	PositionChange      float64 `json:"position_change"`
	InertiaThreshold    float64 `json:"inertia_threshold"`
	TransactionCost     float64 `json:"transaction_cost"`
}

// CostBenefit compares the size of a change with what it costs
type CostBenefit struct {
	PositionChange   float64 `json:"position_change"`
	TransactionCost  float64 `json:"transaction_cost"`
	InertiaThreshold float64 `json:"inertia_threshold"`
	NetBenefit       float64 `json:"net_benefit"`
	IsBeneficial     bool    `json:"is_beneficial"`
	ExceedsThreshold bool    `json:"exceeds_threshold"`
}

// PositionChange is one row of a portfolio rebalancing scan
type PositionChange struct {
	Symbol          string
	Current         float64
	Target          float64
	TransactionCost float64
}

// PositionInertia applies the hold/rebalance rules to position values
type PositionInertia struct {
	config Config
}

// NewPositionInertia creates the calculator
func NewPositionInertia(config Config) *PositionInertia {
	def := DefaultConfig()
	if config.InertiaMultiplier <= 0 {
		config.InertiaMultiplier = def.InertiaMultiplier
	}
	if config.MinPositionChangeValue < 0 {
		config.MinPositionChangeValue = def.MinPositionChangeValue
	}
	if config.MaxPositionChangePct <= 0 {
		config.MaxPositionChangePct = def.MaxPositionChangePct
	}
	if config.StrongSignalThreshold <= 0 {
		config.StrongSignalThreshold = def.StrongSignalThreshold
	}
	return &PositionInertia{config: config}
}

// Config returns the active configuration
func (p *PositionInertia) Config() Config { return p.config }

// Threshold is the position change needed to justify a trade costing cost
func (p *PositionInertia) Threshold(cost float64) float64 {
	return cost * p.config.InertiaMultiplier
}

// Decide evaluates the rules in priority order: disabled, minimum change,
// reversal, strong signal, cost threshold, hold. Positions are signed values.
func (p *PositionInertia) Decide(current, target, cost, strength, price float64) DecisionInfo {
	d := DecisionInfo{
		CurrentPosition:  current,
		TargetPosition:   target,
		PositionChange:   math.Abs(target - current),
		InertiaThreshold: p.Threshold(cost),
		TransactionCost:  cost,
	}

	switch {
	case !p.config.Enabled:
		d.Action, d.RecommendedPosition, d.Reason = Rebalance, target, ReasonDisabled

	case d.PositionChange < p.config.MinPositionChangeValue:
		d.Action, d.RecommendedPosition, d.Reason = Hold, current, ReasonBelowMinimum

	case (current > 0 && target < 0) || (current < 0 && target > 0):
		d.Action, d.RecommendedPosition, d.Reason = Rebalance, target, ReasonReversal

	case math.Abs(strength) >= p.config.StrongSignalThreshold:
		rec, limited := p.limit(current, target)
		d.Action, d.RecommendedPosition, d.Reason = Rebalance, rec, ReasonStrongSignal
		if limited {
			d.Reason += reasonLimitedSuffix
		}

	case d.PositionChange > d.InertiaThreshold:
		rec, limited := p.limit(current, target)
		d.Action, d.RecommendedPosition, d.Reason = Rebalance, rec, ReasonThreshold
		if limited {
			d.Reason = ReasonLimited
		}

	default:
		d.Action, d.RecommendedPosition, d.Reason = Hold, current, ReasonBlocked
	}

	log.Debug().
		Float64("current", current).
		Float64("target", target).
		Float64("cost", cost).
		Float64("strength", strength).
		Float64("price", price).
		Str("action", string(d.Action)).
		Float64("recommended", d.RecommendedPosition).
		Str("reason", d.Reason).
		Msg("Inertia decision")
	return d
}

// limit caps the move to MaxPositionChangePct of the current position. A flat
// position has no base to cap against and moves straight to target.
func (p *PositionInertia) limit(current, target float64) (float64, bool) {
	if current == 0 {
		return target, false
	}
	maxChange := math.Abs(current) * p.config.MaxPositionChangePct
	var rec float64
	if target > current {
		rec = current + math.Min(target-current, maxChange)
	} else {
		rec = current - math.Min(current-target, maxChange)
	}
	return rec, math.Abs(rec-target) > limitMatchTolerance
}

// CostBenefit reports the net benefit of moving from current to target
func (p *PositionInertia) CostBenefit(current, target, cost float64) CostBenefit {
	change := math.Abs(target - current)
	threshold := p.Threshold(cost)
	net := change - cost
	return CostBenefit{
		PositionChange:   change,
		TransactionCost:  cost,
		InertiaThreshold: threshold,
		NetBenefit:       net,
		IsBeneficial:     net > 0,
		ExceedsThreshold: change > threshold,
	}
}

// AnalyzeRebalancing runs Decide for each row with a moderate signal strength
// of 10 and a nominal price of 100
func (p *PositionInertia) AnalyzeRebalancing(changes []PositionChange) []DecisionInfo {
	out := make([]DecisionInfo, 0, len(changes))
	for _, c := range changes {
		out = append(out, p.Decide(c.Current, c.Target, c.TransactionCost, defaultSignalForScan, defaultPriceForScan))
	}
	return out
}
