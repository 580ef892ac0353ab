package inertia

import (
	"math"
)

// Portfolio-level decision reasons
const (
	ReasonCostAwareDisabled  = "Cost-aware ERC disabled"
	ReasonLargeDrift         = "Large position drift exceeds threshold"
	ReasonExceedsThreshold   = "Position change exceeds inertia threshold"
	ReasonVolatilityOverride = "Volatility adjustment overrides inertia"
)

const driftEpsilon = 1e-10

// PortfolioConfig holds the ERC-level inertia parameters
type PortfolioConfig struct {
	InertiaMultiplier  float64 `yaml:"inertia_multiplier"`
	RebalanceThreshold float64 `yaml:"rebalance_threshold"`
	CostAware          bool    `yaml:"cost_aware"`
}

// DefaultPortfolioConfig returns a 2% drift threshold with cost-aware holding on
func DefaultPortfolioConfig() PortfolioConfig {
	return PortfolioConfig{
		InertiaMultiplier:  2.0,
		RebalanceThreshold: 0.02,
		CostAware:          true,
	}
}

// Allocation is one position's current state and its ERC target weight
type Allocation struct {
	Symbol          string
	CurrentValue    float64
	CurrentWeight   float64
	TargetWeight    float64
	TransactionCost float64
}

// AllocationDecision is the hold/rebalance outcome for one allocation
type AllocationDecision struct {
	Symbol                      string  `json:"symbol"`
	CurrentAllocation           float64 `json:"current_allocation"`
	TargetAllocation            float64 `json:"target_allocation"`
	RecommendedAllocation       float64 `json:"recommended_allocation"`
	Action                      Action  `json:"action"`
	TransactionCost             float64 `json:"transaction_cost"`
	PositionChange              float64 `json:"position_change"`
	InertiaThreshold            float64 `json:"inertia_threshold"`
	BlockedByInertia            bool    `json:"blocked_by_inertia"`
	CorrelationRiskBoost        float64 `json:"correlation_risk_boost"`
	VolatilityAdjustmentApplied bool    `json:"volatility_adjustment_applied"`
	TargetAllocationAdjusted    bool    `json:"target_allocation_adjusted"`
	Reason                      string  `json:"reason"`
}

// PortfolioInertia decides whether to move allocations to their ERC weights
type PortfolioInertia struct {
	config PortfolioConfig
}

// NewPortfolioInertia creates the portfolio-level calculator
func NewPortfolioInertia(config PortfolioConfig) *PortfolioInertia {
	def := DefaultPortfolioConfig()
	if config.InertiaMultiplier <= 0 {
		config.InertiaMultiplier = def.InertiaMultiplier
	}
	if config.RebalanceThreshold <= 0 {
		config.RebalanceThreshold = def.RebalanceThreshold
	}
	return &PortfolioInertia{config: config}
}

func drift(current, target float64) float64 {
	if current == 0 {
		if target == 0 {
			return 0
		}
		return math.Inf(1)
	}
	return math.Abs((target - current) / current)
}

// Decide evaluates every allocation. A drift above the rebalance threshold
// always rebalances; smaller drifts hold while cost-aware mode is on.
func (p *PortfolioInertia) Decide(allocs []Allocation, totalValue float64) []AllocationDecision {
	out := make([]AllocationDecision, 0, len(allocs))
	for _, a := range allocs {
		targetValue := a.TargetWeight * totalValue
		change := math.Abs(targetValue - a.CurrentValue)
		threshold := a.TransactionCost * p.config.InertiaMultiplier
		large := drift(a.CurrentWeight, a.TargetWeight) > p.config.RebalanceThreshold+driftEpsilon

		d := AllocationDecision{
			Symbol:            a.Symbol,
			CurrentAllocation: a.CurrentWeight,
			TargetAllocation:  a.TargetWeight,
			TransactionCost:   a.TransactionCost,
			PositionChange:    change,
			InertiaThreshold:  threshold,
		}

		switch {
		case !p.config.CostAware:
			d.Action, d.Reason = Rebalance, ReasonCostAwareDisabled
		case large:
			d.Action, d.Reason = Rebalance, ReasonLargeDrift
		case change > threshold:
			d.Action, d.Reason = Hold, ReasonExceedsThreshold
		default:
			d.Action, d.Reason = Hold, ReasonBlocked
		}

		d.BlockedByInertia = p.config.CostAware && d.Action == Hold
		d.TargetAllocationAdjusted = d.Action == Rebalance
		d.RecommendedAllocation = d.CurrentAllocation
		if d.Action == Rebalance {
			d.RecommendedAllocation = d.TargetAllocation
		}
		out = append(out, d)
	}
	return out
}

// DecideWithCorrelation is Decide plus a correlation risk boost of
// max(avg−0.5, 0)×0.1, where avg is the symbol's mean correlation row
func (p *PortfolioInertia) DecideWithCorrelation(allocs []Allocation, totalValue float64, avgCorrelation map[string]float64) []AllocationDecision {
	out := p.Decide(allocs, totalValue)
	for i := range out {
		out[i].CorrelationRiskBoost = math.Max(avgCorrelation[out[i].Symbol]-0.5, 0) * 0.1
	}
	return out
}

// ApplyVolatilityAdjustment forces every hold to rebalance when realised
// portfolio volatility is above target
func (p *PortfolioInertia) ApplyVolatilityAdjustment(decisions []AllocationDecision, portfolioVol, targetVol float64) []AllocationDecision {
	if portfolioVol <= targetVol {
		return decisions
	}
	for i := range decisions {
		d := &decisions[i]
		d.VolatilityAdjustmentApplied = true
		if d.Action == Hold {
			d.Action = Rebalance
			d.Reason = ReasonVolatilityOverride
			d.BlockedByInertia = false
			d.TargetAllocationAdjusted = true
			d.RecommendedAllocation = d.TargetAllocation
		}
	}
	return decisions
}
