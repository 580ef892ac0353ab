package risk

import (
	"math"
	"sort"
)

// Contribution is one position's share of portfolio risk
type Contribution struct {
	Symbol           string  `json:"symbol"`
	Weight           float64 `json:"weight"`
	Volatility       float64 `json:"volatility"`
	MarginalRisk     float64 `json:"marginal_risk"`
	RiskContribution float64 `json:"risk_contribution"`
	RiskBudgetUsage  float64 `json:"risk_budget_usage"`
}

// Attribution breaks portfolio risk down by position
type Attribution struct {
	TotalVolatility        float64        `json:"total_volatility"`
	TargetVolatility       float64        `json:"target_volatility"`
	Contributions          []Contribution `json:"contributions"`
	DiversificationRatio   float64        `json:"diversification_ratio"`
	ConcentrationScore     float64        `json:"concentration_score"`
	LargestRiskContributor string         `json:"largest_risk_contributor,omitempty"`
	Violations             []string       `json:"violations,omitempty"`
}

// ERCAllocation is the move from the current weight to the equal risk weight
type ERCAllocation struct {
	Symbol                  string  `json:"symbol"`
	CurrentWeight           float64 `json:"current_weight"`
	TargetWeight            float64 `json:"target_weight"`
	AdjustmentNeeded        float64 `json:"adjustment_needed"`
	RiskContributionCurrent float64 `json:"risk_contribution_current"`
	RiskContributionTarget  float64 `json:"risk_contribution_target"`
}

// Weights converts position values to weights of gross exposure. Signs are kept.
func Weights(values map[string]float64) map[string]float64 {
	gross := 0.0
	for _, v := range values {
		gross += math.Abs(v)
	}
	out := make(map[string]float64, len(values))
	for s, v := range values {
		if gross > 0 {
			out[s] = v / gross
		} else {
			out[s] = 0
		}
	}
	return out
}

// Attribute computes per-position risk contributions for positions given by
// market value. Symbols are processed in sorted order.
func (b *Budgeter) Attribute(values map[string]float64) (*Attribution, error) {
	if len(values) == 0 {
		return &Attribution{
			TargetVolatility:     b.config.TargetVolatility,
			Contributions:        []Contribution{},
			DiversificationRatio: 1.0,
		}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	symbols := sortedKeys(values)
	weights := Weights(values)
	sigmaP, err := b.portfolioVolatility(symbols, weights)
	if err != nil {
		return nil, err
	}

	n := float64(len(symbols))
	equalShare := 1.0 / n
	attr := &Attribution{
		TotalVolatility:  sigmaP,
		TargetVolatility: b.config.TargetVolatility,
		Contributions:    make([]Contribution, 0, len(symbols)),
	}

	largest := 0.0
	weightedVol := 0.0
	for _, si := range symbols {
		wi, vi := weights[si], b.volatilities[si]
		weightedVol += math.Abs(wi) * vi

		mcr := 0.0
		for _, sj := range symbols {
			mcr += weights[sj] * vi * b.volatilities[sj] * b.correlation(si, sj)
		}
		rc := 0.0
		if sigmaP > 0 {
			mcr /= sigmaP
			rc = wi * mcr / sigmaP
		}

		if rc > largest {
			largest = rc
			attr.LargestRiskContributor = si
		}
		attr.Contributions = append(attr.Contributions, Contribution{
			Symbol:           si,
			Weight:           wi,
			Volatility:       vi,
			MarginalRisk:     mcr,
			RiskContribution: rc,
			RiskBudgetUsage:  rc / equalShare,
		})
	}

	attr.DiversificationRatio = 1.0
	if sigmaP > 0 {
		attr.DiversificationRatio = weightedVol / sigmaP
	}
	attr.ConcentrationScore = concentration(attr.Contributions)
	attr.Violations = b.violations(attr.Contributions)
	return attr, nil
}

// concentration is the Herfindahl index of risk contributions rescaled from
// [1/N, 1] to [0, 1]
func concentration(cs []Contribution) float64 {
	if len(cs) == 0 {
		return 0
	}
	hhi := 0.0
	for _, c := range cs {
		hhi += c.RiskContribution * c.RiskContribution
	}
	minHHI := 1.0 / float64(len(cs))
	if math.Abs(1-minHHI) < 1e-15 {
		return 0
	}
	return (hhi - minHHI) / (1 - minHHI)
}

// usageTolerance keeps rounding noise on an exact equal share from counting as overuse
const usageTolerance = 1e-9

func (b *Budgeter) violations(cs []Contribution) []string {
	if len(cs) == 0 {
		return nil
	}
	equalShare := 1.0 / float64(len(cs))
	var out []string
	for _, c := range cs {
		relDev := math.Abs(c.RiskContribution-equalShare) / equalShare
		if relDev > b.config.ViolationThreshold || c.RiskBudgetUsage > 1.0+usageTolerance || c.RiskContribution > b.config.MaxRiskContribution {
			out = append(out, c.Symbol)
		}
	}
	return out
}

// ERCAllocations returns the signed weights that would equalise risk
// contributions, normalised to unit gross exposure. A short position's
// marginal risk is negative, so its target stays short. Positions whose
// marginal risk is zero or opposes their weight keep the current weight.
func (b *Budgeter) ERCAllocations(values map[string]float64) ([]ERCAllocation, error) {
	if len(values) == 0 {
		return []ERCAllocation{}, nil
	}
	attr, err := b.Attribute(values)
	if err != nil {
		return nil, err
	}

	equalShare := 1.0 / float64(len(attr.Contributions))
	out := make([]ERCAllocation, 0, len(attr.Contributions))
	total := 0.0
	for _, c := range attr.Contributions {
		target := c.Weight
		if c.MarginalRisk*c.Weight > 0 {
			target = equalShare * attr.TotalVolatility / c.MarginalRisk
		}
		total += math.Abs(target)
		out = append(out, ERCAllocation{
			Symbol:                  c.Symbol,
			CurrentWeight:           c.Weight,
			TargetWeight:            target,
			AdjustmentNeeded:        target - c.Weight,
			RiskContributionCurrent: c.RiskContribution,
			RiskContributionTarget:  equalShare,
		})
	}

	if total > 0 {
		for i := range out {
			out[i].TargetWeight /= total
			out[i].AdjustmentNeeded = out[i].TargetWeight - out[i].CurrentWeight
		}
	}
	return out, nil
}

// RebalancingRecommendations keeps the ERC allocations whose adjustment is
// material, largest first
func (b *Budgeter) RebalancingRecommendations(values map[string]float64) ([]ERCAllocation, error) {
	allocs, err := b.ERCAllocations(values)
	if err != nil {
		return nil, err
	}

	out := make([]ERCAllocation, 0, len(allocs))
	for _, a := range allocs {
		adj := math.Abs(a.AdjustmentNeeded)
		rel := adj
		if cw := math.Abs(a.CurrentWeight); cw > 0 {
			rel = adj / cw
		}
		ratio := a.RiskContributionCurrent / a.RiskContributionTarget
		if rel > b.config.RebalanceThreshold || adj > b.config.AbsoluteAdjustment || ratio > 1.5 || ratio < 0.5 {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(out[i].AdjustmentNeeded) > math.Abs(out[j].AdjustmentNeeded)
	})
	return out, nil
}

// LargestRiskContributor returns the symbol with the largest risk contribution
func (b *Budgeter) LargestRiskContributor(values map[string]float64) (string, bool, error) {
	attr, err := b.Attribute(values)
	if err != nil {
		return "", false, err
	}
	return attr.LargestRiskContributor, attr.LargestRiskContributor != "", nil
}
