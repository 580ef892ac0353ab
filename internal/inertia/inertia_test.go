package inertia

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInertiaThresholdIsCostTimesMultiplier(t *testing.T) {
	p := NewPositionInertia(DefaultConfig())
	assert.Equal(t, 60.0, p.Threshold(30))
}

func TestDecidePriorityOrder(t *testing.T) {
	p := NewPositionInertia(DefaultConfig())

	tests := []struct {
		name        string
		current     float64
		target      float64
		cost        float64
		strength    float64
		action      Action
		recommended float64
		reason      string
	}{
		{"small change blocked by inertia", 1000, 1150, 80, 5, Hold, 1000, ReasonBlocked},
		{"change exceeds threshold", 1000, 1200, 30, 5, Rebalance, 1200, ReasonThreshold},
		{"below minimum change", 1000, 1020, 1, 19, Hold, 1000, ReasonBelowMinimum},
		{"reversal long to short", 1000, -500, 1000, 0, Rebalance, -500, ReasonReversal},
		{"reversal short to long", -800, 3000, 1000, 0, Rebalance, 3000, ReasonReversal},
		{"strong signal under threshold", 1000, 1170, 100, 18, Rebalance, 1170, ReasonStrongSignal},
		{"strong negative signal capped", 1000, 0, 50, -19, Rebalance, 500, ReasonStrongSignal + ", position change limited to maximum percentage"},
		{"max signal capped at 50%", 1000, 2000, 30, 20, Rebalance, 1500, ReasonStrongSignal + ", position change limited to maximum percentage"},
		{"threshold move capped", 1000, 4000, 30, 5, Rebalance, 1500, ReasonLimited},
		{"opening from flat is not capped", 0, 5000, 30, 5, Rebalance, 5000, ReasonThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := p.Decide(tt.current, tt.target, tt.cost, tt.strength, 100)
			assert.Equal(t, tt.action, d.Action)
			assert.InDelta(t, tt.recommended, d.RecommendedPosition, 1e-9)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.current, d.CurrentPosition)
			assert.Equal(t, tt.target, d.TargetPosition)
			assert.InDelta(t, math.Abs(tt.target-tt.current), d.PositionChange, 1e-9)
			assert.Equal(t, tt.cost*2, d.InertiaThreshold)
		})
	}
}

func TestDisabledInertiaAlwaysRebalances(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Enabled = false
	p := NewPositionInertia(cfg)

	d := p.Decide(1000, 1001, 500, 0, 100)
	assert.Equal(t, Rebalance, d.Action)
	assert.Equal(t, 1001.0, d.RecommendedPosition)
	assert.Equal(t, ReasonDisabled, d.Reason)
}

func TestReversalIgnoresCostAndStrength(t *testing.T) {
	p := NewPositionInertia(DefaultConfig())
	for _, strength := range []float64{-20, -1, 0, 1, 20} {
		d := p.Decide(5000, -200, 1e6, strength, 50)
		assert.Equal(t, Rebalance, d.Action)
		assert.Equal(t, -200.0, d.RecommendedPosition)
	}
}

func TestCostBenefit(t *testing.T) {
	p := NewPositionInertia(DefaultConfig())

	cb := p.CostBenefit(1000, 1200, 30)
	assert.Equal(t, 200.0, cb.PositionChange)
	assert.Equal(t, 60.0, cb.InertiaThreshold)
	assert.Equal(t, 170.0, cb.NetBenefit)
	assert.True(t, cb.IsBeneficial)
	assert.True(t, cb.ExceedsThreshold)

	cb = p.CostBenefit(1000, 1040, 30)
	assert.True(t, cb.IsBeneficial)
	assert.False(t, cb.ExceedsThreshold)

	cb = p.CostBenefit(1000, 1010, 30)
	assert.False(t, cb.IsBeneficial)
}

func TestAnalyzeRebalancing(t *testing.T) {
	p := NewPositionInertia(DefaultConfig())

	got := p.AnalyzeRebalancing([]PositionChange{
		{Symbol: "AAPL", Current: 1000, Target: 1200, TransactionCost: 30},
		{Symbol: "MSFT", Current: 1000, Target: 1150, TransactionCost: 80},
		{Symbol: "ES", Current: 1000, Target: -1000, TransactionCost: 30},
	})
	require.Len(t, got, 3)
	assert.Equal(t, Rebalance, got[0].Action)
	assert.Equal(t, Hold, got[1].Action)
	assert.Equal(t, ReasonReversal, got[2].Reason)
}

func testCostModel(t *testing.T) *CostModel {
	t.Helper()
	m, err := NewCostModel(CostConfig{
		Spreads: map[string]float64{
			"AAPL":   0.0005,
			"EURUSD": 0.0020,
			"ES":     0.0010,
		},
		Commissions: map[SecurityType]float64{
			Stock:  1.00,
			Forex:  0.50,
			Future: 2.50,
		},
		MarketImpactThreshold:   0.01,
		MarketImpactCoefficient: 0.5,
	})
	require.NoError(t, err)
	return m
}

func TestSpreadAndCommission(t *testing.T) {
	m := testCostModel(t)

	assert.InDelta(t, 150*100*0.0005, m.SpreadCost("AAPL", 100, 150), 1e-9)
	assert.InDelta(t, 1.0850*10000*0.0020, m.SpreadCost("EURUSD", -10000, 1.0850), 1e-9)
	assert.InDelta(t, 4200*0.0010, m.SpreadCost("ES", 1, 4200), 1e-9)
	assert.InDelta(t, 50*10*0.0010, m.SpreadCost("UNKNOWN", 10, 50), 1e-12, "no DEFAULT entry falls back to 10 bp")

	assert.Equal(t, 1.00, m.CommissionCost(Stock, 100))
	assert.Equal(t, 0.50, m.CommissionCost(Forex, 10000))
	assert.Equal(t, 12.50, m.CommissionCost(Future, 5))
	assert.Equal(t, 12.50, m.CommissionCost(Future, -5))
}

func TestDefaultSpreadEntry(t *testing.T) {
	m, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)
	assert.Equal(t, 0.0010, m.SpreadRate("ANY"))

	require.NoError(t, m.UpdateSpread("ANY", 0.0003))
	assert.Equal(t, 0.0003, m.SpreadRate("ANY"))
	assert.ErrorIs(t, m.UpdateSpread("ANY", -1), ErrInvalidCost)
}

func TestMarketImpact(t *testing.T) {
	m := testCostModel(t)

	// 66 × 150 = 9,900, under 1% of volume
	assert.Equal(t, 0.0, m.MarketImpactCost(66, 150, 1_000_000))
	// 15,000 is 1.5% of volume: 15,000 × 0.5% × 0.5
	assert.InDelta(t, 37.5, m.MarketImpactCost(100, 150, 1_000_000), 1e-9)
	assert.Equal(t, 0.0, m.MarketImpactCost(100, 150, 0), "unknown volume")

	prev := 0.0
	for qty := 100.0; qty <= 1000; qty += 100 {
		c := m.MarketImpactCost(qty, 150, 1_000_000)
		assert.Greater(t, c, prev, "impact strictly increases above the threshold")
		prev = c
	}
}

func TestTotalRoundTripAndBps(t *testing.T) {
	m := testCostModel(t)

	small := Trade{Symbol: "AAPL", Type: Stock, Quantity: 66, Price: 150, DailyVolume: 1_000_000}
	assert.InDelta(t, 150*66*0.0005+1.00, m.TotalCost(small), 1e-9)

	large := Trade{Symbol: "AAPL", Type: Stock, Quantity: 100, Price: 150, DailyVolume: 1_000_000}
	oneWay := m.TotalCost(large)
	assert.InDelta(t, 7.5+1.0+37.5, oneWay, 1e-9)
	assert.InDelta(t, 2*oneWay, m.RoundTripCost(large), 1e-9)
	assert.InDelta(t, oneWay/15000*10000, m.CostBps(large), 1e-9)

	zero := Trade{Symbol: "AAPL", Type: Stock, Quantity: 0, Price: 150, DailyVolume: 1_000_000}
	assert.Equal(t, 0.0, m.TotalCost(zero))
	assert.Equal(t, 0.0, m.CostBps(zero))

	short := large
	short.Quantity = -100
	assert.InDelta(t, oneWay, m.TotalCost(short), 1e-9)
}

func TestCostConfigValidation(t *testing.T) {
	cfg := DefaultCostConfig()
	cfg.Spreads["BAD"] = -0.1
	_, err := NewCostModel(cfg)
	assert.ErrorIs(t, err, ErrInvalidCost)

	cfg = DefaultCostConfig()
	cfg.MarketImpactCoefficient = math.Inf(1)
	_, err = NewCostModel(cfg)
	assert.ErrorIs(t, err, ErrInvalidCost)
}

func TestParseSecurityType(t *testing.T) {
	for in, want := range map[string]SecurityType{"STK": Stock, "Futures": Future, "fx": Forex, " forex ": Forex} {
		got, err := ParseSecurityType(in)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseSecurityType("bond")
	assert.Error(t, err)
}

func fourPositions(weights ...float64) []Allocation {
	symbols := []string{"AAPL", "GOOGL", "MSFT", "AMZN"}
	out := make([]Allocation, len(weights))
	for i, w := range weights {
		out[i] = Allocation{Symbol: symbols[i], CurrentWeight: w, CurrentValue: w * 40000}
	}
	return out
}

func withTargets(allocs []Allocation, cost float64, targets ...float64) []Allocation {
	for i := range allocs {
		allocs[i].TargetWeight = targets[i]
		allocs[i].TransactionCost = cost
	}
	return allocs
}

func TestPortfolioSmallDriftHolds(t *testing.T) {
	p := NewPortfolioInertia(DefaultPortfolioConfig())
	allocs := withTargets(fourPositions(0.25, 0.25, 0.25, 0.25), 50, 0.255, 0.245, 0.252, 0.248)

	got := p.Decide(allocs, 40000)
	require.Len(t, got, 4)
	for _, d := range got {
		assert.Equal(t, Hold, d.Action, d.Symbol)
		assert.True(t, d.BlockedByInertia)
		assert.False(t, d.TargetAllocationAdjusted)
		assert.Equal(t, d.CurrentAllocation, d.RecommendedAllocation)
	}
	assert.Equal(t, ReasonExceedsThreshold, got[0].Reason, "200 change beats the 100 threshold but drift is only 2%")
	assert.Equal(t, ReasonBlocked, got[2].Reason)
}

func TestPortfolioLargeDriftRebalances(t *testing.T) {
	p := NewPortfolioInertia(DefaultPortfolioConfig())
	allocs := withTargets(fourPositions(0.20, 0.45, 0.30, 0.05), 100, 0.25, 0.25, 0.25, 0.25)

	got := p.Decide(allocs, 40000)
	for _, d := range got {
		assert.Equal(t, Rebalance, d.Action)
		assert.Equal(t, ReasonLargeDrift, d.Reason)
		assert.Equal(t, 0.25, d.RecommendedAllocation)
		assert.False(t, d.BlockedByInertia)
	}
	assert.InDelta(t, 8000.0, got[1].PositionChange, 1e-9)
	assert.Equal(t, 200.0, got[1].InertiaThreshold)
}

func TestPortfolioCostAwareDisabled(t *testing.T) {
	cfg := DefaultPortfolioConfig()
	cfg.CostAware = false
	p := NewPortfolioInertia(cfg)

	got := p.Decide(withTargets(fourPositions(0.25, 0.25, 0.25, 0.25), 20, 0.25, 0.25, 0.25, 0.25), 40000)
	for _, d := range got {
		assert.Equal(t, Rebalance, d.Action)
		assert.Equal(t, ReasonCostAwareDisabled, d.Reason)
		assert.False(t, d.BlockedByInertia)
	}
}

func TestPortfolioFromZeroWeightIsLargeDrift(t *testing.T) {
	p := NewPortfolioInertia(DefaultPortfolioConfig())
	got := p.Decide([]Allocation{{Symbol: "NEW", TargetWeight: 0.1, TransactionCost: 5}}, 10000)
	assert.Equal(t, Rebalance, got[0].Action)

	got = p.Decide([]Allocation{{Symbol: "NONE", TransactionCost: 5}}, 10000)
	assert.Equal(t, Hold, got[0].Action)
}

func TestPortfolioCorrelationBoost(t *testing.T) {
	p := NewPortfolioInertia(DefaultPortfolioConfig())
	allocs := withTargets(fourPositions(0.25, 0.25, 0.25, 0.25), 25, 0.20, 0.20, 0.20, 0.15)

	got := p.DecideWithCorrelation(allocs, 40000, map[string]float64{
		"AAPL":  (1.0 + 0.8 + 0.7 + 0.9) / 4,
		"GOOGL": (0.8 + 1.0 + 0.6 + 0.8) / 4,
		"MSFT":  0.4,
	})
	assert.InDelta(t, (0.85-0.5)*0.1, got[0].CorrelationRiskBoost, 1e-12)
	assert.InDelta(t, (0.8-0.5)*0.1, got[1].CorrelationRiskBoost, 1e-12)
	assert.Equal(t, 0.0, got[2].CorrelationRiskBoost)
	assert.Equal(t, 0.0, got[3].CorrelationRiskBoost, "missing row counts as uncorrelated")
}

func TestVolatilityOverride(t *testing.T) {
	p := NewPortfolioInertia(DefaultPortfolioConfig())
	allocs := withTargets(fourPositions(0.25, 0.25, 0.25, 0.25), 20, 0.25, 0.25, 0.25, 0.25)

	calm := p.ApplyVolatilityAdjustment(p.Decide(allocs, 40000), 0.20, 0.25)
	for _, d := range calm {
		assert.Equal(t, Hold, d.Action)
		assert.False(t, d.VolatilityAdjustmentApplied)
	}

	hot := p.ApplyVolatilityAdjustment(p.Decide(allocs, 40000), 0.30, 0.25)
	for _, d := range hot {
		assert.True(t, d.VolatilityAdjustmentApplied)
		assert.Equal(t, Rebalance, d.Action)
		assert.Equal(t, ReasonVolatilityOverride, d.Reason)
		assert.False(t, d.BlockedByInertia)
	}
}

func newFilter(t *testing.T, cfg FilterConfig) *SignalFilter {
	t.Helper()
	m, err := NewCostModel(DefaultCostConfig())
	require.NoError(t, err)
	return NewSignalFilter(cfg, NewPositionInertia(DefaultConfig()), m)
}

func TestSignalFilterStages(t *testing.T) {
	f := newFilter(t, DefaultFilterConfig())

	targets := []Target{
		// 200 change costing 1.2 passes inertia but is 60 bp of notional
		{Symbol: "AAPL", Type: Stock, CurrentPosition: 1000, TargetPosition: 1200, Price: 100, DailyVolume: 1e9, SignalStrength: 5},
		// 50 change, below the 100 minimum
		{Symbol: "MSFT", Type: Stock, CurrentPosition: 1000, TargetPosition: 1050, Price: 100, DailyVolume: 1e9, SignalStrength: 5},
		// 100k trade costing 101 is 10.1 bp
		{Symbol: "ES", Type: Stock, CurrentPosition: 0, TargetPosition: 100000, Price: 100, DailyVolume: 1e9, SignalStrength: 12},
	}

	accepted, stats := f.Filter(targets)
	assert.Equal(t, 3, stats.Original)
	assert.Equal(t, 1, stats.InertiaFiltered)
	assert.Equal(t, 1, stats.CostFiltered)
	assert.Equal(t, 1, stats.Final)
	require.Len(t, accepted, 1)

	es := accepted[0]
	assert.Equal(t, "ES", es.Symbol)
	assert.Equal(t, Rebalance, es.Decision.Action)
	assert.InDelta(t, 1000.0, es.TradeQuantity, 1e-9)
	assert.InDelta(t, 100000*0.0010+1.0, es.EstimatedCost, 1e-9)
	assert.InDelta(t, 10.1, es.CostBps, 1e-9)
	assert.InDelta(t, 1.2+es.EstimatedCost, stats.TotalEstimatedCosts, 1e-9)
}

func TestSignalFilterDisabledStages(t *testing.T) {
	f := newFilter(t, FilterConfig{MaxCostBps: 50})

	targets := []Target{
		{Symbol: "MSFT", Type: Stock, CurrentPosition: 1000, TargetPosition: 1050, Price: 100},
		{Symbol: "AAPL", Type: Stock, CurrentPosition: 1000, TargetPosition: 1200, Price: 100},
	}
	accepted, stats := f.Filter(targets)
	assert.Equal(t, 2, stats.Final)
	assert.Equal(t, 0.0, stats.TotalEstimatedCosts)
	require.Len(t, accepted, 2)
	assert.Equal(t, ReasonDisabled, accepted[0].Decision.Reason)
	assert.Equal(t, 1050.0, accepted[0].Decision.RecommendedPosition)
	assert.InDelta(t, 0.5, accepted[0].TradeQuantity, 1e-12)
}

func TestSignalFilterEvaluateKeepsRejections(t *testing.T) {
	f := newFilter(t, DefaultFilterConfig())

	r := f.Evaluate([]Target{
		{Symbol: "AAPL", Type: Stock, CurrentPosition: 1000, TargetPosition: 1200, Price: 100},
		{Symbol: "MSFT", Type: Stock, CurrentPosition: 1000, TargetPosition: 1050, Price: 100},
	})
	assert.Empty(t, r.Accepted)
	require.Len(t, r.Rejected, 2)

	assert.Equal(t, "AAPL", r.Rejected[0].Symbol)
	assert.Equal(t, Hold, r.Rejected[0].Decision.Action)
	assert.Equal(t, ReasonCostCeiling, r.Rejected[0].Decision.Reason)
	assert.Equal(t, 1000.0, r.Rejected[0].Decision.RecommendedPosition)

	assert.Equal(t, ReasonBelowMinimum, r.Rejected[1].Decision.Reason)
}
