package inertia

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
)

// ErrInvalidCost is returned for negative or non-finite cost parameters
var ErrInvalidCost = errors.New("invalid transaction cost parameter")

// SecurityType selects the commission schedule
type SecurityType string

const (
	Stock  SecurityType = "stock"
	Future SecurityType = "future"
	Forex  SecurityType = "forex"
)

// ParseSecurityType accepts stock, future(s) or forex in any case
func ParseSecurityType(s string) (SecurityType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "stock", "stk":
		return Stock, nil
	case "future", "futures", "fut":
		return Future, nil
	case "forex", "fx", "cash":
		return Forex, nil
	}
	return "", fmt.Errorf("unknown security type %q", s)
}

// DefaultSpreadKey is the spread table entry used for symbols without their own
const DefaultSpreadKey = "DEFAULT"

const (
	fallbackSpreadRate = 0.0010
	fallbackCommission = 1.00
)

// CostConfig holds the transaction cost schedule
type CostConfig struct {
	Spreads                 map[string]float64       `yaml:"spreads"`
	Commissions             map[SecurityType]float64 `yaml:"commissions"`
	MarketImpactThreshold   float64                  `yaml:"market_impact_threshold"`
	MarketImpactCoefficient float64                  `yaml:"market_impact_coefficient"`
}

// DefaultCostConfig returns a 10 bp default spread, flat stock and forex
// commissions, a per-contract futures commission and impact above 1% of volume
func DefaultCostConfig() CostConfig {
	return CostConfig{
		Spreads: map[string]float64{DefaultSpreadKey: fallbackSpreadRate},
		Commissions: map[SecurityType]float64{
			Stock:  1.00,
			Future: 2.50,
			Forex:  0.50,
		},
		MarketImpactThreshold:   0.01,
		MarketImpactCoefficient: 0.5,
	}
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Validate rejects negative or non-finite rates
func (c CostConfig) Validate() error {
	for symbol, rate := range c.Spreads {
		if !finiteNonNegative(rate) {
			return fmt.Errorf("%w: spread for %s is %v", ErrInvalidCost, symbol, rate)
		}
	}
	for t, rate := range c.Commissions {
		if !finiteNonNegative(rate) {
			return fmt.Errorf("%w: commission for %s is %v", ErrInvalidCost, t, rate)
		}
	}
	if !finiteNonNegative(c.MarketImpactThreshold) {
		return fmt.Errorf("%w: market impact threshold %v", ErrInvalidCost, c.MarketImpactThreshold)
	}
	if !finiteNonNegative(c.MarketImpactCoefficient) {
		return fmt.Errorf("%w: market impact coefficient %v", ErrInvalidCost, c.MarketImpactCoefficient)
	}
	return nil
}

// Trade describes one order for costing. Quantity is in units or contracts;
// its sign is ignored.
type Trade struct {
	Symbol      string
	Type        SecurityType
	Quantity    float64
	Price       float64
	DailyVolume float64
}

// Notional is price × |quantity|
func (t Trade) Notional() float64 {
	return t.Price * math.Abs(t.Quantity)
}

// CostModel prices trades as spread plus commission plus market impact
type CostModel struct {
	mu     sync.RWMutex
	config CostConfig
}

// NewCostModel validates and copies the cost schedule
func NewCostModel(config CostConfig) (*CostModel, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create cost model: %w", err)
	}
	cp := CostConfig{
		Spreads:                 make(map[string]float64, len(config.Spreads)),
		Commissions:             make(map[SecurityType]float64, len(config.Commissions)),
		MarketImpactThreshold:   config.MarketImpactThreshold,
		MarketImpactCoefficient: config.MarketImpactCoefficient,
	}
	for k, v := range config.Spreads {
		cp.Spreads[k] = v
	}
	for k, v := range config.Commissions {
		cp.Commissions[k] = v
	}
	return &CostModel{config: cp}, nil
}

// UpdateSpread sets the spread rate for one symbol
func (m *CostModel) UpdateSpread(symbol string, rate float64) error {
	if !finiteNonNegative(rate) {
		return fmt.Errorf("%w: spread for %s is %v", ErrInvalidCost, symbol, rate)
	}
	m.mu.Lock()
	m.config.Spreads[symbol] = rate
	m.mu.Unlock()
	return nil
}

// SpreadRate returns the symbol's spread, then the DEFAULT entry, then 10 bp
func (m *CostModel) SpreadRate(symbol string) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if r, ok := m.config.Spreads[symbol]; ok {
		return r
	}
	if r, ok := m.config.Spreads[DefaultSpreadKey]; ok {
		return r
	}
	return fallbackSpreadRate
}

// SpreadCost is notional × spread rate
func (m *CostModel) SpreadCost(symbol string, quantity, price float64) float64 {
	return price * math.Abs(quantity) * m.SpreadRate(symbol)
}

// CommissionCost is a flat fee for stock and forex and per contract for futures
func (m *CostModel) CommissionCost(t SecurityType, quantity float64) float64 {
	m.mu.RLock()
	rate, ok := m.config.Commissions[t]
	m.mu.RUnlock()
	if !ok {
		rate = fallbackCommission
	}
	if t == Future {
		return rate * math.Abs(quantity)
	}
	return rate
}

// MarketImpactCost is zero up to the volume threshold and grows linearly in
// the excess volume fraction above it. Unknown volume is treated as no impact.
func (m *CostModel) MarketImpactCost(quantity, price, dailyVolume float64) float64 {
	if dailyVolume <= 0 {
		return 0
	}
	notional := price * math.Abs(quantity)
	frac := notional / dailyVolume

	m.mu.RLock()
	thr, coef := m.config.MarketImpactThreshold, m.config.MarketImpactCoefficient
	m.mu.RUnlock()

	if frac <= thr {
		return 0
	}
	return notional * (frac - thr) * coef
}

// TotalCost is the one-way cost of a trade. A zero quantity costs nothing.
func (m *CostModel) TotalCost(t Trade) float64 {
	if t.Quantity == 0 {
		return 0
	}
	return m.SpreadCost(t.Symbol, t.Quantity, t.Price) +
		m.CommissionCost(t.Type, t.Quantity) +
		m.MarketImpactCost(t.Quantity, t.Price, t.DailyVolume)
}

// RoundTripCost is twice the one-way cost
func (m *CostModel) RoundTripCost(t Trade) float64 {
	return 2 * m.TotalCost(t)
}

// CostBps is the one-way cost in basis points of notional
func (m *CostModel) CostBps(t Trade) float64 {
	notional := t.Notional()
	if notional <= 0 {
		return 0
	}
	return m.TotalCost(t) / notional * 10000
}
