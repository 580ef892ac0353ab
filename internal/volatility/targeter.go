package volatility

import (
	"math"

	"github.com/rs/zerolog/log"
)

// Targeter converts signal strength into position size using instrument
// volatility from a Store
type Targeter struct {
	config Config
	store  *Store
}

// NewTargeter creates a targeter reading from store
func NewTargeter(config Config, store *Store) *Targeter {
	return &Targeter{config: config.withDefaults(), store: store}
}

// Store returns the backing volatility store
func (t *Targeter) Store() *Store { return t.store }

// TargetVolatility returns the annualized portfolio target
func (t *Targeter) TargetVolatility() float64 { return t.config.TargetVolatility }

// InstrumentVolatility returns the EWMA estimate, or the default when the
// symbol has no positive estimate
func (t *Targeter) InstrumentVolatility(symbol string) float64 {
	if v, ok := t.store.Volatility(symbol); ok && v > 0 {
		return v
	}
	return t.config.DefaultVolatility
}

// PositionSize returns strength × target_vol × portfolio_value / (vol × price).
// Strength is taken in raw Carver units, so a full ±20 forecast sizes to
// twenty times the target risk.
func (t *Targeter) PositionSize(symbol string, strength, price, portfolioValue float64) float64 {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) || math.IsNaN(strength) {
		return 0
	}
	vol := t.InstrumentVolatility(symbol)
	size := strength * t.config.TargetVolatility * portfolioValue / (vol * price)

	log.Debug().
		Str("symbol", symbol).
		Float64("strength", strength).
		Float64("instrument_vol", vol).
		Float64("price", price).
		Float64("size", size).
		Msg("Volatility-based position size")
	return size
}

// InstrumentDiversificationMultiplier is sqrt(n) bounded to [1, 2.5]
func InstrumentDiversificationMultiplier(n int) float64 {
	return math.Max(1.0, math.Min(2.5, math.Sqrt(float64(n))))
}

// ForecastDiversificationMultiplier is sqrt(n) bounded to [1, 2]
func ForecastDiversificationMultiplier(n int) float64 {
	return math.Max(1.0, math.Min(2.0, math.Sqrt(float64(n))))
}

// PortfolioVolatility is the |weight|-weighted average of instrument
// volatilities, ignoring correlation. Symbols without an estimate are skipped.
func (t *Targeter) PortfolioVolatility(weights map[string]float64) float64 {
	weighted, total := 0.0, 0.0
	for symbol, w := range weights {
		v, ok := t.store.Volatility(symbol)
		if !ok {
			continue
		}
		weighted += math.Abs(w) * v
		total += math.Abs(w)
	}
	if total == 0 {
		return 0
	}
	return weighted / total
}

// IsOnTarget reports whether portfolio volatility is within tolerance of target
func (t *Targeter) IsOnTarget(weights map[string]float64) bool {
	return math.Abs(t.PortfolioVolatility(weights)-t.config.TargetVolatility) <= t.config.Tolerance
}

// Summary is a reporting view of the targeter state
type Summary struct {
	TargetVolatility    float64            `json:"target_volatility"`
	PortfolioVolatility float64            `json:"portfolio_volatility"`
	OnTarget            bool               `json:"on_target"`
	Volatilities        map[string]float64 `json:"volatilities"`
	Insufficient        []string           `json:"insufficient,omitempty"`
}

// Summary reports the portfolio against its target for the given weights
func (t *Targeter) Summary(weights map[string]float64) Summary {
	s := Summary{
		TargetVolatility:    t.config.TargetVolatility,
		PortfolioVolatility: t.PortfolioVolatility(weights),
		Volatilities:        t.store.Volatilities(),
	}
	s.OnTarget = math.Abs(s.PortfolioVolatility-s.TargetVolatility) <= t.config.Tolerance
	for _, symbol := range t.store.Symbols() {
		if !t.store.HasSufficientData(symbol) {
			s.Insufficient = append(s.Insufficient, symbol)
		}
	}
	return s
}
