// Package carry turns interest rate differentials into carry signals.
package carry

import (
	"math"
	"sync"

	"github.com/sawpanic/carverrun/internal/signals"
)

// Kind labels the sign of the carry
type Kind string

const (
	PositiveCarry Kind = "positive"
	NegativeCarry Kind = "negative"
	NeutralCarry  Kind = "neutral"
)

// RateQuote holds the two legs of a carry trade in percent, plus recent
// differentials for ranking the current one
type RateQuote struct {
	BaseRate  float64   `json:"base_rate" yaml:"base_rate"`
	QuoteRate float64   `json:"quote_rate" yaml:"quote_rate"`
	History   []float64 `json:"history,omitempty" yaml:"history,omitempty"`
}

// Differential is base minus quote, in percent
func (q RateQuote) Differential() float64 {
	return q.BaseRate - q.QuoteRate
}

// RateTable maps a symbol to its rate quote
type RateTable map[string]RateQuote

// Config holds carry parameters
type Config struct {
	LookbackPeriod      int     `yaml:"lookback_period"`
	VolatilityThreshold float64 `yaml:"volatility_threshold"`
	MinDifferential     float64 `yaml:"min_differential"`
	DefaultVolatility   float64 `yaml:"default_volatility"`
	AverageVolatility   float64 `yaml:"average_volatility"`
	ScaleFactor         float64 `yaml:"scale_factor"`
}

// DefaultConfig returns forex carry defaults
func DefaultConfig() Config {
	return Config{
		LookbackPeriod:      252,
		VolatilityThreshold: 0.30,
		MinDifferential:     0.01,
		DefaultVolatility:   0.15,
		AverageVolatility:   0.20,
		ScaleFactor:         20.0,
	}
}

// Signal is a carry reading for one symbol
type Signal struct {
	Symbol          string
	Timeframe       signals.Timeframe
	Kind            Kind
	Differential    float64
	CarryYield      float64
	Volatility      float64
	SharpeRatio     float64
	PercentileRank  float64
	RegimeDampening float64
	Strength        float64
	Quality         signals.Quality
}

// Metrics aggregates carry across the faster timeframes
type Metrics struct {
	Symbol            string
	Signals           map[signals.Timeframe]*Signal
	CompositeStrength float64
	Consensus         float64
}

// Generator produces carry signals from a rate snapshot
type Generator struct {
	config Config

	mu    sync.RWMutex
	rates RateTable
}

// New creates a carry generator with an empty rate table
func New(config Config) *Generator {
	def := DefaultConfig()
	if config.LookbackPeriod < 2 {
		config.LookbackPeriod = def.LookbackPeriod
	}
	if config.VolatilityThreshold <= 0 {
		config.VolatilityThreshold = def.VolatilityThreshold
	}
	if config.MinDifferential < 0 {
		config.MinDifferential = def.MinDifferential
	}
	if config.DefaultVolatility <= 0 {
		config.DefaultVolatility = def.DefaultVolatility
	}
	if config.AverageVolatility <= 0 {
		config.AverageVolatility = def.AverageVolatility
	}
	if config.ScaleFactor <= 0 {
		config.ScaleFactor = def.ScaleFactor
	}
	return &Generator{config: config, rates: RateTable{}}
}

// UpdateRates swaps in the rate snapshot for the next cycle
func (g *Generator) UpdateRates(table RateTable) {
	cp := make(RateTable, len(table))
	for k, v := range table {
		cp[k] = v
	}
	g.mu.Lock()
	g.rates = cp
	g.mu.Unlock()
}

func (g *Generator) quote(symbol string) (RateQuote, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	q, ok := g.rates[symbol]
	return q, ok
}

// Type implements signals.Generator
func (g *Generator) Type() signals.SignalType { return signals.Carry }

// SupportedTimeframes implements signals.Generator
func (g *Generator) SupportedTimeframes() []signals.Timeframe { return signals.AllTimeframes[:3] }

// Generate implements signals.Generator
func (g *Generator) Generate(symbol string, tf signals.Timeframe, history []signals.PricePoint) (signals.SignalCore, bool) {
	sig, ok := g.CalculateSignal(symbol, tf, history)
	if !ok {
		return signals.SignalCore{}, false
	}
	return g.ToSignalCore(sig), true
}

func (g *Generator) windowFor(tf signals.Timeframe) int {
	_, slow := tf.Spans()
	if slow <= 0 || slow*4 > g.config.LookbackPeriod {
		return g.config.LookbackPeriod
	}
	return slow * 4
}

// CalculateSignal scores the carry of a symbol. ok is false when no rate quote
// is available. Short price histories fall back to the default volatility.
func (g *Generator) CalculateSignal(symbol string, tf signals.Timeframe, history []signals.PricePoint) (*Signal, bool) {
	q, ok := g.quote(symbol)
	if !ok {
		return nil, false
	}
	diff := q.Differential()
	if math.IsNaN(diff) || math.IsInf(diff, 0) {
		return nil, false
	}

	prices := signals.Prices(history)
	if w := g.windowFor(tf); len(prices) > w {
		prices = prices[len(prices)-w:]
	}
	vol, ok := signals.HistoricalVolatility(prices, true)
	if !ok || vol <= 0 {
		vol = g.config.DefaultVolatility
	}

	sig := &Signal{
		Symbol:          symbol,
		Timeframe:       tf,
		Differential:    diff,
		CarryYield:      diff / 100,
		Volatility:      vol,
		PercentileRank:  signals.PercentileRank(diff, q.History),
		RegimeDampening: 1.0,
	}
	sig.SharpeRatio = sig.CarryYield / vol

	switch {
	case diff > g.config.MinDifferential:
		sig.Kind = PositiveCarry
	case diff < -g.config.MinDifferential:
		sig.Kind = NegativeCarry
	default:
		sig.Kind = NeutralCarry
	}

	sig.Strength = g.strength(sig)
	sig.Quality = signals.BucketQuality(sig.Strength)
	if vol > g.config.VolatilityThreshold {
		sig.Quality = sig.Quality.Downgrade()
	}
	return sig, true
}

func (g *Generator) strength(sig *Signal) float64 {
	if sig.Kind == NeutralCarry {
		return 0
	}
	s := sig.SharpeRatio * g.config.ScaleFactor

	if sig.Volatility > g.config.VolatilityThreshold {
		sig.RegimeDampening = signals.RegimeAdjustment(sig.Volatility, g.config.AverageVolatility)
		s *= sig.RegimeDampening
	}

	// Rank in the direction of the carry: an unusually wide negative
	// differential boosts a short the same way a wide positive one boosts a long
	rank := sig.PercentileRank
	if sig.Kind == NegativeCarry {
		rank = 1 - rank
	}
	s *= 1 + (rank-0.5)*0.5

	s *= signals.QualityMultiplier(sig.PercentileRank, sig.Volatility, s)
	return signals.ClampCarver(s)
}

// ToSignalCore converts a carry reading into the common contract
func (g *Generator) ToSignalCore(sig *Signal) signals.SignalCore {
	return signals.NewSignalCore(sig.Symbol, sig.Timeframe, sig.Strength, signals.Carry,
		sig.PercentileRank, sig.SharpeRatio, sig.Quality)
}

// CalculateMultiTimeframe averages carry over the three fastest bands and
// boosts the composite when they agree
func (g *Generator) CalculateMultiTimeframe(symbol string, history []signals.PricePoint) (*Metrics, bool) {
	m := &Metrics{Symbol: symbol, Signals: make(map[signals.Timeframe]*Signal)}
	strengths := make([]float64, 0, 3)

	for _, tf := range g.SupportedTimeframes() {
		sig, ok := g.CalculateSignal(symbol, tf, history)
		if !ok {
			continue
		}
		m.Signals[tf] = sig
		strengths = append(strengths, sig.Strength)
	}
	if len(strengths) == 0 {
		return nil, false
	}

	m.Consensus = signals.ConsensusStrength(strengths)
	composite := signals.Mean(strengths)
	if m.Consensus > 0.67 {
		composite *= 1.25
	}
	m.CompositeStrength = signals.ClampCarver(composite)
	return m, true
}
