// Package momentum implements the trend-following signal generator.
package momentum

import (
	"math"

	"github.com/sawpanic/carverrun/internal/signals"
)

// Config holds momentum generator parameters
type Config struct {
	Lookback       int     `yaml:"lookback"`        // Fallback lookback when the timeframe has no span
	BaseVolatility float64 `yaml:"base_volatility"` // Used when realised volatility is unavailable
	ScaleFactor    float64 `yaml:"scale_factor"`    // Raw return to Carver units
	VolTarget      float64 `yaml:"vol_target"`      // Reference vol for the volatility multiplier
}

// DefaultConfig returns the production momentum parameters
func DefaultConfig() Config {
	return Config{
		Lookback:       20,
		BaseVolatility: 0.25,
		ScaleFactor:    25.0,
		VolTarget:      0.30,
	}
}

// Signal is the full momentum reading for one symbol and timeframe
type Signal struct {
	Symbol             string
	Timeframe          signals.Timeframe
	Lookback           int
	SimpleMomentum     float64
	RiskAdjusted       float64
	Acceleration       float64
	SharpeRatio        float64
	Volatility         float64
	BandForecasts      map[signals.Timeframe]float64
	BandConsensus      float64
	Strength           float64
	PercentileRank     float64
	VolatilityAdjusted float64
	Quality            signals.Quality
}

// Metrics aggregates momentum signals across Carver bands
type Metrics struct {
	Symbol            string
	Signals           map[signals.Timeframe]*Signal
	CompositeStrength float64
	Consensus         float64
	StrongestTF       signals.Timeframe
	QualityScore      float64
}

// Generator produces momentum signals
type Generator struct {
	config Config
}

// New creates a momentum generator
func New(config Config) *Generator {
	if config.Lookback < 2 {
		config.Lookback = DefaultConfig().Lookback
	}
	if config.BaseVolatility <= 0 {
		config.BaseVolatility = DefaultConfig().BaseVolatility
	}
	if config.ScaleFactor <= 0 {
		config.ScaleFactor = DefaultConfig().ScaleFactor
	}
	if config.VolTarget <= 0 {
		config.VolTarget = DefaultConfig().VolTarget
	}
	return &Generator{config: config}
}

// Type implements signals.Generator
func (g *Generator) Type() signals.SignalType { return signals.Momentum }

// SupportedTimeframes implements signals.Generator
func (g *Generator) SupportedTimeframes() []signals.Timeframe { return signals.AllTimeframes }

// Generate implements signals.Generator
func (g *Generator) Generate(symbol string, tf signals.Timeframe, history []signals.PricePoint) (signals.SignalCore, bool) {
	sig, ok := g.CalculateSignal(symbol, tf, history)
	if !ok {
		return signals.SignalCore{}, false
	}
	return g.ToSignalCore(sig), true
}

func (g *Generator) lookbackFor(tf signals.Timeframe) int {
	if _, slow := tf.Spans(); slow > 0 {
		return slow
	}
	return g.config.Lookback
}

// CalculateSignal computes momentum over the timeframe's slow span. ok is false
// when the history is shorter than lookback+1 points.
func (g *Generator) CalculateSignal(symbol string, tf signals.Timeframe, history []signals.PricePoint) (*Signal, bool) {
	prices := signals.Prices(history)
	lookback := g.lookbackFor(tf)
	if len(prices) < lookback+1 {
		return nil, false
	}

	window := prices[len(prices)-lookback-1:]
	start, end := window[0], window[len(window)-1]
	if start <= 0 || end <= 0 {
		return nil, false
	}

	simple := (end - start) / start

	vol, ok := signals.HistoricalVolatility(window, true)
	if !ok || vol <= 0 {
		vol = g.config.BaseVolatility
	}

	mid := len(window) / 2
	firstHalf := halfReturn(window[:mid+1])
	secondHalf := halfReturn(window[mid:])

	bands := bandForecasts(prices)
	consensus := bandAgreement(bands, simple)

	sig := &Signal{
		Symbol:             symbol,
		Timeframe:          tf,
		Lookback:           lookback,
		SimpleMomentum:     simple,
		RiskAdjusted:       simple / vol,
		Acceleration:       secondHalf - firstHalf,
		SharpeRatio:        simple / vol,
		Volatility:         vol,
		BandForecasts:      bands,
		BandConsensus:      consensus,
		PercentileRank:     0.5 + signals.Clamp(simple, -0.5, 0.5),
		VolatilityAdjusted: math.Min(vol, 1.0),
	}
	sig.Strength = g.carverStrength(sig)
	sig.Quality = g.quality(sig)
	return sig, true
}

func (g *Generator) carverStrength(sig *Signal) float64 {
	s := sig.SimpleMomentum
	if math.Abs(s) <= 1.0 {
		s *= g.config.ScaleFactor
	}

	switch {
	case sig.SharpeRatio > 0.5:
		s *= 1.2
	case sig.SharpeRatio < 0.1:
		s *= 0.8
	}

	s *= signals.Clamp(g.config.VolTarget/sig.Volatility, 0.5, 1.5)

	switch {
	case sig.BandConsensus > 0.75:
		s *= 1.3
	case sig.BandConsensus < 0.25:
		s *= 0.7
	}

	switch {
	case sig.Acceleration > 0.05:
		s *= 1.1
	case sig.Acceleration < -0.05:
		s *= 0.9
	}

	return signals.ClampCarver(s)
}

func (g *Generator) quality(sig *Signal) signals.Quality {
	q := signals.BucketQuality(sig.Strength)

	switch {
	case sig.SharpeRatio > 1.0 && q == signals.QualityMedium:
		q = signals.QualityHigh
	case sig.SharpeRatio < 0.2:
		q = q.Downgrade()
	}

	if sig.Volatility > 0.5 && (q == signals.QualityHigh || q == signals.QualityMedium) {
		q = q.Downgrade()
	}
	return q
}

// ToSignalCore converts a momentum reading into the common contract
func (g *Generator) ToSignalCore(sig *Signal) signals.SignalCore {
	return signals.NewSignalCore(sig.Symbol, sig.Timeframe, sig.Strength, signals.Momentum,
		sig.PercentileRank, sig.VolatilityAdjusted, sig.Quality)
}

// CalculateMultiTimeframe evaluates every supported band with enough data
func (g *Generator) CalculateMultiTimeframe(symbol string, history []signals.PricePoint) (*Metrics, bool) {
	m := &Metrics{Symbol: symbol, Signals: make(map[signals.Timeframe]*Signal)}
	strengths := make(map[signals.Timeframe]float64)
	best := -1.0

	for _, tf := range signals.AllTimeframes {
		sig, ok := g.CalculateSignal(symbol, tf, history)
		if !ok {
			continue
		}
		m.Signals[tf] = sig
		strengths[tf] = sig.Strength
		if a := math.Abs(sig.Strength); a > best {
			best = a
			m.StrongestTF = tf
		}
	}
	if len(m.Signals) == 0 {
		return nil, false
	}

	positive := 0
	for _, s := range strengths {
		if s > 0 {
			positive++
		}
	}
	n := len(strengths)
	m.Consensus = float64(maxInt(positive, n-positive)) / float64(n)
	m.CompositeStrength = signals.CompositeSignal(strengths, nil)
	m.QualityScore = m.Consensus * math.Min(math.Abs(m.CompositeStrength)/signals.MaxStrength, 1.0)
	return m, true
}

// bandAgreement is the share of bands pointing the same way as the headline
// return. A flat return counts as half agreement.
func bandAgreement(bands map[signals.Timeframe]float64, simple float64) float64 {
	if len(bands) == 0 || simple == 0 {
		return 0.5
	}
	agree := 0
	for _, f := range bands {
		if (f > 0 && simple > 0) || (f < 0 && simple < 0) {
			agree++
		}
	}
	return float64(agree) / float64(len(bands))
}

func halfReturn(prices []float64) float64 {
	if len(prices) < 2 || prices[0] <= 0 {
		return 0
	}
	return (prices[len(prices)-1] - prices[0]) / prices[0]
}

// bandForecasts returns the EWMA crossover of every band the history can support,
// normalised by price volatility so bands are comparable.
func bandForecasts(prices []float64) map[signals.Timeframe]float64 {
	out := make(map[signals.Timeframe]float64)
	last := prices[len(prices)-1]
	daily, ok := signals.HistoricalVolatility(prices, false)
	denom := last * daily
	if !ok || denom <= 0 {
		denom = last
	}
	if denom <= 0 {
		return out
	}

	for _, tf := range signals.AllTimeframes {
		fast, slow := tf.Spans()
		if len(prices) < slow+1 {
			continue
		}
		out[tf] = (ewma(prices, fast) - ewma(prices, slow)) / denom
	}
	return out
}

func ewma(prices []float64, span int) float64 {
	alpha := 2.0 / (float64(span) + 1.0)
	v := prices[0]
	for _, p := range prices[1:] {
		v = alpha*p + (1-alpha)*v
	}
	return v
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
