// Package bands implements the Bollinger band mean-reversion generator.
package bands

import (
	"math"

	"github.com/sawpanic/carverrun/internal/signals"
)

// Kind classifies the price position relative to the bands
type Kind string

const (
	KindBreakout      Kind = "breakout"
	KindMeanReversion Kind = "mean_reversion"
	KindSqueeze       Kind = "squeeze"
	KindNeutral       Kind = "neutral"
)

// VolatilityRegime summarises band width across timeframes
type VolatilityRegime string

const (
	RegimeLow    VolatilityRegime = "low"
	RegimeNormal VolatilityRegime = "normal"
	RegimeHigh   VolatilityRegime = "high"
)

// Config holds band parameters. The strength constants are empirical and tunable.
type Config struct {
	Period           int     `yaml:"period"` // Used when the timeframe has no span
	StdDevMultiplier float64 `yaml:"std_dev_multiplier"`
	SqueezeThreshold float64 `yaml:"squeeze_threshold"`
	ExtremePower     float64 `yaml:"extreme_power"`
	MaxStrength      float64 `yaml:"max_strength"`
	BreakoutScale    float64 `yaml:"breakout_scale"`
	SqueezeScale     float64 `yaml:"squeeze_scale"`
	NeutralZoneScale float64 `yaml:"neutral_zone_scale"`
}

// DefaultConfig returns the production band parameters
func DefaultConfig() Config {
	return Config{
		Period:           20,
		StdDevMultiplier: 2.0,
		SqueezeThreshold: 0.1,
		ExtremePower:     1.5,
		MaxStrength:      18.0,
		BreakoutScale:    25.0,
		SqueezeScale:     12.0,
		NeutralZoneScale: 6.0,
	}
}

// Bands is one Bollinger band calculation
type Bands struct {
	Middle    float64
	Upper     float64
	Lower     float64
	StdDev    float64
	Bandwidth float64
	PercentB  float64
}

// Calculate computes bands over the last period prices using the population
// standard deviation. %B uses the last price and is 0.5 when the bands collapse.
func Calculate(prices []float64, period int, k float64) (Bands, bool) {
	if period < 2 || len(prices) < period {
		return Bands{}, false
	}
	recent := prices[len(prices)-period:]
	mid := signals.Mean(recent)
	sd := signals.PopulationStdDev(recent)
	b := Bands{
		Middle: mid,
		Upper:  mid + k*sd,
		Lower:  mid - k*sd,
		StdDev: sd,
	}
	if mid != 0 {
		b.Bandwidth = (b.Upper - b.Lower) / mid
	}
	last := prices[len(prices)-1]
	if b.Upper != b.Lower {
		b.PercentB = (last - b.Lower) / (b.Upper - b.Lower)
	} else {
		b.PercentB = 0.5
	}
	return b, true
}

// Signal is a band reading for one symbol and timeframe
type Signal struct {
	Symbol       string
	Timeframe    signals.Timeframe
	CurrentPrice float64
	Bands        Bands
	Kind         Kind
	BandSqueeze  bool
	Strength     float64
	QualityScore float64
	Quality      signals.Quality
}

// Metrics aggregates band readings across timeframes
type Metrics struct {
	Symbol            string
	Signals           map[signals.Timeframe]*Signal
	CompositeStrength float64
	Dominant          *Signal
	Regime            VolatilityRegime
}

// Generator produces band signals
type Generator struct {
	config Config
}

// New creates a band generator
func New(config Config) *Generator {
	def := DefaultConfig()
	if config.Period < 2 {
		config.Period = def.Period
	}
	if config.StdDevMultiplier <= 0 {
		config.StdDevMultiplier = def.StdDevMultiplier
	}
	if config.SqueezeThreshold <= 0 {
		config.SqueezeThreshold = def.SqueezeThreshold
	}
	if config.ExtremePower <= 0 {
		config.ExtremePower = def.ExtremePower
	}
	if config.MaxStrength <= 0 {
		config.MaxStrength = def.MaxStrength
	}
	if config.BreakoutScale <= 0 {
		config.BreakoutScale = def.BreakoutScale
	}
	if config.SqueezeScale <= 0 {
		config.SqueezeScale = def.SqueezeScale
	}
	if config.NeutralZoneScale <= 0 {
		config.NeutralZoneScale = def.NeutralZoneScale
	}
	return &Generator{config: config}
}

// Type implements signals.Generator
func (g *Generator) Type() signals.SignalType { return signals.MeanReversion }

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

// PeriodFor returns the band period used for a timeframe
func (g *Generator) PeriodFor(tf signals.Timeframe) int {
	if _, slow := tf.Spans(); slow > 0 {
		return slow
	}
	return g.config.Period
}

// CalculateSignal classifies the latest price against its bands. ok is false
// when the history is shorter than the period.
func (g *Generator) CalculateSignal(symbol string, tf signals.Timeframe, history []signals.PricePoint) (*Signal, bool) {
	prices := signals.Prices(history)
	b, ok := Calculate(prices, g.PeriodFor(tf), g.config.StdDevMultiplier)
	if !ok {
		return nil, false
	}

	current := prices[len(prices)-1]
	sig := &Signal{
		Symbol:       symbol,
		Timeframe:    tf,
		CurrentPrice: current,
		Bands:        b,
		Kind:         g.classify(b, current),
		BandSqueeze:  b.Bandwidth < g.config.SqueezeThreshold,
	}

	if !valid(sig) {
		sig.Strength = 0
		sig.Quality = signals.QualityFiltered
		return sig, true
	}

	sig.Strength = g.strength(sig)
	sig.QualityScore = qualityScore(sig)
	sig.Quality = bucket(sig.QualityScore)
	return sig, true
}

func (g *Generator) classify(b Bands, price float64) Kind {
	switch {
	case price > b.Upper || price < b.Lower:
		return KindBreakout
	case b.Bandwidth < g.config.SqueezeThreshold:
		return KindSqueeze
	case b.PercentB > 0.8 || b.PercentB < 0.2:
		return KindMeanReversion
	default:
		return KindNeutral
	}
}

// valid rejects readings that cannot carry a direction. Collapsed bands are
// still valid: they are the squeeze case.
func valid(sig *Signal) bool {
	b := sig.Bands
	if sig.CurrentPrice <= 0 {
		return false
	}
	if math.IsNaN(b.PercentB) || math.IsInf(b.PercentB, 0) || math.IsNaN(b.Bandwidth) || b.Bandwidth < 0 {
		return false
	}
	return b.Upper >= b.Lower
}

func (g *Generator) strength(sig *Signal) float64 {
	b := sig.Bands
	cfg := g.config
	var s float64

	switch sig.Kind {
	case KindMeanReversion:
		if b.PercentB < 0.2 {
			intensity := (0.2 - b.PercentB) / 0.2
			s = math.Min(math.Pow(intensity, cfg.ExtremePower)*cfg.MaxStrength, cfg.MaxStrength)
		} else {
			intensity := (b.PercentB - 0.8) / 0.2
			s = -math.Min(math.Pow(intensity, cfg.ExtremePower)*cfg.MaxStrength, cfg.MaxStrength)
		}
	case KindBreakout:
		if b.PercentB > 1 {
			s = math.Min((b.PercentB-1)*(1+b.Bandwidth)*cfg.BreakoutScale, cfg.MaxStrength)
		} else {
			s = -math.Min(-b.PercentB*(1+b.Bandwidth)*cfg.BreakoutScale, cfg.MaxStrength)
		}
	case KindSqueeze:
		var bias float64
		switch {
		case b.PercentB > 0.5:
			bias = math.Pow((b.PercentB-0.5)/0.5, 1.2)
		case b.PercentB < 0.5:
			bias = -math.Pow((0.5-b.PercentB)/0.5, 1.2)
		}
		intensity := 0.4
		switch {
		case b.Bandwidth < 0.05:
			intensity = 1.0
		case b.Bandwidth < 0.1:
			intensity = 0.7
		}
		s = bias * intensity * cfg.SqueezeScale
	case KindNeutral:
		d := math.Abs(b.PercentB - 0.5)
		if d >= 0.1 {
			n := (d - 0.1) / 0.2
			s = n * n * cfg.NeutralZoneScale
			if b.PercentB > 0.5 {
				s = -s
			}
		}
	}

	switch {
	case b.Bandwidth > 0.2:
		s *= 1.1
	case b.Bandwidth < 0.05:
		s *= 0.9
	}

	if sig.BandSqueeze && sig.Kind == KindBreakout {
		s *= 1.3
	}
	return signals.ClampCarver(s)
}

func qualityScore(sig *Signal) float64 {
	b := sig.Bands
	bwFactor := 1.0
	switch {
	case b.Bandwidth > 0.2:
		bwFactor = 1.2
	case b.Bandwidth < 0.05:
		bwFactor = 0.8
	}
	squeezeFactor := 1.0
	if sig.BandSqueeze {
		squeezeFactor = 1.3
	}

	position := 0.5
	switch sig.Kind {
	case KindMeanReversion:
		switch {
		case b.PercentB < 0.1 || b.PercentB > 0.9:
			position = 1.3
		case b.PercentB < 0.3 || b.PercentB > 0.7:
			position = 1.1
		default:
			position = 0.9
		}
	case KindBreakout:
		position = 1.4
	case KindSqueeze:
		position = 1.0
		if b.Bandwidth < 0.05 {
			position = 1.2
		}
	}
	return math.Abs(sig.Strength) * bwFactor * squeezeFactor * position
}

func bucket(score float64) signals.Quality {
	switch {
	case score > 20:
		return signals.QualityHigh
	case score > 8:
		return signals.QualityMedium
	case score > 2:
		return signals.QualityLow
	default:
		return signals.QualityFiltered
	}
}

// ToSignalCore maps %B onto the percentile rank and bandwidth onto the
// volatility field of the common contract
func (g *Generator) ToSignalCore(sig *Signal) signals.SignalCore {
	if !valid(sig) {
		return signals.NewSignalCore(sig.Symbol, sig.Timeframe, 0, signals.MeanReversion,
			0.5, math.Max(sig.Bands.Bandwidth, 0.1), signals.QualityFiltered)
	}
	return signals.NewSignalCore(sig.Symbol, sig.Timeframe, sig.Strength, signals.MeanReversion,
		sig.Bands.PercentB, sig.Bands.Bandwidth, sig.Quality)
}

// CalculateMultiTimeframe averages band strength across timeframes and
// classifies the volatility regime
func (g *Generator) CalculateMultiTimeframe(symbol string, history []signals.PricePoint) (*Metrics, bool) {
	m := &Metrics{Symbol: symbol, Signals: make(map[signals.Timeframe]*Signal)}
	strengths := make([]float64, 0, len(signals.AllTimeframes))
	squeezes := 0
	bwSum := 0.0

	for _, tf := range signals.AllTimeframes {
		sig, ok := g.CalculateSignal(symbol, tf, history)
		if !ok {
			continue
		}
		m.Signals[tf] = sig
		strengths = append(strengths, sig.Strength)
		bwSum += sig.Bands.Bandwidth
		if sig.BandSqueeze {
			squeezes++
		}
		if m.Dominant == nil || math.Abs(sig.Strength) > math.Abs(m.Dominant.Strength) {
			m.Dominant = sig
		}
	}
	n := len(strengths)
	if n == 0 {
		return nil, false
	}

	m.CompositeStrength = signals.ClampCarver(signals.Mean(strengths))
	switch {
	case squeezes > n/2:
		m.Regime = RegimeLow
	case bwSum/float64(n) > 0.3:
		m.Regime = RegimeHigh
	default:
		m.Regime = RegimeNormal
	}
	return m, true
}
