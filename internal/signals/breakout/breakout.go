// Package breakout detects range breakouts over timeframe-specific lookbacks.
package breakout

import (
	"math"

	"github.com/sawpanic/carverrun/internal/signals"
)

// Direction of a detected breakout
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
	None Direction = "none"
)

// Config holds breakout detection parameters
type Config struct {
	MinBreakoutThreshold float64 `yaml:"min_breakout_threshold"`
	VolatilityMultiplier float64 `yaml:"volatility_multiplier"`
	MinDataPoints        int     `yaml:"min_data_points"`
	PreBoostCap          float64 `yaml:"pre_boost_cap"` // Strength cap before the volatility boost
}

// DefaultConfig returns the production breakout parameters
func DefaultConfig() Config {
	return Config{
		MinBreakoutThreshold: 0.01,
		VolatilityMultiplier: 1.5,
		MinDataPoints:        10,
		PreBoostCap:          18.0,
	}
}

// LookbackFor maps a Carver band onto its breakout window
func LookbackFor(tf signals.Timeframe) int {
	if _, slow := tf.Spans(); slow > 0 {
		return slow
	}
	return 20
}

// Signal describes the breakout state of one symbol on one timeframe
type Signal struct {
	Symbol               string
	Timeframe            signals.Timeframe
	Direction            Direction
	CurrentPrice         float64
	BreakoutLevel        float64
	LookbackHigh         float64
	LookbackLow          float64
	Volatility           float64
	RawStrength          float64
	VolatilityNormalized float64
	PercentileRank       float64
	Strength             float64
	Quality              signals.Quality
}

// Metrics aggregates breakout signals across timeframes
type Metrics struct {
	Symbol            string
	Signals           map[signals.Timeframe]*Signal
	CompositeStrength float64
	Strongest         *Signal
	Consensus         float64
}

// Generator produces breakout signals
type Generator struct {
	config Config
}

// New creates a breakout generator
func New(config Config) *Generator {
	def := DefaultConfig()
	if config.MinBreakoutThreshold <= 0 {
		config.MinBreakoutThreshold = def.MinBreakoutThreshold
	}
	if config.VolatilityMultiplier <= 0 {
		config.VolatilityMultiplier = def.VolatilityMultiplier
	}
	if config.MinDataPoints < 2 {
		config.MinDataPoints = def.MinDataPoints
	}
	if config.PreBoostCap <= 0 {
		config.PreBoostCap = def.PreBoostCap
	}
	return &Generator{config: config}
}

// Type implements signals.Generator
func (g *Generator) Type() signals.SignalType { return signals.Breakout }

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

// CalculateSignal compares the latest price with the range of the preceding
// lookback window, which never includes the latest price itself.
func (g *Generator) CalculateSignal(symbol string, tf signals.Timeframe, history []signals.PricePoint) (*Signal, bool) {
	prices := signals.Prices(history)
	lookback := LookbackFor(tf)
	if len(prices) < g.config.MinDataPoints || len(prices) < lookback {
		return nil, false
	}

	current := prices[len(prices)-1]
	from := len(prices) - 1 - lookback
	if from < 0 {
		from = 0
	}
	window := prices[from : len(prices)-1]
	if len(window) == 0 || current <= 0 {
		return nil, false
	}

	high, low := window[0], window[0]
	for _, p := range window[1:] {
		high = math.Max(high, p)
		low = math.Min(low, p)
	}

	vol, ok := signals.SimpleVolatility(window, false)
	if !ok {
		vol = 0
	}

	dir, level := g.classify(current, high, low, vol)
	raw := rawStrength(current, level, high, low, dir)

	vn := raw
	if vol > 0 {
		vn = raw / vol
	}

	sig := &Signal{
		Symbol:               symbol,
		Timeframe:            tf,
		Direction:            dir,
		CurrentPrice:         current,
		BreakoutLevel:        level,
		LookbackHigh:         high,
		LookbackLow:          low,
		Volatility:           vol,
		RawStrength:          raw,
		VolatilityNormalized: vn,
		PercentileRank:       signals.PercentileRank(current, window),
	}
	sig.Strength = g.carverStrength(sig)
	sig.Quality = quality(sig)
	return sig, true
}

// classify flags a breakout only when the move beyond the range exceeds both
// the fixed minimum and the volatility-scaled threshold.
func (g *Generator) classify(current, high, low, vol float64) (Direction, float64) {
	threshold := math.Max(g.config.MinBreakoutThreshold, vol*g.config.VolatilityMultiplier)

	if current > high && high > 0 {
		if (current-high)/high > threshold {
			return Up, high
		}
	}
	if current < low && low > 0 {
		if (low-current)/low > threshold {
			return Down, low
		}
	}
	return None, current
}

func rawStrength(current, level, high, low float64, dir Direction) float64 {
	rng := high - low
	if rng == 0 {
		return 0
	}
	switch dir {
	case Up:
		return signals.Clamp((current-level)/rng, 0, 1)
	case Down:
		return -signals.Clamp((level-current)/rng, 0, 1)
	default:
		return 0
	}
}

func (g *Generator) carverStrength(sig *Signal) float64 {
	boost := 1 + math.Abs(sig.VolatilityNormalized)

	switch sig.Direction {
	case Up:
		magnitude := (sig.CurrentPrice - sig.BreakoutLevel) / sig.BreakoutLevel
		base := magnitude*100*20 + (sig.PercentileRank-0.5)*2*10
		base = signals.Clamp(base, 0, g.config.PreBoostCap)
		return signals.Clamp(base*boost, 0, signals.MaxStrength)
	case Down:
		magnitude := (sig.BreakoutLevel - sig.CurrentPrice) / sig.BreakoutLevel
		base := magnitude*100*20 + (0.5-sig.PercentileRank)*2*10
		base = signals.Clamp(base, 0, g.config.PreBoostCap)
		return -signals.Clamp(base*boost, 0, signals.MaxStrength)
	default:
		return 0
	}
}

func quality(sig *Signal) signals.Quality {
	abs := math.Abs(sig.Strength)
	vn := math.Abs(sig.VolatilityNormalized)
	switch {
	case abs > 15 && vn > 0.7:
		return signals.QualityHigh
	case abs > 5 && vn > 0.3:
		return signals.QualityMedium
	case abs > 1:
		return signals.QualityLow
	default:
		return signals.QualityFiltered
	}
}

// ToSignalCore converts a breakout reading into the common contract
func (g *Generator) ToSignalCore(sig *Signal) signals.SignalCore {
	return signals.NewSignalCore(sig.Symbol, sig.Timeframe, sig.Strength, signals.Breakout,
		sig.PercentileRank, sig.VolatilityNormalized, sig.Quality)
}

// CalculateMultiTimeframe averages breakout strength across all bands with data
func (g *Generator) CalculateMultiTimeframe(symbol string, history []signals.PricePoint) (*Metrics, bool) {
	m := &Metrics{Symbol: symbol, Signals: make(map[signals.Timeframe]*Signal)}
	strengths := make([]float64, 0, len(signals.AllTimeframes))

	for _, tf := range signals.AllTimeframes {
		sig, ok := g.CalculateSignal(symbol, tf, history)
		if !ok {
			continue
		}
		m.Signals[tf] = sig
		strengths = append(strengths, sig.Strength)
		if m.Strongest == nil || math.Abs(sig.Strength) > math.Abs(m.Strongest.Strength) {
			m.Strongest = sig
		}
	}
	if len(strengths) == 0 {
		return nil, false
	}

	m.CompositeStrength = signals.ClampCarver(signals.Mean(strengths))

	pos, neg := 0, 0
	for _, s := range strengths {
		switch {
		case s > 0:
			pos++
		case s < 0:
			neg++
		}
	}
	if pos > neg {
		m.Consensus = float64(pos) / float64(len(strengths))
	} else {
		m.Consensus = float64(neg) / float64(len(strengths))
	}
	return m, true
}
