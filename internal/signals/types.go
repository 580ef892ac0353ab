package signals

import (
	"math"
	"time"
)

// Carver scale bounds for signal strength
const (
	MinStrength = -20.0
	MaxStrength = 20.0
)

// SignalType identifies the strategy family that produced a signal
type SignalType string

const (
	Momentum      SignalType = "momentum"
	Breakout      SignalType = "breakout"
	Carry         SignalType = "carry"
	MeanReversion SignalType = "mean_reversion"
)

// AllSignalTypes lists the signal types in coordinator order
var AllSignalTypes = []SignalType{Momentum, Breakout, Carry, MeanReversion}

// Quality buckets a signal by conviction
type Quality string

const (
	QualityHigh     Quality = "high"
	QualityMedium   Quality = "medium"
	QualityLow      Quality = "low"
	QualityFiltered Quality = "filtered"
)

// Downgrade returns the next lower quality bucket
func (q Quality) Downgrade() Quality {
	switch q {
	case QualityHigh:
		return QualityMedium
	case QualityMedium:
		return QualityLow
	default:
		return QualityFiltered
	}
}

// Timeframe is one of the Carver lookback bands measured in days
type Timeframe string

const (
	Days2To8   Timeframe = "2-8d"
	Days4To16  Timeframe = "4-16d"
	Days8To32  Timeframe = "8-32d"
	Days16To64 Timeframe = "16-64d"
)

// AllTimeframes lists the supported bands from fastest to slowest
var AllTimeframes = []Timeframe{Days2To8, Days4To16, Days8To32, Days16To64}

// Spans returns the fast and slow span of the band in days
func (tf Timeframe) Spans() (fast, slow int) {
	switch tf {
	case Days2To8:
		return 2, 8
	case Days4To16:
		return 4, 16
	case Days8To32:
		return 8, 32
	case Days16To64:
		return 16, 64
	default:
		return 0, 0
	}
}

// PricePoint is one observation of an instrument's price history
type PricePoint struct {
	Timestamp time.Time `json:"ts"`
	Price     float64   `json:"price"`
}

// Prices extracts the price column from a history
func Prices(points []PricePoint) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Price
	}
	return out
}

// SignalCore is the homogeneous signal representation every generator produces
type SignalCore struct {
	Symbol             string     `json:"symbol"`
	Timeframe          Timeframe  `json:"timeframe"`
	SignalStrength     float64    `json:"signal_strength"`
	SignalType         SignalType `json:"signal_type"`
	PercentileRank     float64    `json:"percentile_rank"`
	VolatilityAdjusted float64    `json:"volatility_adjusted"`
	Quality            Quality    `json:"quality"`
}

// NewSignalCore builds a SignalCore with strength and percentile forced into range
func NewSignalCore(symbol string, tf Timeframe, strength float64, st SignalType,
	percentile, volAdjusted float64, quality Quality) SignalCore {
	return SignalCore{
		Symbol:             symbol,
		Timeframe:          tf,
		SignalStrength:     ClampCarver(strength),
		SignalType:         st,
		PercentileRank:     Clamp(finiteOr(percentile, 0.5), 0, 1),
		VolatilityAdjusted: finiteOr(volAdjusted, 0),
		Quality:            quality,
	}
}

// IsActionable reports whether the signal is strong enough to trade on
func (s SignalCore) IsActionable() bool {
	return s.Quality != QualityFiltered && math.Abs(s.SignalStrength) > 1.0
}

// Direction returns 1 for long, -1 for short and 0 when neutral
func (s SignalCore) Direction() int {
	switch {
	case s.SignalStrength > 1.0:
		return 1
	case s.SignalStrength < -1.0:
		return -1
	default:
		return 0
	}
}

// MultiTimeframeCore summarises one signal family across timeframes
type MultiTimeframeCore struct {
	Symbol            string                   `json:"symbol"`
	SignalType        SignalType               `json:"signal_type"`
	Timeframes        map[Timeframe]SignalCore `json:"timeframes"`
	CompositeStrength float64                  `json:"composite_strength"`
	ConsensusScore    float64                  `json:"consensus_score"`
	Quality           Quality                  `json:"quality"`
}

// NewMultiTimeframeCore clamps composite and consensus on construction
func NewMultiTimeframeCore(symbol string, st SignalType, tfs map[Timeframe]SignalCore,
	composite, consensus float64, quality Quality) MultiTimeframeCore {
	return MultiTimeframeCore{
		Symbol:            symbol,
		SignalType:        st,
		Timeframes:        tfs,
		CompositeStrength: ClampCarver(composite),
		ConsensusScore:    Clamp(finiteOr(consensus, 0), 0, 1),
		Quality:           quality,
	}
}

// HasStrongConsensus reports whether at least two thirds of timeframes agree
func (m MultiTimeframeCore) HasStrongConsensus() bool {
	return m.ConsensusScore >= 0.67
}

// CombinedSignals holds at most one signal per type plus the coordinated result
type CombinedSignals struct {
	Symbol            string      `json:"symbol"`
	Momentum          *SignalCore `json:"momentum,omitempty"`
	Breakout          *SignalCore `json:"breakout,omitempty"`
	Carry             *SignalCore `json:"carry,omitempty"`
	MeanReversion     *SignalCore `json:"mean_reversion,omitempty"`
	CompositeStrength float64     `json:"composite_strength"`
	DominantSignal    *SignalType `json:"dominant_signal,omitempty"`
	AgreementScore    float64     `json:"agreement_score"`
}

// EmptyCombined returns a CombinedSignals with no inputs and full agreement
func EmptyCombined(symbol string) CombinedSignals {
	return CombinedSignals{Symbol: symbol, AgreementScore: 1.0}
}

// Get returns the signal stored for the given type
func (c *CombinedSignals) Get(st SignalType) *SignalCore {
	switch st {
	case Momentum:
		return c.Momentum
	case Breakout:
		return c.Breakout
	case Carry:
		return c.Carry
	case MeanReversion:
		return c.MeanReversion
	}
	return nil
}

// Set stores a signal in the slot for its type
func (c *CombinedSignals) Set(sig *SignalCore) {
	if sig == nil {
		return
	}
	switch sig.SignalType {
	case Momentum:
		c.Momentum = sig
	case Breakout:
		c.Breakout = sig
	case Carry:
		c.Carry = sig
	case MeanReversion:
		c.MeanReversion = sig
	}
}

// Present returns the non-nil signals in coordinator order
func (c *CombinedSignals) Present() []SignalCore {
	out := make([]SignalCore, 0, 4)
	for _, st := range AllSignalTypes {
		if s := c.Get(st); s != nil {
			out = append(out, *s)
		}
	}
	return out
}

// HasActionableSignals reports whether any contained signal is actionable
func (c *CombinedSignals) HasActionableSignals() bool {
	for _, s := range c.Present() {
		if s.IsActionable() {
			return true
		}
	}
	return false
}

// MaxSignalStrength returns the largest absolute strength among the inputs
func (c *CombinedSignals) MaxSignalStrength() float64 {
	max := 0.0
	for _, s := range c.Present() {
		if a := math.Abs(s.SignalStrength); a > max {
			max = a
		}
	}
	return max
}
