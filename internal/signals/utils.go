package signals

import (
	"errors"
	"fmt"
	"math"
)

// TradingDaysPerYear annualizes daily volatility
const TradingDaysPerYear = 252.0

// ErrInvalidSignalData is returned by ValidateSignalData
var ErrInvalidSignalData = errors.New("invalid signal data")

// Clamp bounds v into [lo, hi]
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// ClampCarver bounds a strength into the Carver range. NaN maps to zero.
func ClampCarver(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return Clamp(v, MinStrength, MaxStrength)
}

func finiteOr(v, fallback float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fallback
	}
	return v
}

// Mean returns the arithmetic mean, zero for an empty slice
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// PopulationStdDev returns the population standard deviation
func PopulationStdDev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	m := Mean(values)
	ss := 0.0
	for _, v := range values {
		d := v - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(values)))
}

// LogReturns computes ln(p[i]/p[i-1]), skipping pairs with a non-positive price
func LogReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] <= 0 || prices[i] <= 0 {
			continue
		}
		out = append(out, math.Log(prices[i]/prices[i-1]))
	}
	return out
}

// SimpleReturns computes (p[i]-p[i-1])/p[i-1], skipping pairs with a zero base
func SimpleReturns(prices []float64) []float64 {
	if len(prices) < 2 {
		return nil
	}
	out := make([]float64, 0, len(prices)-1)
	for i := 1; i < len(prices); i++ {
		if prices[i-1] == 0 {
			continue
		}
		out = append(out, (prices[i]-prices[i-1])/prices[i-1])
	}
	return out
}

// HistoricalVolatility is the population standard deviation of log returns,
// scaled by sqrt(252) when annualized. ok is false with fewer than two usable prices.
func HistoricalVolatility(prices []float64, annualized bool) (vol float64, ok bool) {
	returns := LogReturns(prices)
	if len(returns) == 0 {
		return 0, false
	}
	vol = PopulationStdDev(returns)
	if annualized {
		vol *= math.Sqrt(TradingDaysPerYear)
	}
	return vol, true
}

// SimpleVolatility is HistoricalVolatility over simple returns
func SimpleVolatility(prices []float64, annualized bool) (vol float64, ok bool) {
	returns := SimpleReturns(prices)
	if len(returns) == 0 {
		return 0, false
	}
	vol = PopulationStdDev(returns)
	if annualized {
		vol *= math.Sqrt(TradingDaysPerYear)
	}
	return vol, true
}

// PercentileRank returns the fraction of history strictly below current, 0.5 without history
func PercentileRank(current float64, history []float64) float64 {
	if len(history) == 0 {
		return 0.5
	}
	below := 0
	for _, v := range history {
		if v < current {
			below++
		}
	}
	return float64(below) / float64(len(history))
}

// ConsensusStrength is the share of all strengths on the majority side, so a
// zero strength dilutes agreement. Fewer than two inputs count as full agreement.
func ConsensusStrength(strengths []float64) float64 {
	if len(strengths) < 2 {
		return 1.0
	}
	pos, neg := 0, 0
	for _, s := range strengths {
		switch {
		case s > 0:
			pos++
		case s < 0:
			neg++
		}
	}
	if pos+neg == 0 {
		return 0
	}
	return float64(maxInt(pos, neg)) / float64(len(strengths))
}

// ConsensusScore buckets agreement among meaningful (|s|>1) signals into
// 1.0, 0.67, 0.5 or 0.33
func ConsensusScore(strengths []float64) float64 {
	if len(strengths) < 2 {
		return 1.0
	}
	pos, neg := 0, 0
	for _, s := range strengths {
		switch {
		case s > 1.0:
			pos++
		case s < -1.0:
			neg++
		}
	}
	total := pos + neg
	if total == 0 {
		return 0.33
	}
	ratio := float64(maxInt(pos, neg)) / float64(total)
	switch {
	case ratio >= 1.0:
		return 1.0
	case ratio >= 0.67:
		return 0.67
	case ratio >= 0.5:
		return 0.5
	default:
		return 0.33
	}
}

// ApplyConsensusBoost scales a signal by 1.25 above 0.7 agreement and 1.1 above 0.5
func ApplyConsensusBoost(signal, consensus float64) float64 {
	switch {
	case consensus > 0.7:
		return signal * 1.25
	case consensus > 0.5:
		return signal * 1.1
	default:
		return signal
	}
}

// QualityMultiplier rewards extreme percentiles and strong signals and penalises
// high volatility. Result lies in [0.5, 1.5].
func QualityMultiplier(percentile, volatility, strength float64) float64 {
	m := 1.0

	switch {
	case percentile > 0.9 || percentile < 0.1:
		m *= 1.2
	case percentile > 0.8 || percentile < 0.2:
		m *= 1.1
	}

	switch {
	case volatility > 0.5:
		m *= 0.8
	case volatility > 0.3:
		m *= 0.9
	}

	abs := math.Abs(strength)
	switch {
	case abs > 15:
		m *= 1.2
	case abs > 10:
		m *= 1.1
	}

	return Clamp(m, 0.5, 1.5)
}

// RegimeAdjustment dampens signals in high volatility regimes and lifts them in calm ones
func RegimeAdjustment(current, average float64) float64 {
	if average <= 0 {
		return 1.0
	}
	ratio := current / average
	switch {
	case ratio > 2.0:
		return 0.5
	case ratio > 1.5:
		return 0.7
	case ratio < 0.5:
		return 1.2
	default:
		return 1.0
	}
}

// DefaultTimeframeWeights favours the fastest band
func DefaultTimeframeWeights() map[Timeframe]float64 {
	return map[Timeframe]float64{
		Days2To8:   0.4,
		Days4To16:  0.3,
		Days8To32:  0.2,
		Days16To64: 0.1,
	}
}

// CompositeSignal is the weighted average of per-timeframe strengths.
// Timeframes missing from weights get 0.25.
func CompositeSignal(byTimeframe map[Timeframe]float64, weights map[Timeframe]float64) float64 {
	if len(byTimeframe) == 0 {
		return 0
	}
	if weights == nil {
		weights = DefaultTimeframeWeights()
	}
	total, wsum := 0.0, 0.0
	for _, tf := range AllTimeframes {
		s, ok := byTimeframe[tf]
		if !ok {
			continue
		}
		w, ok := weights[tf]
		if !ok {
			w = 0.25
		}
		total += s * w
		wsum += w
	}
	if wsum == 0 {
		return 0
	}
	return ClampCarver(total / wsum)
}

// SignalSharpe is strength per unit volatility, bounded to the Carver range
func SignalSharpe(strength, volatility float64) float64 {
	if volatility <= 0 {
		if strength == 0 {
			return 0
		}
		return math.Copysign(MaxStrength, strength)
	}
	return ClampCarver(strength / volatility)
}

// ValidateSignalData rejects non-finite strengths and out of range percentiles
func ValidateSignalData(strength, percentile float64) error {
	if math.IsNaN(strength) || math.IsInf(strength, 0) {
		return fmt.Errorf("%w: strength is not finite", ErrInvalidSignalData)
	}
	if math.IsNaN(percentile) || percentile < 0 || percentile > 1 {
		return fmt.Errorf("%w: percentile rank %v outside [0,1]", ErrInvalidSignalData, percentile)
	}
	return nil
}

// BucketQuality maps |strength| onto the shared quality thresholds
func BucketQuality(strength float64) Quality {
	abs := math.Abs(strength)
	switch {
	case abs > 15:
		return QualityHigh
	case abs > 5:
		return QualityMedium
	case abs > 1:
		return QualityLow
	default:
		return QualityFiltered
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
