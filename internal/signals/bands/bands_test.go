package bands

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/carverrun/internal/signals"
)

func series(prices ...float64) []signals.PricePoint {
	start := time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC)
	out := make([]signals.PricePoint, len(prices))
	for i, p := range prices {
		out[i] = signals.PricePoint{Timestamp: start.AddDate(0, 0, i), Price: p}
	}
	return out
}

func constant(n int, p float64) []signals.PricePoint {
	prices := make([]float64, n)
	for i := range prices {
		prices[i] = p
	}
	return series(prices...)
}

func TestCalculateFivePeriodBands(t *testing.T) {
	b, ok := Calculate([]float64{18, 19, 20, 21, 22}, 5, 2.0)
	require.True(t, ok)

	assert.InDelta(t, 20.0, b.Middle, 1e-9)
	assert.InDelta(t, math.Sqrt2, b.StdDev, 1e-9)
	assert.Greater(t, b.StdDev, 0.0)
	assert.Greater(t, b.Upper, b.Middle)
	assert.Greater(t, b.Middle, b.Lower)
	assert.InDelta(t, 20+2*math.Sqrt2, b.Upper, 1e-9)
	assert.InDelta(t, (22-b.Lower)/(b.Upper-b.Lower), b.PercentB, 1e-12)
}

func TestCalculateInsufficientData(t *testing.T) {
	_, ok := Calculate([]float64{1, 2, 3}, 5, 2.0)
	assert.False(t, ok)

	g := New(DefaultConfig())
	_, ok = g.CalculateSignal("ES", signals.Days4To16, constant(15, 100))
	assert.False(t, ok)
}

func TestConstantSeriesIsSqueeze(t *testing.T) {
	g := New(DefaultConfig())
	sig, ok := g.CalculateSignal("ES", signals.Days4To16, constant(20, 100))
	require.True(t, ok)

	assert.InDelta(t, 0.0, sig.Bands.Bandwidth, 1e-12)
	assert.Equal(t, KindSqueeze, sig.Kind)
	assert.True(t, sig.BandSqueeze)
	assert.Equal(t, 0.5, sig.Bands.PercentB)
	assert.Equal(t, 0.0, sig.Strength, "no directional bias at the middle")
}

func TestOversoldIsLongMeanReversion(t *testing.T) {
	g := New(DefaultConfig())
	sig, ok := g.CalculateSignal("EURUSD", signals.Days2To8, series(90, 110, 90, 110, 90, 110, 110, 85))
	require.True(t, ok)

	assert.Equal(t, KindMeanReversion, sig.Kind)
	assert.Less(t, sig.Bands.PercentB, 0.2)
	assert.Greater(t, sig.Strength, 0.0)
	assert.LessOrEqual(t, sig.Strength, 18*1.1)

	core := g.ToSignalCore(sig)
	assert.Equal(t, signals.MeanReversion, core.SignalType)
	assert.Equal(t, sig.Bands.PercentB, core.PercentileRank)
	assert.Equal(t, sig.Bands.Bandwidth, core.VolatilityAdjusted)
}

func TestOverboughtIsShortMeanReversion(t *testing.T) {
	g := New(DefaultConfig())
	sig, ok := g.CalculateSignal("EURUSD", signals.Days2To8, series(110, 90, 110, 90, 110, 90, 90, 115))
	require.True(t, ok)

	assert.Equal(t, KindMeanReversion, sig.Kind)
	assert.Greater(t, sig.Bands.PercentB, 0.8)
	assert.Less(t, sig.Strength, 0.0)
}

func TestExtremePercentBScalesNonLinearly(t *testing.T) {
	g := New(DefaultConfig())
	b := Bands{Middle: 100, Upper: 120, Lower: 80, StdDev: 10, Bandwidth: 0.15}

	mild := &Signal{CurrentPrice: 100, Kind: KindMeanReversion, Bands: b}
	mild.Bands.PercentB = 0.15
	deep := &Signal{CurrentPrice: 100, Kind: KindMeanReversion, Bands: b}
	deep.Bands.PercentB = 0.05

	// intensity 0.25 vs 0.75: power 1.5 makes the ratio 3^1.5 rather than 3
	ratio := g.strength(deep) / g.strength(mild)
	assert.InDelta(t, math.Pow(3, 1.5), ratio, 1e-9)
	assert.InDelta(t, math.Pow(0.75, 1.5)*18, g.strength(deep), 1e-9)
}

func TestUpperBandBreakout(t *testing.T) {
	g := New(DefaultConfig())
	sig, ok := g.CalculateSignal("ES", signals.Days2To8, series(100, 101, 100, 101, 100, 101, 100, 120))
	require.True(t, ok)

	assert.Equal(t, KindBreakout, sig.Kind)
	assert.Greater(t, sig.Bands.PercentB, 1.0)
	assert.Greater(t, sig.Strength, 0.0)

	core := g.ToSignalCore(sig)
	assert.Equal(t, 1.0, core.PercentileRank, "%B above one is clamped")
}

func TestStrengthStaysInCarverRange(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	g := New(DefaultConfig())

	for trial := 0; trial < 100; trial++ {
		prices := make([]float64, 70)
		p := 100.0
		for i := range prices {
			prices[i] = p
			p *= math.Exp(rng.NormFloat64() * 0.04)
		}
		for _, tf := range signals.AllTimeframes {
			core, ok := g.Generate("RND", tf, series(prices...))
			require.True(t, ok)
			assert.GreaterOrEqual(t, core.SignalStrength, signals.MinStrength)
			assert.LessOrEqual(t, core.SignalStrength, signals.MaxStrength)
			assert.GreaterOrEqual(t, core.PercentileRank, 0.0)
			assert.LessOrEqual(t, core.PercentileRank, 1.0)
		}
	}
}

func TestCalculateMultiTimeframeRegime(t *testing.T) {
	g := New(DefaultConfig())

	m, ok := g.CalculateMultiTimeframe("ES", constant(70, 50))
	require.True(t, ok)
	assert.Len(t, m.Signals, 4)
	assert.Equal(t, RegimeLow, m.Regime)
	require.NotNil(t, m.Dominant)

	_, ok = g.CalculateMultiTimeframe("ES", constant(5, 50))
	assert.False(t, ok)
}
