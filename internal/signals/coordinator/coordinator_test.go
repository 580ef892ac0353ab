package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/carverrun/internal/signals"
)

func core(st signals.SignalType, strength float64) *signals.SignalCore {
	s := signals.NewSignalCore("EURUSD", signals.Days4To16, strength, st, 0.5, 0.1, signals.BucketQuality(strength))
	return &s
}

func newCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c, err := New(DefaultConfig())
	require.NoError(t, err)
	return c
}

func TestCombineRenormalisesOverPresentWeights(t *testing.T) {
	c := newCoordinator(t)

	out := c.Combine("EURUSD", core(signals.Momentum, 10), core(signals.Breakout, 8), nil, nil)

	// (0.5*10 + 0.3*8) / 0.8 = 9.25, then full agreement boosts by 1.25
	assert.InDelta(t, 9.25*1.25, out.CompositeStrength, 1e-9)
	assert.Equal(t, 1.0, out.AgreementScore)
	require.NotNil(t, out.DominantSignal)
	assert.Equal(t, signals.Momentum, *out.DominantSignal)
	assert.Nil(t, out.Carry)
	assert.Nil(t, out.MeanReversion)
}

func TestCombineSplitVoteIsNotBoosted(t *testing.T) {
	c := newCoordinator(t)

	out := c.Combine("EURUSD", core(signals.Momentum, 10), core(signals.Breakout, 8), core(signals.Carry, -5), nil)

	assert.InDelta(t, 2.0/3.0, out.AgreementScore, 1e-12)
	assert.InDelta(t, 6.65/0.95, out.CompositeStrength, 1e-9, "2/3 sits just under the 0.67 threshold")
}

func TestCombineFlatSignalDilutesAgreement(t *testing.T) {
	cfg := DefaultConfig()
	cfg.QualityFilterThreshold = 0
	c, err := New(cfg)
	require.NoError(t, err)

	out := c.Combine("EURUSD", core(signals.Momentum, 10), core(signals.Breakout, 0), nil, nil)

	require.NotNil(t, out.Breakout)
	assert.Equal(t, 0.5, out.AgreementScore)
	assert.InDelta(t, 6.25, out.CompositeStrength, 1e-9, "0.5*10 / 0.8 with no boost")
}

func TestCombineFiltersWeakSignals(t *testing.T) {
	c := newCoordinator(t)

	out := c.Combine("EURUSD", core(signals.Momentum, 10), nil, core(signals.Carry, 0.5), nil)

	assert.Nil(t, out.Carry)
	require.NotNil(t, out.Momentum)
	assert.Equal(t, 1.0, out.AgreementScore)
	assert.InDelta(t, 12.5, out.CompositeStrength, 1e-9)
}

func TestCombineClampsComposite(t *testing.T) {
	c := newCoordinator(t)

	out := c.Combine("ES", core(signals.Momentum, 19), core(signals.Breakout, 18), nil, nil)
	assert.Equal(t, signals.MaxStrength, out.CompositeStrength)

	out = c.Combine("ES", core(signals.Momentum, -19), core(signals.Breakout, -18), nil, nil)
	assert.Equal(t, signals.MinStrength, out.CompositeStrength)
}

func TestCombineEmpty(t *testing.T) {
	c := newCoordinator(t)

	out := c.Combine("ES", nil, nil, nil, nil)
	assert.Equal(t, "ES", out.Symbol)
	assert.Equal(t, 0.0, out.CompositeStrength)
	assert.Equal(t, 1.0, out.AgreementScore)
	assert.Nil(t, out.DominantSignal)
	assert.Empty(t, out.Present())
}

func TestCrossValidationDisabled(t *testing.T) {
	c, err := NewBuilder().WithCrossValidation(false).Build()
	require.NoError(t, err)

	out := c.Combine("EURUSD", core(signals.Momentum, 10), nil, core(signals.Carry, -5), nil)

	assert.Equal(t, 1.0, out.AgreementScore)
	assert.InDelta(t, (5-0.75)/0.65*1.25, out.CompositeStrength, 1e-9)
}

func TestDominantUsesAbsoluteStrength(t *testing.T) {
	c := newCoordinator(t)

	out := c.Combine("EURUSD", core(signals.Momentum, 4), nil, nil, core(signals.MeanReversion, -12))
	require.NotNil(t, out.DominantSignal)
	assert.Equal(t, signals.MeanReversion, *out.DominantSignal)
}

func TestCombineDoesNotAliasInputs(t *testing.T) {
	c := newCoordinator(t)
	in := core(signals.Momentum, 10)

	out := c.Combine("EURUSD", in, nil, nil, nil)
	in.SignalStrength = -3

	assert.Equal(t, 10.0, out.Momentum.SignalStrength)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ConsensusThreshold = 1.5
	_, err := New(cfg)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	cfg = DefaultConfig()
	cfg.QualityFilterThreshold = -1
	_, err = New(cfg)
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	cfg = DefaultConfig()
	cfg.Weights.Carry = 0.5
	_, err = New(cfg)
	assert.ErrorIs(t, err, signals.ErrInvalidWeights)
}

func TestUpdateWeights(t *testing.T) {
	c := newCoordinator(t)

	err := c.UpdateWeights(signals.SignalWeights{Momentum: 0.9, Breakout: 0.9})
	assert.ErrorIs(t, err, signals.ErrInvalidWeights)
	assert.Equal(t, signals.DefaultSignalWeights(), c.Config().Weights)

	require.NoError(t, c.UpdateWeights(signals.SignalWeights{Momentum: 0.25, Breakout: 0.75}))
	out := c.Combine("EURUSD", core(signals.Momentum, 4), core(signals.Breakout, 8), nil, nil)
	assert.InDelta(t, (0.25*4+0.75*8)*1.25, out.CompositeStrength, 1e-9)
}

func TestCoordinateByType(t *testing.T) {
	c := newCoordinator(t)

	out := c.Coordinate("EURUSD", map[signals.SignalType]signals.SignalCore{
		signals.Momentum: *core(signals.Momentum, 10),
		signals.Breakout: *core(signals.Breakout, 8),
	})
	assert.InDelta(t, 9.25*1.25, out.CompositeStrength, 1e-9)
}

type fixedGenerator struct {
	st       signals.SignalType
	strength float64
	present  bool
}

func (g fixedGenerator) Type() signals.SignalType { return g.st }

func (g fixedGenerator) SupportedTimeframes() []signals.Timeframe { return signals.AllTimeframes }

func (g fixedGenerator) Generate(symbol string, tf signals.Timeframe, _ []signals.PricePoint) (signals.SignalCore, bool) {
	if !g.present {
		return signals.SignalCore{}, false
	}
	return signals.NewSignalCore(symbol, tf, g.strength, g.st, 0.5, 0, signals.QualityHigh), true
}

func TestCombineFromGenerators(t *testing.T) {
	c := newCoordinator(t)
	gens := []signals.Generator{
		fixedGenerator{st: signals.Momentum, strength: 10, present: true},
		fixedGenerator{st: signals.Breakout, strength: 8, present: true},
		fixedGenerator{st: signals.Carry, present: false},
	}

	out := c.CombineFrom(gens, "EURUSD", signals.Days4To16, nil)
	assert.InDelta(t, 9.25*1.25, out.CompositeStrength, 1e-9)
	assert.Nil(t, out.Carry)
}

func TestBuilderValidates(t *testing.T) {
	_, err := NewBuilder().WithConsensusThreshold(-0.1).Build()
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	c, err := NewBuilder().
		WithWeights(signals.SignalWeights{Momentum: 1}).
		WithQualityFilter(5).
		Build()
	require.NoError(t, err)

	out := c.Combine("ES", core(signals.Momentum, 4), nil, nil, nil)
	assert.Nil(t, out.Momentum)
	assert.Equal(t, 0.0, out.CompositeStrength)
}
