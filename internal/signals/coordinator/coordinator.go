// Package coordinator blends typed signals into one consensus-weighted composite.
package coordinator

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/signals"
)

// ErrInvalidThreshold is returned for thresholds outside their allowed range
var ErrInvalidThreshold = errors.New("invalid coordinator threshold")

// Config controls how signals are filtered and combined
type Config struct {
	Weights                signals.SignalWeights `yaml:"weights"`
	ConsensusThreshold     float64               `yaml:"consensus_threshold"`
	QualityFilterThreshold float64               `yaml:"quality_filter_threshold"`
	EnableCrossValidation  bool                  `yaml:"enable_cross_validation"`
}

// DefaultConfig returns the production coordinator settings
func DefaultConfig() Config {
	return Config{
		Weights:                signals.DefaultSignalWeights(),
		ConsensusThreshold:     0.67,
		QualityFilterThreshold: 1.0,
		EnableCrossValidation:  true,
	}
}

// Validate rejects invalid weights and thresholds
func (c Config) Validate() error {
	if err := c.Weights.Validate(); err != nil {
		return err
	}
	if math.IsNaN(c.ConsensusThreshold) || c.ConsensusThreshold < 0 || c.ConsensusThreshold > 1 {
		return fmt.Errorf("%w: consensus threshold %v outside [0,1]", ErrInvalidThreshold, c.ConsensusThreshold)
	}
	if math.IsNaN(c.QualityFilterThreshold) || c.QualityFilterThreshold < 0 || c.QualityFilterThreshold > signals.MaxStrength {
		return fmt.Errorf("%w: quality filter threshold %v outside [0,20]", ErrInvalidThreshold, c.QualityFilterThreshold)
	}
	return nil
}

// Coordinator combines up to one signal per type. It is safe for concurrent
// use; weight updates take effect for the next call.
type Coordinator struct {
	mu     sync.RWMutex
	config Config
}

// New validates the configuration and creates a coordinator
func New(config Config) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("failed to create signal coordinator: %w", err)
	}
	return &Coordinator{config: config}, nil
}

// Config returns a copy of the active configuration
func (c *Coordinator) Config() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.config
}

// UpdateWeights replaces the signal weights after validating them
func (c *Coordinator) UpdateWeights(w signals.SignalWeights) error {
	if err := w.Validate(); err != nil {
		return fmt.Errorf("failed to update weights: %w", err)
	}
	c.mu.Lock()
	c.config.Weights = w
	c.mu.Unlock()
	return nil
}

// Combine filters weak inputs, takes the weighted mean over the signals that
// remain and applies the consensus boost. Nil inputs are absent signals.
func (c *Coordinator) Combine(symbol string, momentum, breakout, carry, meanReversion *signals.SignalCore) signals.CombinedSignals {
	cfg := c.Config()
	out := signals.EmptyCombined(symbol)

	for _, in := range []*signals.SignalCore{momentum, breakout, carry, meanReversion} {
		if in == nil {
			continue
		}
		if math.Abs(in.SignalStrength) < cfg.QualityFilterThreshold {
			log.Debug().
				Str("symbol", symbol).
				Str("signal_type", string(in.SignalType)).
				Float64("strength", in.SignalStrength).
				Msg("Signal below quality filter")
			continue
		}
		s := *in
		out.Set(&s)
	}

	present := out.Present()
	if len(present) == 0 {
		return out
	}

	weighted, weightSum := 0.0, 0.0
	strengths := make([]float64, 0, len(present))
	dominantAbs := -1.0
	for _, s := range present {
		w := cfg.Weights.For(s.SignalType)
		weighted += w * s.SignalStrength
		weightSum += w
		strengths = append(strengths, s.SignalStrength)
		if a := math.Abs(s.SignalStrength); a > dominantAbs {
			dominantAbs = a
			st := s.SignalType
			out.DominantSignal = &st
		}
	}

	composite := 0.0
	if weightSum > 0 {
		composite = weighted / weightSum
	}

	out.AgreementScore = 1.0
	if cfg.EnableCrossValidation && len(present) > 1 {
		out.AgreementScore = signals.ConsensusStrength(strengths)
	}
	if out.AgreementScore >= cfg.ConsensusThreshold {
		composite = signals.ApplyConsensusBoost(composite, out.AgreementScore)
	}

	out.CompositeStrength = signals.ClampCarver(composite)
	return out
}

// Coordinate is Combine keyed by signal type
func (c *Coordinator) Coordinate(symbol string, in map[signals.SignalType]signals.SignalCore) signals.CombinedSignals {
	get := func(st signals.SignalType) *signals.SignalCore {
		if s, ok := in[st]; ok {
			return &s
		}
		return nil
	}
	return c.Combine(symbol, get(signals.Momentum), get(signals.Breakout), get(signals.Carry), get(signals.MeanReversion))
}

// CombineFrom runs the generators for one timeframe and combines whatever they produce
func (c *Coordinator) CombineFrom(gens []signals.Generator, symbol string, tf signals.Timeframe, history []signals.PricePoint) signals.CombinedSignals {
	raw := signals.GenerateAll(gens, symbol, tf, history)
	return c.Combine(symbol, raw.Momentum, raw.Breakout, raw.Carry, raw.MeanReversion)
}
