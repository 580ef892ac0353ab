package signals

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidWeights is returned when signal weights do not sum to one
var ErrInvalidWeights = errors.New("invalid signal weights")

const weightTolerance = 0.001

// SignalWeights assigns a share of the composite to each signal family
type SignalWeights struct {
	Momentum      float64 `yaml:"momentum" json:"momentum"`
	Breakout      float64 `yaml:"breakout" json:"breakout"`
	Carry         float64 `yaml:"carry" json:"carry"`
	MeanReversion float64 `yaml:"mean_reversion" json:"mean_reversion"`
}

// DefaultSignalWeights returns the production weighting (trend heavy)
func DefaultSignalWeights() SignalWeights {
	return SignalWeights{
		Momentum:      0.50,
		Breakout:      0.30,
		Carry:         0.15,
		MeanReversion: 0.05,
	}
}

// For returns the weight configured for a signal type
func (w SignalWeights) For(st SignalType) float64 {
	switch st {
	case Momentum:
		return w.Momentum
	case Breakout:
		return w.Breakout
	case Carry:
		return w.Carry
	case MeanReversion:
		return w.MeanReversion
	}
	return 0
}

// Sum returns the total of all weights
func (w SignalWeights) Sum() float64 {
	return w.Momentum + w.Breakout + w.Carry + w.MeanReversion
}

// Validate rejects weights that are negative, non-finite or do not sum to 1.0 ± 0.001
func (w SignalWeights) Validate() error {
	for _, st := range AllSignalTypes {
		v := w.For(st)
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return fmt.Errorf("%w: %s weight %v", ErrInvalidWeights, st, v)
		}
	}
	if sum := w.Sum(); math.Abs(sum-1.0) > weightTolerance {
		return fmt.Errorf("%w: weights sum to %.4f, expected 1.0", ErrInvalidWeights, sum)
	}
	return nil
}

// Normalize rescales the weights to sum to one. Callers that need strict
// validation must use Validate instead.
func (w SignalWeights) Normalize() SignalWeights {
	sum := w.Sum()
	if sum <= 0 {
		return w
	}
	return SignalWeights{
		Momentum:      w.Momentum / sum,
		Breakout:      w.Breakout / sum,
		Carry:         w.Carry / sum,
		MeanReversion: w.MeanReversion / sum,
	}
}
