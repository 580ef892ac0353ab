package coordinator

import "github.com/sawpanic/carverrun/internal/signals"

// Builder assembles a coordinator configuration step by step
type Builder struct {
	config Config
}

// NewBuilder starts from the default configuration
func NewBuilder() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithWeights sets the signal weights
func (b *Builder) WithWeights(w signals.SignalWeights) *Builder {
	b.config.Weights = w
	return b
}

// WithConsensusThreshold sets the agreement needed before boosting
func (b *Builder) WithConsensusThreshold(v float64) *Builder {
	b.config.ConsensusThreshold = v
	return b
}

// WithQualityFilter sets the minimum absolute strength kept
func (b *Builder) WithQualityFilter(v float64) *Builder {
	b.config.QualityFilterThreshold = v
	return b
}

// WithCrossValidation toggles agreement scoring
func (b *Builder) WithCrossValidation(enabled bool) *Builder {
	b.config.EnableCrossValidation = enabled
	return b
}

// Build validates and returns the coordinator
func (b *Builder) Build() (*Coordinator, error) {
	return New(b.config)
}
