// Package risk implements equal risk contribution budgeting over a
// correlation matrix and per-symbol volatilities.
package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
)

var (
	// ErrInvalidCorrelation is returned for correlations outside [-1, 1]
	ErrInvalidCorrelation = errors.New("correlation must be between -1 and 1")
	// ErrNegativeVolatility is returned for volatilities below zero
	ErrNegativeVolatility = errors.New("volatility cannot be negative")
	// ErrMissingVolatility is returned when a held symbol has no volatility
	ErrMissingVolatility = errors.New("missing volatility")
)

// Config holds risk budgeting parameters
type Config struct {
	TargetVolatility      float64 `yaml:"target_volatility"`
	ViolationThreshold    float64 `yaml:"violation_threshold"`
	MaxRiskContribution   float64 `yaml:"max_risk_contribution"`
	ClusterThreshold      float64 `yaml:"cluster_threshold"`
	RebalanceThreshold    float64 `yaml:"rebalance_threshold"`
	AbsoluteAdjustment    float64 `yaml:"absolute_adjustment"`
	MinCorrelationSamples int     `yaml:"min_correlation_samples"`
}

// DefaultConfig returns a 15% portfolio volatility target with the standard
// violation and rebalancing bands
func DefaultConfig() Config {
	return Config{
		TargetVolatility:      0.15,
		ViolationThreshold:    0.25,
		MaxRiskContribution:   0.50,
		ClusterThreshold:      0.75,
		RebalanceThreshold:    0.02,
		AbsoluteAdjustment:    0.05,
		MinCorrelationSamples: 20,
	}
}

// Correlation is one symmetric matrix entry
type Correlation struct {
	A     string  `json:"a"`
	B     string  `json:"b"`
	Value float64 `json:"value"`
}

// Inputs is a copy of everything the budgeter reads during a cycle
type Inputs struct {
	Correlations []Correlation     `json:"correlations"`
	Volatilities map[string]float64 `json:"volatilities"`
}

type pair struct{ a, b string }

func key(a, b string) pair {
	if b < a {
		a, b = b, a
	}
	return pair{a, b}
}

// Budgeter holds the correlation matrix and volatilities. Reads take a shared
// lock; updates between cycles take the exclusive lock.
type Budgeter struct {
	config Config

	mu           sync.RWMutex
	correlations map[pair]float64
	volatilities map[string]float64
}

// New creates an empty budgeter
func New(config Config) *Budgeter {
	def := DefaultConfig()
	if config.TargetVolatility <= 0 {
		config.TargetVolatility = def.TargetVolatility
	}
	if config.ViolationThreshold <= 0 {
		config.ViolationThreshold = def.ViolationThreshold
	}
	if config.MaxRiskContribution <= 0 {
		config.MaxRiskContribution = def.MaxRiskContribution
	}
	if config.ClusterThreshold <= 0 {
		config.ClusterThreshold = def.ClusterThreshold
	}
	if config.RebalanceThreshold <= 0 {
		config.RebalanceThreshold = def.RebalanceThreshold
	}
	if config.AbsoluteAdjustment <= 0 {
		config.AbsoluteAdjustment = def.AbsoluteAdjustment
	}
	if config.MinCorrelationSamples < 2 {
		config.MinCorrelationSamples = def.MinCorrelationSamples
	}
	return &Budgeter{
		config:       config,
		correlations: make(map[pair]float64),
		volatilities: make(map[string]float64),
	}
}

// Config returns the budgeter configuration
func (b *Budgeter) Config() Config { return b.config }

func validCorrelation(rho float64) error {
	if math.IsNaN(rho) || rho < -1 || rho > 1 {
		return fmt.Errorf("%w, got %v", ErrInvalidCorrelation, rho)
	}
	return nil
}

func validVolatility(symbol string, vol float64) error {
	if math.IsNaN(vol) || vol < 0 {
		return fmt.Errorf("%w: %s got %v", ErrNegativeVolatility, symbol, vol)
	}
	return nil
}

// UpdateCorrelation stores a symmetric correlation
func (b *Budgeter) UpdateCorrelation(a, c string, rho float64) error {
	if err := validCorrelation(rho); err != nil {
		return err
	}
	b.mu.Lock()
	b.correlations[key(a, c)] = rho
	b.mu.Unlock()
	return nil
}

// UpdateVolatility stores an annualized volatility
func (b *Budgeter) UpdateVolatility(symbol string, vol float64) error {
	if err := validVolatility(symbol, vol); err != nil {
		return err
	}
	b.mu.Lock()
	b.volatilities[symbol] = vol
	b.mu.Unlock()
	return nil
}

// Correlation returns the stored correlation, 1 on the diagonal and 0 when unknown
func (b *Budgeter) Correlation(a, c string) float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.correlation(a, c)
}

func (b *Budgeter) correlation(a, c string) float64 {
	if a == c {
		return 1.0
	}
	return b.correlations[key(a, c)]
}

// Volatility returns the stored volatility for symbol
func (b *Budgeter) Volatility(symbol string) (float64, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	v, ok := b.volatilities[symbol]
	return v, ok
}

// Snapshot copies the current matrix and volatilities
func (b *Budgeter) Snapshot() Inputs {
	b.mu.RLock()
	defer b.mu.RUnlock()

	in := Inputs{
		Correlations: make([]Correlation, 0, len(b.correlations)),
		Volatilities: make(map[string]float64, len(b.volatilities)),
	}
	for k, v := range b.correlations {
		in.Correlations = append(in.Correlations, Correlation{A: k.a, B: k.b, Value: v})
	}
	sort.Slice(in.Correlations, func(i, j int) bool {
		if in.Correlations[i].A != in.Correlations[j].A {
			return in.Correlations[i].A < in.Correlations[j].A
		}
		return in.Correlations[i].B < in.Correlations[j].B
	})
	for k, v := range b.volatilities {
		in.Volatilities[k] = v
	}
	return in
}

// Restore validates every entry of in and then replaces the whole matrix and
// volatility table atomically. Nothing changes if any entry is invalid.
func (b *Budgeter) Restore(in Inputs) error {
	correlations := make(map[pair]float64, len(in.Correlations))
	for _, c := range in.Correlations {
		if err := validCorrelation(c.Value); err != nil {
			return fmt.Errorf("failed to restore correlation %s/%s: %w", c.A, c.B, err)
		}
		correlations[key(c.A, c.B)] = c.Value
	}
	volatilities := make(map[string]float64, len(in.Volatilities))
	for symbol, v := range in.Volatilities {
		if err := validVolatility(symbol, v); err != nil {
			return fmt.Errorf("failed to restore volatility: %w", err)
		}
		volatilities[symbol] = v
	}

	b.mu.Lock()
	b.correlations = correlations
	b.volatilities = volatilities
	b.mu.Unlock()
	return nil
}

// PortfolioVolatility returns sqrt(w'Σw) for the given weights
func (b *Budgeter) PortfolioVolatility(weights map[string]float64) (float64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.portfolioVolatility(sortedKeys(weights), weights)
}

func (b *Budgeter) portfolioVolatility(symbols []string, weights map[string]float64) (float64, error) {
	for _, s := range symbols {
		if _, ok := b.volatilities[s]; !ok {
			return 0, fmt.Errorf("%w for symbol: %s", ErrMissingVolatility, s)
		}
	}

	variance := 0.0
	for _, si := range symbols {
		for _, sj := range symbols {
			variance += weights[si] * weights[sj] * b.volatilities[si] * b.volatilities[sj] * b.correlation(si, sj)
		}
	}
	if variance <= 0 || math.IsNaN(variance) {
		return 0, nil
	}
	return math.Sqrt(variance), nil
}

func sortedKeys(m map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
