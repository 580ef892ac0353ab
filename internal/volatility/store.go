// Package volatility keeps per-symbol EWMA volatility and sizes positions
// against a portfolio volatility target.
package volatility

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/signals"
)

// Config holds volatility estimation and targeting parameters
type Config struct {
	HalfLife            float64 `yaml:"half_life"`
	AnnualizationFactor float64 `yaml:"annualization_factor"`
	TargetVolatility    float64 `yaml:"target_volatility"`
	DefaultVolatility   float64 `yaml:"default_volatility"`
	MinReturns          int     `yaml:"min_returns"`
	Tolerance           float64 `yaml:"tolerance"`
}

// DefaultConfig returns a 32 period half-life on daily data with a 25% target
func DefaultConfig() Config {
	return Config{
		HalfLife:            32,
		AnnualizationFactor: signals.TradingDaysPerYear,
		TargetVolatility:    0.25,
		DefaultVolatility:   0.20,
		MinReturns:          10,
		Tolerance:           0.05,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.HalfLife <= 0 {
		c.HalfLife = def.HalfLife
	}
	if c.AnnualizationFactor <= 0 {
		c.AnnualizationFactor = def.AnnualizationFactor
	}
	if c.TargetVolatility <= 0 {
		c.TargetVolatility = def.TargetVolatility
	}
	if c.DefaultVolatility <= 0 {
		c.DefaultVolatility = def.DefaultVolatility
	}
	if c.MinReturns <= 0 {
		c.MinReturns = def.MinReturns
	}
	if c.Tolerance <= 0 {
		c.Tolerance = def.Tolerance
	}
	return c
}

// SymbolState is the EWMA state of one instrument
type SymbolState struct {
	mu sync.Mutex

	variance  float64
	lastPrice float64
	lastSeen  time.Time
	returns   []float64
}

func (s *SymbolState) update(price float64, lambda float64, maxReturns int) bool {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return false
	}
	if s.lastPrice <= 0 {
		s.lastPrice = price
		return true
	}

	r := math.Log(price / s.lastPrice)
	s.lastPrice = price
	if len(s.returns) == 0 {
		s.variance = r * r
	} else {
		s.variance = lambda*s.variance + (1-lambda)*r*r
	}

	s.returns = append(s.returns, r)
	if len(s.returns) > maxReturns {
		s.returns = append(s.returns[:0], s.returns[len(s.returns)-maxReturns:]...)
	}
	return true
}

// Variance returns the current daily EWMA variance
func (s *SymbolState) Variance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.variance
}

// LastPrice returns the most recent accepted price
func (s *SymbolState) LastPrice() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPrice
}

// ReturnCount returns how many log returns are buffered
func (s *SymbolState) ReturnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.returns)
}

// Store owns every SymbolState. Inserting a symbol takes the store lock; a
// state is then updated by a single worker per cycle.
type Store struct {
	config     Config
	lambda     float64
	maxReturns int

	mu     sync.RWMutex
	states map[string]*SymbolState
}

// NewStore creates an empty store
func NewStore(config Config) *Store {
	config = config.withDefaults()
	s := &Store{
		config:     config,
		lambda:     math.Exp(-1 / config.HalfLife),
		maxReturns: int(config.HalfLife * 4),
		states:     make(map[string]*SymbolState),
	}
	log.Debug().
		Float64("half_life", config.HalfLife).
		Float64("lambda", s.lambda).
		Msg("Volatility store initialized")
	return s
}

// Lambda returns the EWMA decay factor
func (s *Store) Lambda() float64 { return s.lambda }

// MaxReturns returns the return buffer bound
func (s *Store) MaxReturns() int { return s.maxReturns }

// State returns the state for symbol, creating it on first use
func (s *Store) State(symbol string) *SymbolState {
	s.mu.RLock()
	st, ok := s.states[symbol]
	s.mu.RUnlock()
	if ok {
		return st
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok = s.states[symbol]; !ok {
		st = &SymbolState{}
		s.states[symbol] = st
	}
	return st
}

func (s *Store) lookup(symbol string) (*SymbolState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[symbol]
	return st, ok
}

// Update folds one new price into the symbol's EWMA variance. Non-positive or
// non-finite prices are ignored.
func (s *Store) Update(symbol string, price float64) {
	st := s.State(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.update(price, s.lambda, s.maxReturns) {
		log.Debug().Str("symbol", symbol).Float64("price", price).Msg("Ignoring invalid price")
	}
}

// UpdatePrices applies one price per symbol
func (s *Store) UpdatePrices(prices map[string]float64) {
	for symbol, p := range prices {
		s.Update(symbol, p)
	}
}

// Observe feeds the points of an ordered history that are newer than the last
// one seen for this symbol, so a full history can be replayed every cycle.
// It returns how many points were applied.
func (s *Store) Observe(symbol string, history []signals.PricePoint) int {
	st := s.State(symbol)
	st.mu.Lock()
	defer st.mu.Unlock()

	applied := 0
	for _, p := range history {
		if !st.lastSeen.IsZero() && !p.Timestamp.After(st.lastSeen) {
			continue
		}
		if st.update(p.Price, s.lambda, s.maxReturns) {
			applied++
		}
		st.lastSeen = p.Timestamp
	}
	return applied
}

// Volatility returns the annualized EWMA volatility. ok is false for symbols
// with no return yet.
func (s *Store) Volatility(symbol string) (float64, bool) {
	st, ok := s.lookup(symbol)
	if !ok {
		return 0, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.returns) == 0 {
		return 0, false
	}
	return math.Sqrt(st.variance * s.config.AnnualizationFactor), true
}

// Volatilities returns every available annualized estimate
func (s *Store) Volatilities() map[string]float64 {
	out := make(map[string]float64)
	for _, symbol := range s.Symbols() {
		if v, ok := s.Volatility(symbol); ok {
			out[symbol] = v
		}
	}
	return out
}

// HasSufficientData reports whether enough returns have accumulated
func (s *Store) HasSufficientData(symbol string) bool {
	st, ok := s.lookup(symbol)
	if !ok {
		return false
	}
	return st.ReturnCount() >= s.config.MinReturns
}

// Symbols lists tracked symbols in sorted order
func (s *Store) Symbols() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.states))
	for k := range s.states {
		out = append(out, k)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}
