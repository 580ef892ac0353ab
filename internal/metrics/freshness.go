package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/marketdata"
)

// ErrStaleData is returned by the freshness health check
var ErrStaleData = errors.New("market data is stale")

// Freshness status values
const (
	FreshnessUnknown = "unknown"
	FreshnessFresh   = "fresh"
	FreshnessStale   = "stale"
)

// SeriesFreshness is the age of one symbol's last bar
type SeriesFreshness struct {
	Symbol  string        `json:"symbol"`
	LastBar time.Time     `json:"last_bar"`
	Age     time.Duration `json:"age"`
	Stale   bool          `json:"stale"`
}

// FreshnessResult applies "worst series wins": the oldest last bar decides
type FreshnessResult struct {
	Series      []SeriesFreshness `json:"series"`
	WorstSymbol string            `json:"worst_symbol"`
	WorstAge    time.Duration     `json:"worst_age"`
	Status      string            `json:"status"`
}

// Fresh reports whether every series is within the age limit
func (r FreshnessResult) Fresh() bool {
	return r.Status == FreshnessFresh
}

// Freshness tracks the last bar of every symbol seen in a snapshot
type Freshness struct {
	maxAge time.Duration
	now    func() time.Time
	age    prometheus.Gauge

	mu    sync.RWMutex
	last  map[string]time.Time
	stale bool
}

// NewFreshness creates a tracker that calls data older than maxAge stale.
// The worst age is exported on reg when it is not nil.
func NewFreshness(maxAge time.Duration, reg *Registry) *Freshness {
	f := &Freshness{
		maxAge: maxAge,
		now:    time.Now,
		last:   make(map[string]time.Time),
	}
	if reg != nil {
		f.age = reg.DataAge
	}
	return f
}

// Observe records the last bar of each series in snap and logs once when
// the data turns stale
func (f *Freshness) Observe(snap *marketdata.Snapshot) FreshnessResult {
	f.mu.Lock()
	for sym, series := range snap.Series {
		if n := len(series.History); n > 0 {
			f.last[sym] = series.History[n-1].Timestamp
		}
	}
	f.mu.Unlock()

	result := f.Check()
	if f.age != nil {
		f.age.Set(result.WorstAge.Seconds())
	}

	f.mu.Lock()
	wasStale := f.stale
	stale := result.Status == FreshnessStale
	f.stale = stale
	f.mu.Unlock()

	if stale && !wasStale {
		log.Warn().
			Str("worst_symbol", result.WorstSymbol).
			Dur("worst_age", result.WorstAge).
			Dur("max_age", f.maxAge).
			Msg("Market data is stale")
	}
	return result
}

// Check evaluates the recorded bars against the age limit
func (f *Freshness) Check() FreshnessResult {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.last) == 0 {
		return FreshnessResult{Status: FreshnessUnknown}
	}

	symbols := make([]string, 0, len(f.last))
	for sym := range f.last {
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)

	now := f.now()
	result := FreshnessResult{Status: FreshnessFresh}
	for _, sym := range symbols {
		ts := f.last[sym]
		age := now.Sub(ts)
		s := SeriesFreshness{Symbol: sym, LastBar: ts, Age: age, Stale: age > f.maxAge}
		result.Series = append(result.Series, s)
		if age > result.WorstAge || result.WorstSymbol == "" {
			result.WorstAge = age
			result.WorstSymbol = sym
		}
		if s.Stale {
			result.Status = FreshnessStale
		}
	}
	return result
}

// HealthCheck fails while any tracked series is stale. Nothing observed yet
// counts as healthy.
func (f *Freshness) HealthCheck(ctx context.Context) error {
	result := f.Check()
	if result.Status != FreshnessStale {
		return nil
	}
	return fmt.Errorf("%w: %s last bar is %s old", ErrStaleData, result.WorstSymbol, result.WorstAge.Truncate(time.Second))
}
