package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// BreakerConfig controls when the provider circuit opens
type BreakerConfig struct {
	Name                string        `yaml:"name"`
	MaxRequests         uint32        `yaml:"max_requests"` // Probes allowed while half-open
	Interval            time.Duration `yaml:"interval"`     // Closed-state count reset period
	Timeout             time.Duration `yaml:"timeout"`      // Open duration before probing
	ConsecutiveFailures uint32        `yaml:"consecutive_failures"`
	ErrorRateThreshold  float64       `yaml:"error_rate_threshold"` // Percent, after 10 requests
}

// DefaultBreakerConfig trips after 3 straight failures or a 50% error rate
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Name:                "marketdata",
		MaxRequests:         1,
		Interval:            time.Minute,
		Timeout:             30 * time.Second,
		ConsecutiveFailures: 3,
		ErrorRateThreshold:  50,
	}
}

// LimitConfig paces snapshot requests with a token bucket
type LimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// DefaultLimitConfig allows two requests per second with a burst of two
func DefaultLimitConfig() LimitConfig {
	return LimitConfig{RPS: 2, Burst: 2}
}

// Guarded wraps a provider in a rate limiter and a circuit breaker. An empty
// result (ErrNoData) does not count as a failure.
type Guarded struct {
	inner   Provider
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

// NewGuarded creates the wrapper
func NewGuarded(inner Provider, bc BreakerConfig, lc LimitConfig) *Guarded {
	def := DefaultBreakerConfig()
	if bc.Name == "" {
		bc.Name = def.Name
	}
	if bc.ConsecutiveFailures == 0 {
		bc.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if bc.ErrorRateThreshold <= 0 {
		bc.ErrorRateThreshold = def.ErrorRateThreshold
	}

	limit := rate.Inf
	if lc.RPS > 0 {
		limit = rate.Limit(lc.RPS)
	}
	if lc.Burst <= 0 {
		lc.Burst = 1
	}

	settings := gobreaker.Settings{
		Name:        bc.Name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: tripCondition(bc),
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoData)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Market data circuit breaker changed state")
		},
	}

	return &Guarded{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		limiter: rate.NewLimiter(limit, lc.Burst),
	}
}

func tripCondition(bc BreakerConfig) func(counts gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
			return true
		}
		if counts.Requests >= 10 {
			errorRate := float64(counts.TotalFailures) / float64(counts.Requests) * 100
			return errorRate >= bc.ErrorRateThreshold
		}
		return false
	}
}

// Snapshot waits for a token and then calls the wrapped provider through the
// breaker. An open circuit fails fast with gobreaker.ErrOpenState.
func (g *Guarded) Snapshot(ctx context.Context, symbols []string) (*Snapshot, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait: %w", err)
	}

	res, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Snapshot(ctx, symbols)
	})
	if err != nil {
		return nil, err
	}
	return res.(*Snapshot), nil
}

// State returns the breaker state
func (g *Guarded) State() gobreaker.State {
	return g.breaker.State()
}

// Counts returns the breaker request counters
func (g *Guarded) Counts() gobreaker.Counts {
	return g.breaker.Counts()
}
