package config

import (
	"fmt"
	"math"

	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/signals"
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidConfig, fmt.Sprintf(format, args...))
}

// Validate checks every section. Security types are normalized in place so
// aliases such as STK or fx are accepted.
func (c *Config) Validate() error {
	if err := c.Signals.Coordinator.Validate(); err != nil {
		return fmt.Errorf("%w: signals: %w", ErrInvalidConfig, err)
	}
	if len(c.Signals.Timeframes) == 0 {
		return invalid("signals: at least one timeframe is required")
	}
	for _, tf := range c.Signals.Timeframes {
		if fast, slow := tf.Spans(); fast == 0 && slow == 0 {
			return invalid("signals: unknown timeframe %q", tf)
		}
	}

	if err := c.Costs.Validate(); err != nil {
		return fmt.Errorf("%w: costs: %w", ErrInvalidConfig, err)
	}

	if c.Volatility.HalfLife < 0 || c.Volatility.TargetVolatility < 0 || c.Volatility.DefaultVolatility < 0 {
		return invalid("volatility: parameters cannot be negative")
	}
	if c.Risk.TargetVolatility < 0 || c.Risk.ClusterThreshold < 0 || c.Risk.ClusterThreshold > 1 {
		return invalid("risk: target volatility must be non-negative and cluster threshold within [0,1]")
	}
	if c.Inertia.InertiaMultiplier < 0 || c.Inertia.MinPositionChangeValue < 0 {
		return invalid("inertia: multiplier and minimum change cannot be negative")
	}
	if c.Inertia.MaxPositionChangePct < 0 || c.Inertia.MaxPositionChangePct > 1 {
		return invalid("inertia: max_position_change_pct %v outside [0,1]", c.Inertia.MaxPositionChangePct)
	}
	if c.Inertia.StrongSignalThreshold < 0 || c.Inertia.StrongSignalThreshold > signals.MaxStrength {
		return invalid("inertia: strong_signal_threshold %v outside [0,20]", c.Inertia.StrongSignalThreshold)
	}
	if c.Filter.MaxCostBps < 0 {
		return invalid("filter: max_cost_bps cannot be negative")
	}

	if len(c.Securities) == 0 {
		return invalid("securities: at least one security is required")
	}
	seen := make(map[string]bool, len(c.Securities))
	for i := range c.Securities {
		s := &c.Securities[i]
		if s.Symbol == "" {
			return invalid("securities[%d]: symbol is required", i)
		}
		if seen[s.Symbol] {
			return invalid("securities: duplicate symbol %s", s.Symbol)
		}
		seen[s.Symbol] = true
		t, err := inertia.ParseSecurityType(string(s.Type))
		if err != nil {
			return invalid("securities: %s: %v", s.Symbol, err)
		}
		s.Type = t
	}

	p := c.Pipeline
	if p.Interval <= 0 {
		return invalid("pipeline: interval must be positive")
	}
	if p.Workers <= 0 {
		return invalid("pipeline: workers must be positive")
	}
	if p.PortfolioValue <= 0 || math.IsInf(p.PortfolioValue, 0) || math.IsNaN(p.PortfolioValue) {
		return invalid("pipeline: portfolio_value must be positive")
	}
	if p.StaleAfter < 0 {
		return invalid("pipeline: stale_after must not be negative")
	}

	switch c.MarketData.Source {
	case SourceMemory:
	case SourcePostgres:
		if c.MarketData.Postgres.DSN == "" {
			return invalid("marketdata: postgres DSN is required")
		}
		if c.MarketData.Postgres.MaxIdleConns > c.MarketData.Postgres.MaxOpenConns {
			return invalid("marketdata: max_idle_conns cannot exceed max_open_conns")
		}
	default:
		return invalid("marketdata: unknown source %q", c.MarketData.Source)
	}
	if c.MarketData.Limit.RPS < 0 {
		return invalid("marketdata: rate limit cannot be negative")
	}

	switch c.Rates.Source {
	case SourceStatic:
	case SourceRedis:
		if c.Rates.Redis.Addr == "" {
			return invalid("rates: redis addr is required")
		}
	default:
		return invalid("rates: unknown source %q", c.Rates.Source)
	}

	switch c.Execution.Sink {
	case SinkLog:
	case SinkRedis:
		if c.Execution.Redis.Addr == "" {
			return invalid("execution: redis addr is required")
		}
	default:
		return invalid("execution: unknown sink %q", c.Execution.Sink)
	}

	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		return invalid("http: addr is required when enabled")
	}
	return nil
}
