// Package config loads the carverrun YAML configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/inertia"
	"github.com/sawpanic/carverrun/internal/marketdata"
	"github.com/sawpanic/carverrun/internal/risk"
	"github.com/sawpanic/carverrun/internal/signals"
	"github.com/sawpanic/carverrun/internal/signals/bands"
	"github.com/sawpanic/carverrun/internal/signals/breakout"
	"github.com/sawpanic/carverrun/internal/signals/carry"
	"github.com/sawpanic/carverrun/internal/signals/coordinator"
	"github.com/sawpanic/carverrun/internal/signals/momentum"
	"github.com/sawpanic/carverrun/internal/volatility"
)

// ErrInvalidConfig is returned for configuration that fails validation
var ErrInvalidConfig = errors.New("invalid configuration")

// Source and sink selectors
const (
	SourceMemory   = "memory"
	SourcePostgres = "postgres"
	SourceStatic   = "static"
	SourceRedis    = "redis"
	SinkLog        = "log"
	SinkRedis      = "redis"
)

// Config is the full application configuration
type Config struct {
	Signals          SignalsConfig           `yaml:"signals"`
	Volatility       volatility.Config       `yaml:"volatility"`
	Risk             risk.Config             `yaml:"risk"`
	Inertia          inertia.Config          `yaml:"inertia"`
	PortfolioInertia inertia.PortfolioConfig `yaml:"portfolio_inertia"`
	Filter           inertia.FilterConfig    `yaml:"filter"`
	Costs            inertia.CostConfig      `yaml:"costs"`
	Securities       []Security              `yaml:"securities"`
	Pipeline         PipelineConfig          `yaml:"pipeline"`
	MarketData       MarketDataConfig        `yaml:"marketdata"`
	Rates            RatesConfig             `yaml:"rates"`
	Execution        ExecutionConfig         `yaml:"execution"`
	HTTP             HTTPConfig              `yaml:"http"`
}

// SignalsConfig holds the coordinator and per-generator settings
type SignalsConfig struct {
	Coordinator coordinator.Config  `yaml:"coordinator"`
	Timeframes  []signals.Timeframe `yaml:"timeframes"`
	Momentum    momentum.Config     `yaml:"momentum"`
	Breakout    breakout.Config     `yaml:"breakout"`
	Bands       bands.Config        `yaml:"bands"`
	Carry       carry.Config        `yaml:"carry"`
}

// Security is one tradable instrument
type Security struct {
	Symbol string               `yaml:"symbol"`
	Type   inertia.SecurityType `yaml:"type"`
}

// PipelineConfig controls the decision loop
type PipelineConfig struct {
	Interval        time.Duration `yaml:"interval"`
	Timeout         time.Duration `yaml:"timeout"` // Per-tick budget for fetch and publish
	Workers         int           `yaml:"workers"`
	PortfolioValue  float64       `yaml:"portfolio_value"`
	ApplyRiskBudget bool          `yaml:"apply_risk_budget"`
	StaleAfter      time.Duration `yaml:"stale_after"` // Last-bar age that fails the freshness check
}

// MarketDataConfig selects and guards the price source
type MarketDataConfig struct {
	Source   string                    `yaml:"source"`
	Postgres marketdata.PostgresConfig `yaml:"postgres"`
	Breaker  marketdata.BreakerConfig  `yaml:"breaker"`
	Limit    marketdata.LimitConfig    `yaml:"rate_limit"`
}

// RedisConfig addresses a Redis server
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// RatesConfig selects the carry rate source
type RatesConfig struct {
	Source      string          `yaml:"source"`
	Static      carry.RateTable `yaml:"static"`
	Redis       RedisConfig     `yaml:"redis"`
	RatesPrefix string          `yaml:"rates_prefix"`
	DiffsPrefix string          `yaml:"diffs_prefix"`
}

// ExecutionConfig selects where targets are published
type ExecutionConfig struct {
	Sink   string                 `yaml:"sink"`
	Redis  RedisConfig            `yaml:"redis"`
	Stream execution.StreamConfig `yaml:"stream"`
}

// HTTPConfig controls the read-only HTTP API
type HTTPConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Default returns a complete working configuration over a small mixed universe
func Default() *Config {
	return &Config{
		Signals: SignalsConfig{
			Coordinator: coordinator.DefaultConfig(),
			Timeframes:  append([]signals.Timeframe(nil), signals.AllTimeframes...),
			Momentum:    momentum.DefaultConfig(),
			Breakout:    breakout.DefaultConfig(),
			Bands:       bands.DefaultConfig(),
			Carry:       carry.DefaultConfig(),
		},
		Volatility:       volatility.DefaultConfig(),
		Risk:             risk.DefaultConfig(),
		Inertia:          inertia.DefaultConfig(),
		PortfolioInertia: inertia.DefaultPortfolioConfig(),
		Filter:           inertia.DefaultFilterConfig(),
		Costs:            inertia.DefaultCostConfig(),
		Securities: []Security{
			{Symbol: "AAPL", Type: inertia.Stock},
			{Symbol: "MSFT", Type: inertia.Stock},
			{Symbol: "ES", Type: inertia.Future},
			{Symbol: "EURUSD", Type: inertia.Forex},
		},
		Pipeline: PipelineConfig{
			Interval:        time.Hour,
			Timeout:         30 * time.Second,
			Workers:         4,
			PortfolioValue:  1_000_000,
			ApplyRiskBudget: true,
			StaleAfter:      96 * time.Hour,
		},
		MarketData: MarketDataConfig{
			Source:   SourceMemory,
			Postgres: marketdata.DefaultPostgresConfig(),
			Breaker:  marketdata.DefaultBreakerConfig(),
			Limit:    marketdata.DefaultLimitConfig(),
		},
		Rates: RatesConfig{
			Source: SourceStatic,
			Static: carry.RateTable{
				"EURUSD": {BaseRate: 4.00, QuoteRate: 5.25},
			},
			Redis:       RedisConfig{Addr: "localhost:6379"},
			RatesPrefix: marketdata.DefaultRatesPrefix,
			DiffsPrefix: marketdata.DefaultDiffsPrefix,
		},
		Execution: ExecutionConfig{
			Sink:   SinkLog,
			Redis:  RedisConfig{Addr: "localhost:6379"},
			Stream: execution.DefaultStreamConfig(),
		},
		HTTP: HTTPConfig{
			Enabled:      true,
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets deployments inject connection strings
func applyEnvOverrides(c *Config) {
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		c.MarketData.Postgres.DSN = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		c.Rates.Redis.Addr = addr
		c.Execution.Redis.Addr = addr
	}
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		c.HTTP.Addr = addr
	}
}

// SecurityTypes maps each symbol to its security type
func (c *Config) SecurityTypes() map[string]inertia.SecurityType {
	out := make(map[string]inertia.SecurityType, len(c.Securities))
	for _, s := range c.Securities {
		out[s.Symbol] = s.Type
	}
	return out
}

// Symbols returns the configured symbols in file order
func (c *Config) Symbols() []string {
	out := make([]string, 0, len(c.Securities))
	for _, s := range c.Securities {
		out = append(out, s.Symbol)
	}
	return out
}
