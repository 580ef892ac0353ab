package main

import (
	"context"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/config"
	"github.com/sawpanic/carverrun/internal/execution"
	"github.com/sawpanic/carverrun/internal/httpapi"
	"github.com/sawpanic/carverrun/internal/marketdata"
	"github.com/sawpanic/carverrun/internal/metrics"
	"github.com/sawpanic/carverrun/internal/pipeline"
)

// runtime is every component of a running process
type runtime struct {
	cfg      *config.Config
	engine   *pipeline.Engine
	runner   *pipeline.Runner
	guarded  *marketdata.Guarded
	metrics  *metrics.Registry
	store    *httpapi.Store
	hub      *httpapi.Hub
	checks   map[string]httpapi.HealthCheck
	closers  []func() error
	registry *prometheus.Registry
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		return cfg, cfg.Validate()
	}
	return config.Load(path)
}

// buildRuntime wires sources, engine and sinks from cfg. pricesPath seeds
// the in-memory source.
func buildRuntime(ctx context.Context, cfg *config.Config, pricesPath string) (*runtime, error) {
	rt := &runtime{
		cfg:      cfg,
		store:    httpapi.NewStore(),
		hub:      httpapi.NewHub(),
		checks:   make(map[string]httpapi.HealthCheck),
		registry: prometheus.NewRegistry(),
	}
	rt.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	rt.metrics = metrics.NewRegistry(rt.registry)

	engine, err := pipeline.NewEngine(cfg)
	if err != nil {
		return nil, err
	}
	rt.engine = engine

	provider, err := rt.buildProvider(ctx, pricesPath)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.guarded = marketdata.NewGuarded(provider, cfg.MarketData.Breaker, cfg.MarketData.Limit)

	rates, err := rt.buildRates()
	if err != nil {
		rt.Close()
		return nil, err
	}

	sinks, err := rt.buildSinks()
	if err != nil {
		rt.Close()
		return nil, err
	}

	rt.runner = pipeline.NewRunner(engine, rt.guarded, rates, sinks, rt.metrics, pipeline.RunnerConfig{
		Symbols:     cfg.Symbols(),
		Interval:    cfg.Pipeline.Interval,
		Timeout:     cfg.Pipeline.Timeout,
		BreakerName: cfg.MarketData.Breaker.Name,
		StaleAfter:  cfg.Pipeline.StaleAfter,
	})
	rt.checks["freshness"] = rt.runner.Freshness().HealthCheck
	return rt, nil
}

func (rt *runtime) buildProvider(ctx context.Context, pricesPath string) (marketdata.Provider, error) {
	switch rt.cfg.MarketData.Source {
	case config.SourcePostgres:
		pg, err := marketdata.OpenPostgres(ctx, rt.cfg.MarketData.Postgres)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, pg.Close)
		rt.checks["postgres"] = pg.Ping
		return pg, nil

	default:
		mem := marketdata.NewMemory(rt.cfg.MarketData.Postgres.Lookback)
		if pricesPath == "" {
			log.Warn().Msg("Memory source without --prices; cycles will find no data")
			return mem, nil
		}
		f, err := os.Open(pricesPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open price file: %w", err)
		}
		defer f.Close()
		if err := mem.Load(f); err != nil {
			return nil, err
		}
		log.Info().Str("path", pricesPath).Msg("Price file loaded")
		return mem, nil
	}
}

func (rt *runtime) redisClient(c config.RedisConfig, name string) *redis.Client {
	client := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	rt.closers = append(rt.closers, client.Close)
	rt.checks[name] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	return client
}

func (rt *runtime) buildRates() (marketdata.RateSource, error) {
	switch rt.cfg.Rates.Source {
	case config.SourceRedis:
		client := rt.redisClient(rt.cfg.Rates.Redis, "redis_rates")
		return marketdata.NewRedisRates(client, rt.cfg.Rates.RatesPrefix, rt.cfg.Rates.DiffsPrefix), nil
	case config.SourceStatic:
		return marketdata.StaticRates(rt.cfg.Rates.Static), nil
	}
	return nil, fmt.Errorf("unknown rates source %q", rt.cfg.Rates.Source)
}

// buildSinks always feeds the HTTP store and stream after the configured sink
func (rt *runtime) buildSinks() (execution.Sink, error) {
	var primary execution.Sink
	switch rt.cfg.Execution.Sink {
	case config.SinkRedis:
		client := rt.redisClient(rt.cfg.Execution.Redis, "redis_stream")
		primary = execution.NewRedisStream(client, rt.cfg.Execution.Stream)
	case config.SinkLog:
		primary = execution.NewLogSink()
	default:
		return nil, fmt.Errorf("unknown execution sink %q", rt.cfg.Execution.Sink)
	}
	return execution.Multi{primary, rt.store, rt.hub}, nil
}

func (rt *runtime) server() *httpapi.Server {
	return httpapi.NewServer(httpapi.ServerConfig{
		Addr:         rt.cfg.HTTP.Addr,
		ReadTimeout:  rt.cfg.HTTP.ReadTimeout,
		WriteTimeout: rt.cfg.HTTP.WriteTimeout,
	}, httpapi.Options{
		Store:    rt.store,
		Hub:      rt.hub,
		Metrics:  rt.metrics.Handler(),
		Checks:   rt.checks,
		Breakers: map[string]httpapi.Breaker{rt.cfg.MarketData.Breaker.Name: rt.guarded},
	})
}

// Close releases connections in reverse order
func (rt *runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			log.Warn().Err(err).Msg("Close failed")
		}
	}
	rt.closers = nil
}
