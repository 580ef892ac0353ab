package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSink writes each trade as a structured log line
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink logs through the global logger
func NewLogSink() *LogSink {
	return &LogSink{logger: log.Logger}
}

// NewLogSinkWith logs through the given logger
func NewLogSinkWith(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

// Publish logs the cycle summary and one line per rebalance
func (s *LogSink) Publish(_ context.Context, report CycleReport) error {
	trades := report.Trades()
	for _, t := range trades {
		s.logger.Info().
			Str("cycle_id", report.CycleID).
			Str("symbol", t.Symbol).
			Float64("current", t.CurrentPosition).
			Float64("target", t.RecommendedPosition).
			Float64("quantity", t.RecommendedQuantity).
			Float64("cost", t.EstimatedCost).
			Str("reason", t.Reason).
			Msg("Target position")
	}
	s.logger.Info().
		Str("cycle_id", report.CycleID).
		Int("symbols", len(report.Targets)).
		Int("trades", len(trades)).
		Int("skipped", len(report.Skipped)).
		Float64("estimated_costs", report.Filter.TotalEstimatedCosts).
		Msg("Cycle published")
	return nil
}

// StreamConfig selects the Redis stream targets are written to
type StreamConfig struct {
	Stream string `yaml:"stream"`
	MaxLen int64  `yaml:"max_len"` // Approximate cap; zero keeps everything
}

// DefaultStreamConfig writes to carverrun:targets capped near 10k entries
func DefaultStreamConfig() StreamConfig {
	return StreamConfig{Stream: "carverrun:targets", MaxLen: 10000}
}

// RedisStream appends one stream entry per cycle with the targets as JSON
type RedisStream struct {
	client redis.Cmdable
	config StreamConfig
}

// NewRedisStream creates the sink
func NewRedisStream(client redis.Cmdable, config StreamConfig) *RedisStream {
	if config.Stream == "" {
		config.Stream = DefaultStreamConfig().Stream
	}
	return &RedisStream{client: client, config: config}
}

// Args builds the XADD arguments for a report
func (s *RedisStream) Args(report CycleReport) (*redis.XAddArgs, error) {
	payload, err := json.Marshal(report.Targets)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal targets: %w", err)
	}
	return &redis.XAddArgs{
		Stream: s.config.Stream,
		MaxLen: s.config.MaxLen,
		Approx: s.config.MaxLen > 0,
		Values: []interface{}{
			"cycle_id", report.CycleID,
			"as_of", report.AsOf.UTC().Format(time.RFC3339Nano),
			"trades", len(report.Trades()),
			"targets", string(payload),
		},
	}, nil
}

// Publish appends the report to the stream
func (s *RedisStream) Publish(ctx context.Context, report CycleReport) error {
	args, err := s.Args(report)
	if err != nil {
		return err
	}
	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return fmt.Errorf("failed to publish cycle %s: %w", report.CycleID, err)
	}
	log.Debug().
		Str("cycle_id", report.CycleID).
		Str("stream", s.config.Stream).
		Str("entry_id", id).
		Msg("Targets published")
	return nil
}
