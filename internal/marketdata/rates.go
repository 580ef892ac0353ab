package marketdata

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/signals/carry"
)

// RateSource supplies the interest rate legs for carry signals
type RateSource interface {
	Rates(ctx context.Context, symbols []string) (carry.RateTable, error)
}

// StaticRates serves a fixed table, typically from configuration
type StaticRates carry.RateTable

// Rates returns the configured quotes for the requested symbols
func (s StaticRates) Rates(_ context.Context, symbols []string) (carry.RateTable, error) {
	out := make(carry.RateTable, len(symbols))
	for _, sym := range symbols {
		if q, ok := s[sym]; ok {
			out[sym] = q
		}
	}
	return out, nil
}

// Default Redis key prefixes for carry rates
const (
	DefaultRatesPrefix = "carry:rates:"
	DefaultDiffsPrefix = "carry:diffs:"
)

// RedisRates reads rate legs from a hash per symbol with fields base and
// quote, and the differential history from a list
type RedisRates struct {
	client      redis.Cmdable
	ratesPrefix string
	diffsPrefix string
}

// NewRedisRates creates the source. Empty prefixes use the defaults.
func NewRedisRates(client redis.Cmdable, ratesPrefix, diffsPrefix string) *RedisRates {
	if ratesPrefix == "" {
		ratesPrefix = DefaultRatesPrefix
	}
	if diffsPrefix == "" {
		diffsPrefix = DefaultDiffsPrefix
	}
	return &RedisRates{client: client, ratesPrefix: ratesPrefix, diffsPrefix: diffsPrefix}
}

// Rates fetches each symbol's quote. Symbols without a hash are skipped.
func (r *RedisRates) Rates(ctx context.Context, symbols []string) (carry.RateTable, error) {
	out := make(carry.RateTable, len(symbols))
	for _, sym := range symbols {
		fields, err := r.client.HGetAll(ctx, r.ratesPrefix+sym).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read rates for %s: %w", sym, err)
		}
		if len(fields) == 0 {
			log.Debug().Str("symbol", sym).Msg("No carry rates stored")
			continue
		}

		base, err := parseRate(fields, "base")
		if err != nil {
			return nil, fmt.Errorf("failed to parse rates for %s: %w", sym, err)
		}
		quote, err := parseRate(fields, "quote")
		if err != nil {
			return nil, fmt.Errorf("failed to parse rates for %s: %w", sym, err)
		}

		raw, err := r.client.LRange(ctx, r.diffsPrefix+sym, 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read differential history for %s: %w", sym, err)
		}
		history := make([]float64, 0, len(raw))
		for _, v := range raw {
			d, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("failed to parse differential %q for %s: %w", v, sym, err)
			}
			history = append(history, d)
		}

		out[sym] = carry.RateQuote{BaseRate: base, QuoteRate: quote, History: history}
	}
	return out, nil
}

func parseRate(fields map[string]string, name string) (float64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("missing %s field", name)
	}
	return strconv.ParseFloat(v, 64)
}
