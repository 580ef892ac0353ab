package metrics

import (
	"context"
	"errors"

	"github.com/sony/gobreaker"

	"github.com/sawpanic/carverrun/internal/marketdata"
)

func errorType(err error) string {
	switch {
	case err == nil:
		return "none"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, marketdata.ErrNoData):
		return "no_data"
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return "breaker_open"
	default:
		return "error"
	}
}

// BreakerStateValue maps a breaker state onto the breaker_state gauge
func BreakerStateValue(s gobreaker.State) int {
	switch s {
	case gobreaker.StateHalfOpen:
		return 1
	case gobreaker.StateOpen:
		return 2
	default:
		return 0
	}
}
