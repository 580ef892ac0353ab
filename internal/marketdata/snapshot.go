// Package marketdata supplies price histories and carry rates to the
// decision pipeline. The core packages never import it.
package marketdata

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/sawpanic/carverrun/internal/signals"
)

// ErrNoData is returned when a provider has nothing for any requested symbol
var ErrNoData = errors.New("no market data")

// Series is one symbol's history plus the values the cost model needs
type Series struct {
	Symbol      string               `json:"symbol"`
	History     []signals.PricePoint `json:"history"`
	Price       float64              `json:"price"`
	DailyVolume float64              `json:"daily_volume"` // Notional traded over the last bar
}

// Snapshot is an immutable view of the market for one cycle
type Snapshot struct {
	AsOf   time.Time         `json:"as_of"`
	Series map[string]Series `json:"series"`
}

// Provider fetches a snapshot for the requested symbols. Symbols without data
// are left out; ErrNoData means none had any.
type Provider interface {
	Snapshot(ctx context.Context, symbols []string) (*Snapshot, error)
}

// Symbols returns the symbols in the snapshot in sorted order
func (s *Snapshot) Symbols() []string {
	out := make([]string, 0, len(s.Series))
	for sym := range s.Series {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Histories returns the price history of every symbol
func (s *Snapshot) Histories() map[string][]signals.PricePoint {
	out := make(map[string][]signals.PricePoint, len(s.Series))
	for sym, series := range s.Series {
		out[sym] = series.History
	}
	return out
}

// Normalize sorts a history by time, keeps the last observation for a
// duplicated timestamp and drops non-positive or non-finite prices
func Normalize(points []signals.PricePoint) []signals.PricePoint {
	clean := make([]signals.PricePoint, 0, len(points))
	for _, p := range points {
		if p.Price <= 0 || math.IsNaN(p.Price) || math.IsInf(p.Price, 0) {
			continue
		}
		clean = append(clean, p)
	}
	sort.SliceStable(clean, func(i, j int) bool {
		return clean[i].Timestamp.Before(clean[j].Timestamp)
	})

	out := clean[:0]
	for _, p := range clean {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(p.Timestamp) {
			out[n-1] = p
			continue
		}
		out = append(out, p)
	}
	return out
}

// NewSeries normalizes a history and takes the mark price from its last point
func NewSeries(symbol string, history []signals.PricePoint, dailyVolume float64) Series {
	h := Normalize(history)
	s := Series{Symbol: symbol, History: h, DailyVolume: dailyVolume}
	if len(h) > 0 {
		s.Price = h[len(h)-1].Price
	}
	return s
}
