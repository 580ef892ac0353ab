package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sawpanic/carverrun/internal/signals"
)

// Memory is an in-process provider fed by Append. It backs tests, replays and
// the cycle command.
type Memory struct {
	mu     sync.RWMutex
	series map[string]Series
	limit  int
	now    func() time.Time
}

// NewMemory creates an empty provider that keeps at most limit points per
// symbol. A limit of zero keeps everything.
func NewMemory(limit int) *Memory {
	return &Memory{
		series: make(map[string]Series),
		limit:  limit,
		now:    time.Now,
	}
}

// Append adds observations for a symbol and records the latest daily volume
func (m *Memory) Append(symbol string, points []signals.PricePoint, dailyVolume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.series[symbol]
	merged := make([]signals.PricePoint, 0, len(prev.History)+len(points))
	merged = append(merged, prev.History...)
	merged = append(merged, points...)

	s := NewSeries(symbol, merged, dailyVolume)
	if m.limit > 0 && len(s.History) > m.limit {
		s.History = append([]signals.PricePoint(nil), s.History[len(s.History)-m.limit:]...)
	}
	m.series[symbol] = s
}

// Load appends every series of a JSON array of Series. Only symbol, history
// and daily_volume are read; the mark price always comes from the history.
func (m *Memory) Load(r io.Reader) error {
	var doc []Series
	if err := json.NewDecoder(r).Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode price file: %w", err)
	}
	for i, s := range doc {
		if s.Symbol == "" {
			return fmt.Errorf("failed to load price file: series %d has no symbol", i)
		}
		m.Append(s.Symbol, s.History, s.DailyVolume)
	}
	return nil
}

// Snapshot copies the requested series
func (m *Memory) Snapshot(ctx context.Context, symbols []string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	snap := &Snapshot{AsOf: m.now(), Series: make(map[string]Series, len(symbols))}
	for _, sym := range symbols {
		s, ok := m.series[sym]
		if !ok || len(s.History) == 0 {
			continue
		}
		s.History = append([]signals.PricePoint(nil), s.History...)
		snap.Series[sym] = s
	}
	if len(snap.Series) == 0 {
		return nil, ErrNoData
	}
	return snap, nil
}
