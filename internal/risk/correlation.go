package risk

import (
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/signals"
)

// CorrelationRisk summarises pairwise correlation across a symbol set
type CorrelationRisk struct {
	AverageCorrelation   float64    `json:"average_correlation"`
	MaxCorrelation       float64    `json:"max_correlation"`
	Clusters             [][]string `json:"clusters"`
	DiversificationScore float64    `json:"diversification_score"`
}

// CorrelationRisk measures average and maximum absolute correlation and groups
// highly correlated symbols. Symbols are sorted first so clustering is
// reproducible.
func (b *Budgeter) CorrelationRisk(symbols []string) CorrelationRisk {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	sorted = dedupe(sorted)

	if len(sorted) < 2 {
		return CorrelationRisk{Clusters: [][]string{}, DiversificationScore: 1.0}
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	sum, count, maxCorr := 0.0, 0, 0.0
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			c := math.Abs(b.correlation(sorted[i], sorted[j]))
			sum += c
			count++
			if c > maxCorr {
				maxCorr = c
			}
		}
	}
	avg := sum / float64(count)

	out := CorrelationRisk{
		AverageCorrelation: avg,
		MaxCorrelation:     maxCorr,
		Clusters:           b.clusters(sorted),
	}
	if avg <= 0.95 {
		out.DiversificationScore = 1 - avg
	}
	return out
}

// clusters greedily groups each symbol with the unclustered symbols it is
// highly correlated with. A group overlapping an earlier one is dropped.
func (b *Budgeter) clusters(symbols []string) [][]string {
	clustered := make(map[string]bool)
	out := [][]string{}

	for i, si := range symbols {
		cluster := []string{si}
		members := map[string]bool{si: true}
		for j, sj := range symbols {
			if i == j || clustered[sj] || members[sj] {
				continue
			}
			if math.Abs(b.correlation(si, sj)) > b.config.ClusterThreshold {
				cluster = append(cluster, sj)
				members[sj] = true
			}
		}
		if len(cluster) < 2 {
			continue
		}
		overlaps := false
		for _, s := range cluster {
			if clustered[s] {
				overlaps = true
				break
			}
		}
		if overlaps {
			continue
		}
		for _, s := range cluster {
			clustered[s] = true
		}
		out = append(out, cluster)
	}
	return out
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// CorrelationMatrixFromPrices estimates pairwise Pearson correlation of log
// returns aligned by timestamp. Pairs with fewer than minSamples common
// returns, or with a flat leg, are left out.
func CorrelationMatrixFromPrices(histories map[string][]signals.PricePoint, minSamples int) []Correlation {
	symbols := make([]string, 0, len(histories))
	returns := make(map[string]map[int64]float64, len(histories))
	for s, h := range histories {
		symbols = append(symbols, s)
		returns[s] = logReturnsByTime(h)
	}
	sort.Strings(symbols)

	var out []Correlation
	for i := range symbols {
		for j := i + 1; j < len(symbols); j++ {
			a, b := alignReturns(returns[symbols[i]], returns[symbols[j]])
			if len(a) < minSamples {
				log.Debug().
					Str("a", symbols[i]).
					Str("b", symbols[j]).
					Int("samples", len(a)).
					Msg("Too few overlapping returns for correlation")
				continue
			}
			rho, ok := pearson(a, b)
			if !ok {
				continue
			}
			out = append(out, Correlation{A: symbols[i], B: symbols[j], Value: rho})
		}
	}
	return out
}

// UpdateFromPrices refreshes the matrix from price histories and replaces the
// volatility table with vols. Existing correlations for pairs without enough
// data are kept.
func (b *Budgeter) UpdateFromPrices(histories map[string][]signals.PricePoint, vols map[string]float64) error {
	in := b.Snapshot()
	merged := make(map[pair]float64, len(in.Correlations))
	for _, c := range in.Correlations {
		merged[key(c.A, c.B)] = c.Value
	}
	for _, c := range CorrelationMatrixFromPrices(histories, b.config.MinCorrelationSamples) {
		merged[key(c.A, c.B)] = c.Value
	}

	next := Inputs{Volatilities: vols}
	for k, v := range merged {
		next.Correlations = append(next.Correlations, Correlation{A: k.a, B: k.b, Value: v})
	}
	return b.Restore(next)
}

func logReturnsByTime(h []signals.PricePoint) map[int64]float64 {
	out := make(map[int64]float64, len(h))
	for i := 1; i < len(h); i++ {
		prev, cur := h[i-1].Price, h[i].Price
		if prev <= 0 || cur <= 0 {
			continue
		}
		out[h[i].Timestamp.UnixNano()] = math.Log(cur / prev)
	}
	return out
}

func alignReturns(a, b map[int64]float64) ([]float64, []float64) {
	keys := make([]int64, 0, len(a))
	for t := range a {
		if _, ok := b[t]; ok {
			keys = append(keys, t)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	xs := make([]float64, len(keys))
	ys := make([]float64, len(keys))
	for i, t := range keys {
		xs[i], ys[i] = a[t], b[t]
	}
	return xs, ys
}

func pearson(a, b []float64) (float64, bool) {
	n := len(a)
	if n == 0 || n != len(b) {
		return 0, false
	}
	ma, mb := signals.Mean(a), signals.Mean(b)
	var num, da, db float64
	for i := 0; i < n; i++ {
		x, y := a[i]-ma, b[i]-mb
		num += x * y
		da += x * x
		db += y * y
	}
	den := math.Sqrt(da * db)
	if den == 0 {
		return 0, false
	}
	return signals.Clamp(num/den, -1, 1), true
}

// AverageCorrelations returns, for each symbol, the mean of its correlation
// row across symbols including its own diagonal entry of 1
func (b *Budgeter) AverageCorrelations(symbols []string) map[string]float64 {
	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	sorted = dedupe(sorted)

	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]float64, len(sorted))
	for _, si := range sorted {
		sum := 0.0
		for _, sj := range sorted {
			sum += b.correlation(si, sj)
		}
		out[si] = sum / float64(len(sorted))
	}
	return out
}
