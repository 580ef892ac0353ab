package marketdata

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-redis/redismock/v9"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/carverrun/internal/signals"
	"github.com/sawpanic/carverrun/internal/signals/carry"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func day(i int) time.Time { return t0.AddDate(0, 0, i) }

func TestNormalize(t *testing.T) {
	got := Normalize([]signals.PricePoint{
		{Timestamp: day(2), Price: 102},
		{Timestamp: day(0), Price: 100},
		{Timestamp: day(1), Price: 0},
		{Timestamp: day(1), Price: 101},
		{Timestamp: day(2), Price: 103},
	})
	require.Len(t, got, 3)
	assert.Equal(t, []float64{100, 101, 103}, signals.Prices(got), "last write wins for a duplicated timestamp")
}

func TestMemoryProvider(t *testing.T) {
	m := NewMemory(3)
	m.Append("AAPL", []signals.PricePoint{{Timestamp: day(1), Price: 101}, {Timestamp: day(0), Price: 100}}, 5e6)
	m.Append("AAPL", []signals.PricePoint{{Timestamp: day(2), Price: 102}, {Timestamp: day(3), Price: 103}}, 6e6)

	snap, err := m.Snapshot(context.Background(), []string{"AAPL", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, snap.Symbols())

	s := snap.Series["AAPL"]
	assert.Equal(t, []float64{101, 102, 103}, signals.Prices(s.History))
	assert.Equal(t, 103.0, s.Price)
	assert.Equal(t, 6e6, s.DailyVolume)

	s.History[0].Price = -1
	again, err := m.Snapshot(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 101.0, again.Series["AAPL"].History[0].Price, "snapshots are copies")

	_, err = m.Snapshot(context.Background(), []string{"MISSING"})
	assert.ErrorIs(t, err, ErrNoData)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Snapshot(ctx, []string{"AAPL"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemoryLoad(t *testing.T) {
	m := NewMemory(0)
	err := m.Load(strings.NewReader(`[
		{"symbol": "ES", "daily_volume": 2.5e11, "history": [
			{"ts": "2024-01-03T00:00:00Z", "price": 4710.5},
			{"ts": "2024-01-02T00:00:00Z", "price": 4700}
		]}
	]`))
	require.NoError(t, err)

	snap, err := m.Snapshot(context.Background(), []string{"ES"})
	require.NoError(t, err)
	assert.Equal(t, []float64{4700, 4710.5}, signals.Prices(snap.Series["ES"].History))
	assert.Equal(t, 4710.5, snap.Series["ES"].Price)
	assert.Equal(t, 2.5e11, snap.Series["ES"].DailyVolume)

	assert.ErrorContains(t, m.Load(strings.NewReader(`{"not": "an array"}`)), "failed to decode price file")
	assert.ErrorContains(t, m.Load(strings.NewReader(`[{"history": []}]`)), "has no symbol")
}

func newMockPostgres(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	cfg := DefaultPostgresConfig()
	cfg.Lookback = 50
	cfg.QueryTimeout = 5 * time.Second
	return NewPostgres(sqlx.NewDb(mockDB, "postgres"), cfg), mock
}

func TestPostgresSnapshot(t *testing.T) {
	p, mock := newMockPostgres(t)

	rows := sqlmock.NewRows([]string{"symbol", "ts", "price", "volume"}).
		AddRow("AAPL", day(0), 100.0, 1000.0).
		AddRow("AAPL", day(1), 101.0, 2000.0).
		AddRow("ES", day(0), 4200.0, 10.0).
		AddRow("ES", day(0), 4210.0, 12.0)
	mock.ExpectQuery(regexp.QuoteMeta("FROM price_bars")).
		WithArgs(sqlmock.AnyArg(), 50).
		WillReturnRows(rows)

	snap, err := p.Snapshot(context.Background(), []string{"AAPL", "ES"})
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "ES"}, snap.Symbols())

	aapl := snap.Series["AAPL"]
	assert.Equal(t, []float64{100, 101}, signals.Prices(aapl.History))
	assert.Equal(t, 101.0, aapl.Price)
	assert.Equal(t, 101.0*2000, aapl.DailyVolume)

	es := snap.Series["ES"]
	require.Len(t, es.History, 1, "duplicate timestamps collapse")
	assert.Equal(t, 4210.0, es.Price)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotEmpty(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM price_bars")).
		WillReturnRows(sqlmock.NewRows([]string{"symbol", "ts", "price", "volume"}))

	_, err := p.Snapshot(context.Background(), []string{"AAPL"})
	assert.ErrorIs(t, err, ErrNoData)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSnapshotQueryError(t *testing.T) {
	p, mock := newMockPostgres(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM price_bars")).
		WillReturnError(&pq.Error{Code: "42P01", Table: "price_bars", Message: "relation does not exist"})

	_, err := p.Snapshot(context.Background(), []string{"AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to query price bars")

	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPing(t *testing.T) {
	mockDB, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer mockDB.Close()

	p := NewPostgres(sqlx.NewDb(mockDB, "postgres"), PostgresConfig{})
	mock.ExpectPing()
	assert.NoError(t, p.Ping(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOpenPostgresRequiresDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), PostgresConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DSN is required")
}

type providerFunc func(ctx context.Context, symbols []string) (*Snapshot, error)

func (f providerFunc) Snapshot(ctx context.Context, symbols []string) (*Snapshot, error) {
	return f(ctx, symbols)
}

func TestGuardedTripsAfterConsecutiveFailures(t *testing.T) {
	calls := 0
	down := providerFunc(func(context.Context, []string) (*Snapshot, error) {
		calls++
		return nil, errors.New("connection refused")
	})

	g := NewGuarded(down, BreakerConfig{ConsecutiveFailures: 2, Timeout: time.Minute}, LimitConfig{})

	for i := 0; i < 2; i++ {
		_, err := g.Snapshot(context.Background(), []string{"AAPL"})
		assert.EqualError(t, err, "connection refused")
	}
	assert.Equal(t, gobreaker.StateOpen, g.State())

	_, err := g.Snapshot(context.Background(), []string{"AAPL"})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, 2, calls, "open circuit does not reach the provider")
}

func TestGuardedNoDataIsNotAFailure(t *testing.T) {
	empty := providerFunc(func(context.Context, []string) (*Snapshot, error) {
		return nil, ErrNoData
	})
	g := NewGuarded(empty, BreakerConfig{ConsecutiveFailures: 2}, LimitConfig{})

	for i := 0; i < 5; i++ {
		_, err := g.Snapshot(context.Background(), []string{"AAPL"})
		assert.ErrorIs(t, err, ErrNoData)
	}
	assert.Equal(t, gobreaker.StateClosed, g.State())
}

func TestGuardedPassesThroughAndRateLimits(t *testing.T) {
	m := NewMemory(0)
	m.Append("AAPL", []signals.PricePoint{{Timestamp: day(0), Price: 100}}, 0)

	g := NewGuarded(m, DefaultBreakerConfig(), LimitConfig{RPS: 0.001, Burst: 1})

	snap, err := g.Snapshot(context.Background(), []string{"AAPL"})
	require.NoError(t, err)
	assert.Equal(t, 100.0, snap.Series["AAPL"].Price)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = g.Snapshot(ctx, []string{"AAPL"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limiter wait")
}

func TestStaticRates(t *testing.T) {
	src := StaticRates{"EURUSD": {BaseRate: 4.5, QuoteRate: 5.25}}
	got, err := src.Rates(context.Background(), []string{"EURUSD", "AAPL"})
	require.NoError(t, err)
	assert.Equal(t, carry.RateTable{"EURUSD": {BaseRate: 4.5, QuoteRate: 5.25}}, got)
}

func TestRedisRates(t *testing.T) {
	client, mock := redismock.NewClientMock()
	src := NewRedisRates(client, "", "")

	mock.ExpectHGetAll("carry:rates:AUDJPY").SetVal(map[string]string{"base": "4.35", "quote": "0.10"})
	mock.ExpectLRange("carry:diffs:AUDJPY", 0, -1).SetVal([]string{"3.9", "4.1", "4.25"})
	mock.ExpectHGetAll("carry:rates:AAPL").SetVal(map[string]string{})

	got, err := src.Rates(context.Background(), []string{"AUDJPY", "AAPL"})
	require.NoError(t, err)
	require.Len(t, got, 1)

	q := got["AUDJPY"]
	assert.Equal(t, 4.35, q.BaseRate)
	assert.Equal(t, 0.10, q.QuoteRate)
	assert.Equal(t, []float64{3.9, 4.1, 4.25}, q.History)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisRatesErrors(t *testing.T) {
	client, mock := redismock.NewClientMock()
	src := NewRedisRates(client, "fx:", "fxd:")

	mock.ExpectHGetAll("fx:EURUSD").SetVal(map[string]string{"base": "abc", "quote": "1"})
	_, err := src.Rates(context.Background(), []string{"EURUSD"})
	assert.ErrorContains(t, err, "failed to parse rates for EURUSD")

	mock.ExpectHGetAll("fx:EURUSD").SetVal(map[string]string{"base": "4"})
	_, err = src.Rates(context.Background(), []string{"EURUSD"})
	assert.ErrorContains(t, err, "missing quote field")

	mock.ExpectHGetAll("fx:EURUSD").SetErr(errors.New("READONLY"))
	_, err = src.Rates(context.Background(), []string{"EURUSD"})
	assert.ErrorContains(t, err, "failed to read rates for EURUSD")

	assert.NoError(t, mock.ExpectationsWereMet())
}
