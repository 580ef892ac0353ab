package marketdata

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/carverrun/internal/signals"
)

// PostgresConfig holds database connection configuration
type PostgresConfig struct {
	DSN             string        `yaml:"dsn"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	QueryTimeout    time.Duration `yaml:"query_timeout"`
	Lookback        int           `yaml:"lookback"` // Bars per symbol
}

// DefaultPostgresConfig returns pool defaults and a 300 bar lookback
func DefaultPostgresConfig() PostgresConfig {
	return PostgresConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		ConnMaxIdleTime: 5 * time.Minute,
		QueryTimeout:    30 * time.Second,
		Lookback:        300,
	}
}

const selectBars = `
	SELECT symbol, ts, price, volume
	FROM (
		SELECT symbol, ts, price, volume,
			row_number() OVER (PARTITION BY symbol ORDER BY ts DESC) AS rn
		FROM price_bars
		WHERE symbol = ANY($1)
	) recent
	WHERE rn <= $2
	ORDER BY symbol, ts`

type barRow struct {
	Symbol string    `db:"symbol"`
	TS     time.Time `db:"ts"`
	Price  float64   `db:"price"`
	Volume float64   `db:"volume"`
}

// Postgres reads bars from the price_bars table
type Postgres struct {
	db     *sqlx.DB
	config PostgresConfig
	now    func() time.Time
}

// OpenPostgres opens and pings the database
func OpenPostgres(ctx context.Context, config PostgresConfig) (*Postgres, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("database DSN is required")
	}

	db, err := sqlx.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return NewPostgres(db, config), nil
}

// NewPostgres wraps an open connection
func NewPostgres(db *sqlx.DB, config PostgresConfig) *Postgres {
	def := DefaultPostgresConfig()
	if config.QueryTimeout <= 0 {
		config.QueryTimeout = def.QueryTimeout
	}
	if config.Lookback <= 0 {
		config.Lookback = def.Lookback
	}
	return &Postgres{db: db, config: config, now: time.Now}
}

// Snapshot loads the most recent Lookback bars of each symbol
func (p *Postgres) Snapshot(ctx context.Context, symbols []string) (*Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()

	var rows []barRow
	if err := p.db.SelectContext(ctx, &rows, selectBars, pq.Array(symbols), p.config.Lookback); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			log.Warn().
				Str("code", string(pqErr.Code)).
				Str("table", pqErr.Table).
				Msg("Price bar query rejected")
		}
		return nil, fmt.Errorf("failed to query price bars: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoData
	}

	histories := make(map[string][]signals.PricePoint)
	volumes := make(map[string]float64)
	for _, r := range rows {
		histories[r.Symbol] = append(histories[r.Symbol], signals.PricePoint{Timestamp: r.TS, Price: r.Price})
		volumes[r.Symbol] = r.Price * r.Volume
	}

	snap := &Snapshot{AsOf: p.now(), Series: make(map[string]Series, len(histories))}
	for sym, h := range histories {
		snap.Series[sym] = NewSeries(sym, h, volumes[sym])
	}

	log.Debug().
		Int("symbols", len(snap.Series)).
		Int("rows", len(rows)).
		Msg("Loaded price bars")
	return snap, nil
}

// Ping checks connectivity within the query timeout
func (p *Postgres) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.config.QueryTimeout)
	defer cancel()
	return p.db.PingContext(ctx)
}

// Close closes the underlying connection pool
func (p *Postgres) Close() error {
	return p.db.Close()
}
