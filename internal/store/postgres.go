package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tickrace/price-engine/internal/model"
)

// schema is applied by Migrate. Prices are NUMERIC so the catalog keeps the
// exact value the feed reported.
const schema = `
CREATE TABLE IF NOT EXISTS markets (
	symbol     TEXT PRIMARY KEY,
	name       TEXT NOT NULL DEFAULT '',
	base_price NUMERIC NOT NULL CHECK (base_price > 0),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS market_prices (
	market     TEXT PRIMARY KEY REFERENCES markets(symbol),
	price      NUMERIC NOT NULL CHECK (price > 0),
	updated_at TIMESTAMPTZ NOT NULL
);`

// OpenPool connects to PostgreSQL and verifies the connection.
func OpenPool(ctx context.Context, url string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// PostgresStore implements Store using PostgreSQL as the source of truth.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

var _ Store = (*PostgresStore)(nil)

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO markets (symbol, name, base_price, created_at)
		 VALUES ($1, $2, $3::NUMERIC, $4)
		 ON CONFLICT (symbol) DO UPDATE
		 SET name = EXCLUDED.name, base_price = EXCLUDED.base_price`,
		m.Symbol, m.Name, formatNumeric(m.BasePrice), createdAt,
	)
	if err != nil {
		return fmt.Errorf("upsert market %s: %w", m.Symbol, err)
	}
	return nil
}

func (s *PostgresStore) GetMarket(ctx context.Context, symbol string) (*model.Market, error) {
	var m model.Market
	var basePrice string

	err := s.pool.QueryRow(ctx,
		`SELECT symbol, name, base_price::TEXT, created_at
		 FROM markets WHERE symbol = $1`, symbol).
		Scan(&m.Symbol, &m.Name, &basePrice, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("market %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get market %s: %w", symbol, err)
	}

	if m.BasePrice, err = parseNumeric(basePrice); err != nil {
		return nil, fmt.Errorf("get market %s: %w", symbol, err)
	}
	return &m, nil
}

func (s *PostgresStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, name, base_price::TEXT, created_at
		 FROM markets ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var markets []model.Market
	for rows.Next() {
		var m model.Market
		var basePrice string
		if err := rows.Scan(&m.Symbol, &m.Name, &basePrice, &m.CreatedAt); err != nil {
			return nil, err
		}
		if m.BasePrice, err = parseNumeric(basePrice); err != nil {
			return nil, fmt.Errorf("market %s: %w", m.Symbol, err)
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func (s *PostgresStore) SetLastPrice(ctx context.Context, symbol string, price float64, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_prices (market, price, updated_at)
		 VALUES ($1, $2::NUMERIC, $3)
		 ON CONFLICT (market) DO UPDATE
		 SET price = EXCLUDED.price, updated_at = EXCLUDED.updated_at
		 WHERE market_prices.updated_at <= EXCLUDED.updated_at`,
		symbol, formatNumeric(price), at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("set last price %s: %w", symbol, err)
	}
	return nil
}

func (s *PostgresStore) LastPrice(ctx context.Context, symbol string) (*model.LastPrice, error) {
	var p model.LastPrice
	var price string

	err := s.pool.QueryRow(ctx,
		`SELECT market, price::TEXT, updated_at
		 FROM market_prices WHERE market = $1`, symbol).
		Scan(&p.Market, &price, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("last price %s: %w", symbol, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get last price %s: %w", symbol, err)
	}

	if p.Price, err = parseNumeric(price); err != nil {
		return nil, fmt.Errorf("last price %s: %w", symbol, err)
	}
	return &p, nil
}

func formatNumeric(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseNumeric(s string) (float64, error) {
	return strconv.ParseFloat(s, 64)
}
