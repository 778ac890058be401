package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tickrace/price-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis cache.
// Market writes go to the primary store and refresh the cache; market reads
// check Redis first then fall back to the primary.
//
// Last prices are written to both. They live in a hash at "price:{symbol}"
// with fields "price" and "ts" (unix nanoseconds) and are read from Redis
// first, since the feed updates them several times a second.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
	logger  *slog.Logger
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "cached_store")),
	}
}

var _ Store = (*CachedStore)(nil)

// --- Write-through ---

func (s *CachedStore) UpsertMarket(ctx context.Context, m *model.Market) error {
	if err := s.primary.UpsertMarket(ctx, m); err != nil {
		return err
	}
	// Invalidate; the next read re-populates with the stored created_at.
	s.rdb.Del(ctx, marketKey(m.Symbol), marketsKey)
	return nil
}

func (s *CachedStore) SetLastPrice(ctx context.Context, symbol string, price float64, at time.Time) error {
	if err := s.primary.SetLastPrice(ctx, symbol, price, at); err != nil {
		return err
	}
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(at.UnixNano(), 10),
	}
	if err := s.rdb.HSet(ctx, priceKey(symbol), fields).Err(); err != nil {
		s.logger.Warn("cache last price failed", "market", symbol, "err", err)
	}
	return nil
}

// --- Read-through ---

func (s *CachedStore) GetMarket(ctx context.Context, symbol string) (*model.Market, error) {
	data, err := s.rdb.Get(ctx, marketKey(symbol)).Bytes()
	if err == nil {
		var m model.Market
		if json.Unmarshal(data, &m) == nil {
			return &m, nil
		}
	}

	// Cache miss: read from primary.
	m, err := s.primary.GetMarket(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(m); err == nil {
		s.rdb.Set(ctx, marketKey(symbol), data, s.ttl)
	}
	return m, nil
}

func (s *CachedStore) ListMarkets(ctx context.Context) ([]model.Market, error) {
	data, err := s.rdb.Get(ctx, marketsKey).Bytes()
	if err == nil {
		var markets []model.Market
		if json.Unmarshal(data, &markets) == nil {
			return markets, nil
		}
	}

	markets, err := s.primary.ListMarkets(ctx)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(markets); err == nil {
		s.rdb.Set(ctx, marketsKey, data, s.ttl)
	}
	return markets, nil
}

func (s *CachedStore) LastPrice(ctx context.Context, symbol string) (*model.LastPrice, error) {
	vals, err := s.rdb.HGetAll(ctx, priceKey(symbol)).Result()
	if err == nil {
		if p, ok := parsePriceHash(symbol, vals); ok {
			return p, nil
		}
	}
	return s.primary.LastPrice(ctx, symbol)
}

// --- Cache helpers ---

func parsePriceHash(symbol string, vals map[string]string) (*model.LastPrice, bool) {
	priceStr, ok := vals["price"]
	if !ok {
		return nil, false
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return nil, false
	}
	tsStr, ok := vals["ts"]
	if !ok {
		return nil, false
	}
	ts, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return nil, false
	}
	return &model.LastPrice{Market: symbol, Price: price, UpdatedAt: time.Unix(0, ts).UTC()}, true
}

const marketsKey = "markets:all"

func marketKey(symbol string) string { return fmt.Sprintf("market:%s", symbol) }
func priceKey(symbol string) string  { return fmt.Sprintf("price:%s", symbol) }
