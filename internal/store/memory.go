package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tickrace/price-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu      sync.RWMutex
	markets map[string]*model.Market
	prices  map[string]*model.LastPrice
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		markets: make(map[string]*model.Market),
		prices:  make(map[string]*model.LastPrice),
	}
}

var _ Store = (*MemoryStore)(nil)

func (s *MemoryStore) UpsertMarket(_ context.Context, m *model.Market) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Store a copy to avoid external mutation.
	cp := *m
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	if existing, ok := s.markets[m.Symbol]; ok {
		cp.CreatedAt = existing.CreatedAt
	}
	s.markets[m.Symbol] = &cp
	return nil
}

func (s *MemoryStore) GetMarket(_ context.Context, symbol string) (*model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.markets[symbol]
	if !ok {
		return nil, fmt.Errorf("market %s: %w", symbol, ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (s *MemoryStore) ListMarkets(_ context.Context) ([]model.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	markets := make([]model.Market, 0, len(s.markets))
	for _, m := range s.markets {
		markets = append(markets, *m)
	}
	sort.Slice(markets, func(i, j int) bool { return markets[i].Symbol < markets[j].Symbol })
	return markets, nil
}

func (s *MemoryStore) SetLastPrice(_ context.Context, symbol string, price float64, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices[symbol] = &model.LastPrice{Market: symbol, Price: price, UpdatedAt: at}
	return nil
}

func (s *MemoryStore) LastPrice(_ context.Context, symbol string) (*model.LastPrice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.prices[symbol]
	if !ok {
		return nil, fmt.Errorf("last price %s: %w", symbol, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}
