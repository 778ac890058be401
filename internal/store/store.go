// Package store defines the persistence interface for market reference data.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing and single-process runs).
//
// Only the market catalog and the last raw price per market are stored.
// Wagers and balances live in the ledger.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tickrace/price-engine/internal/model"
)

// ErrNotFound is returned when a market or price is missing.
var ErrNotFound = errors.New("store: not found")

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
type Store interface {
	// --- Market catalog ---

	// UpsertMarket creates or replaces a market.
	UpsertMarket(ctx context.Context, market *model.Market) error

	// GetMarket retrieves a market by symbol.
	GetMarket(ctx context.Context, symbol string) (*model.Market, error)

	// ListMarkets returns all markets ordered by symbol.
	ListMarkets(ctx context.Context) ([]model.Market, error)

	// --- Last prices ---

	// SetLastPrice records the latest raw feed price for a market.
	SetLastPrice(ctx context.Context, symbol string, price float64, at time.Time) error

	// LastPrice returns the latest raw feed price for a market.
	LastPrice(ctx context.Context, symbol string) (*model.LastPrice, error)
}
