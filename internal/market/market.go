// Package market handles market symbol parsing and the registry of tradable
// markets with their reference prices.
package market

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/tickrace/price-engine/internal/model"
)

// Default market symbols.
const (
	BTC = "BTC"
	ETH = "ETH"
	SOL = "SOL"
)

// DefaultMarket is selected when a session starts.
const DefaultMarket = SOL

// symbolRegex matches: {BASE}[-/]{QUOTE}? with an optional quote currency.
// Examples: SOL, sol, SOL-USD, BTC/USDT
var symbolRegex = regexp.MustCompile(`^([A-Z0-9]{2,10})(?:[-/](USD|USDT|USDC))?$`)

var (
	ErrInvalidSymbol = errors.New("market: invalid symbol format")
	ErrUnknownMarket = errors.New("market: unknown market")
	ErrInvalidPrice  = errors.New("market: base price must be positive")
)

// ParseSymbol normalises a user-supplied symbol to its base asset.
func ParseSymbol(raw string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(raw))
	matches := symbolRegex.FindStringSubmatch(s)
	if matches == nil {
		return "", fmt.Errorf("%w: %q (expected BASE or BASE-QUOTE)", ErrInvalidSymbol, raw)
	}
	return matches[1], nil
}

// Defaults returns the built-in markets with their reference prices.
func Defaults() []model.Market {
	return []model.Market{
		{Symbol: BTC, Name: "Bitcoin", BasePrice: 95400},
		{Symbol: ETH, Name: "Ethereum", BasePrice: 3250},
		{Symbol: SOL, Name: "Solana", BasePrice: 130.52},
	}
}

// Registry is the set of markets the engine accepts samples and wagers for.
type Registry struct {
	mu      sync.RWMutex
	markets map[string]model.Market
}

// NewRegistry creates a registry seeded with markets.
func NewRegistry(markets ...model.Market) (*Registry, error) {
	r := &Registry{markets: make(map[string]model.Market)}
	for _, m := range markets {
		if err := r.Add(m); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Add registers or replaces a market.
func (r *Registry) Add(m model.Market) error {
	sym, err := ParseSymbol(m.Symbol)
	if err != nil {
		return err
	}
	if !(m.BasePrice > 0) {
		return fmt.Errorf("%w: %s %v", ErrInvalidPrice, sym, m.BasePrice)
	}
	m.Symbol = sym

	r.mu.Lock()
	defer r.mu.Unlock()
	r.markets[sym] = m
	return nil
}

// Get resolves raw to a registered market.
func (r *Registry) Get(raw string) (model.Market, error) {
	sym, err := ParseSymbol(raw)
	if err != nil {
		return model.Market{}, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[sym]
	if !ok {
		return model.Market{}, fmt.Errorf("%w: %s", ErrUnknownMarket, sym)
	}
	return m, nil
}

// Has reports whether sym is registered. sym must already be normalised.
func (r *Registry) Has(sym string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.markets[sym]
	return ok
}

// List returns all markets sorted by symbol.
func (r *Registry) List() []model.Market {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Market, 0, len(r.markets))
	for _, m := range r.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Symbols returns all registered symbols sorted.
func (r *Registry) Symbols() []string {
	list := r.List()
	out := make([]string, len(list))
	for i, m := range list {
		out[i] = m.Symbol
	}
	return out
}
