// Package feed brings raw prices into the engine. Sources produce samples,
// the Adapter validates them and hands accepted samples to a Sink.
package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tickrace/price-engine/internal/market"
	"github.com/tickrace/price-engine/internal/metrics"
)

var (
	ErrInvalidPrice  = errors.New("feed: price must be positive and finite")
	ErrUnknownMarket = errors.New("feed: unknown market")
)

// Sample is one raw price observation.
type Sample struct {
	Market    string    `json:"market"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// Emit receives samples from a Source.
type Emit func(Sample)

// Source produces samples until ctx is cancelled.
type Source interface {
	Name() string
	Run(ctx context.Context, emit Emit) error
}

// Sink consumes validated samples.
type Sink interface {
	Ingest(s Sample) error
}

// MarketSet reports whether a canonical symbol is tradable.
type MarketSet interface {
	Has(symbol string) bool
}

// Adapter fans in every source, drops malformed samples and forwards the
// rest to the sink.
type Adapter struct {
	sink    Sink
	markets MarketSet
	sources []Source
	logger  *slog.Logger
}

// NewAdapter creates an adapter. markets may be nil to accept any symbol.
func NewAdapter(sink Sink, markets MarketSet, logger *slog.Logger, sources ...Source) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{
		sink:    sink,
		markets: markets,
		sources: sources,
		logger:  logger.With(slog.String("component", "feed")),
	}
}

// Validate canonicalises the market symbol and checks the price.
func (a *Adapter) Validate(s Sample) (Sample, error) {
	if math.IsNaN(s.Price) || math.IsInf(s.Price, 0) || s.Price <= 0 {
		return s, fmt.Errorf("%w: %v", ErrInvalidPrice, s.Price)
	}
	sym, err := market.ParseSymbol(s.Market)
	if err != nil {
		return s, fmt.Errorf("%w: %v", ErrUnknownMarket, err)
	}
	if a.markets != nil && !a.markets.Has(sym) {
		return s, fmt.Errorf("%w: %s", ErrUnknownMarket, sym)
	}
	s.Market = sym
	if s.Timestamp.IsZero() {
		s.Timestamp = time.Now()
	}
	return s, nil
}

// Handle validates s and forwards it. Invalid samples are dropped silently
// apart from a debug log line and a metric. It reports whether s was
// accepted by the sink.
func (a *Adapter) Handle(source string, s Sample) bool {
	valid, err := a.Validate(s)
	if err != nil {
		outcome := "invalid_price"
		if errors.Is(err, ErrUnknownMarket) {
			outcome = "unknown_market"
		}
		metrics.SamplesTotal.WithLabelValues(source, outcome).Inc()
		a.logger.Debug("sample dropped", "source", source, "market", s.Market, "price", s.Price, "err", err)
		return false
	}

	if err := a.sink.Ingest(valid); err != nil {
		metrics.SamplesTotal.WithLabelValues(source, "rejected").Inc()
		a.logger.Debug("sample rejected", "source", source, "market", valid.Market, "err", err)
		return false
	}
	metrics.SamplesTotal.WithLabelValues(source, "accepted").Inc()
	return true
}

// Run starts every source and blocks until ctx is cancelled or a source
// fails.
func (a *Adapter) Run(ctx context.Context) error {
	if len(a.sources) == 0 {
		a.logger.Warn("no feed sources configured")
		<-ctx.Done()
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, src := range a.sources {
		src := src
		g.Go(func() error {
			a.logger.Info("feed source started", "source", src.Name())
			err := src.Run(gctx, func(s Sample) { a.Handle(src.Name(), s) })
			if err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("feed: source %s: %w", src.Name(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
