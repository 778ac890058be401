// Package game wires the animation engine, the wager ledger and the price
// feed into one player session, and exposes it over HTTP and WebSocket.
package game

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/animation"
	"github.com/tickrace/price-engine/internal/feed"
	"github.com/tickrace/price-engine/internal/format"
	"github.com/tickrace/price-engine/internal/ledger"
	"github.com/tickrace/price-engine/internal/limits"
	"github.com/tickrace/price-engine/internal/market"
	"github.com/tickrace/price-engine/internal/metrics"
	"github.com/tickrace/price-engine/internal/model"
	"github.com/tickrace/price-engine/internal/scheduler"
	"github.com/tickrace/price-engine/internal/store"
)

var (
	// ErrNoPrice is returned when a wager is placed before any price is shown.
	ErrNoPrice = errors.New("game: no display price available")

	ErrAlreadyStarted = errors.New("game: session already started")
)

// storeTimeout bounds every store call made on the session's behalf.
const storeTimeout = 2 * time.Second

// BetConfig is the stake, leverage and timer applied to the next wager.
type BetConfig struct {
	Amount   decimal.Decimal
	Leverage int
	Duration time.Duration
}

// DefaultBetConfig returns 100 at 10x for 10 seconds.
func DefaultBetConfig() BetConfig {
	return BetConfig{
		Amount:   decimal.NewFromInt(100),
		Leverage: 10,
		Duration: 10 * time.Second,
	}
}

// Notifier is told about every placed and every settled wager.
type Notifier interface {
	WagerPlaced(w model.Wager)
	WagerSettled(w model.Wager)
}

// Config holds the session settings.
type Config struct {
	DefaultMarket string
	DefaultBet    BetConfig
	Limits        limits.WagerLimits
	FrameInterval time.Duration
	SweepInterval time.Duration
}

// Deps are the collaborators a session coordinates.
type Deps struct {
	Engine    *animation.Engine
	Ledger    *ledger.Ledger
	Scheduler *scheduler.Scheduler
	Store     store.Store
	Registry  *market.Registry
	Notifier  Notifier // optional
	Logger    *slog.Logger
	Clock     func() time.Time // optional, defaults to time.Now
}

// Session serialises price ingestion, frames, sweeps and player actions on
// one mutex so none of them observe another half-applied.
type Session struct {
	mu       sync.Mutex
	cfg      Config
	engine   *animation.Engine
	ledger   *ledger.Ledger
	sched    *scheduler.Scheduler
	store    store.Store
	registry *market.Registry
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	bet     BetConfig
	lastRaw map[string]float64
	// lastShown is the display price a market had when it stopped being
	// animated. Wagers on it settle there until a raw price arrives.
	lastShown map[string]float64
	tokens    []*scheduler.Token
}

// NewSession validates cfg and creates a session. Call Start to select the
// default market and begin animating.
func NewSession(cfg Config, deps Deps) (*Session, error) {
	if deps.Engine == nil || deps.Ledger == nil || deps.Scheduler == nil || deps.Store == nil || deps.Registry == nil {
		return nil, errors.New("game: engine, ledger, scheduler, store and registry are required")
	}
	if err := cfg.Limits.Check(cfg.DefaultBet.Amount, cfg.DefaultBet.Leverage, cfg.DefaultBet.Duration); err != nil {
		return nil, fmt.Errorf("game: default bet: %w", err)
	}
	if cfg.FrameInterval <= 0 {
		cfg.FrameInterval = deps.Engine.Config().FrameInterval
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = 100 * time.Millisecond
	}
	if cfg.DefaultMarket == "" {
		cfg.DefaultMarket = market.DefaultMarket
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Session{
		cfg:      cfg,
		engine:   deps.Engine,
		ledger:   deps.Ledger,
		sched:    deps.Scheduler,
		store:    deps.Store,
		registry: deps.Registry,
		notifier: deps.Notifier,
		logger:   logger.With(slog.String("component", "session")),
		now:      clock,
		bet:       cfg.DefaultBet,
		lastRaw:   make(map[string]float64),
		lastShown: make(map[string]float64),
	}, nil
}

// Start selects the default market and subscribes the frame and sweep loops
// to the scheduler.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	started := len(s.tokens) > 0
	s.mu.Unlock()
	if started {
		return ErrAlreadyStarted
	}

	if _, err := s.SwitchMarket(ctx, s.cfg.DefaultMarket); err != nil {
		return err
	}

	frame, err := s.sched.Every("frame", s.cfg.FrameInterval, func(now time.Time) {
		if _, err := s.Frame(now); err != nil {
			s.logger.Warn("frame failed", "err", err)
		}
	})
	if err != nil {
		return err
	}
	sweep, err := s.sched.Every("sweep", s.cfg.SweepInterval, func(now time.Time) {
		s.Sweep(now)
	})
	if err != nil {
		frame.Cancel()
		return err
	}

	s.mu.Lock()
	s.tokens = append(s.tokens, frame, sweep)
	s.mu.Unlock()

	s.logger.Info("session started",
		"market", s.cfg.DefaultMarket,
		"frame_interval", s.cfg.FrameInterval,
		"sweep_interval", s.cfg.SweepInterval,
	)
	return nil
}

// Close cancels the frame and sweep subscriptions. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	tokens := s.tokens
	s.tokens = nil
	s.mu.Unlock()

	for _, t := range tokens {
		t.Cancel()
	}
	if len(tokens) > 0 {
		s.logger.Info("session closed")
	}
}

// Ingest applies one validated feed sample: it is queued for the engine when
// it belongs to the animated market, remembered as the market's last raw
// price and persisted to the store. Wagers on other markets are settled
// against it straight away.
func (s *Session) Ingest(sample feed.Sample) error {
	s.mu.Lock()
	s.lastRaw[sample.Market] = sample.Price
	animated := s.engine.Market()
	var err error
	if sample.Market == animated {
		err = s.engine.Enqueue(sample.Market, sample.Price)
	} else {
		s.settleLocked(sample.Market, sample.Price, s.now())
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := s.store.SetLastPrice(ctx, sample.Market, sample.Price, sample.Timestamp); err != nil {
		s.logger.Warn("store last price failed", "market", sample.Market, "err", err)
	}
	return nil
}

// Frame advances the animation by one frame.
func (s *Session) Frame(now time.Time) (animation.FrameResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := time.Now()
	res, err := s.engine.Frame(now)
	metrics.FrameDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		return res, err
	}

	rendered := "false"
	if res.Rendered {
		rendered = "true"
	}
	metrics.FramesTotal.WithLabelValues(res.Market, rendered).Inc()
	metrics.DisplayPrice.WithLabelValues(res.Market).Set(res.Display)
	return res, nil
}

// Sweep settles every due wager. Wagers on the animated market settle at the
// display price; wagers on other markets settle at their last raw price, or
// at the display price they were left at when no raw price has arrived.
func (s *Session) Sweep(now time.Time) []model.Wager {
	s.mu.Lock()
	defer s.mu.Unlock()

	var settled []model.Wager
	for _, m := range s.ledger.ActiveMarkets() {
		price, ok := s.settlementPriceLocked(m)
		if !ok {
			continue
		}
		settled = append(settled, s.settleLocked(m, price, now)...)
	}
	return settled
}

func (s *Session) settlementPriceLocked(m string) (float64, bool) {
	if m == s.engine.Market() {
		return s.engine.DisplayPrice()
	}
	if p, ok := s.lastRaw[m]; ok {
		return p, true
	}
	p, ok := s.lastShown[m]
	return p, ok
}

// settleLocked settles market at price and publishes the results. Caller
// holds s.mu.
func (s *Session) settleLocked(m string, price float64, now time.Time) []model.Wager {
	settled := s.ledger.SettleDue(m, price, now)
	if len(settled) == 0 {
		return nil
	}
	for _, w := range settled {
		metrics.WagersSettled.WithLabelValues(w.Market, string(w.Result)).Inc()
		if s.notifier != nil {
			s.notifier.WagerSettled(w)
		}
	}
	s.updateLedgerGauges()
	return settled
}

func (s *Session) updateLedgerGauges() {
	snap := s.ledger.Snapshot()
	metrics.ActiveWagers.Set(float64(len(snap.ActiveWagers)))
	metrics.Balance.Set(snap.Balance.InexactFloat64())
}

// PlaceWager opens a wager on the animated market at the current display
// price using the current bet configuration.
func (s *Session) PlaceWager(dir model.Direction) (model.Wager, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.engine.Market()
	price, ok := s.engine.DisplayPrice()
	if !ok {
		return model.Wager{}, ErrNoPrice
	}

	bet := s.bet
	if err := s.cfg.Limits.Check(bet.Amount, bet.Leverage, bet.Duration); err != nil {
		metrics.WagersPlaced.WithLabelValues(m, string(dir), "rejected").Inc()
		return model.Wager{}, err
	}

	w, err := s.ledger.Place(ledger.PlaceRequest{
		Market:     m,
		Direction:  dir,
		Amount:     bet.Amount,
		Leverage:   bet.Leverage,
		Duration:   bet.Duration,
		EntryPrice: price,
	})
	if err != nil {
		metrics.WagersPlaced.WithLabelValues(m, string(dir), "rejected").Inc()
		return model.Wager{}, err
	}

	metrics.WagersPlaced.WithLabelValues(m, string(dir), "accepted").Inc()
	s.updateLedgerGauges()
	if s.notifier != nil {
		s.notifier.WagerPlaced(w)
	}
	return w, nil
}

// SetBetConfig replaces the bet configuration after checking it against the
// wager limits.
func (s *Session) SetBetConfig(b BetConfig) error {
	if err := s.cfg.Limits.Check(b.Amount, b.Leverage, b.Duration); err != nil {
		return err
	}
	s.mu.Lock()
	s.bet = b
	s.mu.Unlock()
	return nil
}

// BetConfig returns the current bet configuration.
func (s *Session) BetConfig() BetConfig {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bet
}

// Limits returns the wager limits the session enforces.
func (s *Session) Limits() limits.WagerLimits {
	return s.cfg.Limits
}

// SwitchMarket resets the animation to raw. The new line is seeded from the
// market's last stored price, falling back to its base price.
func (s *Session) SwitchMarket(ctx context.Context, raw string) (model.Market, error) {
	m, err := s.registry.Get(raw)
	if err != nil {
		return model.Market{}, err
	}

	seed, source := m.BasePrice, "base"
	sctx, cancel := context.WithTimeout(ctx, storeTimeout)
	lp, err := s.store.LastPrice(sctx, m.Symbol)
	cancel()
	switch {
	case err == nil && lp.Price > 0:
		seed, source = lp.Price, "store"
	case err != nil && !errors.Is(err, store.ErrNotFound):
		s.logger.Warn("store last price lookup failed", "market", m.Symbol, "err", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.engine.Market()
	shown, ok := s.engine.DisplayPrice()
	if err := s.engine.Switch(m.Symbol, seed, s.now()); err != nil {
		return model.Market{}, err
	}
	if ok && prev != m.Symbol {
		s.lastShown[prev] = shown
	}
	s.logger.Info("market selected", "market", m.Symbol, "seed", seed, "seed_source", source)
	return m, nil
}

// Market returns the animated market.
func (s *Session) Market() string {
	return s.engine.Market()
}

// PriceView is the current price of the animated market.
type PriceView struct {
	Market    string  `json:"market"`
	Display   float64 `json:"display"`
	Target    float64 `json:"target"`
	Formatted string  `json:"formatted"`
	Precision int     `json:"precision"`
	Phase     string  `json:"phase"`
}

// Price returns the display and target price of the animated market.
func (s *Session) Price() (PriceView, error) {
	st := s.engine.Snapshot()
	if st.Market == "" {
		return PriceView{}, ErrNoPrice
	}
	return PriceView{
		Market:    st.Market,
		Display:   st.Display,
		Target:    st.Target,
		Formatted: format.Price(st.Display),
		Precision: format.Precision(st.Display),
		Phase:     string(st.Phase),
	}, nil
}

// Curve returns the smoothed curve of the animated market.
func (s *Session) Curve() []model.PriceSample {
	return s.engine.Curve()
}

// LastRawPrice returns the last feed price seen for market.
func (s *Session) LastRawPrice(m string) (float64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.lastRaw[m]
	return p, ok
}

// Ledger returns a snapshot of balance, active wagers and history.
func (s *Session) Ledger() model.PlayerLedger {
	return s.ledger.Snapshot()
}
