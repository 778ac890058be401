// Package ledger owns the player's balance, the active wagers and the
// settled wager history.
//
// A wager is in exactly one of active or history at any time. Placement
// debits the balance in the same critical section that creates the wager;
// settlement moves the wager to history in the same critical section that
// credits its return, so observers never see one without the other.
package ledger

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/model"
	"github.com/tickrace/price-engine/internal/settlement"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidAmount     = errors.New("ledger: amount must be positive")
	ErrInvalidLeverage   = errors.New("ledger: leverage must be at least 1")
	ErrInvalidDuration   = errors.New("ledger: duration must be positive")
	ErrInvalidDirection  = errors.New("ledger: direction must be UP or DOWN")
	ErrInvalidEntryPrice = errors.New("ledger: entry price must be positive and finite")
	ErrInvalidMarket     = errors.New("ledger: market is required")
)

// PlaceRequest describes a wager to open.
type PlaceRequest struct {
	Market     string
	Direction  model.Direction
	Amount     decimal.Decimal
	Leverage   int
	Duration   time.Duration
	EntryPrice float64
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the clock used to stamp new wagers.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithIDGenerator overrides wager ID generation.
func WithIDGenerator(newID func() string) Option {
	return func(l *Ledger) { l.newID = newID }
}

// WithHistoryLimit keeps at most n settled wagers. Zero keeps all of them.
func WithHistoryLimit(n int) Option {
	return func(l *Ledger) { l.historyLimit = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// Ledger is safe for concurrent use.
type Ledger struct {
	mu      sync.Mutex
	balance decimal.Decimal
	active  []model.Wager
	history []model.Wager // newest first

	historyLimit int
	now          func() time.Time
	newID        func() string
	logger       *slog.Logger
}

// New creates a ledger with a starting balance.
func New(balance decimal.Decimal, opts ...Option) *Ledger {
	l := &Ledger{
		balance: balance,
		now:     time.Now,
		newID:   func() string { return uuid.New().String() },
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = l.logger.With(slog.String("component", "ledger"))
	return l
}

func validate(req PlaceRequest) error {
	switch {
	case req.Market == "":
		return ErrInvalidMarket
	case !req.Direction.Valid():
		return fmt.Errorf("%w: %q", ErrInvalidDirection, req.Direction)
	case !req.Amount.IsPositive():
		return fmt.Errorf("%w: %s", ErrInvalidAmount, req.Amount)
	case req.Leverage < 1:
		return fmt.Errorf("%w: %d", ErrInvalidLeverage, req.Leverage)
	case req.Duration <= 0:
		return fmt.Errorf("%w: %s", ErrInvalidDuration, req.Duration)
	case math.IsNaN(req.EntryPrice) || math.IsInf(req.EntryPrice, 0) || req.EntryPrice <= 0:
		return fmt.Errorf("%w: %v", ErrInvalidEntryPrice, req.EntryPrice)
	}
	return nil
}

// Place opens a wager and debits its amount. On error nothing changes.
func (l *Ledger) Place(req PlaceRequest) (model.Wager, error) {
	if err := validate(req); err != nil {
		return model.Wager{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if req.Amount.GreaterThan(l.balance) {
		return model.Wager{}, fmt.Errorf("%w: amount %s, balance %s", ErrInsufficientFunds, req.Amount, l.balance)
	}

	start := l.now()
	w := model.Wager{
		ID:         l.newID(),
		Market:     req.Market,
		Direction:  req.Direction,
		EntryPrice: req.EntryPrice,
		Amount:     req.Amount,
		Leverage:   req.Leverage,
		StartTime:  start,
		EndTime:    start.Add(req.Duration),
		Result:     model.Pending,
		Payout:     decimal.Zero,
	}

	l.balance = l.balance.Sub(req.Amount)
	l.active = append(l.active, w)

	l.logger.Info("wager placed",
		"id", w.ID,
		"market", w.Market,
		"direction", w.Direction,
		"amount", w.Amount.String(),
		"leverage", w.Leverage,
		"entry_price", w.EntryPrice,
		"ends_at", w.EndTime,
	)
	return w, nil
}

// SettleDue resolves every active wager on market whose timer has elapsed at
// now against price. Returns the wagers settled by this call, in the order
// they were placed. Wagers that are not yet due are left untouched.
//
// An invalid price settles nothing.
func (l *Ledger) SettleDue(market string, price float64, now time.Time) []model.Wager {
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var settled []model.Wager
	remaining := l.active[:0]
	credit := decimal.Zero

	for _, w := range l.active {
		if w.Market != market || !w.Due(now) {
			remaining = append(remaining, w)
			continue
		}

		out := settlement.ResolveWager(w, price)
		outcome := price
		w.OutcomePrice = &outcome
		w.Result = out.Result
		w.Payout = out.Payout
		credit = credit.Add(out.Return(w.Amount))
		settled = append(settled, w)
	}

	if len(settled) == 0 {
		return nil
	}

	// Clear the tail so settled wagers are not retained by the backing array.
	for i := len(remaining); i < len(l.active); i++ {
		l.active[i] = model.Wager{}
	}
	l.active = remaining
	l.balance = l.balance.Add(credit)

	history := make([]model.Wager, 0, len(settled)+len(l.history))
	for i := len(settled) - 1; i >= 0; i-- {
		history = append(history, settled[i])
	}
	history = append(history, l.history...)
	if l.historyLimit > 0 && len(history) > l.historyLimit {
		history = history[:l.historyLimit]
	}
	l.history = history

	for _, w := range settled {
		l.logger.Info("wager settled",
			"id", w.ID,
			"market", w.Market,
			"result", w.Result,
			"entry_price", w.EntryPrice,
			"outcome_price", price,
			"payout", w.Payout.String(),
		)
	}
	return settled
}

// ActiveMarkets returns the distinct markets with pending wagers.
func (l *Ledger) ActiveMarkets() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool)
	var out []string
	for _, w := range l.active {
		if !seen[w.Market] {
			seen[w.Market] = true
			out = append(out, w.Market)
		}
	}
	return out
}

// Balance returns the spendable balance.
func (l *Ledger) Balance() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance
}

// Active returns a copy of the pending wagers in placement order.
func (l *Ledger) Active() []model.Wager {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Wager{}, l.active...)
}

// History returns a copy of settled wagers, newest first.
func (l *Ledger) History() []model.Wager {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Wager{}, l.history...)
}

// Snapshot returns balance, active wagers and history read together.
func (l *Ledger) Snapshot() model.PlayerLedger {
	l.mu.Lock()
	defer l.mu.Unlock()
	return model.PlayerLedger{
		Balance:      l.balance,
		ActiveWagers: append([]model.Wager{}, l.active...),
		History:      append([]model.Wager{}, l.history...),
	}
}
