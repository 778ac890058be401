// Package limits validates wager configuration before it reaches the ledger.
//
// The ledger only enforces what keeps the balance consistent (positive
// amount, enough funds). WagerLimits adds the product rules: which leverage
// levels and timer lengths are offered and how large a single stake may be.
package limits

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInvalidAmount is returned for zero or negative stakes.
	ErrInvalidAmount = errors.New("limits: amount must be positive")

	// ErrAmountOutOfRange is returned when a stake falls outside
	// [MinAmount, MaxAmount].
	ErrAmountOutOfRange = errors.New("limits: amount out of range")

	// ErrInvalidLeverage is returned for leverage levels that are not offered.
	ErrInvalidLeverage = errors.New("limits: unsupported leverage")

	// ErrInvalidDuration is returned for timer lengths that are not offered.
	ErrInvalidDuration = errors.New("limits: unsupported duration")
)

// WagerLimits holds the allowed wager configuration.
type WagerLimits struct {
	// MinAmount and MaxAmount bound a single stake (inclusive).
	// A zero MaxAmount disables the upper bound.
	MinAmount decimal.Decimal
	MaxAmount decimal.Decimal

	// Leverages lists the offered leverage levels. Empty allows any >= 1.
	Leverages []int

	// Durations lists the offered timer lengths. Empty allows any > 0.
	Durations []time.Duration
}

// Default returns the limits used by the game: 5x–100x leverage,
// 10s–60s timers, stakes from 1 to 10000.
func Default() WagerLimits {
	return WagerLimits{
		MinAmount: decimal.NewFromInt(1),
		MaxAmount: decimal.NewFromInt(10000),
		Leverages: []int{5, 10, 20, 50, 100},
		Durations: []time.Duration{
			10 * time.Second,
			15 * time.Second,
			30 * time.Second,
			45 * time.Second,
			60 * time.Second,
		},
	}
}

// Check validates a stake, leverage and duration together.
func (l WagerLimits) Check(amount decimal.Decimal, leverage int, duration time.Duration) error {
	if err := l.CheckAmount(amount); err != nil {
		return err
	}
	if err := l.CheckLeverage(leverage); err != nil {
		return err
	}
	return l.CheckDuration(duration)
}

// CheckAmount validates a stake.
func (l WagerLimits) CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	if amount.LessThan(l.MinAmount) {
		return fmt.Errorf("%w: %s below minimum %s", ErrAmountOutOfRange, amount, l.MinAmount)
	}
	if l.MaxAmount.IsPositive() && amount.GreaterThan(l.MaxAmount) {
		return fmt.Errorf("%w: %s above maximum %s", ErrAmountOutOfRange, amount, l.MaxAmount)
	}
	return nil
}

// CheckLeverage validates a leverage level.
func (l WagerLimits) CheckLeverage(leverage int) error {
	if leverage < 1 {
		return fmt.Errorf("%w: %d", ErrInvalidLeverage, leverage)
	}
	if len(l.Leverages) > 0 && !slices.Contains(l.Leverages, leverage) {
		return fmt.Errorf("%w: %d (allowed %v)", ErrInvalidLeverage, leverage, l.Leverages)
	}
	return nil
}

// CheckDuration validates a timer length.
func (l WagerLimits) CheckDuration(duration time.Duration) error {
	if duration <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}
	if len(l.Durations) > 0 && !slices.Contains(l.Durations, duration) {
		return fmt.Errorf("%w: %s", ErrInvalidDuration, duration)
	}
	return nil
}
