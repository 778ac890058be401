// Package settlement decides the outcome of a single wager. It has no state
// and can be used without a ledger.
package settlement

import (
	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/model"
)

var (
	// BaseRate is the profit rate paid on every win.
	BaseRate = decimal.RequireFromString("0.95")

	// LeverageBonusRate is added to the profit rate per unit of leverage.
	LeverageBonusRate = decimal.RequireFromString("0.05")
)

// Outcome is the result of resolving one wager.
type Outcome struct {
	Result model.Result    `json:"result"`
	Payout decimal.Decimal `json:"payout"`
}

// Won reports whether the wager won.
func (o Outcome) Won() bool {
	return o.Result == model.Win
}

// Return is the amount credited back to the balance: principal plus payout on
// a win, nothing on a loss.
func (o Outcome) Return(amount decimal.Decimal) decimal.Decimal {
	if !o.Won() {
		return decimal.Zero
	}
	return amount.Add(o.Payout)
}

// ProfitRate returns BaseRate + leverage*LeverageBonusRate.
func ProfitRate(leverage int) decimal.Decimal {
	return BaseRate.Add(LeverageBonusRate.Mul(decimal.NewFromInt(int64(leverage))))
}

// IsWin uses strict inequality. A settle price equal to the entry loses for
// both directions.
func IsWin(entry, settle float64, dir model.Direction) bool {
	switch dir {
	case model.Up:
		return settle > entry
	case model.Down:
		return settle < entry
	default:
		return false
	}
}

// Resolve computes the result and payout for a wager of amount at leverage.
// Leverage only scales profit; a loss never exceeds the staked amount.
func Resolve(entry, settle float64, dir model.Direction, leverage int, amount decimal.Decimal) Outcome {
	if !IsWin(entry, settle, dir) {
		return Outcome{Result: model.Loss, Payout: decimal.Zero}
	}
	return Outcome{
		Result: model.Win,
		Payout: amount.Mul(ProfitRate(leverage)),
	}
}

// ResolveWager is Resolve applied to a wager's own fields.
func ResolveWager(w model.Wager, settle float64) Outcome {
	return Resolve(w.EntryPrice, settle, w.Direction, w.Leverage, w.Amount)
}
