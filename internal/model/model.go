// Package model defines the core domain types for the price engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceSample is a single (time, price) point. Time is in seconds.
type PriceSample struct {
	Time  float64 `json:"time"`
	Value float64 `json:"value"`
}

// Direction is the side of a wager.
type Direction string

const (
	Up   Direction = "UP"
	Down Direction = "DOWN"
)

// Valid reports whether d is UP or DOWN.
func (d Direction) Valid() bool {
	return d == Up || d == Down
}

// Result is the settlement state of a wager.
type Result string

const (
	Pending Result = "PENDING"
	Win     Result = "WIN"
	Loss    Result = "LOSS"
)

// Wager is a time-boxed directional stake. All monetary values use
// shopspring/decimal; prices stay float64 because they come from the feed.
type Wager struct {
	ID           string          `json:"id"`
	Market       string          `json:"market"`
	Direction    Direction       `json:"direction"`
	EntryPrice   float64         `json:"entry_price"`
	Amount       decimal.Decimal `json:"amount"`
	Leverage     int             `json:"leverage"`
	StartTime    time.Time       `json:"start_time"`
	EndTime      time.Time       `json:"end_time"`
	OutcomePrice *float64        `json:"outcome_price"`
	Result       Result          `json:"result"`
	Payout       decimal.Decimal `json:"payout"`
}

// Due reports whether the wager's timer has elapsed at now.
func (w Wager) Due(now time.Time) bool {
	return !now.Before(w.EndTime)
}

// PlayerLedger is a read-only snapshot of the player's funds and wagers.
type PlayerLedger struct {
	Balance      decimal.Decimal `json:"balance"`
	ActiveWagers []Wager         `json:"active_wagers"`
	History      []Wager         `json:"history"`
}

// Market is a tradable asset with its reference price.
type Market struct {
	Symbol    string    `json:"symbol" db:"symbol"`
	Name      string    `json:"name" db:"name"`
	BasePrice float64   `json:"base_price" db:"base_price"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LastPrice is the most recent raw feed price for a market.
type LastPrice struct {
	Market    string    `json:"market" db:"market"`
	Price     float64   `json:"price" db:"price"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
