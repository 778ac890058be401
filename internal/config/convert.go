package config

import (
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tickrace/price-engine/internal/animation"
	"github.com/tickrace/price-engine/internal/limits"
	"github.com/tickrace/price-engine/internal/model"
	"github.com/tickrace/price-engine/internal/speed"
)

// EngineConfig converts the animation section into engine tunables.
func (c *Config) EngineConfig() animation.Config {
	a := c.Animation
	tiers := a.Tiers
	if len(tiers) == 0 {
		tiers = speed.DefaultTiers()
	}
	return animation.Config{
		FrameInterval:            a.FrameInterval.Duration,
		MaxPoints:                a.MaxPoints,
		SeedPoints:               a.SeedPoints,
		SeedSpacing:              a.SeedSpacing.Duration,
		Subdivisions:             a.Subdivisions,
		DirectionMomentum:        a.DirectionMomentum,
		WarmupDuration:           a.WarmupDuration.Duration,
		LerpCap:                  a.LerpCap,
		MicroVolatility:          a.MicroVolatility,
		SoftConvergenceThreshold: a.SoftConvergenceThreshold,
		SoftConvergenceStep:      a.SoftConvergenceStep,
		OvershootCorrection:      a.OvershootCorrection,
		Tiers:                    tiers,
		Seed:                     a.Seed,
	}
}

// WagerLimits converts the game section into wager limits.
func (c *Config) WagerLimits() limits.WagerLimits {
	g := c.Game
	durations := make([]time.Duration, 0, len(g.Durations))
	for _, d := range g.Durations {
		durations = append(durations, d.Duration)
	}
	return limits.WagerLimits{
		MinAmount: decimal.NewFromFloat(g.MinAmount),
		MaxAmount: decimal.NewFromFloat(g.MaxAmount),
		Leverages: append([]int(nil), g.Leverages...),
		Durations: durations,
	}
}

// StartingBalance returns the ledger's opening balance.
func (c *Config) StartingBalance() decimal.Decimal {
	return decimal.NewFromFloat(c.Game.StartingBalance)
}

// MarketCatalog returns the configured markets merged over defaults. A
// configured symbol replaces the built-in entry of the same symbol.
func (c *Config) MarketCatalog(defaults []model.Market) []model.Market {
	out := make([]model.Market, 0, len(defaults)+len(c.Markets))
	index := make(map[string]int, len(defaults))
	for _, m := range defaults {
		index[m.Symbol] = len(out)
		out = append(out, m)
	}
	for _, mc := range c.Markets {
		m := model.Market{
			Symbol:    strings.ToUpper(strings.TrimSpace(mc.Symbol)),
			Name:      mc.Name,
			BasePrice: mc.BasePrice,
		}
		if i, ok := index[m.Symbol]; ok {
			out[i] = m
			continue
		}
		index[m.Symbol] = len(out)
		out = append(out, m)
	}
	return out
}

// SlogLevel maps the configured level onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
