// Package config loads the engine configuration from TOML, .env and
// RACE_-prefixed environment variables.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tickrace/price-engine/internal/speed"
)

// Config is the top-level configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Log       LogConfig       `toml:"log"`
	Animation AnimationConfig `toml:"animation"`
	Game      GameConfig      `toml:"game"`
	Feed      FeedConfig      `toml:"feed"`
	Database  DatabaseConfig  `toml:"database"`
	Redis     RedisConfig     `toml:"redis"`
	Markets   []MarketConfig  `toml:"markets"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port            int      `toml:"port"`
	ReadTimeout     duration `toml:"read_timeout"`
	WriteTimeout    duration `toml:"write_timeout"`
	IdleTimeout     duration `toml:"idle_timeout"`
	ShutdownTimeout duration `toml:"shutdown_timeout"`
	AllowedOrigins  []string `toml:"allowed_origins"`
}

// LogConfig configures the slog handler.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // json or text
}

// AnimationConfig mirrors the animation engine tunables.
type AnimationConfig struct {
	FrameInterval            duration `toml:"frame_interval"`
	MaxPoints                int      `toml:"max_points"`
	SeedPoints               int      `toml:"seed_points"`
	SeedSpacing              duration `toml:"seed_spacing"`
	Subdivisions             int      `toml:"subdivisions"`
	DirectionMomentum        float64  `toml:"direction_momentum"`
	WarmupDuration           duration `toml:"warmup_duration"`
	LerpCap                  float64  `toml:"lerp_cap"`
	MicroVolatility          float64  `toml:"micro_volatility"`
	SoftConvergenceThreshold float64  `toml:"soft_convergence_threshold"`
	SoftConvergenceStep      float64  `toml:"soft_convergence_step"`
	OvershootCorrection      float64  `toml:"overshoot_correction"`
	Seed                     string   `toml:"seed"`

	// Tiers overrides the built-in speed tiers when non-empty. Use inf as the
	// last threshold.
	Tiers speed.Tiers `toml:"tiers"`
}

// GameConfig configures the ledger, wager limits and the settlement sweep.
type GameConfig struct {
	StartingBalance     float64    `toml:"starting_balance"`
	DefaultMarket       string     `toml:"default_market"`
	DefaultAmount       float64    `toml:"default_amount"`
	DefaultLeverage     int        `toml:"default_leverage"`
	DefaultDuration     duration   `toml:"default_duration"`
	MinAmount           float64    `toml:"min_amount"`
	MaxAmount           float64    `toml:"max_amount"`
	Leverages           []int      `toml:"leverages"`
	Durations           []duration `toml:"durations"`
	SweepInterval       duration   `toml:"sweep_interval"`
	SchedulerResolution duration   `toml:"scheduler_resolution"`
	HistoryLimit        int        `toml:"history_limit"`
}

// FeedConfig selects and tunes the price sources.
type FeedConfig struct {
	Sources      []string `toml:"sources"` // any of sim, ws, redis
	WSURL        string   `toml:"ws_url"`
	ReconnectMin duration `toml:"reconnect_min"`
	ReconnectMax duration `toml:"reconnect_max"`
	SimInterval  duration `toml:"sim_interval"`
	SimSeed      string   `toml:"sim_seed"`
}

// DatabaseConfig configures Postgres. An empty URL selects the in-memory store.
type DatabaseConfig struct {
	URL      string `toml:"url"`
	MaxConns int    `toml:"max_conns"`
}

// RedisConfig configures the cache and the price pub/sub channel. An empty
// URL disables both.
type RedisConfig struct {
	URL           string   `toml:"url"`
	CacheTTL      duration `toml:"cache_ttl"`
	PricesChannel string   `toml:"prices_channel"`
}

// MarketConfig overrides or extends the built-in market catalog.
type MarketConfig struct {
	Symbol    string  `toml:"symbol"`
	Name      string  `toml:"name"`
	BasePrice float64 `toml:"base_price"`
}

// duration wraps time.Duration so TOML strings like "16ms" decode directly.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config populated with the production defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     duration{15 * time.Second},
			WriteTimeout:    duration{15 * time.Second},
			IdleTimeout:     duration{60 * time.Second},
			ShutdownTimeout: duration{10 * time.Second},
			AllowedOrigins:  []string{"*"},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Animation: AnimationConfig{
			FrameInterval:            duration{time.Second / 60},
			MaxPoints:                900,
			SeedPoints:               61,
			SeedSpacing:              duration{16 * time.Millisecond},
			Subdivisions:             4,
			DirectionMomentum:        0.995,
			WarmupDuration:           duration{3 * time.Second},
			LerpCap:                  0.01,
			MicroVolatility:          0.00001,
			SoftConvergenceThreshold: 0.0001,
			SoftConvergenceStep:      0.15,
			OvershootCorrection:      0.3,
		},
		Game: GameConfig{
			StartingBalance: 5000,
			DefaultMarket:   "SOL",
			DefaultAmount:   100,
			DefaultLeverage: 10,
			DefaultDuration: duration{10 * time.Second},
			MinAmount:       1,
			MaxAmount:       10000,
			Leverages:       []int{5, 10, 20, 50, 100},
			Durations: []duration{
				{10 * time.Second}, {15 * time.Second}, {30 * time.Second},
				{45 * time.Second}, {60 * time.Second},
			},
			SweepInterval:       duration{100 * time.Millisecond},
			SchedulerResolution: duration{4 * time.Millisecond},
			HistoryLimit:        500,
		},
		Feed: FeedConfig{
			Sources:      []string{"sim"},
			WSURL:        "wss://ws.example-exchange.io/stream",
			ReconnectMin: duration{time.Second},
			ReconnectMax: duration{5 * time.Second},
			SimInterval:  duration{200 * time.Millisecond},
		},
		Database: DatabaseConfig{
			MaxConns: 10,
		},
		Redis: RedisConfig{
			CacheTTL:      duration{30 * time.Second},
			PricesChannel: "prices",
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

var validSources = map[string]bool{"sim": true, "ws": true, "redis": true}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if !validLogLevels[strings.ToLower(c.Log.Level)] {
		errs = append(errs, fmt.Sprintf("unknown log.level %q (valid: debug, info, warn, error)", c.Log.Level))
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		errs = append(errs, fmt.Sprintf("unknown log.format %q (valid: json, text)", c.Log.Format))
	}

	if c.Animation.FrameInterval.Duration <= 0 {
		errs = append(errs, "animation.frame_interval must be positive")
	}

	g := c.Game
	if g.StartingBalance < 0 {
		errs = append(errs, "game.starting_balance must not be negative")
	}
	if g.MinAmount <= 0 {
		errs = append(errs, "game.min_amount must be positive")
	}
	if g.MaxAmount != 0 && g.MaxAmount < g.MinAmount {
		errs = append(errs, "game.max_amount must be zero or at least min_amount")
	}
	if len(g.Leverages) == 0 {
		errs = append(errs, "game.leverages must not be empty")
	}
	for _, l := range g.Leverages {
		if l <= 0 {
			errs = append(errs, fmt.Sprintf("game.leverages: %d is not positive", l))
		}
	}
	if len(g.Durations) == 0 {
		errs = append(errs, "game.durations must not be empty")
	}
	for _, d := range g.Durations {
		if d.Duration <= 0 {
			errs = append(errs, fmt.Sprintf("game.durations: %s is not positive", d.Duration))
		}
	}
	if g.SweepInterval.Duration <= 0 {
		errs = append(errs, "game.sweep_interval must be positive")
	}
	if g.SchedulerResolution.Duration <= 0 {
		errs = append(errs, "game.scheduler_resolution must be positive")
	}
	if g.HistoryLimit < 0 {
		errs = append(errs, "game.history_limit must not be negative")
	}

	if len(c.Feed.Sources) == 0 {
		errs = append(errs, "feed.sources must not be empty")
	}
	for _, s := range c.Feed.Sources {
		if !validSources[s] {
			errs = append(errs, fmt.Sprintf("unknown feed source %q (valid: sim, ws, redis)", s))
		}
		if s == "ws" && c.Feed.WSURL == "" {
			errs = append(errs, "feed.ws_url is required when the ws source is enabled")
		}
		if s == "redis" && c.Redis.URL == "" {
			errs = append(errs, "redis.url is required when the redis source is enabled")
		}
	}
	if c.Feed.ReconnectMin.Duration <= 0 || c.Feed.ReconnectMax.Duration < c.Feed.ReconnectMin.Duration {
		errs = append(errs, "feed reconnect bounds must satisfy 0 < reconnect_min <= reconnect_max")
	}

	for i, m := range c.Markets {
		if m.Symbol == "" {
			errs = append(errs, fmt.Sprintf("markets[%d].symbol is required", i))
		}
		if m.BasePrice <= 0 {
			errs = append(errs, fmt.Sprintf("markets[%d].base_price must be positive", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// HasSource reports whether the named feed source is enabled.
func (c *Config) HasSource(name string) bool {
	for _, s := range c.Feed.Sources {
		if s == name {
			return true
		}
	}
	return false
}
