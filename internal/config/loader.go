package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path over the built-in defaults, then applies
// RACE_* environment overrides. An empty path skips the file. The result is
// not validated; call Config.Validate after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose RACE_* variable is set.
func applyEnvOverrides(cfg *Config) {
	// ── Server ──
	setInt(&cfg.Server.Port, "RACE_SERVER_PORT")
	setDuration(&cfg.Server.ReadTimeout, "RACE_SERVER_READ_TIMEOUT")
	setDuration(&cfg.Server.WriteTimeout, "RACE_SERVER_WRITE_TIMEOUT")
	setDuration(&cfg.Server.IdleTimeout, "RACE_SERVER_IDLE_TIMEOUT")
	setDuration(&cfg.Server.ShutdownTimeout, "RACE_SERVER_SHUTDOWN_TIMEOUT")
	setStringSlice(&cfg.Server.AllowedOrigins, "RACE_SERVER_ALLOWED_ORIGINS")

	// ── Log ──
	setStr(&cfg.Log.Level, "RACE_LOG_LEVEL")
	setStr(&cfg.Log.Format, "RACE_LOG_FORMAT")

	// ── Animation ──
	setDuration(&cfg.Animation.FrameInterval, "RACE_ANIMATION_FRAME_INTERVAL")
	setInt(&cfg.Animation.MaxPoints, "RACE_ANIMATION_MAX_POINTS")
	setInt(&cfg.Animation.Subdivisions, "RACE_ANIMATION_SUBDIVISIONS")
	setFloat64(&cfg.Animation.DirectionMomentum, "RACE_ANIMATION_DIRECTION_MOMENTUM")
	setDuration(&cfg.Animation.WarmupDuration, "RACE_ANIMATION_WARMUP_DURATION")
	setFloat64(&cfg.Animation.LerpCap, "RACE_ANIMATION_LERP_CAP")
	setFloat64(&cfg.Animation.MicroVolatility, "RACE_ANIMATION_MICRO_VOLATILITY")
	setStr(&cfg.Animation.Seed, "RACE_ANIMATION_SEED")

	// ── Game ──
	setFloat64(&cfg.Game.StartingBalance, "RACE_GAME_STARTING_BALANCE")
	setStr(&cfg.Game.DefaultMarket, "RACE_GAME_DEFAULT_MARKET")
	setFloat64(&cfg.Game.DefaultAmount, "RACE_GAME_DEFAULT_AMOUNT")
	setInt(&cfg.Game.DefaultLeverage, "RACE_GAME_DEFAULT_LEVERAGE")
	setDuration(&cfg.Game.DefaultDuration, "RACE_GAME_DEFAULT_DURATION")
	setFloat64(&cfg.Game.MinAmount, "RACE_GAME_MIN_AMOUNT")
	setFloat64(&cfg.Game.MaxAmount, "RACE_GAME_MAX_AMOUNT")
	setIntSlice(&cfg.Game.Leverages, "RACE_GAME_LEVERAGES")
	setDurationSlice(&cfg.Game.Durations, "RACE_GAME_DURATIONS")
	setDuration(&cfg.Game.SweepInterval, "RACE_GAME_SWEEP_INTERVAL")
	setInt(&cfg.Game.HistoryLimit, "RACE_GAME_HISTORY_LIMIT")

	// ── Feed ──
	setStringSlice(&cfg.Feed.Sources, "RACE_FEED_SOURCES")
	setStr(&cfg.Feed.WSURL, "RACE_FEED_WS_URL")
	setDuration(&cfg.Feed.ReconnectMin, "RACE_FEED_RECONNECT_MIN")
	setDuration(&cfg.Feed.ReconnectMax, "RACE_FEED_RECONNECT_MAX")
	setDuration(&cfg.Feed.SimInterval, "RACE_FEED_SIM_INTERVAL")
	setStr(&cfg.Feed.SimSeed, "RACE_FEED_SIM_SEED")

	// ── Database ──
	setStr(&cfg.Database.URL, "RACE_DATABASE_URL")
	setStr(&cfg.Database.URL, "DATABASE_URL") // compatibility alias
	setInt(&cfg.Database.MaxConns, "RACE_DATABASE_MAX_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.URL, "RACE_REDIS_URL")
	setDuration(&cfg.Redis.CacheTTL, "RACE_REDIS_CACHE_TTL")
	setStr(&cfg.Redis.PricesChannel, "RACE_REDIS_PRICES_CHANNEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return cleaned
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		if cleaned := splitList(v); len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}

// setIntSlice leaves dst untouched if any element fails to parse.
func setIntSlice(dst *[]int, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []int
	for _, p := range splitList(v) {
		n, err := strconv.Atoi(p)
		if err != nil {
			return
		}
		out = append(out, n)
	}
	if len(out) > 0 {
		*dst = out
	}
}

func setDurationSlice(dst *[]duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []duration
	for _, p := range splitList(v) {
		d, err := time.ParseDuration(p)
		if err != nil {
			return
		}
		out = append(out, duration{d})
	}
	if len(out) > 0 {
		*dst = out
	}
}
