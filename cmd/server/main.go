package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/tickrace/price-engine/internal/animation"
	"github.com/tickrace/price-engine/internal/config"
	"github.com/tickrace/price-engine/internal/feed"
	"github.com/tickrace/price-engine/internal/game"
	"github.com/tickrace/price-engine/internal/ledger"
	"github.com/tickrace/price-engine/internal/market"
	"github.com/tickrace/price-engine/internal/metrics"
	"github.com/tickrace/price-engine/internal/scheduler"
	"github.com/tickrace/price-engine/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("RACE_CONFIG"), "path to TOML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("price-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("price-engine stopped")
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	var cleanup []func()
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	var rdb *redis.Client
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	var st store.Store
	if cfg.Database.URL != "" {
		pool, err := store.OpenPool(ctx, cfg.Database.URL, int32(cfg.Database.MaxConns))
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL.Duration, logger)
			slog.Info("Redis cache enabled", "ttl", cfg.Redis.CacheTTL.Duration)
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	// --- Market catalog ---
	registry, err := loadCatalog(ctx, cfg, st)
	if err != nil {
		return err
	}

	// --- Engine, ledger, session ---
	hub := game.NewWSHub(logger)

	engine, err := animation.New(cfg.EngineConfig(), hub, logger)
	if err != nil {
		return err
	}

	led := ledger.New(cfg.StartingBalance(),
		ledger.WithHistoryLimit(cfg.Game.HistoryLimit),
		ledger.WithLogger(logger),
	)
	metrics.Balance.Set(led.Balance().InexactFloat64())

	sched := scheduler.New(cfg.Game.SchedulerResolution.Duration, logger)

	session, err := game.NewSession(game.Config{
		DefaultMarket: cfg.Game.DefaultMarket,
		DefaultBet: game.BetConfig{
			Amount:   decimal.NewFromFloat(cfg.Game.DefaultAmount),
			Leverage: cfg.Game.DefaultLeverage,
			Duration: cfg.Game.DefaultDuration.Duration,
		},
		Limits:        cfg.WagerLimits(),
		FrameInterval: cfg.Animation.FrameInterval.Duration,
		SweepInterval: cfg.Game.SweepInterval.Duration,
	}, game.Deps{
		Engine:    engine,
		Ledger:    led,
		Scheduler: sched,
		Store:     st,
		Registry:  registry,
		Notifier:  hub,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.Close()

	// --- Feed ---
	adapter := feed.NewAdapter(session, registry, logger, buildSources(cfg, registry, rdb, logger)...)

	// --- HTTP router ---
	svc := game.NewService(session, st, registry)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(cors(cfg.Server.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"price-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket render surface: curve, precision and settlement events.
		r.Get("/ws", hub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.Server.WriteTimeout.Duration))
			svc.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration,
		WriteTimeout: cfg.Server.WriteTimeout.Duration,
		IdleTimeout:  cfg.Server.IdleTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sched.Run(gctx) })
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return adapter.Run(gctx) })
	g.Go(func() error {
		slog.Info("price-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down price-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Log.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

// loadCatalog writes the configured markets to the store and builds the
// registry from what the store then holds.
func loadCatalog(ctx context.Context, cfg *config.Config, st store.Store) (*market.Registry, error) {
	for _, m := range cfg.MarketCatalog(market.Defaults()) {
		m := m
		if err := st.UpsertMarket(ctx, &m); err != nil {
			return nil, fmt.Errorf("seed market %s: %w", m.Symbol, err)
		}
	}
	markets, err := st.ListMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	registry, err := market.NewRegistry(markets...)
	if err != nil {
		return nil, err
	}
	if _, err := registry.Get(cfg.Game.DefaultMarket); err != nil {
		return nil, fmt.Errorf("default market: %w", err)
	}
	slog.Info("market catalog loaded", "markets", registry.Symbols())
	return registry, nil
}

func buildSources(cfg *config.Config, registry *market.Registry, rdb *redis.Client, logger *slog.Logger) []feed.Source {
	var sources []feed.Source
	if cfg.HasSource("sim") {
		sources = append(sources, feed.NewSimSource(registry.List(), cfg.Feed.SimInterval.Duration, cfg.Feed.SimSeed))
	}
	if cfg.HasSource("ws") {
		sources = append(sources, feed.NewWSSource(cfg.Feed.WSURL, cfg.Feed.ReconnectMin.Duration, cfg.Feed.ReconnectMax.Duration, logger))
	}
	if cfg.HasSource("redis") && rdb != nil {
		sources = append(sources, feed.NewRedisSource(rdb, cfg.Redis.PricesChannel, cfg.Feed.ReconnectMin.Duration, cfg.Feed.ReconnectMax.Duration, logger))
	}
	return sources
}

// cors allows the configured origins; "*" allows any.
func cors(allowed []string) func(http.Handler) http.Handler {
	allowAll := slices.Contains(allowed, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			switch {
			case allowAll:
				w.Header().Set("Access-Control-Allow-Origin", "*")
			case origin != "" && slices.Contains(allowed, origin):
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
