package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/polyagent/trading-engine/internal/analytics"
	"github.com/polyagent/trading-engine/internal/api"
	"github.com/polyagent/trading-engine/internal/config"
	"github.com/polyagent/trading-engine/internal/exit"
	"github.com/polyagent/trading-engine/internal/ledger"
	"github.com/polyagent/trading-engine/internal/metrics"
	"github.com/polyagent/trading-engine/internal/oracle"
	"github.com/polyagent/trading-engine/internal/pnl"
	"github.com/polyagent/trading-engine/internal/risk"
	"github.com/polyagent/trading-engine/internal/store"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	slog.SetDefault(newLogger(cfg.Log))

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Storage.PostgresURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.Storage.PostgresURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg, err := store.NewPostgresStore(context.Background(), pool)
		if err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Storage.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.Storage.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL())
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL().String())
		}
	} else {
		slog.Warn("postgres_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Core services ---
	ledgerSvc := ledger.NewService(st)
	priceOracle := oracle.NewGammaClient(cfg.Oracle.GammaBase, cfg.OracleTimeout())
	monitor := pnl.NewMonitor(priceOracle)
	recorder := analytics.NewRecorder(st, cfg.Retention())

	// --- WebSocket hub ---
	hub := api.NewHub()
	go hub.Run()

	// --- Auto-exit engine ---
	// Exits land in analytics and on the alert stream.
	engine := exit.NewEngine(ledgerSvc, monitor, recorder, hub)
	defer engine.Shutdown()

	exitDefaults := exit.Config{
		StopLossPercent:   decimal.NewFromFloat(cfg.Exit.StopLossPercent),
		TakeProfitPercent: decimal.NewFromFloat(cfg.Exit.TakeProfitPercent),
		Interval:          cfg.ExitInterval(),
		DryRun:            *cfg.Exit.DryRun,
	}

	limits := risk.Limits{
		MaxSingleTrade: decimal.NewFromFloat(cfg.Risk.MaxSingleTrade),
		MaxHighRisk:    decimal.NewFromFloat(cfg.Risk.MaxHighRisk),
		MaxMediumRisk:  decimal.NewFromFloat(cfg.Risk.MaxMediumRisk),
		MinConfidence:  cfg.Risk.MinConfidence,
		MinTradeAmount: decimal.NewFromFloat(cfg.Risk.MinTradeAmount),
	}

	apiSvc := api.NewService(ledgerSvc, monitor, engine, recorder, limits, cfg.Risk.KellyFraction, exitDefaults, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"trading-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", apiSvc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-engine listening", "addr", cfg.Server.Addr, "dry_run", exitDefaults.DryRun)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down trading-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-engine stopped")
}

// newLogger builds the process logger from config. JSON by default; text for
// local development.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
