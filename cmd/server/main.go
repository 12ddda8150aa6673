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

	"github.com/davidh052/trading-portfolio/internal/config"
	"github.com/davidh052/trading-portfolio/internal/metrics"
	"github.com/davidh052/trading-portfolio/internal/portfolio"
	"github.com/davidh052/trading-portfolio/internal/quote"
	"github.com/davidh052/trading-portfolio/internal/stocks"
	"github.com/davidh052/trading-portfolio/internal/store"
	"github.com/davidh052/trading-portfolio/internal/valuation"
	"github.com/davidh052/trading-portfolio/internal/watchlist"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		if err := store.RunMigrations(cfg.DatabaseURL); err != nil {
			slog.Error("migrations failed", "err", err)
			os.Exit(1)
		}

		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through snapshot cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Market data provider ---
	provider := quote.NewYahooClient(quote.Options{
		BaseURL:   cfg.QuoteBaseURL,
		Timeout:   cfg.QuoteTimeout,
		RateLimit: cfg.QuoteRateLimit,
		CacheTTL:  cfg.QuoteCacheTTL,
	})

	// --- Services ---
	engine := valuation.NewEngine(provider, cfg.QuoteTimeout)
	portfolioSvc := portfolio.NewService(st, engine)
	watchlistHdl := watchlist.NewHandler(st, provider)
	stocksHdl := stocks.NewHandler(provider)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
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
		w.Write([]byte(`{"status":"ok","service":"trading-portfolio"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// Market data.
		r.Route("/stocks", func(r chi.Router) {
			r.Get("/search", stocksHdl.Search)
			r.Get("/{symbol}/quote", stocksHdl.Quote)
			r.Get("/{symbol}/history", stocksHdl.History)
			r.Get("/{symbol}/company", stocksHdl.Company)
		})

		r.Route("/users/{userID}", func(r chi.Router) {
			// Transaction ledger.
			r.Post("/transactions", portfolioSvc.CreateTransaction)
			r.Get("/transactions", portfolioSvc.ListTransactions)
			r.Get("/transactions/{id}", portfolioSvc.GetTransaction)
			r.Delete("/transactions/{id}", portfolioSvc.DeleteTransaction)

			// Derived portfolio state.
			r.Get("/portfolio", portfolioSvc.GetPortfolio)
			r.Post("/portfolio/rebuild", portfolioSvc.RebuildPortfolio)

			// Watchlist.
			r.Route("/watchlist", func(r chi.Router) {
				r.Post("/", watchlistHdl.Add)
				r.Get("/", watchlistHdl.List)
				r.Delete("/{id}", watchlistHdl.Remove)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trading-portfolio listening", "port", cfg.Port)
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

	slog.Info("shutting down trading-portfolio...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trading-portfolio stopped")
}
