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
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/moneyprotocol/engineering-sub002/internal/api"
	"github.com/moneyprotocol/engineering-sub002/internal/chain"
	"github.com/moneyprotocol/engineering-sub002/internal/config"
	"github.com/moneyprotocol/engineering-sub002/internal/hint"
	"github.com/moneyprotocol/engineering-sub002/internal/logging"
	"github.com/moneyprotocol/engineering-sub002/internal/metrics"
	"github.com/moneyprotocol/engineering-sub002/internal/mirror"
	"github.com/moneyprotocol/engineering-sub002/internal/publish"
	"github.com/moneyprotocol/engineering-sub002/internal/store"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("configuration failed", "err", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.File)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Chain ---
	client, err := chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		slog.Error("chain connection failed", "err", err)
		os.Exit(1)
	}
	cleanup = append(cleanup, client.Close)
	reader := chain.NewEthReader(client, cfg.Chain.Addresses, cfg.Chain.RequestsPerSecond, cfg.Chain.Burst, logger)
	confirmer := chain.NewConfirmer(client, cfg.Chain.ReceiptPollInterval, logger)
	slog.Info("connected to chain", "rpc", cfg.Chain.RPCURL)

	// --- Initialize store ---
	var st store.Store
	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("database migration failed", "err", err)
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
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory journal (history will not persist)")
		st = store.NewMemoryStore()
	}
	recorder := store.NewRecorder(st, store.DefaultRecorderBuffer, logger)
	go recorder.Run(ctx)

	// --- Mirror ---
	m := mirror.New(mirror.Options{
		Logger:          logger,
		FallbackRefresh: cfg.Mirror.FallbackRefresh,
		OnLoaded:        recorder.Loaded,
	})
	m.Subscribe(recorder.Listen)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub(logger)
	go wsHub.Run()
	m.Subscribe(wsHub.Listen)

	// --- Event publishing ---
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("vault-mirror"))
		if err != nil {
			slog.Error("NATS connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { nc.Drain() })
		js, err := jetstream.New(nc)
		if err != nil {
			slog.Error("JetStream unavailable", "err", err)
			os.Exit(1)
		}
		if err := publish.EnsureStream(ctx, js, cfg.NATS.SubjectPrefix); err != nil {
			slog.Error("stream setup failed", "err", err)
			os.Exit(1)
		}
		publisher := publish.NewPublisher(js, cfg.NATS.SubjectPrefix, 0, logger)
		go publisher.Run(ctx)
		m.Subscribe(publisher.Listen)
		slog.Info("publishing change events", "nats", cfg.NATS.URL, "prefix", cfg.NATS.SubjectPrefix)
	}

	// --- Poller ---
	poller := mirror.NewPoller(m, reader, reader, cfg.OwnerAddress(), logger)
	go func() {
		if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("mirror stopped", "err", err)
			stop()
		}
	}()

	// --- Hints ---
	finder := hint.NewFinder(reader, reader, cfg.Hint.MaxTrialsPerCall, logger)
	planner := hint.NewPlanner(reader, finder, cfg.Hint.MaxRedemptionIterations, cfg.Slippage(), logger)

	svc := api.NewService(api.Deps{
		Mirror:      m,
		Hints:       finder,
		Redemptions: planner,
		Confirmer:   confirmer,
		Store:       st,
		Hub:         wsHub,
		DeployedAt:  cfg.Protocol.DeployedAt,
		Logger:      logger,
	})

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
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
		if !m.Loaded() {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"loading","service":"vault-mirror"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","service":"vault-mirror"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", svc.Routes)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vault-mirror listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vault-mirror...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	m.Stop()
	fmt.Println("vault-mirror stopped")
}
