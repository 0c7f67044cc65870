package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/proofworks/ProofWorks/internal/adapter/evidencecache"
	pwnats "github.com/proofworks/ProofWorks/internal/adapter/nats"
	pwotel "github.com/proofworks/ProofWorks/internal/adapter/otel"
	"github.com/proofworks/ProofWorks/internal/adapter/platform"
	"github.com/proofworks/ProofWorks/internal/adapter/postgres"
	"github.com/proofworks/ProofWorks/internal/adapter/queueintent"
	"github.com/proofworks/ProofWorks/internal/adapter/ristretto"
	"github.com/proofworks/ProofWorks/internal/adapter/ws"
	"github.com/proofworks/ProofWorks/internal/config"
	"github.com/proofworks/ProofWorks/internal/logger"
	"github.com/proofworks/ProofWorks/internal/port/notifier"
	"github.com/proofworks/ProofWorks/internal/resilience"
	"github.com/proofworks/ProofWorks/internal/service"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flags, err := config.ParseFlags(os.Args[1:])
	if err != nil {
		return fmt.Errorf("flags: %w", err)
	}
	cfg, cfgPath, err := config.LoadWithCLI(flags)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"sweep_interval", cfg.Sweeper.Interval,
	)

	ctx := context.Background()

	// --- Observability ---
	otelShutdown, err := pwotel.Init(ctx, cfg.Logging.Service)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		if err := otelShutdown(context.Background()); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := pwotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Infrastructure ---
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	queue, err := pwnats.Connect(ctx, cfg.NATS.URL)
	if err != nil {
		return fmt.Errorf("nats: %w", err)
	}
	defer func() { _ = queue.Close() }()

	// --- Collaborators ---
	breaker := resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout)
	client := platform.NewClient(cfg.Platform.URL, breaker)

	cache, err := ristretto.New(cfg.Cache.MaxSizeMB << 20)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer cache.Close()
	evidenceProvider := evidencecache.New(client, cache, cfg.Workflow.EvidenceCacheTTL, log)

	// --- Services ---
	hub := ws.NewHub()
	store := postgres.NewStore(pool)

	notifications := service.NewNotificationService(
		[]notifier.Notifier{queueintent.NewNotifier(queue)}, nil)
	registry := service.NewRegistryService(store, client, notifications, hub, cfg.Workflow)
	consensusSvc := service.NewConsensusService(store, queue, hub, metrics, cfg.Workflow)
	scheduler := service.NewSchedulerService(store, evidenceProvider, consensusSvc, notifications, queue, hub, metrics)
	recorder := service.NewRecorderService(store, evidenceProvider, consensusSvc, queue, hub, metrics, cfg.Workflow)
	escalation := service.NewEscalationService(store, scheduler, notifications, queue, hub, metrics, cfg.Sweeper)
	intake := service.NewIntakeService(queue, scheduler, recorder, registry, cfg.Workflow)

	cancelIntake, err := intake.Start(ctx)
	if err != nil {
		return fmt.Errorf("intake subscriber: %w", err)
	}
	defer cancelIntake()

	escalation.StartSweeper(ctx)
	defer escalation.StopSweeper()

	// --- HTTP (ops surface only) ---
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(pwotel.HTTPMiddleware(cfg.Logging.Service))

	r.Get("/health", healthHandler(pool, queue, hub))
	r.Get("/ws", hub.HandleWS)

	addr := ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed", "error", err)
		}
	}()

	<-done
	slog.Info("shutting down")

	escalation.StopSweeper()
	cancelIntake()
	if err := queue.Drain(); err != nil {
		slog.Warn("nats drain", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// healthHandler reports process health and collaborator connectivity.
func healthHandler(pool *pgxpool.Pool, queue *pwnats.Queue, hub *ws.Hub) http.HandlerFunc {
	type healthStatus struct {
		Status        string `json:"status"`
		Postgres      string `json:"postgres"`
		NATS          string `json:"nats"`
		WSConnections int    `json:"ws_connections"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		status := healthStatus{
			Status:        "ok",
			Postgres:      "ok",
			NATS:          "ok",
			WSConnections: hub.ConnectionCount(),
		}
		if err := pool.Ping(r.Context()); err != nil {
			status.Status = "degraded"
			status.Postgres = err.Error()
		}
		if !queue.IsConnected() {
			status.Status = "degraded"
			status.NATS = "disconnected"
		}

		w.Header().Set("Content-Type", "application/json")
		if status.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		} else {
			w.WriteHeader(http.StatusOK)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
