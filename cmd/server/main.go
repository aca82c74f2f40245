package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/obi/parkgate/config"
	"github.com/obi/parkgate/internal/handler"
	"github.com/obi/parkgate/internal/middleware"
	"github.com/obi/parkgate/internal/repository"
	"github.com/obi/parkgate/internal/service"
	"github.com/obi/parkgate/pkg/cache"
	"github.com/obi/parkgate/pkg/db"
	"github.com/obi/parkgate/pkg/logger"
)

func main() {
	// ── Load configuration ──────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	zlog, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zlog.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Connect to PostgreSQL ───────────────────────────
	pgPool, err := db.NewPostgresPool(ctx, cfg.Postgres)
	if err != nil {
		zlog.Fatalw("failed to connect to PostgreSQL", "error", err)
	}
	defer pgPool.Close()
	zlog.Infow("PostgreSQL connected")

	// ── Connect to Redis ────────────────────────────────
	redisClient, err := cache.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		zlog.Fatalw("failed to connect to Redis", "error", err)
	}
	defer redisClient.Close()
	zlog.Infow("Redis connected")

	// ── Initialize layers ───────────────────────────────
	queueRepo := repository.NewQueueRepository(pgPool)
	directoryRepo := repository.NewDirectoryRepository(pgPool, redisClient)
	activityRepo := repository.NewActivityRepository(pgPool)
	notificationRepo := repository.NewNotificationRepository(pgPool)

	sweeper := service.NewSweepScheduler(
		queueRepo, directoryRepo, activityRepo, notificationRepo,
		cfg.Sweep.Interval, zlog,
	)
	accessSvc := service.NewAccessService(queueRepo, directoryRepo, activityRepo, sweeper, zlog)

	accessHandler := handler.NewAccessHandler(accessSvc, zlog)
	queueHandler := handler.NewQueueHandler(queueRepo, zlog)
	activityHandler := handler.NewActivityHandler(activityRepo, zlog)

	// ── Start the sweep worker ──────────────────────────
	go sweeper.Run(ctx)
	zlog.Infow("sweep worker started", "interval", cfg.Sweep.Interval)

	// ── Setup router ────────────────────────────────────
	router := mux.NewRouter()

	router.HandleFunc("/health", healthHandler(pgPool, redisClient)).Methods(http.MethodGet)

	api := router.PathPrefix("/api/v1").Subrouter()
	// The device-facing scan endpoint.
	api.HandleFunc("/access-control", accessHandler.HandleScan).Methods(http.MethodPost)
	// Read-only queue and audit surfaces. Order matters: the static
	// paths must be registered before the parameterized one.
	api.HandleFunc("/queues", queueHandler.ListQueues).Methods(http.MethodGet)
	api.HandleFunc("/queues/overview", queueHandler.QueueOverview).Methods(http.MethodGet)
	api.HandleFunc("/queues/location/{location}", queueHandler.ListQueuesByLocation).Methods(http.MethodGet)
	api.HandleFunc("/queues/count/location/{location}", queueHandler.CountQueuesByLocation).Methods(http.MethodGet)
	api.HandleFunc("/queues/{vehicle_id}", queueHandler.GetQueue).Methods(http.MethodGet)
	api.HandleFunc("/activities", activityHandler.ListActivities).Methods(http.MethodGet)
	api.HandleFunc("/activities/count", activityHandler.CountActivities).Methods(http.MethodGet)

	var root http.Handler = router
	root = middleware.Recoverer(zlog)(root)
	root = middleware.RequestLogger(zlog)(root)
	root = middleware.RequestID(root)
	root = middleware.CORS(root)

	// ── Start HTTP server ───────────────────────────────
	srv := &http.Server{
		Addr:         cfg.Server.ServerAddr(),
		Handler:      root,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start in a goroutine so we can listen for shutdown signals.
	go func() {
		zlog.Infow("server listening", "addr", cfg.Server.ServerAddr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatalw("server error", "error", err)
		}
	}()

	// ── Graceful shutdown ───────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Infow("shutting down")

	// Stop the sweep worker before the pools close under it.
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatalw("server forced to shutdown", "error", err)
	}

	zlog.Infow("server stopped")
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// healthHandler returns an HTTP handler that checks PG and Redis connectivity.
func healthHandler(pgPool *pgxpool.Pool, redisClient *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Services: make(map[string]string),
		}

		if err := db.HealthCheck(r.Context(), pgPool); err != nil {
			resp.Status = "degraded"
			resp.Services["postgres"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["postgres"] = "healthy"
		}

		if err := cache.HealthCheck(r.Context(), redisClient); err != nil {
			resp.Status = "degraded"
			resp.Services["redis"] = "unhealthy: " + err.Error()
		} else {
			resp.Services["redis"] = "healthy"
		}

		w.Header().Set("Content-Type", "application/json")
		if resp.Status != "ok" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(resp)
	}
}
