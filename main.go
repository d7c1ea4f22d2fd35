package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presenced/config"
	"presenced/handlers"
	"presenced/middleware"
	"presenced/services"
	"presenced/utils"
)

func main() {
	// Load configuration
	cfg := config.LoadConfig()

	// Setup logger
	logger := utils.NewLogger(cfg.LogLevel).With("service", "presenced")

	// Initialize the durable store
	store, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize store", "error", err)
	}
	defer store.Close()

	// Wire the presence engine
	sessions := services.NewSessionTracker(store, logger, cfg.ActivityTTL, cfg.SessionGrace)
	ingest := services.NewActivityIngest(store, logger, services.EquivalencePolicy{
		LineTolerance:   cfg.LineTolerance,
		ColumnTolerance: cfg.ColumnTolerance,
		Window:          cfg.DedupWindow,
	}, cfg.RateLimitCooldown)
	tracker := services.NewHeartbeatTracker(store, sessions, logger, cfg.HeartbeatInterval, cfg.HeartbeatTimeout)
	hub := services.NewBroadcastHub(logger, cfg.KeepaliveInterval)
	engine := services.NewPresenceEngine(store, sessions, ingest, tracker, hub, logger)

	engine.Start(context.Background())

	// Create handlers
	presenceHandler := handlers.NewPresenceHandler(engine, logger)
	eventsHandler := handlers.NewEventsHandler(engine, logger)
	healthHandler := handlers.NewHealthHandler(engine)

	auth := func(h http.HandlerFunc) http.Handler {
		return middleware.APIKeyAuth(cfg.APISecret, logger, h)
	}

	// Setup routes
	mux := http.NewServeMux()
	mux.HandleFunc("/health", healthHandler.Health)
	mux.HandleFunc("/activity", presenceHandler.GetActivity)
	mux.HandleFunc("/events", eventsHandler.ServeSSE)
	mux.HandleFunc("/ws", eventsHandler.ServeWS)
	mux.Handle("/vscode-activity", auth(presenceHandler.VSCodeActivity))
	mux.Handle("/vscode-heartbeat", auth(presenceHandler.VSCodeHeartbeat))
	mux.Handle("/vscode-session-start", auth(presenceHandler.VSCodeSessionStart))
	mux.Handle("/vscode-cleanup", auth(presenceHandler.VSCodeCleanup))

	// Create HTTP server. No WriteTimeout: /events and /ws hold their
	// responses open indefinitely.
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     middleware.Logging(logger, mux),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("starting presenced", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("failed to start server", "error", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server")

	// Stop background work and end subscriber streams first so Shutdown is
	// not left waiting on held-open event connections.
	engine.Stop()

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}

	logger.Info("server exited")
}

// buildStore selects the Redis-backed store, or the in-process store when
// REDIS_URL=memory (local development).
func buildStore(cfg *config.Config, logger *utils.Logger) (services.Store, error) {
	if cfg.RedisURL == "memory" {
		logger.Warn("using in-memory store; state will not survive restarts")
		return services.NewMemoryStore(cfg.ActivityTTL, cfg.StatusTTL), nil
	}
	client, err := services.NewRedisClient(cfg.RedisURL, cfg.RedisDB)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to Redis")
	return services.NewRedisStore(client, logger, cfg.ActivityTTL, cfg.StatusTTL), nil
}
