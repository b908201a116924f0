package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/tillpoint/possync/internal/config"
	"github.com/tillpoint/possync/internal/connectivity"
	"github.com/tillpoint/possync/internal/handler"
	"github.com/tillpoint/possync/internal/middleware"
	"github.com/tillpoint/possync/internal/payment"
	"github.com/tillpoint/possync/internal/repository"
	"github.com/tillpoint/possync/internal/sse"
	"github.com/tillpoint/possync/internal/store"
	"github.com/tillpoint/possync/internal/worker"
	"github.com/tillpoint/possync/pkg/gateway"
)

// main is the entrypoint for the possync agent: the local sync daemon the
// POS UI talks to for buffered payments, order replay and sync status.
func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Setup logger
	setupLogger(cfg.Env)
	log.Info().Str("env", cfg.Env).Str("terminal_id", cfg.Gateway.TerminalID).Msg("starting possync agent")

	// 3. Open local store (migrations run inside Open)
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Error().Err(err).Msg("local store open failed")
		fmt.Fprintf(os.Stderr, "local store open failed: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	log.Info().Str("path", cfg.Store.Path).Msg("local store ready")

	// 4. Backend gateway client
	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.TerminalID)

	// 5. Repositories
	outboxRepo := repository.NewOutboxRepository(db)
	cacheRepo := repository.NewCacheRepository(db)

	// 6. Connectivity monitor probing the backend health endpoint
	monitor := connectivity.NewMonitor(gw.Health, cfg.Worker.ProbeInterval)

	// 7. Buffered payment manager
	manager := payment.NewManager(outboxRepo, gw, monitor, payment.Options{
		Currency:   cfg.Payment.Currency,
		MaxRetries: cfg.Payment.MaxRetries,
	})
	if err := manager.Initialize(context.Background()); err != nil {
		log.Error().Err(err).Msg("payment manager initialization failed")
		fmt.Fprintf(os.Stderr, "payment manager initialization failed: %v\n", err)
		os.Exit(1)
	}
	defer manager.Cleanup()

	// 8. Status publisher bridge to SSE
	hub := sse.NewHub()
	unsubStatus := manager.OnStatusChange(func(st payment.Status) {
		hub.Broadcast(&sse.StatusEvent{
			Event:           sse.EventSyncStatus,
			Online:          st.Online,
			PendingPayments: st.PendingPayments,
			FailedPayments:  st.FailedPayments,
			IsProcessing:    st.IsProcessing,
			LastAttemptAt:   st.LastAttemptAt,
			Errors:          st.Errors,
			Timestamp:       time.Now().UTC(),
		})
	})
	defer unsubStatus()

	// 9. Background workers
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()

	go monitor.Start(workerCtx)
	go worker.NewSyncWorker(manager, monitor, cfg.Worker.SyncInterval).Start(workerCtx)
	go worker.NewRetentionWorker(manager, outboxRepo, cfg.Worker.RetentionInterval, cfg.Worker.RetentionMaxAge).Start(workerCtx)

	// 10. HTTP server for the POS UI
	router := buildRouter(cfg, manager, cacheRepo, monitor, hub)
	srv := &http.Server{
		Addr:    "127.0.0.1:" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	// 11. Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down")

	stopWorkers()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
	log.Info().Msg("possync agent stopped")
}

// buildRouter wires middleware and handlers.
func buildRouter(
	cfg *config.Config,
	manager *payment.Manager,
	cacheRepo *repository.CacheRepository,
	monitor *connectivity.Monitor,
	hub *sse.Hub,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.LoggingMiddleware())

	payments := handler.NewPaymentHandler(manager)
	cache := handler.NewCacheHandler(cacheRepo)
	events := handler.NewSSEHandler(hub, cfg.TerminalSecret)
	health := handler.NewHealthHandler(monitor)

	router.GET("/healthz", health.GetHealth)

	auth := middleware.NewAuthMiddleware(cfg.TerminalSecret)
	v1 := router.Group("/v1")
	v1.Use(auth.Handle())
	{
		v1.POST("/payments/cash", payments.BufferCash)
		v1.POST("/payments/card", payments.BufferCard)
		v1.POST("/payments/:id/cancel", payments.Cancel)
		v1.GET("/payments", payments.List)
		v1.GET("/payments/:id", payments.Get)
		v1.POST("/orders", payments.BufferOrder)
		v1.GET("/status", payments.GetStatus)
		v1.POST("/sync", payments.TriggerSync)
		v1.GET("/cache/:key", cache.Get)
		v1.PUT("/cache/:key", cache.Put)
	}

	// EventSource cannot send an Authorization header; the stream validates
	// its token from the query string itself.
	router.GET("/v1/events", events.Stream)

	return router
}

func setupLogger(env string) {
	if env == "production" {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}
