package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/tiritolabs/tirito/internal/auth"
	"github.com/tiritolabs/tirito/internal/config"
	"github.com/tiritolabs/tirito/internal/engage"
	"github.com/tiritolabs/tirito/internal/httpapi"
	"github.com/tiritolabs/tirito/internal/market"
	"github.com/tiritolabs/tirito/internal/notify"
	"github.com/tiritolabs/tirito/internal/observability"
	"github.com/tiritolabs/tirito/internal/rating"
	"github.com/tiritolabs/tirito/internal/realtime"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	store, err := market.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("store init failed: %v", err)
	}
	defer store.Close()
	if cfg.DatabaseURL != "" {
		log.Printf("store: postgres")
	} else {
		log.Printf("store: in-memory (set DATABASE_URL for persistence)")
	}

	hub := realtime.NewHub(metrics, cfg.PushQueueSize)
	notifier := notify.NewDispatcher(store, hub, metrics)

	tokens := auth.NewTokens(cfg.JWTSecret, cfg.TokenTTL)
	tasks := engage.NewTasks(store, notifier, metrics)
	requests := engage.NewRequests(store, notifier, metrics)
	chats := engage.NewChats(store, notifier, metrics, cfg.MaxMessageLen)
	ratings := rating.NewService(store)

	api := httpapi.New(cfg, tokens, tasks, requests, chats, notifier, ratings, hub, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	hub.Shutdown()

	log.Printf("shutdown complete")
}
