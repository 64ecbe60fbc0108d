package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"presence-service/internal/adapters/kafka"
	"presence-service/internal/api/routes"
	"presence-service/internal/config"
	"presence-service/internal/database"
	"presence-service/internal/registry"
	"presence-service/internal/repository"
	"presence-service/internal/service"
	"presence-service/internal/websocket"

	"github.com/google/uuid"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal("Failed to load config:", err)
	}

	slog.Info("Starting presence server")

	redisClient, err := database.NewRedisConnection(&cfg.Redis)
	if err != nil {
		slog.Error("Failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	db, err := database.NewPostgresConnection(cfg.Database.URI)
	if err != nil {
		slog.Error("Failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}

	instanceID := uuid.New().String()
	presenceRepo := repository.NewPresenceRepository(redisClient, instanceID)
	defer presenceRepo.Close()
	userRepo := repository.NewUserRepository(db)

	reg := registry.New(cfg.Presence.LivenessWindow())
	presenceService := service.NewPresenceService(reg, presenceRepo, userRepo, cfg.Presence.SnapshotTTL)
	defer presenceService.Stop()

	if len(cfg.Kafka.Brokers) > 0 {
		events := kafka.NewEventWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer events.Close()
		presenceService.SetEventSink(events)
	}

	hub := websocket.NewHub(presenceService, cfg.Presence.ReadWait())
	presenceService.SetNotifier(hub.QueueUpdate)
	go hub.Run()

	// Relay status changes published by other instances to local clients.
	relayCtx, relayCancel := context.WithCancel(context.Background())
	defer relayCancel()
	remoteUpdates, err := presenceRepo.SubscribeUpdates(relayCtx)
	if err != nil {
		slog.Error("Failed to subscribe to presence updates", "error", err)
		os.Exit(1)
	}
	go func() {
		for update := range remoteUpdates {
			hub.QueueUpdate(update)
		}
	}()

	router := routes.NewRouter(hub, presenceService, presenceRepo, cfg.JWT.Secret, cfg.Presence.SendQueueSize)
	router.SetupRoutes()

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.GetEngine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Server starting", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("Server shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hub.Stop()

	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	slog.Info("Server stopped")
}
