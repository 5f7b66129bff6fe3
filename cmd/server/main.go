package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"docsync/internal/api"
	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/repository"
	"docsync/internal/services"
	"docsync/internal/services/collaboration"
	"docsync/internal/telemetry"
)

// documentStore is the full storage surface main wires together; both the
// GORM and the in-memory repository provide it.
type documentStore interface {
	collaboration.DocumentStore
	services.DocumentHistory
}

func main() {
	log.Println("🚀 Starting docsync collaboration server...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ Failed to load config: %v", err)
	}

	// Tracing first, so every later operation shows up under a span.
	jaegerShutdown, err := telemetry.InitJaeger("docsync", cfg.JaegerEndpoint)
	if err != nil {
		log.Printf("⚠️  Failed to initialize Jaeger: %v (continuing without tracing)", err)
		jaegerShutdown = func(ctx context.Context) error { return nil }
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := jaegerShutdown(ctx); err != nil {
			log.Printf("⚠️  Failed to shutdown Jaeger: %v", err)
		}
	}()

	// Document store: Postgres in production, in-memory for local hacking.
	var store documentStore
	if cfg.StorageDriver == "memory" {
		log.Println("⚠️  Using in-memory document store (documents vanish on restart)")
		store = repository.NewMemoryRepository()
	} else {
		database, err := db.NewGorm(cfg)
		if err != nil {
			log.Fatalf("❌ Failed to connect to database: %v", err)
		}
		defer database.Close()
		store = repository.NewDocumentRepository(database.DB)
	}

	// Optional Redis relay: lets broadcasts reach rooms hosted on other
	// instances. Absent config means single-instance operation.
	var relay *collaboration.Relay
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Printf("⚠️  Redis unreachable at %s: %v (continuing without relay)", cfg.RedisAddr, err)
		} else {
			relay = collaboration.NewRelay(rdb)
			log.Printf("✓ Broadcast relay connected to Redis at %s", cfg.RedisAddr)
		}
	}

	// Session registry and room coordinator.
	registry := collaboration.NewRegistry(relay)
	registry.Start()
	coordinator := collaboration.NewCoordinator(store, registry)
	wsHandler := collaboration.NewWebSocketHandler(coordinator)

	undoService := services.NewUndoService(store)

	handler := api.NewHandler(undoService)
	router := api.SetupRoutes(handler, wsHandler)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("🌐 Server listening on http://%s", addr)
		log.Printf("📚 Endpoints:")
		log.Printf("   GET /ws/document/{id} - join a document room (WebSocket)")
		log.Printf("   GET /undo/{docId}     - pop the latest version")
		log.Printf("   GET /api/health       - health check")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("❌ Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("⚠️  Server forced to shutdown: %v", err)
	}

	registry.Shutdown()

	log.Println("✓ Server shutdown complete")
}
