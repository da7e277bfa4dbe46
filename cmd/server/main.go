package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"productchat/backend/internal/api/handler"
	"productchat/backend/internal/chat"
	"productchat/backend/internal/chathub"
	"productchat/backend/internal/config"
	"productchat/backend/internal/storage"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// setupStore повертає PostgreSQL сховище, якщо задано DSN, інакше in-memory.
func setupStore(cfg *config.Config) storage.ChatStore {
	if cfg.DatabaseDSN == "" {
		log.Println("INFO: CHAT_DATABASE_DSN not set, using in-memory store")
		return storage.NewMemoryStore()
	}

	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect PostgreSQL: %v", err)
	}

	s := storage.NewStorageService(db)
	// Міграції (Створення таблиць)
	if err := s.Migrate(); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	log.Println("INFO: Database connection established, migrations complete.")
	return s
}

// setupBroadcaster returns a Redis relay when CHAT_REDIS_ADDR is set so
// several instances share live delivery. Otherwise the local registry is used.
func setupBroadcaster(ctx context.Context, cfg *config.Config, registry *chathub.Registry) chathub.Broadcaster {
	if cfg.RedisAddr == "" {
		return registry
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	// Перевірка з'єднання Redis
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		log.Fatalf("Failed to connect Redis: %v", err)
	}

	relay := chathub.NewRedisRelay(rdb, registry)
	relay.Ctx = ctx
	go func() {
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("ERROR: Redis relay stopped, live events are delivered locally only: %v", err)
		}
	}()
	log.Printf("INFO: Redis relay listening on %s", cfg.RedisAddr)
	return relay
}

func main() {
	log.Println("Starting product chat backend...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Ініціалізація залежностей
	store := setupStore(cfg)
	registry := chathub.NewRegistry()
	svc := chat.NewService(store, registry, setupBroadcaster(ctx, cfg, registry))

	// 2. Налаштування Gin та роутингу
	r := gin.Default()
	handler.NewHandler(svc, cfg).RegisterRoutes(r)

	server := &http.Server{
		Addr:           cfg.Addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Printf("INFO: Listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("INFO: Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("WARNING: Graceful shutdown failed: %v", err)
	}
}
