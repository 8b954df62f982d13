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

	"github.com/joho/godotenv"

	"stockdesk/internal/assistant"
	"stockdesk/internal/cache"
	"stockdesk/internal/config"
	"stockdesk/internal/httpapi"
	"stockdesk/internal/service"
	"stockdesk/internal/store"
	"stockdesk/internal/store/memory"
	pgstore "stockdesk/internal/store/postgres"
)

func main() {
	if err := godotenv.Load(); err == nil {
		log.Println("loaded .env")
	}

	cfg := config.Load()
	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatalf("invalid security configuration: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres unavailable (%v) and DATABASE_URL is set; refusing to start with in-memory fallback", err)
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Println("repository: postgres")
		if !pg.SupportsExpiry() {
			log.Println("products table has no expiry_date column; using key-value fallback for expiry dates")
		}
	} else {
		repo = memory.NewSeeded()
		log.Println("repository: in-memory")
	}

	expiryStore := cache.ExpiryStore(cache.NewMemoryExpiryStore())
	if cfg.RedisAddr != "" {
		redisStore := cache.NewRedisExpiryStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisStore.Ping(ctx); err != nil {
			log.Printf("redis unavailable (%v), using in-process expiry fallback", err)
		} else {
			expiryStore = redisStore
			closers = append(closers, redisStore.Close)
			log.Println("expiry fallback store: redis")
		}
	} else {
		log.Println("expiry fallback store: in-process")
	}

	var model assistant.Model
	if cfg.GeminiAPIKey != "" {
		gemini, err := assistant.NewGeminiModel(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			log.Printf("assistant disabled: %v", err)
		} else {
			model = gemini
			closers = append(closers, gemini.Close)
			log.Println("assistant: gemini")
		}
	} else {
		log.Println("assistant: disabled (GEMINI_API_KEY not set)")
	}

	svc := service.New(repo, expiryStore)
	assistantSvc := assistant.New(model, svc)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, assistantSvc, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Stock Desk backend listening on %s", cfg.Address())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	return nil
}
