package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"murmur/api/internal/app"
	"murmur/api/internal/config"
	"murmur/api/internal/cursor"
	"murmur/api/internal/search"
	"murmur/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	migrations, err := store.Migrations(dialect)
	if err != nil {
		log.Fatalf("migrations unavailable: %v", err)
	}
	if err := store.ApplyMigrations(ctx, db, dialect, migrations); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	var rowStore store.RowStore = store.NewSQLStore(db, dialect)
	if cfg.StoreRPS > 0 {
		rowStore = store.NewLimited(rowStore, cfg.StoreRPS, cfg.StoreBurst)
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
	}
	searchService := search.NewService(meiliClient, search.NewRowSearch(rowStore))
	defer searchService.Close()

	var cursors cursor.Store
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Printf("Using Redis for read markers")
		redisStore, err := cursor.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatalf("redis connection failed: %v", err)
		}
		defer redisStore.Close()
		cursors = redisStore
	} else {
		log.Printf("Using in-memory read markers")
		cursors = cursor.NewMemoryStore()
	}

	service := app.New(cfg, rowStore, cursors, searchService)
	defer service.Close()
	if err := service.Bootstrap(ctx); err != nil {
		log.Printf("WARNING: bootstrap error (will retry on next restart): %v", err)
	}

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Murmur API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openDatabase(ctx context.Context, cfg config.Config) (*sql.DB, store.Dialect, error) {
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		log.Printf("Using PostgreSQL row store")
		db, err := store.Open(ctx, cfg.DatabaseURL)
		return db, store.DialectPostgres, err
	}
	if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
		return nil, "", err
	}
	log.Printf("Using SQLite row store at %s", cfg.SQLitePath)
	db, err := store.OpenSQLite(ctx, cfg.SQLitePath)
	return db, store.DialectSQLite, err
}
