// Command settlementd runs the gold settlement layer: the HTTP trigger API,
// the ledger receipt confirmer and, when enabled, the cron scheduler.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	app "github.com/Aureus-Network/settlement_layer/internal/app"
	"github.com/Aureus-Network/settlement_layer/internal/app/httpapi"
	settlementsvc "github.com/Aureus-Network/settlement_layer/internal/app/services/settlement"
	"github.com/Aureus-Network/settlement_layer/internal/app/storage/postgres"
	"github.com/Aureus-Network/settlement_layer/internal/config"
	"github.com/Aureus-Network/settlement_layer/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	log := logger.NewDefault("settlementd")

	cfg := config.LoadOrDefault()

	stores := app.Stores{}
	if cfg.PostgresDSN != "" {
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			log.WithError(err).Error("open postgres")
			os.Exit(1)
		}
		defer db.Close()
		if err := db.Ping(); err != nil {
			log.WithError(err).Error("ping postgres")
			os.Exit(1)
		}
		store := postgres.New(db)
		stores = app.Stores{Accounts: store, Runs: store, Snapshots: store, Receipts: store}
		log.Info("using postgres storage")
	} else {
		log.Warn("POSTGRES_DSN not set; using in-memory storage")
	}

	audit := httpapi.NewAuditRing(200)
	opts := app.Options{Audit: audit}
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		opts.Lock = settlementsvc.NewRedisRunLock(client, "", cfg.Settlement.RunLockTTL.Duration(), log)
		log.Info("using redis-backed run lock")
	}

	application, err := app.New(cfg, stores, opts, log)
	if err != nil {
		log.WithError(err).Error("build application")
		os.Exit(1)
	}

	handler := httpapi.NewHandler(application.Settlement, audit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Start(ctx); err != nil {
		log.WithError(err).Error("start services")
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              cfg.HTTPListen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.WithField("addr", cfg.HTTPListen).Info("settlement API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server stopped")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Warn("service shutdown")
	}
}
