package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"icpquery/internal/icp/handler"
	"icpquery/internal/icp/provider"
	"icpquery/internal/icp/reconcile"
	"icpquery/internal/icp/service"
	"icpquery/internal/icp/store"
	"icpquery/internal/platform/config"
	"icpquery/internal/platform/httpserver"
	"icpquery/internal/platform/logger"
	"icpquery/internal/platform/metrics"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	recordStore, closeStore, err := newStore(cfg, log)
	if err != nil {
		log.Error("failed to open record store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	m := metrics.New()
	engine := reconcile.New(recordStore, cfg.CacheExpireDays, log, m)

	chinaz := provider.NewChinaz(provider.ChinazConfig{
		BaseURL: cfg.ChinazBaseURL,
		APIKey:  cfg.ChinazAPIKey,
		Timeout: cfg.ProviderTimeout,
	}, log, m)
	tianyancha := provider.NewTianyancha(provider.TianyanchaConfig{
		SearchBaseURL: cfg.TianyanchaSearchBaseURL,
		ICPBaseURL:    cfg.TianyanchaICPQueryBaseURL,
		Token:         cfg.TianyanchaAPIKey,
		Timeout:       cfg.ProviderTimeout,
	}, log, m)

	svc := service.New(recordStore, engine, []provider.Client{chinaz, tianyancha}, log, m)

	router := chi.NewRouter()
	handler.New(svc, log, m, cfg.AuthKey).Register(router)
	router.Get("/", handleHealth)
	router.Get("/health", handleHealth)
	router.Handle("/metrics", promhttp.Handler())

	srv := httpserver.New(cfg.Addr, router)

	log.Info("starting icpquery", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
}

// newStore opens postgres when DATABASE_URL is set and falls back to the
// in-memory store otherwise, so the service runs without infrastructure in
// development.
func newStore(cfg config.Config, log *slog.Logger) (store.RecordStore, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Warn("DATABASE_URL not set, using in-memory record store")
		return store.NewMemory(), func() {}, nil
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := store.EnsureSchema(ctx, db); err != nil {
		db.Close()
		return nil, nil, err
	}
	return store.NewPostgres(db), func() { db.Close() }, nil
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
