package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"posbackoffice/backend/internal/cache"
	"posbackoffice/backend/internal/config"
	"posbackoffice/backend/internal/httpapi"
	"posbackoffice/backend/internal/ledger"
	"posbackoffice/backend/internal/logger"
	"posbackoffice/backend/internal/report"
	"posbackoffice/backend/internal/service"
	"posbackoffice/backend/internal/store"
	"posbackoffice/backend/internal/store/memory"
	pgstore "posbackoffice/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	log, err := logger.New(logger.Config{
		IsDevelopment: cfg.IsDevelopment(),
		Encoding:      cfg.LogEncoding,
		Level:         cfg.LogLevel,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	zap.ReplaceGlobals(log)

	if err := validateSecurityConfig(cfg); err != nil {
		log.Fatal("invalid security configuration", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo interface {
		store.Repository
		httpapi.UserStore
	}
	closers := make([]func() error, 0, 2)

	if cfg.DatabaseURL != "" {
		if cfg.RunMigrations {
			if err := pgstore.Migrate(cfg.DatabaseURL); err != nil {
				log.Fatal("migrations failed", zap.Error(err))
			}
			log.Info("migrations applied")
		}
		pg, err := pgstore.New(ctx, cfg.DatabaseURL, cfg.DBMaxOpenConns)
		if err != nil {
			log.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		log.Info("repository ready", zap.String("backend", "postgres"))
	} else {
		repo = memory.NewSeeded()
		log.Info("repository ready", zap.String("backend", "memory"))
	}

	reportCache := cache.ReportCache(cache.NoopReportCache{})
	if cfg.RedisAddr != "" {
		redisCache := cache.NewRedisReportCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			log.Warn("redis unavailable, using noop cache", zap.Error(err))
			_ = redisCache.Close()
		} else {
			reportCache = redisCache
			closers = append(closers, redisCache.Close)
			log.Info("report cache ready", zap.String("backend", "redis"))
		}
	}

	reports := report.NewEngine(repo, reportCache, cfg.ReportCacheTTL(), log)
	svc := service.New(repo, ledger.New(), reports, log, service.Options{
		TxNumberRetries:      cfg.TxNumberRetries,
		LoyaltySpendPerPoint: cfg.LoyaltySpendPerPoint,
	})
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL(), repo)
	api := httpapi.New(svc, auth, log, cfg.AllowedOrigin)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("POS back office listening", zap.String("addr", cfg.Address()), zap.String("env", cfg.AppEnv))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server error", zap.Error(err))
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Error("close error", zap.Error(err))
		}
	}

	log.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if !cfg.IsDevelopment() && cfg.AllowedOrigin == "*" {
		return fmt.Errorf("ALLOWED_ORIGIN must name an origin outside development")
	}
	return nil
}
