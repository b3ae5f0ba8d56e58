package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"stokku/backend/internal/backup"
	"stokku/backend/internal/config"
	"stokku/backend/internal/feed"
	"stokku/backend/internal/gateway"
	"stokku/backend/internal/httpapi"
	"stokku/backend/internal/logger"
	"stokku/backend/internal/metrics"
	"stokku/backend/internal/service"
	"stokku/backend/internal/session"
	"stokku/backend/internal/store"
	"stokku/backend/internal/store/memory"
	pgstore "stokku/backend/internal/store/postgres"
)

func main() {
	cfg := config.Load()

	lg, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()

	if err := validateSecurityConfig(cfg); err != nil {
		lg.Fatal("invalid security configuration", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var repo store.Repository
	closers := make([]func() error, 0, 3)

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			lg.Fatal("postgres unavailable and DATABASE_URL is set; refusing to start with in-memory fallback", zap.Error(err))
		}
		repo = pg
		closers = append(closers, pg.Close)
		lg.Info("repository: postgres")
	} else {
		repo = memory.NewSeeded()
		lg.Info("repository: in-memory")
	}

	var updates feed.Feed = feed.NewHub()
	if cfg.RedisAddr != "" {
		redisFeed := feed.NewRedisFeed(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, lg)
		if err := redisFeed.Ping(ctx); err != nil {
			lg.Warn("redis unavailable, using in-process feed", zap.Error(err))
			_ = redisFeed.Close()
		} else {
			updates = redisFeed
			closers = append(closers, redisFeed.Close)
			lg.Info("feed: redis")
		}
	} else {
		lg.Info("feed: in-process")
	}

	var remote session.Remote
	if cfg.SyncDisabled {
		lg.Warn("remote sync disabled; documents live in the local backup only")
	} else {
		remote = gateway.New(repo, updates, lg)
	}

	var bk backup.Store = backup.NewMemory()
	if cfg.BackupPath != "" {
		sqliteBackup, err := backup.OpenSQLite(cfg.BackupPath)
		if err != nil {
			lg.Fatal("open backup", zap.String("path", cfg.BackupPath), zap.Error(err))
		}
		bk = sqliteBackup
		closers = append(closers, sqliteBackup.Close)
		lg.Info("backup: sqlite", zap.String("path", cfg.BackupPath))
	}

	svc := service.New(remote, bk, metrics.New(prometheus.DefaultRegisterer), service.Options{
		SaveDebounce: cfg.SaveDebounce,
	}, lg)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AccessTokenTTLMinutes)*time.Minute, repo)
	api := httpapi.New(svc, auth, cfg.AllowedOrigin, prometheus.DefaultGatherer, lg)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		lg.Info("stokku backend listening", zap.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server error", zap.Error(err))
		}
	}()

	evictCtx, stopEvict := context.WithCancel(context.Background())
	go func() {
		ticker := time.NewTicker(cfg.SessionIdle / 2)
		defer ticker.Stop()
		for {
			select {
			case <-evictCtx.Done():
				return
			case <-ticker.C:
				svc.EvictIdle(evictCtx, cfg.SessionIdle)
			}
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	stopEvict()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown error", zap.Error(err))
	}
	// Sessions flush pending edits before the stores go away.
	if err := svc.Close(shutdownCtx); err != nil {
		lg.Error("session flush error", zap.Error(err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			lg.Error("close error", zap.Error(err))
		}
	}

	lg.Info("server stopped")
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.SaveDebounce < 100*time.Millisecond {
		return fmt.Errorf("SAVE_DEBOUNCE_MS must be at least 100")
	}
	return nil
}
