package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/cache"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/config"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/httpapi"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/service"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store"
	"github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store/memory"
	mongostore "github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store/mongo"
	pgstore "github.com/EtimbukUdofia/cement-sales-and-logistics-system-sub000/internal/store/postgres"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogFormat, os.Stdout)
	slog.SetDefault(logger)

	if err := validateSecurityConfig(cfg); err != nil {
		logger.Error("invalid security configuration", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	repo, closers, err := openRepository(ctx, cfg, logger)
	if err != nil {
		logger.Error("repository unavailable", slog.String("backend", cfg.Backend()), slog.Any("error", err))
		os.Exit(1)
	}
	settingsCache, closeCache := openSettingsCache(ctx, cfg, logger)
	if closeCache != nil {
		closers = append(closers, closeCache)
	}

	svc := service.New(repo, settingsCache, cfg.SettingsCacheTTL, logger)
	auth := httpapi.NewAuthManager(cfg.AuthSecret, cfg.AccessTokenTTL, repo)
	if cfg.Backend() != "memory" {
		if err := auth.EnsureAdmin(ctx, cfg.BootstrapAdminUsername, cfg.BootstrapAdminPassword); err != nil {
			logger.Warn("admin bootstrap skipped", slog.Any("error", err))
		}
	}
	api := httpapi.New(svc, auth, httpapi.Options{
		AllowedOrigin:     cfg.AllowedOrigin,
		CookieSecure:      cfg.CookieSecure,
		RequestTimeout:    cfg.RequestTimeout,
		LoginAttempts:     cfg.LoginAttempts,
		TrustProxyHeaders: cfg.TrustProxyHeaders,
		Logger:            logger,
	})

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("cement sales api listening", slog.String("addr", cfg.Address()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.Any("error", err))
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			logger.Warn("close error", slog.Any("error", err))
		}
	}

	logger.Info("server stopped")
}

// openRepository picks Mongo, then Postgres, then the seeded memory store.
// A configured database that cannot be reached is fatal rather than a silent
// fallback to memory.
func openRepository(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Repository, []func() error, error) {
	switch cfg.Backend() {
	case "mongo":
		mg, err := mongostore.New(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		if err := mg.EnsureIndexes(ctx); err != nil {
			_ = mg.Close()
			return nil, nil, fmt.Errorf("ensure indexes: %w", err)
		}
		logger.Info("repository: mongo", slog.String("database", cfg.MongoDatabase))
		return mg, []func() error{mg.Close}, nil
	case "postgres":
		pg, err := pgstore.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			_ = pg.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("repository: postgres")
		return pg, []func() error{pg.Close}, nil
	default:
		logger.Info("repository: in-memory")
		return memory.NewSeeded(), nil, nil
	}
}

// openSettingsCache returns a Redis cache when REDIS_ADDR answers a ping and
// the noop cache otherwise.
func openSettingsCache(ctx context.Context, cfg config.Config, logger *slog.Logger) (cache.SettingsCache, func() error) {
	if cfg.RedisAddr == "" {
		logger.Info("cache: noop")
		return cache.NoopSettingsCache{}, nil
	}
	redisCache := cache.NewRedisSettingsCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err := redisCache.Ping(ctx); err != nil {
		logger.Warn("redis unavailable, using noop cache", slog.Any("error", err))
		_ = redisCache.Close()
		return cache.NoopSettingsCache{}, nil
	}
	logger.Info("cache: redis", slog.String("addr", cfg.RedisAddr))
	return redisCache, redisCache.Close
}

func validateSecurityConfig(cfg config.Config) error {
	if len(cfg.AuthSecret) < 32 {
		return fmt.Errorf("AUTH_SECRET must be set and at least 32 characters")
	}
	if cfg.Backend() != "memory" && len(cfg.BootstrapAdminPassword) > 0 && len(cfg.BootstrapAdminPassword) < 8 {
		return fmt.Errorf("BOOTSTRAP_ADMIN_PASSWORD must be at least 8 characters")
	}
	return nil
}
