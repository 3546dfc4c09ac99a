package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/pos-ledger/internal/adapter/handler"
	"github.com/rl1809/pos-ledger/internal/adapter/storage"
	"github.com/rl1809/pos-ledger/internal/config"
	"github.com/rl1809/pos-ledger/internal/core/domain"
	"github.com/rl1809/pos-ledger/internal/core/service"
	"github.com/rl1809/pos-ledger/internal/port"
)

func main() {
	configFile := flag.String("config", "", "path to a config file (yaml, toml or json)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	level, _ := cfg.Log.SlogLevel()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	// Redis is optional; without it there are no idempotency keys and no
	// login rate limit.
	var cache port.CacheRepository
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		redisAdapter := storage.NewRedisAdapter(rdb)
		if err := redisAdapter.Ping(ctx); err != nil {
			return err
		}
		defer redisAdapter.Close()
		cache = redisAdapter
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	stock := service.NewStockAdjuster()
	transactions := service.NewTransactionService(store, cache, stock, logger)
	catalog := service.NewCatalogService(store, stock, logger)
	reports := service.NewReportService(store, service.DefaultBestSellers)
	auth := service.NewAuthService(store, cache, service.AuthConfig{
		Secret:     []byte(cfg.Auth.JWTSecret),
		TokenTTL:   cfg.Auth.TokenTTL,
		RateLimit:  cfg.Auth.LoginRateLimit,
		RateWindow: cfg.Auth.LoginRateWindow,
	})

	if cfg.Auth.AdminUser != "" {
		err := auth.CreateUser(ctx, cfg.Auth.AdminUser, cfg.Auth.AdminPassword)
		switch {
		case err == nil:
			logger.Info("created admin user", "username", cfg.Auth.AdminUser)
		case errors.Is(err, domain.ErrDuplicateUser):
		default:
			return err
		}
	}

	// gRPC server
	grpcHandler := handler.NewGRPCHandler(transactions, auth, logger)
	grpcServer := grpcHandler.NewServer()

	lis, err := net.Listen("tcp", cfg.GRPC.Addr)
	if err != nil {
		return err
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPC.Addr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(transactions, catalog, reports, auth, logger)
	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpHandler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTP.Addr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Shutdown.Timeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (port.LedgerStore, error) {
	switch cfg.Store.Driver {
	case config.DriverMySQL:
		db, err := sql.Open("mysql", cfg.MySQL.DSN)
		if err != nil {
			return nil, err
		}
		db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to mysql")

		adapter := storage.NewMySQLAdapter(db)
		if cfg.MySQL.Migrate {
			if err := adapter.Migrate(ctx); err != nil {
				db.Close()
				return nil, err
			}
		}
		return adapter, nil
	default:
		adapter, err := storage.NewBadgerAdapter(storage.BadgerOptions{
			Dir:      cfg.Badger.Dir,
			InMemory: cfg.Badger.InMemory,
			Logger:   logger,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("opened badger ledger", "dir", cfg.Badger.Dir, "in_memory", cfg.Badger.InMemory)
		return adapter, nil
	}
}
