package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/orbitex/ratelimitd/internal/config"
	"github.com/orbitex/ratelimitd/internal/ratelimit"
	"github.com/orbitex/ratelimitd/internal/server"
	"github.com/orbitex/ratelimitd/pkg/logger"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to configuration file")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("no .env file found, using environment variables")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	zapLogger, err := logger.New(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer zapLogger.Sync()

	// The shared store is optional: without it the limiter degrades to
	// per-process counting from the start.
	var shared ratelimit.WindowStore
	var redisStore *ratelimit.RedisStore
	if cfg.Redis.Address != "" {
		redisStore = ratelimit.NewRedisStoreFromOptions(cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB)
		shared = redisStore
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RateLimit.StoreTimeout)
		if err := redisStore.Ping(ctx); err != nil {
			zapLogger.Warn("shared store unreachable at startup, serving from local fallback", zap.Error(err))
		}
		cancel()
	} else {
		zapLogger.Warn("no shared store configured, rate limits are per-process only")
	}

	limiter := ratelimit.New(ratelimit.Config{
		StoreTimeout:    cfg.RateLimit.StoreTimeout,
		FallbackEnabled: cfg.RateLimit.FallbackEnabled,
		LocalCacheSize:  cfg.RateLimit.LocalCacheSize,
	}, shared, zapLogger)

	rules, err := cfg.RateLimit.BuildRules()
	if err != nil {
		zapLogger.Fatal("invalid rate limit rules", zap.Error(err))
	}
	for _, rule := range rules {
		if err := limiter.AddRule(rule); err != nil {
			zapLogger.Fatal("failed to install rule", zap.Error(err))
		}
	}

	srv := server.New(cfg, limiter, zapLogger)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			zapLogger.Fatal("server failed", zap.Error(err))
		}
	case sig := <-quit:
		zapLogger.Info("shutting down", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			zapLogger.Error("graceful shutdown failed", zap.Error(err))
		}
	}

	if redisStore != nil {
		if err := redisStore.Close(); err != nil {
			zapLogger.Error("failed to close redis client", zap.Error(err))
		}
	}
}
