package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fjod/go_cart/marketcart/internal/cache"
	"github.com/fjod/go_cart/marketcart/internal/checkout"
	carthttp "github.com/fjod/go_cart/marketcart/internal/http"
	"github.com/fjod/go_cart/marketcart/internal/notify"
	"github.com/fjod/go_cart/marketcart/internal/poller"
	"github.com/fjod/go_cart/marketcart/internal/repository"
	"github.com/fjod/go_cart/marketcart/internal/service"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the cart HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	mongoDB, err := repository.ConnectMongoDB(ctx, repository.MongoConfig{
		URI:      cfg.MongoURI,
		Database: cfg.MongoDBName,
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := mongoDB.Client().Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect failed", zap.Error(err))
		}
	}()

	repo := repository.NewMongoRepository(mongoDB)
	if err := repository.EnsureIndexes(ctx, repo); err != nil {
		return err
	}
	logger.Info("connected to MongoDB", zap.String("database", cfg.MongoDBName))

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed: %w", err)
	}
	logger.Info("redis ping succeeded", zap.String("addr", cfg.RedisAddr))

	notifier := notify.NewRedisNotifier(redisClient, logger)
	carts := service.NewCartService(repo, cache.NewRedisCache(redisClient, cfg.CacheTTL), logger, service.Options{
		SaveTimeout:      cfg.SaveTimeout,
		BreakerFailures:  cfg.BreakerFailures,
		BreakerOpenDelay: cfg.BreakerOpenDelay,
		IdleTimeout:      cfg.SessionIdleTimeout,
		Notifier:         notifier,
	})
	// flushes pending snapshots, so it must run after the server drains
	defer carts.Close()

	publisher := checkout.NewPublisher(cfg.KafkaBrokers...)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("kafka writer close failed", zap.Error(err))
		}
	}()

	completions := poller.NewPoller(carts, logger, cfg.KafkaBrokers...)
	workerCtx, stopWorkers := context.WithCancel(context.Background())
	var workers sync.WaitGroup
	workers.Add(2)
	go func() {
		defer workers.Done()
		completions.Run(workerCtx)
	}()
	go func() {
		defer workers.Done()
		err := notifier.Run(workerCtx, func(ctx context.Context, m notify.Message) {
			carts.Refresh(ctx, m.SessionID, m.Kind == notify.MessageCleared)
		})
		if err != nil {
			logger.Error("cart change subscription stopped", zap.Error(err))
		}
	}()
	defer func() {
		stopWorkers()
		workers.Wait()
		completions.Close()
	}()

	cartHandler := carthttp.NewCartHandler(carts, cfg.RequestTimeout, cfg.MaxRequestBodySize, logger)
	router := carthttp.NewRouter(carthttp.RouterConfig{
		Cart:           cartHandler,
		Checkout:       carthttp.NewCheckoutHandler(cartHandler, publisher, cfg.Currency, cfg.RequestTimeout, logger),
		Feed:           carthttp.NewCartFeed(carts, logger),
		RequestTimeout: cfg.RequestTimeout,
		Log:            logger,
	})

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     otelhttp.NewHandler(router, "cartd"),
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout, it would cut WebSocket feeds
		IdleTimeout: 60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("cart service listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down cart service")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("cart service stopped")
	return nil
}
