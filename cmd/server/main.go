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

	"github.com/go-redis/redis/v8"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/play-tracker/internal/config"
	"github.com/DoyleJ11/play-tracker/internal/httpapi"
	"github.com/DoyleJ11/play-tracker/internal/logging"
	"github.com/DoyleJ11/play-tracker/internal/rooms"
	"github.com/DoyleJ11/play-tracker/internal/watch"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg := config.LoadServer()

	logger, err := logging.New(cfg.LogLevel, cfg.LogDev)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Server, logger *zap.Logger) (err error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	// The hub and broker outlive ctx so requests still draining during
	// shutdown can be served.
	broker := watch.NewBroker(context.Background())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.SetupRoutes(store, broker, logger, cfg.CORSOrigins),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", srv.Addr), zap.String("room_store", cfg.RoomStore))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		broker.Send(shutdownCtx, watch.Shutdown{})
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func openStore(ctx context.Context, cfg config.Server) (rooms.Store, error) {
	switch cfg.RoomStore {
	case config.StorePostgres:
		st, err := rooms.OpenPostgres(cfg.DatabaseURL, nil)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.RedisAddr, err)
		}
		return rooms.NewRedisStore(rdb, nil), nil
	default:
		return rooms.NewHub(context.Background(), nil), nil
	}
}
