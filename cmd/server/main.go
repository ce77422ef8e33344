package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"realtime-canvas/internal/cache"
	"realtime-canvas/internal/config"
	"realtime-canvas/internal/database"
	"realtime-canvas/internal/durable"
	"realtime-canvas/internal/ephemeral"
	"realtime-canvas/internal/logging"
	"realtime-canvas/internal/relay"
	"realtime-canvas/internal/server"
)

func main() {
	// 설정 로드
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.JSON)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server exited")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	clk := clock.New()
	g, ctx := errgroup.WithContext(ctx)

	// 데이터베이스 연결 (DB_HOST 없으면 in-memory)
	var (
		db    *gorm.DB
		store durable.Store
	)
	if cfg.Database.Host != "" {
		var err error
		db, err = database.Connect(cfg.Database, logger)
		if err != nil {
			return err
		}
		defer database.Close(db) //nolint:errcheck

		notifier, err := durable.NewPGNotifier(db, cfg.Database.DSN(), logger)
		if err != nil {
			return err
		}
		g.Go(func() error { return notifier.Run(ctx) })
		store = durable.NewGormStore(db, notifier, clk, logger)
		logger.Info("durable store: postgres", zap.String("host", cfg.Database.Host))
	} else {
		store = durable.NewMemoryStore(clk, logger)
		logger.Warn("DB_HOST not set, boards are kept in memory")
	}

	// Redis 연결 (REDIS_ADDR 없으면 단일 인스턴스 in-memory 채널)
	var (
		rdb  *redis.Client
		open relay.ChannelFactory
	)
	if cfg.Redis.Addr != "" {
		var err error
		rdb, err = cache.Connect(ctx, cfg.Redis, logger)
		if err != nil {
			return err
		}
		defer rdb.Close()

		opts := ephemeral.RedisOptions{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Sync.EphemeralTTL,
			Clock:     clk,
			Logger:    logger,
		}
		open = func(context.Context) (ephemeral.Channel, error) {
			return ephemeral.NewRedisChannel(rdb, opts), nil
		}
	} else {
		hub := ephemeral.NewMemoryHub()
		open = func(context.Context) (ephemeral.Channel, error) {
			return hub.Connect(), nil
		}
		logger.Warn("REDIS_ADDR not set, relay runs as a single instance")
	}

	// 서버 생성 및 설정
	srv := server.New(cfg, server.Deps{
		Store:  store,
		Open:   open,
		DB:     db,
		Redis:  rdb,
		Clock:  clk,
		Logger: logger,
	})
	srv.SetupMiddleware()
	srv.SetupRoutes()

	g.Go(func() error { return srv.Run(ctx) })
	return g.Wait()
}
