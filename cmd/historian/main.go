// cmd/historian drains the Redis action queue into the Postgres game_actions table.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jason-s-yu/cluedo/internal/cache"
	"github.com/jason-s-yu/cluedo/internal/config"
	"github.com/jason-s-yu/cluedo/internal/database"
	"github.com/jason-s-yu/cluedo/internal/historian"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := cfg.Logger()
	if cfg.DatabaseURL == "" || cfg.RedisAddr == "" {
		logger.Fatal("the historian needs DATABASE_URL and REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("migrate: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.NewService(
		cache.NewConsumer(rdb, cfg.QueueName),
		database.NewActionStore(pool),
		cfg.HistorianBatchSize,
		cfg.HistorianFlush,
		logger,
	)
	if err := svc.Run(ctx); err != nil {
		logger.Fatalf("historian: %v", err)
	}
}
