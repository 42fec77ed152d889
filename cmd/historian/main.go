// cmd/historian drains the move queue into Postgres and marks idle games abandoned.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/phototheology/palace/internal/app"
	"github.com/phototheology/palace/internal/cache"
	"github.com/phototheology/palace/internal/config"
	"github.com/phototheology/palace/internal/database"
	"github.com/phototheology/palace/internal/historian"
	"github.com/sirupsen/logrus"
)

func main() {
	configPath := flag.String("config", os.Getenv("PALACE_CONFIG"), "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("config: %v", err)
	}
	logger := app.NewLogger(cfg)
	if cfg.Database.Driver != "postgres" {
		logger.Fatalf("the historian writes to postgres; DB_DRIVER is %q", cfg.Database.Driver)
	}
	if cfg.Redis.Addr == "" {
		logger.Fatal("the historian reads from redis; set REDIS_ADDR")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Connect(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatalf("database: %v", err)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatalf("database: %v", err)
	}

	rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
	if err != nil {
		logger.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	svc := historian.New(
		&historian.RedisQueue{Rdb: rdb, Name: cfg.Redis.QueueName},
		&historian.PostgresSink{Pool: pool},
		historian.Options{
			BatchSize:        cfg.Historian.BatchSize,
			FlushInterval:    cfg.Historian.FlushInterval.Std(),
			Inactivity:       cfg.Historian.InactivityTimeout.Std(),
			MaxFlushAttempts: cfg.Historian.MaxFlushAttempts,
			DeadLetter:       &historian.RedisDeadLetter{Rdb: rdb, Name: cfg.Historian.DeadLetterQueue},
			Logger:           logger.WithField("service", "historian"),
		},
	)
	if err := svc.Run(ctx); err != nil {
		logger.WithError(err).Error("historian stopped")
	}
}
