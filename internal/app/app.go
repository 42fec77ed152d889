// Package app assembles the services the binaries share from a Config.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/phototheology/palace/internal/cache"
	"github.com/phototheology/palace/internal/config"
	"github.com/phototheology/palace/internal/database"
	"github.com/phototheology/palace/internal/database/sqlite"
	"github.com/phototheology/palace/internal/feed"
	"github.com/phototheology/palace/internal/judge"
	"github.com/phototheology/palace/internal/llm"
	"github.com/phototheology/palace/internal/rubric"
	"github.com/phototheology/palace/internal/store"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a logrus logger at cfg.LogLevel, JSON formatted in production.
func NewLogger(cfg *config.Config) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stdout)
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
		logger.Warnf("unknown log level %q, using info", cfg.LogLevel)
	}
	logger.SetLevel(level)
	if cfg.IsProduction() {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}

// OpenStore opens the store named by cfg.Driver. For postgres the pool is
// returned too, and the schema is applied.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *logrus.Logger) (store.Store, *pgxpool.Pool, error) {
	switch cfg.Driver {
	case "memory":
		logger.Warn("using the in-memory store; nothing survives a restart")
		return store.NewMemory(), nil, nil
	case "sqlite":
		st, err := sqlite.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil
	case "postgres":
		pool, err := database.Connect(ctx, cfg.URL)
		if err != nil {
			return nil, nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return database.NewStore(pool), pool, nil
	}
	return nil, nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
}

// LoadRubric returns a holder for the rubric file at path, or for the built-in
// rubric when path is empty.
func LoadRubric(path string) (*rubric.Holder, error) {
	if path == "" {
		return rubric.NewHolder(rubric.Default()), nil
	}
	r, err := rubric.Load(path)
	if err != nil {
		return nil, err
	}
	return rubric.NewHolder(r), nil
}

// Services is everything the judging server runs on.
type Services struct {
	Store   store.Store
	Pool    *pgxpool.Pool
	Redis   *redis.Client
	LLM     llm.Client
	Rubric  *rubric.Holder
	Hub     *feed.Hub
	Deduper cache.Deduper
	Judge   *judge.Judge
}

// Build opens the store, Redis (when configured) and the LLM client, and wires
// the judge to publish to the live feed and the historian queue.
func Build(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Services, error) {
	svc := &Services{Hub: feed.NewHub(logger)}

	st, pool, err := OpenStore(ctx, cfg.Database, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	svc.Store, svc.Pool = st, pool

	if svc.LLM, err = llm.New(ctx, cfg.LLM); err != nil {
		svc.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		logger.Warn("LLM_API_KEY is not set; judging requests will fail")
	}

	if svc.Rubric, err = LoadRubric(cfg.Judge.RubricPath); err != nil {
		svc.Close()
		return nil, err
	}

	publishers := []judge.Publisher{svc.Hub}
	if cfg.Redis.Addr != "" {
		rdb, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.DB)
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Redis = rdb
		svc.Deduper = &cache.RedisDeduper{Rdb: rdb, TTL: cfg.Redis.DedupeTTL.Std()}
		publishers = append(publishers, cache.NewPublisher(rdb, cfg.Redis.QueueName))
	} else {
		logger.Info("REDIS_ADDR not set; transcripts are not queued and request ids are de-duplicated in process")
		svc.Deduper = cache.NewMemoryDeduper(cfg.Redis.DedupeTTL.Std())
	}

	svc.Judge = judge.New(svc.Store, svc.LLM, svc.Rubric, judge.Options{
		MaxAITurns:  cfg.Judge.MaxAITurns,
		RecentMoves: cfg.Judge.RecentMoves,
		Publishers:  publishers,
		Logger:      logger,
	})
	return svc, nil
}

func (s *Services) Close() {
	if s.Redis != nil {
		s.Redis.Close()
	}
	if s.Store != nil {
		s.Store.Close()
	}
}
