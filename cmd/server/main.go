// cmd/server/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/phototheology/palace/internal/app"
	"github.com/phototheology/palace/internal/auth"
	"github.com/phototheology/palace/internal/config"
	"github.com/phototheology/palace/internal/handlers"
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("startup: %v", err)
	}
	defer svc.Close()

	sessions, err := auth.NewSessions(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}
	if cfg.Auth.ServiceRoleKey == "" {
		logger.Warn("SERVICE_ROLE_KEY is not set; only user tokens are accepted")
	}

	if cfg.Judge.RubricPath != "" {
		go func() {
			if err := svc.Rubric.Watch(ctx, cfg.Judge.RubricPath, logger); err != nil {
				logger.WithError(err).Error("rubric watcher stopped")
			}
		}()
	}

	router := handlers.NewRouter(handlers.Deps{
		Logger:         logger,
		Store:          svc.Store,
		Judge:          svc.Judge,
		Resolver:       &auth.Resolver{Sessions: sessions, ServiceKey: cfg.Auth.ServiceRoleKey},
		Sessions:       sessions,
		Hasher:         auth.DefaultHasher,
		Deduper:        svc.Deduper,
		Hub:            svc.Hub,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		TokenExpire:    cfg.Auth.TokenExpire.Std(),
	})

	// the write timeout covers a whole AI turn chain, so it is generous
	srv := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      router,
		ReadTimeout:  cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout: cfg.HTTP.WriteTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.HTTP.Addr,
			"store":  cfg.Database.Driver,
			"model":  svc.LLM.Model(),
			"rubric": svc.Rubric.Current().Version,
		}).Info("palace judge listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("server exited: %v", err)
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("graceful shutdown failed")
		}
	}
}
