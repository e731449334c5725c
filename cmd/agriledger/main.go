package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/agriledger/cmd/agriledger/cli"
	"github.com/odyssey-erp/agriledger/internal/app"
	"github.com/odyssey-erp/agriledger/internal/observability"
	"github.com/odyssey-erp/agriledger/internal/platform/cache"
	"github.com/odyssey-erp/agriledger/internal/platform/db"
	"github.com/odyssey-erp/agriledger/jobs"
	"github.com/odyssey-erp/agriledger/migrations"
)

const usage = `usage: agriledger [serve | migrate | jobs trigger <task> | jobs stats]`

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	args := os.Args[1:]
	command := "serve"
	if len(args) > 0 {
		command, args = args[0], args[1:]
	}

	switch command {
	case "serve":
		if err := serve(ctx, cfg, logger); err != nil {
			logger.Error("serve", slog.Any("error", err))
			os.Exit(1)
		}
	case "migrate":
		if err := db.Migrate(cfg.PGDSN, migrations.FS, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
	case "jobs":
		jobsCLI := cli.NewJobsCLI(cfg.Redis().Asynq())
		code := jobsCLI.Run(ctx, args, os.Stdout, os.Stderr)
		if err := jobsCLI.Close(); err != nil {
			logger.Warn("jobs cli close", slog.Any("error", err))
		}
		os.Exit(code)
	default:
		_, _ = fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
}

func serve(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	if cfg.MigrateOnStart {
		if err := db.Migrate(cfg.PGDSN, migrations.FS, logger); err != nil {
			return err
		}
	}

	pool, err := db.New(ctx, cfg.Postgres())
	if err != nil {
		return err
	}
	defer pool.Close()

	var redisClient *redis.Client
	if cfg.LockBackend == app.LockBackendRedis {
		redisClient, err = cache.New(ctx, cfg.Redis())
		if err != nil {
			return err
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	services := app.BuildServices(cfg, pool, redisUniversal(redisClient), metrics, logger)

	inspector := asynq.NewInspector(cfg.Redis().Asynq())
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	params := app.RouterParams{
		Logger:     logger,
		Config:     cfg,
		Metrics:    metrics,
		Database:   poolPinger{pool},
		JobHandler: jobs.NewHandler(inspector, logger),
	}
	services.Handlers(cfg, logger, &params)
	router := app.NewRouter(params)

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

type poolPinger struct {
	pool *pgxpool.Pool
}

func (p poolPinger) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// redisUniversal avoids handing a typed nil client to the locker factory.
func redisUniversal(client *redis.Client) redis.UniversalClient {
	if client == nil {
		return nil
	}
	return client
}
