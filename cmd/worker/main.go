package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/archflow/engine/internal/deploy"
	"github.com/archflow/engine/internal/queue/tasks"
	"github.com/archflow/engine/internal/repository"
	"github.com/archflow/engine/pkg/config"
	"github.com/archflow/engine/pkg/database"
	"github.com/archflow/engine/pkg/logger"
)

func main() {
	cfg := config.MustLoad()
	log, err := logger.Init(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to open database", zap.Error(err))
	}

	projectRepo := repository.NewProjectRepository(db)
	archRepo := repository.NewArchitectureRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	resourceRepo := repository.NewResourceRepository(db)

	guard := deploy.NewGuard(rdb, 0)
	workspaces, err := deploy.NewWorkspaces(cfg.WorkspacesDir, guard)
	if err != nil {
		log.Fatal("failed to prepare workspaces dir", zap.Error(err))
	}

	runner, err := deploy.NewTerraformRunner(cfg.TerraformBin)
	if err != nil {
		log.Fatal("terraform not available", zap.Error(err))
	}

	engine := deploy.NewEngine(deploy.EngineParams{
		Workspaces:    workspaces,
		Guard:         guard,
		Hub:           deploy.NewHub(),
		Relay:         deploy.NewRedisPublisher(rdb),
		Runner:        runner,
		Projects:      projectRepo,
		Architectures: archRepo,
		Deployments:   deployRepo,
		Resources:     resourceRepo,
		TailLines:     cfg.LogTailLines,
	})

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		},
		asynq.Config{
			Concurrency: cfg.AsynqConcurrency,
		},
	)

	handler := tasks.NewDeploymentTaskHandler(engine)
	mux := asynq.NewServeMux()
	mux.HandleFunc(tasks.TypeDeploymentApply, handler.HandleApply)
	mux.HandleFunc(tasks.TypeDeploymentDestroy, handler.HandleDestroy)

	errCh := make(chan error, 1)
	go func() {
		logger.L().Info("asynq worker starting", zap.Int("concurrency", cfg.AsynqConcurrency))
		if err := srv.Run(mux); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.L().Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.L().Error("worker stopped with error", zap.Error(err))
	}

	srv.Shutdown()
}
