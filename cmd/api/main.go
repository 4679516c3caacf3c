package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/archflow/engine/internal/api"
	"github.com/archflow/engine/internal/api/handlers"
	"github.com/archflow/engine/internal/deploy"
	"github.com/archflow/engine/internal/pipeline"
	"github.com/archflow/engine/internal/queue"
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

	log.Info("starting archflow api",
		zap.String("env", cfg.AppEnv),
		zap.String("addr", cfg.HTTPAddr),
	)

	ctx := context.Background()
	db, err := database.OpenPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal("failed to connect to database", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("redis connection failed", zap.Error(err))
	}

	projectRepo := repository.NewProjectRepository(db)
	archRepo := repository.NewArchitectureRepository(db)
	deployRepo := repository.NewDeploymentRepository(db)
	resourceRepo := repository.NewResourceRepository(db)
	chatRepo := repository.NewChatRepository(db)

	guard := deploy.NewGuard(rdb, 0)
	workspaces, err := deploy.NewWorkspaces(cfg.WorkspacesDir, guard)
	if err != nil {
		log.Fatal("failed to prepare workspaces dir", zap.Error(err))
	}
	hub := deploy.NewHub()

	enqueuer := queue.NewEnqueuer(cfg.RedisAddr, cfg.RedisPassword)
	defer enqueuer.Close()

	engine := deploy.NewEngine(deploy.EngineParams{
		Workspaces:    workspaces,
		Guard:         guard,
		Hub:           hub,
		Enqueuer:      enqueuer,
		Projects:      projectRepo,
		Architectures: archRepo,
		Deployments:   deployRepo,
		Resources:     resourceRepo,
		TailLines:     cfg.LogTailLines,
	})

	llm := pipeline.NewOpenAIClient(cfg.LLMAPIKey, cfg.LLMBaseURL, cfg.LLMModel)
	orchestrator := pipeline.NewOrchestrator(llm, archRepo, chatRepo, workspaces, deploy.NewSanitizer())

	router := api.NewRouter(api.Dependencies{
		ProjectsHandler:      handlers.NewProjectsHandler(projectRepo, resourceRepo, chatRepo),
		ArchitecturesHandler: handlers.NewArchitecturesHandler(orchestrator, archRepo),
		DeploymentsHandler:   handlers.NewDeploymentsHandler(engine, deployRepo),
		LogsHandler:          handlers.NewLogsHandler(deployRepo, hub, rdb),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       90 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("http server starting", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		log.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	} else {
		log.Info("server exited gracefully")
	}
}
