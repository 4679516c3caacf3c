// Package queue wires deployment jobs onto asynq.
package queue

import (
	"context"

	"github.com/archflow/engine/internal/queue/tasks"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Enqueuer pushes admitted deployment jobs onto the worker queue.
type Enqueuer struct {
	client *asynq.Client
}

func NewEnqueuer(redisAddr, redisPassword string) *Enqueuer {
	return &Enqueuer{client: asynq.NewClient(asynq.RedisClientOpt{
		Addr:     redisAddr,
		Password: redisPassword,
		DB:       0,
	})}
}

func (e *Enqueuer) EnqueueDeployment(ctx context.Context, action string, jobID uuid.UUID) error {
	task, err := tasks.NewDeploymentTask(action, jobID)
	if err != nil {
		return err
	}
	info, err := e.client.EnqueueContext(ctx, task)
	if err != nil {
		return appErr.Wrap(err, appErr.CodeUnavailable, "enqueue deployment task failed")
	}
	logger.L().Info("deployment task enqueued",
		zap.String("task_id", info.ID),
		zap.String("queue", info.Queue),
		zap.String("job_id", jobID.String()),
		zap.String("action", action))
	return nil
}

func (e *Enqueuer) Close() error {
	return e.client.Close()
}
