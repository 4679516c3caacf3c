package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/archflow/engine/pkg/logger"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/archflow/engine/internal/models"
)

// Task type names registered on the worker mux.
const (
	TypeDeploymentApply   = "deployment:apply"
	TypeDeploymentDestroy = "deployment:destroy"
)

// deployTimeout bounds a single terraform run end to end.
const deployTimeout = 2 * time.Hour

// DeploymentPayload is the task payload for apply and destroy tasks.
type DeploymentPayload struct {
	JobID string `json:"job_id"`
}

// NewDeploymentTask builds the asynq task for an admitted job.
func NewDeploymentTask(action string, jobID uuid.UUID) (*asynq.Task, error) {
	var typ string
	switch action {
	case models.ActionApply:
		typ = TypeDeploymentApply
	case models.ActionDestroy:
		typ = TypeDeploymentDestroy
	default:
		return nil, appErr.New(appErr.CodeInvalid, fmt.Sprintf("unknown deployment action %q", action))
	}
	payload, err := json.Marshal(DeploymentPayload{JobID: jobID.String()})
	if err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "encode task payload failed")
	}
	return asynq.NewTask(typ, payload, asynq.MaxRetry(3), asynq.Timeout(deployTimeout)), nil
}

// JobRunner executes one admitted deployment job to a terminal state.
type JobRunner interface {
	Run(ctx context.Context, jobID uuid.UUID) error
}

// DeploymentTaskHandler binds the queue to the deploy engine.
type DeploymentTaskHandler struct {
	runner JobRunner
}

func NewDeploymentTaskHandler(runner JobRunner) *DeploymentTaskHandler {
	return &DeploymentTaskHandler{runner: runner}
}

func (h *DeploymentTaskHandler) HandleApply(ctx context.Context, t *asynq.Task) error {
	return h.handle(ctx, t)
}

func (h *DeploymentTaskHandler) HandleDestroy(ctx context.Context, t *asynq.Task) error {
	return h.handle(ctx, t)
}

func (h *DeploymentTaskHandler) handle(ctx context.Context, t *asynq.Task) error {
	var p DeploymentPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		logger.L().Error("invalid deployment task payload", zap.Error(err))
		return fmt.Errorf("invalid payload: %v: %w", err, asynq.SkipRetry)
	}
	jobID, err := uuid.Parse(p.JobID)
	if err != nil {
		logger.L().Error("invalid job id in deployment task", zap.String("job_id", p.JobID), zap.Error(err))
		return fmt.Errorf("invalid job id: %v: %w", err, asynq.SkipRetry)
	}

	logger.L().Info("handling deployment task",
		zap.String("type", t.Type()), zap.String("job_id", jobID.String()))
	return h.runner.Run(ctx, jobID)
}
