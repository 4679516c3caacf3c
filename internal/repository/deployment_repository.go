package repository

import (
	"context"
	"time"

	"github.com/archflow/engine/internal/models"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type DeploymentRepository interface {
	BaseRepository[models.DeploymentJob]
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.DeploymentJob, error)
	GetLatestByProject(ctx context.Context, projectID uuid.UUID, dest *models.DeploymentJob) error
	// MarkRunning transitions a pending job to running. Refuses any other
	// source state so a crashed or replayed task cannot restart a job.
	MarkRunning(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error
	// MarkTerminal writes the final status, logs, and error message. It only
	// applies to a running or pending job: terminal states are sticky.
	MarkTerminal(ctx context.Context, jobID uuid.UUID, status, logs, errMsg string, completedAt time.Time) error
	SaveStateHandle(ctx context.Context, jobID uuid.UUID, state []byte) error
	SaveOutputs(ctx context.Context, jobID uuid.UUID, outputs []byte) error
	// LatestSucceededApply returns the most recent successful apply job,
	// used to locate the current state handle and recorded resources.
	LatestSucceededApply(ctx context.Context, projectID uuid.UUID, dest *models.DeploymentJob) error
}

type deploymentRepository struct {
	BaseRepository[models.DeploymentJob]
	db *gorm.DB
}

func NewDeploymentRepository(db *gorm.DB) DeploymentRepository {
	return &deploymentRepository{BaseRepository: NewBaseRepository[models.DeploymentJob](db), db: db}
}

func (r *deploymentRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.DeploymentJob, error) {
	var out []models.DeploymentJob
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list deployment jobs failed")
	}
	return out, nil
}

func (r *deploymentRepository) GetLatestByProject(ctx context.Context, projectID uuid.UUID, dest *models.DeploymentJob) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at DESC").First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "no deployment jobs found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get latest deployment job failed")
	}
	return nil
}

func (r *deploymentRepository) MarkRunning(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.DeploymentJob{}).
		Where("id = ? AND status = ?", jobID, models.JobPending).
		Updates(map[string]any{"status": models.JobRunning, "started_at": startedAt})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "mark job running failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "job is not pending")
	}
	return nil
}

func (r *deploymentRepository) MarkTerminal(ctx context.Context, jobID uuid.UUID, status, logs, errMsg string, completedAt time.Time) error {
	if !models.JobStateTerminal(status) {
		return appErr.New(appErr.CodeInvalid, "status is not terminal")
	}
	res := r.db.WithContext(ctx).Model(&models.DeploymentJob{}).
		Where("id = ? AND status IN ?", jobID, []string{models.JobPending, models.JobRunning}).
		Updates(map[string]any{
			"status":        status,
			"logs":          logs,
			"error_message": errMsg,
			"completed_at":  completedAt,
		})
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "mark job terminal failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeConflict, "job already terminal")
	}
	return nil
}

func (r *deploymentRepository) SaveStateHandle(ctx context.Context, jobID uuid.UUID, state []byte) error {
	js := datatypes.JSON(state)
	if state == nil {
		js = datatypes.JSON([]byte("null"))
	}
	res := r.db.WithContext(ctx).Model(&models.DeploymentJob{}).Where("id = ?", jobID).Update("state_handle", js)
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "save state handle failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment job not found")
	}
	return nil
}

func (r *deploymentRepository) SaveOutputs(ctx context.Context, jobID uuid.UUID, outputs []byte) error {
	res := r.db.WithContext(ctx).Model(&models.DeploymentJob{}).Where("id = ?", jobID).Update("outputs", datatypes.JSON(outputs))
	if res.Error != nil {
		return appErr.Wrap(res.Error, appErr.CodeInternal, "save outputs failed")
	}
	if res.RowsAffected == 0 {
		return appErr.New(appErr.CodeNotFound, "deployment job not found")
	}
	return nil
}

func (r *deploymentRepository) LatestSucceededApply(ctx context.Context, projectID uuid.UUID, dest *models.DeploymentJob) error {
	err := r.db.WithContext(ctx).
		Where("project_id = ? AND action = ? AND status = ?", projectID, models.ActionApply, models.JobSucceeded).
		Order("created_at DESC").First(dest).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "no successful apply found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get latest succeeded apply failed")
	}
	return nil
}
