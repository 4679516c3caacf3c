package repository

import (
	"context"

	"github.com/archflow/engine/internal/models"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ResourceRepository interface {
	// ReplaceForProject swaps the recorded resource set for a project in one
	// transaction, keyed to the job that produced it.
	ReplaceForProject(ctx context.Context, projectID uuid.UUID, resources []models.Resource) error
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Resource, error)
	CountByProject(ctx context.Context, projectID uuid.UUID) (int64, error)
}

type resourceRepository struct {
	db *gorm.DB
}

func NewResourceRepository(db *gorm.DB) ResourceRepository {
	return &resourceRepository{db: db}
}

func (r *resourceRepository) ReplaceForProject(ctx context.Context, projectID uuid.UUID, resources []models.Resource) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Unscoped().Where("project_id = ?", projectID).Delete(&models.Resource{}).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "clear recorded resources failed")
		}
		if len(resources) == 0 {
			return nil
		}
		if err := tx.Create(&resources).Error; err != nil {
			return appErr.Wrap(err, appErr.CodeInternal, "record resources failed")
		}
		return nil
	})
}

func (r *resourceRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.Resource, error) {
	var out []models.Resource
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("resource_type, resource_name").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list resources failed")
	}
	return out, nil
}

func (r *resourceRepository) CountByProject(ctx context.Context, projectID uuid.UUID) (int64, error) {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Resource{}).Where("project_id = ?", projectID).Count(&n).Error; err != nil {
		return 0, appErr.Wrap(err, appErr.CodeInternal, "count resources failed")
	}
	return n, nil
}
