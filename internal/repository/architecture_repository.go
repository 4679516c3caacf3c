package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/archflow/engine/internal/models"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// pgUniqueViolation is the SQLSTATE raised when the (project_id, version)
// unique index rejects a concurrent writer.
const pgUniqueViolation = "23505"

type ArchitectureRepository interface {
	BaseRepository[models.Architecture]
	// CreateVersion inserts a new architecture version. The unique index on
	// (project_id, version) acts as the compare-and-swap: when two writers
	// race to insert the same version, exactly one succeeds and the loser
	// gets a version_conflict error carrying the latest committed version.
	CreateVersion(ctx context.Context, arch *models.Architecture) error
	GetLatestByProject(ctx context.Context, projectID uuid.UUID, dest *models.Architecture) error
	GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.Architecture) error
	ListVersions(ctx context.Context, projectID uuid.UUID) ([]models.Architecture, error)
}

type architectureRepository struct {
	BaseRepository[models.Architecture]
	db *gorm.DB
}

func NewArchitectureRepository(db *gorm.DB) ArchitectureRepository {
	return &architectureRepository{BaseRepository: NewBaseRepository[models.Architecture](db), db: db}
}

func (r *architectureRepository) CreateVersion(ctx context.Context, arch *models.Architecture) error {
	if err := r.db.WithContext(ctx).Create(arch).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			latest := r.latestVersion(ctx, arch.ProjectID)
			return appErr.Wrap(err, appErr.CodeVersionConflict,
				fmt.Sprintf("version %d already written, latest is %d", arch.Version, latest)).
				WithMeta("latest_version", latest)
		}
		return appErr.Wrap(err, appErr.CodeInternal, "create architecture version failed")
	}
	return nil
}

func (r *architectureRepository) latestVersion(ctx context.Context, projectID uuid.UUID) int {
	var a models.Architecture
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("version DESC").First(&a).Error; err != nil {
		return 0
	}
	return a.Version
}

func (r *architectureRepository) GetLatestByProject(ctx context.Context, projectID uuid.UUID, dest *models.Architecture) error {
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("version DESC").First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "no architecture found for project")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get latest architecture failed")
	}
	return nil
}

func (r *architectureRepository) GetByVersion(ctx context.Context, projectID uuid.UUID, version int, dest *models.Architecture) error {
	if err := r.db.WithContext(ctx).Where("project_id = ? AND version = ?", projectID, version).First(dest).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return appErr.New(appErr.CodeNotFound, "architecture version not found")
		}
		return appErr.Wrap(err, appErr.CodeInternal, "get architecture version failed")
	}
	return nil
}

func (r *architectureRepository) ListVersions(ctx context.Context, projectID uuid.UUID) ([]models.Architecture, error) {
	var out []models.Architecture
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("version DESC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list architecture versions failed")
	}
	return out, nil
}
