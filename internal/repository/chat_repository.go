package repository

import (
	"context"

	"github.com/archflow/engine/internal/models"
	appErr "github.com/archflow/engine/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ChatRepository interface {
	BaseRepository[models.ChatMessage]
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ChatMessage, error)
}

type chatRepository struct {
	BaseRepository[models.ChatMessage]
	db *gorm.DB
}

func NewChatRepository(db *gorm.DB) ChatRepository {
	return &chatRepository{BaseRepository: NewBaseRepository[models.ChatMessage](db), db: db}
}

func (r *chatRepository) ListByProject(ctx context.Context, projectID uuid.UUID) ([]models.ChatMessage, error) {
	var out []models.ChatMessage
	if err := r.db.WithContext(ctx).Where("project_id = ?", projectID).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, appErr.Wrap(err, appErr.CodeInternal, "list chat messages failed")
	}
	return out, nil
}
