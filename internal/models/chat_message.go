package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ChatMessage records one turn of the generate/edit conversation for a
// project, tied to the architecture version it produced.
type ChatMessage struct {
	ID                  uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID           uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	Role                string         `gorm:"type:varchar(16);not null" json:"role" validate:"required,oneof=user assistant"`
	Content             string         `gorm:"type:text;not null" json:"content" validate:"required"`
	ArchitectureVersion int            `gorm:"not null" json:"architecture_version"`
	CreatedAt           time.Time      `json:"created_at"`
	UpdatedAt           time.Time      `json:"updated_at"`
	DeletedAt           gorm.DeletedAt `gorm:"index" json:"-"`
}
