package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Project is one infrastructure project. Each project owns a version history
// of architectures and a single Terraform workspace.
type Project struct {
	ID          uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	Name        string         `gorm:"not null;uniqueIndex" json:"name" validate:"required"`
	Description string         `gorm:"type:text" json:"description"`
	Region      string         `gorm:"type:varchar(32);not null;default:'us-east-1'" json:"region"`
	Status      string         `gorm:"type:varchar(32);index;not null;default:'ready'" json:"status" validate:"required,oneof=ready generating deploying deployed destroying failed"`
	Settings    datatypes.JSON `gorm:"type:jsonb" json:"settings"`
	Archived    bool           `gorm:"not null;default:false;index" json:"archived"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
