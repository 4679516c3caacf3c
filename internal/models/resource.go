package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Resource is one cloud resource recorded from the state handle after a
// successful apply. Rows are replaced wholesale per job; monitoring reads
// them, nothing else mutates them.
type Resource struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID    uuid.UUID      `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	JobID        uuid.UUID      `gorm:"type:uuid;index;not null" json:"job_id" validate:"required"`
	ResourceType string         `gorm:"type:varchar(64);index;not null" json:"resource_type" validate:"required"`
	ResourceName string         `gorm:"type:varchar(128);not null" json:"resource_name" validate:"required"`
	Attributes   datatypes.JSON `gorm:"type:jsonb" json:"attributes"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}
