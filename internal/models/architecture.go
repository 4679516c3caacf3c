package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Architecture is one immutable version of a project's service graph plus
// the artifacts derived from it. Rows are append-only: every mutation of a
// project's graph inserts a new version. The unique index on
// (project_id, version) is the compare-and-swap that serializes concurrent
// writers: a losing writer hits the constraint and gets a version conflict.
type Architecture struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID uuid.UUID `gorm:"type:uuid;not null;index:idx_arch_project_version,unique" json:"project_id" validate:"required"`
	Version   int       `gorm:"not null;index:idx_arch_project_version,unique" json:"version" validate:"gte=1"`

	Intent         datatypes.JSON `gorm:"type:jsonb" json:"intent"`
	Graph          datatypes.JSON `gorm:"type:jsonb;not null" json:"graph" validate:"required"`
	TerraformFiles datatypes.JSON `gorm:"type:jsonb" json:"terraform_files"`
	Cost           datatypes.JSON `gorm:"type:jsonb" json:"cost"`
	Layout         datatypes.JSON `gorm:"type:jsonb" json:"layout"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// HasCode reports whether this version carries generated Terraform files.
// Deployment is blocked until code exists.
func (a *Architecture) HasCode() bool {
	return len(a.TerraformFiles) > 0 && string(a.TerraformFiles) != "null"
}
