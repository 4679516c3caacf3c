package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Deployment job actions and states.
const (
	ActionApply   = "apply"
	ActionDestroy = "destroy"

	JobPending   = "pending"
	JobRunning   = "running"
	JobSucceeded = "succeeded"
	JobFailed    = "failed"
)

// JobStateTerminal reports whether s is a terminal job state.
func JobStateTerminal(s string) bool {
	return s == JobSucceeded || s == JobFailed
}

// DeploymentJob is one apply or destroy execution attempt. The deployment
// engine exclusively owns state transitions; once a job reaches a terminal
// state it is immutable except for the final log flush.
type DeploymentJob struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()" json:"id"`
	ProjectID           uuid.UUID `gorm:"type:uuid;index;not null" json:"project_id" validate:"required"`
	ArchitectureVersion int       `gorm:"not null" json:"architecture_version" validate:"gte=1"`
	Action              string    `gorm:"type:varchar(16);not null" json:"action" validate:"required,oneof=apply destroy"`
	Status              string    `gorm:"type:varchar(16);index;not null" json:"status" validate:"required,oneof=pending running succeeded failed"`

	Logs         string         `gorm:"type:text" json:"logs"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	StateHandle  datatypes.JSON `gorm:"type:jsonb" json:"-"`
	Outputs      datatypes.JSON `gorm:"type:jsonb" json:"outputs"`

	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"-"`
}
