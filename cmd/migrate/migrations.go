package main

import (
	"gorm.io/gorm"

	"github.com/archflow/engine/internal/models"
)

// registerModels returns all models that need migration
func registerModels() []interface{} {
	return []interface{}{
		&models.Project{},
		&models.Architecture{},
		&models.DeploymentJob{},
		&models.Resource{},
		&models.ChatMessage{},
	}
}

// runMigrations executes all database migrations
func runMigrations(db *gorm.DB) error {
	if err := enableUUIDExtension(db); err != nil {
		return err
	}
	if err := db.AutoMigrate(registerModels()...); err != nil {
		return err
	}
	return runCustomMigrations(db)
}

// runCustomMigrations handles schema changes AutoMigrate can't handle
func runCustomMigrations(db *gorm.DB) error {
	migrations := []func(*gorm.DB) error{
		addJobStatusIndexes,
	}
	for _, migration := range migrations {
		if err := migration(db); err != nil {
			return err
		}
	}
	return nil
}

// enableUUIDExtension ensures UUID generation is available
func enableUUIDExtension(db *gorm.DB) error {
	return db.Exec(`CREATE EXTENSION IF NOT EXISTS "pgcrypto"`).Error
}

// addJobStatusIndexes speeds up the active-job admission check and the
// latest-succeeded-apply lookup.
func addJobStatusIndexes(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployment_jobs_project_created
		ON deployment_jobs(project_id, created_at DESC)
		WHERE deleted_at IS NULL
	`).Error; err != nil {
		return err
	}
	return db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_deployment_jobs_project_action_status
		ON deployment_jobs(project_id, action, status)
		WHERE deleted_at IS NULL
	`).Error
}
