// Package models defines the domain entities and queue wire payloads shared
// across the orchestrator. Components hold ids only; rows in PostgreSQL are
// the source of truth and graph/search entries are derived mirrors.
package models

import "time"

// ProjectStatus is the lifecycle status of a project.
type ProjectStatus string

// Project status constants.
const (
	ProjectStatusCreated    ProjectStatus = "created"
	ProjectStatusInProgress ProjectStatus = "in_progress"
	ProjectStatusCompleted  ProjectStatus = "completed"
	ProjectStatusFailed     ProjectStatus = "failed"
	ProjectStatusCancelled  ProjectStatus = "cancelled"
)

// Project is a user-submitted brief that the pipeline turns into code.
type Project struct {
	ID               string        `db:"id" json:"id"`
	Name             string        `db:"name" json:"name"`
	Requirements     string        `db:"requirements" json:"requirements"`
	TargetLanguage   *string       `db:"target_language" json:"targetLanguage,omitempty"`
	DeploymentTarget *string       `db:"deployment_target" json:"deploymentTarget,omitempty"`
	Status           ProjectStatus `db:"status" json:"status"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time     `db:"updated_at" json:"updatedAt"`
}

// CreateProjectRequest carries the fields accepted by POST /projects.
type CreateProjectRequest struct {
	Name             string  `json:"name" binding:"required"`
	Requirements     string  `json:"requirements" binding:"required"`
	TargetLanguage   *string `json:"targetLanguage,omitempty"`
	DeploymentTarget *string `json:"deploymentTarget,omitempty"`
}
