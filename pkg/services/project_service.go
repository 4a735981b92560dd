// Package services implements the persistence services the API and pipeline
// use. Each service validates input, then reads or writes its rows; rows in
// PostgreSQL are the source of truth for all pipeline state.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ensemble/maestro/pkg/models"
)

// ProjectService manages project lifecycle
type ProjectService struct {
	db *sqlx.DB
}

// NewProjectService creates a new ProjectService
func NewProjectService(db *sqlx.DB) *ProjectService {
	return &ProjectService{db: db}
}

// CreateProject validates and persists a new project
func (s *ProjectService) CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	if req.Name == "" {
		return nil, NewValidationError("name", "required")
	}
	if req.Requirements == "" {
		return nil, NewValidationError("requirements", "required")
	}

	now := time.Now().UTC()
	project := &models.Project{
		ID:               uuid.New().String(),
		Name:             req.Name,
		Requirements:     req.Requirements,
		TargetLanguage:   req.TargetLanguage,
		DeploymentTarget: req.DeploymentTarget,
		Status:           models.ProjectStatusCreated,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO projects
		 (id, name, requirements, target_language, deployment_target, status, created_at, updated_at)
		 VALUES (:id, :name, :requirements, :target_language, :deployment_target, :status, :created_at, :updated_at)`,
		project)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// GetProject loads a project by id
func (s *ProjectService) GetProject(ctx context.Context, id string) (*models.Project, error) {
	var project models.Project
	err := s.db.GetContext(ctx, &project, `SELECT * FROM projects WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get project: %w", err)
	}
	return &project, nil
}

// ListProjects returns projects newest first
func (s *ProjectService) ListProjects(ctx context.Context, limit int) ([]models.Project, error) {
	if limit <= 0 {
		limit = 50
	}
	var projects []models.Project
	err := s.db.SelectContext(ctx, &projects,
		`SELECT * FROM projects ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// UpdateProjectStatus transitions a project's status
func (s *ProjectService) UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE projects SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update project status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
