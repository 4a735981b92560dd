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

// PipelineService manages pipeline, stage, and agent execution rows
type PipelineService struct {
	db *sqlx.DB
}

// NewPipelineService creates a new PipelineService
func NewPipelineService(db *sqlx.DB) *PipelineService {
	return &PipelineService{db: db}
}

// CreatePipeline starts a new pipeline execution for a project
func (s *PipelineService) CreatePipeline(ctx context.Context, projectID, configSnapshot string) (*models.PipelineExecution, error) {
	if projectID == "" {
		return nil, NewValidationError("project_id", "required")
	}
	if configSnapshot == "" {
		configSnapshot = "{}"
	}

	now := time.Now().UTC()
	pipeline := &models.PipelineExecution{
		ID:             uuid.New().String(),
		ProjectID:      projectID,
		Stage:          models.StagePlanning,
		Status:         models.ExecutionStatusRunning,
		StartedAt:      now,
		StageStartedAt: now,
		ConfigSnapshot: configSnapshot,
	}

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO pipeline_executions
		 (id, project_id, stage, status, started_at, stage_started_at, completed_at,
		  progress_pct, total_functions, completed_functions, failed_functions, error_message, config_snapshot)
		 VALUES (:id, :project_id, :stage, :status, :started_at, :stage_started_at, :completed_at,
		  :progress_pct, :total_functions, :completed_functions, :failed_functions, :error_message, :config_snapshot)`,
		pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to create pipeline execution: %w", err)
	}
	return pipeline, nil
}

// GetPipeline loads a pipeline execution by id
func (s *PipelineService) GetPipeline(ctx context.Context, id string) (*models.PipelineExecution, error) {
	var pipeline models.PipelineExecution
	err := s.db.GetContext(ctx, &pipeline, `SELECT * FROM pipeline_executions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline execution: %w", err)
	}
	return &pipeline, nil
}

// AdvanceStage moves the pipeline to the given stage and stamps the stage start
func (s *PipelineService) AdvanceStage(ctx context.Context, id string, stage models.PipelineStage) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET stage = $1, stage_started_at = $2 WHERE id = $3`,
		stage, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to advance pipeline stage: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CompletePipeline records a terminal status and optional error message
func (s *PipelineService) CompletePipeline(ctx context.Context, id string, status models.ExecutionStatus, errorMessage *string) error {
	if !status.Terminal() {
		return NewValidationError("status", "must be terminal")
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET status = $1, completed_at = $2, error_message = $3 WHERE id = $4`,
		status, now, errorMessage, id)
	if err != nil {
		return fmt.Errorf("failed to complete pipeline execution: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetTotalFunctions adds an ingestion's function count to the pipeline's
// fan-out size. Each designer agent ingests separately, so the total
// accumulates across ingestions rather than being overwritten.
func (s *PipelineService) SetTotalFunctions(ctx context.Context, id string, total int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_executions SET total_functions = total_functions + $1 WHERE id = $2`, total, id)
	if err != nil {
		return fmt.Errorf("failed to set total functions: %w", err)
	}
	return nil
}

// RecordFunctionOutcome increments the completed or failed counter and keeps
// progress_pct in step in the same statement, so progress only ever moves
// forward with outcomes.
func (s *PipelineService) RecordFunctionOutcome(ctx context.Context, id string, failed bool) error {
	column := "completed_functions"
	if failed {
		column = "failed_functions"
	}
	query := fmt.Sprintf(
		`UPDATE pipeline_executions
		    SET %s = %s + 1,
		        progress_pct = CASE WHEN total_functions > 0
		            THEN 100.0 * (completed_functions + failed_functions + 1) / total_functions
		            ELSE 0 END
		  WHERE id = $1`, column, column)
	if _, err := s.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to record function outcome: %w", err)
	}
	return nil
}

// CreateStageExecution opens a stage record
func (s *PipelineService) CreateStageExecution(ctx context.Context, pipelineID string, stage models.PipelineStage, order int) (*models.StageExecution, error) {
	se := &models.StageExecution{
		ID:             uuid.New().String(),
		PipelineID:     pipelineID,
		StageName:      stage,
		ExecutionOrder: order,
		Status:         models.ExecutionStatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO stage_executions
		 (id, pipeline_id, stage_name, execution_order, status, started_at, completed_at, items_completed, items_failed)
		 VALUES (:id, :pipeline_id, :stage_name, :execution_order, :status, :started_at, :completed_at, :items_completed, :items_failed)`,
		se)
	if err != nil {
		return nil, fmt.Errorf("failed to create stage execution: %w", err)
	}
	return se, nil
}

// CompleteStageExecution closes a stage record with item counts
func (s *PipelineService) CompleteStageExecution(ctx context.Context, id string, status models.ExecutionStatus, completed, failed int) error {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`UPDATE stage_executions SET status = $1, completed_at = $2, items_completed = $3, items_failed = $4 WHERE id = $5`,
		status, now, completed, failed, id)
	if err != nil {
		return fmt.Errorf("failed to complete stage execution: %w", err)
	}
	return nil
}

// ListStageExecutions returns the stage records of a pipeline in order
func (s *PipelineService) ListStageExecutions(ctx context.Context, pipelineID string) ([]models.StageExecution, error) {
	var stages []models.StageExecution
	err := s.db.SelectContext(ctx, &stages,
		`SELECT * FROM stage_executions WHERE pipeline_id = $1 ORDER BY execution_order`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list stage executions: %w", err)
	}
	return stages, nil
}

// CreateAgentExecution records the start of one agent invocation
func (s *PipelineService) CreateAgentExecution(ctx context.Context, exec *models.AgentExecution) error {
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.StartedAt.IsZero() {
		exec.StartedAt = time.Now().UTC()
	}
	if exec.Status == "" {
		exec.Status = models.ExecutionStatusRunning
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO agent_executions
		 (id, project_id, pipeline_id, stage_id, agent_type, status, started_at, completed_at,
		  input_prompt, output_response, tokens_in, tokens_out, cost, quality_score, confidence_score, error_message)
		 VALUES (:id, :project_id, :pipeline_id, :stage_id, :agent_type, :status, :started_at, :completed_at,
		  :input_prompt, :output_response, :tokens_in, :tokens_out, :cost, :quality_score, :confidence_score, :error_message)`,
		exec)
	if err != nil {
		return fmt.Errorf("failed to create agent execution: %w", err)
	}
	return nil
}

// CompleteAgentExecution stores the outcome of an agent invocation
func (s *PipelineService) CompleteAgentExecution(ctx context.Context, exec *models.AgentExecution) error {
	now := time.Now().UTC()
	exec.CompletedAt = &now
	_, err := s.db.NamedExecContext(ctx,
		`UPDATE agent_executions
		    SET status = :status, completed_at = :completed_at, output_response = :output_response,
		        tokens_in = :tokens_in, tokens_out = :tokens_out, cost = :cost,
		        quality_score = :quality_score, confidence_score = :confidence_score,
		        error_message = :error_message
		  WHERE id = :id`,
		exec)
	if err != nil {
		return fmt.Errorf("failed to complete agent execution: %w", err)
	}
	return nil
}

// ListAgentExecutions returns every agent invocation of a pipeline
func (s *PipelineService) ListAgentExecutions(ctx context.Context, pipelineID string) ([]models.AgentExecution, error) {
	var execs []models.AgentExecution
	err := s.db.SelectContext(ctx, &execs,
		`SELECT * FROM agent_executions WHERE pipeline_id = $1 ORDER BY started_at`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent executions: %w", err)
	}
	return execs, nil
}
