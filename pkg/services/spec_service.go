package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ensemble/maestro/pkg/models"
)

// SpecService persists designer outputs, function specifications, and code
// units produced by designer ingestion.
type SpecService struct {
	db *sqlx.DB
}

// NewSpecService creates a new SpecService
func NewSpecService(db *sqlx.DB) *SpecService {
	return &SpecService{db: db}
}

// SaveDesignerOutput persists a parsed designer output
func (s *SpecService) SaveDesignerOutput(ctx context.Context, output *models.DesignerOutput) error {
	if output.ID == "" {
		return NewValidationError("id", "required")
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO designer_outputs
		 (id, cross_ref_id, project_id, pipeline_id, agent_type, markdown, structured_summary,
		  function_spec_count, complexity, quality, status)
		 VALUES (:id, :cross_ref_id, :project_id, :pipeline_id, :agent_type, :markdown, :structured_summary,
		  :function_spec_count, :complexity, :quality, :status)`,
		output)
	if err != nil {
		return fmt.Errorf("failed to save designer output: %w", err)
	}
	return nil
}

// SaveFunctionSpec persists one function specification
func (s *SpecService) SaveFunctionSpec(ctx context.Context, spec *models.FunctionSpecification) error {
	if spec.FunctionName == "" {
		return NewValidationError("function_name", "required")
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO function_specifications
		 (id, cross_ref_id, project_id, pipeline_id, code_unit, function_name, signature, description,
		  business_logic, validation_rules, error_handling, complexity_rating, estimated_minutes,
		  priority, language, status)
		 VALUES (:id, :cross_ref_id, :project_id, :pipeline_id, :code_unit, :function_name, :signature, :description,
		  :business_logic, :validation_rules, :error_handling, :complexity_rating, :estimated_minutes,
		  :priority, :language, :status)`,
		spec)
	if err != nil {
		return fmt.Errorf("failed to save function specification: %w", err)
	}
	return nil
}

// ListFunctionSpecs returns every function specification of a pipeline
func (s *SpecService) ListFunctionSpecs(ctx context.Context, pipelineID string) ([]models.FunctionSpecification, error) {
	var specs []models.FunctionSpecification
	err := s.db.SelectContext(ctx, &specs,
		`SELECT * FROM function_specifications WHERE pipeline_id = $1 ORDER BY code_unit, function_name`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list function specifications: %w", err)
	}
	return specs, nil
}

// SaveCodeUnit persists a derived code unit
func (s *SpecService) SaveCodeUnit(ctx context.Context, unit *models.CodeUnit) error {
	if unit.Name == "" {
		return NewValidationError("name", "required")
	}
	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO code_units
		 (id, cross_ref_id, project_id, pipeline_id, designer_output_id, name, unit_type, namespace,
		  language, file_path, function_count, simple_function_count, complex_function_count,
		  complexity, estimated_minutes, priority, status, completion_pct)
		 VALUES (:id, :cross_ref_id, :project_id, :pipeline_id, :designer_output_id, :name, :unit_type, :namespace,
		  :language, :file_path, :function_count, :simple_function_count, :complex_function_count,
		  :complexity, :estimated_minutes, :priority, :status, :completion_pct)`,
		unit)
	if err != nil {
		return fmt.Errorf("failed to save code unit: %w", err)
	}
	return nil
}

// GetCodeUnit loads one code unit by pipeline and name
func (s *SpecService) GetCodeUnit(ctx context.Context, pipelineID, name string) (*models.CodeUnit, error) {
	var unit models.CodeUnit
	err := s.db.GetContext(ctx, &unit,
		`SELECT * FROM code_units WHERE pipeline_id = $1 AND name = $2`, pipelineID, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get code unit: %w", err)
	}
	return &unit, nil
}

// ListCodeUnits returns the code units of a pipeline
func (s *SpecService) ListCodeUnits(ctx context.Context, pipelineID string) ([]models.CodeUnit, error) {
	var units []models.CodeUnit
	err := s.db.SelectContext(ctx, &units,
		`SELECT * FROM code_units WHERE pipeline_id = $1 ORDER BY name`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list code units: %w", err)
	}
	return units, nil
}

// UpdateCodeUnitProgress moves a code unit's status and completion percentage
func (s *SpecService) UpdateCodeUnitProgress(ctx context.Context, pipelineID, name string, status models.CodeUnitStatus, completionPct float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE code_units SET status = $1, completion_pct = $2 WHERE pipeline_id = $3 AND name = $4`,
		status, completionPct, pipelineID, name)
	if err != nil {
		return fmt.Errorf("failed to update code unit progress: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}
