package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ensemble/maestro/pkg/models"
)

// DocumentService persists the per-function code documents method workers
// produce. The Building stage reads them back to assemble compilable sources.
type DocumentService struct {
	db *sqlx.DB
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(db *sqlx.DB) *DocumentService {
	return &DocumentService{db: db}
}

// SaveDocument persists one generated code document
func (s *DocumentService) SaveDocument(ctx context.Context, doc *models.CodeDocument) error {
	if doc.CodeUnitName == "" {
		return NewValidationError("code_unit_name", "required")
	}
	if doc.FunctionName == "" {
		return NewValidationError("function_name", "required")
	}
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	doc.SizeBytes = len(doc.Content)

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO code_documents
		 (id, project_id, pipeline_id, code_unit_name, function_name, content, size_bytes, created_at)
		 VALUES (:id, :project_id, :pipeline_id, :code_unit_name, :function_name, :content, :size_bytes, :created_at)`,
		doc)
	if err != nil {
		return fmt.Errorf("failed to save code document: %w", err)
	}
	return nil
}

// ListDocuments returns every code document of a pipeline, grouped by unit
func (s *DocumentService) ListDocuments(ctx context.Context, pipelineID string) ([]models.CodeDocument, error) {
	var docs []models.CodeDocument
	err := s.db.SelectContext(ctx, &docs,
		`SELECT * FROM code_documents WHERE pipeline_id = $1 ORDER BY code_unit_name, function_name`, pipelineID)
	if err != nil {
		return nil, fmt.Errorf("failed to list code documents: %w", err)
	}
	return docs, nil
}
