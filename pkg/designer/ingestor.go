package designer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/crossref"
	"github.com/ensemble/maestro/pkg/llm"
	"github.com/ensemble/maestro/pkg/models"
	"github.com/ensemble/maestro/pkg/services"
)

// assignmentTTL is how long a code-unit assignment stays valid on the queue.
const assignmentTTL = time.Hour

// Ingestor runs designer-output ingestion: extract specs, derive units,
// persist everything through the cross-reference registry, and hand the
// work to the swarm.
type Ingestor struct {
	gateway   *llm.Gateway
	registry  *crossref.Registry
	specs     *services.SpecService
	pipelines *services.PipelineService
	bus       *bus.Coordinator
	log       *slog.Logger
}

// NewIngestor wires an Ingestor.
func NewIngestor(gateway *llm.Gateway, registry *crossref.Registry, specs *services.SpecService, pipelines *services.PipelineService, coordinator *bus.Coordinator) *Ingestor {
	return &Ingestor{
		gateway:   gateway,
		registry:  registry,
		specs:     specs,
		pipelines: pipelines,
		bus:       coordinator,
		log:       slog.With("component", "designer-ingestor"),
	}
}

// IngestRequest carries one designer markdown artifact plus its execution
// context.
type IngestRequest struct {
	ProjectID      string
	PipelineID     string
	AgentType      string
	Markdown       string
	TargetLanguage string
}

// IngestResult summarizes what one ingestion produced.
type IngestResult struct {
	Output          *models.DesignerOutput
	Specs           []models.FunctionSpecification
	Units           []models.CodeUnit
	AssignmentsSent int
}

// Ingest processes one designer output end to end. Parser failures are not
// pipeline failures: malformed model output yields zero specs and a logged
// warning, and the designer output row still records the attempt.
func (i *Ingestor) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	language := req.TargetLanguage
	if language == "" {
		language = "C#"
	}

	resp := i.gateway.Generate(ctx, llm.Request{
		System:    extractionInstruction,
		User:      req.Markdown,
		AgentType: req.AgentType,
		Stage:     string(models.StageDesigning),
	})

	var raw []rawSpec
	if resp.Success {
		raw = parseFunctionSpecs(resp.Content)
	}
	if len(raw) == 0 {
		i.log.Warn("Designer output produced no function specifications",
			"project_id", req.ProjectID, "pipeline_id", req.PipelineID,
			"agent_type", req.AgentType, "llm_success", resp.Success)
	}

	output, err := i.persistOutput(ctx, req, len(raw))
	if err != nil {
		return nil, err
	}

	result := &IngestResult{Output: output}
	if len(raw) == 0 {
		return result, nil
	}

	specsByUnit := make(map[string][]models.FunctionSpecification)
	for _, item := range raw {
		spec, err := i.persistSpec(ctx, req, language, item)
		if err != nil {
			return result, err
		}
		result.Specs = append(result.Specs, *spec)
		specsByUnit[spec.CodeUnit] = append(specsByUnit[spec.CodeUnit], *spec)
	}

	if err := i.pipelines.SetTotalFunctions(ctx, req.PipelineID, len(result.Specs)); err != nil {
		return result, err
	}

	for _, agg := range groupSpecsByUnit(raw) {
		unit, err := i.persistUnit(ctx, req, language, output.ID, agg)
		if err != nil {
			return result, err
		}
		result.Units = append(result.Units, *unit)

		if err := i.sendAssignment(ctx, unit, specsByUnit[unit.Name]); err != nil {
			return result, fmt.Errorf("sending assignment for unit %q: %w", unit.Name, err)
		}
		result.AssignmentsSent++
	}

	return result, nil
}

func (i *Ingestor) persistOutput(ctx context.Context, req IngestRequest, specCount int) (*models.DesignerOutput, error) {
	ref, err := i.registry.Create(ctx, "DesignerOutput", map[string]any{
		"projectId":  req.ProjectID,
		"pipelineId": req.PipelineID,
		"agentType":  req.AgentType,
	})
	if err != nil {
		return nil, fmt.Errorf("registering designer output: %w", err)
	}

	output := &models.DesignerOutput{
		ID:                uuid.New().String(),
		CrossRefID:        ref.PrimaryID,
		ProjectID:         req.ProjectID,
		PipelineID:        req.PipelineID,
		AgentType:         req.AgentType,
		Markdown:          req.Markdown,
		FunctionSpecCount: specCount,
		Status:            "Parsed",
	}
	if err := i.specs.SaveDesignerOutput(ctx, output); err != nil {
		return nil, err
	}
	return output, nil
}

func (i *Ingestor) persistSpec(ctx context.Context, req IngestRequest, language string, item rawSpec) (*models.FunctionSpecification, error) {
	ref, err := i.registry.Create(ctx, "FunctionSpecification", map[string]any{
		"projectId":    req.ProjectID,
		"pipelineId":   req.PipelineID,
		"functionName": item.FunctionName,
		"codeUnit":     item.CodeUnit,
	})
	if err != nil {
		return nil, fmt.Errorf("registering function specification: %w", err)
	}

	spec := &models.FunctionSpecification{
		ID:               uuid.New().String(),
		CrossRefID:       ref.PrimaryID,
		ProjectID:        req.ProjectID,
		PipelineID:       req.PipelineID,
		CodeUnit:         item.CodeUnit,
		FunctionName:     item.FunctionName,
		Signature:        item.Signature,
		Description:      item.Description,
		BusinessLogic:    optional(item.BusinessLogic),
		ValidationRules:  optional(item.ValidationRules),
		ErrorHandling:    optional(item.ErrorHandling),
		ComplexityRating: int(item.ComplexityRating),
		EstimatedMinutes: optionalInt(int(item.EstimatedMinutes)),
		Priority:         models.ParsePriority(item.Priority),
		Language:         language,
		Status:           "Planned",
	}
	if err := i.specs.SaveFunctionSpec(ctx, spec); err != nil {
		return nil, err
	}
	return spec, nil
}

func (i *Ingestor) persistUnit(ctx context.Context, req IngestRequest, language, outputID string, agg *unitAggregate) (*models.CodeUnit, error) {
	ref, err := i.registry.Create(ctx, "CodeUnit", map[string]any{
		"projectId":  req.ProjectID,
		"pipelineId": req.PipelineID,
		"name":       agg.name,
	})
	if err != nil {
		return nil, fmt.Errorf("registering code unit: %w", err)
	}

	unitType := InferUnitType(agg.name)
	namespace := NamespaceFor(language)
	unit := &models.CodeUnit{
		ID:                   uuid.New().String(),
		CrossRefID:           ref.PrimaryID,
		ProjectID:            req.ProjectID,
		PipelineID:           req.PipelineID,
		DesignerOutputID:     outputID,
		Name:                 agg.name,
		UnitType:             unitType,
		Namespace:            &namespace,
		Language:             language,
		FilePath:             FilePathFor(unitType, agg.name, language),
		FunctionCount:        len(agg.specs),
		SimpleFunctionCount:  agg.simpleCount,
		ComplexFunctionCount: agg.complexCount,
		Complexity:           agg.Complexity(),
		EstimatedMinutes:     agg.totalMinutes,
		Priority:             agg.priority,
		Status:               models.CodeUnitStatusPlanned,
	}
	if err := i.specs.SaveCodeUnit(ctx, unit); err != nil {
		return nil, err
	}
	return unit, nil
}

func (i *Ingestor) sendAssignment(ctx context.Context, unit *models.CodeUnit, specs []models.FunctionSpecification) error {
	assignment := BuildAssignment(unit, specs)
	_, err := i.bus.SendPriority(ctx, bus.QueueCodeUnitAssignments, assignment, unit.Priority.QueuePriority(), assignmentTTL)
	return err
}

// BuildAssignment converts a persisted code unit plus its member specs into
// the queue payload the swarm consumes.
func BuildAssignment(unit *models.CodeUnit, specs []models.FunctionSpecification) *models.CodeUnitAssignment {
	now := time.Now().UTC()
	assignment := &models.CodeUnitAssignment{
		AssignmentID:         uuid.New().String(),
		CodeUnitID:           unit.ID,
		ProjectID:            unit.ProjectID,
		PipelineID:           unit.PipelineID,
		Name:                 unit.Name,
		UnitType:             unit.UnitType,
		Namespace:            unit.Namespace,
		SimpleFunctionCount:  unit.SimpleFunctionCount,
		ComplexFunctionCount: unit.ComplexFunctionCount,
		ComplexityRating:     unit.Complexity,
		EstimatedMinutes:     unit.EstimatedMinutes,
		Priority:             unit.Priority,
		TargetLanguage:       unit.Language,
		AssignedAt:           now,
	}

	for _, spec := range specs {
		estimated := 0
		if spec.EstimatedMinutes != nil {
			estimated = *spec.EstimatedMinutes
		}
		assignment.Functions = append(assignment.Functions, models.FunctionAssignment{
			AssignmentID:            uuid.New().String(),
			FunctionSpecificationID: spec.ID,
			FunctionName:            spec.FunctionName,
			CodeUnit:                spec.CodeUnit,
			Signature:               spec.Signature,
			Description:             spec.Description,
			BusinessLogic:           spec.BusinessLogic,
			ValidationRules:         spec.ValidationRules,
			ErrorHandling:           spec.ErrorHandling,
			ComplexityRating:        spec.ComplexityRating,
			EstimatedMinutes:        estimated,
			Priority:                spec.Priority,
			TargetLanguage:          spec.Language,
			AssignedAt:              now,
		})
	}
	return assignment
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func optionalInt(n int) *int {
	if n == 0 {
		return nil
	}
	return &n
}
