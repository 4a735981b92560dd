package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/designer"
	"github.com/ensemble/maestro/pkg/metrics"
	"github.com/ensemble/maestro/pkg/models"
)

// assignmentTTL bounds how long re-emitted assignments stay queued.
const assignmentTTL = time.Hour

// errCancelled propagates a cancellation observed inside a stage up to Run.
var errCancelled = errors.New("pipeline cancelled")

// PipelineStore is the slice of the pipeline service the executor needs.
type PipelineStore interface {
	GetPipeline(ctx context.Context, id string) (*models.PipelineExecution, error)
	AdvanceStage(ctx context.Context, id string, stage models.PipelineStage) error
	CompletePipeline(ctx context.Context, id string, status models.ExecutionStatus, errorMessage *string) error
	CreateStageExecution(ctx context.Context, pipelineID string, stage models.PipelineStage, order int) (*models.StageExecution, error)
	CompleteStageExecution(ctx context.Context, id string, status models.ExecutionStatus, completed, failed int) error
	CreateAgentExecution(ctx context.Context, exec *models.AgentExecution) error
	CompleteAgentExecution(ctx context.Context, exec *models.AgentExecution) error
}

// SpecStore lists the designer artifacts the Swarming stage re-emits from.
type SpecStore interface {
	ListFunctionSpecs(ctx context.Context, pipelineID string) ([]models.FunctionSpecification, error)
	ListCodeUnits(ctx context.Context, pipelineID string) ([]models.CodeUnit, error)
}

// DesignIngestor is the Designing-stage hook that turns one designer's
// markdown into specs, units, and queued assignments.
type DesignIngestor interface {
	Ingest(ctx context.Context, req designer.IngestRequest) (*designer.IngestResult, error)
}

// Executor drives one pipeline through Planning, Designing, Swarming,
// Building, and Validating. It is single-instance per pipeline; run multiple
// executors for multiple projects.
type Executor struct {
	pipelines PipelineStore
	specs     SpecStore
	registry  *Registry
	ingestor  DesignIngestor
	builder   *Builder
	bus       *bus.Coordinator
	log       *slog.Logger
}

// NewExecutor wires an Executor.
func NewExecutor(pipelines PipelineStore, specs SpecStore, registry *Registry, ingestor DesignIngestor, builder *Builder, coordinator *bus.Coordinator) *Executor {
	return &Executor{
		pipelines: pipelines,
		specs:     specs,
		registry:  registry,
		ingestor:  ingestor,
		builder:   builder,
		bus:       coordinator,
		log:       slog.With("component", "pipeline-executor"),
	}
}

// Run executes every stage in order and records the terminal pipeline status.
// Cancellation is checked between stages and inside the Swarming dispatch;
// stage errors are caught here and transition the pipeline to Failed.
func (e *Executor) Run(ctx context.Context, project *models.Project, pipeline *models.PipelineExecution) error {
	run := &Run{
		Project:        project,
		Pipeline:       pipeline,
		TargetLanguage: targetLanguage(project),
	}
	log := e.log.With("project_id", project.ID, "pipeline_id", pipeline.ID)
	log.Info("Pipeline started", "target_language", run.TargetLanguage)

	for order, stage := range models.StageOrder {
		cancelled, err := e.cancelled(ctx, pipeline.ID)
		if err != nil {
			return e.fail(ctx, pipeline.ID, stage, err)
		}
		if cancelled {
			log.Info("Pipeline cancelled before stage", "stage", stage)
			return e.finish(ctx, pipeline.ID, models.ExecutionStatusCancelled, nil)
		}

		if err := e.pipelines.AdvanceStage(ctx, pipeline.ID, stage); err != nil {
			return e.fail(ctx, pipeline.ID, stage, err)
		}
		pipeline.Stage = stage

		se, err := e.pipelines.CreateStageExecution(ctx, pipeline.ID, stage, order)
		if err != nil {
			return e.fail(ctx, pipeline.ID, stage, err)
		}
		run.StageID = se.ID

		start := time.Now()
		completed, failed, err := e.runStage(ctx, run, stage)
		metrics.StageDuration.WithLabelValues(string(stage)).Observe(time.Since(start).Seconds())

		if errors.Is(err, errCancelled) {
			_ = e.pipelines.CompleteStageExecution(ctx, se.ID, models.ExecutionStatusCancelled, completed, failed)
			log.Info("Pipeline cancelled during stage", "stage", stage)
			return e.finish(ctx, pipeline.ID, models.ExecutionStatusCancelled, nil)
		}
		if err != nil {
			_ = e.pipelines.CompleteStageExecution(ctx, se.ID, models.ExecutionStatusFailed, completed, failed)
			return e.fail(ctx, pipeline.ID, stage, err)
		}

		if err := e.pipelines.CompleteStageExecution(ctx, se.ID, models.ExecutionStatusCompleted, completed, failed); err != nil {
			return e.fail(ctx, pipeline.ID, stage, err)
		}
		log.Info("Stage completed", "stage", stage, "items_completed", completed, "items_failed", failed)
	}

	log.Info("Pipeline completed")
	return e.finish(ctx, pipeline.ID, models.ExecutionStatusCompleted, nil)
}

func (e *Executor) runStage(ctx context.Context, run *Run, stage models.PipelineStage) (completed, failed int, err error) {
	switch stage {
	case models.StagePlanning, models.StageValidating:
		return e.runAgents(ctx, run, stage, nil)
	case models.StageDesigning:
		return e.runAgents(ctx, run, stage, e.ingestDesign)
	case models.StageSwarming:
		return e.runSwarming(ctx, run)
	case models.StageBuilding:
		return e.runBuilding(ctx, run)
	default:
		return 0, 0, fmt.Errorf("no handler for stage %q", stage)
	}
}

// runAgents executes every agent registered for the stage, recording one
// AgentExecution row per invocation. Agent failures count as failed items and
// do not abort the stage; persistence failures do.
func (e *Executor) runAgents(ctx context.Context, run *Run, stage models.PipelineStage, onResult func(context.Context, *Run, *AgentResult) error) (int, int, error) {
	completed, failed := 0, 0
	for _, agentType := range AgentTypesFor(stage) {
		agent, err := e.registry.Create(agentType)
		if err != nil {
			return completed, failed, err
		}

		result, execErr := e.runAgent(ctx, run, agent)
		if execErr != nil {
			e.log.Warn("Stage agent failed", "stage", stage, "agent_type", agentType, "error", execErr)
			failed++
			continue
		}

		if onResult != nil {
			if err := onResult(ctx, run, result); err != nil {
				return completed, failed, err
			}
		}
		completed++
	}
	return completed, failed, nil
}

// runAgent invokes one agent between its AgentExecution bookends.
func (e *Executor) runAgent(ctx context.Context, run *Run, agent Agent) (*AgentResult, error) {
	exec := &models.AgentExecution{
		ID:          uuid.New().String(),
		ProjectID:   run.Project.ID,
		PipelineID:  run.Pipeline.ID,
		StageID:     run.StageID,
		AgentType:   agent.Type(),
		Status:      models.ExecutionStatusRunning,
		StartedAt:   time.Now().UTC(),
		InputPrompt: buildAgentPrompt(run),
	}
	if err := e.pipelines.CreateAgentExecution(ctx, exec); err != nil {
		return nil, err
	}

	result, execErr := agent.Execute(ctx, run)
	if result != nil && result.Response != nil {
		exec.TokensIn = result.Response.TokensIn
		exec.TokensOut = result.Response.TokensOut
		exec.Cost = result.Response.Cost
	}
	if execErr != nil {
		exec.Status = models.ExecutionStatusFailed
		msg := execErr.Error()
		exec.ErrorMessage = &msg
	} else {
		exec.Status = models.ExecutionStatusCompleted
		exec.OutputResponse = &result.Markdown
	}
	if err := e.pipelines.CompleteAgentExecution(ctx, exec); err != nil {
		return nil, err
	}
	return result, execErr
}

// ingestDesign feeds one designer's markdown through ingestion immediately,
// so assignments are on the queue before the stage ends.
func (e *Executor) ingestDesign(ctx context.Context, run *Run, result *AgentResult) error {
	ingested, err := e.ingestor.Ingest(ctx, designer.IngestRequest{
		ProjectID:      run.Project.ID,
		PipelineID:     run.Pipeline.ID,
		AgentType:      result.AgentType,
		Markdown:       result.Markdown,
		TargetLanguage: run.TargetLanguage,
	})
	if err != nil {
		return fmt.Errorf("ingesting %s output: %w", result.AgentType, err)
	}
	e.log.Info("Designer output ingested",
		"agent_type", result.AgentType,
		"specs", len(ingested.Specs),
		"units", len(ingested.Units),
		"assignments_sent", ingested.AssignmentsSent)
	return nil
}

// runSwarming re-emits assignments from the persisted function specs, one per
// code unit, at High priority. The controller's idempotency guard absorbs the
// overlap with assignments already emitted during Designing. Cancellation is
// checked before every group.
func (e *Executor) runSwarming(ctx context.Context, run *Run) (int, int, error) {
	specs, err := e.specs.ListFunctionSpecs(ctx, run.Pipeline.ID)
	if err != nil {
		return 0, 0, err
	}
	if len(specs) == 0 {
		e.log.Info("No function specifications to dispatch", "pipeline_id", run.Pipeline.ID)
		return 0, 0, nil
	}

	units, err := e.specs.ListCodeUnits(ctx, run.Pipeline.ID)
	if err != nil {
		return 0, 0, err
	}
	unitsByName := make(map[string]models.CodeUnit, len(units))
	for _, unit := range units {
		unitsByName[unit.Name] = unit
	}

	sent := 0
	for _, group := range groupByCodeUnit(specs) {
		cancelled, err := e.cancelled(ctx, run.Pipeline.ID)
		if err != nil {
			return sent, 0, err
		}
		if cancelled {
			return sent, 0, errCancelled
		}

		unit, ok := unitsByName[group.name]
		if !ok {
			unit = placeholderUnit(run, group.name)
		}

		assignment := designer.BuildAssignment(&unit, group.specs)
		assignment.Priority = models.PriorityHigh
		if _, err := e.bus.SendPriority(ctx, bus.QueueCodeUnitAssignments, assignment,
			models.PriorityHigh.QueuePriority(), assignmentTTL); err != nil {
			return sent, 0, fmt.Errorf("dispatching unit %q: %w", group.name, err)
		}
		run.DispatchedUnits = append(run.DispatchedUnits, group.name)
		sent++
	}
	return sent, 0, nil
}

// runBuilding waits for the swarm to drain before aggregating: the builder
// must not stage the tree while method workers are still writing documents.
func (e *Executor) runBuilding(ctx context.Context, run *Run) (int, int, error) {
	if err := e.awaitSwarmDrain(ctx, run); err != nil {
		return 0, 0, err
	}
	report, err := e.builder.Run(ctx, run)
	if err != nil {
		return 0, 0, err
	}
	return report.FilesWritten, report.ErrorsEmitted, nil
}

// notificationPoll bounds each wait for a builder notification so the drain
// loop keeps observing cancellation.
const notificationPoll = time.Second

// awaitSwarmDrain consumes one Complete notification per code unit dispatched
// during Swarming. Duplicate notifications are acknowledged and ignored;
// notifications for another pipeline go back on the queue for its executor.
func (e *Executor) awaitSwarmDrain(ctx context.Context, run *Run) error {
	pending := make(map[string]struct{}, len(run.DispatchedUnits))
	for _, name := range run.DispatchedUnits {
		pending[name] = struct{}{}
	}

	for len(pending) > 0 {
		cancelled, err := e.cancelled(ctx, run.Pipeline.ID)
		if err != nil {
			return err
		}
		if cancelled {
			return errCancelled
		}

		env, err := e.bus.Receive(ctx, bus.QueueBuilderNotifications, notificationPoll)
		if err != nil {
			if ctx.Err() != nil {
				return errCancelled
			}
			return fmt.Errorf("receiving builder notification: %w", err)
		}
		if env == nil {
			continue
		}

		var notification models.BuilderNotification
		if err := env.Decode(&notification); err != nil {
			e.log.Warn("Rejecting undecodable builder notification", "error", err)
			_ = e.bus.Reject(ctx, bus.QueueBuilderNotifications, env.ID, false)
			continue
		}
		if notification.PipelineID != run.Pipeline.ID {
			_ = e.bus.Reject(ctx, bus.QueueBuilderNotifications, env.ID, true)
			continue
		}
		if err := e.bus.Acknowledge(ctx, bus.QueueBuilderNotifications, env.ID); err != nil {
			return fmt.Errorf("acknowledging builder notification: %w", err)
		}

		if notification.Status == models.BuilderStatusComplete {
			delete(pending, notification.CodeUnitName)
		}
		e.log.Debug("Builder notification consumed",
			"code_unit", notification.CodeUnitName, "pending_units", len(pending))
	}
	return nil
}

// cancelled reports whether the run should stop, either because the caller's
// context ended or because the pipeline row was flipped to Cancelled.
func (e *Executor) cancelled(ctx context.Context, pipelineID string) (bool, error) {
	if ctx.Err() != nil {
		return true, nil
	}
	current, err := e.pipelines.GetPipeline(ctx, pipelineID)
	if err != nil {
		return false, fmt.Errorf("checking pipeline status: %w", err)
	}
	return current.Status == models.ExecutionStatusCancelled, nil
}

func (e *Executor) finish(ctx context.Context, pipelineID string, status models.ExecutionStatus, errorMessage *string) error {
	// Background context: the terminal status must land even when the caller's
	// context is already cancelled.
	finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := e.pipelines.CompletePipeline(finishCtx, pipelineID, status, errorMessage); err != nil {
		e.log.Error("Failed to record terminal pipeline status",
			"pipeline_id", pipelineID, "status", status, "error", err)
		return err
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, pipelineID string, stage models.PipelineStage, cause error) error {
	e.log.Error("Pipeline stage failed", "pipeline_id", pipelineID, "stage", stage, "error", cause)
	msg := fmt.Sprintf("stage %s: %s", stage, cause.Error())
	if err := e.finish(ctx, pipelineID, models.ExecutionStatusFailed, &msg); err != nil {
		return cause
	}
	return cause
}

type specGroup struct {
	name  string
	specs []models.FunctionSpecification
}

// groupByCodeUnit groups specs by code unit, preserving first-seen order.
func groupByCodeUnit(specs []models.FunctionSpecification) []*specGroup {
	index := make(map[string]*specGroup)
	var groups []*specGroup
	for _, spec := range specs {
		group, ok := index[spec.CodeUnit]
		if !ok {
			group = &specGroup{name: spec.CodeUnit}
			index[spec.CodeUnit] = group
			groups = append(groups, group)
		}
		group.specs = append(group.specs, spec)
	}
	return groups
}

// placeholderUnit covers specs whose derived code unit row is missing; the
// assignment still carries everything the swarm needs.
func placeholderUnit(run *Run, name string) models.CodeUnit {
	unitType := designer.InferUnitType(name)
	return models.CodeUnit{
		ID:         uuid.New().String(),
		ProjectID:  run.Project.ID,
		PipelineID: run.Pipeline.ID,
		Name:       name,
		UnitType:   unitType,
		Language:   run.TargetLanguage,
		FilePath:   designer.FilePathFor(unitType, name, run.TargetLanguage),
		Priority:   models.PriorityHigh,
		Status:     models.CodeUnitStatusPlanned,
	}
}

func targetLanguage(project *models.Project) string {
	if project.TargetLanguage != nil && *project.TargetLanguage != "" {
		return *project.TargetLanguage
	}
	return "C#"
}
