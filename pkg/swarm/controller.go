package swarm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/metrics"
	"github.com/ensemble/maestro/pkg/models"
)

// builderTTL bounds how long builder notifications and errors stay queued.
const builderTTL = time.Hour

// throttleRetry is how long a denied spawn waits before re-asking the gate.
const throttleRetry = 25 * time.Millisecond

// DocumentStore is the slice of the document service the controller needs.
type DocumentStore interface {
	SaveDocument(ctx context.Context, doc *models.CodeDocument) error
}

// ProgressStore records per-function outcomes against the pipeline.
type ProgressStore interface {
	RecordFunctionOutcome(ctx context.Context, pipelineID string, failed bool) error
}

// UnitStore exposes the persisted code-unit state the controller uses to
// recognize assignments whose unit has already drained.
type UnitStore interface {
	GetCodeUnit(ctx context.Context, pipelineID, name string) (*models.CodeUnit, error)
	UpdateCodeUnitProgress(ctx context.Context, pipelineID, name string, status models.CodeUnitStatus, completionPct float64) error
}

type unitKey struct {
	id   string
	name string
}

// Controller processes code-unit assignments: it fans each assignment out to
// method workers, stores the produced documents, and publishes exactly one
// Complete notification when the unit's jobs drain.
type Controller struct {
	cfg    Config
	policy *Policy
	worker MethodWorker
	docs   DocumentStore
	pipes  ProgressStore
	units  UnitStore
	bus    *bus.Coordinator
	log    *slog.Logger

	// active maps in-flight units to their remaining job counts. It is the
	// controller's only shared state; the mutex guards nothing that does I/O.
	mu     sync.Mutex
	active map[unitKey]int
}

// NewController wires a Controller.
func NewController(cfg Config, policy *Policy, worker MethodWorker, docs DocumentStore, pipes ProgressStore, units UnitStore, coordinator *bus.Coordinator) *Controller {
	return &Controller{
		cfg:    cfg,
		policy: policy,
		worker: worker,
		docs:   docs,
		pipes:  pipes,
		units:  units,
		bus:    coordinator,
		log:    slog.With("component", "codeunit-controller"),
		active: make(map[unitKey]int),
	}
}

// ActiveUnits returns the number of units currently being processed.
func (c *Controller) ActiveUnits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// Process handles one assignment end to end and blocks until the unit's jobs
// drain. Redeliveries of an in-flight unit are dropped, as are assignments
// whose persisted unit row already reads Complete; per-function failures are
// reported as BuilderErrors and never abort the rest of the unit.
func (c *Controller) Process(ctx context.Context, assignment *models.CodeUnitAssignment) error {
	key := unitKey{id: assignment.CodeUnitID, name: assignment.Name}
	jobs := len(assignment.Functions)

	if c.unitAlreadyComplete(ctx, assignment) {
		c.log.Warn("Dropping redelivered assignment for completed code unit",
			"code_unit", assignment.Name, "code_unit_id", assignment.CodeUnitID)
		return nil
	}

	if jobs == 0 {
		c.log.Info("Code unit has no functions, completing immediately",
			"code_unit", assignment.Name, "pipeline_id", assignment.PipelineID)
		c.markUnitComplete(ctx, assignment)
		return c.publishNotification(ctx, assignment)
	}

	c.mu.Lock()
	if _, exists := c.active[key]; exists {
		c.mu.Unlock()
		c.log.Warn("Dropping redelivered assignment for in-flight code unit",
			"code_unit", assignment.Name, "code_unit_id", assignment.CodeUnitID)
		return nil
	}
	c.active[key] = jobs
	c.mu.Unlock()
	metrics.ActiveCodeUnits.Inc()

	sem := make(chan struct{}, c.cfg.MethodConcurrency())
	var wg sync.WaitGroup

	for _, fn := range assignment.Functions {
		wg.Add(1)
		go func(fn models.FunctionAssignment) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			defer c.finishJob(ctx, key, assignment)

			c.runJob(ctx, assignment, fn)
		}(fn)
	}

	wg.Wait()
	return nil
}

// runJob executes one function job. Failures emit a BuilderError; they are
// never re-raised.
func (c *Controller) runJob(ctx context.Context, assignment *models.CodeUnitAssignment, fn models.FunctionAssignment) {
	if !c.awaitSpawnSlot(ctx, fn) {
		return
	}
	c.policy.RegisterSpawn(MethodAgentType, assignment.ProjectID)
	defer c.policy.ReleaseAgent(MethodAgentType, assignment.ProjectID)

	packet := BuildPacket(assignment, fn)

	doc, err := c.worker.Execute(ctx, packet)
	if err == nil {
		err = c.docs.SaveDocument(ctx, doc)
	}
	if err != nil {
		c.reportFunctionError(ctx, assignment, fn, err)
		c.recordOutcome(ctx, assignment.PipelineID, true)
		return
	}
	c.recordOutcome(ctx, assignment.PipelineID, false)
}

// awaitSpawnSlot blocks until the spawn gate admits another worker. A denied
// job never starts; it polls the gate so the configured rates hold even when
// an assignment fans out faster than they allow. Returns false only when the
// context ends first, in which case the job is abandoned and the assignment
// redelivers after its visibility timeout.
func (c *Controller) awaitSpawnSlot(ctx context.Context, fn models.FunctionAssignment) bool {
	for {
		allowed, reason := c.policy.CheckThrottle()
		if allowed {
			return true
		}
		c.log.Debug("Spawn throttled, waiting for slot",
			"function", fn.FunctionName, "reason", reason)
		select {
		case <-ctx.Done():
			c.log.Warn("Abandoning throttled spawn, context ended",
				"function", fn.FunctionName, "error", ctx.Err())
			return false
		case <-time.After(throttleRetry):
		}
	}
}

// unitAlreadyComplete reports whether the assignment's persisted unit row is
// already Complete, which marks the assignment as a stale redelivery of a
// drained unit. Lookup failures fall through to normal processing.
func (c *Controller) unitAlreadyComplete(ctx context.Context, assignment *models.CodeUnitAssignment) bool {
	if c.units == nil {
		return false
	}
	unit, err := c.units.GetCodeUnit(ctx, assignment.PipelineID, assignment.Name)
	if err != nil {
		return false
	}
	return unit.Status == models.CodeUnitStatusComplete
}

// finishJob decrements the unit's remaining count and, on reaching zero,
// removes the key and publishes the single Complete notification. The map
// removal under the mutex is what makes the notification exactly-once.
func (c *Controller) finishJob(ctx context.Context, key unitKey, assignment *models.CodeUnitAssignment) {
	c.mu.Lock()
	remaining, ok := c.active[key]
	if !ok {
		c.mu.Unlock()
		return
	}
	remaining--
	if remaining > 0 {
		c.active[key] = remaining
		c.mu.Unlock()
		return
	}
	delete(c.active, key)
	c.mu.Unlock()
	metrics.ActiveCodeUnits.Dec()

	c.markUnitComplete(ctx, assignment)
	if err := c.publishNotification(ctx, assignment); err != nil {
		c.log.Error("Failed to publish builder notification",
			"code_unit", assignment.Name, "error", err)
	}
}

// markUnitComplete persists the drained unit's terminal status so later
// redeliveries can be recognized after the in-flight entry is gone. Units
// synthesized during dispatch have no row; that miss is expected.
func (c *Controller) markUnitComplete(ctx context.Context, assignment *models.CodeUnitAssignment) {
	if c.units == nil {
		return
	}
	err := c.units.UpdateCodeUnitProgress(ctx, assignment.PipelineID, assignment.Name, models.CodeUnitStatusComplete, 100)
	if err != nil {
		c.log.Debug("Could not mark code unit complete",
			"code_unit", assignment.Name, "error", err)
	}
}

func (c *Controller) publishNotification(ctx context.Context, assignment *models.CodeUnitAssignment) error {
	notification := &models.BuilderNotification{
		NotificationID: uuid.New().String(),
		ProjectID:      assignment.ProjectID,
		PipelineID:     assignment.PipelineID,
		CodeUnitName:   assignment.Name,
		Status:         models.BuilderStatusComplete,
		CompletedAt:    time.Now().UTC(),
		Priority:       assignment.Priority.QueuePriority(),
	}
	_, err := c.bus.SendPriority(ctx, bus.QueueBuilderNotifications, notification, notification.Priority, builderTTL)
	if err != nil {
		return fmt.Errorf("sending builder notification: %w", err)
	}
	metrics.BuilderNotifications.Inc()
	return nil
}

func (c *Controller) reportFunctionError(ctx context.Context, assignment *models.CodeUnitAssignment, fn models.FunctionAssignment, cause error) {
	c.log.Warn("Method worker failed",
		"code_unit", assignment.Name, "function", fn.FunctionName, "error", cause)

	msg := cause.Error()
	builderErr := &models.BuilderError{
		ErrorID:           uuid.New().String(),
		ProjectID:         assignment.ProjectID,
		PipelineID:        assignment.PipelineID,
		CodeUnitName:      assignment.Name,
		FunctionName:      &fn.FunctionName,
		FunctionSignature: &fn.Signature,
		ErrorType:         "FunctionProcessingError",
		ErrorMessage:      msg,
		Severity:          6,
		RelatedFunctions:  []string{fn.FunctionName},
	}
	if _, err := c.bus.SendPriority(ctx, bus.QueueBuilderErrors, builderErr, 8, builderTTL); err != nil {
		c.log.Error("Failed to publish builder error", "code_unit", assignment.Name, "error", err)
	}
}

// ReportAssignmentFailure publishes the whole-assignment failure that occurs
// before fan-out starts (decode errors, invalid payloads).
func (c *Controller) ReportAssignmentFailure(ctx context.Context, assignment *models.CodeUnitAssignment, cause error) {
	builderErr := &models.BuilderError{
		ErrorID:          uuid.New().String(),
		ProjectID:        assignment.ProjectID,
		PipelineID:       assignment.PipelineID,
		CodeUnitName:     assignment.Name,
		ErrorType:        "ProcessingError",
		ErrorMessage:     cause.Error(),
		Severity:         8,
		RelatedFunctions: []string{},
	}
	if _, err := c.bus.SendPriority(ctx, bus.QueueBuilderErrors, builderErr, 8, builderTTL); err != nil {
		c.log.Error("Failed to publish builder error", "code_unit", assignment.Name, "error", err)
	}
}

func (c *Controller) recordOutcome(ctx context.Context, pipelineID string, failed bool) {
	if err := c.pipes.RecordFunctionOutcome(ctx, pipelineID, failed); err != nil {
		c.log.Error("Failed to record function outcome", "pipeline_id", pipelineID, "error", err)
	}
}
