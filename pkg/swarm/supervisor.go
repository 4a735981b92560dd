package swarm

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/models"
)

const (
	// receivePollTimeout bounds each blocking receive so cancellation is
	// observed promptly.
	receivePollTimeout = 2 * time.Second
	// resubscribeBackoff is the pause after a receive error before trying
	// again.
	resubscribeBackoff = 100 * time.Millisecond
)

// Supervisor is the long-running loop that feeds the controller from the
// code-unit assignment queue. One supervisor serves all projects.
type Supervisor struct {
	bus        *bus.Coordinator
	controller *Controller
	log        *slog.Logger
}

// NewSupervisor wires a Supervisor.
func NewSupervisor(coordinator *bus.Coordinator, controller *Controller) *Supervisor {
	return &Supervisor{
		bus:        coordinator,
		controller: controller,
		log:        slog.With("component", "swarm-supervisor"),
	}
}

// Run consumes assignments until the context is cancelled. Processing errors
// are logged and the loop continues; receive errors back off briefly before
// the next attempt.
func (s *Supervisor) Run(ctx context.Context) {
	s.log.Info("Swarm supervisor started", "queue", bus.QueueCodeUnitAssignments)
	for {
		if ctx.Err() != nil {
			s.log.Info("Swarm supervisor stopped")
			return
		}

		env, err := s.bus.Receive(ctx, bus.QueueCodeUnitAssignments, receivePollTimeout)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			s.log.Warn("Receive failed, backing off", "error", err)
			select {
			case <-time.After(resubscribeBackoff):
			case <-ctx.Done():
			}
			continue
		}
		if env == nil {
			continue
		}

		s.handle(ctx, env)
	}
}

func (s *Supervisor) handle(ctx context.Context, env *bus.Envelope) {
	var assignment models.CodeUnitAssignment
	if err := env.Decode(&assignment); err != nil {
		s.log.Error("Dropping undecodable assignment", "message_id", env.ID, "error", err)
		if err := s.bus.Reject(ctx, bus.QueueCodeUnitAssignments, env.ID, false); err != nil {
			s.log.Warn("Failed to reject message", "message_id", env.ID, "error", err)
		}
		return
	}

	if err := s.controller.Process(ctx, &assignment); err != nil {
		s.log.Error("Assignment processing failed", "code_unit", assignment.Name, "error", err)
		s.controller.ReportAssignmentFailure(ctx, &assignment, err)
		if err := s.bus.Reject(ctx, bus.QueueCodeUnitAssignments, env.ID, true); err != nil {
			s.log.Warn("Failed to reject message", "message_id", env.ID, "error", err)
		}
		return
	}

	if err := s.bus.Acknowledge(ctx, bus.QueueCodeUnitAssignments, env.ID); err != nil {
		s.log.Warn("Failed to acknowledge message", "message_id", env.ID, "error", err)
	}
}
