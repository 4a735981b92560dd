package swarm

import (
	"fmt"
	"sync"

	"github.com/ensemble/maestro/pkg/metrics"
)

// Policy is the admission controller for agent spawns. It owns the live
// counts; other components go through CheckSpawnCapacity / RegisterSpawn /
// ReleaseAgent and never touch the counters directly.
type Policy struct {
	cfg      Config
	throttle *throttleGate

	mu            sync.Mutex
	activeTotal   int
	byProject     map[string]int
	byType        map[string]int
	costByProject map[string]float64
}

// NewPolicy creates a Policy from a validated configuration.
func NewPolicy(cfg Config) *Policy {
	return &Policy{
		cfg:           cfg,
		throttle:      newThrottleGate(cfg.Throttling),
		byProject:     make(map[string]int),
		byType:        make(map[string]int),
		costByProject: make(map[string]float64),
	}
}

// CapacityResult is the outcome of a spawn capacity check.
type CapacityResult struct {
	CanSpawn           bool
	Reason             string
	AvailableSlots     int
	CurrentUtilization float64
	RemainingBudget    float64
	Warnings           []string
}

// CheckSpawnCapacity reports whether one more agent of the given type may be
// spawned for the project. Denials name the first cap hit; utilization at or
// above 80% produces a warning either way.
func (p *Policy) CheckSpawnCapacity(agentType, projectID string) *CapacityResult {
	p.mu.Lock()
	defer p.mu.Unlock()

	result := &CapacityResult{
		CanSpawn:        true,
		AvailableSlots:  p.cfg.MaxConcurrentAgents - p.activeTotal,
		RemainingBudget: p.cfg.MaxCostPerProject - p.costByProject[projectID],
	}
	if p.cfg.MaxConcurrentAgents > 0 {
		result.CurrentUtilization = 100 * float64(p.activeTotal) / float64(p.cfg.MaxConcurrentAgents)
	}

	switch {
	case p.activeTotal >= p.cfg.MaxConcurrentAgents:
		result.CanSpawn = false
		result.Reason = fmt.Sprintf("global agent cap reached (%d)", p.cfg.MaxConcurrentAgents)
	case p.byProject[projectID] >= p.cfg.MaxAgentsPerProject:
		result.CanSpawn = false
		result.Reason = fmt.Sprintf("project agent cap reached (%d)", p.cfg.MaxAgentsPerProject)
	case p.costByProject[projectID] >= p.cfg.MaxCostPerProject:
		result.CanSpawn = false
		result.Reason = fmt.Sprintf("project cost budget exhausted (%.2f)", p.cfg.MaxCostPerProject)
	default:
		if limit, ok := p.cfg.ResourceLimits[agentType]; ok && limit.MaxConcurrent > 0 &&
			p.byType[agentType] >= limit.MaxConcurrent {
			result.CanSpawn = false
			result.Reason = fmt.Sprintf("agent type %q cap reached (%d)", agentType, limit.MaxConcurrent)
		}
	}

	if result.CurrentUtilization >= 80 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("swarm utilization at %.0f%%", result.CurrentUtilization))
	}

	return result
}

// CheckThrottle reports whether spawn rate limits permit a spawn right now.
// A positive answer reserves the min-interval slot.
func (p *Policy) CheckThrottle() (bool, string) {
	return p.throttle.Allow()
}

// RegisterSpawn records a spawned agent against every counter and window.
func (p *Policy) RegisterSpawn(agentType, projectID string) {
	p.mu.Lock()
	p.activeTotal++
	p.byProject[projectID]++
	p.byType[agentType]++
	p.mu.Unlock()

	p.throttle.Record()
	metrics.SwarmSpawns.WithLabelValues(agentType).Inc()
}

// ReleaseAgent returns an agent's slot.
func (p *Policy) ReleaseAgent(agentType, projectID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.activeTotal > 0 {
		p.activeTotal--
	}
	if p.byProject[projectID] > 0 {
		p.byProject[projectID]--
	}
	if p.byType[agentType] > 0 {
		p.byType[agentType]--
	}
}

// RecordCost accrues spent budget for a project.
func (p *Policy) RecordCost(projectID string, cost float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.costByProject[projectID] += cost
}

// ActiveAgents returns the current global agent count.
func (p *Policy) ActiveAgents() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.activeTotal
}

// PriorityContext carries the scheduling hints for priority calculation.
type PriorityContext struct {
	IsBlocking    bool
	HasDependents bool
}

// CalculatePriority scores a spawn: base priority plus boosts for complexity,
// urgency, high-priority agent types, and scheduling context, clamped to
// [1, maxPriority].
func (p *Policy) CalculatePriority(agentType string, complexity int, urgency string, ctx PriorityContext) int {
	priority := p.cfg.Priority.DefaultPriority

	for _, t := range p.cfg.Priority.HighPriorityAgentTypes {
		if t == agentType {
			priority += 2
			break
		}
	}

	if complexity >= 7 {
		priority += p.cfg.Priority.ComplexityPriorityBoost
	}

	switch urgency {
	case "Critical":
		priority += 2 + p.cfg.Priority.UrgentPriorityBoost
	case "High":
		priority += p.cfg.Priority.UrgentPriorityBoost
	case "Low":
		priority -= 2
	}

	if ctx.IsBlocking {
		priority += 3
	}
	if ctx.HasDependents {
		priority++
	}

	if priority > p.cfg.Priority.MaxPriority {
		priority = p.cfg.Priority.MaxPriority
	}
	if priority < 1 {
		priority = 1
	}
	return priority
}
