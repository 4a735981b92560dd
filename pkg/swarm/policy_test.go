package swarm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	report := cfg.Validate()
	assert.True(t, report.Valid(), "errors: %v", report.Errors)
}

func TestValidateRejectsBadConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentAgents = 0
	cfg.Priority.MaxPriority = 3
	cfg.Priority.DefaultPriority = 5
	cfg.AutoScaling.ScaleDownThreshold = 60

	report := cfg.Validate()
	assert.False(t, report.Valid())
	assert.Len(t, report.Errors, 3)
}

func TestValidateWarnsOnProjectCapAboveGlobal(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAgentsPerProject = cfg.MaxConcurrentAgents + 10

	report := cfg.Validate()
	assert.True(t, report.Valid())
	assert.NotEmpty(t, report.Warnings)
}

func TestCheckSpawnCapacityGlobalCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentAgents = 2
	cfg.MaxAgentsPerProject = 10
	policy := NewPolicy(cfg)

	policy.RegisterSpawn(MethodAgentType, "p1")
	policy.RegisterSpawn(MethodAgentType, "p1")

	result := policy.CheckSpawnCapacity(MethodAgentType, "p1")
	assert.False(t, result.CanSpawn)
	assert.Contains(t, result.Reason, "global agent cap")
	assert.Equal(t, 0, result.AvailableSlots)
}

func TestCheckSpawnCapacityProjectCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxAgentsPerProject = 1
	policy := NewPolicy(cfg)

	policy.RegisterSpawn(MethodAgentType, "p1")

	assert.False(t, policy.CheckSpawnCapacity(MethodAgentType, "p1").CanSpawn)
	// A different project is unaffected.
	assert.True(t, policy.CheckSpawnCapacity(MethodAgentType, "p2").CanSpawn)
}

func TestCheckSpawnCapacityTypeCap(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResourceLimits = map[string]ResourceLimit{
		MethodAgentType: {MaxConcurrent: 1},
	}
	policy := NewPolicy(cfg)

	policy.RegisterSpawn(MethodAgentType, "p1")

	result := policy.CheckSpawnCapacity(MethodAgentType, "p1")
	assert.False(t, result.CanSpawn)
	assert.Contains(t, result.Reason, "MethodAgent")
}

func TestCheckSpawnCapacityBudget(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxCostPerProject = 1.0
	policy := NewPolicy(cfg)

	policy.RecordCost("p1", 1.5)

	result := policy.CheckSpawnCapacity(MethodAgentType, "p1")
	assert.False(t, result.CanSpawn)
	assert.Contains(t, result.Reason, "budget")
	assert.Negative(t, result.RemainingBudget)
}

func TestCheckSpawnCapacityUtilizationWarning(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentAgents = 5
	cfg.MaxAgentsPerProject = 5
	policy := NewPolicy(cfg)

	for i := 0; i < 4; i++ {
		policy.RegisterSpawn(MethodAgentType, "p1")
	}

	result := policy.CheckSpawnCapacity(MethodAgentType, "p1")
	assert.True(t, result.CanSpawn)
	assert.InDelta(t, 80.0, result.CurrentUtilization, 0.01)
	require.NotEmpty(t, result.Warnings)
}

func TestReleaseAgentFreesSlot(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxConcurrentAgents = 1
	cfg.MaxAgentsPerProject = 1
	policy := NewPolicy(cfg)

	policy.RegisterSpawn(MethodAgentType, "p1")
	assert.False(t, policy.CheckSpawnCapacity(MethodAgentType, "p1").CanSpawn)

	policy.ReleaseAgent(MethodAgentType, "p1")
	assert.True(t, policy.CheckSpawnCapacity(MethodAgentType, "p1").CanSpawn)
	assert.Zero(t, policy.ActiveAgents())
}

func TestCalculatePriority(t *testing.T) {
	policy := NewPolicy(DefaultConfig())

	tests := []struct {
		name       string
		agentType  string
		complexity int
		urgency    string
		ctx        PriorityContext
		want       int
	}{
		{"baseline", MethodAgentType, 3, "Normal", PriorityContext{}, 5},
		{"complexity boost", MethodAgentType, 7, "Normal", PriorityContext{}, 7},
		{"critical urgency", MethodAgentType, 3, "Critical", PriorityContext{}, 9},
		{"high urgency", MethodAgentType, 3, "High", PriorityContext{}, 7},
		{"low urgency", MethodAgentType, 3, "Low", PriorityContext{}, 3},
		{"blocking", MethodAgentType, 3, "Normal", PriorityContext{IsBlocking: true}, 8},
		{"dependents", MethodAgentType, 3, "Normal", PriorityContext{HasDependents: true}, 6},
		{"high priority agent type", "SystemArchitect", 3, "Normal", PriorityContext{}, 7},
		{"clamped at max", MethodAgentType, 9, "Critical", PriorityContext{IsBlocking: true, HasDependents: true}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := policy.CalculatePriority(tt.agentType, tt.complexity, tt.urgency, tt.ctx)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecommendAutoScale(t *testing.T) {
	cfg := DefaultConfig()
	policy := NewPolicy(cfg)

	rec := policy.RecommendAutoScale(60, true)
	assert.Equal(t, ScaleUp, rec.Action)
	assert.Equal(t, cfg.AutoScaling.ScaleUpIncrement, rec.Delta)

	rec = policy.RecommendAutoScale(200, true)
	assert.Equal(t, ScaleEmergency, rec.Action)
	assert.Equal(t, 2*cfg.AutoScaling.ScaleUpIncrement, rec.Delta)

	rec = policy.RecommendAutoScale(20, true)
	assert.Equal(t, ScaleNone, rec.Action)

	// Scale-down needs active agents above the floor.
	rec = policy.RecommendAutoScale(1, true)
	assert.Equal(t, ScaleNone, rec.Action)
	for i := 0; i < 5; i++ {
		policy.RegisterSpawn(MethodAgentType, "p1")
	}
	rec = policy.RecommendAutoScale(1, true)
	assert.Equal(t, ScaleDown, rec.Action)

	// Poor health nudges an otherwise-None recommendation up.
	rec = policy.RecommendAutoScale(20, false)
	assert.Equal(t, ScaleUp, rec.Action)
	assert.Equal(t, 1, rec.Delta)
}

func TestRecommendAutoScaleDisabled(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AutoScaling.Enabled = false
	policy := NewPolicy(cfg)

	rec := policy.RecommendAutoScale(1000, false)
	assert.Equal(t, ScaleNone, rec.Action)
}
