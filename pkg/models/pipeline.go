package models

import "time"

// PipelineStage identifies one of the five fixed pipeline stages.
type PipelineStage string

// Pipeline stages, in execution order.
const (
	StagePlanning   PipelineStage = "Planning"
	StageDesigning  PipelineStage = "Designing"
	StageSwarming   PipelineStage = "Swarming"
	StageBuilding   PipelineStage = "Building"
	StageValidating PipelineStage = "Validating"
)

// StageOrder is the fixed execution order of pipeline stages. Transitions are
// monotonic along this order; there is no way to move backwards.
var StageOrder = []PipelineStage{
	StagePlanning,
	StageDesigning,
	StageSwarming,
	StageBuilding,
	StageValidating,
}

// ExecutionStatus is the lifecycle status of a pipeline, stage, or agent execution.
type ExecutionStatus string

// Execution status constants.
const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusRunning   ExecutionStatus = "running"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusCancelled ExecutionStatus = "cancelled"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// Terminal reports whether the status is a terminal state.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusCancelled, ExecutionStatusFailed:
		return true
	}
	return false
}

// PipelineExecution is one run of the five-stage pipeline for a project.
type PipelineExecution struct {
	ID                 string          `db:"id" json:"id"`
	ProjectID          string          `db:"project_id" json:"projectId"`
	Stage              PipelineStage   `db:"stage" json:"stage"`
	Status             ExecutionStatus `db:"status" json:"status"`
	StartedAt          time.Time       `db:"started_at" json:"startedAt"`
	StageStartedAt     time.Time       `db:"stage_started_at" json:"stageStartedAt"`
	CompletedAt        *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	ProgressPct        float64         `db:"progress_pct" json:"progressPct"`
	TotalFunctions     int             `db:"total_functions" json:"totalFunctions"`
	CompletedFunctions int             `db:"completed_functions" json:"completedFunctions"`
	FailedFunctions    int             `db:"failed_functions" json:"failedFunctions"`
	ErrorMessage       *string         `db:"error_message" json:"errorMessage,omitempty"`
	ConfigSnapshot     string          `db:"config_snapshot" json:"configSnapshot"`
}

// Progress returns the completion percentage derived from the function
// counters. Zero totals report zero progress.
func (p *PipelineExecution) Progress() float64 {
	if p.TotalFunctions <= 0 {
		return 0
	}
	return 100 * float64(p.CompletedFunctions+p.FailedFunctions) / float64(p.TotalFunctions)
}

// StageExecution records one stage run inside a pipeline execution.
type StageExecution struct {
	ID             string          `db:"id" json:"id"`
	PipelineID     string          `db:"pipeline_id" json:"pipelineId"`
	StageName      PipelineStage   `db:"stage_name" json:"stageName"`
	ExecutionOrder int             `db:"execution_order" json:"order"`
	Status         ExecutionStatus `db:"status" json:"status"`
	StartedAt      time.Time       `db:"started_at" json:"startedAt"`
	CompletedAt    *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	ItemsCompleted int             `db:"items_completed" json:"itemsCompleted"`
	ItemsFailed    int             `db:"items_failed" json:"itemsFailed"`
}

// AgentExecution records a single LLM-backed agent invocation.
type AgentExecution struct {
	ID              string          `db:"id" json:"id"`
	ProjectID       string          `db:"project_id" json:"projectId"`
	PipelineID      string          `db:"pipeline_id" json:"pipelineId"`
	StageID         string          `db:"stage_id" json:"stageId"`
	AgentType       string          `db:"agent_type" json:"agentType"`
	Status          ExecutionStatus `db:"status" json:"status"`
	StartedAt       time.Time       `db:"started_at" json:"startedAt"`
	CompletedAt     *time.Time      `db:"completed_at" json:"completedAt,omitempty"`
	InputPrompt     string          `db:"input_prompt" json:"inputPrompt"`
	OutputResponse  *string         `db:"output_response" json:"outputResponse,omitempty"`
	TokensIn        int             `db:"tokens_in" json:"tokensIn"`
	TokensOut       int             `db:"tokens_out" json:"tokensOut"`
	Cost            float64         `db:"cost" json:"cost"`
	QualityScore    *float64        `db:"quality_score" json:"qualityScore,omitempty"`
	ConfidenceScore *float64        `db:"confidence_score" json:"confidenceScore,omitempty"`
	ErrorMessage    *string         `db:"error_message" json:"errorMessage,omitempty"`
}
