package models

// Priority classifies the urgency of a function specification or code unit.
type Priority string

// Priority levels, lowest to highest.
const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// priorityRank orders priorities for Max comparisons.
var priorityRank = map[Priority]int{
	PriorityLow:      0,
	PriorityMedium:   1,
	PriorityHigh:     2,
	PriorityCritical: 3,
}

// queuePriority maps a Priority to its message-queue priority score (1..10).
var queuePriority = map[Priority]int{
	PriorityLow:      2,
	PriorityMedium:   5,
	PriorityHigh:     8,
	PriorityCritical: 10,
}

// QueuePriority returns the 1..10 queue priority for the level. Unknown
// levels fall back to the medium score.
func (p Priority) QueuePriority() int {
	if score, ok := queuePriority[p]; ok {
		return score
	}
	return queuePriority[PriorityMedium]
}

// MaxPriority returns the higher of two priority levels.
func MaxPriority(a, b Priority) Priority {
	if priorityRank[b] > priorityRank[a] {
		return b
	}
	return a
}

// ParsePriority normalizes a raw priority string; unknown values map to Medium.
func ParsePriority(raw string) Priority {
	switch Priority(raw) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(raw)
	}
	return PriorityMedium
}

// DesignerOutput is the markdown artifact a designer agent produced, plus the
// summary extracted from it.
type DesignerOutput struct {
	ID                string `db:"id" json:"id"`
	CrossRefID        string `db:"cross_ref_id" json:"crossRefId"`
	ProjectID         string `db:"project_id" json:"projectId"`
	PipelineID        string `db:"pipeline_id" json:"pipelineId"`
	AgentType         string `db:"agent_type" json:"agentType"`
	Markdown          string `db:"markdown" json:"markdown"`
	StructuredSummary string `db:"structured_summary" json:"structuredSummary"`
	FunctionSpecCount int    `db:"function_spec_count" json:"functionSpecCount"`
	Complexity        int    `db:"complexity" json:"complexity"`
	Quality           int    `db:"quality" json:"quality"`
	Status            string `db:"status" json:"status"`
}

// FunctionSpecification describes a single function to implement, extracted
// from a designer output.
type FunctionSpecification struct {
	ID               string   `db:"id" json:"id"`
	CrossRefID       string   `db:"cross_ref_id" json:"crossRefId"`
	ProjectID        string   `db:"project_id" json:"projectId"`
	PipelineID       string   `db:"pipeline_id" json:"pipelineId"`
	CodeUnit         string   `db:"code_unit" json:"codeUnit"`
	FunctionName     string   `db:"function_name" json:"functionName"`
	Signature        string   `db:"signature" json:"signature"`
	Description      string   `db:"description" json:"description"`
	BusinessLogic    *string  `db:"business_logic" json:"businessLogic,omitempty"`
	ValidationRules  *string  `db:"validation_rules" json:"validationRules,omitempty"`
	ErrorHandling    *string  `db:"error_handling" json:"errorHandling,omitempty"`
	ComplexityRating int      `db:"complexity_rating" json:"complexityRating"`
	EstimatedMinutes *int     `db:"estimated_minutes" json:"estimatedMinutes,omitempty"`
	Priority         Priority `db:"priority" json:"priority"`
	Language         string   `db:"language" json:"language"`
	Status           string   `db:"status" json:"status"`
}

// ComplexFunctionThreshold splits simple (rating < 4) from complex (rating >= 4)
// functions when counting code-unit membership.
const ComplexFunctionThreshold = 4
