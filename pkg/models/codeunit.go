package models

import "time"

// UnitType classifies a code unit by the role its name implies.
type UnitType string

// Unit types.
const (
	UnitTypeService    UnitType = "Service"
	UnitTypeController UnitType = "Controller"
	UnitTypeRepository UnitType = "Repository"
	UnitTypeInterface  UnitType = "Interface"
	UnitTypeEntity     UnitType = "Entity"
	UnitTypeException  UnitType = "Exception"
	UnitTypeUtility    UnitType = "Utility"
	UnitTypeClass      UnitType = "Class"
)

// CodeUnitStatus is the lifecycle status of a code unit.
type CodeUnitStatus string

// Code unit statuses.
const (
	CodeUnitStatusPlanned    CodeUnitStatus = "Planned"
	CodeUnitStatusAssigned   CodeUnitStatus = "Assigned"
	CodeUnitStatusInProgress CodeUnitStatus = "InProgress"
	CodeUnitStatusComplete   CodeUnitStatus = "Complete"
	CodeUnitStatusFailed     CodeUnitStatus = "Failed"
)

// CodeUnit groups the function specifications that belong to one class,
// controller, service, or similar construct. Created by designer ingestion,
// assigned by Swarming, progressed by the controller, completed at queue
// drain; never deleted during a run.
type CodeUnit struct {
	ID                  string         `db:"id" json:"id"`
	CrossRefID          string         `db:"cross_ref_id" json:"crossRefId"`
	ProjectID           string         `db:"project_id" json:"projectId"`
	PipelineID          string         `db:"pipeline_id" json:"pipelineId"`
	DesignerOutputID    string         `db:"designer_output_id" json:"designerOutputId"`
	Name                string         `db:"name" json:"name"`
	UnitType            UnitType       `db:"unit_type" json:"unitType"`
	Namespace           *string        `db:"namespace" json:"namespace,omitempty"`
	Language            string         `db:"language" json:"language"`
	FilePath            string         `db:"file_path" json:"filePath"`
	FunctionCount       int            `db:"function_count" json:"functionCount"`
	SimpleFunctionCount int            `db:"simple_function_count" json:"simpleFunctionCount"`
	ComplexFunctionCount int           `db:"complex_function_count" json:"complexFunctionCount"`
	Complexity          int            `db:"complexity" json:"complexity"`
	EstimatedMinutes    int            `db:"estimated_minutes" json:"estimatedMinutes"`
	Priority            Priority       `db:"priority" json:"priority"`
	Status              CodeUnitStatus `db:"status" json:"status"`
	CompletionPct       float64        `db:"completion_pct" json:"completionPct"`
}

// CodeDocument is a per-function implementation artifact produced by a method
// worker.
type CodeDocument struct {
	ID           string `db:"id" json:"id"`
	ProjectID    string `db:"project_id" json:"projectId"`
	PipelineID   string `db:"pipeline_id" json:"pipelineId"`
	CodeUnitName string `db:"code_unit_name" json:"codeUnitName"`
	FunctionName string `db:"function_name" json:"functionName"`
	Content      string    `db:"content" json:"content"`
	SizeBytes    int       `db:"size_bytes" json:"sizeBytes"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}
