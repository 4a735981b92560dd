package models

import "time"

// CodeUnitAssignment is the message that hands one code unit to the swarm.
// Emitted by designer ingestion and re-emitted from the database by the
// Swarming stage; consumers deduplicate by (CodeUnitID, Name).
type CodeUnitAssignment struct {
	AssignmentID         string               `json:"assignmentId"`
	CodeUnitID           string               `json:"codeUnitId"`
	ProjectID            string               `json:"projectId"`
	PipelineID           string               `json:"pipelineId"`
	Name                 string               `json:"name"`
	UnitType             UnitType             `json:"unitType"`
	Namespace            *string              `json:"namespace,omitempty"`
	Description          *string              `json:"description,omitempty"`
	Functions            []FunctionAssignment `json:"functions"`
	SimpleFunctionCount  int                  `json:"simpleFunctionCount"`
	ComplexFunctionCount int                  `json:"complexFunctionCount"`
	Dependencies         []string             `json:"dependencies,omitempty"`
	Patterns             []string             `json:"patterns,omitempty"`
	TestingStrategy      *string              `json:"testingStrategy,omitempty"`
	ComplexityRating     int                  `json:"complexityRating"`
	EstimatedMinutes     int                  `json:"estimatedMinutes"`
	Priority             Priority             `json:"priority"`
	TargetLanguage       string               `json:"targetLanguage"`
	AssignedAt           time.Time            `json:"assignedAt"`
	DueAt                *time.Time           `json:"dueAt,omitempty"`
}

// FunctionAssignment is one function work item inside a code-unit assignment.
type FunctionAssignment struct {
	AssignmentID            string     `json:"assignmentId"`
	FunctionSpecificationID string     `json:"functionSpecificationId"`
	FunctionName            string     `json:"functionName"`
	CodeUnit                string     `json:"codeUnit"`
	Signature               string     `json:"signature"`
	Description             string     `json:"description"`
	BusinessLogic           *string    `json:"businessLogic,omitempty"`
	ValidationRules         *string    `json:"validationRules,omitempty"`
	ErrorHandling           *string    `json:"errorHandling,omitempty"`
	SecurityConsiderations  *string    `json:"securityConsiderations,omitempty"`
	TestCases               *string    `json:"testCases,omitempty"`
	ComplexityRating        int        `json:"complexityRating"`
	EstimatedMinutes        int        `json:"estimatedMinutes"`
	Priority                Priority   `json:"priority"`
	TargetLanguage          string     `json:"targetLanguage"`
	AssignedAt              time.Time  `json:"assignedAt"`
	DueAt                   *time.Time `json:"dueAt,omitempty"`
}

// BuilderNotificationStatus is the terminal state reported for a code unit.
type BuilderNotificationStatus string

// Builder notification statuses.
const (
	BuilderStatusComplete BuilderNotificationStatus = "Complete"
	BuilderStatusFailed   BuilderNotificationStatus = "Failed"
)

// BuilderNotification tells the Builder that a code unit's work queue has
// drained. Exactly one Complete notification is emitted per code unit.
type BuilderNotification struct {
	NotificationID string                    `json:"notificationId"`
	ProjectID      string                    `json:"projectId"`
	PipelineID     string                    `json:"pipelineId"`
	CodeUnitName   string                    `json:"codeUnitName"`
	Status         BuilderNotificationStatus `json:"status"`
	CompletedAt    time.Time                 `json:"completedAt"`
	Priority       int                       `json:"priority"`
}

// BuilderError reports a processing or compilation failure back to the
// Builder. Severity ranges 1..10.
type BuilderError struct {
	ErrorID           string   `json:"errorId"`
	ProjectID         string   `json:"projectId"`
	PipelineID        string   `json:"pipelineId"`
	CodeUnitName      string   `json:"codeUnitName"`
	FunctionName      *string  `json:"functionName,omitempty"`
	FunctionSignature *string  `json:"functionSignature,omitempty"`
	ErrorType         string   `json:"errorType"`
	ErrorMessage      string   `json:"errorMessage"`
	Details           *string  `json:"details,omitempty"`
	StackTrace        *string  `json:"stackTrace,omitempty"`
	FileName          *string  `json:"fileName,omitempty"`
	LineNumber        *int     `json:"lineNumber,omitempty"`
	Severity          int      `json:"severity"`
	SuggestedFix      *string  `json:"suggestedFix,omitempty"`
	RelatedFunctions  []string `json:"relatedFunctions"`
}
