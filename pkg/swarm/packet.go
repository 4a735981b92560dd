package swarm

import (
	"strings"

	"github.com/google/uuid"

	"github.com/ensemble/maestro/pkg/models"
)

// FunctionSpec is the parsed, self-contained description of one function a
// method worker implements.
type FunctionSpec struct {
	FunctionName     string
	Signature        string
	Description      string
	BusinessLogic    string
	ValidationRules  string
	ErrorHandling    string
	ReturnType       string
	AccessModifier   string
	IsStatic         bool
	IsAsync          bool
	ComplexityRating int
	Priority         models.Priority
	TargetLanguage   string
}

// MethodJobPacket is one unit of work handed to a method worker.
type MethodJobPacket struct {
	JobID        string
	ProjectID    string
	PipelineID   string
	CodeUnitName string
	Function     FunctionSpec
	Priority     int
	Context      map[string]string
}

// BuildPacket converts one function assignment into a worker job packet,
// parsing return type and modifiers out of the raw signature.
func BuildPacket(assignment *models.CodeUnitAssignment, fn models.FunctionAssignment) *MethodJobPacket {
	spec := FunctionSpec{
		FunctionName:     fn.FunctionName,
		Signature:        fn.Signature,
		Description:      fn.Description,
		BusinessLogic:    derefOr(fn.BusinessLogic, ""),
		ValidationRules:  derefOr(fn.ValidationRules, ""),
		ErrorHandling:    derefOr(fn.ErrorHandling, ""),
		ReturnType:       parseReturnType(fn.Signature),
		AccessModifier:   parseAccessModifier(fn.Signature),
		IsStatic:         containsWord(fn.Signature, "static"),
		IsAsync:          containsWord(fn.Signature, "async"),
		ComplexityRating: fn.ComplexityRating,
		Priority:         fn.Priority,
		TargetLanguage:   fn.TargetLanguage,
	}

	ctx := map[string]string{
		"codeUnit": assignment.Name,
		"unitType": string(assignment.UnitType),
		"language": assignment.TargetLanguage,
	}
	if assignment.Namespace != nil {
		ctx["namespace"] = *assignment.Namespace
	}

	return &MethodJobPacket{
		JobID:        uuid.New().String(),
		ProjectID:    assignment.ProjectID,
		PipelineID:   assignment.PipelineID,
		CodeUnitName: assignment.Name,
		Function:     spec,
		Priority:     packetPriority(spec),
		Context:      ctx,
	}
}

// parseReturnType extracts a coarse return type from a raw signature by
// keyword matching.
func parseReturnType(signature string) string {
	if idx := strings.Index(signature, "Task<"); idx >= 0 {
		if end := matchAngle(signature[idx:]); end > 0 {
			return signature[idx : idx+end]
		}
		return "Task"
	}
	switch {
	case containsWord(signature, "Task"):
		return "Task"
	case containsWord(signature, "string"):
		return "string"
	case containsWord(signature, "int"):
		return "int"
	case containsWord(signature, "bool"):
		return "bool"
	default:
		return "object"
	}
}

// matchAngle returns the index one past the bracket matching the first '<'
// in s, or 0 if unbalanced.
func matchAngle(s string) int {
	depth := 0
	for i, r := range s {
		switch r {
		case '<':
			depth++
		case '>':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return 0
}

func parseAccessModifier(signature string) string {
	switch {
	case containsWord(signature, "private"):
		return "private"
	case containsWord(signature, "protected"):
		return "protected"
	case containsWord(signature, "internal"):
		return "internal"
	default:
		return "public"
	}
}

func containsWord(s, word string) bool {
	for _, field := range strings.Fields(s) {
		if strings.Trim(field, "(){};,") == word {
			return true
		}
		// A return type glued to the method name, e.g. "Task DoWork()".
		if strings.HasPrefix(field, word+"(") {
			return true
		}
	}
	return false
}

// packetPriority scores a job packet: base 5, boosted for visibility,
// asynchrony, complexity, entry points, and assignment urgency; capped at 10.
func packetPriority(spec FunctionSpec) int {
	priority := 5
	if spec.AccessModifier == "public" {
		priority += 2
	}
	if spec.IsAsync || strings.HasPrefix(spec.ReturnType, "Task") {
		priority++
	}
	if spec.ComplexityRating > 5 {
		priority++
	}
	if strings.Contains(strings.ToLower(spec.FunctionName), "main") {
		priority += 3
	}
	switch spec.Priority {
	case models.PriorityCritical:
		priority += 2
	case models.PriorityHigh:
		priority++
	}
	if priority > 10 {
		priority = 10
	}
	if priority < 1 {
		priority = 1
	}
	return priority
}

func derefOr(s *string, fallback string) string {
	if s == nil {
		return fallback
	}
	return *s
}
