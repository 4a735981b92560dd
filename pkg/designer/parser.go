// Package designer turns the markdown a designer agent produced into
// function specifications and code units, persists them, and hands the
// resulting work to the swarm.
package designer

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/ensemble/maestro/pkg/llm"
	"github.com/ensemble/maestro/pkg/models"
)

// extractionInstruction is the fixed system prompt used to pull structured
// function specifications out of designer markdown.
const extractionInstruction = `Extract function specifications from the design document. ` +
	`Return a JSON array where each element has the keys: functionName, codeUnit, namespace, ` +
	`signature, description, inputParameters, returnType, dependencies, businessLogic, ` +
	`validationRules, errorHandling, performanceRequirements, securityConsiderations, ` +
	`testCases, complexityRating (1..10), estimatedMinutes, priority.`

// rawSpec is the loosely-typed shape function specs arrive in from the model.
type rawSpec struct {
	FunctionName           string  `json:"functionName"`
	CodeUnit               string  `json:"codeUnit"`
	Namespace              string  `json:"namespace"`
	Signature              string  `json:"signature"`
	Description            string  `json:"description"`
	BusinessLogic          string  `json:"businessLogic"`
	ValidationRules        string  `json:"validationRules"`
	ErrorHandling          string  `json:"errorHandling"`
	SecurityConsiderations string  `json:"securityConsiderations"`
	TestCases              string  `json:"testCases"`
	ComplexityRating       float64 `json:"complexityRating"`
	EstimatedMinutes       float64 `json:"estimatedMinutes"`
	Priority               string  `json:"priority"`
}

// parseFunctionSpecs extracts function specifications from model output.
// Missing or malformed JSON yields an empty list, never an error: malformed
// model output is an expected condition.
func parseFunctionSpecs(content string) []rawSpec {
	raw := llm.ExtractJSONArray(content)
	if raw == "" {
		return nil
	}

	var items []rawSpec
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return nil
	}

	specs := make([]rawSpec, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.FunctionName) == "" {
			continue
		}
		if item.CodeUnit == "" {
			item.CodeUnit = "General"
		}
		item.ComplexityRating = clampRating(item.ComplexityRating)
		specs = append(specs, item)
	}
	return specs
}

func clampRating(r float64) float64 {
	if r < 1 {
		return 1
	}
	if r > 10 {
		return 10
	}
	return r
}

// InferUnitType classifies a code unit by its name.
func InferUnitType(name string) models.UnitType {
	lower := strings.ToLower(name)
	switch {
	case strings.Contains(lower, "service"):
		return models.UnitTypeService
	case strings.Contains(lower, "controller"):
		return models.UnitTypeController
	case strings.Contains(lower, "repository"):
		return models.UnitTypeRepository
	case len(name) >= 2 && name[0] == 'I' && name[1] >= 'A' && name[1] <= 'Z':
		return models.UnitTypeInterface
	case strings.Contains(lower, "model"), strings.Contains(lower, "entity"):
		return models.UnitTypeEntity
	case strings.Contains(lower, "exception"):
		return models.UnitTypeException
	case strings.Contains(lower, "helper"), strings.Contains(lower, "utility"):
		return models.UnitTypeUtility
	default:
		return models.UnitTypeClass
	}
}

// NamespaceFor returns the generated-code namespace for a target language.
func NamespaceFor(language string) string {
	switch NormalizeLanguage(language) {
	case "csharp":
		return "Ensemble.Maestro.Generated"
	case "typescript", "python":
		return "generated"
	case "java":
		return "com.ensemble.maestro.generated"
	default:
		return "Generated"
	}
}

var unitFolders = map[models.UnitType]string{
	models.UnitTypeService:    "Services",
	models.UnitTypeController: "Controllers",
	models.UnitTypeRepository: "Repositories",
	models.UnitTypeInterface:  "Interfaces",
	models.UnitTypeEntity:     "Models",
	models.UnitTypeException:  "Exceptions",
	models.UnitTypeUtility:    "Utilities",
	models.UnitTypeClass:      "Generated",
}

// FilePathFor builds the conventional file path for a generated unit.
func FilePathFor(unitType models.UnitType, name, language string) string {
	folder, ok := unitFolders[unitType]
	if !ok {
		folder = "Generated"
	}
	return "/" + folder + "/" + name + ExtensionFor(language)
}

// ExtensionFor returns the source file extension for a target language.
func ExtensionFor(language string) string {
	switch NormalizeLanguage(language) {
	case "csharp":
		return ".cs"
	case "typescript":
		return ".ts"
	case "python":
		return ".py"
	case "java":
		return ".java"
	case "javascript":
		return ".js"
	default:
		return ".cs"
	}
}

// NormalizeLanguage canonicalizes a target-language name.
func NormalizeLanguage(language string) string {
	switch strings.ToLower(strings.TrimSpace(language)) {
	case "c#", "csharp", "cs":
		return "csharp"
	case "typescript", "ts":
		return "typescript"
	case "python", "py":
		return "python"
	case "java":
		return "java"
	case "javascript", "js":
		return "javascript"
	default:
		return strings.ToLower(strings.TrimSpace(language))
	}
}

// unitAggregate accumulates the per-unit rollups while grouping specs.
type unitAggregate struct {
	name         string
	specs        []rawSpec
	totalRating  float64
	totalMinutes int
	priority     models.Priority
	simpleCount  int
	complexCount int
}

// groupSpecsByUnit groups raw specs by code unit, preserving first-seen
// order, and computes the unit rollups.
func groupSpecsByUnit(specs []rawSpec) []*unitAggregate {
	byName := make(map[string]*unitAggregate)
	var order []*unitAggregate

	for _, spec := range specs {
		agg, ok := byName[spec.CodeUnit]
		if !ok {
			agg = &unitAggregate{name: spec.CodeUnit, priority: models.PriorityLow}
			byName[spec.CodeUnit] = agg
			order = append(order, agg)
		}
		agg.specs = append(agg.specs, spec)
		agg.totalRating += spec.ComplexityRating
		agg.totalMinutes += int(spec.EstimatedMinutes)
		agg.priority = models.MaxPriority(agg.priority, models.ParsePriority(spec.Priority))
		if spec.ComplexityRating < models.ComplexFunctionThreshold {
			agg.simpleCount++
		} else {
			agg.complexCount++
		}
	}
	return order
}

// Complexity returns the unit complexity: the ceiling of the average member
// rating.
func (a *unitAggregate) Complexity() int {
	if len(a.specs) == 0 {
		return 1
	}
	return int(math.Ceil(a.totalRating / float64(len(a.specs))))
}
