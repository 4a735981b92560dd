package swarm

import (
	"context"
	"fmt"
	"strings"

	"github.com/ensemble/maestro/pkg/llm"
	"github.com/ensemble/maestro/pkg/models"
)

// MethodWorker generates the implementation of one function. The controller
// treats workers as a single opaque role; any specialization happens inside
// the implementation.
type MethodWorker interface {
	Execute(ctx context.Context, packet *MethodJobPacket) (*models.CodeDocument, error)
}

// LLMMethodWorker implements MethodWorker against the LLM gateway.
type LLMMethodWorker struct {
	gateway *llm.Gateway
}

// NewLLMMethodWorker creates a gateway-backed method worker.
func NewLLMMethodWorker(gateway *llm.Gateway) *LLMMethodWorker {
	return &LLMMethodWorker{gateway: gateway}
}

const methodWorkerInstruction = `You implement a single function inside an existing code unit. ` +
	`Produce only the complete function implementation in the target language, with no surrounding class scaffolding.`

// Execute generates the function body and wraps it in a CodeDocument.
func (w *LLMMethodWorker) Execute(ctx context.Context, packet *MethodJobPacket) (*models.CodeDocument, error) {
	resp := w.gateway.Generate(ctx, llm.Request{
		System:    methodWorkerInstruction,
		User:      buildMethodPrompt(packet),
		AgentType: MethodAgentType,
		Stage:     string(models.StageSwarming),
	})
	if !resp.Success {
		return nil, fmt.Errorf("generating %s.%s: %s", packet.CodeUnitName, packet.Function.FunctionName, resp.Error)
	}

	return &models.CodeDocument{
		ProjectID:    packet.ProjectID,
		PipelineID:   packet.PipelineID,
		CodeUnitName: packet.CodeUnitName,
		FunctionName: packet.Function.FunctionName,
		Content:      resp.Content,
	}, nil
}

func buildMethodPrompt(packet *MethodJobPacket) string {
	var b strings.Builder
	fn := packet.Function

	fmt.Fprintf(&b, "Code unit: %s (%s)\n", packet.CodeUnitName, packet.Context["unitType"])
	if ns := packet.Context["namespace"]; ns != "" {
		fmt.Fprintf(&b, "Namespace: %s\n", ns)
	}
	fmt.Fprintf(&b, "Target language: %s\n\n", fn.TargetLanguage)
	fmt.Fprintf(&b, "Signature: %s\n", fn.Signature)
	fmt.Fprintf(&b, "Description: %s\n", fn.Description)
	if fn.BusinessLogic != "" {
		fmt.Fprintf(&b, "Business logic: %s\n", fn.BusinessLogic)
	}
	if fn.ValidationRules != "" {
		fmt.Fprintf(&b, "Validation rules: %s\n", fn.ValidationRules)
	}
	if fn.ErrorHandling != "" {
		fmt.Fprintf(&b, "Error handling: %s\n", fn.ErrorHandling)
	}
	return b.String()
}
