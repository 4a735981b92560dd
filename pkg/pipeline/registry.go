// Package pipeline drives the five-stage execution of a project: Planning,
// Designing, Swarming, Building, and Validating. The executor owns stage
// transitions and cancellation; stage agents own the LLM work.
package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/ensemble/maestro/pkg/llm"
	"github.com/ensemble/maestro/pkg/models"
)

// ErrUnknownAgentType is returned when no factory is registered for a type.
var ErrUnknownAgentType = errors.New("unknown agent type")

// Run carries the execution context handed to every stage agent.
type Run struct {
	Project        *models.Project
	Pipeline       *models.PipelineExecution
	StageID        string
	TargetLanguage string

	// DispatchedUnits lists the code units the Swarming stage queued, in
	// dispatch order. Building waits for each one's Complete notification.
	DispatchedUnits []string
}

// AgentResult is the outcome of one agent invocation.
type AgentResult struct {
	AgentType string
	Markdown  string
	Response  *llm.Response
}

// Agent is one LLM-backed stage worker.
type Agent interface {
	Type() string
	Execute(ctx context.Context, run *Run) (*AgentResult, error)
}

// AgentFactory builds an agent from the gateway it will call.
type AgentFactory func(gateway *llm.Gateway) Agent

// stageAgentTypes fixes which agent types run in each LLM-backed stage.
// Swarming and Building do not run stage agents.
var stageAgentTypes = map[models.PipelineStage][]string{
	models.StagePlanning:   {"ProjectPlanner", "RequirementsAnalyst"},
	models.StageDesigning:  {"SystemArchitect", "APIDesigner", "DataArchitect"},
	models.StageValidating: {"CodeReviewer", "QualityValidator"},
}

// AgentTypesFor returns the agent types that run in the given stage, in
// execution order.
func AgentTypesFor(stage models.PipelineStage) []string {
	return stageAgentTypes[stage]
}

// agentInstructions is the fixed system instruction per agent type.
var agentInstructions = map[string]string{
	"ProjectPlanner": `You are a project planner. Break the requirements into a phased delivery plan: ` +
		`milestones, work breakdown, risks, and dependencies. Respond in markdown.`,
	"RequirementsAnalyst": `You are a requirements analyst. Extract functional and non-functional requirements ` +
		`from the project description, flag ambiguities, and state acceptance criteria. Respond in markdown.`,
	"SystemArchitect": `You are a system architect. Design the service and class structure for the requirements: ` +
		`components, their responsibilities, and the functions each exposes, with signatures. Respond in markdown.`,
	"APIDesigner": `You are an API designer. Specify the public API surface the system exposes: endpoints or ` +
		`interfaces, request/response shapes, and the functions that implement them, with signatures. Respond in markdown.`,
	"DataArchitect": `You are a data architect. Design the persistence model: entities, relationships, and the ` +
		`data-access functions the system needs, with signatures. Respond in markdown.`,
	"CodeReviewer": `You are a code reviewer. Assess the generated implementation summary for correctness risks, ` +
		`missing error handling, and structural problems. Respond in markdown.`,
	"QualityValidator": `You are a quality validator. Check the implementation summary against the original ` +
		`requirements and report coverage gaps and quality concerns. Respond in markdown.`,
}

// Registry maps agent types to factories at compile time.
type Registry struct {
	gateway   *llm.Gateway
	factories map[string]AgentFactory
}

// NewRegistry builds the registry with the built-in agent set.
func NewRegistry(gateway *llm.Gateway) *Registry {
	factories := make(map[string]AgentFactory, len(agentInstructions))
	for agentType, instruction := range agentInstructions {
		factories[agentType] = newPromptAgentFactory(agentType, instruction)
	}
	return &Registry{gateway: gateway, factories: factories}
}

// Create builds the agent for the given type. Unknown types are an error,
// never a nil agent.
func (r *Registry) Create(agentType string) (Agent, error) {
	factory, ok := r.factories[agentType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAgentType, agentType)
	}
	return factory(r.gateway), nil
}

func newPromptAgentFactory(agentType, instruction string) AgentFactory {
	return func(gateway *llm.Gateway) Agent {
		return &promptAgent{agentType: agentType, instruction: instruction, gateway: gateway}
	}
}

// promptAgent is the generic single-shot stage agent: one instruction, one
// prompt built from the project, one gateway call.
type promptAgent struct {
	agentType   string
	instruction string
	gateway     *llm.Gateway
}

func (a *promptAgent) Type() string { return a.agentType }

func (a *promptAgent) Execute(ctx context.Context, run *Run) (*AgentResult, error) {
	resp := a.gateway.Generate(ctx, llm.Request{
		System:    a.instruction,
		User:      buildAgentPrompt(run),
		AgentType: a.agentType,
		Stage:     string(run.Pipeline.Stage),
	})
	if !resp.Success {
		return &AgentResult{AgentType: a.agentType, Response: resp},
			fmt.Errorf("agent %s: %s", a.agentType, resp.Error)
	}
	return &AgentResult{AgentType: a.agentType, Markdown: resp.Content, Response: resp}, nil
}

func buildAgentPrompt(run *Run) string {
	return fmt.Sprintf("Project: %s\nTarget language: %s\n\nRequirements:\n%s\n",
		run.Project.Name, run.TargetLanguage, run.Project.Requirements)
}
