// Package llm provides the single call surface every agent in the pipeline
// uses to reach a language model. The gateway wraps a pluggable provider with
// a hard per-call timeout, token and cost accounting, and on-disk artifact
// capture of generated content.
package llm

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Request is one generation call.
type Request struct {
	System      string  `json:"system"`
	User        string  `json:"user"`
	MaxTokens   int     `json:"maxTokens"`
	Temperature float64 `json:"temperature"`
	AgentType   string  `json:"agentType"`
	Stage       string  `json:"stage"`
}

// Response is the outcome of a generation call. Failures are carried in-band:
// Success=false with Error set, never a Go error into the caller.
type Response struct {
	Success    bool    `json:"success"`
	Content    string  `json:"content"`
	TokensIn   int     `json:"tokensIn"`
	TokensOut  int     `json:"tokensOut"`
	Cost       float64 `json:"cost"`
	DurationMs int64   `json:"durationMs"`
	Model      string  `json:"model"`
	Error      string  `json:"error,omitempty"`
}

// Usage is the token accounting a provider reports. Zero values mean the
// provider did not report usage and the gateway estimates instead.
type Usage struct {
	TokensIn  int
	TokensOut int
}

// Provider is a model backend. Implementations live in pkg/llm/providers.
type Provider interface {
	Name() string
	Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, Usage, error)
}

// ProviderConfig is what a provider factory needs to build a client.
type ProviderConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ProviderFactory builds a Provider from configuration.
type ProviderFactory func(cfg ProviderConfig) (Provider, error)

var (
	providersMu sync.RWMutex
	providers   = make(map[string]ProviderFactory)
)

// RegisterProvider makes a provider constructable by name. Called from
// provider package init functions.
func RegisterProvider(name string, factory ProviderFactory) {
	providersMu.Lock()
	defer providersMu.Unlock()
	providers[name] = factory
}

// NewProvider builds a registered provider by name.
func NewProvider(name string, cfg ProviderConfig) (Provider, error) {
	providersMu.RLock()
	factory, ok := providers[name]
	providersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown llm provider %q (registered: %v)", name, ProviderNames())
	}
	return factory(cfg)
}

// ProviderNames lists the registered provider names, sorted.
func ProviderNames() []string {
	providersMu.RLock()
	defer providersMu.RUnlock()
	names := make([]string, 0, len(providers))
	for name := range providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
