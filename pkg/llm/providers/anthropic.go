// Package providers implements the model backends behind the llm gateway.
// Each backend registers itself by name in init so the gateway config can
// select one without importing it directly.
package providers

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ensemble/maestro/pkg/llm"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

func init() {
	llm.RegisterProvider("anthropic", func(cfg llm.ProviderConfig) (llm.Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := anthropic.NewClient(opts...)
		model := cfg.Model
		if model == "" {
			model = defaultAnthropicModel
		}
		return &AnthropicProvider{client: &client, model: model}, nil
	})
}

// AnthropicProvider calls the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

func (p *AnthropicProvider) Name() string { return "anthropic" }

func (p *AnthropicProvider) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, llm.Usage, error) {
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(user)),
		},
		Temperature: anthropic.Float(temperature),
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("anthropic API call: %w", err)
	}

	var content string
	for _, block := range resp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}

	return content, llm.Usage{
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
	}, nil
}
