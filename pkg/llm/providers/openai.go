package providers

import (
	"context"
	"fmt"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/ensemble/maestro/pkg/llm"
)

const defaultOpenAIModel = "gpt-4o-mini"

func init() {
	llm.RegisterProvider("openai", func(cfg llm.ProviderConfig) (llm.Provider, error) {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai provider requires an API key")
		}
		opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		client := openai.NewClient(opts...)
		model := cfg.Model
		if model == "" {
			model = defaultOpenAIModel
		}
		return &OpenAIProvider{client: &client, model: model}, nil
	})
}

// OpenAIProvider calls the OpenAI Chat Completions API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Generate(ctx context.Context, system, user string, maxTokens int, temperature float64) (string, llm.Usage, error) {
	var messages []openai.ChatCompletionMessageParamUnion
	if system != "" {
		messages = append(messages, openai.SystemMessage(system))
	}
	messages = append(messages, openai.UserMessage(user))

	params := openai.ChatCompletionNewParams{
		Model:       p.model,
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", llm.Usage{}, fmt.Errorf("openai API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", llm.Usage{}, fmt.Errorf("openai API returned no choices")
	}

	return resp.Choices[0].Message.Content, llm.Usage{
		TokensIn:  int(resp.Usage.PromptTokens),
		TokensOut: int(resp.Usage.CompletionTokens),
	}, nil
}
