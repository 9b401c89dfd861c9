package llm

import (
	"context"
	"errors"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/azure"
	"github.com/openai/openai-go/option"
)

// OpenAI completes prompts with the Chat Completions API, directly or
// through an Azure OpenAI deployment.
type OpenAI struct {
	client   openai.Client
	model    string
	provider string
	cfg      Config
}

func newOpenAI(cfg Config) *OpenAI {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model, provider: "openai", cfg: cfg}
}

func newAzure(cfg Config) *OpenAI {
	client := openai.NewClient(
		azure.WithEndpoint(cfg.Endpoint, cfg.APIVersion),
		azure.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	)
	return &OpenAI{client: client, model: cfg.Model, provider: "azure", cfg: cfg}
}

func (c *OpenAI) Complete(ctx context.Context, req Request) (string, error) {
	return call(ctx, c.provider, c.cfg, func(ctx context.Context) (string, int, error) {
		params := openai.ChatCompletionNewParams{
			Model:       openai.ChatModel(c.model),
			Temperature: openai.Float(req.Temperature),
		}
		if req.System != "" {
			params.Messages = append(params.Messages, openai.SystemMessage(req.System))
		}
		params.Messages = append(params.Messages, openai.UserMessage(req.Prompt))
		if req.MaxTokens > 0 {
			params.MaxTokens = openai.Int(int64(req.MaxTokens))
		}

		resp, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			var apiErr *openai.Error
			if errors.As(err, &apiErr) {
				return "", apiErr.StatusCode, err
			}
			return "", 0, err
		}
		if len(resp.Choices) == 0 {
			return "", 0, nil
		}
		return resp.Choices[0].Message.Content, 0, nil
	})
}
