package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultAnthropicMaxTokens = 1024

// Anthropic completes prompts with the Messages API.
type Anthropic struct {
	client anthropic.Client
	model  anthropic.Model
	cfg    Config
}

func newAnthropic(cfg Config) *Anthropic {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &Anthropic{client: anthropic.NewClient(opts...), model: anthropic.Model(cfg.Model), cfg: cfg}
}

func (c *Anthropic) Complete(ctx context.Context, req Request) (string, error) {
	return call(ctx, "anthropic", c.cfg, func(ctx context.Context) (string, int, error) {
		maxTokens := int64(req.MaxTokens)
		if maxTokens <= 0 {
			maxTokens = defaultAnthropicMaxTokens
		}
		params := anthropic.MessageNewParams{
			Model:       c.model,
			MaxTokens:   maxTokens,
			Temperature: anthropic.Float(req.Temperature),
			Messages: []anthropic.MessageParam{
				anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
			},
		}
		if req.System != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.System}}
		}

		resp, err := c.client.Messages.New(ctx, params)
		if err != nil {
			var apiErr *anthropic.Error
			if errors.As(err, &apiErr) {
				return "", apiErr.StatusCode, err
			}
			return "", 0, err
		}

		var b strings.Builder
		for _, block := range resp.Content {
			if block.Type == "text" {
				b.WriteString(block.Text)
			}
		}
		return b.String(), 0, nil
	})
}
