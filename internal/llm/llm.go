// Package llm wraps language-model completion services behind one interface
// and classifies their failures for the retry policy.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/FranksOps/newsbrief/internal/metrics"
	"github.com/FranksOps/newsbrief/pkg/ratelimit"
)

var (
	// ErrRateLimited means the service throttled the caller.
	ErrRateLimited = errors.New("language model rate limited")
	// ErrUnavailable means the service failed or could not be reached.
	ErrUnavailable = errors.New("language model unavailable")
	// ErrRejected means the request was refused.
	ErrRejected = errors.New("language model rejected request")
)

// Request is one completion call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Completer produces a completion for a prompt. Errors wrap one of
// ErrRateLimited, ErrUnavailable or ErrRejected, or the caller's context
// error.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Config selects and configures a provider. Credentials are always passed
// in; nothing is read from the environment here.
type Config struct {
	// Provider is "openai", "azure" or "anthropic".
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the provider endpoint (OpenAI-compatible gateways,
	// tests).
	BaseURL string
	// Endpoint and APIVersion address an Azure OpenAI resource. Model is
	// the deployment name.
	Endpoint   string
	APIVersion string
	// Timeout bounds a single call.
	Timeout time.Duration
	Limiter *ratelimit.Limiter
}

const (
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-haiku-4-5"
	DefaultAzureAPIVersion = "2024-06-01"
)

// New returns the Completer for cfg.Provider.
func New(cfg Config) (Completer, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, errors.New("openai: api key is required")
		}
		if cfg.Model == "" {
			cfg.Model = DefaultOpenAIModel
		}
		return newOpenAI(cfg), nil
	case "azure":
		if cfg.APIKey == "" || cfg.Endpoint == "" || cfg.Model == "" {
			return nil, errors.New("azure: api key, endpoint and deployment are required")
		}
		if cfg.APIVersion == "" {
			cfg.APIVersion = DefaultAzureAPIVersion
		}
		return newAzure(cfg), nil
	case "anthropic":
		if cfg.APIKey == "" {
			return nil, errors.New("anthropic: api key is required")
		}
		if cfg.Model == "" {
			cfg.Model = DefaultAnthropicModel
		}
		return newAnthropic(cfg), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q (valid: openai, azure, anthropic)", cfg.Provider)
	}
}

// call runs one completion under the limiter and per-call timeout, and
// records metrics.
func call(ctx context.Context, provider string, cfg Config, fn func(context.Context) (string, int, error)) (string, error) {
	if err := cfg.Limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("%s: %w", provider, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
	defer cancel()

	start := time.Now()
	text, status, err := fn(callCtx)
	if err != nil {
		err = classify(ctx, provider, status, err)
	}
	metrics.RecordCompletion(provider, time.Since(start), err)
	return text, err
}

// classify maps a provider error to a sentinel. status is the HTTP status
// when the provider answered, else 0.
func classify(ctx context.Context, provider string, status int, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%s: %w", provider, ctx.Err())
	}
	var sentinel error
	switch {
	case status == http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	case status == http.StatusRequestTimeout, status >= 500:
		sentinel = ErrUnavailable
	case status >= 400:
		sentinel = ErrRejected
	default:
		// no response: connection failure or per-call timeout
		sentinel = ErrUnavailable
	}
	return fmt.Errorf("%s: %w: %w", provider, sentinel, err)
}
