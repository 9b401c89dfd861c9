package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

const chatCompletion = `{"id":"chatcmpl-1","object":"chat.completion","created":1725271200,"model":"gpt-4o-mini",
"choices":[{"index":0,"message":{"role":"assistant","content":"{\"headline\":\"ok\"}"},"finish_reason":"stop"}],
"usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}}`

const anthropicMessage = `{"id":"msg_1","type":"message","role":"assistant","model":"claude-haiku-4-5",
"content":[{"type":"text","text":"{\"headline\":"},{"type":"text","text":"\"ok\"}"}],
"stop_reason":"end_turn","stop_sequence":null,"usage":{"input_tokens":10,"output_tokens":5}}`

func TestOpenAI_Complete(t *testing.T) {
	var body map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("missing bearer token")
		}
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer ts.Close()

	c, err := New(Config{Provider: "openai", APIKey: "sk-test", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	got, err := c.Complete(context.Background(), Request{System: "be terse", Prompt: "summarize", MaxTokens: 200})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"headline":"ok"}` {
		t.Errorf("unexpected completion %q", got)
	}
	if body["model"] != DefaultOpenAIModel {
		t.Errorf("expected default model, got %v", body["model"])
	}
	if msgs, _ := body["messages"].([]any); len(msgs) != 2 {
		t.Errorf("expected system and user messages, got %v", body["messages"])
	}
}

func TestAzure_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.URL.Path, "/openai/deployments/news-summarizer/chat/completions") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.URL.Query().Get("api-version") != "2024-06-01" {
			t.Errorf("unexpected api-version %q", r.URL.Query().Get("api-version"))
		}
		if r.Header.Get("Api-Key") != "azure-key" {
			t.Errorf("expected api-key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(chatCompletion))
	}))
	defer ts.Close()

	c, err := New(Config{Provider: "azure", APIKey: "azure-key", Endpoint: ts.URL, Model: "news-summarizer"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := c.Complete(context.Background(), Request{Prompt: "summarize"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestAnthropic_Complete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/v1/messages") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("X-Api-Key") != "ak-test" {
			t.Errorf("missing api key header")
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(anthropicMessage))
	}))
	defer ts.Close()

	c, err := New(Config{Provider: "anthropic", APIKey: "ak-test", BaseURL: ts.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Complete(context.Background(), Request{System: "be terse", Prompt: "summarize"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != `{"headline":"ok"}` {
		t.Errorf("expected text blocks to be joined, got %q", got)
	}
}

func TestComplete_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusTooManyRequests, ErrRateLimited},
		{http.StatusInternalServerError, ErrUnavailable},
		{http.StatusServiceUnavailable, ErrUnavailable},
		{http.StatusBadRequest, ErrRejected},
		{http.StatusUnauthorized, ErrRejected},
	}

	for _, provider := range []string{"openai", "anthropic"} {
		for _, tt := range tests {
			ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"type":"error","error":{"type":"api_error","message":"nope"}}`))
			}))

			c, err := New(Config{Provider: provider, APIKey: "k", BaseURL: ts.URL})
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			_, err = c.Complete(context.Background(), Request{Prompt: "p"})
			if !errors.Is(err, tt.want) {
				t.Errorf("%s status %d: expected %v, got %v", provider, tt.status, tt.want, err)
			}
			ts.Close()
		}
	}
}

func TestComplete_EmptyCompletionIsNotAnError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`))
	}))
	defer ts.Close()

	c, _ := New(Config{Provider: "openai", APIKey: "k", BaseURL: ts.URL})
	got, err := c.Complete(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("empty output is left to the caller to judge, got %v", err)
	}
	if got != "" {
		t.Errorf("expected empty completion, got %q", got)
	}
}

func TestComplete_Timeouts(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(time.Second):
		}
	}))
	defer ts.Close()

	c, _ := New(Config{Provider: "openai", APIKey: "k", BaseURL: ts.URL, Timeout: 30 * time.Millisecond})
	if _, err := c.Complete(context.Background(), Request{Prompt: "p"}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("per-call timeout should be unavailable, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Complete(ctx, Request{Prompt: "p"})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		t.Errorf("caller cancellation should surface as context.Canceled, got %v", err)
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []Config{
		{Provider: "openai"},
		{Provider: "anthropic"},
		{Provider: "azure", APIKey: "k", Endpoint: "https://x.openai.azure.com"},
		{Provider: "bard", APIKey: "k"},
	}
	for _, cfg := range tests {
		if _, err := New(cfg); err == nil {
			t.Errorf("expected error for %+v", cfg)
		}
	}
}
