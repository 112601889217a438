package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"polyswarm/internal/config"
)

func TestOpenAICompatibleComplete(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Messages) != 2 || req.Messages[0].Role != "system" {
			t.Fatalf("unexpected messages: %#v", req.Messages)
		}

		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": "DECISION: YES"}},
			},
		})
	}))
	defer srv.Close()

	p := NewOpenAICompatible(OpenAIOptions{
		Label: "openai", BaseURL: srv.URL, APIKey: "key", Model: "gpt-test", Timeout: time.Second,
	})

	reply, err := p.Complete(context.Background(), "system", "user")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "DECISION: YES" {
		t.Fatalf("reply: %q", reply)
	}
	if gotAuth != "Bearer key" {
		t.Fatalf("auth header: %q", gotAuth)
	}
}

func TestOpenAICompatibleErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": "rate limited"}})
	}))
	defer srv.Close()

	p := NewOpenAICompatible(OpenAIOptions{Label: "openai", BaseURL: srv.URL, APIKey: "key", Model: "m", Timeout: time.Second})
	if _, err := p.Complete(context.Background(), "s", "u"); err == nil {
		t.Fatal("non-200 status should error")
	}
}

func TestAnthropicComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/messages" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("x-api-key") != "key" {
			t.Fatalf("missing api key header")
		}
		if r.Header.Get("anthropic-version") == "" {
			t.Fatal("missing version header")
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"content": []map[string]string{{"type": "text", "text": "NO_TRADE: too uncertain"}},
		})
	}))
	defer srv.Close()

	p := NewAnthropic(AnthropicOptions{BaseURL: srv.URL, APIKey: "key", Model: "claude-test", Timeout: time.Second})
	reply, err := p.Complete(context.Background(), "s", "u")
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if reply != "NO_TRADE: too uncertain" {
		t.Fatalf("reply: %q", reply)
	}
}

func TestRegistryProbesCredentials(t *testing.T) {
	providers := Registry(config.ModelsConfig{}, time.Second)
	if len(providers) != 0 {
		t.Fatalf("no credentials should yield no providers, got %d", len(providers))
	}

	providers = Registry(config.ModelsConfig{
		OpenAIKey: "a", OpenAIModel: "m1",
		AnthropicKey: "b", AnthropicModel: "m2",
	}, time.Second)
	if len(providers) != 2 {
		t.Fatalf("expected 2 providers, got %d", len(providers))
	}
	if providers[0].Name() != "openai/m1" {
		t.Fatalf("provider name: %s", providers[0].Name())
	}
	if providers[1].Name() != "anthropic/m2" {
		t.Fatalf("provider name: %s", providers[1].Name())
	}
}
