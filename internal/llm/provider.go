// Package llm abstracts language-model backends behind a single provider
// capability. Concrete backends are discovered once at startup by probing
// configured credentials.
package llm

import "context"

// Provider is one configured language-model backend.
type Provider interface {
	// Name identifies the backend in votes and logs, e.g. "openai/gpt-4o".
	Name() string
	// Complete sends one system+user prompt pair and returns the raw text
	// reply.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}
