package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// OpenAIOptions parameterise an OpenAI-compatible chat backend. Several
// vendors (OpenAI, xAI, DeepSeek) expose the same chat-completions surface,
// so one client type covers them all.
type OpenAIOptions struct {
	Label   string // short vendor label, e.g. "openai", "xai"
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// OpenAICompatible speaks the /chat/completions protocol.
type OpenAICompatible struct {
	opts    OpenAIOptions
	client  *http.Client
	baseURL string
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// NewOpenAICompatible constructs a chat-completions backend.
func NewOpenAICompatible(opts OpenAIOptions) *OpenAICompatible {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	return &OpenAICompatible{
		opts:    opts,
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// Name identifies the backend as label/model.
func (o *OpenAICompatible) Name() string {
	return o.opts.Label + "/" + o.opts.Model
}

// Complete performs one chat completion and returns the reply text.
func (o *OpenAICompatible) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if o.opts.APIKey == "" {
		return "", errors.New("api key not configured")
	}

	body, err := json.Marshal(chatRequest{
		Model: o.opts.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: userPrompt},
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshal chat request: %w", err)
	}

	endpoint := o.baseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+o.opts.APIKey)

	resp, err := o.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("send chat request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read chat response: %w", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(payload, &parsed); err != nil {
		return "", fmt.Errorf("decode chat response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		if parsed.Error != nil && parsed.Error.Message != "" {
			return "", fmt.Errorf("%s: %s (status %d)", o.Name(), parsed.Error.Message, resp.StatusCode)
		}
		return "", fmt.Errorf("%s: unexpected status %d", o.Name(), resp.StatusCode)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%s: empty choices", o.Name())
	}

	return parsed.Choices[0].Message.Content, nil
}

var _ Provider = (*OpenAICompatible)(nil)
