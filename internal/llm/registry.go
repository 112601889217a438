package llm

import (
	"time"

	"polyswarm/internal/config"
)

// Registry builds the provider table from configured credentials. A backend
// whose key is absent is simply excluded; running with zero providers is a
// valid configuration.
func Registry(cfg config.ModelsConfig, timeout time.Duration) []Provider {
	var providers []Provider

	if cfg.OpenAIKey != "" {
		providers = append(providers, NewOpenAICompatible(OpenAIOptions{
			Label:   "openai",
			BaseURL: "https://api.openai.com/v1",
			APIKey:  cfg.OpenAIKey,
			Model:   cfg.OpenAIModel,
			Timeout: timeout,
		}))
	}
	if cfg.AnthropicKey != "" {
		providers = append(providers, NewAnthropic(AnthropicOptions{
			APIKey:  cfg.AnthropicKey,
			Model:   cfg.AnthropicModel,
			Timeout: timeout,
		}))
	}
	if cfg.XAIKey != "" {
		providers = append(providers, NewOpenAICompatible(OpenAIOptions{
			Label:   "xai",
			BaseURL: "https://api.x.ai/v1",
			APIKey:  cfg.XAIKey,
			Model:   cfg.XAIModel,
			Timeout: timeout,
		}))
	}
	if cfg.DeepSeekKey != "" {
		providers = append(providers, NewOpenAICompatible(OpenAIOptions{
			Label:   "deepseek",
			BaseURL: "https://api.deepseek.com/v1",
			APIKey:  cfg.DeepSeekKey,
			Model:   cfg.DeepSeekModel,
			Timeout: timeout,
		}))
	}

	return providers
}
