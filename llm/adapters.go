package llm

import (
	"fmt"
	"strings"
)

// NewProvider creates a provider based on the configuration.
// If Provider is empty, it will be inferred from the Model name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	// Infer provider from model name if not specified
	if cfg.Provider == "" && cfg.Model != "" {
		cfg.Provider = InferProviderFromModel(cfg.Model)

		if cfg.Provider == "" {
			return nil, fmt.Errorf("cannot determine provider for model %q; set provider explicitly", cfg.Model)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	compat := OpenAICompatConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		ProviderName: cfg.Provider,
		Timeout:      cfg.timeout(),
	}

	switch cfg.Provider {
	case "groq":
		return NewGroqProvider(compat)

	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.timeout(),
		})

	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Timeout:   cfg.timeout(),
		})

	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
		})

	case "mistral":
		return NewMistralProvider(compat)

	case "openrouter":
		return NewOpenRouterProvider(compat)

	case "ollama":
		return NewOllamaLocalProvider(compat)

	case "openai-compat":
		// Generic OpenAI-compatible endpoint
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", cfg.Provider)
		}
		return NewOpenAICompatProvider(compat)

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
}

// SupportedProviders lists the names accepted by NewProvider.
var SupportedProviders = []string{"groq", "openai", "anthropic", "google", "mistral", "openrouter", "ollama", "openai-compat"}

// IsSupportedProvider reports whether name is accepted by NewProvider.
func IsSupportedProvider(name string) bool {
	for _, p := range SupportedProviders {
		if p == name {
			return true
		}
	}
	return false
}

// InferProviderFromModel returns the provider name based on model name patterns.
// Open-weight models (llama, mixtral, gemma, deepseek distills) default to Groq.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "llama"),
		strings.HasPrefix(model, "meta-llama/"),
		strings.HasPrefix(model, "mixtral"),
		strings.HasPrefix(model, "gemma"),
		strings.HasPrefix(model, "deepseek-r1-distill"),
		strings.HasPrefix(model, "qwen"):
		return "groq"
	case strings.HasPrefix(model, "mistral"),
		strings.HasPrefix(model, "codestral"):
		return "mistral"
	}
	return ""
}

// HidesReasoning reports whether the model emits reasoning that should be
// suppressed for short answers.
func HidesReasoning(model string) bool {
	return strings.Contains(strings.ToLower(model), "deepseek")
}
