package main

import (
	"context"
	"strings"

	"github.com/suPer8Hu/orion-chat/internal/ai"
	"github.com/suPer8Hu/orion-chat/internal/config"
)

// newRegistry registers every provider the service can route to. The one
// named by AI_PROVIDER is used for chat and titles.
func newRegistry(cfg config.Config) *ai.Registry {
	reg := ai.NewRegistry()

	reg.Register("openai", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, ai.LangchainOptions{
			Model:       strings.TrimSpace(model),
			Temperature: cfg.AITemperature,
			MaxTokens:   cfg.AIMaxTokens,
		})
	})

	reg.Register("ollama", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOllamaProvider(cfg.OllamaBaseURL, strings.TrimSpace(model)), nil
	})

	reg.Register("openrouter", func(ctx context.Context, model string) (ai.Provider, error) {
		return ai.NewOpenRouterProvider(
			cfg.OpenRouterBaseURL,
			cfg.OpenRouterAPIKey,
			strings.TrimSpace(model),
			cfg.OpenRouterSiteURL,
			cfg.OpenRouterAppName,
		), nil
	})

	return reg
}
