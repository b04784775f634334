package cmd

import (
	"fmt"
	"os"

	"github.com/mediloop/mediloop/internal/config"
	"github.com/mediloop/mediloop/internal/embeddings"
	"github.com/mediloop/mediloop/internal/llm"
)

// loadConfig loads and validates the config, with a hint when missing.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w\nRun `mediloop init` to create a config file", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// createProvider builds the LLM provider for the given model using the
// configured backend.
func createProvider(cfg *config.Config, model string) (llm.Provider, error) {
	provider, err := llm.NewProvider(string(cfg.Provider), model)
	if err != nil {
		return nil, err
	}
	if cfg.RequestsPerMinute > 0 {
		provider = llm.NewRateLimitedProvider(provider, cfg.RequestsPerMinute)
	}
	return provider, nil
}

// createEmbedder builds the configured embedder, or returns nil when
// embeddings are disabled.
func createEmbedder(cfg *config.Config) (embeddings.Embedder, error) {
	switch cfg.EmbeddingProvider {
	case "":
		return nil, nil
	case config.ProviderOpenAI:
		apiKey := os.Getenv(config.APIKeyEnvVar(config.ProviderOpenAI))
		if apiKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required for OpenAI embeddings")
		}
		return embeddings.NewOpenAIEmbedder(apiKey, embeddings.OpenAIModel(cfg.EmbeddingModel)), nil
	case config.ProviderOllama:
		return embeddings.NewOllamaEmbedder(cfg.EmbeddingModel, 768, os.Getenv("OLLAMA_HOST")), nil
	default:
		return nil, fmt.Errorf("provider %s has no embedding support", cfg.EmbeddingProvider)
	}
}
