package llm

import (
	"fmt"

	"github.com/fernwright/questweaver/internal/config"
)

// NewNarrator builds the configured narrator, wrapped with the rate
// limiter. Provider selection mirrors the config: ollama (default),
// openai, or anthropic.
func NewNarrator(cfg config.NarratorConfig) (Narrator, error) {
	var (
		narrator Narrator
		err      error
	)

	switch cfg.Provider {
	case "", "ollama":
		narrator = NewOllamaClient(OllamaConfig{
			BaseURL: cfg.OllamaURL,
			Model:   cfg.OllamaModel,
			Timeout: cfg.Timeout,
		})
	case "openai":
		narrator, err = NewOpenAIClient(OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Timeout,
		})
	case "anthropic":
		narrator, err = NewAnthropicClient(AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("unknown narrator provider: %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	return NewRateLimitedNarrator(narrator, cfg.RatePerMinute), nil
}

// NewEmbedder builds the embedding client. Embeddings always go through
// ollama regardless of narrator provider; a local embedding model keeps
// retrieval working even when the remote narrator is down.
func NewEmbedder(cfg config.NarratorConfig) EmbeddingGenerator {
	return NewOllamaEmbeddingClient(OllamaEmbeddingConfig{
		BaseURL: cfg.OllamaURL,
		Model:   cfg.EmbeddingModel,
	})
}
