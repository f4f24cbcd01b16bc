// Package llm provides the boundary to the external generative model: a
// typed request/response contract, provider clients (ollama, openai,
// anthropic), a circuit breaker, rate limiting, and a reply parser that
// fails closed. Everything past this boundary treats the model as an
// opaque text-completion service.
package llm

import (
	"context"
	"errors"
)

// ErrModelUnavailable marks every failure mode of the model boundary:
// transport errors, timeouts, open circuit, and malformed replies. The
// orchestrator keys its fallback path off this sentinel.
var ErrModelUnavailable = errors.New("model unavailable")

// CompletionRequest is one request to the generative model.
type CompletionRequest struct {
	// SystemPrompt frames the model's role and rules.
	SystemPrompt string

	// UserPrompt carries the turn-specific content.
	UserPrompt string

	// MaxTokens bounds the completion length.
	MaxTokens int

	// Temperature controls sampling randomness.
	Temperature float64

	// Cacheable marks requests whose responses may be cached.
	Cacheable bool
}

// TokenUsage reports the token cost of a completion.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
}

// CompletionResponse is the model's reply.
type CompletionResponse struct {
	Text  string     `json:"text"`
	Usage TokenUsage `json:"usage"`
}

// Narrator generates text completions.
type Narrator interface {
	// Complete sends a completion request and returns the reply.
	// All failures are reported as errors wrapping ErrModelUnavailable.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the configured model name.
	Model() string
}

// EmbeddingGenerator generates vector embeddings for text.
type EmbeddingGenerator interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the configured model name.
	Model() string
}
