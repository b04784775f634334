package llm

import "context"

// Provider defines the interface for LLM providers.
type Provider interface {
	// Complete sends a completion request and returns the response.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)
	// CompleteStream sends a completion request and returns a channel of
	// incremental chunks. The channel is closed after the terminal chunk.
	// Cancelling ctx stops generation and closes the channel.
	CompleteStream(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
	// Name returns the name of this provider.
	Name() string
}
