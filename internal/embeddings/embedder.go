// Package embeddings provides text embedding backends used to index and
// retrieve patient history for consultation grounding.
package embeddings

import "context"

// Embedder turns text into dense vectors.
type Embedder interface {
	// Embed generates embeddings for one or more texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the number of dimensions in the embedding vectors.
	Dimensions() int

	// Name returns the name/identifier of the embedding model.
	Name() string
}
