package ai

import "context"

// Embedder turns text into vectors for the semantic half of hybrid
// search. Implementations must be safe for concurrent use; the search
// engine and the ingestion pool share one instance.
type Embedder interface {
	// EmbedText embeds a single query string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts embeds a batch of documents, preserving input order.
	// A batch round-trips to the embedding server once, which is what
	// makes backfill over a large archive tolerable.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
