package mekiki

import "context"

// EmbeddingProvider generates vector embeddings from text.
// When provided via WithEmbeddingProvider, replaces auto-detected Ollama/OpenAI/noop.
// Uses []float32 (not pgvector.Vector) to avoid forcing the pgvector dependency on
// external consumers. New() wraps it in an adapter for internal use.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// Completion describes one chat completion call made through a ChatProvider.
type Completion struct {
	System      string
	User        string
	Temperature float64
	// JSONMode asks the model to emit a single JSON object where the API
	// supports enforcing it.
	JSONMode bool
}

// ChatProvider executes chat completions for translation, requirement
// extraction, and backlog card drafting. When provided via WithChatProvider,
// replaces the auto-detected Ollama/OpenAI provider.
type ChatProvider interface {
	Complete(ctx context.Context, req Completion) (string, error)
}
