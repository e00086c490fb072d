// Package llm provides chat completions for prompt translation, requirement
// extraction, and backlog card drafting.
//
// Defines a Provider interface with OpenAI and Ollama implementations. The
// Gateway on top of it owns the prompts, the JSON parsing, and the retry
// policy, so providers stay mechanical transports.
package llm

import (
	"context"
	"strings"
	"time"
)

// Provider executes a single chat completion and returns the raw assistant
// message content.
type Provider interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// CompletionRequest describes one chat completion call.
type CompletionRequest struct {
	System      string
	User        string
	Temperature float64
	// JSONMode asks the model to emit a single JSON object where the API
	// supports enforcing it.
	JSONMode bool
}

// perCallTimeout is the maximum time for a single chat completion call.
// Separate from the request's overall context so one slow call doesn't
// consume the whole request deadline.
const perCallTimeout = 15 * time.Second

// stripJSONFences removes a Markdown code fence around a JSON payload.
// Models occasionally wrap JSON in ```json blocks even when asked not to.
func stripJSONFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
