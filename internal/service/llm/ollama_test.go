package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProviderComplete(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": `{"labels":[]}`},
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "qwen2.5:3b")
	out, err := p.Complete(context.Background(), CompletionRequest{
		System:      "extract",
		User:        "I need a POS",
		Temperature: 0.2,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"labels":[]}`, out)

	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.InDelta(t, 0.2, got.Options.Temperature, 1e-9)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
}

func TestOllamaProviderPlainMode(t *testing.T) {
	var got ollamaChatRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message": map[string]string{"content": "translated"},
		})
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "qwen2.5:3b")
	out, err := p.Complete(context.Background(), CompletionRequest{User: "hola"})
	require.NoError(t, err)
	assert.Equal(t, "translated", out)
	assert.Empty(t, got.Format, "format omitted outside JSON mode")
}

func TestOllamaProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer server.Close()

	p := NewOllamaProvider(server.URL, "missing-model")
	_, err := p.Complete(context.Background(), CompletionRequest{User: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestOllamaProviderDefaultBaseURL(t *testing.T) {
	p := NewOllamaProvider("", "qwen2.5:3b")
	assert.Equal(t, "http://localhost:11434", p.baseURL)
}
