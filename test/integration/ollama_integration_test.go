package integration

import (
	"context"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"

	"ai-booking-caller-be/pkg/chunker"
	"ai-booking-caller-be/pkg/llm"
	"ai-booking-caller-be/pkg/llm/ollama"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Streams a reply from a local Ollama server through the sentence chunker.
// Set OLLAMA_BASE_URL (and optionally OLLAMA_MODEL) to run.
func TestOllamaStreamChunks(t *testing.T) {
	baseURL := os.Getenv("OLLAMA_BASE_URL")
	if baseURL == "" {
		t.Skip("Skipping integration test: OLLAMA_BASE_URL not set")
	}
	model := os.Getenv("OLLAMA_MODEL")
	if model == "" {
		model = "gemma:2b"
	}

	resp, err := http.Get(baseURL + "/api/tags")
	if err != nil {
		t.Skipf("Skipping integration test: Ollama unreachable: %v", err)
	}
	resp.Body.Close()

	// Ollama can be slow on first request due to model loading
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	provider := ollama.NewOllamaProvider(baseURL, model)
	history := []llm.Message{
		{Role: "system", Content: "You are calling a dental office to book a cleaning for Alex. Speak in short sentences."},
		{Role: "user", Content: "Hi, this is Bright Smiles Dental. How can I help?"},
	}

	acc := chunker.NewAccumulator(30)
	var chunks []string
	var full strings.Builder
	for token, err := range provider.StreamChat(ctx, history) {
		require.NoError(t, err)
		full.WriteString(token)
		chunks = append(chunks, acc.Push(token)...)
	}
	if rest := acc.Flush(); rest != "" {
		chunks = append(chunks, rest)
	}

	require.NotEmpty(t, chunks)
	assert.Equal(t, strings.Join(strings.Fields(full.String()), ""), strings.Join(strings.Fields(strings.Join(chunks, "")), ""))
	t.Logf("Reply in %d chunks: %q", len(chunks), chunks)
}
