package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capturedRequest struct {
	Model               string  `json:"model"`
	Stream              bool    `json:"stream"`
	Temperature         float64 `json:"temperature"`
	MaxCompletionTokens int     `json:"max_completion_tokens"`
	Messages            []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func sseServer(t *testing.T, deltas []string, captured *capturedRequest) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(captured))

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for i, d := range deltas {
			chunk := map[string]any{
				"id":      "chunk",
				"object":  "chat.completion.chunk",
				"created": 1,
				"model":   captured.Model,
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": d}}},
			}
			data, _ := json.Marshal(chunk)
			fmt.Fprintf(w, "id: %d\ndata: %s\n\n", i, data)
			w.(http.Flusher).Flush()
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestOpenAIStream(t *testing.T) {
	var captured capturedRequest
	server := sseServer(t, []string{"Hel", "lo", " there"}, &captured)
	defer server.Close()

	client := NewOpenAIClient("test-key", server.URL, "gemini-2.5-flash", option.WithMaxRetries(0))

	history := []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello!"},
	}

	var fragments []string
	for delta, err := range client.Stream(context.Background(), history, "how are you") {
		require.NoError(t, err)
		fragments = append(fragments, delta)
	}

	assert.Equal(t, []string{"Hel", "lo", " there"}, fragments)

	assert.Equal(t, "gemini-2.5-flash", captured.Model)
	assert.True(t, captured.Stream)
	assert.InDelta(t, Temperature, captured.Temperature, 1e-9)
	assert.Equal(t, MaxOutputTokens, captured.MaxCompletionTokens)
	require.Len(t, captured.Messages, 3)
	assert.Equal(t, "user", captured.Messages[0].Role)
	assert.Equal(t, "hi", captured.Messages[0].Content)
	assert.Equal(t, "assistant", captured.Messages[1].Role)
	assert.Equal(t, "hello!", captured.Messages[1].Content)
	assert.Equal(t, "user", captured.Messages[2].Role)
	assert.Equal(t, "how are you", captured.Messages[2].Content)
}

func TestOpenAIStreamStopsEarly(t *testing.T) {
	var captured capturedRequest
	server := sseServer(t, []string{"a", "b", "c"}, &captured)
	defer server.Close()

	client := NewOpenAIClient("test-key", server.URL, "gpt-4o-mini", option.WithMaxRetries(0))

	var fragments []string
	for delta, err := range client.Stream(context.Background(), nil, "hi") {
		require.NoError(t, err)
		fragments = append(fragments, delta)
		break
	}
	assert.Equal(t, []string{"a"}, fragments)
}

func TestOpenAIStreamError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error": {"message": "quota exceeded", "type": "rate_limit"}}`)
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key", server.URL, "gpt-4o-mini", option.WithMaxRetries(0))

	var errs []error
	var fragments []string
	for delta, err := range client.Stream(context.Background(), nil, "hi") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fragments = append(fragments, delta)
	}

	assert.Empty(t, fragments)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrCompletion)
}
