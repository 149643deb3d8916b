package completion

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/openai"
)

const (
	ProviderOpenAI   = "openai"
	ProviderGoogleAI = "googleai"
)

// LangChainClient streams through a langchaingo model, which lets the server
// talk to Gemini natively rather than through an OpenAI-compatible endpoint.
type LangChainClient struct {
	llm   llms.Model
	model string
}

func NewLangChainClient(ctx context.Context, provider, apiKey, model string) (*LangChainClient, error) {
	var llm llms.Model
	var err error

	switch provider {
	case ProviderOpenAI:
		llm, err = openai.New(openai.WithToken(apiKey), openai.WithModel(model))
	case ProviderGoogleAI:
		llm, err = googleai.New(ctx, googleai.WithAPIKey(apiKey), googleai.WithDefaultModel(model))
	default:
		return nil, fmt.Errorf("completion provider %s not supported", provider)
	}
	if err != nil {
		return nil, fmt.Errorf("could not create %s client: %w", provider, err)
	}

	return newLangChainClient(llm, model), nil
}

func newLangChainClient(llm llms.Model, model string) *LangChainClient {
	return &LangChainClient{llm: llm, model: model}
}

func (c *LangChainClient) Model() string {
	return c.model
}

func buildMessageContent(history []Turn, input string) []llms.MessageContent {
	messages := make([]llms.MessageContent, 0, len(history)+1)
	for _, turn := range history {
		role := llms.ChatMessageTypeHuman
		if turn.Role == RoleAssistant {
			// googleai sends this as the "model" role.
			role = llms.ChatMessageTypeAI
		}
		messages = append(messages, llms.TextParts(role, turn.Content))
	}
	return append(messages, llms.TextParts(llms.ChatMessageTypeHuman, input))
}

func (c *LangChainClient) Stream(ctx context.Context, history []Turn, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		chunks := make(chan string)
		done := make(chan error, 1)

		go func() {
			defer close(chunks)
			_, err := c.llm.GenerateContent(ctx, buildMessageContent(history, input),
				llms.WithTemperature(Temperature),
				llms.WithMaxTokens(MaxOutputTokens),
				llms.WithStreamingFunc(func(ctx context.Context, chunk []byte) error {
					select {
					case chunks <- string(chunk):
						return nil
					case <-ctx.Done():
						return ctx.Err()
					}
				}),
			)
			done <- err
		}()

		for chunk := range chunks {
			if chunk == "" {
				continue
			}
			if !yield(chunk, nil) {
				return
			}
		}

		if err := <-done; err != nil {
			slog.Error("langchain error: content generation failed", "model", c.model, "error", err)
			yield("", fmt.Errorf("%w: %v", ErrCompletion, err))
		}
	}
}
