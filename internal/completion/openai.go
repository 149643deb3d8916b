package completion

import (
	"context"
	"fmt"
	"iter"
	"log/slog"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIClient talks to the OpenAI chat completions API or any compatible
// endpoint, such as Gemini's, selected through baseURL.
type OpenAIClient struct {
	client openai.Client
	model  string
}

func NewOpenAIClient(apiKey, baseURL, model string, opts ...option.RequestOption) *OpenAIClient {
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(baseURL))
	}
	reqOpts = append(reqOpts, opts...)

	return &OpenAIClient{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

func (c *OpenAIClient) Model() string {
	return c.model
}

func (c *OpenAIClient) buildMessages(history []Turn, input string) []openai.ChatCompletionMessageParamUnion {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+1)
	for _, turn := range history {
		switch turn.Role {
		case RoleAssistant:
			messages = append(messages, openai.AssistantMessage(turn.Content))
		default:
			messages = append(messages, openai.UserMessage(turn.Content))
		}
	}
	return append(messages, openai.UserMessage(input))
}

func (c *OpenAIClient) Stream(ctx context.Context, history []Turn, input string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		params := openai.ChatCompletionNewParams{
			Model:               openai.ChatModel(c.model),
			Messages:            c.buildMessages(history, input),
			Temperature:         openai.Float(Temperature),
			MaxCompletionTokens: openai.Int(MaxOutputTokens),
		}

		stream := c.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			if delta := chunk.Choices[0].Delta.Content; delta != "" {
				if !yield(delta, nil) {
					return
				}
			}
		}

		if err := stream.Err(); err != nil {
			slog.Error("openai error: chat completion stream failed", "model", c.model, "error", err)
			yield("", fmt.Errorf("%w: %v", ErrCompletion, err))
		}
	}
}
