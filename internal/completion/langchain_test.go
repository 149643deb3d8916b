package completion

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

type fakeModel struct {
	chunks   []string
	err      error
	messages []llms.MessageContent
	options  llms.CallOptions
}

func (m *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.messages = messages
	for _, opt := range options {
		opt(&m.options)
	}

	for _, chunk := range m.chunks {
		if err := m.options.StreamingFunc(ctx, []byte(chunk)); err != nil {
			return nil, err
		}
	}
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{}, nil
}

func (m *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return "", errors.New("not implemented")
}

func TestLangChainStream(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hel", "", "lo"}}
	client := newLangChainClient(model, "gemini-2.5-flash")

	history := []Turn{
		{Role: RoleUser, Content: "hi"},
		{Role: RoleAssistant, Content: "hello!"},
	}

	var fragments []string
	for delta, err := range client.Stream(context.Background(), history, "again") {
		require.NoError(t, err)
		fragments = append(fragments, delta)
	}

	assert.Equal(t, []string{"Hel", "lo"}, fragments)
	assert.Equal(t, "gemini-2.5-flash", client.Model())

	require.Len(t, model.messages, 3)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeAI, model.messages[1].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, model.messages[2].Role)
	assert.Equal(t, llms.TextContent{Text: "again"}, model.messages[2].Parts[0])

	assert.InDelta(t, Temperature, model.options.Temperature, 1e-9)
	assert.Equal(t, MaxOutputTokens, model.options.MaxTokens)
}

func TestLangChainStreamKeepsPartialTextOnError(t *testing.T) {
	model := &fakeModel{chunks: []string{"Hel"}, err: errors.New("connection reset")}
	client := newLangChainClient(model, "gpt-4o")

	var fragments []string
	var errs []error
	for delta, err := range client.Stream(context.Background(), nil, "hi") {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		fragments = append(fragments, delta)
	}

	assert.Equal(t, []string{"Hel"}, fragments)
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrCompletion)
	assert.Contains(t, errs[0].Error(), "connection reset")
}

func TestLangChainStreamStopsEarly(t *testing.T) {
	model := &fakeModel{chunks: []string{"a", "b", "c"}}
	client := newLangChainClient(model, "gpt-4o")

	count := 0
	for _, err := range client.Stream(context.Background(), nil, "hi") {
		require.NoError(t, err)
		count++
		break
	}
	assert.Equal(t, 1, count)
}

func TestNewLangChainClientRejectsUnknownProvider(t *testing.T) {
	_, err := NewLangChainClient(context.Background(), "bedrock", "key", "model")
	assert.Error(t, err)
}
