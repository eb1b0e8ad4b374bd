package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"

	"github.com/comigor/forkchat/internal/config"
	"github.com/comigor/forkchat/internal/tree"
)

type mockLLM struct {
	calls    []openai.ChatCompletionResponse
	err      error
	requests []openai.ChatCompletionRequest
	block    bool
}

func (m *mockLLM) CreateChatCompletion(ctx context.Context, r openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	m.requests = append(m.requests, r)
	if m.block {
		<-ctx.Done()
		return openai.ChatCompletionResponse{}, ctx.Err()
	}
	if m.err != nil {
		return openai.ChatCompletionResponse{}, m.err
	}
	if len(m.calls) == 0 {
		panic("mockLLM: no more responses configured for request: " + r.Messages[len(r.Messages)-1].Content)
	}
	resp := m.calls[0]
	m.calls = m.calls[1:]
	return resp, nil
}

func reply(content string) openai.ChatCompletionResponse {
	return openai.ChatCompletionResponse{
		Model:   "gpt",
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: content}}},
	}
}

var path = []tree.PathMessage{
	{Role: tree.RoleUser, Content: "Hi"},
	{Role: tree.RoleAssistant, Content: "Hello"},
	{Role: tree.RoleUser, Content: "Tell me a joke"},
}

func TestGenerate_SendsSystemPromptAndPath(t *testing.T) {
	m := &mockLLM{calls: []openai.ChatCompletionResponse{reply("Why did the gopher...")}}
	g := NewGenerator(m, config.LLMConfig{Model: "gpt", SystemPrompt: "Be funny.", Temperature: 0.5, MaxTokens: 100})

	out, err := g.Generate(context.Background(), path)
	require.NoError(t, err)
	require.Equal(t, "Why did the gopher...", out)
	require.Equal(t, "gpt", g.Model())

	require.Len(t, m.requests, 1)
	req := m.requests[0]
	require.Equal(t, "gpt", req.Model)
	require.InDelta(t, 0.5, req.Temperature, 1e-6)
	require.Equal(t, 100, req.MaxTokens)
	require.Equal(t, []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "Be funny."},
		{Role: openai.ChatMessageRoleUser, Content: "Hi"},
		{Role: openai.ChatMessageRoleAssistant, Content: "Hello"},
		{Role: openai.ChatMessageRoleUser, Content: "Tell me a joke"},
	}, req.Messages)
}

func TestGenerate_DefaultSystemPrompt(t *testing.T) {
	m := &mockLLM{calls: []openai.ChatCompletionResponse{reply("ok")}}
	_, err := NewGenerator(m, config.LLMConfig{Model: "gpt"}).Generate(context.Background(), path[:1])
	require.NoError(t, err)
	require.Equal(t, defaultSystemPrompt, m.requests[0].Messages[0].Content)
}

func TestGenerate_LLMError(t *testing.T) {
	m := &mockLLM{err: errors.New("rate limited")}
	_, err := NewGenerator(m, config.LLMConfig{Model: "gpt"}).Generate(context.Background(), path)
	require.ErrorContains(t, err, "rate limited")
}

func TestGenerate_EmptyCompletion(t *testing.T) {
	m := &mockLLM{calls: []openai.ChatCompletionResponse{{}, reply("   ")}}
	g := NewGenerator(m, config.LLMConfig{Model: "gpt"})

	_, err := g.Generate(context.Background(), path)
	require.True(t, errors.Is(err, ErrEmptyCompletion))
	_, err = g.Generate(context.Background(), path)
	require.True(t, errors.Is(err, ErrEmptyCompletion))
}

func TestGenerate_Timeout(t *testing.T) {
	m := &mockLLM{block: true}
	g := NewGenerator(m, config.LLMConfig{Model: "gpt", Timeout: 20 * time.Millisecond})

	_, err := g.Generate(context.Background(), path)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestNewClient(t *testing.T) {
	require.NotNil(t, NewClient(config.LLMConfig{APIKey: "k", BaseURL: "http://localhost:11434/v1"}))
	require.NotNil(t, NewClient(config.LLMConfig{Provider: "azure", APIKey: "k", BaseURL: "https://example.openai.azure.com"}))
}
