package llm

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/forkchat/internal/tree"
)

// Client is the part of *openai.Client the generator calls; tests swap in a mock.
type Client interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Generator produces the next assistant message for a conversation path.
// Implementations may block, fail or time out; they never see the tree.
type Generator interface {
	Generate(ctx context.Context, path []tree.PathMessage) (string, error)
}
