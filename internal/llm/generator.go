package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"

	"github.com/comigor/forkchat/internal/config"
	"github.com/comigor/forkchat/internal/logger"
	"github.com/comigor/forkchat/internal/tree"
)

const defaultSystemPrompt = "You are a helpful AI assistant. Please respond to the user's request accurately and concisely."

// ErrEmptyCompletion is returned when the model answers without any text.
var ErrEmptyCompletion = errors.New("completion has no content")

// OpenAIGenerator generates replies through the chat completions API.
type OpenAIGenerator struct {
	client Client
	cfg    config.LLMConfig
}

var _ Generator = (*OpenAIGenerator)(nil)

func NewGenerator(client Client, cfg config.LLMConfig) *OpenAIGenerator {
	return &OpenAIGenerator{client: client, cfg: cfg}
}

// Model is the model name sent with every request.
func (g *OpenAIGenerator) Model() string {
	return g.cfg.Model
}

// Generate sends the system prompt followed by path and returns the first
// choice. It is bounded by the configured timeout when one is set.
func (g *OpenAIGenerator) Generate(ctx context.Context, path []tree.PathMessage) (string, error) {
	if g.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.cfg.Timeout)
		defer cancel()
	}

	systemPrompt := g.cfg.SystemPrompt
	if systemPrompt == "" {
		systemPrompt = defaultSystemPrompt
	}
	messages := make([]openai.ChatCompletionMessage, 0, len(path)+1)
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleSystem,
		Content: systemPrompt,
	})
	for _, m := range path {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    chatRole(m.Role),
			Content: m.Content,
		})
	}

	logger.L.Debug("requesting completion", "model", g.cfg.Model, "messages", len(messages))
	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.cfg.Model,
		Messages:    messages,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		return "", errors.Wrap(err, "chat completion")
	}
	if len(resp.Choices) == 0 {
		return "", errors.Wrap(ErrEmptyCompletion, "no choices")
	}

	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyCompletion
	}
	logger.L.Debug("completion received", "model", resp.Model, "total_tokens", resp.Usage.TotalTokens)
	return content, nil
}

func chatRole(r tree.Role) string {
	switch r {
	case tree.RoleAssistant:
		return openai.ChatMessageRoleAssistant
	case tree.RoleSystem:
		return openai.ChatMessageRoleSystem
	default:
		return openai.ChatMessageRoleUser
	}
}
