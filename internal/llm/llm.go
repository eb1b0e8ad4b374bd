package llm

import (
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/comigor/forkchat/internal/config"
)

// NewClient creates a new OpenAI client. Any OpenAI-compatible endpoint
// (Ollama, vLLM, ...) works through base_url; provider "azure" switches to
// Azure OpenAI authentication.
func NewClient(cfg config.LLMConfig) *openai.Client {
	var config openai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "azure":
		config = openai.DefaultAzureConfig(cfg.APIKey, cfg.BaseURL)
	default:
		config = openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			config.BaseURL = cfg.BaseURL
		}
	}

	return openai.NewClientWithConfig(config)
}
