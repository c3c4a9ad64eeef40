package ai

import (
	"context"
	"fmt"

	"github.com/tommypj/ai-content-saas-backend/internal/ai/anthropic"
	"github.com/tommypj/ai-content-saas-backend/internal/ai/gemini"
	"github.com/tommypj/ai-content-saas-backend/internal/ai/ollama"
	"github.com/tommypj/ai-content-saas-backend/internal/ai/openai"
	"github.com/tommypj/ai-content-saas-backend/internal/ai/vllm"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// NewProvider constructs the appropriate AI provider based on config.
// Called once at server startup.
func NewProvider(ctx context.Context, cfg config.AIConfig) (models.AIProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewProvider(ctx, cfg.Gemini)
	case "openai":
		return openai.NewProvider(cfg.OpenAI), nil
	case "anthropic":
		return anthropic.NewProvider(cfg.Anthropic), nil
	case "ollama":
		return ollama.NewProvider(cfg.Ollama), nil
	case "vllm":
		return vllm.NewProvider(cfg.VLLM), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q: must be one of gemini, openai, anthropic, ollama, vllm", cfg.Provider)
	}
}
