// Package vllm serves generation from a self-hosted vLLM server through its
// OpenAI-compatible API.
package vllm

import (
	"github.com/tommypj/ai-content-saas-backend/internal/ai/openai"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
)

func NewProvider(cfg config.VLLMConfig) *openai.Provider {
	return openai.NewCompatible("vllm", cfg.BaseURL, "", cfg.Model)
}
