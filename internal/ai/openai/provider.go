package openai

import (
	"context"
	"strings"

	"github.com/tommypj/ai-content-saas-backend/internal/ai/transport"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// Provider implements models.AIProvider against the OpenAI chat completions
// API. Any OpenAI-compatible server works when BaseURL points at it.
type Provider struct {
	name    string
	baseURL string
	apiKey  string
	model   string
	client  *transport.Client
}

func NewProvider(cfg config.OpenAIConfig) *Provider {
	return NewCompatible("openai", cfg.BaseURL, cfg.APIKey, cfg.Model)
}

// NewCompatible returns a Provider reporting itself as name. An empty apiKey
// sends no Authorization header.
func NewCompatible(name, baseURL, apiKey, model string) *Provider {
	return &Provider{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  transport.NewClient(name, 0),
	}
}

func (p *Provider) Name() string { return p.name }

func (p *Provider) GenerateText(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	body := chatRequest{
		Model:       p.model,
		Temperature: req.Temperature,
		Stop:        req.Stop,
	}
	if req.MaxTokens > 0 {
		body.MaxTokens = req.MaxTokens
	}
	if req.System != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: req.System})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.Prompt})
	if req.JSON {
		body.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	headers := map[string]string{}
	if p.apiKey != "" {
		headers["Authorization"] = "Bearer " + p.apiKey
	}

	var resp chatResponse
	if err := p.client.PostJSON(ctx, p.baseURL+"/v1/chat/completions", headers, body, &resp); err != nil {
		return models.TextResponse{}, err
	}
	if len(resp.Choices) == 0 {
		return models.TextResponse{}, &transport.ProviderError{Provider: p.name, Message: "no choices in response"}
	}

	out := models.TextResponse{
		Text:  resp.Choices[0].Message.Content,
		Model: resp.Model,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	if resp.Usage != nil {
		out.TokensUsed = resp.Usage.TotalTokens
	}
	return out, nil
}

// --- Chat completions wire types ---

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    *float64        `json:"temperature,omitempty"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stop           []string        `json:"stop,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

var _ models.AIProvider = (*Provider)(nil)
