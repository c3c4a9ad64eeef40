package anthropic

import (
	"context"
	"strings"

	"github.com/tommypj/ai-content-saas-backend/internal/ai/transport"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

const (
	name             = "anthropic"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Provider implements models.AIProvider using the Anthropic Messages API.
type Provider struct {
	baseURL string
	apiKey  string
	model   string
	client  *transport.Client
}

func NewProvider(cfg config.AnthropicConfig) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		client:  transport.NewClient(name, 0),
	}
}

func (p *Provider) Name() string { return name }

func (p *Provider) GenerateText(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	body := messagesRequest{
		Model:         p.model,
		System:        req.System,
		MaxTokens:     req.MaxTokens,
		Temperature:   req.Temperature,
		StopSequences: req.Stop,
		Messages:      []message{{Role: "user", Content: req.Prompt}},
	}
	// max_tokens is mandatory on this API.
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": apiVersion,
	}

	var resp messagesResponse
	if err := p.client.PostJSON(ctx, p.baseURL+"/v1/messages", headers, body, &resp); err != nil {
		return models.TextResponse{}, err
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return models.TextResponse{}, &transport.ProviderError{Provider: name, Message: "no text content in response"}
	}

	out := models.TextResponse{
		Text:       text.String(),
		Model:      resp.Model,
		TokensUsed: resp.Usage.InputTokens + resp.Usage.OutputTokens,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	return out, nil
}

// --- Messages API wire types ---

type messagesRequest struct {
	Model         string    `json:"model"`
	System        string    `json:"system,omitempty"`
	Messages      []message `json:"messages"`
	MaxTokens     int       `json:"max_tokens"`
	Temperature   *float64  `json:"temperature,omitempty"`
	StopSequences []string  `json:"stop_sequences,omitempty"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

var _ models.AIProvider = (*Provider)(nil)
