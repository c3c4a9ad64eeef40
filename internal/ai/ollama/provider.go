package ollama

import (
	"context"
	"strings"

	"github.com/tommypj/ai-content-saas-backend/internal/ai/transport"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

const name = "ollama"

// Provider implements models.AIProvider using a local Ollama server.
type Provider struct {
	baseURL string
	model   string
	client  *transport.Client
}

func NewProvider(cfg config.OllamaConfig) *Provider {
	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  transport.NewClient(name, 0),
	}
}

func (p *Provider) Name() string { return name }

func (p *Provider) GenerateText(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	body := generateRequest{
		Model:  p.model,
		Prompt: req.Prompt,
		System: req.System,
		Stream: false,
		Options: generateOptions{
			Temperature: req.Temperature,
			Stop:        req.Stop,
		},
	}
	if req.MaxTokens > 0 {
		body.Options.NumPredict = req.MaxTokens
	}
	if req.JSON {
		body.Format = "json"
	}

	var resp generateResponse
	if err := p.client.PostJSON(ctx, p.baseURL+"/api/generate", nil, body, &resp); err != nil {
		return models.TextResponse{}, err
	}

	out := models.TextResponse{
		Text:       resp.Response,
		Model:      resp.Model,
		TokensUsed: resp.PromptEvalCount + resp.EvalCount,
	}
	if out.Model == "" {
		out.Model = p.model
	}
	return out, nil
}

// --- Ollama wire types ---

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	System  string          `json:"system,omitempty"`
	Format  string          `json:"format,omitempty"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type generateResponse struct {
	Model           string `json:"model"`
	Response        string `json:"response"`
	Done            bool   `json:"done"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

var _ models.AIProvider = (*Provider)(nil)
