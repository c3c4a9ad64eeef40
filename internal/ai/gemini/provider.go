package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tommypj/ai-content-saas-backend/internal/ai/transport"
	"github.com/tommypj/ai-content-saas-backend/internal/config"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
	"google.golang.org/genai"
)

const name = "gemini"

// contentGenerator is the part of *genai.Models the provider uses.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Provider implements models.AIProvider using the Gemini API.
type Provider struct {
	models contentGenerator
	model  string
}

// NewProvider creates a Gemini client for cfg.
func NewProvider(ctx context.Context, cfg config.GeminiConfig) (*Provider, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Provider{models: client.Models, model: cfg.Model}, nil
}

func (p *Provider) Name() string { return name }

func (p *Provider) GenerateText(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	gc := &genai.GenerateContentConfig{
		StopSequences: req.Stop,
	}
	if req.System != "" {
		gc.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature != nil {
		t := float32(*req.Temperature)
		gc.Temperature = &t
	}
	if req.MaxTokens > 0 {
		gc.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		gc.ResponseMIMEType = "application/json"
	}

	resp, err := p.models.GenerateContent(ctx, p.model, genai.Text(req.Prompt), gc)
	if err != nil {
		return models.TextResponse{}, classifyError(err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return models.TextResponse{}, &transport.ProviderError{
				Provider: name,
				Code:     string(resp.PromptFeedback.BlockReason),
				Message:  "prompt blocked",
			}
		}
		return models.TextResponse{}, &transport.ProviderError{Provider: name, Message: "no content generated"}
	}

	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return models.TextResponse{}, &transport.ProviderError{
			Provider: name,
			Code:     string(cand.FinishReason),
			Message:  "content blocked by safety filters",
		}
	}

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part != nil {
			text.WriteString(part.Text)
		}
	}

	out := models.TextResponse{Text: text.String(), Model: resp.ModelVersion}
	if out.Model == "" {
		out.Model = p.model
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return out, nil
}

// classifyError maps SDK errors to transport.ProviderError so retry decisions
// do not depend on the provider.
func classifyError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &transport.ProviderError{
			Provider:   name,
			StatusCode: apiErr.Code,
			Code:       apiErr.Status,
			Message:    apiErr.Message,
			Err:        err,
		}
	}
	return &transport.ProviderError{Provider: name, Message: "request failed", Err: err}
}

var _ models.AIProvider = (*Provider)(nil)
