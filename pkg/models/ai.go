// Package models contains shared data models used across the content backend.
package models

import "context"

// AIProvider is the core interface that all text-generation integrations must implement.
// Callers depend on this interface, never on a concrete provider package.
type AIProvider interface {
	// GenerateText sends a single prompt and returns the raw model text.
	GenerateText(ctx context.Context, req TextRequest) (TextResponse, error)
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string
}

// TextRequest is the input to a text generation call.
type TextRequest struct {
	Prompt      string
	System      string
	Temperature *float64
	MaxTokens   int
	Stop        []string
	// JSON asks providers that support it to constrain output to JSON.
	JSON bool
}

// TextResponse is the output of a text generation call. TokensUsed is 0 when
// the provider reports no usage metadata.
type TextResponse struct {
	Text       string
	TokensUsed int
	Model      string
}
