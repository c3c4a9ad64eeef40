package mock

import (
	"context"
	"sync"

	"github.com/tommypj/ai-content-saas-backend/internal/ai"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// MockProvider satisfies models.AIProvider for testing. It records every
// request it receives.
type MockProvider struct {
	Name_            string
	GenerateTextFunc func(ctx context.Context, req models.TextRequest) (models.TextResponse, error)

	mu       sync.Mutex
	requests []models.TextRequest
}

func (m *MockProvider) Name() string { return m.Name_ }

func (m *MockProvider) GenerateText(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.GenerateTextFunc != nil {
		return m.GenerateTextFunc(ctx, req)
	}
	return models.TextResponse{Text: "{}", Model: "mock-v1"}, nil
}

// Calls returns how many times GenerateText was invoked.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// Requests returns a copy of the recorded requests.
func (m *MockProvider) Requests() []models.TextRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.TextRequest(nil), m.requests...)
}

// NewMockProvider returns a MockProvider that answers every call with text.
func NewMockProvider(text string, tokens int) *MockProvider {
	return &MockProvider{
		Name_: "mock",
		GenerateTextFunc: func(_ context.Context, _ models.TextRequest) (models.TextResponse, error) {
			return models.TextResponse{Text: text, TokensUsed: tokens, Model: "mock-v1"}, nil
		},
	}
}

// NewSequenceProvider returns a MockProvider that answers the n-th call with
// the n-th step, repeating the last step once the sequence is exhausted.
func NewSequenceProvider(steps ...Step) *MockProvider {
	m := &MockProvider{Name_: "mock"}
	var (
		mu sync.Mutex
		i  int
	)
	m.GenerateTextFunc = func(_ context.Context, _ models.TextRequest) (models.TextResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if len(steps) == 0 {
			return models.TextResponse{}, nil
		}
		step := steps[min(i, len(steps)-1)]
		i++
		if step.Err != nil {
			return models.TextResponse{}, step.Err
		}
		return models.TextResponse{Text: step.Text, TokensUsed: step.Tokens, Model: "mock-v1"}, nil
	}
	return m
}

// Step is one scripted response of a sequence provider.
type Step struct {
	Text   string
	Tokens int
	Err    error
}

// NewFailingProvider returns a MockProvider that always returns the given error.
func NewFailingProvider(err error) *MockProvider {
	return &MockProvider{
		Name_: "mock-failing",
		GenerateTextFunc: func(_ context.Context, _ models.TextRequest) (models.TextResponse, error) {
			return models.TextResponse{}, err
		},
	}
}

// NewTimeoutProvider returns a MockProvider that blocks until context is cancelled.
func NewTimeoutProvider() *MockProvider {
	return &MockProvider{
		Name_: "mock-timeout",
		GenerateTextFunc: func(ctx context.Context, _ models.TextRequest) (models.TextResponse, error) {
			<-ctx.Done()
			return models.TextResponse{}, ai.ErrInferenceTimeout
		},
	}
}

// Compile-time check that MockProvider implements AIProvider.
var _ models.AIProvider = (*MockProvider)(nil)
