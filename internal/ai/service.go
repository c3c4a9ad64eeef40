package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/tommypj/ai-content-saas-backend/internal/ai/transport"
	"github.com/tommypj/ai-content-saas-backend/internal/retry"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// Options tunes ContentService. A zero Timeout, MaxAttempts or DefaultLocale
// falls back to the defaults below; a negative RetryBase does too.
type Options struct {
	Timeout       time.Duration
	MaxAttempts   int
	RetryBase     time.Duration
	Temperature   *float64
	DefaultLocale string
	Logger        *slog.Logger
}

const (
	defaultTimeout     = 30 * time.Second
	defaultMaxAttempts = 3
	defaultRetryBase   = 500 * time.Millisecond
	defaultLocale      = "en"
)

// Usage describes the provider call that produced a result.
type Usage struct {
	TokensUsed int
	Model      string
}

// Output is the result of a typed generation.
type Output struct {
	Result models.Result
	Usage
}

// ContentService turns typed job inputs into typed results through a
// models.AIProvider. Every provider call is bounded by a timeout and retried
// on transient errors.
type ContentService struct {
	provider models.AIProvider
	opts     Options
	logger   *slog.Logger
}

// NewContentService creates a ContentService.
func NewContentService(provider models.AIProvider, opts Options) *ContentService {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.RetryBase < 0 {
		opts.RetryBase = defaultRetryBase
	}
	if opts.DefaultLocale == "" {
		opts.DefaultLocale = defaultLocale
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ContentService{provider: provider, opts: opts, logger: logger}
}

// ProviderName returns the name of the underlying provider.
func (s *ContentService) ProviderName() string { return s.provider.Name() }

// GenerateText calls the provider once per attempt, each under its own
// timeout. Transient failures are retried with exponential backoff; anything
// else is returned at once.
func (s *ContentService) GenerateText(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	if req.Temperature == nil {
		req.Temperature = s.opts.Temperature
	}

	var resp models.TextResponse
	policy := retry.Policy{
		MaxAttempts: s.opts.MaxAttempts,
		Backoff:     retry.Exponential(s.opts.RetryBase),
		Retryable:   isRetryable,
		Notify: func(err error, wait time.Duration) {
			s.logger.WarnContext(ctx, "provider call failed, retrying",
				"provider", s.provider.Name(), "error", err, "wait", wait)
		},
	}
	err := retry.Do(ctx, policy, func(int) error {
		var err error
		resp, err = s.callWithTimeout(ctx, req)
		return err
	})
	if err != nil {
		return models.TextResponse{}, err
	}
	return resp, nil
}

type callResult struct {
	resp models.TextResponse
	err  error
}

// callWithTimeout returns when the provider does or when the deadline passes,
// whichever comes first. The provider sees the cancelled context either way.
// A provider panic is returned as a *PanicError.
func (s *ContentService) callWithTimeout(ctx context.Context, req models.TextRequest) (models.TextResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	done := make(chan callResult, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- callResult{err: &PanicError{Value: rec, Stack: debug.Stack()}}
			}
		}()
		resp, err := s.provider.GenerateText(callCtx, req)
		done <- callResult{resp: resp, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return models.TextResponse{}, fmt.Errorf("%w after %s: %w", ErrInferenceTimeout, s.opts.Timeout, r.err)
		}
		return r.resp, r.err
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return models.TextResponse{}, ctx.Err()
		}
		return models.TextResponse{}, fmt.Errorf("%w after %s: %w", ErrInferenceTimeout, s.opts.Timeout, callCtx.Err())
	}
}

func isRetryable(err error) bool {
	return errors.Is(err, ErrInferenceTimeout) || transport.IsTransient(err)
}

// Generate runs the typed operation for in.Kind().
func (s *ContentService) Generate(ctx context.Context, in models.Input) (*Output, error) {
	var (
		res   models.Result
		usage Usage
		err   error
	)
	switch v := in.(type) {
	case models.KeywordsInput:
		res, usage, err = s.Keywords(ctx, v)
	case models.ArticleInput:
		res, usage, err = s.Article(ctx, v)
	case models.SEOInput:
		res, usage, err = s.SEO(ctx, v)
	case models.MetaInput:
		res, usage, err = s.Meta(ctx, v)
	case models.ImageInput:
		res, usage, err = s.Image(ctx, v)
	case models.HashtagsInput:
		res, usage, err = s.Hashtags(ctx, v)
	default:
		return nil, fmt.Errorf("unsupported input %T", in)
	}
	if err != nil {
		return nil, err
	}
	return &Output{Result: res, Usage: usage}, nil
}

func (s *ContentService) Keywords(ctx context.Context, in models.KeywordsInput) (models.KeywordsResult, Usage, error) {
	m, usage, err := s.complete(ctx, in)
	if err != nil {
		return models.KeywordsResult{}, usage, err
	}
	return normalizeKeywords(in, m), usage, nil
}

func (s *ContentService) Article(ctx context.Context, in models.ArticleInput) (models.ArticleResult, Usage, error) {
	m, usage, err := s.complete(ctx, in)
	if err != nil {
		return models.ArticleResult{}, usage, err
	}
	return normalizeArticle(in, m), usage, nil
}

func (s *ContentService) SEO(ctx context.Context, in models.SEOInput) (models.SEOResult, Usage, error) {
	m, usage, err := s.complete(ctx, in)
	if err != nil {
		return models.SEOResult{}, usage, err
	}
	return normalizeSEO(m), usage, nil
}

func (s *ContentService) Meta(ctx context.Context, in models.MetaInput) (models.MetaResult, Usage, error) {
	m, usage, err := s.complete(ctx, in)
	if err != nil {
		return models.MetaResult{}, usage, err
	}
	return normalizeMeta(in, m), usage, nil
}

func (s *ContentService) Image(ctx context.Context, in models.ImageInput) (models.ImageResult, Usage, error) {
	m, usage, err := s.complete(ctx, in)
	if err != nil {
		return models.ImageResult{}, usage, err
	}
	return normalizeImage(in, m), usage, nil
}

func (s *ContentService) Hashtags(ctx context.Context, in models.HashtagsInput) (models.HashtagsResult, Usage, error) {
	m, usage, err := s.complete(ctx, in)
	if err != nil {
		return models.HashtagsResult{}, usage, err
	}
	return normalizeHashtags(m), usage, nil
}

// complete checks preconditions, calls the provider and parses its JSON.
// Usage is filled whenever the provider answered, including parse failures.
func (s *ContentService) complete(ctx context.Context, in models.Input) (map[string]any, Usage, error) {
	if err := in.Require(); err != nil {
		return nil, Usage{}, &PreconditionError{Err: err}
	}

	req, err := buildPrompt(in, s.opts.DefaultLocale)
	if err != nil {
		return nil, Usage{}, err
	}

	resp, err := s.GenerateText(ctx, req)
	if err != nil {
		return nil, Usage{}, err
	}
	usage := Usage{TokensUsed: max(resp.TokensUsed, 0), Model: resp.Model}

	m, err := ParseJSON(resp.Text)
	if err != nil {
		var pe *ResponseParseError
		if errors.As(err, &pe) {
			pe.TokensUsed = usage.TokensUsed
			pe.Model = usage.Model
		}
		return nil, usage, err
	}
	return m, usage, nil
}
