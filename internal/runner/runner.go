// Package runner claims pending jobs from the store and executes them
// through the generation adapter.
package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strconv"
	"sync"
	"time"

	"github.com/tommypj/ai-content-saas-backend/internal/ai"
	"github.com/tommypj/ai-content-saas-backend/internal/ai/transport"
	"github.com/tommypj/ai-content-saas-backend/internal/events"
	"github.com/tommypj/ai-content-saas-backend/internal/retry"
	"github.com/tommypj/ai-content-saas-backend/internal/store"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

const (
	defaultPollInterval = 1500 * time.Millisecond
	defaultMaxAttempts  = 3
	defaultCacheTTL     = time.Hour
	defaultReleaseEvery = time.Minute
	sideEffectTimeout   = 5 * time.Second

	// rawSnippetLimit caps the provider text kept on a failed job.
	rawSnippetLimit = 500
)

// Generator runs one typed generation. *ai.ContentService implements it.
type Generator interface {
	Generate(ctx context.Context, in models.Input) (*ai.Output, error)
	ProviderName() string
}

// ViewCache receives the owner view of every job the runner finishes.
type ViewCache interface {
	SetJobView(ctx context.Context, view *models.JobView, ttl time.Duration) error
}

type Options struct {
	InstanceID   string
	Types        []models.JobType
	MaxAttempts  int
	PollInterval time.Duration
	// ReleaseInterval is how often an idle runner returns its own stranded
	// RUNNING claims to PENDING. Defaults to one minute.
	ReleaseInterval time.Duration
	// Backoff returns the wait after a failed attempt, given the number of
	// attempts the job had used before it. Defaults to 300ms + n*300ms.
	Backoff   func(n int) time.Duration
	Publisher events.Publisher
	Cache     ViewCache
	CacheTTL  time.Duration
	Logger    *slog.Logger
}

// Runner polls the store and processes at most one job at a time.
type Runner struct {
	store store.Store
	gen   Generator
	opts  Options
	log   *slog.Logger

	// token is the single execution slot. A tick that cannot take it is a no-op.
	token chan struct{}
	wg    sync.WaitGroup
}

func New(st store.Store, gen Generator, opts Options) *Runner {
	if len(opts.Types) == 0 {
		opts.Types = models.JobTypes
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ReleaseInterval <= 0 {
		opts.ReleaseInterval = defaultReleaseEvery
	}
	if opts.Backoff == nil {
		opts.Backoff = retry.Linear(300*time.Millisecond, 300*time.Millisecond)
	}
	if opts.Publisher == nil {
		opts.Publisher = events.Noop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = defaultCacheTTL
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		store: st,
		gen:   gen,
		opts:  opts,
		log:   logger.With("instance_id", opts.InstanceID),
		token: make(chan struct{}, 1),
	}
}

// Run releases the claims this instance left behind and then ticks every
// PollInterval until ctx is cancelled. Every ReleaseInterval, while no job is
// in flight, it releases its claims again. It returns once the in-flight tick
// has finished.
func (r *Runner) Run(ctx context.Context) {
	r.ReleaseIdleClaims(ctx)

	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()
	release := time.NewTicker(r.opts.ReleaseInterval)
	defer release.Stop()

	r.log.InfoContext(ctx, "job runner started",
		"poll_interval", r.opts.PollInterval, "max_attempts", r.opts.MaxAttempts)

	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			r.log.Info("job runner stopped")
			return
		case <-release.C:
			r.ReleaseIdleClaims(ctx)
		case <-ticker.C:
			r.wg.Add(1)
			go func() {
				defer r.wg.Done()
				r.Tick(ctx)
			}()
		}
	}
}

// ReleaseIdleClaims returns this instance's RUNNING claims to PENDING. Such
// claims are stranded, for example by a failed terminal write, since the
// runner holds none while idle. It does nothing while a job is in flight.
func (r *Runner) ReleaseIdleClaims(ctx context.Context) {
	select {
	case r.token <- struct{}{}:
	default:
		return
	}
	defer func() { <-r.token }()

	n, err := r.store.ReleaseClaims(ctx, r.opts.InstanceID)
	if err != nil {
		r.log.WarnContext(ctx, "release claims failed", "error", err)
		return
	}
	if n > 0 {
		r.log.InfoContext(ctx, "released stranded claims", "count", n)
	}
}

// Tick claims and processes one job. It reports whether a job was processed
// and returns false at once when another tick holds the execution slot.
// A claimed job is processed to completion even if ctx is cancelled.
func (r *Runner) Tick(ctx context.Context) bool {
	select {
	case r.token <- struct{}{}:
	default:
		return false
	}
	defer func() { <-r.token }()

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("job runner tick panicked", "panic", rec, "stack", string(debug.Stack()))
		}
	}()

	if ctx.Err() != nil {
		return false
	}
	ctx = context.WithoutCancel(ctx)

	job, err := r.store.ClaimOldestPending(ctx, r.opts.Types, r.opts.InstanceID)
	if err != nil {
		r.log.ErrorContext(ctx, "claim job failed", "error", err)
		return false
	}
	if job == nil {
		return false
	}

	r.process(ctx, job)
	return true
}

// execution tracks a claimed job while it is processed.
type execution struct {
	job     *models.Job
	attempt int
	log     *slog.Logger
}

func (r *Runner) process(ctx context.Context, job *models.Job) {
	ex := &execution{
		job:     job,
		attempt: job.Attempt,
		log:     r.log.With("job_id", job.ID, "job_type", job.Type),
	}
	ex.log.InfoContext(ctx, "job claimed", "attempt", job.Attempt)

	defer func() {
		if rec := recover(); rec != nil {
			ex.log.ErrorContext(ctx, "job processing panicked", "panic", rec, "stack", string(debug.Stack()))
			r.failUncaught(ctx, ex, fmt.Sprint(rec))
		}
	}()

	if err := r.execute(ctx, ex); err != nil {
		if errors.Is(err, store.ErrNotClaimed) {
			ex.log.WarnContext(ctx, "job is no longer running", "error", err)
			return
		}
		ex.log.ErrorContext(ctx, "job processing failed", "error", err)
		r.failUncaught(ctx, ex, err.Error())
	}
}

func (r *Runner) execute(ctx context.Context, ex *execution) error {
	job := ex.job

	in, err := models.DecodeInput(job.Type, job.Payload)
	if err == nil {
		err = requireArticle(in)
	}
	if err != nil {
		return r.failPrecondition(ctx, ex, err)
	}

	remaining := r.opts.MaxAttempts - ex.attempt
	if remaining <= 0 {
		jerr := job.Error
		if jerr == nil {
			jerr = &models.JobError{
				Type:     models.JobErrorProvider,
				Provider: r.gen.ProviderName(),
				Message:  "attempts exhausted",
			}
		}
		return r.finish(ctx, ex, store.TerminalUpdate{
			Status:  models.JobStatusFailed,
			Error:   jerr,
			Attempt: r.opts.MaxAttempts,
		})
	}

	var (
		out       *ai.Output
		lastDelta int64
	)
	start := ex.attempt
	policy := retry.Policy{
		MaxAttempts: remaining,
		Backoff:     func(n int) time.Duration { return r.opts.Backoff(start + n) },
		Retryable:   isRetryableAttempt,
		Notify: func(err error, wait time.Duration) {
			ex.log.WarnContext(ctx, "job attempt failed, retrying",
				"attempt", ex.attempt, "error", err, "wait", wait)
		},
	}
	err = retry.Do(ctx, policy, func(int) error {
		ex.attempt++
		o, err := r.gen.Generate(ctx, in)
		if err == nil {
			out = o
			return nil
		}

		var precondition *ai.PreconditionError
		var panicked *ai.PanicError
		if errors.As(err, &precondition) || errors.As(err, &panicked) {
			return err
		}

		delta := attemptTokens(err)
		if ex.attempt >= r.opts.MaxAttempts {
			lastDelta = delta
			return err
		}
		if recErr := r.store.RecordAttempt(ctx, job.ID, store.AttemptUpdate{
			Attempt:         ex.attempt,
			Error:           r.providerError(err),
			TokensUsedDelta: delta,
		}); recErr != nil {
			return &storeError{err: recErr}
		}
		return err
	})

	var se *storeError
	var precondition *ai.PreconditionError
	var panicked *ai.PanicError
	switch {
	case err == nil:
		result, mErr := json.Marshal(out.Result)
		if mErr != nil {
			return fmt.Errorf("encode result: %w", mErr)
		}
		return r.finish(ctx, ex, store.TerminalUpdate{
			Status:          models.JobStatusSucceeded,
			Result:          result,
			Model:           out.Model,
			Attempt:         ex.attempt,
			TokensUsedDelta: int64(out.TokensUsed),
		})
	case errors.As(err, &se):
		return se.err
	case errors.As(err, &precondition):
		return r.failPrecondition(ctx, ex, err)
	case errors.As(err, &panicked):
		ex.log.ErrorContext(ctx, "provider panicked", "panic", panicked.Value, "stack", string(panicked.Stack))
		return err
	default:
		return r.finish(ctx, ex, store.TerminalUpdate{
			Status:          models.JobStatusFailed,
			Error:           r.providerError(err),
			Attempt:         r.opts.MaxAttempts,
			TokensUsedDelta: lastDelta,
		})
	}
}

// requireArticle enforces that jobs derived from an article carry both its
// title and its content.
func requireArticle(in models.Input) error {
	src, ok := in.(interface{ Source() models.ArticleRef })
	if !ok {
		return nil
	}
	return models.RequireArticle(in.Kind(), src.Source())
}

func (r *Runner) failPrecondition(ctx context.Context, ex *execution, cause error) error {
	if ex.attempt == ex.job.Attempt {
		ex.attempt++
	}
	return r.finish(ctx, ex, store.TerminalUpdate{
		Status: models.JobStatusFailed,
		Error: &models.JobError{
			Type:    models.JobErrorPrecondition,
			Message: cause.Error(),
		},
		Attempt: min(ex.attempt, r.opts.MaxAttempts),
	})
}

// failUncaught marks the job FAILED after an unexpected error. A failure to
// write the mark is logged and dropped.
func (r *Runner) failUncaught(ctx context.Context, ex *execution, msg string) {
	job, err := r.store.UpdateTerminal(ctx, ex.job.ID, store.TerminalUpdate{
		Status:  models.JobStatusFailed,
		Error:   &models.JobError{Type: models.JobErrorWorkerUncaught, Message: msg},
		Attempt: min(ex.attempt, r.opts.MaxAttempts),
	})
	if err != nil {
		ex.log.ErrorContext(ctx, "mark job failed", "error", err)
		return
	}
	r.announce(ctx, ex, job)
}

func (r *Runner) finish(ctx context.Context, ex *execution, upd store.TerminalUpdate) error {
	job, err := r.store.UpdateTerminal(ctx, ex.job.ID, upd)
	if err != nil {
		return fmt.Errorf("write terminal state: %w", err)
	}

	attrs := []any{"status", job.Status, "attempt", job.Attempt, "tokens_used", job.TokensUsed}
	if job.Status == models.JobStatusFailed && job.Error != nil {
		ex.log.WarnContext(ctx, "job failed", append(attrs, "error_type", job.Error.Type, "error", job.Error.Message)...)
	} else {
		ex.log.InfoContext(ctx, "job succeeded", attrs...)
	}

	r.announce(ctx, ex, job)
	return nil
}

// announce publishes the terminal job and primes the view cache. Both are
// best effort.
func (r *Runner) announce(ctx context.Context, ex *execution, job *models.Job) {
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()

	if err := r.opts.Publisher.PublishJob(ctx, job); err != nil {
		ex.log.WarnContext(ctx, "publish job event failed", "error", err)
	}
	if r.opts.Cache != nil {
		if err := r.opts.Cache.SetJobView(ctx, job.View(), r.opts.CacheTTL); err != nil {
			ex.log.WarnContext(ctx, "cache job view failed", "error", err)
		}
	}
}

// providerError builds the failure record for a generation error.
func (r *Runner) providerError(err error) *models.JobError {
	je := &models.JobError{
		Type:     models.JobErrorProvider,
		Provider: r.gen.ProviderName(),
		Message:  err.Error(),
	}

	var pe *transport.ProviderError
	var parseErr *ai.ResponseParseError
	switch {
	case errors.As(err, &parseErr):
		je.Code = "INVALID_RESPONSE"
		je.Raw = ai.Truncate(parseErr.Raw, rawSnippetLimit)
		je.ParseError = parseErr.Detail()
	case errors.Is(err, ai.ErrInferenceTimeout):
		je.Code = "TIMEOUT"
	case errors.As(err, &pe):
		je.Provider = pe.Provider
		je.Code = pe.Code
		if je.Code == "" && pe.StatusCode != 0 {
			je.Code = strconv.Itoa(pe.StatusCode)
		}
	}
	return je
}

// attemptTokens returns the usage of a failed attempt whose provider call
// succeeded but whose output could not be parsed.
func attemptTokens(err error) int64 {
	var parseErr *ai.ResponseParseError
	if errors.As(err, &parseErr) {
		return int64(max(parseErr.TokensUsed, 0))
	}
	return 0
}

// storeError stops the attempt loop when progress could not be persisted.
type storeError struct{ err error }

func (e *storeError) Error() string { return "record attempt: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func isRetryableAttempt(err error) bool {
	var precondition *ai.PreconditionError
	var panicked *ai.PanicError
	var se *storeError
	return !errors.As(err, &precondition) && !errors.As(err, &panicked) && !errors.As(err, &se)
}
