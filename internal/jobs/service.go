// Package jobs implements job submission and owner-scoped job queries.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tommypj/ai-content-saas-backend/internal/store"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

var (
	ErrUnauthorized    = errors.New("unauthorized")
	ErrUnsupportedType = errors.New("unsupported job type")
	ErrInvalidBody     = errors.New("request body must be a JSON object")
	ErrInvalidID       = errors.New("invalid job id")
	// ErrNotFound covers both missing jobs and jobs owned by someone else.
	ErrNotFound = errors.New("job not found")
)

const defaultViewTTL = time.Hour

// ViewCache holds owner views of terminal jobs. *cache.RedisCache implements it.
type ViewCache interface {
	GetJobView(ctx context.Context, jobID uuid.UUID, userID string) (*models.JobView, bool, error)
	SetJobView(ctx context.Context, view *models.JobView, ttl time.Duration) error
}

type Service struct {
	store   store.Store
	cache   ViewCache
	viewTTL time.Duration
	logger  *slog.Logger
}

// NewService creates a Service. c may be nil, which disables view caching.
func NewService(st store.Store, c ViewCache, viewTTL time.Duration, logger *slog.Logger) *Service {
	if viewTTL <= 0 {
		viewTTL = defaultViewTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: st, cache: c, viewTTL: viewTTL, logger: logger}
}

// SupportedTypes returns the accepted job types as strings.
func SupportedTypes() []string {
	out := make([]string, len(models.JobTypes))
	for i, t := range models.JobTypes {
		out[i] = string(t)
	}
	return out
}

// Submit creates a PENDING job from a request body of the form
// {"type": ..., ...payload}. Every field other than type is stored verbatim
// as the payload. No generation happens here.
func (s *Service) Submit(ctx context.Context, principal string, body []byte) (uuid.UUID, error) {
	if principal == "" {
		return uuid.Nil, ErrUnauthorized
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return uuid.Nil, ErrInvalidBody
	}

	var typeName string
	if raw, ok := fields["type"]; ok {
		if err := json.Unmarshal(raw, &typeName); err != nil {
			return uuid.Nil, s.unsupported(string(raw))
		}
	}
	jobType := models.JobType(typeName)
	if !jobType.Valid() {
		return uuid.Nil, s.unsupported(typeName)
	}
	delete(fields, "type")

	payload, err := json.Marshal(fields)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode payload: %w", err)
	}

	job, err := s.store.CreateJob(ctx, store.NewJob{UserID: principal, Type: jobType, Payload: payload})
	if err != nil {
		return uuid.Nil, fmt.Errorf("create job: %w", err)
	}

	s.logger.InfoContext(ctx, "job submitted", "job_id", job.ID, "job_type", job.Type, "user_id", principal)
	return job.ID, nil
}

func (s *Service) unsupported(got string) error {
	return fmt.Errorf("%w %q: supported types are %s", ErrUnsupportedType, got, strings.Join(SupportedTypes(), ", "))
}

// Get returns the owner view of a job. Jobs owned by another principal are
// reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, principal, rawID string) (*models.JobView, error) {
	if principal == "" {
		return nil, ErrUnauthorized
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, ErrInvalidID
	}

	if s.cache != nil {
		view, found, err := s.cache.GetJobView(ctx, id, principal)
		if err != nil {
			s.logger.WarnContext(ctx, "job view cache read failed", "job_id", id, "error", err)
		} else if found {
			return view, nil
		}
	}

	job, err := s.store.GetUserJob(ctx, id, principal)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}

	view := job.View()
	if s.cache != nil && job.Status.Terminal() {
		if err := s.cache.SetJobView(ctx, view, s.viewTTL); err != nil {
			s.logger.WarnContext(ctx, "job view cache write failed", "job_id", id, "error", err)
		}
	}
	return view, nil
}
