package store

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicateKey = errors.New("duplicate key violation")
	// ErrUnavailable wraps failures to reach the database at all.
	ErrUnavailable = errors.New("store unavailable")
	// ErrNotClaimed is returned when a runner writes to a job that is no
	// longer RUNNING.
	ErrNotClaimed = errors.New("job is not running")
)

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error)
	RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error

	// CreateJob inserts a PENDING job and returns it with its assigned id.
	CreateJob(ctx context.Context, job NewJob) (*models.Job, error)
	GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error)
	// GetUserJob returns ErrNotFound both for missing jobs and for jobs owned
	// by another user.
	GetUserJob(ctx context.Context, id uuid.UUID, userID string) (*models.Job, error)

	// ClaimOldestPending atomically moves the oldest PENDING job of one of the
	// given types, unclaimed or previously claimed by instanceID, to RUNNING.
	// It returns (nil, nil) when no job matches.
	ClaimOldestPending(ctx context.Context, types []models.JobType, instanceID string) (*models.Job, error)
	// RecordAttempt stores the outcome of a failed attempt on a RUNNING job.
	RecordAttempt(ctx context.Context, id uuid.UUID, upd AttemptUpdate) error
	// UpdateTerminal moves a RUNNING job to SUCCEEDED or FAILED.
	UpdateTerminal(ctx context.Context, id uuid.UUID, upd TerminalUpdate) (*models.Job, error)
	// ReleaseClaims returns the RUNNING jobs held by instanceID to PENDING.
	// claimed_by is kept so only the same instance can pick them up again.
	ReleaseClaims(ctx context.Context, instanceID string) (int64, error)
}

// NewJob is the draft of a job as submitted.
type NewJob struct {
	UserID  string
	Type    models.JobType
	Payload json.RawMessage
}

// AttemptUpdate describes one failed attempt.
type AttemptUpdate struct {
	Attempt         int
	Error           *models.JobError
	TokensUsedDelta int64
}

// TerminalUpdate is the final write of a job. Result is set for SUCCEEDED,
// Error for FAILED. TokensUsedDelta is added to the stored counter; negative
// deltas are ignored.
type TerminalUpdate struct {
	Status          models.JobStatus
	Result          json.RawMessage
	Error           *models.JobError
	Model           string
	Attempt         int
	TokensUsedDelta int64
}
