// Package memory provides an in-process implementation of store.Store with
// the same claim semantics as the Postgres store. It backs unit tests and
// local runs without a database.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tommypj/ai-content-saas-backend/internal/store"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

type Store struct {
	mu   sync.Mutex
	seq  int64
	jobs map[uuid.UUID]*entry
	keys map[uuid.UUID]*models.APIKey
	now  func() time.Time

	// PingErr, when set, is returned by Ping.
	PingErr error
}

type entry struct {
	seq int64
	job models.Job
}

func New() *Store {
	return &Store{
		jobs: make(map[uuid.UUID]*entry),
		keys: make(map[uuid.UUID]*models.APIKey),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

func (s *Store) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.RevokedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[id]; ok {
		now := s.now()
		k.LastUsedAt = &now
	}
	return nil
}

func (s *Store) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if _, ok := s.keys[key.ID]; ok {
		return store.ErrDuplicateKey
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = s.now()
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func (s *Store) ListAPIKeys(_ context.Context, userID string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.APIKey
	for _, k := range s.keys {
		if k.UserID == userID && k.RevokedAt == nil {
			cp := *k
			out = append(out, &cp)
		}
	}
	slices.SortFunc(out, func(a, b *models.APIKey) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out, nil
}

func (s *Store) RevokeAPIKey(_ context.Context, id uuid.UUID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k, ok := s.keys[id]
	if !ok || k.UserID != userID || k.RevokedAt != nil {
		return store.ErrNotFound
	}
	now := s.now()
	k.RevokedAt = &now
	return nil
}

func (s *Store) CreateJob(_ context.Context, nj store.NewJob) (*models.Job, error) {
	payload := nj.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("create job: payload is not valid JSON")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	now := s.now()
	e := &entry{
		seq: s.seq,
		job: models.Job{
			ID:        uuid.New(),
			UserID:    nj.UserID,
			Type:      nj.Type,
			Status:    models.JobStatusPending,
			Payload:   slices.Clone(payload),
			CreatedAt: now,
			UpdatedAt: now,
		},
	}
	s.jobs[e.job.ID] = e
	return copyJob(&e.job), nil
}

func (s *Store) GetJob(_ context.Context, id uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return copyJob(&e.job), nil
}

func (s *Store) GetUserJob(_ context.Context, id uuid.UUID, userID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.job.UserID != userID {
		return nil, store.ErrNotFound
	}
	return copyJob(&e.job), nil
}

func (s *Store) ClaimOldestPending(_ context.Context, types []models.JobType, instanceID string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next *entry
	for _, e := range s.jobs {
		j := &e.job
		if j.Status != models.JobStatusPending || !slices.Contains(types, j.Type) {
			continue
		}
		if j.ClaimedBy != nil && *j.ClaimedBy != instanceID {
			continue
		}
		if next == nil || older(e, next) {
			next = e
		}
	}
	if next == nil {
		return nil, nil
	}

	now := s.now()
	owner := instanceID
	next.job.Status = models.JobStatusRunning
	next.job.ClaimedBy = &owner
	next.job.ClaimedAt = &now
	next.job.UpdatedAt = now
	return copyJob(&next.job), nil
}

func older(a, b *entry) bool {
	if c := a.job.CreatedAt.Compare(b.job.CreatedAt); c != 0 {
		return c < 0
	}
	return a.seq < b.seq
}

func (s *Store) RecordAttempt(_ context.Context, id uuid.UUID, upd store.AttemptUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.job.Status != models.JobStatusRunning {
		return store.ErrNotClaimed
	}
	e.job.Attempt = upd.Attempt
	e.job.Error = copyError(upd.Error)
	e.job.TokensUsed += max(upd.TokensUsedDelta, 0)
	e.job.UpdatedAt = s.now()
	return nil
}

func (s *Store) UpdateTerminal(_ context.Context, id uuid.UUID, upd store.TerminalUpdate) (*models.Job, error) {
	if !upd.Status.Terminal() {
		return nil, fmt.Errorf("update terminal: %q is not a terminal status", upd.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok || e.job.Status != models.JobStatusRunning {
		return nil, store.ErrNotClaimed
	}
	j := &e.job
	j.Status = upd.Status
	if upd.Status == models.JobStatusSucceeded {
		j.Result = slices.Clone(upd.Result)
		j.Error = nil
	} else {
		j.Result = nil
		j.Error = copyError(upd.Error)
	}
	if upd.Model != "" {
		model := upd.Model
		j.Model = &model
	}
	j.Attempt = upd.Attempt
	j.TokensUsed += max(upd.TokensUsedDelta, 0)
	j.UpdatedAt = s.now()
	return copyJob(j), nil
}

func (s *Store) ReleaseClaims(_ context.Context, instanceID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, e := range s.jobs {
		j := &e.job
		if j.Status == models.JobStatusRunning && j.ClaimedBy != nil && *j.ClaimedBy == instanceID {
			j.Status = models.JobStatusPending
			j.UpdatedAt = s.now()
			n++
		}
	}
	return n, nil
}

// Put stores job as is, replacing any job with the same id. Tests use it to
// seed rows in states the public operations cannot produce directly.
func (s *Store) Put(job *models.Job) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = s.now()
	}
	s.jobs[job.ID] = &entry{seq: s.seq, job: *copyJob(job)}
}

func copyJob(j *models.Job) *models.Job {
	cp := *j
	cp.Payload = slices.Clone(j.Payload)
	cp.Result = slices.Clone(j.Result)
	cp.Error = copyError(j.Error)
	if j.Model != nil {
		m := *j.Model
		cp.Model = &m
	}
	if j.ClaimedBy != nil {
		c := *j.ClaimedBy
		cp.ClaimedBy = &c
	}
	if j.ClaimedAt != nil {
		t := *j.ClaimedAt
		cp.ClaimedAt = &t
	}
	return &cp
}

func copyError(e *models.JobError) *models.JobError {
	if e == nil {
		return nil
	}
	cp := *e
	return &cp
}

var _ store.Store = (*Store)(nil)
