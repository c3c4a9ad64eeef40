package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tommypj/ai-content-saas-backend/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// --- API Keys ---

const apiKeyColumns = `id, user_id, name, key_hash, key_prefix, last_used_at, revoked_at, created_at`

func scanAPIKeys(rows pgx.Rows) ([]*models.APIKey, error) {
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.UserID, &k.Name, &k.KeyHash, &k.KeyPrefix,
			&k.LastUsedAt, &k.RevokedAt, &k.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_prefix = $1 AND revoked_at IS NULL`, prefix)
	if err != nil {
		return nil, classify("get api key by prefix", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return classify("update api key last used", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == uuid.Nil {
		key.ID = uuid.New()
	}
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, user_id, name, key_hash, key_prefix, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		key.ID, key.UserID, key.Name, key.KeyHash, key.KeyPrefix, key.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return classify("create api key", err)
	}
	return nil
}

func (s *PostgresStore) ListAPIKeys(ctx context.Context, userID string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE user_id = $1 AND revoked_at IS NULL ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, classify("list api keys", err)
	}
	return scanAPIKeys(rows)
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id uuid.UUID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET revoked_at = NOW() WHERE id = $1 AND user_id = $2 AND revoked_at IS NULL`, id, userID)
	if err != nil {
		return classify("revoke api key", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Jobs ---

const jobColumns = `id, user_id, type, status, payload, result, error, model, tokens_used, attempt,
	claimed_by, claimed_at, created_at, updated_at`

const jobColumnsQualified = `j.id, j.user_id, j.type, j.status, j.payload, j.result, j.error, j.model,
	j.tokens_used, j.attempt, j.claimed_by, j.claimed_at, j.created_at, j.updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j                      models.Job
		jobType, status        string
		payload, result, jerr []byte
	)
	if err := row.Scan(&j.ID, &j.UserID, &jobType, &status, &payload, &result, &jerr, &j.Model,
		&j.TokensUsed, &j.Attempt, &j.ClaimedBy, &j.ClaimedAt, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Type = models.JobType(jobType)
	j.Status = models.JobStatus(status)
	j.Payload = json.RawMessage(payload)
	if len(result) > 0 {
		j.Result = json.RawMessage(result)
	}
	if len(jerr) > 0 {
		var e models.JobError
		if err := json.Unmarshal(jerr, &e); err != nil {
			return nil, fmt.Errorf("decode job error: %w", err)
		}
		j.Error = &e
	}
	return &j, nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, nj NewJob) (*models.Job, error) {
	payload := []byte(nj.Payload)
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	row := s.pool.QueryRow(ctx,
		`INSERT INTO jobs (user_id, type, status, payload)
		 VALUES ($1, $2, 'PENDING', $3)
		 RETURNING `+jobColumns,
		nj.UserID, string(nj.Type), payload)
	job, err := scanJob(row)
	if err != nil {
		return nil, classify("create job", err)
	}
	return job, nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, classify("get job", err)
	}
	return job, nil
}

func (s *PostgresStore) GetUserJob(ctx context.Context, id uuid.UUID, userID string) (*models.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return nil, classify("get user job", err)
	}
	return job, nil
}

// ClaimOldestPending locks the oldest matching row with SKIP LOCKED and flips
// it to RUNNING in the same statement, so concurrent claimers never receive
// the same job.
func (s *PostgresStore) ClaimOldestPending(ctx context.Context, types []models.JobType, instanceID string) (*models.Job, error) {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}

	row := s.pool.QueryRow(ctx,
		`WITH next AS (
			SELECT id FROM jobs
			WHERE status = 'PENDING'
			  AND type = ANY($1)
			  AND (claimed_by IS NULL OR claimed_by = $2)
			ORDER BY created_at, seq
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET status = 'RUNNING', claimed_by = $2, claimed_at = NOW(), updated_at = NOW()
		FROM next
		WHERE j.id = next.id
		RETURNING `+jobColumnsQualified,
		names, instanceID)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("claim job", err)
	}
	return job, nil
}

func (s *PostgresStore) RecordAttempt(ctx context.Context, id uuid.UUID, upd AttemptUpdate) error {
	jerr, err := encodeJobError(upd.Error)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs
		 SET attempt = $2, error = $3, tokens_used = tokens_used + GREATEST($4::bigint, 0), updated_at = NOW()
		 WHERE id = $1 AND status = 'RUNNING'`,
		id, upd.Attempt, jerr, upd.TokensUsedDelta)
	if err != nil {
		return classify("record attempt", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotClaimed
	}
	return nil
}

func (s *PostgresStore) UpdateTerminal(ctx context.Context, id uuid.UUID, upd TerminalUpdate) (*models.Job, error) {
	if !upd.Status.Terminal() {
		return nil, fmt.Errorf("update terminal: %q is not a terminal status", upd.Status)
	}

	var (
		result []byte
		jerr   []byte
		err    error
	)
	if upd.Status == models.JobStatusSucceeded {
		result = []byte(upd.Result)
	} else if jerr, err = encodeJobError(upd.Error); err != nil {
		return nil, err
	}
	var model *string
	if upd.Model != "" {
		model = &upd.Model
	}

	row := s.pool.QueryRow(ctx,
		`UPDATE jobs
		 SET status = $2, result = $3, error = $4, model = COALESCE($5, model), attempt = $6,
		     tokens_used = tokens_used + GREATEST($7::bigint, 0), updated_at = NOW()
		 WHERE id = $1 AND status = 'RUNNING'
		 RETURNING `+jobColumns,
		id, string(upd.Status), result, jerr, model, upd.Attempt, upd.TokensUsedDelta)

	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotClaimed
	}
	if err != nil {
		return nil, classify("update terminal", err)
	}
	return job, nil
}

func (s *PostgresStore) ReleaseClaims(ctx context.Context, instanceID string) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = 'PENDING', updated_at = NOW()
		 WHERE status = 'RUNNING' AND claimed_by = $1`, instanceID)
	if err != nil {
		return 0, classify("release claims", err)
	}
	return tag.RowsAffected(), nil
}

func encodeJobError(e *models.JobError) ([]byte, error) {
	if e == nil {
		return nil, nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("encode job error: %w", err)
	}
	return b, nil
}

// classify maps pgx errors onto the store's sentinel errors. Failures that
// never reached the server are reported as ErrUnavailable.
func classify(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fmt.Errorf("%s: %w", op, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}

	var connErr *pgconn.ConnectError
	var netErr net.Error
	if errors.As(err, &connErr) || errors.As(err, &netErr) || pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
