package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a job. Transitions are
// PENDING → RUNNING → SUCCEEDED | FAILED.
type JobStatus string

const (
	JobStatusPending   JobStatus = "PENDING"
	JobStatusRunning   JobStatus = "RUNNING"
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	JobStatusFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transition can leave s.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// JobType selects the generation operation a job runs.
type JobType string

const (
	JobTypeKeywords JobType = "KEYWORDS"
	JobTypeArticle  JobType = "ARTICLE"
	JobTypeSEO      JobType = "SEO"
	JobTypeMeta     JobType = "META"
	JobTypeImage    JobType = "IMAGE"
	JobTypeHashtags JobType = "HASHTAGS"
)

// JobTypes lists every supported job type in a stable order.
var JobTypes = []JobType{
	JobTypeKeywords,
	JobTypeArticle,
	JobTypeSEO,
	JobTypeMeta,
	JobTypeImage,
	JobTypeHashtags,
}

// Valid reports whether t is one of JobTypes.
func (t JobType) Valid() bool {
	for _, jt := range JobTypes {
		if jt == t {
			return true
		}
	}
	return false
}

// Error kinds recorded on failed jobs.
const (
	JobErrorProvider       = "PROVIDER"
	JobErrorPrecondition   = "PRECONDITION"
	JobErrorWorkerUncaught = "WORKER_UNCAUGHT"
)

// JobError is the structured failure record stored on a FAILED job.
type JobError struct {
	Type       string `json:"type"`
	Code       string `json:"code,omitempty"`
	Provider   string `json:"provider,omitempty"`
	Message    string `json:"message"`
	Raw        string `json:"raw,omitempty"`
	ParseError string `json:"parseError,omitempty"`
}

// Job is a unit of asynchronous generation work. Payload and Result hold the
// JSON encoding of the typed Input and Result variants for Type.
type Job struct {
	ID         uuid.UUID       `db:"id"          json:"id"`
	UserID     string          `db:"user_id"     json:"userId"`
	Type       JobType         `db:"type"        json:"type"`
	Status     JobStatus       `db:"status"      json:"status"`
	Payload    json.RawMessage `db:"payload"     json:"payload"`
	Result     json.RawMessage `db:"result"      json:"result,omitempty"`
	Error      *JobError       `db:"error"       json:"error,omitempty"`
	Model      *string         `db:"model"       json:"model,omitempty"`
	TokensUsed int64           `db:"tokens_used" json:"tokensUsed"`
	Attempt    int             `db:"attempt"     json:"attempt"`
	ClaimedBy  *string         `db:"claimed_by"  json:"claimedBy,omitempty"`
	ClaimedAt  *time.Time      `db:"claimed_at"  json:"claimedAt,omitempty"`
	CreatedAt  time.Time       `db:"created_at"  json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at"  json:"updatedAt"`
}

// JobView is the owner-facing projection returned by the query API.
type JobView struct {
	ID         uuid.UUID       `json:"id"`
	UserID     string          `json:"userId"`
	Type       JobType         `json:"type"`
	Status     JobStatus       `json:"status"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *JobError       `json:"error,omitempty"`
	TokensUsed *int64          `json:"tokensUsed,omitempty"`
	Model      *string         `json:"model,omitempty"`
}

// View projects j for its owner.
func (j *Job) View() *JobView {
	v := &JobView{
		ID:     j.ID,
		UserID: j.UserID,
		Type:   j.Type,
		Status: j.Status,
		Result: j.Result,
		Error:  j.Error,
		Model:  j.Model,
	}
	if j.TokensUsed > 0 {
		tokens := j.TokensUsed
		v.TokensUsed = &tokens
	}
	return v
}
